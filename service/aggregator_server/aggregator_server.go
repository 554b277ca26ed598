// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This binary hosts the encrypted aggregation service.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/profiler"
	log "github.com/golang/glog"

	"github.com/CHALABI-CERINE/my-he-project/encryption/ckksengine"
	"github.com/CHALABI-CERINE/my-he-project/service/accumulationstore"
	"github.com/CHALABI-CERINE/my-he-project/service/aggregatorservice"
)

var (
	address = flag.String("address", "", "Address of the server. Defaults to \":$PORT\", or \":4000\" when PORT is not set.")

	preset          = flag.String("preset", ckksengine.PN13, "CKKS parameter preset shared with the clients.")
	logScale        = flag.Int("log_scale", ckksengine.DefaultLogScale, "Default CKKS scale in bits.")
	releaseInterval = flag.Int("release_interval", accumulationstore.DefaultReleaseInterval, "Number of folded chunks between two memory release hints. Non-positive values disable the hints.")

	enableProfiler  = flag.Bool("enable_profiler", false, "Whether to start the Cloud Profiler agent.")
	profilerProject = flag.String("profiler_project", "", "GCP project of the Cloud Profiler. Detected from the environment when empty.")
	profilerService = flag.String("profiler_service", "he-aggregator", "Service name reported to the Cloud Profiler.")
	shutdownTimeout = flag.Duration("shutdown_timeout", 30*time.Second, "Time given to in-flight requests when the server stops.")

	version string // set by linker -X
	build   string // set by linker -X
)

func listenAddress() string {
	if *address != "" {
		return *address
	}
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":4000"
}

func main() {
	flag.Parse()

	buildDate := time.Unix(0, 0)
	if i, err := strconv.ParseInt(build, 10, 64); err != nil {
		log.Error(err)
	} else {
		buildDate = time.Unix(i, 0)
	}

	addr := listenAddress()
	log.Info("- Debugging enabled - \n")
	log.Infof("Aggregation server listening on address %q", addr)
	log.Infof("Running server version: %v, build: %v\n", version, buildDate)

	if *enableProfiler {
		if err := profiler.Start(profiler.Config{
			Service:        *profilerService,
			ServiceVersion: version,
			ProjectID:      *profilerProject,
		}); err != nil {
			log.Errorf("failed to start the profiler: %v", err)
		}
	}

	engine, err := ckksengine.New(*preset, *logScale)
	if err != nil {
		log.Exit(err)
	}
	info := engine.Info()
	log.Infof("CKKS preset %s: logN=%d, %d slots, scale 2^%d", info.Preset, info.LogN, info.Slots, info.LogDefaultScale)

	srv := &http.Server{
		Addr:              addr,
		Handler:           aggregatorservice.NewHandler(engine, accumulationstore.ReleaseInterval(*releaseInterval)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Create channel to listen for signals.
	signalChan := make(chan os.Signal, 1)
	// SIGINT handles Ctrl+C locally.
	// SIGTERM handles e.g. Cloud Run termination signal.
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Receive output from signalChan.
	sig := <-signalChan
	log.Infof("%s signal caught", sig)

	ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err)
	}
}
