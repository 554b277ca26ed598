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

// This binary plays the data owner: it encrypts a dataset, has the aggregation server fold it and
// decrypts the sum and mean.
package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/golang/glog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/CHALABI-CERINE/my-he-project/encryption/ckksengine"
	"github.com/CHALABI-CERINE/my-he-project/encryption/cryptoio"
	"github.com/CHALABI-CERINE/my-he-project/pipeline/aggregationclient"
	"github.com/CHALABI-CERINE/my-he-project/pipeline/chunktransport"
	"github.com/CHALABI-CERINE/my-he-project/report/datasetutils"
	"github.com/CHALABI-CERINE/my-he-project/service/aggregatorservice"
	"github.com/CHALABI-CERINE/my-he-project/shared/utils"
)

var (
	serverAddress = flag.String("server_address", "http://localhost:4000", "Address of the aggregation server.")
	keyParamsFile = flag.String("key_params_file", "", "Key params written by create_key_pair. A temporary key pair is generated when empty.")
	preset        = flag.String("preset", ckksengine.PN13, "CKKS parameter preset of the temporary key pair.")
	logScale      = flag.Int("log_scale", 0, "Encoding scale in bits. Zero uses the default scale of the keys.")

	datasetURI = flag.String("dataset_uri", "", "Dataset to aggregate, local, GCS or HTTP. Random values are generated when empty.")
	count      = flag.Int("count", 100000, "Number of random values to generate.")
	seed       = flag.Uint64("seed", 0, "Seed of the random values. Zero uses the current time.")

	newSession = flag.Bool("new_session", true, "Whether to aggregate in a fresh server session instead of the default one.")
	batchWidth = flag.Int("batch_width", chunktransport.DefaultBatchWidth, "Number of concurrent chunk uploads.")
	retryMax   = flag.Int("retry_max", chunktransport.DefaultRetryMax, "Maximum number of retries per request.")
	resultFile = flag.String("result_file", "", "Output JSON file for the result, local or GCS.")
)

type report struct {
	Count          int     `json:"count"`
	Chunks         int     `json:"chunks"`
	Sum            float64 `json:"sum"`
	Mean           float64 `json:"mean"`
	ChunkMean      float64 `json:"chunkMean"`
	PlainSum       float64 `json:"plainSum"`
	RelativeError  float64 `json:"relativeError"`
	ElapsedMs      int64   `json:"elapsedMs"`
	Recommendation string  `json:"recommendation,omitempty"`
}

func newEngine(ctx context.Context) (*ckksengine.Engine, error) {
	if *keyParamsFile != "" {
		keyParams, err := cryptoio.ReadKeyParamsFile(ctx, *keyParamsFile)
		if err != nil {
			return nil, err
		}
		if *logScale > 0 {
			keyParams.LogScale = *logScale
		}
		return cryptoio.NewClientEngine(ctx, keyParams)
	}
	log.Warning("using a temporary key pair")
	params, err := ckksengine.NewParameters(*preset, *logScale)
	if err != nil {
		return nil, err
	}
	sk, pk := ckksengine.GenerateKeyPair(params)
	return ckksengine.New(*preset, *logScale, ckksengine.WithPublicKey(pk), ckksengine.WithSecretKey(sk))
}

func readValues(ctx context.Context) ([]float64, error) {
	if *datasetURI != "" {
		return datasetutils.ReadDataset(ctx, *datasetURI)
	}
	s := *seed
	if s == 0 {
		s = uint64(time.Now().UnixNano())
	}
	return datasetutils.GenerateValues(*count, 0, 10000, 4, rand.NewSource(s))
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	engine, err := newEngine(ctx)
	if err != nil {
		log.Exit(err)
	}
	values, err := readValues(ctx)
	if err != nil {
		log.Exit(err)
	}
	log.Infof("aggregating %d values with %d slots per chunk", len(values), engine.SlotCapacity())

	client := chunktransport.New(chunktransport.Config{
		BaseURL:    *serverAddress,
		BatchWidth: *batchWidth,
		RetryMax:   *retryMax,
	})
	if *newSession {
		if client, err = client.NewSession(ctx); err != nil {
			log.Exit(err)
		}
		defer func() {
			if err := client.DeleteSession(context.Background()); err != nil {
				log.Error(err)
			}
		}()
	}

	res, err := aggregationclient.Run(ctx, engine, client, values, aggregationclient.Options{LogScale: *logScale})
	if err != nil {
		log.Exit(err)
	}

	plainSum := floats.Sum(values)
	out := &report{
		Count:         res.Count,
		Chunks:        res.Chunks,
		Sum:           res.Sum,
		Mean:          res.Mean,
		ChunkMean:     res.ChunkMean,
		PlainSum:      plainSum,
		RelativeError: math.Abs(res.Sum-plainSum) / math.Max(math.Abs(plainSum), math.SmallestNonzeroFloat64),
		ElapsedMs:     res.Elapsed.Milliseconds(),
	}
	log.Infof("encrypted sum %v, plaintext sum %v, relative error %.3e", out.Sum, out.PlainSum, out.RelativeError)
	log.Infof("mean %v (server chunk mean %v)", out.Mean, out.ChunkMean)

	analysis, err := client.SimulateOptimizer(ctx, &aggregatorservice.OptimizerRequest{N: len(values), Slots: engine.SlotCapacity()})
	if err != nil {
		log.Error(err)
	} else {
		out.Recommendation = analysis.Recommendation
		log.Infof("recommended lane reduction: %s", analysis.Recommendation)
	}

	if *resultFile != "" {
		if err := utils.WriteJSON(ctx, out, *resultFile); err != nil {
			log.Exit(err)
		}
	}
}
