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

// This binary compares the cost of the binary and block-wise lane reductions over a range of
// vector sizes and writes the results as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	log "github.com/golang/glog"

	"github.com/CHALABI-CERINE/my-he-project/shared/utils"
	"github.com/CHALABI-CERINE/my-he-project/simulator/reductioncost"
)

var (
	sizes        = flag.String("sizes", "8,128,4096,8192,16384", "Comma-separated vector sizes.")
	blockSizes   = flag.String("block_sizes", "4,8,16,32", "Comma-separated block sizes. Only sizes below the vector size are tried.")
	rotationCost = flag.Int("rotation_cost", reductioncost.OfflineCosts.Rotation, "Relative cost of one rotation.")
	additionCost = flag.Int("addition_cost", reductioncost.OfflineCosts.Addition, "Relative cost of one addition.")
	outputDir    = flag.String("output_dir", "outputs", "Output directory for the JSON report, local or GCS.")
)

func main() {
	flag.Parse()

	ns, err := utils.ParseIntList(*sizes)
	if err != nil {
		log.Exit(err)
	}
	bs, err := utils.ParseIntList(*blockSizes)
	if err != nil {
		log.Exit(err)
	}

	rows := reductioncost.Sweep(ns, bs, reductioncost.Costs{Rotation: *rotationCost, Addition: *additionCost})
	for _, r := range rows {
		if r.Error != "" {
			log.Infof("N=%d %s: %s", r.N, r.Method, r.Error)
			continue
		}
		log.Infof("N=%d %s: rotations=%d score=%d %s", r.N, r.Method, r.Rotations, r.Score, r.Verdict)
	}

	output := utils.JoinPath(*outputDir, fmt.Sprintf("analysis_%d.json", time.Now().UnixMilli()))
	if err := utils.WriteJSON(context.Background(), rows, output); err != nil {
		log.Exit(err)
	}
	log.Infof("results saved in %s", output)
}
