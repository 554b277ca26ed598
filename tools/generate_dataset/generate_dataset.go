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

// This binary generates a CSV dataset of random values, one value per line.
package main

import (
	"context"
	"flag"
	"time"

	log "github.com/golang/glog"
	"golang.org/x/exp/rand"

	"github.com/CHALABI-CERINE/my-he-project/report/datasetutils"
)

var (
	count     = flag.Int("count", 1000000, "Number of values to generate.")
	minValue  = flag.Float64("min", 0, "Inclusive lower bound of the values.")
	maxValue  = flag.Float64("max", 10000, "Exclusive upper bound of the values.")
	precision = flag.Int("precision", 4, "Number of decimals.")
	seed      = flag.Uint64("seed", 0, "Seed of the generator. Zero uses the current time.")
	output    = flag.String("output", "data/big_data_1M.csv", "Output file, local or GCS.")
)

func main() {
	flag.Parse()

	start := time.Now()
	s := *seed
	if s == 0 {
		s = uint64(start.UnixNano())
	}
	values, err := datasetutils.GenerateValues(*count, *minValue, *maxValue, *precision, rand.NewSource(s))
	if err != nil {
		log.Exit(err)
	}
	if err := datasetutils.WriteDataset(context.Background(), values, *precision, *output); err != nil {
		log.Exit(err)
	}
	log.Infof("%d values written to %s in %v", len(values), *output, time.Since(start))
}
