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

// This binary measures the CKKS encryption error of a test value at several encoding scales, and
// compares it with the simulated error at the same scales.
package main

import (
	"context"
	"flag"
	"math"

	log "github.com/golang/glog"

	"github.com/CHALABI-CERINE/my-he-project/encryption/ckksengine"
	"github.com/CHALABI-CERINE/my-he-project/shared/utils"
	"github.com/CHALABI-CERINE/my-he-project/simulator/noisesimulator"
)

var (
	preset     = flag.String("preset", ckksengine.PN13, "CKKS parameter preset.")
	testValue  = flag.Float64("test_value", 123.456789, "Value to encrypt and decrypt.")
	scaleBits  = flag.String("scale_bits", "20,30,40,50", "Comma-separated scales, in bits, to try.")
	resultFile = flag.String("result_file", "", "Output JSON file for the measurements, local or GCS.")
)

type trial struct {
	ScaleBits     int     `json:"scaleBits"`
	Original      float64 `json:"original"`
	Decrypted     float64 `json:"decrypted"`
	AbsoluteError float64 `json:"absoluteError"`
	RelativeError float64 `json:"relativeError"`
	SimulatedMAE  float64 `json:"simulatedMae"`
	Error         string  `json:"error,omitempty"`
}

func measure(engine *ckksengine.Engine, value float64, bits int) (float64, error) {
	pt, err := engine.Encode([]float64{value}, bits)
	if err != nil {
		return 0, err
	}
	ct, err := engine.Encrypt(pt)
	if err != nil {
		return 0, err
	}
	dec, err := engine.Decrypt(ct)
	if err != nil {
		return 0, err
	}
	values, err := engine.Decode(dec)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

func main() {
	flag.Parse()

	scales, err := utils.ParseIntList(*scaleBits)
	if err != nil {
		log.Exit(err)
	}
	if len(scales) == 0 {
		log.Exit("no scale to try")
	}

	params, err := ckksengine.NewParameters(*preset, 0)
	if err != nil {
		log.Exit(err)
	}
	sk, pk := ckksengine.GenerateKeyPair(params)
	engine, err := ckksengine.New(*preset, 0, ckksengine.WithPublicKey(pk), ckksengine.WithSecretKey(sk))
	if err != nil {
		log.Exit(err)
	}

	simulated, err := noisesimulator.SimulateScales([]float64{*testValue}, scales, nil)
	if err != nil {
		log.Exit(err)
	}

	var trials []*trial
	for i, bits := range scales {
		t := &trial{ScaleBits: bits, Original: *testValue, SimulatedMAE: simulated[i].MAE}
		decrypted, err := measure(engine, *testValue, bits)
		if err != nil {
			t.Error = err.Error()
			log.Errorf("scale 2^%d: %v", bits, err)
		} else {
			t.Decrypted = decrypted
			t.AbsoluteError = math.Abs(decrypted - *testValue)
			if *testValue != 0 {
				t.RelativeError = t.AbsoluteError / math.Abs(*testValue) * 100
			}
			log.Infof("scale 2^%d: decrypted %v, absolute error %.3e, relative error %.3e%%, simulated %.3e",
				bits, decrypted, t.AbsoluteError, t.RelativeError, t.SimulatedMAE)
		}
		trials = append(trials, t)
	}

	if *resultFile != "" {
		if err := utils.WriteJSON(context.Background(), trials, *resultFile); err != nil {
			log.Exit(err)
		}
	}
}
