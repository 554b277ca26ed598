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

// Package noisesimulator approximates the precision lost by CKKS encoding at a given scale, without
// running the scheme.
package noisesimulator

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
)

const (
	// NoiseMagnitude is the width of the simulated encoding error before scaling.
	NoiseMagnitude = 100
	// AcceptableMRE is the relative error, in percent, under which a scale is acceptable.
	AcceptableMRE = 0.01
)

// Result is the outcome of one simulated run.
type Result struct {
	ScaleBits    int
	RealAvg      float64
	NoisyAvg     float64
	MAE          float64
	MRE          float64
	IsAcceptable bool
}

// NewNoise returns the per-value error distribution for a scale of 2^scaleBits. A nil src uses
// the global source.
func NewNoise(scaleBits int, src rand.Source) distuv.Uniform {
	scale := math.Exp2(float64(scaleBits))
	return distuv.Uniform{
		Min: -NoiseMagnitude / 2 / scale,
		Max: NoiseMagnitude / 2 / scale,
		Src: src,
	}
}

// Simulate adds one uniform error per value and compares the noisy mean with the exact mean.
//
// MRE is in percent. When the exact mean is zero, MRE is +Inf unless there is no error at all,
// and the result is never acceptable.
func Simulate(values []float64, scaleBits int, src rand.Source) (*Result, error) {
	if len(values) == 0 {
		return nil, heerrors.Validationf("data", "must not be empty")
	}
	noise := NewNoise(scaleBits, src)

	var realSum, noisySum float64
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, heerrors.Validationf("data", "value %d is not finite", i)
		}
		realSum += v
		noisySum += v + noise.Rand()
	}
	n := float64(len(values))
	res := &Result{
		ScaleBits: scaleBits,
		RealAvg:   realSum / n,
		NoisyAvg:  noisySum / n,
	}
	res.MAE = math.Abs(res.RealAvg - res.NoisyAvg)
	switch {
	case res.RealAvg != 0:
		res.MRE = res.MAE / math.Abs(res.RealAvg) * 100
		res.IsAcceptable = res.MRE < AcceptableMRE
	case res.MAE == 0:
		res.MRE = 0
	default:
		res.MRE = math.Inf(1)
	}
	return res, nil
}

// SimulateScales runs Simulate once per scale.
func SimulateScales(values []float64, scales []int, src rand.Source) ([]*Result, error) {
	results := make([]*Result, 0, len(scales))
	for _, bits := range scales {
		res, err := Simulate(values, bits, src)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
