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

// Package datasetutils contains util functions for reading, writing and generating numeric datasets.
package datasetutils

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
	"github.com/CHALABI-CERINE/my-he-project/shared/utils"
)

var separators = regexp.MustCompile(`[\r\n,]+`)

// ParseValues extracts the numbers of a text where values are separated by newlines or commas.
// Tokens that are not finite numbers, such as a header, are skipped.
func ParseValues(text string) []float64 {
	var values []float64
	for _, tok := range separators.Split(text, -1) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		values = append(values, v)
	}
	return values
}

// ReadDataset reads the values of a local, GCS or HTTP file.
func ReadDataset(ctx context.Context, uri string) ([]float64, error) {
	b, err := utils.ReadBytes(ctx, uri)
	if err != nil {
		return nil, err
	}
	values := ParseValues(string(b))
	if len(values) == 0 {
		return nil, heerrors.Validationf("data", "no numeric value in %q", uri)
	}
	return values, nil
}

// WriteDataset writes one value per line with the given number of decimals.
func WriteDataset(ctx context.Context, values []float64, precision int, uri string) error {
	lines := make([]string, len(values))
	for i, v := range values {
		lines[i] = strconv.FormatFloat(v, 'f', precision, 64)
	}
	return utils.WriteLines(ctx, lines, uri)
}

// GenerateValues draws n values uniformly in [min, max) rounded to precision decimals. A nil src
// uses the global source.
func GenerateValues(n int, min, max float64, precision int, src rand.Source) ([]float64, error) {
	if n < 0 {
		return nil, heerrors.Validationf("count", "must be non-negative, got %d", n)
	}
	if !(min < max) {
		return nil, heerrors.Validationf("range", "want min < max, got [%v, %v)", min, max)
	}
	if precision < 0 {
		return nil, fmt.Errorf("precision must be non-negative, got %d", precision)
	}
	dist := distuv.Uniform{Min: min, Max: max, Src: src}
	pow := math.Pow10(precision)
	values := make([]float64, n)
	for i := range values {
		v := math.Round(dist.Rand()*pow) / pow
		if v >= max {
			v = math.Floor((max-1/pow)*pow) / pow
		}
		values[i] = v
	}
	return values, nil
}
