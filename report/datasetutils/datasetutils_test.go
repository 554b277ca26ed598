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

package datasetutils

import (
	"context"
	"errors"
	"math"
	"path"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/exp/rand"

	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
)

func TestParseValues(t *testing.T) {
	for _, tc := range []struct {
		desc string
		text string
		want []float64
	}{
		{"empty", "", nil},
		{"lines", "1.5\n2\n3.25\n", []float64{1.5, 2, 3.25}},
		{"commas and windows newlines", "1,2\r\n3, 4", []float64{1, 2, 3, 4}},
		{"header and junk", "value\n10\nabc\n\n20,,NaN,Inf", []float64{10, 20}},
		{"negative and exponent", "-1e3\n+2.5", []float64{-1000, 2.5}},
	} {
		got := ParseValues(tc.text)
		if diff := cmp.Diff(tc.want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("%s: values mismatch (-want +got):\n%s", tc.desc, diff)
		}
	}
}

func TestWriteReadDataset(t *testing.T) {
	ctx := context.Background()
	file := path.Join(t.TempDir(), "data", "dataset.csv")
	want := []float64{0.1234, 9999.9999, 42}
	if err := WriteDataset(ctx, want, 4, file); err != nil {
		t.Fatal(err)
	}
	got, err := ReadDataset(ctx, file)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}

	empty := path.Join(t.TempDir(), "empty.csv")
	if err := WriteDataset(ctx, nil, 4, empty); err != nil {
		t.Fatal(err)
	}
	_, err = ReadDataset(ctx, empty)
	var vErr *heerrors.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("want ValidationError for an empty dataset, got %v", err)
	}
}

func TestGenerateValues(t *testing.T) {
	values, err := GenerateValues(10000, 0, 10000, 4, rand.NewSource(5))
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 10000 {
		t.Fatalf("want 10000 values, got %d", len(values))
	}
	for _, v := range values {
		if v < 0 || v >= 10000 {
			t.Fatalf("value %v out of [0, 10000)", v)
		}
		if scaled := v * 1e4; math.Abs(scaled-math.Round(scaled)) > 1e-6 {
			t.Fatalf("value %v has more than 4 decimals", v)
		}
	}
	again, err := GenerateValues(10000, 0, 10000, 4, rand.NewSource(5))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(values, again); diff != "" {
		t.Errorf("same seed gave different values (-first +second):\n%s", diff)
	}

	if _, err := GenerateValues(1, 5, 5, 2, nil); err == nil {
		t.Error("want an error for an empty range")
	}
	if _, err := GenerateValues(-1, 0, 1, 2, nil); err == nil {
		t.Error("want an error for a negative count")
	}
}
