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

package slotpacker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/CHALABI-CERINE/my-he-project/encryption/heengine"
	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
)

type fakeText struct{ values []float64 }

func (fakeText) Level() int { return 0 }

// fakeEncrypter serializes plaintext values as text so that tests can inspect the chunks.
type fakeEncrypter struct {
	capacity int
	failAt   int
	calls    int
}

func (f *fakeEncrypter) SlotCapacity() int { return f.capacity }

func (f *fakeEncrypter) Encode(values []float64, logScale int) (heengine.Plaintext, error) {
	return fakeText{values: values}, nil
}

func (f *fakeEncrypter) Encrypt(pt heengine.Plaintext) (heengine.Ciphertext, error) {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, errors.New("encryption failed")
	}
	return pt.(fakeText), nil
}

func (f *fakeEncrypter) Serialize(ct heengine.Ciphertext) (string, error) {
	return fmt.Sprint(ct.(fakeText).values), nil
}

func TestPackUnpackRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		desc       string
		n          int
		capacity   int
		wantChunks int
		wantLast   int
	}{
		{"empty", 0, 4, 0, 0},
		{"single short chunk", 3, 4, 1, 3},
		{"exact multiple", 8, 4, 2, 4},
		{"trailing partial chunk", 10, 4, 3, 2},
		{"capacity one", 5, 1, 5, 1},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			values := make([]float64, tc.n)
			for i := range values {
				values[i] = float64(i) + 0.5
			}
			chunks, err := Pack(values, tc.capacity)
			if err != nil {
				t.Fatal(err)
			}
			if len(chunks) != tc.wantChunks {
				t.Fatalf("want %d chunks, got %d", tc.wantChunks, len(chunks))
			}
			if tc.wantChunks > 0 {
				if got := chunks[len(chunks)-1].ValidCount(); got != tc.wantLast {
					t.Errorf("want last chunk size %d, got %d", tc.wantLast, got)
				}
			}
			for i, c := range chunks {
				if c.Index != i {
					t.Errorf("chunk %d has index %d", i, c.Index)
				}
				if c.ValidCount() > tc.capacity {
					t.Errorf("chunk %d holds %d values, more than capacity %d", i, c.ValidCount(), tc.capacity)
				}
			}
			got, err := Unpack(chunks)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(values, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPackDoesNotLeakIntoNeighbours(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	chunks, err := Pack(values, 2)
	if err != nil {
		t.Fatal(err)
	}
	_ = append(chunks[0].Values, 100)
	if diff := cmp.Diff([]float64{1, 2, 3, 4}, values); diff != "" {
		t.Errorf("input mutated (-want +got):\n%s", diff)
	}
}

func TestPackInvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -3} {
		_, err := Pack([]float64{1}, capacity)
		var vErr *heerrors.ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("capacity %d: want ValidationError, got %v", capacity, err)
		}
	}
}

func TestUnpackRejectsBadIndices(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		chunks []Chunk
	}{
		{"duplicate", []Chunk{{Index: 0}, {Index: 0}}},
		{"missing", []Chunk{{Index: 0}, {Index: 2}}},
		{"not starting at zero", []Chunk{{Index: 1}}},
	} {
		_, err := Unpack(tc.chunks)
		var vErr *heerrors.ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("%s: want ValidationError, got %v", tc.desc, err)
		}
	}
}

func TestUnpackOrdersByIndex(t *testing.T) {
	got, err := Unpack([]Chunk{{Index: 1, Values: []float64{3}}, {Index: 0, Values: []float64{1, 2}}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, got); diff != "" {
		t.Errorf("unpack mismatch (-want +got):\n%s", diff)
	}
}

func TestReduceToScalar(t *testing.T) {
	decoded := []float64{1, 2, 3, 4}
	for _, tc := range []struct {
		valid int
		want  float64
	}{
		{0, 0}, {2, 3}, {4, 10}, {10, 10}, {-1, 0},
	} {
		if got := ReduceToScalar(decoded, tc.valid); got != tc.want {
			t.Errorf("ReduceToScalar(%v, %d) = %v, want %v", decoded, tc.valid, got, tc.want)
		}
	}
	if got, want := ValidLanes(3, 4), 3; got != want {
		t.Errorf("ValidLanes(3, 4) = %d, want %d", got, want)
	}
	if got, want := ValidLanes(10, 4), 4; got != want {
		t.Errorf("ValidLanes(10, 4) = %d, want %d", got, want)
	}
}

func TestPackerProducesAllChunks(t *testing.T) {
	enc := &fakeEncrypter{capacity: 2}
	p, err := NewPacker(enc, []float64{1, 2, 3, 4, 5}, 0)
	if err != nil {
		t.Fatal(err)
	}
	var yields [][2]int
	got, err := Drain(context.Background(), p, 2, func(done, total int) {
		yields = append(yields, [2]int{done, total})
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []*EncryptedChunk{
		{Index: 0, Ciphertext: "[1 2]", Size: 2},
		{Index: 1, Ciphertext: "[3 4]", Size: 2},
		{Index: 2, Ciphertext: "[5]", Size: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][2]int{{2, 3}}, yields); diff != "" {
		t.Errorf("yields mismatch (-want +got):\n%s", diff)
	}
	if _, err := p.Next(context.Background()); err != io.EOF {
		t.Errorf("want io.EOF after the last chunk, got %v", err)
	}
}

func TestPackerCancellation(t *testing.T) {
	enc := &fakeEncrypter{capacity: 1}
	p, err := NewPacker(enc, []float64{1, 2, 3}, 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := p.Next(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := p.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if got := p.Done(); got != 1 {
		t.Errorf("want 1 chunk done after cancellation, got %d", got)
	}
	if _, err := Drain(ctx, p, 0, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Drain: want context.Canceled, got %v", err)
	}
}

func TestPackerEngineFailure(t *testing.T) {
	p, err := NewPacker(&fakeEncrypter{capacity: 1, failAt: 2}, []float64{1, 2, 3}, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Drain(context.Background(), p, 0, nil)
	var eErr *heerrors.EngineError
	if !errors.As(err, &eErr) {
		t.Fatalf("want EngineError, got %v", err)
	}
	if !strings.Contains(err.Error(), "encryption failed") {
		t.Errorf("want the engine cause in %q", err.Error())
	}
}
