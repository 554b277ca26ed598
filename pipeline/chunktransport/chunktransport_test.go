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

package chunktransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/CHALABI-CERINE/my-he-project/encryption/ckksengine"
	"github.com/CHALABI-CERINE/my-he-project/pipeline/slotpacker"
	"github.com/CHALABI-CERINE/my-he-project/service/aggregatorservice"
	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
)

func newAggregator(t *testing.T) (*aggregatorservice.Handler, *ckksengine.Engine) {
	t.Helper()
	e, err := ckksengine.New(ckksengine.PN12, ckksengine.DefaultLogScale)
	if err != nil {
		t.Fatal(err)
	}
	return aggregatorservice.NewHandler(e), e
}

func fakeChunks(n int) []*slotpacker.EncryptedChunk {
	chunks := make([]*slotpacker.EncryptedChunk, n)
	for i := range chunks {
		chunks[i] = &slotpacker.EncryptedChunk{Index: i, Ciphertext: fmt.Sprintf("blob-%d", i), Size: 1}
	}
	return chunks
}

func fastConfig(url string) Config {
	return Config{BaseURL: url, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond}
}

// uploadRecorder is a fake server which records the order and concurrency of chunk uploads.
type uploadRecorder struct {
	failIndex int

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	order       []int
}

func (r *uploadRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body := &aggregatorservice.UploadRequest{}
	if err := json.NewDecoder(req.Body).Decode(body); err != nil || body.Index == nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.order = append(r.order, *body.Index)
	r.mu.Unlock()

	// Leave time for the other requests of the batch to arrive.
	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	if *body.Index == r.failIndex {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(&aggregatorservice.ErrorResponse{Error: "rejected", Kind: heerrors.KindValidation})
		return
	}
	json.NewEncoder(w).Encode(&aggregatorservice.StatusResponse{Status: "received", Index: body.Index})
}

func TestUploadInBatches(t *testing.T) {
	rec := &uploadRecorder{failIndex: -1}
	server := httptest.NewServer(rec)
	defer server.Close()

	if err := New(fastConfig(server.URL)).Upload(context.Background(), fakeChunks(12)); err != nil {
		t.Fatal(err)
	}
	if len(rec.order) != 12 {
		t.Fatalf("want 12 uploads, got %d", len(rec.order))
	}
	if rec.maxInFlight > DefaultBatchWidth {
		t.Errorf("want at most %d concurrent uploads, got %d", DefaultBatchWidth, rec.maxInFlight)
	}
	// A batch completes before the next starts, so batch numbers never decrease.
	for i := 1; i < len(rec.order); i++ {
		if rec.order[i]/DefaultBatchWidth < rec.order[i-1]/DefaultBatchWidth {
			t.Fatalf("chunk %d arrived after chunk %d of a later batch: %v", rec.order[i], rec.order[i-1], rec.order)
		}
	}
}

func TestUploadStopsOnFirstFailure(t *testing.T) {
	rec := &uploadRecorder{failIndex: 7}
	server := httptest.NewServer(rec)
	defer server.Close()

	err := New(fastConfig(server.URL)).Upload(context.Background(), fakeChunks(15))
	var vErr *heerrors.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	for _, index := range rec.order {
		if index >= 2*DefaultBatchWidth {
			t.Errorf("chunk %d of a later batch was uploaded after the failure", index)
		}
	}
}

func TestUploadToAggregator(t *testing.T) {
	h, _ := newAggregator(t)
	server := httptest.NewServer(h)
	defer server.Close()

	ctx := context.Background()
	client, err := New(fastConfig(server.URL)).NewSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Upload(ctx, fakeChunks(7)); err != nil {
		t.Fatal(err)
	}
	if got := h.Store().Len(client.Session()); got != 7 {
		t.Errorf("want 7 stored chunks, got %d", got)
	}
	if err := client.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	_, err = client.ComputeStats(ctx)
	var seErr *heerrors.EmptySessionError
	if !errors.As(err, &seErr) {
		t.Fatalf("want EmptySessionError, got %v", err)
	}
	if seErr.Session != client.Session() {
		t.Errorf("want session %q in the error, got %q", client.Session(), seErr.Session)
	}
	if err := client.DeleteSession(ctx); err != nil {
		t.Fatal(err)
	}

	err = client.UploadChunk(ctx, &slotpacker.EncryptedChunk{Index: -1, Ciphertext: "x"})
	var vErr *heerrors.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("want ValidationError for a negative index, got %v", err)
	}
}

func TestParamsAndSimulators(t *testing.T) {
	h, e := newAggregator(t)
	server := httptest.NewServer(h)
	defer server.Close()

	ctx := context.Background()
	client := New(fastConfig(server.URL))
	info, err := client.Params(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(e.Info(), *info); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}

	a, err := client.SimulateOptimizer(ctx, &aggregatorservice.OptimizerRequest{N: 1000, Slots: 8192})
	if err != nil {
		t.Fatal(err)
	}
	if a.Recommendation != "Binary" {
		t.Errorf("want Binary, got %q", a.Recommendation)
	}

	noise, err := client.SimulateNoise(ctx, &aggregatorservice.NoiseRequest{Data: []float64{10, 20, 30}, Scale: 40})
	if err != nil {
		t.Fatal(err)
	}
	if !noise.IsAcceptable {
		t.Errorf("want an acceptable scale, got %+v", noise)
	}
	if _, err := client.SimulateNoise(ctx, &aggregatorservice.NoiseRequest{}); err == nil {
		t.Error("want an error for empty data")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(&aggregatorservice.StatusResponse{Status: "ok"})
	}))
	defer server.Close()

	if err := New(fastConfig(server.URL)).Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("want 3 attempts, got %d", got)
	}
}

func TestTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	cfg := fastConfig(server.URL)
	cfg.RetryMax = 1

	err := New(cfg).UploadChunk(context.Background(), &slotpacker.EncryptedChunk{Index: 4, Ciphertext: "x"})
	var tErr *heerrors.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("want TransportError for a 503, got %v", err)
	}
	if tErr.Index != 4 {
		t.Errorf("want chunk index 4, got %d", tErr.Index)
	}

	server.Close()
	cfg.RetryMax = -1
	if err := New(cfg).Reset(context.Background()); !errors.As(err, &tErr) {
		t.Fatalf("want TransportError for a closed server, got %v", err)
	}
	if tErr.Index != -1 {
		t.Errorf("want index -1 for a reset, got %d", tErr.Index)
	}
}

func TestRemoteEngineError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(&aggregatorservice.ErrorResponse{Error: "bad blob", Kind: heerrors.KindEngine})
	}))
	defer server.Close()
	cfg := fastConfig(server.URL)
	cfg.RetryMax = -1

	_, err := New(cfg).ComputeStats(context.Background())
	var eErr *heerrors.EngineError
	if !errors.As(err, &eErr) {
		t.Fatalf("want EngineError, got %v", err)
	}
}

func TestUploadCancelled(t *testing.T) {
	rec := &uploadRecorder{failIndex: -1}
	server := httptest.NewServer(rec)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(fastConfig(server.URL)).Upload(ctx, fakeChunks(3)); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}
