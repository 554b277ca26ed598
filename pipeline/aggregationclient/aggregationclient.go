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

// Package aggregationclient runs a complete encrypted aggregation from the data owner's side.
package aggregationclient

import (
	"context"
	"time"

	log "github.com/golang/glog"

	"github.com/CHALABI-CERINE/my-he-project/encryption/heengine"
	"github.com/CHALABI-CERINE/my-he-project/pipeline/chunktransport"
	"github.com/CHALABI-CERINE/my-he-project/pipeline/slotpacker"
	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
)

// Options tunes a run.
type Options struct {
	// LogScale is the encoding scale in bits; zero uses the engine default.
	LogScale int
	// YieldEvery and OnProgress report packing progress every YieldEvery chunks.
	YieldEvery int
	OnProgress func(done, total int)
}

// Result is the decrypted outcome of a run.
type Result struct {
	Count  int
	Chunks int
	Sum    float64
	// Mean is Sum divided by Count.
	Mean float64
	// ChunkMean is the server mean aggregate, which divides by the number of chunks instead of the
	// number of values. It equals Mean only for a single chunk.
	ChunkMean float64
	Elapsed   time.Duration
}

// Run packs and encrypts values, uploads them to a freshly reset session, asks the server to fold
// them and decrypts the aggregates. An engine or transport failure stops the run and leaves the
// server session as it is.
func Run(ctx context.Context, engine heengine.Engine, client *chunktransport.Client, values []float64, opts Options) (*Result, error) {
	start := time.Now()
	if len(values) == 0 {
		return nil, heerrors.Validationf("data", "must not be empty")
	}

	info, err := client.Params(ctx)
	if err != nil {
		return nil, err
	}
	capacity := engine.SlotCapacity()
	if info.Slots != capacity {
		return nil, heerrors.Validationf("slots", "server uses %d slots, client engine %d", info.Slots, capacity)
	}

	packer, err := slotpacker.NewPacker(engine, values, opts.LogScale)
	if err != nil {
		return nil, err
	}
	chunks, err := slotpacker.Drain(ctx, packer, opts.YieldEvery, opts.OnProgress)
	if err != nil {
		return nil, err
	}
	log.Infof("encrypted %d values into %d chunks of %d slots", len(values), len(chunks), capacity)

	if err := client.Reset(ctx); err != nil {
		return nil, err
	}
	if err := client.Upload(ctx, chunks); err != nil {
		return nil, err
	}
	folded, err := client.ComputeStats(ctx)
	if err != nil {
		return nil, err
	}

	lanes := slotpacker.ValidLanes(len(values), capacity)
	sum, err := decryptScalar(engine, folded.SumBlob, lanes)
	if err != nil {
		return nil, err
	}
	chunkMean, err := decryptScalar(engine, folded.MeanBlob, lanes)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Count:     len(values),
		Chunks:    folded.ChunkCount,
		Sum:       sum,
		Mean:      sum / float64(len(values)),
		ChunkMean: chunkMean,
		Elapsed:   time.Since(start),
	}
	log.Infof("aggregated %d values in %v: sum=%v mean=%v", res.Count, res.Elapsed, res.Sum, res.Mean)
	return res, nil
}

func decryptScalar(engine heengine.Engine, blob string, lanes int) (float64, error) {
	ct, err := engine.Deserialize(blob)
	if err != nil {
		return 0, heerrors.Engine("deserialize", err)
	}
	pt, err := engine.Decrypt(ct)
	if err != nil {
		return 0, heerrors.Engine("decrypt", err)
	}
	decoded, err := engine.Decode(pt)
	if err != nil {
		return 0, heerrors.Engine("decode", err)
	}
	return slotpacker.ReduceToScalar(decoded, lanes), nil
}
