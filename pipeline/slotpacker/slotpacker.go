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

// Package slotpacker splits numeric vectors into slot-capacity chunks and encrypts them one at a time.
package slotpacker

import (
	"context"
	"io"
	"sort"

	log "github.com/golang/glog"

	"github.com/CHALABI-CERINE/my-he-project/encryption/heengine"
	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
)

// ProgressInterval is the number of chunks between two progress log lines.
const ProgressInterval = 20

// Chunk is a contiguous window of at most SlotCapacity values.
type Chunk struct {
	Index  int
	Values []float64
}

// ValidCount returns the number of lanes of the chunk that hold data.
func (c Chunk) ValidCount() int {
	return len(c.Values)
}

// EncryptedChunk is the upload unit: a chunk index with its serialized ciphertext.
type EncryptedChunk struct {
	Index      int    `json:"index"`
	Ciphertext string `json:"ciphertext"`
	Size       int    `json:"size"`
}

// Pack splits values into chunks of capacity values each. The last chunk may be shorter.
//
// The chunks share the backing array of values, with their capacity capped so that appending to a
// chunk never writes into its neighbour.
func Pack(values []float64, capacity int) ([]Chunk, error) {
	if capacity <= 0 {
		return nil, heerrors.Validationf("slotCapacity", "must be positive, got %d", capacity)
	}
	var chunks []Chunk
	for start, i := 0, 0; start < len(values); start, i = start+capacity, i+1 {
		end := start + capacity
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, Chunk{Index: i, Values: values[start:end:end]})
	}
	return chunks, nil
}

// Unpack concatenates chunks in index order. Indices must be exactly 0..len(chunks)-1.
func Unpack(chunks []Chunk) ([]float64, error) {
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var out []float64
	for i, c := range sorted {
		if c.Index != i {
			if i > 0 && sorted[i-1].Index == c.Index {
				return nil, heerrors.Validationf("index", "duplicate chunk index %d", c.Index)
			}
			return nil, heerrors.Validationf("index", "missing chunk index %d", i)
		}
		out = append(out, c.Values...)
	}
	return out, nil
}

// ValidLanes returns how many lanes of a folded aggregate carry data for a dataset of n values.
func ValidLanes(n, capacity int) int {
	if n < capacity {
		return n
	}
	return capacity
}

// ReduceToScalar sums the first validCount lanes of a decoded vector.
func ReduceToScalar(decoded []float64, validCount int) float64 {
	if validCount > len(decoded) {
		validCount = len(decoded)
	}
	var sum float64
	for i := 0; i < validCount; i++ {
		sum += decoded[i]
	}
	return sum
}

// Encrypter is the part of the engine needed to turn a chunk into an upload unit.
type Encrypter interface {
	SlotCapacity() int
	Encode(values []float64, logScale int) (heengine.Plaintext, error)
	Encrypt(pt heengine.Plaintext) (heengine.Ciphertext, error)
	Serialize(ct heengine.Ciphertext) (string, error)
}

// Packer encrypts the chunks of a dataset one per call to Next.
type Packer struct {
	enc      Encrypter
	chunks   []Chunk
	logScale int
	next     int
}

// NewPacker splits values with the engine slot capacity and prepares them for encryption.
func NewPacker(enc Encrypter, values []float64, logScale int) (*Packer, error) {
	chunks, err := Pack(values, enc.SlotCapacity())
	if err != nil {
		return nil, err
	}
	return &Packer{enc: enc, chunks: chunks, logScale: logScale}, nil
}

// Total returns the number of chunks the packer produces.
func (p *Packer) Total() int {
	return len(p.chunks)
}

// Done returns the number of chunks already encrypted.
func (p *Packer) Done() int {
	return p.next
}

// Next encrypts the next chunk. It returns io.EOF once all chunks are produced, and the context
// error if ctx is cancelled before the chunk starts.
func (p *Packer) Next(ctx context.Context) (*EncryptedChunk, error) {
	if p.next >= len(p.chunks) {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := p.chunks[p.next]
	pt, err := p.enc.Encode(c.Values, p.logScale)
	if err != nil {
		return nil, heerrors.Engine("encode", err)
	}
	ct, err := p.enc.Encrypt(pt)
	if err != nil {
		return nil, heerrors.Engine("encrypt", err)
	}
	blob, err := p.enc.Serialize(ct)
	if err != nil {
		return nil, heerrors.Engine("serialize", err)
	}
	p.next++
	if p.next%ProgressInterval == 0 || p.next == len(p.chunks) {
		log.Infof("encrypted %d/%d chunks", p.next, len(p.chunks))
	}
	return &EncryptedChunk{Index: c.Index, Ciphertext: blob, Size: c.ValidCount()}, nil
}

// Drain runs the packer to completion. When yieldEvery is positive, onYield is called after every
// yieldEvery chunks with the progress so far.
func Drain(ctx context.Context, p *Packer, yieldEvery int, onYield func(done, total int)) ([]*EncryptedChunk, error) {
	out := make([]*EncryptedChunk, 0, p.Total())
	for {
		ec, err := p.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ec)
		if yieldEvery > 0 && onYield != nil && p.Done()%yieldEvery == 0 {
			onYield(p.Done(), p.Total())
		}
	}
}
