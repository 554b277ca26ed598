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

// Package accumulationstore keeps the encrypted chunks uploaded for each session and folds them
// into encrypted sum and mean aggregates.
package accumulationstore

import (
	"context"
	"runtime"
	"sort"
	"sync"

	log "github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/CHALABI-CERINE/my-he-project/encryption/heengine"
	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
)

const (
	// DefaultSession is used by callers that never name a session.
	DefaultSession = "default"
	// DefaultReleaseInterval is the number of folded blobs between two memory release hints.
	DefaultReleaseInterval = 100
)

// FoldResult holds the serialized aggregates of a session.
type FoldResult struct {
	SumBlob    string `json:"sumCiphertext"`
	MeanBlob   string `json:"meanCiphertext"`
	ChunkCount int    `json:"chunkCount"`
}

type session struct {
	mu    sync.Mutex
	blobs map[int]string
}

// Store is a session-keyed map of encrypted chunks. It holds no key material.
type Store struct {
	eval            heengine.Evaluator
	releaseInterval int

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Store.
type Option func(*Store)

// ReleaseInterval sets how many blobs are folded between two calls to runtime.GC. A non-positive
// value disables the hints.
func ReleaseInterval(n int) Option {
	return func(s *Store) { s.releaseInterval = n }
}

// New creates an empty store that folds with eval.
func New(eval heengine.Evaluator, opts ...Option) *Store {
	s := &Store{
		eval:            eval,
		releaseInterval: DefaultReleaseInterval,
		sessions:        make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSessionID returns a fresh random session ID.
func NewSessionID() string {
	return uuid.New()
}

func (s *Store) getSession(id string, create bool) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok && create {
		sess = &session{blobs: make(map[int]string)}
		s.sessions[id] = sess
	}
	return sess
}

// Reset empties the session, creating it if needed.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &session{blobs: make(map[int]string)}
}

// Delete drops the session and its chunks.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Put stores blob at index, replacing any earlier blob with the same index.
func (s *Store) Put(id string, index int, blob string) error {
	if index < 0 {
		return heerrors.Validationf("index", "must be non-negative, got %d", index)
	}
	if blob == "" {
		return heerrors.Validationf("ciphertext", "must not be empty")
	}
	sess := s.getSession(id, true)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.blobs[index] = blob
	return nil
}

// Len returns the number of chunks stored for the session.
func (s *Store) Len(id string) int {
	sess := s.getSession(id, false)
	if sess == nil {
		return 0
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.blobs)
}

func (s *Store) snapshot(id string) []string {
	sess := s.getSession(id, false)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	indices := make([]int, 0, len(sess.blobs))
	for i := range sess.blobs {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	blobs := make([]string, len(indices))
	for i, idx := range indices {
		blobs[i] = sess.blobs[idx]
	}
	return blobs
}

// Fold adds all chunks of the session into one ciphertext and derives the mean by multiplying the
// sum with the reciprocal of the chunk count. The session is left unchanged.
//
// The mean divides by the number of chunks, not the number of values, so it only equals the
// dataset mean when the caller reduces it accordingly.
func (s *Store) Fold(ctx context.Context, id string) (*FoldResult, error) {
	blobs := s.snapshot(id)
	if len(blobs) == 0 {
		return nil, &heerrors.EmptySessionError{Session: id}
	}

	var sum heengine.Ciphertext
	for i, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ct, err := s.eval.Deserialize(blob)
		if err != nil {
			return nil, heerrors.Engine("deserialize", err)
		}
		if sum == nil {
			sum = ct
		} else if sum, err = s.eval.Add(sum, ct); err != nil {
			return nil, heerrors.Engine("add", err)
		}
		if s.releaseInterval > 0 && (i+1)%s.releaseInterval == 0 {
			log.V(2).Infof("session %s: folded %d/%d chunks", id, i+1, len(blobs))
			runtime.GC()
		}
	}

	count := len(blobs)
	reciprocal := make([]float64, s.eval.SlotCapacity())
	for i := range reciprocal {
		reciprocal[i] = 1 / float64(count)
	}
	pt, err := s.eval.Encode(reciprocal, 0)
	if err != nil {
		return nil, heerrors.Engine("encode", err)
	}
	mean, err := s.eval.MultiplyByPlain(sum, pt)
	if err != nil {
		return nil, heerrors.Engine("multiply", err)
	}

	sumBlob, err := s.eval.Serialize(sum)
	if err != nil {
		return nil, heerrors.Engine("serialize", err)
	}
	meanBlob, err := s.eval.Serialize(mean)
	if err != nil {
		return nil, heerrors.Engine("serialize", err)
	}
	log.Infof("session %s: folded %d chunks", id, count)
	return &FoldResult{SumBlob: sumBlob, MeanBlob: meanBlob, ChunkCount: count}, nil
}
