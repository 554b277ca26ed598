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

// Package ckksengine implements the heengine capability surface with the lattigo CKKS scheme.
package ckksengine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/CHALABI-CERINE/my-he-project/encryption/heengine"
	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
	"github.com/CHALABI-CERINE/my-he-project/shared/utils"
)

// DefaultLogScale is the fixed-point scale used when a caller does not pick one.
const DefaultLogScale = 40

// Names of the supported parameter presets.
const (
	// PN12 is a small ring for tests and local experiments.
	PN12 = "PN12"
	// PN13 matches a polynomial degree of 8192 with a [60, 40, 40 | 60] modulus chain, 4096 slots.
	PN13 = "PN13"
	// PN14 doubles the slot capacity for large datasets.
	PN14 = "PN14"
)

var presets = map[string]ckks.ParametersLiteral{
	PN12: {LogN: 12, LogQ: []int{60, 40, 40}, LogP: []int{60}},
	PN13: {LogN: 13, LogQ: []int{60, 40, 40}, LogP: []int{60}},
	PN14: {LogN: 14, LogQ: []int{60, 40, 40, 40}, LogP: []int{60}},
}

// Presets returns the names of the supported parameter presets.
func Presets() []string {
	var names []string
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewParameters builds the CKKS parameters of a preset with the given default scale.
func NewParameters(preset string, logScale int) (ckks.Parameters, error) {
	lit, ok := presets[preset]
	if !ok {
		return ckks.Parameters{}, heerrors.Validationf("preset", "unsupported preset %q, want one of %v", preset, Presets())
	}
	if logScale <= 0 {
		logScale = DefaultLogScale
	}
	// The scale must leave headroom in the first modulus for the integer part of the values.
	if logScale >= lit.LogQ[0] {
		return ckks.Parameters{}, heerrors.Validationf("logScale", "scale 2^%d does not fit the %d-bit base modulus", logScale, lit.LogQ[0])
	}
	lit.LogDefaultScale = logScale
	params, err := ckks.NewParametersFromLiteral(lit)
	if err != nil {
		return ckks.Parameters{}, heerrors.Engine("parameters", err)
	}
	return params, nil
}

// ParamsInfo is the public description of the parameters shared between the client and the server.
type ParamsInfo struct {
	Preset          string `json:"preset"`
	LogN            int    `json:"logN"`
	LogQ            []int  `json:"logQ"`
	LogP            []int  `json:"logP"`
	LogDefaultScale int    `json:"logDefaultScale"`
	Slots           int    `json:"slots"`
}

// blobEnvelope is the CBOR structure behind a serialized ciphertext.
type blobEnvelope struct {
	LogN            int    `json:"logN"`
	LogDefaultScale int    `json:"logScale"`
	Ciphertext      []byte `json:"ct"`
}

// Engine is a CKKS engine. It always evaluates; it encrypts only when built with a public key and
// decrypts only when built with a secret key.
//
// The lattigo encoder and evaluator keep internal buffers, so every operation is serialized on mu.
type Engine struct {
	mu sync.Mutex

	preset    string
	params    ckks.Parameters
	encoder   *ckks.Encoder
	evaluator *ckks.Evaluator
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
}

var _ heengine.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithPublicKey enables encryption.
func WithPublicKey(pk *rlwe.PublicKey) Option {
	return func(e *Engine) {
		e.encryptor = rlwe.NewEncryptor(e.params, pk)
	}
}

// WithSecretKey enables decryption.
func WithSecretKey(sk *rlwe.SecretKey) Option {
	return func(e *Engine) {
		e.decryptor = rlwe.NewDecryptor(e.params, sk)
	}
}

// New creates an engine for the preset. No evaluation keys are needed: folding only adds
// ciphertexts and multiplies them by plaintexts.
func New(preset string, logScale int, opts ...Option) (*Engine, error) {
	params, err := NewParameters(preset, logScale)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		preset:    preset,
		params:    params,
		encoder:   ckks.NewEncoder(params),
		evaluator: ckks.NewEvaluator(params, nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Parameters returns the CKKS parameters of the engine.
func (e *Engine) Parameters() ckks.Parameters {
	return e.params
}

// Info returns the public description of the engine parameters.
func (e *Engine) Info() ParamsInfo {
	lit := presets[e.preset]
	return ParamsInfo{
		Preset:          e.preset,
		LogN:            e.params.LogN(),
		LogQ:            append([]int(nil), lit.LogQ...),
		LogP:            append([]int(nil), lit.LogP...),
		LogDefaultScale: e.params.LogDefaultScale(),
		Slots:           e.params.MaxSlots(),
	}
}

// SlotCapacity returns the number of real values one ciphertext holds.
func (e *Engine) SlotCapacity() int {
	return e.params.MaxSlots()
}

// Encode encodes values, zero-padded to the slot capacity, at the top level.
func (e *Engine) Encode(values []float64, logScale int) (heengine.Plaintext, error) {
	slots := e.params.MaxSlots()
	if len(values) > slots {
		return nil, heerrors.Engine("encode", fmt.Errorf("%d values exceed the slot capacity %d", len(values), slots))
	}
	padded := make([]float64, slots)
	copy(padded, values)

	pt := ckks.NewPlaintext(e.params, e.params.MaxLevel())
	if logScale > 0 {
		pt.Scale = rlwe.NewScale(math.Exp2(float64(logScale)))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.encoder.Encode(padded, pt); err != nil {
		return nil, heerrors.Engine("encode", err)
	}
	return pt, nil
}

// Decode decodes all slots of a plaintext.
func (e *Engine) Decode(pt heengine.Plaintext) ([]float64, error) {
	p, err := asPlaintext(pt)
	if err != nil {
		return nil, heerrors.Engine("decode", err)
	}
	values := make([]float64, e.params.MaxSlots())

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.encoder.Decode(p, values); err != nil {
		return nil, heerrors.Engine("decode", err)
	}
	return values, nil
}

// Encrypt encrypts a plaintext with the public key.
func (e *Engine) Encrypt(pt heengine.Plaintext) (heengine.Ciphertext, error) {
	if e.encryptor == nil {
		return nil, heerrors.Engine("encrypt", errors.New("engine has no public key"))
	}
	p, err := asPlaintext(pt)
	if err != nil {
		return nil, heerrors.Engine("encrypt", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ct, err := e.encryptor.EncryptNew(p)
	if err != nil {
		return nil, heerrors.Engine("encrypt", err)
	}
	return ct, nil
}

// Decrypt decrypts a ciphertext with the secret key.
func (e *Engine) Decrypt(ct heengine.Ciphertext) (heengine.Plaintext, error) {
	if e.decryptor == nil {
		return nil, heerrors.Engine("decrypt", errors.New("engine has no secret key"))
	}
	c, err := asCiphertext(ct)
	if err != nil {
		return nil, heerrors.Engine("decrypt", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decryptor.DecryptNew(c), nil
}

// Add returns a + b.
func (e *Engine) Add(a, b heengine.Ciphertext) (heengine.Ciphertext, error) {
	ca, err := asCiphertext(a)
	if err != nil {
		return nil, heerrors.Engine("add", err)
	}
	cb, err := asCiphertext(b)
	if err != nil {
		return nil, heerrors.Engine("add", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	sum, err := e.evaluator.AddNew(ca, cb)
	if err != nil {
		return nil, heerrors.Engine("add", err)
	}
	return sum, nil
}

// MultiplyByPlain returns ct * pt, rescaled back to the scale of ct.
func (e *Engine) MultiplyByPlain(ct heengine.Ciphertext, pt heengine.Plaintext) (heengine.Ciphertext, error) {
	c, err := asCiphertext(ct)
	if err != nil {
		return nil, heerrors.Engine("multiply", err)
	}
	p, err := asPlaintext(pt)
	if err != nil {
		return nil, heerrors.Engine("multiply", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	prod, err := e.evaluator.MulNew(c, p)
	if err != nil {
		return nil, heerrors.Engine("multiply", err)
	}
	if err := e.evaluator.Rescale(prod, prod); err != nil {
		return nil, heerrors.Engine("rescale", err)
	}
	return prod, nil
}

// Serialize encodes a ciphertext as base64 CBOR, tagged with the ring degree and scale so that a
// blob produced under other parameters is rejected on Deserialize.
func (e *Engine) Serialize(ct heengine.Ciphertext) (string, error) {
	c, err := asCiphertext(ct)
	if err != nil {
		return "", heerrors.Engine("serialize", err)
	}
	b, err := c.MarshalBinary()
	if err != nil {
		return "", heerrors.Engine("serialize", err)
	}
	env, err := utils.MarshalCBOR(&blobEnvelope{
		LogN:            e.params.LogN(),
		LogDefaultScale: e.params.LogDefaultScale(),
		Ciphertext:      b,
	})
	if err != nil {
		return "", heerrors.Engine("serialize", err)
	}
	return base64.StdEncoding.EncodeToString(env), nil
}

// Deserialize decodes a blob produced by Serialize.
func (e *Engine) Deserialize(blob string) (heengine.Ciphertext, error) {
	b, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, heerrors.Engine("deserialize", err)
	}
	env := &blobEnvelope{}
	if err := utils.UnmarshalCBOR(b, env); err != nil {
		return nil, heerrors.Engine("deserialize", err)
	}
	if env.LogN != e.params.LogN() || env.LogDefaultScale != e.params.LogDefaultScale() {
		return nil, heerrors.Engine("deserialize", fmt.Errorf("blob parameters logN=%d logScale=%d, engine logN=%d logScale=%d",
			env.LogN, env.LogDefaultScale, e.params.LogN(), e.params.LogDefaultScale()))
	}
	ct := &rlwe.Ciphertext{}
	if err := ct.UnmarshalBinary(env.Ciphertext); err != nil {
		return nil, heerrors.Engine("deserialize", err)
	}
	if err := e.checkCiphertext(ct); err != nil {
		return nil, heerrors.Engine("deserialize", err)
	}
	return ct, nil
}

// checkCiphertext rejects a decoded ciphertext whose shape does not fit the engine parameters,
// since the envelope header alone can be relabelled.
func (e *Engine) checkCiphertext(ct *rlwe.Ciphertext) error {
	if ct.MetaData == nil {
		return errors.New("ciphertext has no metadata")
	}
	if len(ct.Value) != 2 {
		return fmt.Errorf("ciphertext degree %d, want 1", len(ct.Value)-1)
	}
	n := e.params.N()
	level := len(ct.Value[0].Coeffs) - 1
	if level < 0 || level > e.params.MaxLevel() {
		return fmt.Errorf("ciphertext level %d outside [0, %d]", level, e.params.MaxLevel())
	}
	for _, poly := range ct.Value {
		if len(poly.Coeffs) != level+1 {
			return errors.New("ciphertext polynomials have mismatched levels")
		}
		for _, coeffs := range poly.Coeffs {
			if len(coeffs) != n {
				return fmt.Errorf("ciphertext ring degree %d, want %d", len(coeffs), n)
			}
		}
	}
	return nil
}

func asCiphertext(ct heengine.Ciphertext) (*rlwe.Ciphertext, error) {
	c, ok := ct.(*rlwe.Ciphertext)
	if !ok || c == nil {
		return nil, fmt.Errorf("unsupported ciphertext type %T", ct)
	}
	return c, nil
}

func asPlaintext(pt heengine.Plaintext) (*rlwe.Plaintext, error) {
	p, ok := pt.(*rlwe.Plaintext)
	if !ok || p == nil {
		return nil, fmt.Errorf("unsupported plaintext type %T", pt)
	}
	return p, nil
}
