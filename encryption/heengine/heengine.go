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

// Package heengine defines the capability surface of the homomorphic encryption engine.
//
// The aggregation code depends only on these interfaces. A concrete engine is chosen once when a
// process starts; see package ckksengine for the lattigo CKKS implementation.
package heengine

// Plaintext is an encoded, unencrypted vector owned by the engine.
type Plaintext interface {
	Level() int
}

// Ciphertext is an encrypted vector owned by the engine. Callers never inspect its content.
type Ciphertext interface {
	Level() int
}

// Encoder encodes real vectors into plaintexts and back.
//
// A logScale of zero selects the engine's default scale.
type Encoder interface {
	SlotCapacity() int
	Encode(values []float64, logScale int) (Plaintext, error)
	Decode(pt Plaintext) ([]float64, error)
}

// Serializer converts ciphertexts to and from opaque text.
type Serializer interface {
	Serialize(ct Ciphertext) (string, error)
	Deserialize(blob string) (Ciphertext, error)
}

// Evaluator is the key-less part of the engine used by the aggregation server.
type Evaluator interface {
	Encoder
	Serializer
	Add(a, b Ciphertext) (Ciphertext, error)
	MultiplyByPlain(ct Ciphertext, pt Plaintext) (Ciphertext, error)
}

// Engine is the full capability surface used by the data owner.
type Engine interface {
	Evaluator
	Encrypt(pt Plaintext) (Ciphertext, error)
	Decrypt(ct Ciphertext) (Plaintext, error)
}
