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

package ckksengine

import (
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/ckks"

	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
)

// GenerateKeyPair creates a fresh secret key and the matching public key.
func GenerateKeyPair(params ckks.Parameters) (*rlwe.SecretKey, *rlwe.PublicKey) {
	kgen := rlwe.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	return sk, kgen.GenPublicKeyNew(sk)
}

// UnmarshalPublicKey parses a public key serialized with MarshalBinary.
func UnmarshalPublicKey(params ckks.Parameters, b []byte) (*rlwe.PublicKey, error) {
	pk := rlwe.NewPublicKey(params)
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, heerrors.Engine("read public key", err)
	}
	return pk, nil
}

// UnmarshalSecretKey parses a secret key serialized with MarshalBinary.
func UnmarshalSecretKey(params ckks.Parameters, b []byte) (*rlwe.SecretKey, error) {
	sk := rlwe.NewSecretKey(params)
	if err := sk.UnmarshalBinary(b); err != nil {
		return nil, heerrors.Engine("read secret key", err)
	}
	return sk, nil
}
