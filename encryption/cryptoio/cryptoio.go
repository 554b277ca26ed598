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

// Package cryptoio contains functions for reading and writing the CKKS keys of the data owner.
package cryptoio

import (
	"context"
	"errors"

	"github.com/google/tink/go/aead"
	"github.com/google/tink/go/core/registry"
	"github.com/google/tink/go/integration/gcpkms"
	"github.com/google/tink/go/keyset"
	"github.com/google/tink/go/tink"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/CHALABI-CERINE/my-he-project/encryption/ckksengine"
	"github.com/CHALABI-CERINE/my-he-project/shared/utils"
)

// KeyParams records where the keys of one key pair are stored and how to read them back.
type KeyParams struct {
	// Preset and LogScale identify the CKKS parameters the keys belong to.
	Preset   string `json:"preset"`
	LogScale int    `json:"log_scale"`
	// PublicKeyURI is a local, GCS or HTTP location of the public key.
	PublicKeyURI string `json:"public_key_uri"`
	// KMSKeyURI and KMSCredentialPath are required by Google Key Mangagement service.
	// If KMSKeyURI is empty, the secret key is not encrypted with KMS.
	KMSKeyURI         string `json:"kms_key_uri,omitempty"`
	KMSCredentialPath string `json:"kms_credential_path,omitempty"`
	// SecretName is the Google SecretManager version holding the secret key, if any.
	SecretName string `json:"secret_name,omitempty"`
	// SecretKeyURI is the location of the (encrypted) secret key when SecretManager is not used.
	SecretKeyURI string `json:"secret_key_uri,omitempty"`
}

// SaveKeyParams contains the parameters for function SaveKeyPair.
type SaveKeyParams struct {
	KMSKeyURI, KMSCredentialPath string
	// SecretProjectID and SecretID are required by Google SecretManager service.
	// If SecretProjectID is empty, the key is stored without SecretManager.
	SecretProjectID, SecretID  string
	PublicKeyURI, SecretKeyURI string
}

func getAEADForKMS(keyURI, credentialPath string) (tink.AEAD, error) {
	var (
		gcpclient registry.KMSClient
		err       error
	)
	if credentialPath != "" {
		gcpclient, err = gcpkms.NewClientWithCredentials(keyURI, credentialPath)
	} else {
		gcpclient, err = gcpkms.NewClient(keyURI)
	}
	if err != nil {
		return nil, err
	}
	registry.RegisterKMSClient(gcpclient)

	dek := aead.AES128CTRHMACSHA256KeyTemplate()
	kh, err := keyset.NewHandle(aead.KMSEnvelopeAEADKeyTemplate(keyURI, dek))
	if err != nil {
		return nil, err
	}
	return aead.New(kh)
}

// KMSEncryptData encrypts the input data with GCP KMS.
//
// The key URI should be in the following format, and the key version is not needed.
// "gcp-kms://projects/<GCP ID>/locations/<key location>/keyRings/<key ring name>/cryptoKeys/<key name>"
func KMSEncryptData(ctx context.Context, keyURI, credentialPath string, data []byte) ([]byte, error) {
	a, err := getAEADForKMS(keyURI, credentialPath)
	if err != nil {
		return nil, err
	}
	return a.Encrypt(data, nil)
}

// KMSDecryptData decrypts the input data with GCP KMS.
func KMSDecryptData(ctx context.Context, keyURI, credentialPath string, encryptedData []byte) ([]byte, error) {
	a, err := getAEADForKMS(keyURI, credentialPath)
	if err != nil {
		return nil, err
	}
	return a.Decrypt(encryptedData, nil)
}

// SaveKeyPair stores a key pair and returns the KeyParams needed to read it back.
//
// The secret key is allowed to be stored without KMS encryption for testing only.
func SaveKeyPair(ctx context.Context, preset string, logScale int, sk *rlwe.SecretKey, pk *rlwe.PublicKey, params *SaveKeyParams) (*KeyParams, error) {
	if params.PublicKeyURI == "" {
		return nil, errors.New("expect a non-empty public key URI")
	}
	bPub, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := utils.WriteBytes(ctx, bPub, params.PublicKeyURI); err != nil {
		return nil, err
	}

	bSec, err := sk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if params.KMSKeyURI != "" {
		bSec, err = KMSEncryptData(ctx, params.KMSKeyURI, params.KMSCredentialPath, bSec)
		if err != nil {
			return nil, err
		}
	}

	keyParams := &KeyParams{
		Preset:            preset,
		LogScale:          logScale,
		PublicKeyURI:      params.PublicKeyURI,
		KMSKeyURI:         params.KMSKeyURI,
		KMSCredentialPath: params.KMSCredentialPath,
	}
	if params.SecretProjectID != "" {
		keyParams.SecretName, err = utils.SaveSecret(ctx, bSec, params.SecretProjectID, params.SecretID)
		return keyParams, err
	}
	if params.SecretKeyURI == "" {
		return nil, errors.New("expect a secret key URI or a SecretManager project")
	}
	keyParams.SecretKeyURI = params.SecretKeyURI
	return keyParams, utils.WriteBytes(ctx, bSec, params.SecretKeyURI)
}

// SaveKeyParamsFile writes the key storage information into a local or GCS file.
func SaveKeyParamsFile(ctx context.Context, params *KeyParams, uri string) error {
	return utils.WriteJSON(ctx, params, uri)
}

// ReadKeyParamsFile reads the key storage information.
func ReadKeyParamsFile(ctx context.Context, uri string) (*KeyParams, error) {
	params := &KeyParams{}
	if err := utils.ReadJSON(ctx, uri, params); err != nil {
		return nil, err
	}
	if params.Preset == "" || params.PublicKeyURI == "" {
		return nil, errors.New("key params must contain a preset and a public key URI")
	}
	return params, nil
}

// ReadPublicKey reads the public key described by params.
func ReadPublicKey(ctx context.Context, params *KeyParams) (*rlwe.PublicKey, error) {
	ckksParams, err := ckksengine.NewParameters(params.Preset, params.LogScale)
	if err != nil {
		return nil, err
	}
	b, err := utils.ReadBytes(ctx, params.PublicKeyURI)
	if err != nil {
		return nil, err
	}
	return ckksengine.UnmarshalPublicKey(ckksParams, b)
}

// ReadSecretKey reads and, when needed, KMS-decrypts the secret key described by params.
func ReadSecretKey(ctx context.Context, params *KeyParams) (*rlwe.SecretKey, error) {
	ckksParams, err := ckksengine.NewParameters(params.Preset, params.LogScale)
	if err != nil {
		return nil, err
	}
	var data []byte
	switch {
	case params.SecretName != "":
		data, err = utils.ReadSecret(ctx, params.SecretName)
	case params.SecretKeyURI != "":
		data, err = utils.ReadBytes(ctx, params.SecretKeyURI)
	default:
		return nil, errors.New("key params do not locate a secret key")
	}
	if err != nil {
		return nil, err
	}
	if params.KMSKeyURI != "" {
		if data, err = KMSDecryptData(ctx, params.KMSKeyURI, params.KMSCredentialPath, data); err != nil {
			return nil, err
		}
	}
	return ckksengine.UnmarshalSecretKey(ckksParams, data)
}

// NewClientEngine builds a full engine, able to encrypt and decrypt, from stored keys.
func NewClientEngine(ctx context.Context, params *KeyParams) (*ckksengine.Engine, error) {
	pk, err := ReadPublicKey(ctx, params)
	if err != nil {
		return nil, err
	}
	sk, err := ReadSecretKey(ctx, params)
	if err != nil {
		return nil, err
	}
	return ckksengine.New(params.Preset, params.LogScale, ckksengine.WithPublicKey(pk), ckksengine.WithSecretKey(sk))
}
