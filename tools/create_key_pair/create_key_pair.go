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

// This binary creates a CKKS key pair for the data owner.
package main

import (
	"context"
	"flag"

	log "github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/CHALABI-CERINE/my-he-project/encryption/ckksengine"
	"github.com/CHALABI-CERINE/my-he-project/encryption/cryptoio"
	"github.com/CHALABI-CERINE/my-he-project/shared/utils"
)

var (
	preset            = flag.String("preset", ckksengine.PN13, "CKKS parameter preset.")
	logScale          = flag.Int("log_scale", ckksengine.DefaultLogScale, "Default CKKS scale in bits.")
	kmsKeyURI         = flag.String("kms_key_uri", "", "Key URI of the GCP KMS service.")
	kmsCredentialFile = flag.String("kms_credential_file", "", "Path of the JSON file that stores the credential information for the KMS service.")
	secretProjectID   = flag.String("secret_project_id", "", "ID of the GCP project that provides the SecretManager service.")
	keyDir            = flag.String("key_dir", "", "Output directory for the keys, local or GCS.")
	keyParamsFile     = flag.String("key_params_file", "", "Output file that includes information about how to get the keys.")
)

func main() {
	flag.Parse()

	ctx := context.Background()
	params, err := ckksengine.NewParameters(*preset, *logScale)
	if err != nil {
		log.Exit(err)
	}
	sk, pk := ckksengine.GenerateKeyPair(params)

	if *kmsKeyURI == "" {
		log.Warning("non-encrypted secret key should be stored only for testing")
	}

	keyID := uuid.New()
	keyParams, err := cryptoio.SaveKeyPair(ctx, *preset, *logScale, sk, pk, &cryptoio.SaveKeyParams{
		KMSKeyURI:         *kmsKeyURI,
		KMSCredentialPath: *kmsCredentialFile,
		SecretProjectID:   *secretProjectID,
		SecretID:          "ckks-secret-key-" + keyID,
		PublicKeyURI:      utils.JoinPath(*keyDir, keyID+".pub"),
		SecretKeyURI:      utils.JoinPath(*keyDir, keyID+".sec"),
	})
	if err != nil {
		log.Exit(err)
	}
	if err := cryptoio.SaveKeyParamsFile(ctx, keyParams, *keyParamsFile); err != nil {
		log.Exit(err)
	}
	log.Infof("key pair %s for preset %s written, key params in %s", keyID, *preset, *keyParamsFile)
}
