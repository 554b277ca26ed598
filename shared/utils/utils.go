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

// Package utils contains the storage and encoding helpers shared by the client tools and the aggregation server.
package utils

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"cloud.google.com/go/storage"
	"github.com/ugorji/go/codec"
)

const gcsScheme = "gs://"

// ParseGCSPath gets the bucket and object names from the input filename.
func ParseGCSPath(filename string) (bucket, object string, err error) {
	parsed, err := url.Parse(filename)
	if err != nil {
		return
	}
	if parsed.Scheme != "gs" {
		err = fmt.Errorf("object %q must have 'gs' scheme", filename)
		return
	}
	if parsed.Host == "" {
		err = fmt.Errorf("object %q must have bucket", filename)
		return
	}

	bucket = parsed.Host
	if parsed.Path != "" {
		object = parsed.Path[1:]
	}
	return
}

func newGCSReader(ctx context.Context, filename string) (io.ReadCloser, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	bucket, object, err := ParseGCSPath(filename)
	if err != nil {
		client.Close()
		return nil, err
	}
	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &gcsReadCloser{Reader: reader, client: client}, nil
}

type gcsReadCloser struct {
	*storage.Reader
	client *storage.Client
}

func (r *gcsReadCloser) Close() error {
	err := r.Reader.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadLines reads the input file line by line and returns the content as a slice of strings.
//
// The file can be stored locally or in the GCS.
func ReadLines(ctx context.Context, filename string) ([]string, error) {
	var reader io.ReadCloser
	var err error
	if strings.HasPrefix(filename, gcsScheme) {
		reader, err = newGCSReader(ctx, filename)
	} else {
		reader, err = os.Open(filename)
	}
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	// Dataset lines are short, but key params and reports may exceed the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var result []string
	for scanner.Scan() {
		result = append(result, scanner.Text())
	}
	return result, scanner.Err()
}

// WriteLines writes the input string slice to the output file, one string per line.
//
// The file can be stored locally or in the GCS.
func WriteLines(ctx context.Context, lines []string, filename string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return WriteBytes(ctx, buf.Bytes(), filename)
}

func writeGCSObject(ctx context.Context, data []byte, filename string) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	bucket, object, err := ParseGCSPath(filename)
	if err != nil {
		return err
	}
	writer := client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// WriteBytes writes bytes into a local or GCS file.
//
// Missing local parent directories are created.
func WriteBytes(ctx context.Context, data []byte, filename string) error {
	if strings.HasPrefix(filename, gcsScheme) {
		return writeGCSObject(ctx, data, filename)
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(filename, data, 0644)
}

func readBytesFromURL(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reading %s: unexpected status %s", u, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// ReadBytes reads bytes from a file stored locally, in GCS or served at an URL.
func ReadBytes(ctx context.Context, filename string) ([]byte, error) {
	u, err := url.Parse(filename)
	if err == nil {
		switch u.Scheme {
		case "gs":
			reader, err := newGCSReader(ctx, filename)
			if err != nil {
				return nil, err
			}
			defer reader.Close()
			return io.ReadAll(reader)
		case "http", "https":
			return readBytesFromURL(ctx, filename)
		}
	}
	return os.ReadFile(filename)
}

// WriteJSON marshals v and writes it into a local or GCS file.
func WriteJSON(ctx context.Context, v interface{}, filename string) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteBytes(ctx, b, filename)
}

// ReadJSON reads a local, GCS or URL file and unmarshals it into v.
func ReadJSON(ctx context.Context, filename string, v interface{}) error {
	b, err := ReadBytes(ctx, filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// MarshalCBOR serializes the input data in CBOR format.
func MarshalCBOR(v interface{}) ([]byte, error) {
	encBuf := new(bytes.Buffer)
	enc := codec.NewEncoder(encBuf, &codec.CborHandle{})
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return encBuf.Bytes(), nil
}

// UnmarshalCBOR parses the bytes in CBOR format.
func UnmarshalCBOR(b []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(b, &codec.CborHandle{})
	return dec.Decode(v)
}

// JoinPath joins the directory and the filename to get the full path of a file.
func JoinPath(directory, filename string) string {
	// Function path.Join does not work for GCS files, for example:
	// path.Join("gs://foo", "bar") returns "gs:/foo/bar"
	if strings.HasPrefix(directory, gcsScheme) {
		if strings.HasSuffix(directory, "/") {
			return fmt.Sprintf("%s%s", directory, filename)
		}
		return fmt.Sprintf("%s/%s", directory, filename)
	}
	return path.Join(directory, filename)
}

// SaveSecret saves the input payload with Google Cloud Secret Manager and returns the secret version name.
func SaveSecret(ctx context.Context, payload []byte, projectID, secretID string) (string, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	secret, err := client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   fmt.Sprintf("projects/%s", projectID),
		SecretId: secretID,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	version, err := client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  secret.Name,
		Payload: &secretmanagerpb.SecretPayload{Data: payload},
	})
	if err != nil {
		return "", err
	}
	return version.Name, nil
}

// ReadSecret reads a secret payload from Google Cloud Secret Manager.
func ReadSecret(ctx context.Context, name string) ([]byte, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, err
	}
	return result.Payload.Data, nil
}

// ParseIntList parses a comma-separated list of integers, ignoring empty fields.
func ParseIntList(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %v", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}
