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

// Package chunktransport uploads encrypted chunks to the aggregation server and calls its API.
package chunktransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/golang/glog"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/CHALABI-CERINE/my-he-project/encryption/ckksengine"
	"github.com/CHALABI-CERINE/my-he-project/pipeline/slotpacker"
	"github.com/CHALABI-CERINE/my-he-project/service/accumulationstore"
	"github.com/CHALABI-CERINE/my-he-project/service/aggregatorservice"
	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
	"github.com/CHALABI-CERINE/my-he-project/simulator/reductioncost"
)

// Defaults of Config.
const (
	DefaultBatchWidth = 5
	DefaultRetryMax   = 3
	DefaultTimeout    = 30 * time.Second
)

// Config contains the parameters of a Client. Zero values select the defaults.
type Config struct {
	// BaseURL is the address of the server, e.g. "http://localhost:4000".
	BaseURL string
	// Session names the server-side session; empty means the default session.
	Session string
	// BatchWidth is the number of chunks uploaded concurrently. A batch completes before the next one starts.
	BatchWidth int
	// RetryMax is the number of retries of a request that failed on the network or with a 5xx status.
	// A negative value disables retries.
	RetryMax                   int
	RetryWaitMin, RetryWaitMax time.Duration
	Timeout                    time.Duration
}

// Client talks to one session of an aggregation server.
type Client struct {
	cfg    Config
	client *http.Client
}

// glogLogger routes the retry logs of retryablehttp to glog.
type glogLogger struct{}

func (glogLogger) Error(msg string, keysAndValues ...interface{}) {
	log.Errorf("%s %v", msg, keysAndValues)
}

func (glogLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.Warningf("%s %v", msg, keysAndValues)
}

func (glogLogger) Info(msg string, keysAndValues ...interface{}) {
	log.V(2).Infof("%s %v", msg, keysAndValues)
}

func (glogLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.V(3).Infof("%s %v", msg, keysAndValues)
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BatchWidth <= 0 {
		cfg.BatchWidth = DefaultBatchWidth
	}
	switch {
	case cfg.RetryMax == 0:
		cfg.RetryMax = DefaultRetryMax
	case cfg.RetryMax < 0:
		cfg.RetryMax = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Session == "" {
		cfg.Session = accumulationstore.DefaultSession
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = glogLogger{}
	// Keep the last response so that the error reported by the server reaches the caller.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{cfg: cfg, client: rc.StandardClient()}
}

// Session returns the session the client works on.
func (c *Client) Session() string {
	return c.cfg.Session
}

// WithSession returns a copy of the client bound to another session.
func (c *Client) WithSession(session string) *Client {
	cfg := c.cfg
	cfg.Session = session
	return &Client{cfg: cfg, client: c.client}
}

func (c *Client) endpoint(path string) string {
	return c.cfg.BaseURL + path + "?" + url.Values{aggregatorservice.SessionParam: {c.cfg.Session}}.Encode()
}

// call sends a JSON request and decodes the JSON response into out. index is the chunk index
// reported in a TransportError, or -1.
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}, index int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &heerrors.TransportError{Index: index, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return &heerrors.TransportError{Index: index, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return remoteError(resp.Status, b, c.cfg.Session, index)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return &heerrors.TransportError{Index: index, Err: fmt.Errorf("failed in decoding response: %v", err)}
	}
	return nil
}

// remoteError rebuilds the typed error reported by the server.
func remoteError(status string, body []byte, session string, index int) error {
	er := &aggregatorservice.ErrorResponse{}
	if err := json.Unmarshal(body, er); err != nil || er.Kind == "" {
		return &heerrors.TransportError{Index: index, Err: fmt.Errorf("server returned %s: %s", status, bytes.TrimSpace(body))}
	}
	switch er.Kind {
	case heerrors.KindValidation, heerrors.KindEmptySession, heerrors.KindEngine:
		return heerrors.FromKind(er.Kind, er.Error, session)
	}
	return &heerrors.TransportError{Index: index, Err: fmt.Errorf("server returned %s: %s", status, er.Error)}
}

// Reset empties the session on the server.
func (c *Client) Reset(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, aggregatorservice.ResetPath, nil, nil, -1)
}

// NewSession asks the server for a fresh session and returns a client bound to it.
func (c *Client) NewSession(ctx context.Context) (*Client, error) {
	resp := &aggregatorservice.SessionResponse{}
	if err := c.call(ctx, http.MethodPost, aggregatorservice.SessionPath, nil, resp, -1); err != nil {
		return nil, err
	}
	return c.WithSession(resp.Session), nil
}

// DeleteSession drops the session on the server.
func (c *Client) DeleteSession(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, aggregatorservice.SessionPath, nil, nil, -1)
}

// UploadChunk uploads a single chunk.
func (c *Client) UploadChunk(ctx context.Context, chunk *slotpacker.EncryptedChunk) error {
	index, blob := chunk.Index, chunk.Ciphertext
	return c.call(ctx, http.MethodPost, aggregatorservice.UploadChunkPath,
		&aggregatorservice.UploadRequest{Index: &index, Ciphertext: &blob}, nil, chunk.Index)
}

// Upload sends the chunks in batches of BatchWidth concurrent requests. Each batch completes before
// the next one starts, and the first failure stops the upload.
func (c *Client) Upload(ctx context.Context, chunks []*slotpacker.EncryptedChunk) error {
	for start := 0; start < len(chunks); start += c.cfg.BatchWidth {
		end := start + c.cfg.BatchWidth
		if end > len(chunks) {
			end = len(chunks)
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, chunk := range chunks[start:end] {
			chunk := chunk
			g.Go(func() error {
				return c.UploadChunk(gctx, chunk)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		log.V(2).Infof("uploaded %d/%d chunks", end, len(chunks))
	}
	log.Infof("uploaded %d chunks to session %s", len(chunks), c.cfg.Session)
	return nil
}

// ComputeStats folds the session on the server.
func (c *Client) ComputeStats(ctx context.Context) (*accumulationstore.FoldResult, error) {
	res := &accumulationstore.FoldResult{}
	if err := c.call(ctx, http.MethodPost, aggregatorservice.ComputeStatsPath, nil, res, -1); err != nil {
		return nil, err
	}
	return res, nil
}

// Params reads the public CKKS parameters of the server.
func (c *Client) Params(ctx context.Context) (*ckksengine.ParamsInfo, error) {
	info := &ckksengine.ParamsInfo{}
	if err := c.call(ctx, http.MethodGet, aggregatorservice.ParamsPath, nil, info, -1); err != nil {
		return nil, err
	}
	return info, nil
}

// SimulateOptimizer asks the server to price the reduction strategies.
func (c *Client) SimulateOptimizer(ctx context.Context, req *aggregatorservice.OptimizerRequest) (*reductioncost.Analysis, error) {
	a := &reductioncost.Analysis{}
	if err := c.call(ctx, http.MethodPost, aggregatorservice.SimulateOptimizerPath, req, a, -1); err != nil {
		return nil, err
	}
	return a, nil
}

// SimulateNoise asks the server to simulate the encoding error at a scale.
func (c *Client) SimulateNoise(ctx context.Context, req *aggregatorservice.NoiseRequest) (*aggregatorservice.NoiseResponse, error) {
	res := &aggregatorservice.NoiseResponse{}
	if err := c.call(ctx, http.MethodPost, aggregatorservice.SimulateNoisePath, req, res, -1); err != nil {
		return nil, err
	}
	return res, nil
}
