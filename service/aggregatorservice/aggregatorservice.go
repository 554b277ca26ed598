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

// Package aggregatorservice contains the HTTP handler of the server which stores encrypted chunks
// and folds them into encrypted aggregates.
package aggregatorservice

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"

	log "github.com/golang/glog"

	"github.com/CHALABI-CERINE/my-he-project/encryption/ckksengine"
	"github.com/CHALABI-CERINE/my-he-project/encryption/heengine"
	"github.com/CHALABI-CERINE/my-he-project/service/accumulationstore"
	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
	"github.com/CHALABI-CERINE/my-he-project/simulator/noisesimulator"
	"github.com/CHALABI-CERINE/my-he-project/simulator/reductioncost"
)

// Supported URL paths.
const (
	ResetPath             = "/api/reset"
	UploadChunkPath       = "/api/upload-chunk"
	ComputeStatsPath      = "/api/compute-stats"
	SimulateOptimizerPath = "/api/simulate-optimizer"
	SimulateNoisePath     = "/api/simulate-noise"
	SessionPath           = "/api/session"
	ParamsPath            = "/api/params"

	// SessionParam is the query parameter naming the session of a request.
	SessionParam = "session"
)

const (
	maxBodyBytes      = 50 << 20
	defaultOptimizerN = 1000
	defaultNoiseScale = ckksengine.DefaultLogScale
)

// Evaluator is the engine surface needed by the server: folding plus the public parameters.
type Evaluator interface {
	heengine.Evaluator
	Info() ckksengine.ParamsInfo
}

// UploadRequest is the body of an upload-chunk request. Both fields are required.
type UploadRequest struct {
	Index      *int    `json:"index"`
	Ciphertext *string `json:"ciphertext"`
}

// OptimizerRequest is the body of a simulate-optimizer request.
type OptimizerRequest struct {
	N         int  `json:"n"`
	Slots     int  `json:"slots"`
	BlockSize int  `json:"blockSize,omitempty"`
	Strict    bool `json:"strict,omitempty"`
}

// NoiseRequest is the body of a simulate-noise request.
type NoiseRequest struct {
	Data  []float64 `json:"data"`
	Scale int       `json:"scale"`
}

// NoiseResponse reports a simulated run. MRE is omitted when it is not finite.
type NoiseResponse struct {
	ScaleBits    int      `json:"scaleBits"`
	RealAvg      float64  `json:"realAvg"`
	NoisyAvg     float64  `json:"noisyAvg"`
	MAE          float64  `json:"mae"`
	MRE          *float64 `json:"mre,omitempty"`
	IsAcceptable bool     `json:"isAcceptable"`
}

// StatusResponse acknowledges reset and upload requests.
type StatusResponse struct {
	Status  string `json:"status"`
	Session string `json:"session,omitempty"`
	Index   *int   `json:"index,omitempty"`
}

// SessionResponse carries a newly created session ID.
type SessionResponse struct {
	Session string `json:"session"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Handler serves the aggregation API.
type Handler struct {
	eval  Evaluator
	store *accumulationstore.Store
}

// NewHandler creates a Handler with an empty store folding with eval.
func NewHandler(eval Evaluator, opts ...accumulationstore.Option) *Handler {
	return &Handler{eval: eval, store: accumulationstore.New(eval, opts...)}
}

// Store returns the session store behind the handler.
func (h *Handler) Store() *accumulationstore.Store {
	return h.store
}

func sessionOf(req *http.Request) string {
	if s := req.URL.Query().Get(SessionParam); s != "" {
		return s
	}
	return accumulationstore.DefaultSession
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch {
	case req.Method == http.MethodGet && req.URL.Path == ParamsPath:
		writeJSON(w, http.StatusOK, h.eval.Info())
		return
	case req.Method == http.MethodGet:
		log.V(2).Info("GET Request received.")
		w.WriteHeader(http.StatusOK)
		return
	case req.Method == http.MethodDelete && req.URL.Path == SessionPath:
		h.store.Delete(sessionOf(req))
		writeJSON(w, http.StatusOK, &StatusResponse{Status: "deleted", Session: sessionOf(req)})
		return
	case req.Method != http.MethodPost:
		http.Error(w, "Unsupported method", http.StatusMethodNotAllowed)
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	var (
		resp interface{}
		err  error
	)
	switch req.URL.Path {
	case ResetPath:
		resp = h.reset(req)
	case UploadChunkPath:
		resp, err = h.uploadChunk(req)
	case ComputeStatsPath:
		resp, err = h.store.Fold(req.Context(), sessionOf(req))
	case SimulateOptimizerPath:
		resp, err = h.simulateOptimizer(req)
	case SimulateNoisePath:
		resp, err = h.simulateNoise(req)
	case SessionPath:
		resp = h.newSession()
	default:
		errMsg := "Unsupported path"
		http.Error(w, errMsg, http.StatusNotFound)
		log.Error(errMsg, req.URL.Path)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) reset(req *http.Request) *StatusResponse {
	id := sessionOf(req)
	h.store.Reset(id)
	log.Infof("session %s reset", id)
	return &StatusResponse{Status: "ok", Session: id}
}

func (h *Handler) newSession() *SessionResponse {
	id := accumulationstore.NewSessionID()
	h.store.Reset(id)
	return &SessionResponse{Session: id}
}

func (h *Handler) uploadChunk(req *http.Request) (*StatusResponse, error) {
	body := &UploadRequest{}
	if err := decodeBody(req, body); err != nil {
		return nil, err
	}
	if body.Index == nil {
		return nil, heerrors.Validationf("index", "missing field")
	}
	if body.Ciphertext == nil {
		return nil, heerrors.Validationf("ciphertext", "missing field")
	}
	if err := h.store.Put(sessionOf(req), *body.Index, *body.Ciphertext); err != nil {
		return nil, err
	}
	return &StatusResponse{Status: "received", Index: body.Index}, nil
}

func (h *Handler) simulateOptimizer(req *http.Request) (*reductioncost.Analysis, error) {
	body := &OptimizerRequest{}
	if err := decodeBody(req, body); err != nil {
		return nil, err
	}
	n, slots := body.N, body.Slots
	if n <= 0 {
		n = defaultOptimizerN
	}
	if slots <= 0 {
		slots = h.eval.SlotCapacity()
	}
	opts := reductioncost.Options{}
	if body.BlockSize != 0 {
		opts.Candidates = []reductioncost.Strategy{
			{Kind: reductioncost.Binary},
			{Kind: reductioncost.Linear},
			{Kind: reductioncost.BlockWise, BlockSize: body.BlockSize},
		}
	}
	if body.Strict {
		opts.Variant = reductioncost.Strict
	}
	return reductioncost.Recommend(n, slots, opts)
}

func (h *Handler) simulateNoise(req *http.Request) (*NoiseResponse, error) {
	body := &NoiseRequest{}
	if err := decodeBody(req, body); err != nil {
		return nil, err
	}
	scale := body.Scale
	if scale == 0 {
		scale = defaultNoiseScale
	}
	res, err := noisesimulator.Simulate(body.Data, scale, nil)
	if err != nil {
		return nil, err
	}
	resp := &NoiseResponse{
		ScaleBits:    res.ScaleBits,
		RealAvg:      res.RealAvg,
		NoisyAvg:     res.NoisyAvg,
		MAE:          res.MAE,
		IsAcceptable: res.IsAcceptable,
	}
	if !math.IsInf(res.MRE, 0) && !math.IsNaN(res.MRE) {
		mre := res.MRE
		resp.MRE = &mre
	}
	return resp, nil
}

// decodeBody parses a JSON request body. An empty body leaves v at its zero value.
func decodeBody(req *http.Request, v interface{}) error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return heerrors.Validationf("body", "failed in decoding request: %v", err)
	}
	return nil
}

// StatusCode maps an error kind to the HTTP status of the response.
func StatusCode(err error) int {
	switch heerrors.Kind(err) {
	case heerrors.KindValidation, heerrors.KindEmptySession:
		return http.StatusBadRequest
	case heerrors.KindTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	log.Error(err)
	writeJSON(w, StatusCode(err), &ErrorResponse{Error: err.Error(), Kind: heerrors.Kind(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err)
	}
}
