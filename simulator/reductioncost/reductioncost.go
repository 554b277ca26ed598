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

// Package reductioncost estimates the rotation and addition counts of the strategies that fold the
// lanes of an encrypted vector into one value, and picks the cheapest one.
package reductioncost

import (
	"fmt"
	"math/bits"

	"github.com/CHALABI-CERINE/my-he-project/shared/heerrors"
)

// Costs gives the relative price of one rotation and one addition.
type Costs struct {
	Rotation int `json:"rotation"`
	Addition int `json:"addition"`
}

var (
	// DefaultCosts is used by the aggregation service.
	DefaultCosts = Costs{Rotation: 20, Addition: 1}
	// OfflineCosts is used by the offline sweep.
	OfflineCosts = Costs{Rotation: 25, Addition: 1}
)

// Kind is a family of reduction strategies.
type Kind int

// Supported strategy kinds.
const (
	Binary Kind = iota
	Linear
	BlockWise
)

// Variant selects how BlockWise is priced.
type Variant int

const (
	// Ceiling splits N into ceil(N/b) blocks and reduces each block on its own. The block results are
	// combined with one addition per extra block.
	Ceiling Variant = iota
	// Nested is Ceiling plus a binary reduction across the blocks.
	Nested
	// Strict requires b to divide N and prices one inner and one outer binary reduction.
	Strict
)

// DefaultBlockSize is the block size of the default BlockWise candidate.
const DefaultBlockSize = 8

// Strategy is a candidate reduction. BlockSize is only used by BlockWise.
type Strategy struct {
	Kind      Kind
	BlockSize int
}

// Name returns the display name of the strategy.
func (s Strategy) Name() string {
	switch s.Kind {
	case Binary:
		return "Binary"
	case Linear:
		return "Linear"
	case BlockWise:
		return fmt.Sprintf("BlockWise(%d)", s.BlockSize)
	}
	return fmt.Sprintf("Kind(%d)", int(s.Kind))
}

func (s Strategy) desc() string {
	switch s.Kind {
	case Binary:
		return "Rotate by half and add until one lane is left. O(log n) rotations, best when N fits in one ciphertext."
	case Linear:
		return "Add the values one by one. No rotation but O(n) additions."
	case BlockWise:
		return "Reduce fixed-size blocks with binary steps, then combine the blocks. Suited to parallel work on large datasets."
	}
	return ""
}

// DefaultCandidates is the ordered candidate list used by Recommend when none is given.
func DefaultCandidates() []Strategy {
	return []Strategy{{Kind: Binary}, {Kind: Linear}, {Kind: BlockWise, BlockSize: DefaultBlockSize}}
}

// Estimate is the priced operation count of one strategy.
type Estimate struct {
	Name      string `json:"name"`
	Rotations int    `json:"rotations"`
	Additions int    `json:"additions"`
	TotalCost int    `json:"totalCost"`
	Desc      string `json:"desc"`
	Error     string `json:"error,omitempty"`
}

// binarySteps returns ceil(log2(n)), and 0 for n <= 1.
func binarySteps(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// EstimateCost prices strategy s for n values.
func EstimateCost(s Strategy, n int, variant Variant, costs Costs) (Estimate, error) {
	if n < 0 {
		return Estimate{}, heerrors.Validationf("n", "must be non-negative, got %d", n)
	}
	var rot, add int
	switch s.Kind {
	case Binary:
		rot = binarySteps(n)
		add = rot
	case Linear:
		if n > 0 {
			add = n - 1
		}
	case BlockWise:
		b := s.BlockSize
		if b <= 0 {
			return Estimate{}, heerrors.Validationf("blockSize", "must be positive, got %d", b)
		}
		inner := binarySteps(b)
		switch variant {
		case Strict:
			if n%b != 0 {
				return Estimate{}, heerrors.Validationf("blockSize", "%d does not divide %d", b, n)
			}
			outer := binarySteps(n / b)
			rot = inner + outer
			add = inner + outer
		case Ceiling, Nested:
			numBlocks := (n + b - 1) / b
			rot = inner * numBlocks
			add = inner * numBlocks
			if numBlocks > 1 {
				add += numBlocks - 1
			}
			if variant == Nested {
				outer := binarySteps(numBlocks)
				rot += outer
				add += outer
			}
		default:
			return Estimate{}, heerrors.Validationf("variant", "unknown variant %d", int(variant))
		}
	default:
		return Estimate{}, heerrors.Validationf("strategy", "unknown kind %d", int(s.Kind))
	}
	return Estimate{
		Name:      s.Name(),
		Rotations: rot,
		Additions: add,
		TotalCost: rot*costs.Rotation + add*costs.Addition,
		Desc:      s.desc(),
	}, nil
}

// Inputs echoes the parameters of an analysis.
type Inputs struct {
	NumElements int `json:"numElements"`
	SlotCount   int `json:"slotCount"`
	NumChunks   int `json:"numChunks"`
}

// Analysis lists every candidate estimate and the name of the cheapest one.
type Analysis struct {
	Inputs         Inputs     `json:"inputs"`
	Strategies     []Estimate `json:"strategies"`
	Recommendation string     `json:"recommendation"`
}

// Options tunes Recommend. The zero value uses DefaultCandidates, Ceiling and DefaultCosts.
type Options struct {
	Candidates []Strategy
	Variant    Variant
	Costs      *Costs
}

// Recommend prices each candidate in order and recommends the first one with the smallest total
// cost. Candidates that cannot be priced are listed with their error and never recommended.
func Recommend(n, slots int, opts Options) (*Analysis, error) {
	if n < 0 {
		return nil, heerrors.Validationf("n", "must be non-negative, got %d", n)
	}
	if slots <= 0 {
		return nil, heerrors.Validationf("slots", "must be positive, got %d", slots)
	}
	candidates := opts.Candidates
	if len(candidates) == 0 {
		candidates = DefaultCandidates()
	}
	costs := DefaultCosts
	if opts.Costs != nil {
		costs = *opts.Costs
	}

	a := &Analysis{Inputs: Inputs{NumElements: n, SlotCount: slots, NumChunks: (n + slots - 1) / slots}}
	best := -1
	for _, s := range candidates {
		e, err := EstimateCost(s, n, opts.Variant, costs)
		if err != nil {
			a.Strategies = append(a.Strategies, Estimate{Name: s.Name(), Desc: s.desc(), Error: err.Error()})
			continue
		}
		a.Strategies = append(a.Strategies, e)
		if best < 0 || e.TotalCost < a.Strategies[best].TotalCost {
			best = len(a.Strategies) - 1
		}
	}
	if best >= 0 {
		a.Recommendation = a.Strategies[best].Name
	}
	return a, nil
}

// Verdict compares a strategy against the binary baseline.
type Verdict string

// Verdicts of a sweep row.
const (
	Faster Verdict = "Faster"
	Slower Verdict = "Slower"
	Equal  Verdict = "Equal"
)

// SweepRow is one line of an offline sweep.
type SweepRow struct {
	N         int     `json:"N"`
	Method    string  `json:"method"`
	Rotations int     `json:"rotations"`
	Additions int     `json:"adds"`
	Score     int     `json:"score"`
	Verdict   Verdict `json:"verdict,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Sweep prices Binary and every Strict BlockWise(b) with b < N for each size, and tags each
// BlockWise row against the Binary row of the same size.
func Sweep(sizes, blockSizes []int, costs Costs) []SweepRow {
	var rows []SweepRow
	for _, n := range sizes {
		bin, err := EstimateCost(Strategy{Kind: Binary}, n, Strict, costs)
		if err != nil {
			rows = append(rows, SweepRow{N: n, Method: Strategy{Kind: Binary}.Name(), Error: err.Error()})
			continue
		}
		rows = append(rows, SweepRow{N: n, Method: bin.Name, Rotations: bin.Rotations, Additions: bin.Additions, Score: bin.TotalCost})
		for _, b := range blockSizes {
			if b >= n {
				continue
			}
			s := Strategy{Kind: BlockWise, BlockSize: b}
			e, err := EstimateCost(s, n, Strict, costs)
			if err != nil {
				rows = append(rows, SweepRow{N: n, Method: s.Name(), Error: err.Error()})
				continue
			}
			row := SweepRow{N: n, Method: e.Name, Rotations: e.Rotations, Additions: e.Additions, Score: e.TotalCost}
			switch {
			case e.TotalCost < bin.TotalCost:
				row.Verdict = Faster
			case e.TotalCost > bin.TotalCost:
				row.Verdict = Slower
			default:
				row.Verdict = Equal
			}
			rows = append(rows, row)
		}
	}
	return rows
}
