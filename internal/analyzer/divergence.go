package analyzer

import (
	"bytes"
	"encoding/binary"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/strenc"
	"github.com/obfusk8/obfusk8/internal/vm"
)

// Render returns the canonical byte form of a region that divergence is
// measured over: its printed IR, the disassembly and raw code of every
// virtualized run, and the string table ciphertexts.
func Render(r *ir.Region) []byte {
	var buf bytes.Buffer
	buf.WriteString(ir.Format(r))

	ir.InspectStmts(r.Body, func(s ir.Stmt) bool {
		v, ok := s.(*ir.Virtual)
		if !ok {
			return true
		}
		if p, ok := v.Code.(*vm.Program); ok {
			buf.WriteString(p.Disassemble())
			for _, w := range p.Code {
				buf.Write(binary.LittleEndian.AppendUint32(nil, w))
			}
		}
		return true
	})

	if tbl, ok := r.Strings.(*strenc.Table); ok {
		for _, e := range tbl.Entries {
			buf.Write(e.Data)
		}
	}
	return buf.Bytes()
}

// Comparison is the distance between two renderings of a region
type Comparison struct {
	// Hashable is false when TLSH could not hash a rendering (too small or
	// too uniform) and the SimHash distance was used instead
	Hashable bool
	Distance int
	Level    TLSHSimilarityLevel
	// Different means the renderings are not even loosely similar
	Different bool
}

// Comparer compares region renderings
type Comparer struct {
	tlsh *TLSHAnalyzer
	sim  *SimHasher
}

// NewComparer creates a comparer; a nil config selects the TLSH defaults
func NewComparer(config *TLSHConfig) *Comparer {
	return &Comparer{tlsh: NewTLSHAnalyzer(config), sim: NewSimHasher()}
}

// Compare measures how far b moved from a
func (c *Comparer) Compare(a, b *ir.Region) *Comparison {
	return c.CompareBytes(Render(a), Render(b))
}

// CompareBytes compares two renderings directly
func (c *Comparer) CompareBytes(a, b []byte) *Comparison {
	if res, err := c.tlsh.CompareContents(a, b); err == nil {
		return &Comparison{
			Hashable:  true,
			Distance:  res.Distance,
			Level:     ClassifyDistance(res.Distance),
			Different: !res.IsSimilar,
		}
	}
	d := c.sim.Compute(string(a)).Distance(c.sim.Compute(string(b)))
	if bytes.Equal(a, b) {
		d = 0
	}
	return &Comparison{
		Distance:  d,
		Level:     classifySimHash(d),
		Different: d > SimHashBits/4,
	}
}

// classifySimHash maps a Hamming distance onto the TLSH levels
func classifySimHash(d int) TLSHSimilarityLevel {
	switch {
	case d == 0:
		return TLSHIdentical
	case d <= 3:
		return TLSHNearlySame
	case d <= 8:
		return TLSHVerySimilar
	case d <= 16:
		return TLSHSimilar
	case d <= 24:
		return TLSHSomewhatSimilar
	default:
		return TLSHDifferent
	}
}
