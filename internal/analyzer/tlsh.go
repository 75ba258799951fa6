// Package analyzer measures how far protected regions diverge structurally
// from their source and from builds under other seeds, using TLSH and
// SimHash fuzzy hashes over a canonical rendering of each region.
package analyzer

import (
	"errors"

	"github.com/glaslos/tlsh"
)

// ErrTooSmall means the content is below the TLSH minimum size
var ErrTooSmall = errors.New("content too small for TLSH computation")

// TLSHHash represents a TLSH hash value
type TLSHHash struct {
	hash *tlsh.TLSH
	raw  string
}

// TLSHConfig holds configuration for TLSH analysis
type TLSHConfig struct {
	// MinDataSize is the smallest rendering TLSH is computed for
	MinDataSize int

	// SimilarityThreshold is the largest distance still reported as similar
	SimilarityThreshold int

	// HighSimilarityThreshold is the largest distance reported as highly similar
	HighSimilarityThreshold int
}

// DefaultTLSHConfig returns sensible default configuration
func DefaultTLSHConfig() *TLSHConfig {
	return &TLSHConfig{
		MinDataSize:             50,
		SimilarityThreshold:     100,
		HighSimilarityThreshold: 30,
	}
}

// TLSH distances rarely exceed this; similarity percentages scale against it
const maxDistance = 300.0

// TLSHAnalyzer provides TLSH-based similarity analysis
type TLSHAnalyzer struct {
	config *TLSHConfig
}

// NewTLSHAnalyzer creates a new TLSH analyzer
func NewTLSHAnalyzer(config *TLSHConfig) *TLSHAnalyzer {
	if config == nil {
		config = DefaultTLSHConfig()
	}
	return &TLSHAnalyzer{
		config: config,
	}
}

// ComputeHash computes the TLSH hash for the given content
func (a *TLSHAnalyzer) ComputeHash(content []byte) (*TLSHHash, error) {
	if len(content) < a.config.MinDataSize {
		return nil, ErrTooSmall
	}

	hash, err := tlsh.HashBytes(content)
	if err != nil {
		return nil, err
	}

	return &TLSHHash{
		hash: hash,
		raw:  hash.String(),
	}, nil
}

// TLSHResult represents the result of TLSH comparison
type TLSHResult struct {
	// Distance is the TLSH distance (0 = identical, higher = more different)
	Distance int

	// Similarity is the similarity percentage (100 = identical, 0 = completely different)
	Similarity float64

	// IsSimilar indicates if content is within similarity threshold
	IsSimilar bool

	// IsHighlySimilar indicates if content is within high similarity threshold
	IsHighlySimilar bool

	// ReferenceHash is the hash of the reference rendering
	ReferenceHash string

	// CurrentHash is the hash of the compared rendering
	CurrentHash string
}

// CompareHashes compares two TLSH hashes directly
func (a *TLSHAnalyzer) CompareHashes(hash1, hash2 *TLSHHash) *TLSHResult {
	distance := hash1.hash.Diff(hash2.hash)

	similarity := (1.0 - float64(distance)/maxDistance) * 100.0
	if similarity < 0 {
		similarity = 0
	}

	return &TLSHResult{
		Distance:        distance,
		Similarity:      similarity,
		IsSimilar:       distance <= a.config.SimilarityThreshold,
		IsHighlySimilar: distance <= a.config.HighSimilarityThreshold,
		ReferenceHash:   hash1.raw,
		CurrentHash:     hash2.raw,
	}
}

// CompareContents compares two content byte slices directly
func (a *TLSHAnalyzer) CompareContents(content1, content2 []byte) (*TLSHResult, error) {
	hash1, err := a.ComputeHash(content1)
	if err != nil {
		return nil, err
	}

	hash2, err := a.ComputeHash(content2)
	if err != nil {
		return nil, err
	}

	return a.CompareHashes(hash1, hash2), nil
}

// String returns the hash string representation
func (h *TLSHHash) String() string {
	if h == nil || h.hash == nil {
		return ""
	}
	return h.raw
}

// Distance calculates distance between two TLSHHash values
func (h *TLSHHash) Distance(other *TLSHHash) int {
	if h == nil || other == nil || h.hash == nil || other.hash == nil {
		return -1
	}
	return h.hash.Diff(other.hash)
}

// Similarity returns similarity percentage between two hashes
func (h *TLSHHash) Similarity(other *TLSHHash) float64 {
	distance := h.Distance(other)
	if distance < 0 {
		return 0
	}
	similarity := (1.0 - float64(distance)/maxDistance) * 100.0
	if similarity < 0 {
		return 0
	}
	return similarity
}

// TLSHSimilarityLevel represents categorized similarity levels
type TLSHSimilarityLevel int

const (
	TLSHIdentical       TLSHSimilarityLevel = iota // Distance 0
	TLSHNearlySame                                 // Distance 1-10
	TLSHVerySimilar                                // Distance 11-30
	TLSHSimilar                                    // Distance 31-100
	TLSHSomewhatSimilar                            // Distance 101-200
	TLSHDifferent                                  // Distance 201+
)

func (l TLSHSimilarityLevel) String() string {
	switch l {
	case TLSHIdentical:
		return "identical"
	case TLSHNearlySame:
		return "nearly_same"
	case TLSHVerySimilar:
		return "very_similar"
	case TLSHSimilar:
		return "similar"
	case TLSHSomewhatSimilar:
		return "somewhat_similar"
	case TLSHDifferent:
		return "different"
	default:
		return "unknown"
	}
}

// ClassifyDistance categorizes a TLSH distance into similarity levels
func ClassifyDistance(distance int) TLSHSimilarityLevel {
	switch {
	case distance == 0:
		return TLSHIdentical
	case distance <= 10:
		return TLSHNearlySame
	case distance <= 30:
		return TLSHVerySimilar
	case distance <= 100:
		return TLSHSimilar
	case distance <= 200:
		return TLSHSomewhatSimilar
	default:
		return TLSHDifferent
	}
}
