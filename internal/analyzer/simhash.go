package analyzer

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// SimHashBits is the number of bits in the SimHash
const SimHashBits = 64

// SimHash is a locality-sensitive hash over token n-grams. Unlike TLSH it
// works on inputs of any size, so it covers regions too small to hash.
type SimHash uint64

// SimHasher computes SimHash values over whitespace-separated tokens
type SimHasher struct {
	nGramSize int
}

// SimHasherOption is a functional option for SimHasher configuration
type SimHasherOption func(*SimHasher)

// WithNGramSize sets how many tokens make up one feature
func WithNGramSize(n int) SimHasherOption {
	return func(s *SimHasher) {
		if n > 0 {
			s.nGramSize = n
		}
	}
}

// NewSimHasher creates a hasher using 3-token features by default
func NewSimHasher(opts ...SimHasherOption) *SimHasher {
	s := &SimHasher{nGramSize: 3}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compute calculates the SimHash of the given content
func (s *SimHasher) Compute(content string) SimHash {
	features := s.features(content)
	if len(features) == 0 {
		return 0
	}

	var vector [SimHashBits]int
	for _, f := range features {
		h := fnv.New64a()
		h.Write([]byte(f))
		sum := h.Sum64()
		for i := 0; i < SimHashBits; i++ {
			if sum&(1<<i) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var out SimHash
	for i := 0; i < SimHashBits; i++ {
		if vector[i] > 0 {
			out |= 1 << i
		}
	}
	return out
}

func (s *SimHasher) features(content string) []string {
	words := strings.Fields(content)
	if len(words) < s.nGramSize {
		return words
	}
	out := make([]string, 0, len(words)-s.nGramSize+1)
	for i := 0; i <= len(words)-s.nGramSize; i++ {
		out = append(out, strings.Join(words[i:i+s.nGramSize], " "))
	}
	return out
}

// Distance is the Hamming distance, from 0 (identical) to 64
func (h SimHash) Distance(other SimHash) int {
	return bits.OnesCount64(uint64(h ^ other))
}

// Similarity returns the similarity percentage (0-100)
func (h SimHash) Similarity(other SimHash) float64 {
	return (1.0 - float64(h.Distance(other))/float64(SimHashBits)) * 100.0
}
