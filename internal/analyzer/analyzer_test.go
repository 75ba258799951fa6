package analyzer

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/keystore"
	"github.com/obfusk8/obfusk8/internal/natives"
	"github.com/obfusk8/obfusk8/internal/pipeline"
	"github.com/obfusk8/obfusk8/pkg/types"
)

const sumSrc = `package demo

//obf:protect profile=heavy
func sum(n int64) int64 {
	s := int64(0)
	for n > 0 {
		s = obf.Add(s, n)
		n--
	}
	println(obf.Str("sum done"))
	return s
}
`

func build(t *testing.T, seed uint64) (*ir.Region, *ir.Region) {
	t.Helper()
	regions, err := ir.ParseFile("sum.go", []byte(sumSrc), ir.Options{Natives: natives.Signatures})
	require.NoError(t, err)
	require.Len(t, regions, 1)

	log := logrus.New()
	log.SetOutput(io.Discard)
	p := pipeline.New(keystore.NewContext(seed, keystore.Options{}), pipeline.Options{Logger: log})
	prot, err := p.Protect(context.Background(), regions[0], types.Heavy)
	require.NoError(t, err)
	return prot.Original, prot.Region
}

func TestRenderIncludesPrograms(t *testing.T) {
	orig, heavy := build(t, 5)

	plain := Render(orig)
	assert.Contains(t, string(plain), "sum done")

	out := Render(heavy)
	assert.Greater(t, len(out), len(plain))
	assert.NotContains(t, string(out), "sum done")
}

func TestCompareIdentical(t *testing.T) {
	_, heavy := build(t, 5)
	c := NewComparer(nil)

	res := c.Compare(heavy, heavy)
	assert.True(t, res.Hashable)
	assert.Equal(t, 0, res.Distance)
	assert.Equal(t, TLSHIdentical, res.Level)
	assert.False(t, res.Different)
}

func TestCompareDiverges(t *testing.T) {
	orig, heavy := build(t, 5)
	_, other := build(t, 6)
	c := NewComparer(nil)

	res := c.Compare(orig, heavy)
	assert.Greater(t, res.Distance, 0)
	assert.NotEqual(t, TLSHIdentical, res.Level)

	res = c.Compare(heavy, other)
	assert.Greater(t, res.Distance, 0)
}

func TestCompareSmallFallsBackToSimHash(t *testing.T) {
	c := NewComparer(nil)

	res := c.CompareBytes([]byte("x := 1"), []byte("x := 1"))
	assert.False(t, res.Hashable)
	assert.Equal(t, 0, res.Distance)
	assert.Equal(t, TLSHIdentical, res.Level)

	res = c.CompareBytes([]byte("x := 1"), []byte("y := obf.Add(a, b)"))
	assert.False(t, res.Hashable)
	assert.Greater(t, res.Distance, 0)
}

func TestSimHash(t *testing.T) {
	h := NewSimHasher(WithNGramSize(2))
	text := strings.Repeat("push r0 add r1 jmp 4 ", 8)

	a := h.Compute(text)
	assert.Equal(t, 0, a.Distance(h.Compute(text)))
	assert.Equal(t, 100.0, a.Similarity(a))
	assert.Equal(t, SimHash(0), h.Compute(""))
}

func TestClassifyDistance(t *testing.T) {
	cases := map[int]TLSHSimilarityLevel{
		0:   TLSHIdentical,
		5:   TLSHNearlySame,
		20:  TLSHVerySimilar,
		80:  TLSHSimilar,
		150: TLSHSomewhatSimilar,
		300: TLSHDifferent,
	}
	for d, want := range cases {
		assert.Equal(t, want, ClassifyDistance(d), "distance %d", d)
	}
	assert.Equal(t, "somewhat_similar", TLSHSomewhatSimilar.String())
}
