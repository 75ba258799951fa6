package strenc

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/keystore"
	"github.com/obfusk8/obfusk8/pkg/types"
)

func testCipher(seed uint64) *Cipher {
	return NewCipher(keystore.NewContext(seed, keystore.Options{}).StringKey())
}

func TestRoundTrip(t *testing.T) {
	c := testCipher(1)
	long := bytes.Repeat([]byte("0123456789abcdef"), 40)

	for _, plain := range [][]byte{
		{},
		[]byte("Hello from test_hello.cpp"),
		[]byte("embedded\x00nul\x00bytes"),
		[]byte("non-ascii: héllo wörld ✓ 日本"),
		{0xff, 0xfe, 0x00, 0x80},
		long,
	} {
		es := c.Encode(plain, 99)
		got, err := c.Decode(es)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
		if len(plain) > 4 {
			assert.NotEqual(t, plain, es.Data)
		}
	}
}

func TestCiphertextDivergesAcrossSeedsAndNonces(t *testing.T) {
	plain := []byte("2 + 3 = %d\n")
	a := testCipher(1).Encode(plain, 5)
	b := testCipher(2).Encode(plain, 5)
	c := testCipher(1).Encode(plain, 6)
	d := testCipher(1).Encode(plain, 5)

	assert.NotEqual(t, a.Data, b.Data)
	assert.NotEqual(t, a.Data, c.Data)
	assert.Equal(t, a, d)
}

func TestDecodeMismatch(t *testing.T) {
	c := testCipher(3)
	es := c.Encode([]byte("integrity"), 1)
	es.Data[2] ^= 0x40

	_, err := c.Decode(es)
	assert.ErrorIs(t, err, ErrDecodeMismatch)

	_, err = testCipher(4).Decode(c.Encode([]byte("wrong key"), 1))
	assert.ErrorIs(t, err, ErrDecodeMismatch)
}

func TestSessionCachesAndReleases(t *testing.T) {
	table := NewTable(testCipher(5))
	i, err := table.Add([]byte("secret"), 10)
	require.NoError(t, err)
	j, err := table.Add([]byte(""), 11)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	sess := table.Open()
	first, err := sess.String(i)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(first))

	again, err := sess.String(i)
	require.NoError(t, err)
	assert.Same(t, &first[0], &again[0])

	empty, err := sess.String(j)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = sess.String(7)
	assert.Error(t, err)

	sess.Close()
	assert.Equal(t, make([]byte, 6), first)
}

func TestTableFromKeyOnly(t *testing.T) {
	src := NewTable(testCipher(6))
	_, err := src.Add([]byte("decoded lazily"), 1)
	require.NoError(t, err)

	// tables rebuilt from stored fields derive the cipher on first use
	restored := &Table{Key: src.Key, Entries: src.Entries}
	sess := restored.Open()
	defer sess.Close()
	got, err := sess.String(0)
	require.NoError(t, err)
	assert.Equal(t, "decoded lazily", string(got))
}

func parse(t *testing.T, src string) *ir.Region {
	t.Helper()
	regions, err := ir.ParseFile("s.go", []byte(src), ir.Options{Natives: map[string]ir.Type{"print": ir.Void}})
	require.NoError(t, err)
	require.Len(t, regions, 1)
	return regions[0]
}

const sealSrc = `package p

//obf:protect
func f(name string) string {
	print(obf.Str("hello "), name)
	print("plain\n")
	return obf.Str("x" + name)
}
`

func TestSealerAnnotated(t *testing.T) {
	r := parse(t, sealSrc)
	table := NewTable(testCipher(7))
	s := NewSealer(table, rand.New(rand.NewSource(1)), Annotated, r.Pos)

	body, err := s.Seal(r.Body)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Sites)
	require.Len(t, s.Degradations, 1)
	assert.Equal(t, types.PassStrings, s.Degradations[0].Pass)

	out := ir.Format(r.WithBody(body))
	assert.Contains(t, out, "strtab[0]")
	assert.Contains(t, out, `"plain\n"`)
	assert.NotContains(t, out, `"hello "`)
}

func TestSealerAllLiterals(t *testing.T) {
	r := parse(t, sealSrc)
	table := NewTable(testCipher(8))
	s := NewSealer(table, rand.New(rand.NewSource(1)), AllLiterals, r.Pos)

	body, err := s.Seal(r.Body)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Sites)
	assert.Len(t, s.Degradations, 1)

	sealed := r.WithBody(body)
	sealed.Strings = table
	out := ir.Format(sealed)
	assert.NotContains(t, out, `"plain\n"`)
	assert.NotContains(t, out, `"x"`)

	var printed bytes.Buffer
	natives := ir.Natives{"print": func(args []ir.Value) (ir.Value, error) {
		for _, a := range args {
			printed.Write(a.Bytes)
		}
		return ir.Value{}, nil
	}}
	got, err := ir.Invoke(sealed, natives, ir.StringValue([]byte("bob")))
	require.NoError(t, err)
	assert.Equal(t, "xbob", string(got.Bytes))
	assert.Equal(t, "hello bobplain\n", printed.String())
}
