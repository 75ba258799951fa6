package labyrinth

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obfusk8/obfusk8/internal/ir"
	"github.com/obfusk8/obfusk8/internal/keystore"
	"github.com/obfusk8/obfusk8/pkg/types"
)

var signatures = map[string]ir.Type{"trace": ir.Void, "done": ir.Void}

func parse(t *testing.T, src string) *ir.Region {
	t.Helper()
	regions, err := ir.ParseFile("l.go", []byte(src), ir.Options{Natives: signatures})
	require.NoError(t, err)
	require.Len(t, regions, 1)
	return regions[0]
}

func tracer(out *strings.Builder) ir.Natives {
	record := func(args []ir.Value) (ir.Value, error) {
		for _, a := range args {
			fmt.Fprintf(out, "%s;", a)
		}
		return ir.Value{}, nil
	}
	return ir.Natives{"trace": record, "done": record}
}

func flatten(t *testing.T, r *ir.Region, seed uint64, opts Options) (*ir.Region, *Flattener) {
	t.Helper()
	ctx := keystore.NewContext(seed, keystore.Options{})
	labels, err := ctx.Allocate(Labels(r.Body, opts.DecoyRatio))
	require.NoError(t, err)
	f := New(labels, labels.Rand("controlflow"), opts)
	body, err := f.Flatten(r)
	require.NoError(t, err)
	return r.WithBody(body), f
}

const loopSrc = `package p

//obf:protect
func f(n int) int {
	sum := 0
outer:
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			if j == 2 {
				continue outer
			}
			if i*j > 20 {
				break outer
			}
			sum += i * j
			trace(sum)
		}
		obf.Nop()
		if sum > 1000 {
			return -1
		}
	}
	trace(sum)
	return sum
}
`

func TestFlattenPreservesBehaviour(t *testing.T) {
	r := parse(t, loopSrc)

	for seed := uint64(1); seed <= 8; seed++ {
		flat, f := flatten(t, r, seed, Options{})
		require.Len(t, flat.Body, 1)
		assert.IsType(t, &ir.Dispatch{}, flat.Body[0])
		assert.Equal(t, 1, f.Sites)
		assert.Empty(t, f.Degradations)

		for _, n := range []int64{0, 1, 5, 30} {
			var want, got strings.Builder
			wv, werr := ir.Invoke(r, tracer(&want), ir.SignedValue(ir.Int64, n))
			gv, gerr := ir.Invoke(flat, tracer(&got), ir.SignedValue(ir.Int64, n))
			require.NoError(t, werr)
			require.NoError(t, gerr)
			assert.Equal(t, wv.Int64(), gv.Int64(), "seed %d n %d", seed, n)
			assert.Equal(t, want.String(), got.String(), "seed %d n %d", seed, n)
		}
	}
}

func TestDecoysAreUnreachable(t *testing.T) {
	r := parse(t, loopSrc)
	_, f := flatten(t, r, 3, Options{})
	require.Len(t, f.Graphs, 1)
	g := f.Graphs[0]

	reached := Reachable(g)
	assert.Len(t, reached, g.Blocks)
	for _, l := range reached {
		require.Contains(t, g.Nodes, l)
		assert.False(t, g.Nodes[l].Decoy, "decoy %#x reachable", l)
	}
	assert.Positive(t, g.Decoys())
	assert.Equal(t, g.Blocks+g.Decoys(), len(g.Nodes))
}

func TestLabyrinthMarkerRaisesDecoys(t *testing.T) {
	plain := parse(t, loopSrc)
	marked := parse(t, strings.Replace(loopSrc, "sum := 0", "obf.Labyrinth()\n\tsum := 0", 1))

	_, fp := flatten(t, plain, 4, Options{})
	_, fm := flatten(t, marked, 4, Options{})
	gp, gm := fp.Graphs[0], fm.Graphs[0]

	assert.GreaterOrEqual(t, gm.Decoys(), gm.Blocks)
	assert.Less(t, gp.Decoys(), gp.Blocks)
}

func TestFlattenIsDeterministic(t *testing.T) {
	r := parse(t, loopSrc)
	a, _ := flatten(t, r, 9, Options{})
	b, _ := flatten(t, r, 9, Options{})
	c, _ := flatten(t, r, 10, Options{})

	assert.Equal(t, ir.Format(a), ir.Format(b))
	assert.NotEqual(t, ir.Format(a), ir.Format(c))
}

const deferSrc = `package p

//obf:protect
func f(x int) int {
	y := x * 2
	defer done(y)
	if y > 10 {
		y = y - 10
	}
	trace(y)
	return y
}
`

func TestDeferSplitsRuns(t *testing.T) {
	r := parse(t, deferSrc)
	flat, f := flatten(t, r, 5, Options{})

	require.Len(t, flat.Body, 3)
	assert.IsType(t, &ir.Dispatch{}, flat.Body[0])
	assert.IsType(t, &ir.Defer{}, flat.Body[1])
	assert.IsType(t, &ir.Dispatch{}, flat.Body[2])
	assert.Equal(t, 2, f.Sites)
	require.Len(t, f.Degradations, 1)
	assert.Equal(t, types.PassControlFlow, f.Degradations[0].Pass)
	assert.Contains(t, f.Degradations[0].Reason, "defer")

	for _, x := range []int64{1, 9} {
		var want, got strings.Builder
		wv, err := ir.Invoke(r, tracer(&want), ir.SignedValue(ir.Int64, x))
		require.NoError(t, err)
		gv, err := ir.Invoke(flat, tracer(&got), ir.SignedValue(ir.Int64, x))
		require.NoError(t, err)
		assert.Equal(t, wv.Int64(), gv.Int64())
		assert.Equal(t, want.String(), got.String())
	}
}

func TestLabelExhaustion(t *testing.T) {
	r := parse(t, loopSrc)
	ctx := keystore.NewContext(1, keystore.Options{})
	labels, err := ctx.Allocate(2)
	require.NoError(t, err)

	_, err = New(labels, rand.New(rand.NewSource(1)), Options{}).Flatten(r)
	assert.ErrorIs(t, err, keystore.ErrContextExhausted)
}

func TestLabelBudgetFollowsDecoyRatio(t *testing.T) {
	plain := parse(t, loopSrc)
	marked := parse(t, strings.Replace(loopSrc, "sum := 0", "obf.Labyrinth()\n\tsum := 0", 1))
	counter := parse(t, `package p

//obf:protect
func f(x int) int {
	for x > 0 {
		x--
	}
	return x
}
`)

	assert.Less(t, Labels(plain.Body, 1), Labels(plain.Body, 6))
	assert.Equal(t, Labels(plain.Body, 0), Labels(plain.Body, DefaultDecoyRatio))

	for _, ratio := range []float64{0.5, 1, 4, 6, MaxDecoyRatio} {
		for _, r := range []*ir.Region{plain, marked, counter} {
			flat, f := flatten(t, r, 2, Options{DecoyRatio: ratio})
			require.NotEmpty(t, f.Graphs)
			g := f.Graphs[0]
			assert.GreaterOrEqual(t, float64(g.Decoys()), float64(g.Blocks)*ratio, "ratio %v", ratio)

			want, err := ir.Invoke(r, tracer(&strings.Builder{}), ir.SignedValue(ir.Int64, 7))
			require.NoError(t, err)
			got, err := ir.Invoke(flat, tracer(&strings.Builder{}), ir.SignedValue(ir.Int64, 7))
			require.NoError(t, err)
			assert.Equal(t, want.Int64(), got.Int64())
		}
	}
}

func TestOpaquePredicatesHold(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	v := &ir.Var{Name: "v", T: ir.Int64}
	o := &opaque{rng: rng, vars: []*ir.Var{v}}
	fr := ir.NewFrame(nil, nil)

	for i := 0; i < 200; i++ {
		want := i%2 == 0
		p := o.predicate(want)
		for _, x := range []int64{0, 1, -1, 2, 3, 255, 256, 1 << 40, -(1 << 62), rng.Int63()} {
			fr.Set("v", ir.SignedValue(ir.Int64, x))
			got, err := fr.Eval(p)
			require.NoError(t, err)
			require.Equal(t, want, got.Truth(), "%s with v=%d", ir.FormatExpr(p), x)
		}
	}
}
