/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package loopopt

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/cloudwego/loopopt/internal/testgraphs"
	"github.com/cloudwego/loopopt/internal/trace"
	"github.com/cloudwego/loopopt/ir"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testCase struct {
	name  string
	build func() *ir.Graph
	array int
	args  [][]int64
}

func run(t *testing.T, g *ir.Graph, heap *ir.Heap, args []int64) (ir.Outcome, []int64) {
	e := ir.NewEmulator(g, heap, args...)
	out, err := e.Run()
	require.NoError(t, err, "%s%v", g.Name, args)
	if len(args) != 0 {
		return out, heap.Array(args[0])
	}
	return out, nil
}

// check optimizes a fresh graph and compares it against an unoptimized one.
// When the graph takes an array, args[0] is replaced by its handle.
func check(t *testing.T, tc testCase, options ...Option) *Result {
	g, ref := tc.build(), tc.build()
	res, err := Optimize(g, options...)
	require.NoError(t, err, tc.name)
	require.NoError(t, ir.VerifyDeep(g), tc.name)
	for _, ev := range res.Trace {
		require.NotEqual(t, Aborted, ev.Outcome, "%s: %s", tc.name, ev)
	}

	/* the same initial heap for both */
	f := gofakeit.New(int64(len(tc.name)))
	heap := ir.NewHeap()
	arr := int64(0)
	if tc.array > 0 {
		vals := make([]int64, tc.array)
		for i := range vals {
			vals[i] = int64(f.IntRange(-100, 100))
		}
		arr = heap.Alloc(vals...)
	}

	/* compare the behavior */
	for _, args := range tc.args {
		args = append([]int64(nil), args...)
		if tc.array > 0 {
			args[0] = arr
		}
		o1, a1 := run(t, ref, heap.Clone(), args)
		o2, a2 := run(t, g, heap.Clone(), args)
		require.Equal(t, o1.String(), o2.String(), "%s%v\n%s", tc.name, args, spew.Sdump(res.Trace))
		require.Equal(t, a1, a2, "%s%v", tc.name, args)
	}
	return res
}

func arrayArgs(extra ...int64) [][]int64 {
	var ret [][]int64
	for _, n := range []int64{-1, 0, 1, 2, 3, 5, 7, 8, 11, 12, 13, 20} {
		if len(extra) == 0 {
			ret = append(ret, []int64{0, n})
		}
		for _, v := range extra {
			ret = append(ret, []int64{0, n, v})
		}
	}
	return ret
}

func fired(res *Result, pass Pass) int {
	n := 0
	for _, ev := range res.Trace {
		if ev.Pass == pass.String() && ev.Outcome == trace.Fired {
			n++
		}
	}
	return n
}

func TestOptimize_CountFromMax(t *testing.T) {
	g := testgraphs.CountFromMax()
	res, err := Optimize(g, WithUnrollFactor(4))
	require.NoError(t, err)
	require.False(t, res.BudgetExhausted)
	require.Equal(t, 1, fired(res, PassUnroll), spew.Sdump(res.Trace))

	/* exactly 2000 iterations */
	out, _ := run(t, g, ir.NewHeap(), nil)
	require.Equal(t, "returned(2000)", out.String())
}

func TestOptimize_Semantics(t *testing.T) {
	f := gofakeit.New(42)
	invariants := make([][]int64, 16)
	for i := range invariants {
		invariants[i] = []int64{int64(f.IntRange(0, 12)), int64(f.Int32()), int64(f.Int32()), int64(f.Int32())}
	}

	/* the sample programs */
	tests := []testCase{
		{"sum_array", testgraphs.SumArray, 12, arrayArgs()},
		{"guarded_load", testgraphs.GuardedLoad, 12, arrayArgs()},
		{"scaled_index", testgraphs.ScaledIndex, 12, arrayArgs()},
		{"hashed_index", testgraphs.HashedIndex, 8, arrayArgs()},
		{"unswitch", testgraphs.Unswitchable, 12, arrayArgs(0, 1)},
		{"reduction_add", func() *ir.Graph { return testgraphs.Reduction(ir.KindInt, ir.OpAdd) }, 12, arrayArgs()},
		{"reduction_xor", func() *ir.Graph { return testgraphs.Reduction(ir.KindInt, ir.OpXor) }, 12, arrayArgs()},
		{"reduction_max", func() *ir.Graph { return testgraphs.Reduction(ir.KindInt, ir.OpMax) }, 12, arrayArgs()},
		{"count", func() *ir.Graph { return testgraphs.Count(nil, nil, 1, ir.CondLT) }, 0, [][]int64{{0, 0}, {0, 10}, {-5, 5}, {7, 3}, {3, 4}}},
		{"count_le", func() *ir.Graph { return testgraphs.Count(nil, nil, 2, ir.CondLE) }, 0, [][]int64{{0, 0}, {0, 10}, {-5, 5}, {7, 3}}},
		{"strided", testgraphs.Strided, 0, [][]int64{{10, 0}, {0, 10}, {10, -10}, {5, 4}, {-3, -20}}},
		{"empty", func() *ir.Graph { return testgraphs.Empty(1) }, 0, [][]int64{{0, 10}, {5, 3}, {-4, 4}, {0, 0}}},
		{"empty_strided", func() *ir.Graph { return testgraphs.Empty(3) }, 0, [][]int64{{0, 10}, {-7, 5}, {5, 3}, {0, 1}}},
		{"invariants", testgraphs.Invariants, 0, invariants},
		{"nested", testgraphs.Nested, 0, [][]int64{{0, 0}, {3, 4}, {5, 0}, {0, 5}, {7, 7}}},
		{"wide_limit", testgraphs.WideLimit, 0, [][]int64{{-5}, {0}, {1}, {10}, {100}}},
		{"unsigned_limit", testgraphs.UnsignedLimit, 0, [][]int64{{0, 10}, {3, 10}, {20, 10}, {-1, 10}, {0, 0}}},
		{"irreducible", testgraphs.Irreducible, 0, [][]int64{{0, 0}, {1, 0}, {0, 10}, {1, 10}}},
	}

	/* with and without strip mining */
	for _, tc := range tests {
		check(t, tc)
		check(t, tc, WithStripMining(true), WithStripMineIter(3))
		check(t, tc, WithUnrollFactor(2), WithVerify(false))
	}
}

func TestOptimize_Scenarios(t *testing.T) {
	/* unswitching keeps both flag values apart */
	res := check(t, testCase{"unswitch", testgraphs.Unswitchable, 8, arrayArgs(0, 1)})
	require.Equal(t, 1, fired(res, PassUnswitch), spew.Sdump(res.Trace))

	/* the null check is peeled out of the loop */
	res = check(t, testCase{"guarded_load", testgraphs.GuardedLoad, 8, arrayArgs()})
	require.Equal(t, 1, fired(res, PassPeel), spew.Sdump(res.Trace))

	/* the unrolled reduction is reassociated, ints only by default */
	res = check(t, testCase{"reduction", func() *ir.Graph { return testgraphs.Reduction(ir.KindInt, ir.OpAdd) }, 8, arrayArgs()}, WithUnrollFactor(4))
	require.Equal(t, 1, fired(res, PassUnroll))
	require.NotZero(t, fired(res, PassReduction))

	/* doubles only when allowed */
	double := func() *ir.Graph { return testgraphs.Reduction(ir.KindDouble, ir.OpAdd) }
	res, err := Optimize(double(), WithUnrollFactor(4))
	require.NoError(t, err)
	require.Zero(t, fired(res, PassReduction))
	res, err = Optimize(double(), WithUnrollFactor(4), WithFloatReassociation(true))
	require.NoError(t, err)
	require.NotZero(t, fired(res, PassReduction))
}

func TestOptimize_Budget(t *testing.T) {
	g := testgraphs.SumArray()
	res, err := Optimize(g, WithMaxIterations(1))
	require.NoError(t, err)
	require.True(t, res.BudgetExhausted)
	require.Equal(t, 1, res.Iterations)
	require.Len(t, res.Trace, 1)

	/* the graph is still valid */
	require.NoError(t, ir.Verify(g))
	before := trace.GetStats().Budget
	_, err = Optimize(testgraphs.SumArray(), WithMaxIterations(1))
	require.NoError(t, err)
	require.Equal(t, before+1, trace.GetStats().Budget)
}

func TestOptimize_Passes(t *testing.T) {
	res, err := Optimize(testgraphs.SumArray(), WithPasses(PassStripMine))
	require.NoError(t, err)
	require.Empty(t, res.Trace)
	require.Equal(t, 1, res.Iterations)
	require.Equal(t, 1, res.Loops)

	/* strip mining is opt-in on top of the pass set */
	res, err = Optimize(testgraphs.Count(nil, nil, 1, ir.CondLT), WithPasses(PassStripMine), WithStripMining(true))
	require.NoError(t, err)
	require.Equal(t, 1, fired(res, PassStripMine))
	require.Equal(t, 2, res.Loops)
}

func TestOptimize_Unsupported(t *testing.T) {
	/* an irreducible loop is left alone */
	res, err := Optimize(testgraphs.Irreducible())
	require.NoError(t, err)
	require.Empty(t, res.Trace)

	/* a loop without an exit can not be split */
	g := testgraphs.InfiniteOuter()
	res, err = Optimize(g, WithLogger(zap.NewExample().Sugar()))
	require.NoError(t, err)
	require.NoError(t, ir.VerifyDeep(g))
	require.NotZero(t, res.Loops)
}

func TestOptimize_InvalidGraph(t *testing.T) {
	g := testgraphs.Count(nil, nil, 1, ir.CondLT)

	/* return the IV, which is undefined when the loop is skipped */
	var iv, ret ir.ID
	for _, id := range g.Live() {
		switch p := g.Node(id); {
		case p.Op == ir.OpPhi && g.Node(p.In[0]).Op.IsLoop():
			iv = id
		case p.Op == ir.OpReturn:
			ret = id
		}
	}
	g.SetInput(ret, 1, iv)

	/* refused */
	res, err := Optimize(g)
	require.Nil(t, res)
	require.IsType(t, (*CompileError)(nil), err)
	require.Zero(t, err.(*CompileError).Round)
	require.IsType(t, (*ir.VerifyError)(nil), errors.Cause(err))
}

func TestOptions(t *testing.T) {
	require.Panics(t, func() { WithMaxIterations(0) })
	require.Panics(t, func() { WithUnrollFactor(1) })
	require.Panics(t, func() { WithStripMineIter(0) })
	require.Panics(t, func() { WithPasses(PassAll + 1) })
	require.NotPanics(t, func() { WithPasses(PassPeel | PassUnroll) })

	/* global defaults */
	old := SetMaxIterations(5)
	require.Equal(t, 5, SetMaxIterations(old))
	old = SetUnrollFactor(2)
	require.Equal(t, 2, SetUnrollFactor(old))
}
