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

package transform

import (
    `math`
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/cloudwego/loopopt/internal/counted`
    `github.com/cloudwego/loopopt/internal/looptree`
    `github.com/cloudwego/loopopt/internal/opts`
    `github.com/cloudwego/loopopt/internal/predicate`
    `github.com/cloudwego/loopopt/internal/testgraphs`
    `github.com/cloudwego/loopopt/internal/trace`
    `github.com/cloudwego/loopopt/ir`
    `github.com/pkg/errors`
    `github.com/stretchr/testify/require`
)

func newContext(g *ir.Graph) *Context {
    o := opts.GetDefaultOptions()
    return NewContext(g, predicate.NewManager(g), &o, trace.NewLogger(nil, trace.ModTransform))
}

func forest(g *ir.Graph) *looptree.Forest {
    f := looptree.Build(g)
    if looptree.Beautify(g, f) {
        f = looptree.Build(g)
    }
    return f
}

// fast returns the innermost loop that is not a slow version.
func fast(t *testing.T, g *ir.Graph) *looptree.Loop {
    for _, l := range forest(g).Loops {
        if !g.Node(l.Head).Flags.Has(ir.LoopSlow) {
            return l
        }
    }
    require.FailNow(t, "no fast loop", ir.Dot(g))
    return nil
}

func flagged(g *ir.Graph, f ir.LoopFlags) *looptree.Loop {
    for _, l := range forest(g).Loops {
        if g.Node(l.Head).Flags.Has(f) {
            return l
        }
    }
    return nil
}

func describe(t *testing.T, g *ir.Graph, l *looptree.Loop) *counted.Descriptor {
    d, err := counted.Recognize(g, l)
    require.NoError(t, err)
    return d
}

func cleanup(ctx *Context) {
    ir.Simplify(ctx.G)
    ir.GVN(ctx.G)
    predicate.EliminateDominated(ctx.G)
    ir.Simplify(ctx.G)
    ctx.PM.Sweep()
}

func nodesOf(g *ir.Graph, op ir.Op) []ir.ID {
    var ret []ir.ID
    for _, id := range g.Live() {
        if g.Op(id) == op {
            ret = append(ret, id)
        }
    }
    return ret
}

func emulate(t *testing.T, g *ir.Graph, params ...int64) string {
    out, err := ir.NewEmulator(g, nil, params...).Run()
    require.NoError(t, err)
    return out.String()
}

// compare runs both graphs on copies of the same heap. params[0] is an array
// handle of the heap, whose final contents must match as well.
func compare(t *testing.T, ref *ir.Graph, g *ir.Graph, heap *ir.Heap, params ...int64) {
    h1, h2 := heap.Clone(), heap.Clone()
    o1, err := ir.NewEmulator(ref, h1, params...).Run()
    require.NoError(t, err)
    o2, err := ir.NewEmulator(g, h2, params...).Run()
    require.NoError(t, err)
    require.Equal(t, o1.String(), o2.String(), "params = %v", params)
    require.Equal(t, h1.Array(params[0]), h2.Array(params[0]), "params = %v", params)
}

func randomArray(f *gofakeit.Faker, n int) []int64 {
    ret := make([]int64, n)
    for i := range ret {
        ret[i] = int64(f.IntRange(-1000, 1000))
    }
    return ret
}

func TestRun_RollsBack(t *testing.T) {
    g := testgraphs.SumArray()
    ctx := newContext(g)
    before := g.String()

    /* an error */
    err := ctx.Run("test", g.Start(), func() error {
        g.AddNode(ir.OpAdd, ir.TypeInt, g.Const(ir.KindInt, 1), g.Const(ir.KindInt, 2))
        return notApplicable("nothing to do")
    })
    require.Error(t, err)
    require.Equal(t, ErrNotApplicable, errors.Cause(err))
    require.IsType(t, (*AbortError)(nil), err)
    require.Equal(t, before, g.String())

    /* a panic */
    err = ctx.Run("test", g.Start(), func() error {
        g.SetInput(forest(g).Loops[0].Head, 1, g.Start())
        panic("boom")
    })
    require.EqualError(t, errors.Cause(err), "panic: boom")
    require.Equal(t, before, g.String())

    /* a broken graph, the IV is not defined on the zero-trip path */
    err = ctx.Run("test", g.Start(), func() error {
        g.SetInput(nodesOf(g, ir.OpReturn)[0], 1, g.Phis(forest(g).Loops[0].Head)[0])
        return nil
    })
    require.Error(t, err)
    require.Equal(t, before, g.String())
}

func TestUnroll_CountFromMax(t *testing.T) {
    g := testgraphs.CountFromMax()
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.NoError(t, ctx.Run("unroll", l.Head, func() error { return Unroll(ctx, l, d, 4) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* a main loop and a post loop */
    main := flagged(g, ir.LoopMain)
    require.NotNil(t, main)
    require.Equal(t, 4, g.Node(main.Head).Flags.UnrollFactor())
    require.NotNil(t, flagged(g, ir.LoopPost))

    /* the IV never overflows */
    require.Equal(t, "returned(2000)", emulate(t, g))
}

func TestUnroll_Reduction(t *testing.T) {
    f := gofakeit.New(7)
    vals := randomArray(f, 20)
    for _, k := range []int { 2, 3, 4, 8 } {
        g, ref := testgraphs.Reduction(ir.KindInt, ir.OpAdd), testgraphs.Reduction(ir.KindInt, ir.OpAdd)
        ctx := newContext(g)
        l := forest(g).Loops[0]
        d := describe(t, g, l)
        require.NoError(t, ctx.Run("unroll", l.Head, func() error { return Unroll(ctx, l, d, k) }))
        cleanup(ctx)

        /* the main loop body is one long chain */
        main := flagged(g, ir.LoopMain)
        require.NotNil(t, main)
        require.NoError(t, ctx.Run("reduction", main.Head, func() error { return ReassociateReductions(ctx, main) }))
        cleanup(ctx)

        /* same results, range check failures included */
        heap := ir.NewHeap()
        arr := heap.Alloc(vals...)
        for _, n := range []int64 { -1, 0, 1, 2, 3, 5, 8, 13, 20, 21, 25 } {
            compare(t, ref, g, heap, arr, n)
        }
    }
}

func TestUnroll_FloatReduction(t *testing.T) {
    g, ref := testgraphs.Reduction(ir.KindDouble, ir.OpAdd), testgraphs.Reduction(ir.KindDouble, ir.OpAdd)
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.NoError(t, ctx.Run("unroll", l.Head, func() error { return Unroll(ctx, l, d, 4) }))
    cleanup(ctx)

    /* not without permission */
    main := flagged(g, ir.LoopMain)
    err := ctx.Run("reduction", main.Head, func() error { return ReassociateReductions(ctx, main) })
    require.Equal(t, ErrNotApplicable, errors.Cause(err))

    /* exact values, so the order does not matter */
    ctx.Opts.FloatReassociation = true
    require.NoError(t, ctx.Run("reduction", main.Head, func() error { return ReassociateReductions(ctx, main) }))
    cleanup(ctx)

    /* same results */
    vals := make([]int64, 16)
    for i := range vals {
        vals[i] = int64(math.Float64bits(float64(i) * 0.25))
    }
    heap := ir.NewHeap()
    arr := heap.Alloc(vals...)
    for _, n := range []int64 { 0, 1, 3, 4, 9, 16 } {
        compare(t, ref, g, heap, arr, n)
    }
}

func TestUnroll_Rejects(t *testing.T) {
    g := testgraphs.Strided()
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)

    /* the limit may be too close to the bottom of the range */
    require.NotEmpty(t, d.Checks)
    err := ctx.Run("unroll", l.Head, func() error { return Unroll(ctx, l, d, 2) })
    require.Equal(t, ErrNotApplicable, errors.Cause(err))

    /* unroll factor */
    g = testgraphs.SumArray()
    ctx = newContext(g)
    l = forest(g).Loops[0]
    d = describe(t, g, l)
    err = ctx.Run("unroll", l.Head, func() error { return Unroll(ctx, l, d, 1) })
    require.Equal(t, ErrNotApplicable, errors.Cause(err))
}

func TestUnswitch(t *testing.T) {
    g, ref := testgraphs.Unswitchable(), testgraphs.Unswitchable()
    ctx := newContext(g)
    l := forest(g).Loops[0]
    br := UnswitchCandidate(g, l)
    require.NotZero(t, br)
    require.NoError(t, ctx.Run("unswitch", l.Head, func() error { return Unswitch(ctx, l, br) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* two loops without the branch */
    ls := forest(g).Loops
    require.Len(t, ls, 2)
    for _, l := range ls {
        require.True(t, g.Node(l.Head).Flags.Has(ir.LoopUnswitched))
        require.Zero(t, UnswitchCandidate(g, l))
    }

    /* each flag value stores its own pattern */
    heap := ir.NewHeap()
    arr := heap.Alloc(make([]int64, 8)...)
    for _, flag := range []int64 { 0, 1 } {
        for _, n := range []int64 { 0, 3, 8, 9 } {
            compare(t, ref, g, heap, arr, n, flag)
        }
    }
}

func TestPeel_GuardedLoad(t *testing.T) {
    g, ref := testgraphs.GuardedLoad(), testgraphs.GuardedLoad()
    ctx := newContext(g)
    l := forest(g).Loops[0]
    require.NotZero(t, PeelCandidate(g, l))
    require.NoError(t, ctx.Run("peel", l.Head, func() error { return Peel(ctx, l) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* the null check of the first iteration covers the loop */
    ls := forest(g).Loops
    require.Len(t, ls, 1)
    require.True(t, g.Node(ls[0].Head).Flags.Has(ir.LoopPeeled))
    require.Zero(t, PeelCandidate(g, ls[0]))

    /* same results, null arrays included */
    heap := ir.NewHeap()
    arr := heap.Alloc(3, 1, 4, 1, 5)
    for _, n := range []int64 { 0, 1, 2, 5, 6 } {
        compare(t, ref, g, heap, arr, n)
        compare(t, ref, g, heap, 0, n)
    }
}

func TestOneIteration(t *testing.T) {
    lo, hi := int32(0), int32(1)
    g := testgraphs.Count(&lo, &hi, 1, ir.CondLT)
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.NoError(t, ctx.Run("one_iteration", l.Head, func() error { return OneIteration(ctx, l, d) }))
    cleanup(ctx)
    require.Empty(t, forest(g).Loops)
    require.Equal(t, "returned(1)", emulate(t, g))
}

func TestMaximallyUnroll(t *testing.T) {
    lo, hi := int32(0), int32(5)
    g := testgraphs.Count(&lo, &hi, 1, ir.CondLT)
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.NoError(t, ctx.Run("max_unroll", l.Head, func() error { return MaximallyUnroll(ctx, l, d) }))
    cleanup(ctx)
    require.Empty(t, forest(g).Loops)
    require.Equal(t, "returned(5)", emulate(t, g))

    /* too many iterations */
    hi = 100
    g = testgraphs.Count(&lo, &hi, 1, ir.CondLT)
    ctx = newContext(g)
    l = forest(g).Loops[0]
    d = describe(t, g, l)
    err := ctx.Run("max_unroll", l.Head, func() error { return MaximallyUnroll(ctx, l, d) })
    require.Equal(t, ErrNotApplicable, errors.Cause(err))
}

func TestStripMine(t *testing.T) {
    g := testgraphs.Count(nil, nil, 1, ir.CondLT)
    ctx := newContext(g)
    ctx.Opts.StripMineIter = 3
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.NoError(t, ctx.Run("strip_mine", l.Head, func() error { return StripMine(ctx, l, d) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* an inner loop nested in an outer one */
    require.NotNil(t, flagged(g, ir.LoopStripMined))
    require.NotNil(t, flagged(g, ir.LoopStripOuter))
    require.Len(t, forest(g).Loops, 2)

    /* a safepoint every 3 iterations */
    sp := nodesOf(g, ir.OpSafepoint)
    require.Len(t, sp, 1)
    for _, n := range []int64 { -5, 0, 1, 2, 3, 4, 10, 100 } {
        e := ir.NewEmulator(g, nil, 0, n)
        out, err := e.Run()
        require.NoError(t, err)
        if n <= 0 {
            require.Equal(t, "returned(0)", out.String())
            require.Zero(t, e.Visits[sp[0]])
        } else {
            require.Equal(t, ir.Outcome { Value: n }.String(), out.String())
            require.Equal(t, int((n + 2) / 3), e.Visits[sp[0]], "n = %d", n)
        }
    }
}

func TestRemoveEmpty(t *testing.T) {
    g := testgraphs.Empty(1)
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.NoError(t, ctx.Run("remove_empty", l.Head, func() error { return RemoveEmpty(ctx, l, d) }))
    cleanup(ctx)
    require.Empty(t, forest(g).Loops)

    /* the final value of the IV */
    for _, c := range [][3]int64 { { 0, 10, 10 }, { 5, 3, 5 }, { -4, 4, 4 }, { 0, 0, 0 }, { math.MinInt32, math.MaxInt32, math.MaxInt32 } } {
        require.Equal(t, ir.Outcome { Value: c[2] }.String(), emulate(t, g, c[0], c[1]))
    }
}

func TestRemoveEmpty_Strided(t *testing.T) {
    g := testgraphs.Empty(3)
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)

    /* the limit must leave room for the last step */
    require.Len(t, d.Checks, 1)
    err := ctx.Run("remove_empty", l.Head, func() error { return RemoveEmpty(ctx, l, d) })
    require.Equal(t, ErrNotApplicable, errors.Cause(err))

    /* which the loop limit check provides */
    require.NoError(t, ctx.Run("canonicalize", l.Head, func() error { return Canonicalize(ctx, l, d) }))
    cleanup(ctx)
    l = fast(t, g)
    d = describe(t, g, l)
    require.Empty(t, d.Checks)
    require.NoError(t, ctx.Run("remove_empty", l.Head, func() error { return RemoveEmpty(ctx, l, d) }))
    cleanup(ctx)

    /* the slow version is still there */
    require.Len(t, forest(g).Loops, 1)
    for _, c := range [][3]int64 { { 0, 10, 12 }, { -7, 5, 5 }, { 5, 3, 5 }, { 0, 1, 3 } } {
        require.Equal(t, ir.Outcome { Value: c[2] }.String(), emulate(t, g, c[0], c[1]))
    }
}

func TestCanonicalize_Wide(t *testing.T) {
    g, ref := testgraphs.WideLimit(), testgraphs.WideLimit()
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.True(t, d.Wide)
    require.NoError(t, ctx.Run("canonicalize", l.Head, func() error { return Canonicalize(ctx, l, d) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* a counted loop behind a loop limit check */
    l = fast(t, g)
    require.Equal(t, ir.OpCountedLoop, g.Op(l.Head))
    require.True(t, g.Node(l.Head).Flags.Has(ir.LoopCounted))
    ps := ctx.PM.PredicatesOf(l.Head)
    require.Len(t, ps, 1)
    require.Equal(t, ir.PredLoopLimitCheck, ps[0].Kind)

    /* and an int compare */
    d = describe(t, g, l)
    require.False(t, d.Wide)
    for _, v := range []int64 { -5, 0, 1, 2, 10, 1000 } {
        require.Equal(t, emulate(t, ref, v), emulate(t, g, v), "L = %d", v)
    }

    /* only once */
    err := ctx.Run("canonicalize", l.Head, func() error { return Canonicalize(ctx, l, d) })
    require.Equal(t, ErrNotApplicable, errors.Cause(err))
}

func TestCanonicalize_Unsigned(t *testing.T) {
    g, ref := testgraphs.UnsignedLimit(), testgraphs.UnsignedLimit()
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.True(t, d.Unsigned)
    require.NoError(t, ctx.Run("canonicalize", l.Head, func() error { return Canonicalize(ctx, l, d) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* both bounds are checked */
    l = fast(t, g)
    require.Len(t, ctx.PM.PredicatesOf(l.Head), 2)
    d = describe(t, g, l)
    require.False(t, d.Unsigned)
    require.Equal(t, ir.CondLT, d.Cond)

    /* same results, a negative init takes the slow path */
    for _, c := range [][2]int64 { { 0, 10 }, { 3, 10 }, { 20, 10 }, { -1, 10 }, { 0, 0 } } {
        require.Equal(t, emulate(t, ref, c[0], c[1]), emulate(t, g, c[0], c[1]), "params = %v", c)
    }
}

func TestEliminateRangeChecks(t *testing.T) {
    g, ref := testgraphs.SumArray(), testgraphs.SumArray()
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.NoError(t, ctx.Run("range_check", l.Head, func() error { return EliminateRangeChecks(ctx, l, d) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* no range checks left in the fast loop */
    l = fast(t, g)
    require.True(t, g.Node(l.Head).Flags.Has(ir.LoopRangeChecked))
    for _, id := range l.Body {
        require.NotEqual(t, ir.OpRangeCheck, g.Op(id))
    }

    /* checked at both ends of the IV range */
    ps := ctx.PM.PredicatesOf(l.Head)
    require.Len(t, ps, 2)
    for _, p := range ps {
        require.Equal(t, ir.PredRangeCheck, p.Kind)
    }

    /* same results, out of bounds included */
    f := gofakeit.New(11)
    heap := ir.NewHeap()
    arr := heap.Alloc(randomArray(f, 8)...)
    for _, n := range []int64 { -3, 0, 1, 5, 8, 9, 12 } {
        compare(t, ref, g, heap, arr, n)
    }
}

func TestEliminateRangeChecks_Scaled(t *testing.T) {
    g, ref := testgraphs.ScaledIndex(), testgraphs.ScaledIndex()
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.NoError(t, ctx.Run("range_check", l.Head, func() error { return EliminateRangeChecks(ctx, l, d) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* same stores */
    heap := ir.NewHeap()
    arr := heap.Alloc(make([]int64, 10)...)
    for _, n := range []int64 { 0, 1, 4, 5, 6, 9 } {
        compare(t, ref, g, heap, arr, n)
    }

    /* nothing left to eliminate */
    l = fast(t, g)
    d = describe(t, g, l)
    err := ctx.Run("range_check", l.Head, func() error { return EliminateRangeChecks(ctx, l, d) })
    require.Equal(t, ErrNotApplicable, errors.Cause(err))
}

func TestReassociate(t *testing.T) {
    g, ref := testgraphs.Invariants(), testgraphs.Invariants()
    ctx := newContext(g)
    l := forest(g).Loops[0]
    require.NoError(t, ctx.Run("reassociate", l.Head, func() error { return Reassociate(ctx, l) }))
    cleanup(ctx)

    /* same results */
    f := gofakeit.New(3)
    for i := 0; i < 16; i++ {
        n, x, y, z := int64(f.IntRange(0, 10)), int64(f.Int32()), int64(f.Int32()), int64(f.Int32())
        require.Equal(t, emulate(t, ref, n, x, y, z), emulate(t, g, n, x, y, z))
    }

    /* only once */
    l = forest(g).Loops[0]
    err := ctx.Run("reassociate", l.Head, func() error { return Reassociate(ctx, l) })
    require.Equal(t, ErrNotApplicable, errors.Cause(err))
}

// rangeChecked asserts that loop l is entered through range check predicates
// of its own.
func rangeChecked(t *testing.T, ctx *Context, l *looptree.Loop) {
    require.NotNil(t, l)
    require.False(t, ctx.G.Node(l.Head).Flags.Has(ir.LoopSlow))
    ps := ctx.PM.PredicatesOf(l.Head)
    require.NotEmpty(t, ps, "predicates of %s", l.Head)
    for _, p := range ps {
        require.Equal(t, ir.PredRangeCheck, p.Kind)
        require.True(t, ctx.G.Dominates(p.Node, l.Head))
    }
}

// eliminated turns the range checks of the only loop of g into predicates.
func eliminated(t *testing.T, g *ir.Graph) *Context {
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)
    require.NoError(t, ctx.Run("range_check", l.Head, func() error { return EliminateRangeChecks(ctx, l, d) }))
    cleanup(ctx)
    require.Len(t, ctx.PM.PredicatesOf(fast(t, g).Head), 2)
    return ctx
}

func TestEliminateRangeChecks_ThenUnroll(t *testing.T) {
    g, ref := testgraphs.SumArray(), testgraphs.SumArray()
    ctx := eliminated(t, g)
    l := fast(t, g)
    d := describe(t, g, l)
    require.NoError(t, ctx.Run("unroll", l.Head, func() error { return Unroll(ctx, l, d, 4) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* the main loop and the post loop are both predicated */
    rangeChecked(t, ctx, flagged(g, ir.LoopMain))
    rangeChecked(t, ctx, flagged(g, ir.LoopPost))

    /* same results, out of bounds included */
    f := gofakeit.New(13)
    heap := ir.NewHeap()
    arr := heap.Alloc(randomArray(f, 8)...)
    for _, n := range []int64 { -1, 0, 1, 3, 4, 5, 7, 8, 9, 12 } {
        compare(t, ref, g, heap, arr, n)
    }
}

func TestEliminateRangeChecks_ThenUnswitch(t *testing.T) {
    g, ref := testgraphs.Unswitchable(), testgraphs.Unswitchable()
    ctx := eliminated(t, g)
    l := fast(t, g)
    br := UnswitchCandidate(g, l)
    require.NotZero(t, br)
    require.NoError(t, ctx.Run("unswitch", l.Head, func() error { return Unswitch(ctx, l, br) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* both versions are predicated */
    n := 0
    for _, l := range forest(g).Loops {
        if g.Node(l.Head).Flags.Has(ir.LoopUnswitched) {
            rangeChecked(t, ctx, l)
            n++
        }
    }
    require.Equal(t, 2, n)

    /* same stores, out of bounds included */
    heap := ir.NewHeap()
    arr := heap.Alloc(make([]int64, 8)...)
    for _, flag := range []int64 { 0, 1 } {
        for _, n := range []int64 { -2, 0, 3, 8, 9 } {
            compare(t, ref, g, heap, arr, n, flag)
        }
    }
}

func TestEliminateRangeChecks_ThenPeel(t *testing.T) {
    g, ref := testgraphs.ScaledIndex(), testgraphs.ScaledIndex()
    ctx := eliminated(t, g)
    l := fast(t, g)
    require.NoError(t, ctx.Run("peel", l.Head, func() error { return Peel(ctx, l) }))
    cleanup(ctx)
    require.NoError(t, ir.VerifyDeep(g))

    /* the peeled iteration keeps the old predicates, the loop checks from its new start */
    rangeChecked(t, ctx, flagged(g, ir.LoopPeeled))

    /* same stores, out of bounds included */
    heap := ir.NewHeap()
    arr := heap.Alloc(make([]int64, 10)...)
    for _, n := range []int64 { -1, 0, 1, 2, 4, 5, 6, 9 } {
        compare(t, ref, g, heap, arr, n)
    }
}

func TestEliminateRangeChecks_WrappingIndex(t *testing.T) {
    g, ref := testgraphs.HashedIndex(), testgraphs.HashedIndex()
    ctx := newContext(g)
    l := forest(g).Loops[0]
    d := describe(t, g, l)

    /* the coefficients do not fit an int */
    var rc *ir.Node
    for _, id := range l.Body {
        if g.Op(id) == ir.OpRangeCheck {
            rc = g.Node(id)
        }
    }
    require.NotNil(t, rc)
    _, ok := rangeCheckOf(g, l, d, rc)
    require.False(t, ok)

    /* so the check stays */
    err := ctx.Run("range_check", l.Head, func() error { return EliminateRangeChecks(ctx, l, d) })
    require.Equal(t, ErrNotApplicable, errors.Cause(err))
    require.Len(t, nodesOf(g, ir.OpRangeCheck), 1)

    /* and the second iteration still traps */
    heap := ir.NewHeap()
    arr := heap.Alloc(make([]int64, 8)...)
    out, err := ir.NewEmulator(g, heap.Clone(), arr, 4).Run()
    require.NoError(t, err)
    require.True(t, out.Trapped)
    require.Equal(t, ir.TrapRangeCheck, out.Reason)
    for _, n := range []int64 { 0, 1, 2, 4 } {
        compare(t, ref, g, heap, arr, n)
    }
}
