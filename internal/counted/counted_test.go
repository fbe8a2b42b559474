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

package counted

import (
    `math`
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/cloudwego/loopopt/internal/looptree`
    `github.com/cloudwego/loopopt/internal/testgraphs`
    `github.com/cloudwego/loopopt/ir`
    `github.com/pkg/errors`
    `github.com/stretchr/testify/require`
)

func innermost(g *ir.Graph) *looptree.Loop {
    return looptree.Build(g).Loops[0]
}

func recognize(t *testing.T, g *ir.Graph) *Descriptor {
    d, err := Recognize(g, innermost(g))
    require.NoError(t, err)
    return d
}

func emulate(t *testing.T, g *ir.Graph, params ...int64) ir.Outcome {
    out, err := ir.NewEmulator(g, nil, params...).Run()
    require.NoError(t, err)
    return out
}

func TestRecognize_SumArray(t *testing.T) {
    g := testgraphs.SumArray()
    d := recognize(t, g)
    require.Equal(t, int64(1), d.Stride)
    require.Equal(t, ir.CondLT, d.Cond)
    require.Equal(t, ir.KindInt, d.Kind)
    require.Equal(t, d.Incr, d.Tested())
    require.Equal(t, ir.OpParam, g.Op(d.Limit))
    require.Equal(t, ir.OpConstI, g.Op(d.Init))
    require.True(t, d.Up())
    require.True(t, d.Guarded)
    require.False(t, d.Wide)
    require.False(t, d.Unsigned)
    require.False(t, d.TestOnPhi)
    require.Empty(t, d.Checks)
    require.Equal(t, []ir.ID { d.Phi }, BasicIVs(g, d.Head))

    /* the bound is a parameter */
    _, ok := Trip(g, d)
    require.False(t, ok)
}

func TestRecognize_Trip(t *testing.T) {
    tests := []struct {
        init   int32
        limit  int32
        stride int64
        cc     ir.Cond
        trip   int64
    } {
        { 0, 10, 1, ir.CondLT, 10 },
        { 0, 10, 3, ir.CondLT, 4 },
        { 0, 10, 1, ir.CondLE, 11 },
        { 0, 9, 3, ir.CondLE, 4 },
        { 10, 0, -1, ir.CondGT, 10 },
        { 10, 0, -3, ir.CondGE, 4 },
        { -5, 5, 2, ir.CondLT, 5 },
        { math.MaxInt32 - 2000, math.MaxInt32, 1, ir.CondLT, 2000 },
    }
    for _, tc := range tests {
        g := testgraphs.Count(&tc.init, &tc.limit, tc.stride, tc.cc)
        d := recognize(t, g)
        require.Empty(t, d.Checks)
        n, ok := Trip(g, d)
        require.True(t, ok)
        require.Equal(t, tc.trip, n, "%d %s %d step %d", tc.init, tc.cc, tc.limit, tc.stride)
        require.Equal(t, tc.trip, emulate(t, g).Value)
    }
}

func TestRecognize_NeedsChecks(t *testing.T) {
    g := testgraphs.WideLimit()
    d := recognize(t, g)
    require.True(t, d.Wide)
    require.False(t, d.Guarded)
    require.Equal(t, []Check {{ Value: d.Limit, Lo: math.MinInt32, Hi: math.MaxInt32, What: "limit" }}, d.Checks)

    /* unsigned loops check both bounds */
    g = testgraphs.UnsignedLimit()
    d = recognize(t, g)
    require.True(t, d.Unsigned)
    require.Len(t, d.Checks, 2)
    require.Equal(t, Check { Value: d.Limit, Lo: 0, Hi: math.MaxInt32, What: "limit" }, d.Checks[0])
    require.Equal(t, Check { Value: d.Init, Lo: 0, Hi: math.MaxInt32 - 1, What: "init" }, d.Checks[1])

    /* down-counting loops leave room below the limit */
    g = testgraphs.Strided()
    d = recognize(t, g)
    require.Equal(t, int64(-3), d.Stride)
    require.True(t, d.Guarded)
    require.Equal(t, []Check {{ Value: d.Limit, Lo: math.MinInt32 + 2, Hi: math.MaxInt32, What: "limit" }}, d.Checks)
    require.Equal(t, "limit "+d.Limit.String()+" in [-2147483646, 2147483647]", d.Checks[0].String())
}

func TestRecognize_Rejects(t *testing.T) {
    mk := func(step bool, cc ir.Cond) *ir.Graph {
        b := ir.NewBuilder("rejected")
        n := b.Param(ir.KindInt, 0)
        k := b.Param(ir.KindInt, 1)
        ls := b.Loop()
        i := ls.Phi(ir.KindInt, b.ConstI(0))
        nx := b.Add(i, b.ConstI(1))
        if step {
            nx = b.Add(i, k)
        }
        ls.SetNext(i, nx)
        ls.Close(b.Cmp(cc, nx, n))
        b.Return(0)
        return b.Finish()
    }

    /* a few loops that are not counted */
    for _, g := range []*ir.Graph {
        mk(true, ir.CondLT),
        mk(false, ir.CondNE),
        mk(false, ir.CondGT),
        testgraphs.Irreducible(),
    } {
        _, err := Recognize(g, innermost(g))
        require.Error(t, err)
        require.Equal(t, ErrNotCounted, errors.Cause(err), err.Error())
    }

    /* the outer loop of a nest without an exit */
    g := testgraphs.InfiniteOuter()
    _, err := Recognize(g, looptree.Build(g).Loops[1])
    require.Equal(t, ErrNotCounted, errors.Cause(err))
}

func TestReassociateInvariants(t *testing.T) {
    g := testgraphs.Invariants()
    ref := testgraphs.Invariants()
    l := innermost(g)
    require.Equal(t, 1, ReassociateInvariants(g, l))
    ir.Simplify(g)
    require.NoError(t, ir.Verify(g))

    /* x + y is computed outside of the loop now */
    x, y := ir.ID(0), ir.ID(0)
    for _, id := range g.Live() {
        if p := g.Node(id); p.Op == ir.OpParam && p.Aux == 1 {
            x = id
        } else if p.Op == ir.OpParam && p.Aux == 2 {
            y = id
        }
    }
    found := false
    for _, id := range g.Live() {
        if p := g.Node(id); p.Op == ir.OpAdd && p.In[0] == x && p.In[1] == y {
            found = true
            require.True(t, l.IsInvariant(g, id))
        }
    }
    require.True(t, found)

    /* same results */
    f := gofakeit.New(42)
    for i := 0; i < 32; i++ {
        n := int64(f.IntRange(0, 20))
        a, b, c := int64(f.Int32()), int64(f.Int32()), int64(f.Int32())
        require.Equal(t, emulate(t, ref, n, a, b, c).String(), emulate(t, g, n, a, b, c).String())
    }

    /* nothing left to do */
    require.Zero(t, ReassociateInvariants(g, innermost(g)))
}

// count returns the number of live op nodes, in or out of the loop.
func count(g *ir.Graph, l *looptree.Loop, op ir.Op, invariant bool) int {
    n := 0
    for _, id := range g.Live() {
        if g.Op(id) == op && l.IsInvariant(g, id) == invariant {
            n++
        }
    }
    return n
}

// offsets: for (i = 0; i < n; i++) s += (x + i) - y; return s.
// Parameters: #0 n, #1 x, #2 y.
func offsets() *ir.Graph {
    b := ir.NewBuilder("offsets")
    n := b.Param(ir.KindInt, 0)
    x := b.Param(ir.KindInt, 1)
    y := b.Param(ir.KindInt, 2)

    /* the loop */
    zero := b.ConstI(0)
    f := b.For(zero, n, 1, ir.CondLT)
    s := f.Carry(zero)
    f.Next(s, b.Add(s, b.Sub(b.Add(x, f.IV), y)))
    f.End()

    /* return the sum */
    b.Return(f.ExitValue(s))
    return b.Finish()
}

func TestReassociateInvariants_OpCounts(t *testing.T) {
    g := offsets()
    ref := offsets()
    l := innermost(g)
    require.Equal(t, 3, count(g, l, ir.OpAdd, false))
    require.Equal(t, 1, count(g, l, ir.OpSub, false))

    /* the subtraction moves out of the loop */
    require.Equal(t, 1, ReassociateInvariants(g, l))
    ir.Simplify(g)
    require.NoError(t, ir.Verify(g))
    l = innermost(g)
    require.Equal(t, 3, count(g, l, ir.OpAdd, false))
    require.Equal(t, 0, count(g, l, ir.OpSub, false))
    require.Equal(t, 1, count(g, l, ir.OpSub, true))

    /* same results */
    f := gofakeit.New(7)
    for i := 0; i < 32; i++ {
        n, x, y := int64(f.IntRange(0, 20)), int64(f.Int32()), int64(f.Int32())
        require.Equal(t, emulate(t, ref, n, x, y).String(), emulate(t, g, n, x, y).String())
    }
}

// commuted: for (i = 0; i < n; i++) s += x op (i op y); return s.
// Parameters: #0 n, #1 x, #2 y.
func commuted(op ir.Op) *ir.Graph {
    b := ir.NewBuilder("commuted")
    n := b.Param(ir.KindInt, 0)
    x := b.Param(ir.KindInt, 1)
    y := b.Param(ir.KindInt, 2)

    /* the loop */
    zero := b.ConstI(0)
    f := b.For(zero, n, 1, ir.CondLT)
    s := f.Carry(zero)
    e := b.G.AddNode(op, ir.TypeInt, x, b.G.AddNode(op, ir.TypeInt, f.IV, y))
    f.Next(s, b.Add(s, e))
    f.End()

    /* return the sum */
    b.Return(f.ExitValue(s))
    return b.Finish()
}

func TestReassociateInvariants_Commutative(t *testing.T) {
    f := gofakeit.New(11)
    for _, op := range []ir.Op { ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor } {
        g, ref := commuted(op), commuted(op)
        l := innermost(g)
        require.Equal(t, 2, count(g, l, op, false), op.String())

        /* x op y is computed before the loop */
        require.Equal(t, 1, ReassociateInvariants(g, l), op.String())
        ir.Simplify(g)
        require.NoError(t, ir.Verify(g))
        l = innermost(g)
        require.Equal(t, 1, count(g, l, op, false), op.String())
        require.Equal(t, 1, count(g, l, op, true), op.String())

        /* same results */
        for i := 0; i < 16; i++ {
            n, x, y := int64(f.IntRange(0, 20)), int64(f.Int32()), int64(f.Int32())
            require.Equal(t, emulate(t, ref, n, x, y).String(), emulate(t, g, n, x, y).String(), "%s", op)
        }

        /* nothing left to do */
        require.Zero(t, ReassociateInvariants(g, l), op.String())
    }
}

// chain: for (i = 0; i < n; i++) s = ((s op i) op i*3) op (i ^ 5)
func chain(kind ir.Kind, op ir.Op) *ir.Graph {
    b := ir.NewBuilder("chain")
    n := b.Param(ir.KindInt, 0)
    zero := b.ConstI(0)
    f := b.For(zero, n, 1, ir.CondLT)

    /* the terms */
    s := f.Carry(b.G.Const(kind, 0))
    t1, t2, t3 := f.IV, b.Mul(f.IV, b.ConstI(3)), b.Xor(f.IV, b.ConstI(5))
    if kind == ir.KindDouble {
        t1, t2, t3 = b.Param(ir.KindDouble, 1), b.Param(ir.KindDouble, 2), b.Param(ir.KindDouble, 3)
    }

    /* the chain */
    typ := ir.TypeOf(kind)
    v := b.G.AddNode(op, typ, b.G.AddNode(op, typ, b.G.AddNode(op, typ, s, t1), t2), t3)
    f.Next(s, v)
    f.End()
    b.Return(f.ExitValue(s))
    return b.Finish()
}

func TestReassociateReductions(t *testing.T) {
    for _, op := range []ir.Op { ir.OpAdd, ir.OpMul, ir.OpXor, ir.OpMax } {
        g, ref := chain(ir.KindInt, op), chain(ir.KindInt, op)
        l := innermost(g)
        require.Equal(t, 1, ReassociateReductions(g, l, false), op.String())
        ir.Simplify(g)
        require.NoError(t, ir.Verify(g))

        /* the phi feeds the last op directly */
        phi := BasicIVs(g, l.Head)[0]
        for _, p := range g.Phis(l.Head) {
            if p != phi {
                require.Equal(t, p, g.Node(g.Node(p).In[2]).In[0])
            }
        }

        /* same results */
        for _, n := range []int64 { 0, 1, 2, 7, 100 } {
            require.Equal(t, emulate(t, ref, n).String(), emulate(t, g, n).String(), "%s n=%d", op, n)
        }

        /* idempotent */
        require.Zero(t, ReassociateReductions(g, innermost(g), false))
    }
}

func TestReassociateReductions_Float(t *testing.T) {
    g := chain(ir.KindDouble, ir.OpAdd)
    require.Zero(t, ReassociateReductions(g, innermost(g), false))
    require.Equal(t, 1, ReassociateReductions(g, innermost(g), true))

    /* subtraction never qualifies */
    g = chain(ir.KindInt, ir.OpSub)
    require.Zero(t, ReassociateReductions(g, innermost(g), true))
}
