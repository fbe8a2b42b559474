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

package looptree

import (
    `testing`

    `github.com/cloudwego/loopopt/internal/testgraphs`
    `github.com/cloudwego/loopopt/ir`
    `github.com/davecgh/go-spew/spew`
    `github.com/stretchr/testify/require`
)

func nodesOf(g *ir.Graph, op ir.Op) []ir.ID {
    var ret []ir.ID
    for _, id := range g.Live() {
        if g.Op(id) == op {
            ret = append(ret, id)
        }
    }
    return ret
}

func run(t *testing.T, g *ir.Graph, heap *ir.Heap, params ...int64) ir.Outcome {
    out, err := ir.NewEmulator(g, heap, params...).Run()
    require.NoError(t, err)
    return out
}

func TestBuild_SumArray(t *testing.T) {
    g := testgraphs.SumArray()
    f := Build(g)
    require.Len(t, f.Loops, 1)
    l := f.Loops[0]
    require.Equal(t, nodesOf(g, ir.OpLoop), []ir.ID { l.Head })
    require.Equal(t, 1, l.Depth)
    require.False(t, l.IsIrreducible)
    require.Equal(t, []ir.ID { l.Head }, l.Entries)
    require.Len(t, l.Tails, 1)
    require.Len(t, l.Exits, 2, spew.Sdump(l.Exits))
    require.Nil(t, f.LoopOf(g.Start()))
    require.Equal(t, l, f.LoopOf(l.Head))
    require.NoError(t, f.Verify())

    /* the range check failure is a sink exit */
    exit, sinks, err := Exits(g, l)
    require.NoError(t, err)
    require.Equal(t, ir.OpIfFalse, g.Op(exit))
    require.Equal(t, ir.OpRegion, g.Op(g.Succ(exit)))
    require.Len(t, sinks, 2)
    require.Equal(t, ir.OpTrap, g.Op(sinks[1]))
}

func TestBuild_Nested(t *testing.T) {
    g := testgraphs.Nested()
    f := Build(g)
    require.Len(t, f.Loops, 2)
    require.Len(t, f.Roots, 1)

    /* inner loops are listed first */
    inner, outer := f.Loops[0], f.Loops[1]
    require.Equal(t, outer, inner.Parent)
    require.Equal(t, []*Loop { inner }, outer.Children)
    require.Equal(t, 2, inner.Depth)
    require.Equal(t, 1, outer.Depth)
    for _, v := range inner.Body {
        require.True(t, outer.ContainsCtrl(v))
    }

    /* innermost loop of the inner head */
    require.Equal(t, inner, f.LoopOf(inner.Head))
    require.Equal(t, outer, f.LoopOf(outer.Head))
    require.NoError(t, f.Verify())
}

func TestBuild_Irreducible(t *testing.T) {
    g := testgraphs.Irreducible()
    f := Build(g)
    require.Len(t, f.Loops, 1)
    l := f.Loops[0]
    require.True(t, l.IsIrreducible)
    require.Len(t, l.Entries, 2)
    require.NoError(t, f.Verify())

    /* never reshaped, never closed */
    require.False(t, Beautify(g, f))
    _, err := Close(g, l)
    require.Equal(t, ErrIrreducible, err)
}

func TestBuild_InfiniteOuter(t *testing.T) {
    g := testgraphs.InfiniteOuter()
    f := Build(g)
    require.Len(t, f.Loops, 2)
    inner, outer := f.Loops[0], f.Loops[1]
    require.Equal(t, outer, inner.Parent)
    require.NoError(t, f.Verify())

    /* the outer loop only leaves through the trap */
    _, err := Close(g, outer)
    require.Equal(t, ErrNoExit, err)

    /* the inner loop is a normal loop */
    sh, err := Close(g, inner)
    require.NoError(t, err)
    require.True(t, outer.ContainsCtrl(sh.Region))
    require.NoError(t, ir.Verify(g))
}

func TestBuild_Deterministic(t *testing.T) {
    g := testgraphs.Nested()
    require.True(t, Build(g).Equal(Build(g)))
    require.False(t, Build(g).Equal(Build(testgraphs.SumArray())))
}

func TestBeautify_Idempotent(t *testing.T) {
    for _, g := range []*ir.Graph { testgraphs.SumArray(), testgraphs.Nested(), testgraphs.InfiniteOuter() } {
        f := Build(g)
        require.False(t, Beautify(g, f), g.Name)
        require.True(t, f.Equal(Build(g)), g.Name)
    }
}

// twoBackedges: i = 0; loop { n1 = i + 1; if n1 even continue; if n1 < n continue; return n1 }
func twoBackedges() *ir.Graph {
    b := ir.NewBuilder("two_backedges")
    n := b.Param(ir.KindInt, 0)
    ls := b.Loop()
    i := ls.Phi(ir.KindInt, b.ConstI(0))
    next := b.Add(i, b.ConstI(1))

    /* first backedge when even */
    t1, f1 := b.If(b.Cmp(ir.CondEQ, b.And(next, b.ConstI(1)), b.ConstI(0)))
    b.SetCtrl(f1)

    /* second backedge while below n */
    t2, f2 := b.If(b.Cmp(ir.CondLT, next, n))
    b.G.AddInput(ls.Head, t1)
    b.G.AddInput(i, next)
    b.G.AddInput(ls.Head, t2)
    b.G.AddInput(i, next)

    /* return */
    b.SetCtrl(f2)
    b.Return(next)
    return b.Finish()
}

func TestBeautify_MergesBackedges(t *testing.T) {
    g := twoBackedges()
    f := Build(g)
    require.Len(t, f.Loops, 1)
    require.Len(t, f.Loops[0].Tails, 2)
    require.Error(t, ir.Verify(g))

    /* reshape */
    require.True(t, Beautify(g, f))
    require.NoError(t, ir.Verify(g))
    f = Build(g)
    require.Len(t, f.Loops[0].Tails, 1)
    require.Equal(t, ir.OpRegion, g.Op(f.Loops[0].Tails[0]))
    require.False(t, Beautify(g, f))

    /* same behaviour */
    require.Equal(t, "returned(5)", run(t, g, nil, 5).String())
    require.Equal(t, "returned(11)", run(t, g, nil, 10).String())
}

// regionHeaded: the same loop as Count, but headed by a plain region with
// the backedge first.
func regionHeaded() *ir.Graph {
    b := ir.NewBuilder("region_headed")
    n := b.Param(ir.KindInt, 0)
    entry := b.Ctrl()

    /* head = region(back, entry) */
    h := b.G.AddNode(ir.OpRegion, ir.TypeControl)
    i := b.G.AddNode(ir.OpPhi, ir.TypeInt, h)
    b.SetCtrl(h)
    next := b.Add(i, b.ConstI(1))
    back, exit := b.If(b.Cmp(ir.CondLT, next, n))

    /* wire the inputs */
    b.G.AddInput(h, back)
    b.G.AddInput(i, next)
    b.G.AddInput(h, entry)
    b.G.AddInput(i, b.ConstI(0))

    /* return the final value */
    b.SetCtrl(exit)
    b.Return(next)
    return b.Finish()
}

func TestBeautify_RegionHeaded(t *testing.T) {
    g := regionHeaded()
    f := Build(g)
    require.Len(t, f.Loops, 1)
    h := f.Loops[0].Head
    require.Equal(t, ir.OpRegion, g.Op(h))

    /* becomes a loop with the entry first */
    require.True(t, Beautify(g, f))
    require.Equal(t, ir.OpLoop, g.Op(h))
    require.Equal(t, g.Start(), g.Node(h).In[0])
    require.NoError(t, ir.Verify(g))
    require.Equal(t, "returned(7)", run(t, g, nil, 7).String())
}

func TestBeautify_DemotesStrayLoops(t *testing.T) {
    b := ir.NewBuilder("stray")
    r := b.G.AddNode(ir.OpLoop, ir.TypeControl, b.Ctrl())
    b.SetCtrl(r)
    b.Return(0)
    g := b.Finish()

    /* a loop node without a backedge */
    require.True(t, Beautify(g, Build(g)))
    require.Equal(t, ir.OpRegion, g.Op(r))
}

func TestClose_RoutesOutsideUses(t *testing.T) {
    g := testgraphs.WideLimit()
    f := Build(g)
    l := f.Loops[0]
    ret := nodesOf(g, ir.OpReturn)[0]
    before := g.Node(ret).In[1]

    /* the return uses the loop value directly */
    require.True(t, l.Contains(g, before))
    sh, err := Close(g, l)
    require.NoError(t, err)
    require.Equal(t, ir.OpRegion, g.Op(sh.Region))
    require.Equal(t, []ir.ID { sh.Exit }, g.Node(sh.Region).In)

    /* now through an exit phi */
    p := g.Node(ret).In[1]
    require.Equal(t, ir.OpPhi, g.Op(p))
    require.Equal(t, []ir.ID { sh.Region, before }, g.Node(p).In)
    require.NoError(t, ir.Verify(g))
    require.Equal(t, "returned(10)", run(t, g, nil, 10).String())

    /* closing again changes nothing */
    n := g.Len()
    sh2, err := Close(g, Build(g).Loops[0])
    require.NoError(t, err)
    require.Equal(t, n, g.Len())
    require.Equal(t, sh.Region, sh2.Region)
    require.Equal(t, sh.Order, sh2.Order)
}

func TestClose_ReturnExit(t *testing.T) {
    g, ref := testgraphs.UnsignedLimit(), testgraphs.UnsignedLimit()
    l := Build(g).Loops[0]

    /* the exit leads to the return, it is not a sink */
    exit, sinks, err := Exits(g, l)
    require.NoError(t, err)
    require.NotZero(t, exit)
    require.Empty(t, sinks)

    /* and gets a region of its own */
    sh, err := Close(g, l)
    require.NoError(t, err)
    require.Equal(t, exit, sh.Exit)
    require.Equal(t, ir.OpRegion, g.Op(sh.Region))
    require.NoError(t, ir.Verify(g))
    for _, lim := range []int64 { 0, 1, 5 } {
        require.Equal(t, run(t, ref, nil, 0, lim).String(), run(t, g, nil, 0, lim).String())
    }
}

func TestClose_Members(t *testing.T) {
    g := testgraphs.SumArray()
    l := Build(g).Loops[0]
    sh, err := Close(g, l)
    require.NoError(t, err)

    /* loads, phis and sinks are members, the array length is not */
    ln := nodesOf(g, ir.OpArrayLen)[0]
    require.False(t, sh.Members[ln])
    require.True(t, l.IsInvariant(g, ln))
    for _, id := range nodesOf(g, ir.OpLoad) {
        require.True(t, sh.Members[id])
    }
    for _, id := range g.Phis(l.Head) {
        require.True(t, sh.Members[id])
        require.False(t, l.IsInvariant(g, id))
    }
    require.True(t, sh.Members[nodesOf(g, ir.OpTrap)[1]])
    require.False(t, sh.Members[nodesOf(g, ir.OpTrap)[0]])
    require.False(t, sh.Members[sh.Region])
}

func TestCloneLoop_Versioned(t *testing.T) {
    g := testgraphs.SumArray()
    sh, err := Close(g, Build(g).Loops[0])
    require.NoError(t, err)
    c := CloneLoop(g, sh)
    require.Len(t, c.Map, sh.Size())

    /* select one of the two loops on a new parameter */
    sel := g.AddAux(ir.OpParam, ir.TypeInt, 2)
    br := g.AddNode(ir.OpIf, ir.TypeControl, sh.Entry, g.AddAux(ir.OpCmp, ir.TypeBool, int64(ir.CondNE), sel, g.Const(ir.KindInt, 0)))
    bt := g.AddNode(ir.OpIfTrue, ir.TypeControl, br)
    bf := g.AddNode(ir.OpIfFalse, ir.TypeControl, br)
    g.SetInput(sh.Head, 0, bt)
    g.SetInput(c.Head, 0, bf)
    AttachExit(g, sh, c)
    ir.ComputeTypes(g)
    require.NoError(t, ir.VerifyDeep(g), g.String())

    /* both loops compute the same thing */
    for _, v := range []int64 { 0, 1 } {
        heap := ir.NewHeap()
        arr := heap.Alloc(1, 2, 3, 4)
        e := ir.NewEmulator(g, heap, arr, 4, v)
        out, err := e.Run()
        require.NoError(t, err)
        require.Equal(t, "returned(10)", out.String())
        if v == 0 {
            require.Equal(t, 4, e.Visits[c.Head])
            require.Zero(t, e.Visits[sh.Head])
        } else {
            require.Equal(t, 4, e.Visits[sh.Head])
            require.Zero(t, e.Visits[c.Head])
        }
    }

    /* the copy has its own trap */
    heap := ir.NewHeap()
    out := run(t, g, heap, heap.Alloc(1, 2, 3), 4, 0)
    require.Equal(t, "trapped(range_check)", out.String())

    /* two loops now */
    f := Build(g)
    require.Len(t, f.Loops, 2)
    require.NoError(t, f.Verify())
}

func TestForest_VerifyDetectsMissingLoops(t *testing.T) {
    g := testgraphs.SumArray()
    f := &Forest { G: g, loopOf: map[ir.ID]*Loop{} }
    err := f.Verify()
    require.Error(t, err)
    require.IsType(t, new(ForestError), err)
}

func TestLoop_String(t *testing.T) {
    g := testgraphs.Nested()
    f := Build(g)
    require.Contains(t, f.String(), "depth=1")
    require.Contains(t, f.String(), "    loop(")
}
