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

package ir

import (
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/stretchr/testify/require`
)

func TestVerify_SumArray(t *testing.T) {
    require.NoError(t, VerifyDeep(buildSumArray().g))
}

func TestVerify_PhiArity(t *testing.T) {
    sa := buildSumArray()
    sa.g.AddInput(sa.loop.IV, sa.loop.Init)
    err := Verify(sa.g)
    require.IsType(t, &VerifyError{}, err)
    require.Equal(t, sa.loop.IV, err.(*VerifyError).Node)
}

func TestVerify_UseNotDominated(t *testing.T) {
    sa := buildSumArray()
    sa.g.SetInput(sa.ret, 1, sa.load)
    err := Verify(sa.g)
    require.IsType(t, &VerifyError{}, err)
    require.Contains(t, err.Error(), "does not dominate")
}

func TestVerify_DataCycle(t *testing.T) {
    g := NewGraph("cycle")
    x := g.AddAux(OpParam, TypeInt, 0)
    a := g.AddNode(OpAdd, TypeInt, x, x)
    b := g.AddNode(OpAdd, TypeInt, a, x)
    g.SetInput(a, 1, b)
    g.AddNode(OpReturn, TypeControl, g.Start(), b)
    err := Verify(g)
    require.IsType(t, &VerifyError{}, err)
    require.Contains(t, err.Error(), "data cycle")
}

func TestVerify_BranchSuccessors(t *testing.T) {
    b := NewBuilder("branch")
    x := b.Param(KindInt, 0)
    t0, f0 := b.If(b.Cmp(CondLT, x, b.ConstI(0)))
    b.SetCtrl(t0)
    b.Return(x)
    b.SetCtrl(f0)
    b.Return(b.Neg(x))
    g := b.Finish()
    require.NoError(t, Verify(g))

    /* a second true projection */
    g.AddNode(OpIfTrue, TypeControl, g.Node(t0).In[0])
    require.Error(t, Verify(g))
}

// randomControlFlow builds an arbitrary, possibly irreducible, control flow
// graph out of regions connected by branches and safepoints.
func randomControlFlow(f *gofakeit.Faker, n int) *Graph {
    b := NewBuilder("random")
    x := b.Param(KindInt, 0)
    rs := make([]ID, n)

    /* create all the regions without predecessors */
    for i := range rs {
        rs[i] = b.G.AddNode(OpRegion, TypeControl)
    }

    /* enter the first region */
    b.G.AddInput(rs[0], b.G.Start())
    for i, r := range rs {
        b.SetCtrl(r)
        switch f.Number(0, 3) {
            case 0: {
                b.Return(x)
            }
            case 1: {
                b.G.AddInput(rs[f.Number(0, n - 1)], b.Safepoint())
            }
            default: {
                t0, f0 := b.If(b.Cmp(CondLT, x, b.ConstI(int32(i))))
                b.G.AddInput(rs[f.Number(0, n - 1)], t0)
                b.G.AddInput(rs[f.Number(0, n - 1)], f0)
            }
        }
    }
    return b.G
}

func TestDominators_CrossCheckRandom(t *testing.T) {
    for seed := int64(1); seed <= 64; seed++ {
        f := gofakeit.New(seed)
        g := randomControlFlow(f, f.Number(2, 24))
        require.NoError(t, CrossCheckDominators(g), "seed = %d", seed)
    }
}

func TestDominators_Tree(t *testing.T) {
    sa := buildSumArray()
    dt := sa.g.Dominators()
    head := sa.loop.Head

    /* the loop head is dominated by its entry */
    require.Equal(t, sa.g.Preds(head)[0], dt.Idom(head))
    require.Equal(t, ID(0), dt.Idom(sa.g.Start()))
    require.True(t, dt.Dominates(sa.g.Start(), sa.ret))
    require.True(t, dt.Depth[head] > 0)
    require.Contains(t, dt.DominatorOf[dt.Idom(head)], head)
}
