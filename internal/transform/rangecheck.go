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

    `github.com/cloudwego/loopopt/internal/counted`
    `github.com/cloudwego/loopopt/internal/looptree`
    `github.com/cloudwego/loopopt/ir`
)

// EliminateRangeChecks removes the range checks of a counted loop indexing
// with an affine function of the IV. Each check is replaced by two range
// check predicates at the loop entry, testing the index at the first and at
// the last value of the IV.
func EliminateRangeChecks(ctx *Context, l *looptree.Loop, d *counted.Descriptor) error {
    g := ctx.G
    switch {
        case d.Kind != ir.KindInt                : return notApplicable("%s loops have no range checks", d.Kind)
        case d.TestOnPhi || d.Wide || d.Unsigned : return notApplicable("exit test is not canonical")
        case len(d.Checks) != 0                  : return notApplicable("the IV may overflow")
    }

    /* the last value of the IV */
    w := _Long { g }
    var last ir.ID
    switch lim := w.of(d.Limit); d.Cond {
        case ir.CondLT : last = w.add(lim, -1)
        case ir.CondGT : last = w.add(lim, 1)
        case ir.CondLE : last = lim
        case ir.CondGE : last = lim
        default        : return notApplicable("exit condition %s", d.Cond)
    }

    /* collect the candidates first, versioning the loop changes the graph */
    var rcs []ir.ID
    var idx []_Affine
    for _, id := range l.Body {
        if p := g.Node(id); p.Op == ir.OpRangeCheck && len(p.In) == 2 {
            if a, ok := rangeCheckOf(g, l, d, p); ok {
                rcs = append(rcs, id)
                idx = append(idx, a)
            }
        }
    }

    /* nothing to eliminate */
    if len(rcs) == 0 {
        return notApplicable("no eliminable range checks in %s", l.Head)
    }

    /* replace the checks */
    n := 0
    for i, id := range rcs {
        ln := w.of(g.Node(g.Node(id).In[1]).In[1])

        /* the index at the first iteration, reinitialized when the loop is copied */
        first := w.of(g.AddNode(ir.OpOpaqueInit, ir.TypeInt, d.Init))
        if _, err := ctx.PM.Insert(ir.PredRangeCheck, w.cmp(ir.CondULT, idx[i].at(w, first), ln), l); err != nil {
            ctx.Log.Debugf("range check %s stays: %v", id, err)
            continue
        }

        /* and at the last iteration */
        if _, err := ctx.PM.Insert(ir.PredRangeCheck, w.cmp(ir.CondULT, idx[i].at(w, last), ln), l); err != nil {
            return err
        }

        /* the check always passes in the loop */
        g.FoldBranch(id, true)
        n++
    }

    /* none of the predicates could be placed */
    if n == 0 {
        return notApplicable("range checks of %s are not hoistable", l.Head)
    }

    /* mark the loop */
    addFlags(g, d.Head, ir.LoopRangeChecked)
    return nil
}

func rangeCheckOf(g *ir.Graph, l *looptree.Loop, d *counted.Descriptor, p *ir.Node) (_Affine, bool) {
    cmp := g.Node(p.In[1])
    if cmp.Op != ir.OpCmp || cmp.Cond() != ir.CondULT || !l.IsInvariant(g, cmp.In[1]) {
        return _Affine{}, false
    } else if g.Node(cmp.In[0]).Type.Kind != ir.KindInt {
        return _Affine{}, false
    } else {
        return affineOf(g, l, d.Phi, cmp.In[0])
    }
}

// _Term is an invariant int value scaled by a constant.
type _Term struct {
    k int64
    v ir.ID
}

// _Affine is an int index `scale*iv + sum(k*v)`. The sum of the absolute
// coefficients stays below 2^31, so with every value in the int range, and
// the IV at most one step beyond it, the index evaluates exactly in 64 bits.
type _Affine struct {
    scale int64
    terms []_Term
}

func (self _Affine) weight() int64 {
    ret := abs64(self.scale)
    for _, t := range self.terms {
        ret += abs64(t.k)
    }
    return ret
}

func (self _Affine) mul(k int64) _Affine {
    ret := _Affine { scale: self.scale * k }
    for _, t := range self.terms {
        ret.terms = append(ret.terms, _Term { t.k * k, t.v })
    }
    return ret
}

func (self _Affine) add(other _Affine, sign int64) _Affine {
    ret := _Affine { scale: self.scale + sign * other.scale }
    ret.terms = append(ret.terms, self.terms...)
    for _, t := range other.terms {
        ret.terms = append(ret.terms, _Term { sign * t.k, t.v })
    }
    return ret
}

// at evaluates the index in 64 bits with the IV replaced by v.
func (self _Affine) at(w _Long, v ir.ID) ir.ID {
    ret := w.op(ir.OpMul, v, w.c(self.scale))
    for _, t := range self.terms {
        ret = w.op(ir.OpAdd, ret, w.op(ir.OpMul, w.of(t.v), w.c(t.k)))
    }
    return ret
}

// affineOf decomposes an index that is a linear function of the IV. Every
// coefficient, and the sum of their magnitudes, must fit the int range.
func affineOf(g *ir.Graph, l *looptree.Loop, iv ir.ID, id ir.ID) (_Affine, bool) {
    ret, ok := linearOf(g, l, iv, id)
    if !ok || ret.scale == 0 || ret.weight() > math.MaxInt32 {
        return _Affine{}, false
    } else {
        return ret, true
    }
}

func linearOf(g *ir.Graph, l *looptree.Loop, iv ir.ID, id ir.ID) (_Affine, bool) {
    if id == iv {
        return _Affine { scale: 1 }, true
    }

    /* invariant values are offsets */
    if l.IsInvariant(g, id) {
        return _Affine { terms: []_Term {{ 1, id }} }, true
    }

    /* decompose the expression */
    var ret _Affine
    switch p := g.Node(id); p.Op {
        default: {
            return _Affine{}, false
        }

        /* sums and differences */
        case ir.OpAdd, ir.OpSub: {
            x, ok := linearOf(g, l, iv, p.In[0])
            if !ok {
                return _Affine{}, false
            }
            y, ok := linearOf(g, l, iv, p.In[1])
            if !ok {
                return _Affine{}, false
            }
            if p.Op == ir.OpAdd {
                ret = x.add(y, 1)
            } else {
                ret = x.add(y, -1)
            }
        }

        /* scaling by a constant */
        case ir.OpMul: {
            k, e := p.In[1], p.In[0]
            if g.Op(k) != ir.OpConstI {
                k, e = e, k
            }
            if g.Op(k) != ir.OpConstI {
                return _Affine{}, false
            }
            x, ok := linearOf(g, l, iv, e)
            if !ok {
                return _Affine{}, false
            }
            ret = x.mul(g.Node(k).Aux)
        }
    }

    /* keep every coefficient small enough for the next step */
    if ret.weight() > math.MaxInt32 {
        return _Affine{}, false
    } else {
        return ret, true
    }
}

func abs64(v int64) int64 {
    if v < 0 {
        return -v
    } else {
        return v
    }
}
