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

// Package counted recognizes counted loops: loops with an integer induction
// variable stepping by a constant towards a loop-invariant limit, and a single
// exit test at the bottom of the body.
package counted

import (
    `fmt`
    `math`

    `github.com/cloudwego/loopopt/internal/looptree`
    `github.com/cloudwego/loopopt/ir`
    `github.com/pkg/errors`
)

var (
    ErrNotCounted = errors.New("not a counted loop")
)

func notCounted(format string, args ...interface{}) error {
    return errors.Wrapf(ErrNotCounted, format, args...)
}

// Check is a range a loop bound must lie in for the IV arithmetic of the loop
// to never overflow. Checks that the types cannot prove become loop limit
// check predicates.
type Check struct {
    Value ir.ID
    Lo    int64
    Hi    int64
    What  string
}

func (self Check) String() string {
    return fmt.Sprintf("%s %s in [%d, %d]", self.What, self.Value, self.Lo, self.Hi)
}

// Descriptor describes a counted loop. The loop continues while the tested
// value (Incr, or Phi when TestOnPhi) compares Cond to Limit.
type Descriptor struct {
    Loop      *looptree.Loop
    Head      ir.ID
    Phi       ir.ID
    Incr      ir.ID
    Init      ir.ID
    Limit     ir.ID
    Stride    int64
    Cond      ir.Cond
    Kind      ir.Kind
    Cmp       ir.ID
    ExitIf    ir.ID
    BackProj  ir.ID
    ExitProj  ir.ID
    Wide      bool
    Unsigned  bool
    TestOnPhi bool
    Guarded   bool
    Checks    []Check
}

// Tested returns the value compared against the limit.
func (self *Descriptor) Tested() ir.ID {
    if self.TestOnPhi {
        return self.Phi
    } else {
        return self.Incr
    }
}

// Up reports whether the IV counts upwards.
func (self *Descriptor) Up() bool {
    return self.Stride > 0
}

// Recognize matches the counted loop pattern. The loop must be beautified.
func Recognize(g *ir.Graph, l *looptree.Loop) (*Descriptor, error) {
    if l.IsIrreducible {
        return nil, notCounted("irreducible")
    }

    /* a two-input loop head */
    h := g.Node(l.Head)
    if !h.Op.IsLoop() || len(h.In) != 2 {
        return nil, notCounted("loop is not beautified")
    }

    /* the backedge is a projection of the exit test */
    back := g.Node(h.In[1])
    if !back.Op.IsProj() || g.Op(back.In[0]) != ir.OpIf {
        return nil, notCounted("backedge %s is not controlled by an exit test", back.Id)
    }

    /* the other projection leaves the loop, and is the only real exit */
    br := g.Node(back.In[0])
    xe := g.Other(back.Id)
    if exit, _, err := looptree.Exits(g, l); err != nil {
        return nil, notCounted("%v", err)
    } else if exit != xe {
        return nil, notCounted("the loop does not exit at the bottom test")
    }

    /* the exit test compares */
    cmp := g.Node(br.In[1])
    if cmp.Op != ir.OpCmp {
        return nil, notCounted("exit condition %s is not a compare", cmp.Id)
    }

    /* normalize to "continue while x cc limit" */
    cc := cmp.Cond()
    if back.Op == ir.OpIfFalse {
        cc = cc.Negate()
    }

    /* the limit is the invariant side */
    x, lim := cmp.In[0], cmp.In[1]
    if !l.IsInvariant(g, lim) {
        if !l.IsInvariant(g, x) {
            return nil, notCounted("no invariant limit")
        }
        x, lim = lim, x
        cc = cc.Commute()
    }

    /* int IVs compared to long limits */
    wide := false
    if g.Op(x) == ir.OpConvI2L {
        x = g.Node(x).In[0]
        wide = true
    }

    /* find the IV and its increment */
    d := &Descriptor {
        Loop     : l,
        Head     : h.Id,
        Limit    : lim,
        Cond     : cc,
        Cmp      : cmp.Id,
        ExitIf   : br.Id,
        BackProj : back.Id,
        ExitProj : xe,
        Wide     : wide,
        Unsigned : cc.IsUnsigned(),
    }
    if err := d.matchIV(g, x); err != nil {
        return nil, err
    }

    /* kinds must line up */
    lk := g.Node(lim).Type.Kind
    switch {
        case wide && (d.Kind != ir.KindInt || lk != ir.KindLong) : return nil, notCounted("widened compare of a %s IV", d.Kind)
        case !wide && lk != d.Kind                               : return nil, notCounted("limit kind %s differs from the IV kind %s", lk, d.Kind)
        case wide && d.Unsigned                                  : return nil, notCounted("widened unsigned compare")
    }

    /* the direction must match the condition */
    switch cc {
        case ir.CondLT, ir.CondLE, ir.CondULT, ir.CondULE: {
            if d.Stride < 0 {
                return nil, notCounted("%s loop counting down", cc)
            }
        }
        case ir.CondGT, ir.CondGE: {
            if d.Stride > 0 {
                return nil, notCounted("%s loop counting up", cc)
            }
        }
        default: {
            return nil, notCounted("unsupported exit condition %s", cc)
        }
    }

    /* overflow checks */
    d.Guarded = guarded(g, d)
    d.checks(g)
    return d, nil
}

func (self *Descriptor) matchIV(g *ir.Graph, x ir.ID) error {
    if p := g.Node(x); p.Op == ir.OpPhi && p.In[0] == self.Head {
        self.Phi = x
        self.Incr = p.In[2]
        self.TestOnPhi = true
    } else {
        self.Incr = x
        self.Phi = ivOf(g, self.Head, x)
    }

    /* the increment must step the phi */
    if self.Phi == 0 {
        return notCounted("%s is not an induction variable", x)
    }

    /* the stride */
    s, ok := strideOf(g, self.Phi, self.Incr)
    if !ok {
        return notCounted("%s is not a constant step of %s", self.Incr, self.Phi)
    }

    /* must be a sane stride */
    if s == 0 || s < math.MinInt32 || s > math.MaxInt32 {
        return notCounted("stride %d out of range", s)
    }

    /* the backedge value must be the increment */
    phi := g.Node(self.Phi)
    if phi.In[2] != self.Incr {
        return notCounted("%s does not carry %s", self.Phi, self.Incr)
    }

    /* integer IVs only */
    self.Kind = phi.Type.Kind
    self.Init = phi.In[1]
    self.Stride = s
    if self.Kind != ir.KindInt && self.Kind != ir.KindLong {
        return notCounted("%s IV", self.Kind)
    } else {
        return nil
    }
}

// ivOf returns the head phi stepped by incr, or 0.
func ivOf(g *ir.Graph, head ir.ID, incr ir.ID) ir.ID {
    p := g.Node(incr)
    if p.Op != ir.OpAdd && p.Op != ir.OpSub {
        return 0
    }

    /* either operand of an add, the left one of a sub */
    for i, v := range p.In {
        if q := g.Node(v); q.Op == ir.OpPhi && q.In[0] == head && (i == 0 || p.Op == ir.OpAdd) {
            return v
        }
    }
    return 0
}

// strideOf extracts the constant step from incr = phi + c, c + phi or phi - c.
func strideOf(g *ir.Graph, phi ir.ID, incr ir.ID) (int64, bool) {
    p := g.Node(incr)
    switch {
        case p.Op == ir.OpAdd && p.In[0] == phi : return constOf(g, p.In[1])
        case p.Op == ir.OpAdd && p.In[1] == phi : return constOf(g, p.In[0])
        case p.Op == ir.OpSub && p.In[0] == phi : if v, ok := constOf(g, p.In[1]); ok && v != math.MinInt64 { return -v, true }
    }
    return 0, false
}

func constOf(g *ir.Graph, id ir.ID) (int64, bool) {
    if p := g.Node(id); p.Op == ir.OpConstI || p.Op == ir.OpConstL {
        return p.Aux, true
    } else {
        return 0, false
    }
}

// BasicIVs returns the head phis of a loop stepped by a constant on every
// iteration.
func BasicIVs(g *ir.Graph, head ir.ID) []ir.ID {
    var ret []ir.ID
    for _, p := range g.Phis(head) {
        if q := g.Node(p); len(q.In) == 3 {
            if _, ok := strideOf(g, p, q.In[2]); ok {
                ret = append(ret, p)
            }
        }
    }
    return ret
}

// base strips the casts and conversions canonicalization wraps bounds in.
func base(g *ir.Graph, id ir.ID) ir.ID {
    p := g.Node(id)
    switch p.Op {
        case ir.OpConvI2L: {
            return p.In[0]
        }
        case ir.OpCastII: {
            if q := g.Node(p.In[1]); q.Op == ir.OpConvL2I {
                return q.In[0]
            } else {
                return q.Id
            }
        }
        default: {
            return id
        }
    }
}

// guarded looks for a dominating test proving that the first iteration of a
// for loop is taken, i.e. `init cc limit` on the path to the loop entry.
func guarded(g *ir.Graph, d *Descriptor) bool {
    dt := g.Dominators()
    init, lim := base(g, d.Init), base(g, d.Limit)

    /* walk up the dominator tree from the entry */
    for c := g.Node(d.Head).In[0]; c != 0; c = dt.Idom(c) {
        p := g.Node(c)
        if !p.Op.IsProj() || g.Op(p.In[0]) != ir.OpIf {
            continue
        }

        /* the branch must test a compare */
        q := g.Node(g.Node(p.In[0]).In[1])
        if q.Op != ir.OpCmp {
            continue
        }

        /* the condition that holds on this side */
        cc := q.Cond()
        if p.Op == ir.OpIfFalse {
            cc = cc.Negate()
        }

        /* either operand order */
        a, b := base(g, q.In[0]), base(g, q.In[1])
        if (cc == d.Cond && a == init && b == lim) || (cc.Commute() == d.Cond && b == init && a == lim) {
            return true
        }
    }
    return false
}

// checks derives the ranges the limit and the init must lie in so that the
// IV arithmetic never overflows, and keeps the ones the types cannot prove.
func (self *Descriptor) checks(g *ir.Graph) {
    s := self.Stride
    lo, hi := self.Kind.Min(), self.Kind.Max()

    /* the limit must leave room for one more step */
    switch self.Cond {
        case ir.CondLT  : self.require(g, self.Limit, lo, hi - s + 1, "limit")
        case ir.CondLE  : self.require(g, self.Limit, lo, hi - s, "limit")
        case ir.CondGT  : self.require(g, self.Limit, lo - s - 1, hi, "limit")
        case ir.CondGE  : self.require(g, self.Limit, lo - s, hi, "limit")
        case ir.CondULT : self.require(g, self.Limit, 0, hi - s + 1, "limit")
        case ir.CondULE : self.require(g, self.Limit, 0, hi - s, "limit")
    }

    /* unsigned loops are only counted on the non-negative range */
    if self.Unsigned {
        self.require(g, self.Init, 0, hi - s, "init")
        return
    }

    /* the first step of a do-while loop must not overflow either */
    if !self.Guarded {
        if s > 0 {
            self.require(g, self.Init, lo, hi - s, "init")
        } else {
            self.require(g, self.Init, lo - s, hi, "init")
        }
    }
}

func (self *Descriptor) require(g *ir.Graph, v ir.ID, lo int64, hi int64, what string) {
    if t := g.Node(v).Type; !t.Kind.HasRange() || t.IsEmpty() || t.Lo < lo || t.Hi > hi {
        self.Checks = append(self.Checks, Check { Value: v, Lo: lo, Hi: hi, What: what })
    }
}
