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
    `github.com/cloudwego/loopopt/internal/looptree`
    `github.com/cloudwego/loopopt/ir`
)

type _Reassoc struct {
    g    *ir.Graph
    l    *looptree.Loop
    ivs  []ir.ID
    memo map[ir.ID]bool
}

// ReassociateInvariants rewrites `inv1 op (x op inv2)` and its add/sub
// variants into `(inv1 op inv2) op x`, where x is linear in the basic IVs of
// the loop, so that the invariant part can be computed before the loop.
// Additions are processed before subtractions, which are processed before
// the other commutative ops (mul, and, or, xor). Returns the number of
// rewritten nodes.
func ReassociateInvariants(g *ir.Graph, l *looptree.Loop) int {
    n := 0
    rs := &_Reassoc {
        g    : g,
        l    : l,
        ivs  : BasicIVs(g, l.Head),
        memo : make(map[ir.ID]bool),
    }

    /* adds first, then subs, then the rest */
    for _, op := range [...]ir.Op { ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor } {
        for _, id := range g.Live() {
            if p := g.Node(id); p != nil && p.Op == op && g.NumUses(id) != 0 {
                if r := rs.rewriteOp(p); r != 0 {
                    g.ReplaceAllUses(id, r)
                    n++
                }
            }
        }
    }
    return n
}

func (self *_Reassoc) rewriteOp(p *ir.Node) ir.ID {
    switch p.Op {
        case ir.OpAdd, ir.OpSub : return self.rewrite(p)
        default                 : return self.rewriteComm(p)
    }
}

// rewriteComm handles the commutative ops other than add.
func (self *_Reassoc) rewriteComm(p *ir.Node) ir.ID {
    g := self.g
    kind := p.Type.Kind

    /* integer arithmetic in the loop only */
    if (kind != ir.KindInt && kind != ir.KindLong) || self.l.IsInvariant(g, p.Id) {
        return 0
    }

    /* inv1 op m, with m = x op inv2 used only here */
    for k := 0; k < 2; k++ {
        i1, m := p.In[k], g.Node(p.In[1 - k])
        if !self.l.IsInvariant(g, i1) || m.Op != p.Op || m.Type.Kind != kind {
            continue
        }

        /* the inner node must be used only here */
        if g.NumUses(m.Id) != 1 || self.l.IsInvariant(g, m.Id) {
            continue
        }

        /* the invariant operand of m */
        for j := 0; j < 2; j++ {
            if i2, x := m.In[j], m.In[1 - j]; self.l.IsInvariant(g, i2) && self.linear(x) {
                typ := ir.TypeOf(kind)
                return g.AddNode(p.Op, typ, g.AddNode(p.Op, typ, i1, i2), x)
            }
        }
    }
    return 0
}

// linear reports whether a value is an affine function of the basic IVs
// with loop-invariant coefficients.
func (self *_Reassoc) linear(id ir.ID) bool {
    if v, ok := self.memo[id]; ok {
        return v
    }

    /* guard against cycles through phis */
    self.memo[id] = false
    ret := self.isLinear(id)
    self.memo[id] = ret
    return ret
}

func (self *_Reassoc) isLinear(id ir.ID) bool {
    if self.l.IsInvariant(self.g, id) {
        return true
    }

    /* the basic IVs themselves */
    for _, v := range self.ivs {
        if v == id {
            return true
        }
    }

    /* affine combinations */
    p := self.g.Node(id)
    switch p.Op {
        case ir.OpAdd, ir.OpSub : return self.linear(p.In[0]) && self.linear(p.In[1])
        case ir.OpNeg           : return self.linear(p.In[0])
        case ir.OpMul           : return self.linear(p.In[0]) && self.l.IsInvariant(self.g, p.In[1]) || self.linear(p.In[1]) && self.l.IsInvariant(self.g, p.In[0])
        default                 : return false
    }
}

func (self *_Reassoc) rewrite(p *ir.Node) ir.ID {
    g := self.g
    kind := p.Type.Kind

    /* integer arithmetic in the loop only */
    if (kind != ir.KindInt && kind != ir.KindLong) || self.l.IsInvariant(g, p.Id) {
        return 0
    }

    /* find the invariant operand and the add/sub operand */
    for k := 0; k < 2; k++ {
        i1, m := p.In[k], g.Node(p.In[1 - k])
        if !self.l.IsInvariant(g, i1) || (m.Op != ir.OpAdd && m.Op != ir.OpSub) {
            continue
        }

        /* the inner node must be used only here */
        if m.Type.Kind != kind || g.NumUses(m.Id) != 1 || self.l.IsInvariant(g, m.Id) {
            continue
        }

        /* signs of both operands of p */
        s1 := k == 0 || p.Op == ir.OpAdd
        sm := k == 1 || p.Op == ir.OpAdd

        /* the invariant operand of m */
        for j := 0; j < 2; j++ {
            i2, x := m.In[j], m.In[1 - j]
            if !self.l.IsInvariant(g, i2) || !self.linear(x) {
                continue
            }

            /* signs of the operands of m */
            s2 := sm == (j == 0 || m.Op == ir.OpAdd)
            sx := sm == (j == 1 || m.Op == ir.OpAdd)
            return self.build(kind, i1, s1, i2, s2, x, sx)
        }
    }
    return 0
}

// build emits s1*i1 + s2*i2 + sx*x with the invariant part computed first.
func (self *_Reassoc) build(kind ir.Kind, i1 ir.ID, s1 bool, i2 ir.ID, s2 bool, x ir.ID, sx bool) ir.ID {
    g := self.g
    typ := ir.TypeOf(kind)

    /* the invariant part */
    var inv ir.ID
    neg := false
    switch {
        case s1 && s2  : inv = g.AddNode(ir.OpAdd, typ, i1, i2)
        case s1        : inv = g.AddNode(ir.OpSub, typ, i1, i2)
        case s2        : inv = g.AddNode(ir.OpSub, typ, i2, i1)
        default        : inv, neg = g.AddNode(ir.OpAdd, typ, i1, i2), true
    }

    /* combine with the variant part */
    switch {
        case sx && !neg  : return g.AddNode(ir.OpAdd, typ, inv, x)
        case sx          : return g.AddNode(ir.OpSub, typ, x, inv)
        case !neg        : return g.AddNode(ir.OpSub, typ, inv, x)
        default          : return g.AddNode(ir.OpNeg, typ, g.AddNode(ir.OpAdd, typ, x, inv))
    }
}

// reducible reports whether op is associative and commutative on kind.
// Floating point ops only qualify when reassociation is allowed to change
// the rounding.
func reducible(op ir.Op, kind ir.Kind, float bool) bool {
    switch kind {
        case ir.KindInt, ir.KindLong: {
            switch op {
                case ir.OpAdd, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpMin, ir.OpMax: return true
            }
        }
        case ir.KindDouble: {
            switch op {
                case ir.OpAdd, ir.OpMin, ir.OpMax: return float
            }
        }
    }
    return false
}

// ReassociateReductions rewrites reduction chains like ((s + a) + b) + c,
// where s is a loop-carried phi, into s + (a + (b + c)), which shortens the
// loop-carried dependency to a single op. Returns the number of rewritten
// chains.
func ReassociateReductions(g *ir.Graph, l *looptree.Loop, float bool) int {
    n := 0
    for _, p := range g.Phis(l.Head) {
        q := g.Node(p)
        if len(q.In) != 3 {
            continue
        }

        /* the chain ends in the backedge value */
        v := g.Node(q.In[2])
        if !reducible(v.Op, q.Type.Kind, float) || v.Type.Kind != q.Type.Kind {
            continue
        }

        /* already shortened */
        if v.In[0] == p || v.In[1] == p {
            continue
        }

        /* the phi must occur exactly once in the chain */
        var leaves []ir.ID
        if flatten(g, v, v.Op, p, &leaves) != 1 || len(leaves) < 2 {
            continue
        }

        /* rebuild as phi op balanced(leaves) */
        typ := ir.TypeOf(q.Type.Kind)
        r := g.AddNode(v.Op, typ, p, balance(g, v.Op, typ, leaves))
        g.ReplaceAllUses(v.Id, r)
        n++
    }
    return n
}

// flatten collects the operands of a tree of op nodes rooted at v, descending
// only into single-use nodes, and returns the number of times phi occurs.
func flatten(g *ir.Graph, v *ir.Node, op ir.Op, phi ir.ID, leaves *[]ir.ID) int {
    seen := 0
    for _, u := range v.In {
        q := g.Node(u)
        switch {
            case u == phi                                                      : seen++
            case q.Op == op && q.Type.Kind == v.Type.Kind && g.NumUses(u) == 1 : seen += flatten(g, q, op, phi, leaves)
            default                                                            : *leaves = append(*leaves, u)
        }
    }
    return seen
}

func balance(g *ir.Graph, op ir.Op, typ ir.Type, leaves []ir.ID) ir.ID {
    if len(leaves) == 1 {
        return leaves[0]
    } else {
        mid := len(leaves) / 2
        return g.AddNode(op, typ, balance(g, op, typ, leaves[:mid]), balance(g, op, typ, leaves[mid:]))
    }
}
