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

// ComputeTypes re-derives the value range of every data node from scratch.
// Ranges copied along with cloned nodes are never trusted.
func ComputeTypes(g *Graph) {
    done := make(map[ID]bool, g.Cap())
    for _, id := range g.Live() {
        g.typeOf(id, done)
    }
}

func (self *Graph) typeOf(id ID, done map[ID]bool) Type {
    p := self.nodes[id]
    if done[id] {
        return p.Type
    }

    /* mark before descending, only phis may close a cycle and phis do
     * not look at their inputs' types */
    done[id] = true
    kind := p.Type.Kind

    /* control nodes carry no range */
    if p.Op.IsControl() && !p.Op.IsEffect() {
        return p.Type
    }

    /* input type helper */
    in := func(i int) Type {
        return self.typeOf(p.In[i], done)
    }

    /* compute by op */
    var t Type
    switch p.Op {
        case OpConstI, OpConstL : t = ConstOf(kind, p.Aux)
        case OpConstD           : t = TypeDouble
        case OpParam            : t = self.declared(p)
        case OpPhi              : t = self.phiType(p)
        case OpLoad             : t = self.declared(p)
        case OpDivI, OpModI     : t = TypeOf(kind)
        case OpStore            : t = p.Type
        case OpArrayLen         : t = RangeOf(KindInt, 0, KindInt.Max())
        case OpOpaqueInit       : t = TypeOf(kind)
        case OpCastII           : t = in(1).Meet(self.declared(p))
        case OpConvI2L          : t = RangeOf(KindLong, in(0).Lo, in(0).Hi)
        case OpConvL2I          : t = convL2I(in(0))
        case OpCmp              : t = cmpRange(p.Cond(), in(0), in(1))
        case OpNeg              : t = negRange(kind, in(0))
        default                 : t = arithRange(p.Op, kind, in)
    }

    /* update the node type */
    p.Type = t
    return t
}

func (self *Graph) declared(p *Node) Type {
    if p.Bound.Kind == p.Type.Kind && p.Bound.Kind.HasRange() {
        return p.Bound
    } else {
        return TypeOf(p.Type.Kind)
    }
}

func (self *Graph) phiType(p *Node) Type {
    if !p.Type.Kind.HasRange() || len(p.In) < 2 {
        return TypeOf(p.Type.Kind)
    }

    /* a phi of identical constants is that constant */
    for _, v := range p.In[1:] {
        if q := self.nodes[v]; !q.Op.IsConst() || q.Aux != self.nodes[p.In[1]].Aux {
            return TypeOf(p.Type.Kind)
        }
    }

    /* all inputs are the same constant */
    return ConstOf(p.Type.Kind, self.nodes[p.In[1]].Aux)
}

func convL2I(t Type) Type {
    if t.IsEmpty() || t.Lo < KindInt.Min() || t.Hi > KindInt.Max() {
        return TypeInt
    } else {
        return RangeOf(KindInt, t.Lo, t.Hi)
    }
}

func negRange(kind Kind, t Type) Type {
    if !kind.HasRange() || t.IsEmpty() {
        return TypeOf(kind)
    } else {
        return subRange(kind, ConstOf(kind, 0), t)
    }
}

func arithRange(op Op, kind Kind, in func(int) Type) Type {
    if !kind.HasRange() {
        return TypeOf(kind)
    }

    /* empty inputs produce empty outputs */
    a, b := in(0), in(1)
    if a.IsEmpty() || b.IsEmpty() {
        return RangeOf(kind, 1, 0)
    }

    /* constant operands fold exactly */
    if x, ok := a.Const(); ok {
        if y, ok := b.Const(); ok {
            return ConstOf(kind, EvalBinary(op, kind, x, y))
        }
    }

    /* range arithmetic */
    switch op {
        case OpAdd          : return addRange(kind, a, b)
        case OpSub          : return subRange(kind, a, b)
        case OpMul          : return mulRange(kind, a, b)
        case OpMin          : return RangeOf(kind, minI64(a.Lo, b.Lo), minI64(a.Hi, b.Hi))
        case OpMax          : return RangeOf(kind, maxI64(a.Lo, b.Lo), maxI64(a.Hi, b.Hi))
        case OpAnd, OpOr    : return bitsRange(kind, op, a, b)
        case OpXor          : return bitsRange(kind, op, a, b)
        default             : return TypeOf(kind)
    }
}
