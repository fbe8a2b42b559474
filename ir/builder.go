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
    `math`
)

// Builder constructs graphs in program order. It tracks the current control
// node, which every effect and branch is attached to.
type Builder struct {
    G    *Graph
    ctrl ID
}

func NewBuilder(name string) *Builder {
    g := NewGraph(name)
    return &Builder { G: g, ctrl: g.Start() }
}

func (self *Builder) Ctrl() ID {
    return self.ctrl
}

func (self *Builder) SetCtrl(id ID) {
    self.ctrl = id
}

// Finish computes the types of the graph and returns it.
func (self *Builder) Finish() *Graph {
    ComputeTypes(self.G)
    return self.G
}

/** Values **/

func (self *Builder) Param(kind Kind, idx int) ID {
    return self.G.AddAux(OpParam, TypeOf(kind), int64(idx))
}

// ParamRange creates a parameter whose values are known to lie in [lo, hi].
func (self *Builder) ParamRange(kind Kind, idx int, lo int64, hi int64) ID {
    id := self.Param(kind, idx)
    self.G.SetBound(id, RangeOf(kind, lo, hi))
    return id
}

func (self *Builder) ConstI(v int32) ID   { return self.G.Const(KindInt, int64(v)) }
func (self *Builder) ConstL(v int64) ID   { return self.G.Const(KindLong, v) }
func (self *Builder) ConstD(v float64) ID { return self.G.Const(KindDouble, i64f(v)) }
func (self *Builder) Bool(v bool) ID      { if v { return self.G.Const(KindBool, 1) } else { return self.G.Const(KindBool, 0) } }

func (self *Builder) binary(op Op, x ID, y ID) ID {
    return self.G.AddNode(op, TypeOf(self.G.must(x).Type.Kind), x, y)
}

func (self *Builder) Add(x ID, y ID) ID { return self.binary(OpAdd, x, y) }
func (self *Builder) Sub(x ID, y ID) ID { return self.binary(OpSub, x, y) }
func (self *Builder) Mul(x ID, y ID) ID { return self.binary(OpMul, x, y) }
func (self *Builder) And(x ID, y ID) ID { return self.binary(OpAnd, x, y) }
func (self *Builder) Or(x ID, y ID) ID  { return self.binary(OpOr, x, y) }
func (self *Builder) Xor(x ID, y ID) ID { return self.binary(OpXor, x, y) }
func (self *Builder) Min(x ID, y ID) ID { return self.binary(OpMin, x, y) }
func (self *Builder) Max(x ID, y ID) ID { return self.binary(OpMax, x, y) }

func (self *Builder) Neg(x ID) ID {
    return self.G.AddNode(OpNeg, TypeOf(self.G.must(x).Type.Kind), x)
}

func (self *Builder) Cmp(cc Cond, x ID, y ID) ID {
    return self.G.AddAux(OpCmp, TypeBool, int64(cc), x, y)
}

func (self *Builder) ConvI2L(x ID) ID {
    return self.G.AddNode(OpConvI2L, TypeLong, x)
}

func (self *Builder) ConvL2I(x ID) ID {
    return self.G.AddNode(OpConvL2I, TypeInt, x)
}

/** Control Flow **/

// Branch creates a branch of the given op at the current control and returns
// its projections. The current control is left unchanged.
func (self *Builder) Branch(op Op, cond ID) (ID, ID) {
    br := self.G.AddNode(op, TypeControl, self.ctrl, cond)
    return self.G.AddNode(OpIfTrue, TypeControl, br), self.G.AddNode(OpIfFalse, TypeControl, br)
}

func (self *Builder) If(cond ID) (ID, ID) {
    return self.Branch(OpIf, cond)
}

// Region merges the given control nodes and continues from the merge.
func (self *Builder) Region(preds ...ID) ID {
    self.ctrl = self.G.AddNode(OpRegion, TypeControl, preds...)
    return self.ctrl
}

func (self *Builder) Phi(region ID, kind Kind, vals ...ID) ID {
    return self.G.AddNode(OpPhi, TypeOf(kind), append([]ID { region }, vals...)...)
}

// TrapAt terminates the control path at ctrl.
func (self *Builder) TrapAt(ctrl ID, reason TrapReason) ID {
    return self.G.AddAux(OpTrap, TypeControl, int64(reason), ctrl)
}

// Return terminates the current control path, v may be 0.
func (self *Builder) Return(v ID) ID {
    if v == 0 {
        return self.G.AddNode(OpReturn, TypeControl, self.ctrl)
    } else {
        return self.G.AddNode(OpReturn, TypeControl, self.ctrl, v)
    }
}

// Guard continues on the true side of cond and traps on the false side.
func (self *Builder) Guard(op Op, cond ID, reason TrapReason) ID {
    t, f := self.Branch(op, cond)
    self.TrapAt(f, reason)
    self.ctrl = t
    return t
}

// NullCheck guards a non-null array handle.
func (self *Builder) NullCheck(ref ID) ID {
    return self.Guard(OpIf, self.Cmp(CondNE, ref, self.ConstL(0)), TrapNullCheck)
}

// RangeCheck guards 0 <= idx < n with a single unsigned compare.
func (self *Builder) RangeCheck(idx ID, n ID) ID {
    return self.Guard(OpRangeCheck, self.Cmp(CondULT, idx, n), TrapRangeCheck)
}

func (self *Builder) Safepoint() ID {
    self.ctrl = self.G.AddNode(OpSafepoint, TypeControl, self.ctrl)
    return self.ctrl
}

/** Memory and Effects **/

func (self *Builder) ArrayLen(ref ID) ID {
    return self.G.AddNode(OpArrayLen, TypeInt, self.ctrl, ref)
}

func (self *Builder) Load(kind Kind, ref ID, idx ID) ID {
    self.ctrl = self.G.AddNode(OpLoad, TypeOf(kind), self.ctrl, ref, idx)
    return self.ctrl
}

func (self *Builder) Store(ref ID, idx ID, v ID) ID {
    self.ctrl = self.G.AddNode(OpStore, TypeControl, self.ctrl, ref, idx, v)
    return self.ctrl
}

func (self *Builder) Div(x ID, y ID) ID {
    self.ctrl = self.G.AddNode(OpDivI, TypeOf(self.G.must(x).Type.Kind), self.ctrl, x, y)
    return self.ctrl
}

func (self *Builder) Mod(x ID, y ID) ID {
    self.ctrl = self.G.AddNode(OpModI, TypeOf(self.G.must(x).Type.Kind), self.ctrl, x, y)
    return self.ctrl
}

/** Loops **/

// LoopScope builds a loop whose backedge is added when the loop is closed.
type LoopScope struct {
    b    *Builder
    Head ID
    phis []ID
    next map[ID]ID
}

// Loop opens a loop at the current control.
func (self *Builder) Loop() *LoopScope {
    self.ctrl = self.G.AddNode(OpLoop, TypeControl, self.ctrl)
    return &LoopScope {
        b    : self,
        Head : self.ctrl,
        next : make(map[ID]ID),
    }
}

// Phi adds a loop-carried value with the given entry value.
func (self *LoopScope) Phi(kind Kind, init ID) ID {
    id := self.b.Phi(self.Head, kind, init)
    self.phis = append(self.phis, id)
    return id
}

// SetNext sets the value a loop-carried phi takes on the next iteration.
func (self *LoopScope) SetNext(phi ID, v ID) {
    self.next[phi] = v
}

func (self *LoopScope) backedge(ctrl ID) {
    self.b.G.AddInput(self.Head, ctrl)
    for _, v := range self.phis {
        if n, ok := self.next[v]; ok {
            self.b.G.AddInput(v, n)
        } else {
            self.b.G.AddInput(v, v)
        }
    }
}

// Close ends the body with a bottom test, looping while cond holds. The
// current control continues at the exit projection, which is returned.
func (self *LoopScope) Close(cond ID) ID {
    t, f := self.b.If(cond)
    self.backedge(t)
    self.b.ctrl = f
    return f
}

// Forever ends the body with an unconditional backedge.
func (self *LoopScope) Forever() {
    self.backedge(self.b.ctrl)
    self.b.ctrl = 0
}

// ForLoop is a counted loop in the canonical shape produced by front-ends:
// a zero-trip guard followed by a do-while loop testing the incremented IV.
type ForLoop struct {
    *LoopScope
    IV      ID
    Init    ID
    Limit   ID
    Stride  int64
    Cond    Cond
    TestPhi bool
    Incr    ID
    Exit    ID
    guard   ID
    exits   map[ID]ID
}

// For opens a counted loop `for (iv = init; iv cc limit; iv += stride)`
// behind a zero-trip guard.
func (self *Builder) For(init ID, limit ID, stride int64, cc Cond) *ForLoop {
    t, f := self.If(self.Cmp(cc, self.widen(init, limit), limit))
    self.ctrl = t
    ret := self.DoWhile(init, limit, stride, cc)
    ret.guard = f
    return ret
}

// DoWhile opens a counted loop without a zero-trip guard.
func (self *Builder) DoWhile(init ID, limit ID, stride int64, cc Cond) *ForLoop {
    ls := self.Loop()
    iv := ls.Phi(self.G.must(init).Type.Kind, init)

    /* create the loop */
    return &ForLoop {
        LoopScope : ls,
        IV        : iv,
        Init      : init,
        Limit     : limit,
        Stride    : stride,
        Cond      : cc,
        exits     : make(map[ID]ID),
    }
}

func (self *Builder) widen(v ID, limit ID) ID {
    if self.G.must(v).Type.Kind == KindInt && self.G.must(limit).Type.Kind == KindLong {
        return self.ConvI2L(v)
    } else {
        return v
    }
}

// Carry adds a loop-carried value.
func (self *ForLoop) Carry(init ID) ID {
    return self.Phi(self.b.G.must(init).Type.Kind, init)
}

// Next sets the next value of a carried phi.
func (self *ForLoop) Next(phi ID, v ID) {
    self.SetNext(phi, v)
}

// End emits the increment and the exit test, closes the loop and merges the
// exit with the zero-trip guard.
func (self *ForLoop) End() ID {
    b := self.b
    kind := b.G.must(self.IV).Type.Kind

    /* the increment */
    if self.Stride < math.MinInt32 || self.Stride > math.MaxInt32 {
        panic("ForLoop: stride out of range")
    } else {
        self.Incr = b.Add(self.IV, b.G.Const(kind, self.Stride))
        self.SetNext(self.IV, self.Incr)
    }

    /* the exit test */
    tv := self.Incr
    if self.TestPhi {
        tv = self.IV
    }

    /* close the loop */
    self.Exit = self.Close(b.Cmp(self.Cond, b.widen(tv, self.Limit), self.Limit))
    if self.guard == 0 {
        for _, v := range self.phis {
            self.exits[v] = self.next[v]
        }
        return self.Exit
    }

    /* merge with the zero-trip path */
    r := b.Region(self.guard, self.Exit)
    for _, v := range self.phis {
        self.exits[v] = b.Phi(r, b.G.must(v).Type.Kind, b.G.must(v).In[1], self.next[v])
    }
    return r
}

// ExitValue returns the value a carried phi holds after the loop.
func (self *ForLoop) ExitValue(phi ID) ID {
    return self.exits[phi]
}
