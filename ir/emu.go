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
    `fmt`
    `math`

    `github.com/pkg/errors`
)

const (
    _DefaultMaxSteps = 1 << 24
)

var (
    ErrStepLimit = errors.New("emulator: step limit exceeded")
)

// UnguardedAccessError is reported when the emulated graph dereferences a
// null handle or indexes out of bounds without a preceding check. A correct
// graph never does this, so it always signals a miscompilation.
type UnguardedAccessError struct {
    Node   ID
    Reason TrapReason
    Detail string
}

func (self *UnguardedAccessError) Error() string {
    return fmt.Sprintf("unguarded %s at %s: %s", self.Reason, self.Node, self.Detail)
}

// Heap holds the int arrays a graph may access. Handle 0 is the null handle.
type Heap struct {
    next   int64
    arrays map[int64][]int64
}

func NewHeap() *Heap {
    return &Heap {
        next   : 1,
        arrays : make(map[int64][]int64),
    }
}

func (self *Heap) Alloc(vals ...int64) int64 {
    id := self.next
    self.next++
    self.arrays[id] = append([]int64 {}, vals...)
    return id
}

func (self *Heap) Array(handle int64) []int64 {
    return self.arrays[handle]
}

func (self *Heap) Clone() *Heap {
    ret := &Heap {
        next   : self.next,
        arrays : make(map[int64][]int64, len(self.arrays)),
    }

    /* deep copy the arrays */
    for k, v := range self.arrays {
        ret.arrays[k] = append([]int64 {}, v...)
    }
    return ret
}

// Outcome is the observable result of running a graph.
type Outcome struct {
    Trapped bool
    Reason  TrapReason
    Value   int64
    Steps   int
}

func (self Outcome) String() string {
    if self.Trapped {
        return fmt.Sprintf("trapped(%s)", self.Reason)
    } else {
        return fmt.Sprintf("returned(%d)", self.Value)
    }
}

// Emulator interprets a graph. Values are kept as int64: ints are stored
// sign-extended and doubles as their IEEE-754 bits.
type Emulator struct {
    g        *Graph
    Heap     *Heap
    Params   []int64
    MaxSteps int
    Visits   map[ID]int
    env      map[ID]int64
    memo     map[ID]int64
    prev     ID
}

func NewEmulator(g *Graph, heap *Heap, params ...int64) *Emulator {
    if heap == nil {
        heap = NewHeap()
    }

    /* create the emulator */
    return &Emulator {
        g        : g,
        Heap     : heap,
        Params   : params,
        MaxSteps : _DefaultMaxSteps,
        Visits   : make(map[ID]int),
        env      : make(map[ID]int64),
        memo     : make(map[ID]int64),
    }
}

type _StepFn func(e *Emulator, p *Node) (ID, *Outcome, error)

var _StepTab [_OpCount]_StepFn

func init() {
    _StepTab = [_OpCount]_StepFn {
        OpStart       : (*Emulator).stepNext,
        OpRegion      : (*Emulator).stepRegion,
        OpLoop        : (*Emulator).stepRegion,
        OpCountedLoop : (*Emulator).stepRegion,
        OpIf          : (*Emulator).stepBranch,
        OpRangeCheck  : (*Emulator).stepBranch,
        OpPredicate   : (*Emulator).stepBranch,
        OpIfTrue      : (*Emulator).stepNext,
        OpIfFalse     : (*Emulator).stepNext,
        OpSafepoint   : (*Emulator).stepNext,
        OpReturn      : (*Emulator).stepReturn,
        OpTrap        : (*Emulator).stepTrap,
        OpLoad        : (*Emulator).stepLoad,
        OpStore       : (*Emulator).stepStore,
        OpDivI        : (*Emulator).stepDiv,
        OpModI        : (*Emulator).stepDiv,
    }
}

// Run executes the graph from Start until it returns or traps.
func (self *Emulator) Run() (Outcome, error) {
    pc := self.g.Start()
    self.prev = 0

    /* execute control nodes one at a time */
    for steps := 1; ; steps++ {
        if steps > self.MaxSteps {
            return Outcome{}, ErrStepLimit
        }

        /* find the step function */
        p := self.g.Node(pc)
        if p == nil || _StepTab[p.Op] == nil {
            return Outcome{}, errors.Errorf("emulator: cannot execute %s", pc)
        }

        /* execute the node */
        self.Visits[pc]++
        next, out, err := _StepTab[p.Op](self, p)

        /* check for errors and termination */
        if err != nil {
            return Outcome{}, err
        } else if out != nil {
            out.Steps = steps
            return *out, nil
        } else if next == 0 {
            return Outcome{}, errors.Errorf("emulator: %s has no successor", pc)
        }

        /* move to the next node */
        self.prev = pc
        pc = next
    }
}

func (self *Emulator) invalidate() {
    if len(self.memo) != 0 {
        self.memo = make(map[ID]int64)
    }
}

func (self *Emulator) stepNext(p *Node) (ID, *Outcome, error) {
    return self.g.Succ(p.Id), nil, nil
}

func (self *Emulator) stepRegion(p *Node) (ID, *Outcome, error) {
    idx := self.g.IndexOf(p.Id, self.prev)
    phi := self.g.Phis(p.Id)
    val := make([]int64, len(phi))

    /* the entry edge must be known */
    if idx < 0 {
        return 0, nil, errors.Errorf("emulator: entered %s from unknown edge %s", p.Id, self.prev)
    }

    /* evaluate all phis before assigning any */
    for i, v := range phi {
        var err error
        if val[i], err = self.eval(self.g.nodes[v].In[idx + 1]); err != nil {
            return 0, nil, err
        }
    }

    /* assign them simultaneously */
    for i, v := range phi {
        self.env[v] = val[i]
    }

    /* phi values changed */
    self.invalidate()
    return self.g.Succ(p.Id), nil, nil
}

func (self *Emulator) stepBranch(p *Node) (ID, *Outcome, error) {
    if c, err := self.eval(p.In[1]); err != nil {
        return 0, nil, err
    } else if c != 0 {
        return self.g.Proj(p.Id, OpIfTrue), nil, nil
    } else {
        return self.g.Proj(p.Id, OpIfFalse), nil, nil
    }
}

func (self *Emulator) stepReturn(p *Node) (ID, *Outcome, error) {
    if len(p.In) < 2 {
        return 0, &Outcome{}, nil
    } else if v, err := self.eval(p.In[1]); err != nil {
        return 0, nil, err
    } else {
        return 0, &Outcome { Value: v }, nil
    }
}

func (self *Emulator) stepTrap(p *Node) (ID, *Outcome, error) {
    return 0, &Outcome { Trapped: true, Reason: TrapReason(p.Aux) }, nil
}

func (self *Emulator) element(p *Node) ([]int64, int64, error) {
    ref, err := self.eval(p.In[1])
    if err != nil {
        return nil, 0, err
    }

    /* evaluate the index */
    idx, err := self.eval(p.In[2])
    if err != nil {
        return nil, 0, err
    }

    /* null check */
    arr, ok := self.Heap.arrays[ref]
    if !ok {
        return nil, 0, &UnguardedAccessError { p.Id, TrapNullCheck, fmt.Sprintf("handle %d", ref) }
    }

    /* range check */
    if idx < 0 || idx >= int64(len(arr)) {
        return nil, 0, &UnguardedAccessError { p.Id, TrapRangeCheck, fmt.Sprintf("index %d, length %d", idx, len(arr)) }
    } else {
        return arr, idx, nil
    }
}

func (self *Emulator) stepLoad(p *Node) (ID, *Outcome, error) {
    arr, idx, err := self.element(p)
    if err != nil {
        return 0, nil, err
    }

    /* update the environment */
    self.env[p.Id] = p.Type.Kind.Wrap(arr[idx])
    self.invalidate()
    return self.g.Succ(p.Id), nil, nil
}

func (self *Emulator) stepStore(p *Node) (ID, *Outcome, error) {
    arr, idx, err := self.element(p)
    if err != nil {
        return 0, nil, err
    }

    /* evaluate the value */
    val, err := self.eval(p.In[3])
    if err != nil {
        return 0, nil, err
    }

    /* write to the heap */
    arr[idx] = val
    return self.g.Succ(p.Id), nil, nil
}

func (self *Emulator) stepDiv(p *Node) (ID, *Outcome, error) {
    x, err := self.eval(p.In[1])
    if err != nil {
        return 0, nil, err
    }

    /* evaluate the divisor */
    y, err := self.eval(p.In[2])
    if err != nil {
        return 0, nil, err
    }

    /* division by zero traps */
    if y == 0 {
        return 0, &Outcome { Trapped: true, Reason: TrapDivByZero }, nil
    }

    /* Go truncates like the target semantics, and MinInt / -1 wraps */
    if p.Op == OpDivI {
        self.env[p.Id] = p.Type.Kind.Wrap(x / y)
    } else {
        self.env[p.Id] = p.Type.Kind.Wrap(x % y)
    }

    /* environment changed */
    self.invalidate()
    return self.g.Succ(p.Id), nil, nil
}

func (self *Emulator) eval(id ID) (int64, error) {
    if v, ok := self.memo[id]; ok {
        return v, nil
    }

    /* evaluate the node */
    p := self.g.Node(id)
    v, err := self.evalNode(p)

    /* memorize the result */
    if err == nil {
        self.memo[id] = v
    }
    return v, err
}

func (self *Emulator) evalNode(p *Node) (int64, error) {
    kind := p.Type.Kind
    switch p.Op {
        case OpConstI, OpConstL, OpConstD: {
            return p.Aux, nil
        }

        /* parameters */
        case OpParam: {
            if p.Aux < 0 || int(p.Aux) >= len(self.Params) {
                return 0, errors.Errorf("emulator: missing parameter #%d", p.Aux)
            } else {
                return kind.Wrap(self.Params[p.Aux]), nil
            }
        }

        /* values defined on the control path */
        case OpPhi, OpLoad, OpDivI, OpModI: {
            if v, ok := self.env[p.Id]; ok {
                return v, nil
            } else {
                return 0, errors.Errorf("emulator: %s used before definition", p.Id)
            }
        }

        /* identities */
        case OpOpaqueInit, OpConvI2L: {
            return self.eval(p.In[len(p.In) - 1])
        }

        /* narrowing */
        case OpConvL2I: {
            v, err := self.eval(p.In[0])
            return int64(int32(v)), err
        }

        /* casts are checked against the range they claim */
        case OpCastII: {
            v, err := self.eval(p.In[1])
            if err == nil && p.Bound.Kind.HasRange() && !p.Bound.Contains(v) {
                err = errors.Errorf("emulator: %s casts %d outside of %s", p.Id, v, p.Bound)
            }
            return v, err
        }

        /* array length */
        case OpArrayLen: {
            ref, err := self.eval(p.In[1])
            if err != nil {
                return 0, err
            } else if arr, ok := self.Heap.arrays[ref]; !ok {
                return 0, &UnguardedAccessError { p.Id, TrapNullCheck, fmt.Sprintf("length of handle %d", ref) }
            } else {
                return int64(len(arr)), nil
            }
        }

        /* negation */
        case OpNeg: {
            v, err := self.eval(p.In[0])
            if kind == KindDouble {
                return i64f(-f64(v)), err
            } else {
                return kind.Wrap(-v), err
            }
        }

        /* compare */
        case OpCmp: {
            a, err := self.eval(p.In[0])
            if err != nil {
                return 0, err
            }
            b, err := self.eval(p.In[1])
            if err != nil {
                return 0, err
            }
            if p.Cond().Eval(self.g.nodes[p.In[0]].Type.Kind, a, b) {
                return 1, nil
            } else {
                return 0, nil
            }
        }

        /* binary ops */
        default: {
            if !p.Op.IsArith() {
                return 0, errors.Errorf("emulator: cannot evaluate %s", p)
            }
            a, err := self.eval(p.In[0])
            if err != nil {
                return 0, err
            }
            b, err := self.eval(p.In[1])
            if err != nil {
                return 0, err
            }
            return EvalBinary(p.Op, kind, a, b), nil
        }
    }
}

// EvalBinary evaluates an arithmetic op with the wrapping semantics of kind.
func EvalBinary(op Op, kind Kind, a int64, b int64) int64 {
    if kind == KindDouble {
        return i64f(evalf(op, f64(a), f64(b)))
    }

    /* integer ops */
    var r int64
    switch op {
        case OpAdd : r = a + b
        case OpSub : r = a - b
        case OpMul : r = a * b
        case OpAnd : r = a & b
        case OpOr  : r = a | b
        case OpXor : r = a ^ b
        case OpMin : r = minI64(a, b)
        case OpMax : r = maxI64(a, b)
        default    : panic("EvalBinary: invalid op " + op.String())
    }

    /* wrap to the value width */
    return kind.Wrap(r)
}

func evalf(op Op, a float64, b float64) float64 {
    switch op {
        case OpAdd : return a + b
        case OpSub : return a - b
        case OpMul : return a * b
        case OpMin : return fminmax(a, b, true)
        case OpMax : return fminmax(a, b, false)
        default    : panic("EvalBinary: invalid double op " + op.String())
    }
}

func fminmax(a float64, b float64, min bool) float64 {
    switch {
        case math.IsNaN(a)       : return a
        case math.IsNaN(b)       : return b
        case a == 0 && b == 0    : if math.Signbit(a) == min { return a } else { return b }
        case (a < b) == min      : return a
        default                  : return b
    }
}
