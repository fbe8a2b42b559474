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
)

type Op uint8

const (
    OpInvalid Op = iota
    OpStart
    OpRegion
    OpLoop
    OpCountedLoop
    OpIf
    OpRangeCheck
    OpPredicate
    OpIfTrue
    OpIfFalse
    OpReturn
    OpTrap
    OpSafepoint
    OpLoad
    OpStore
    OpDivI
    OpModI
    OpParam
    OpConstI
    OpConstL
    OpConstD
    OpPhi
    OpAdd
    OpSub
    OpMul
    OpAnd
    OpOr
    OpXor
    OpMin
    OpMax
    OpNeg
    OpCmp
    OpConvI2L
    OpConvL2I
    OpCastII
    OpArrayLen
    OpOpaqueInit
    _OpCount
)

const (
    _F_control = 1 << iota
    _F_region
    _F_branch
    _F_proj
    _F_sink
    _F_effect
    _F_pinned
    _F_const
    _F_commutative
    _F_trap
)

var _OpInfo = [_OpCount]struct {
    name  string
    flags int
}{
    OpInvalid     : { "invalid"     , 0 },
    OpStart       : { "start"       , _F_control },
    OpRegion      : { "region"      , _F_control | _F_region },
    OpLoop        : { "loop"        , _F_control | _F_region },
    OpCountedLoop : { "countedloop" , _F_control | _F_region },
    OpIf          : { "if"          , _F_control | _F_branch },
    OpRangeCheck  : { "rangecheck"  , _F_control | _F_branch },
    OpPredicate   : { "predicate"   , _F_control | _F_branch },
    OpIfTrue      : { "iftrue"      , _F_control | _F_proj },
    OpIfFalse     : { "iffalse"     , _F_control | _F_proj },
    OpReturn      : { "return"      , _F_control | _F_sink },
    OpTrap        : { "trap"        , _F_control | _F_sink },
    OpSafepoint   : { "safepoint"   , _F_control },
    OpLoad        : { "load"        , _F_control | _F_effect | _F_trap },
    OpStore       : { "store"       , _F_control | _F_effect | _F_trap },
    OpDivI        : { "div"         , _F_control | _F_effect | _F_trap },
    OpModI        : { "mod"         , _F_control | _F_effect | _F_trap },
    OpParam       : { "param"       , 0 },
    OpConstI      : { "consti"      , _F_const },
    OpConstL      : { "constl"      , _F_const },
    OpConstD      : { "constd"      , _F_const },
    OpPhi         : { "phi"         , 0 },
    OpAdd         : { "add"         , _F_commutative },
    OpSub         : { "sub"         , 0 },
    OpMul         : { "mul"         , _F_commutative },
    OpAnd         : { "and"         , _F_commutative },
    OpOr          : { "or"          , _F_commutative },
    OpXor         : { "xor"         , _F_commutative },
    OpMin         : { "min"         , _F_commutative },
    OpMax         : { "max"         , _F_commutative },
    OpNeg         : { "neg"         , 0 },
    OpCmp         : { "cmp"         , 0 },
    OpConvI2L     : { "convi2l"     , 0 },
    OpConvL2I     : { "convl2i"     , 0 },
    OpCastII      : { "castii"      , _F_pinned },
    OpArrayLen    : { "arraylen"    , _F_pinned },
    OpOpaqueInit  : { "opaqueinit"  , 0 },
}

func (self Op) has(f int) bool {
    return self < _OpCount && _OpInfo[self].flags & f != 0
}

// IsControl reports whether the node sits on the control chain. Effects are
// control nodes that also produce a value.
func (self Op) IsControl() bool     { return self.has(_F_control) }
func (self Op) IsRegion() bool      { return self.has(_F_region) }
func (self Op) IsLoop() bool        { return self == OpLoop || self == OpCountedLoop }
func (self Op) IsBranch() bool      { return self.has(_F_branch) }
func (self Op) IsProj() bool        { return self.has(_F_proj) }
func (self Op) IsSink() bool        { return self.has(_F_sink) }
func (self Op) IsEffect() bool      { return self.has(_F_effect) }
func (self Op) IsPinned() bool      { return self.has(_F_pinned) }
func (self Op) IsConst() bool       { return self.has(_F_const) }
func (self Op) IsCommutative() bool { return self.has(_F_commutative) }
func (self Op) MayTrap() bool       { return self.has(_F_trap) }

// IsFloating reports whether the node is a pure data node without a
// control input, which may be evaluated anywhere its inputs are available.
func (self Op) IsFloating() bool {
    switch {
        case self == OpPhi || self == OpParam : return false
        case self.IsConst()                   : return false
        default                               : return self > OpInvalid && self < _OpCount && !self.IsControl() && !self.IsPinned()
    }
}

// IsArith reports whether the op is a two-operand arithmetic or logical op.
func (self Op) IsArith() bool {
    switch self {
        case OpAdd, OpSub, OpMul, OpAnd, OpOr, OpXor, OpMin, OpMax : return true
        default                                                     : return false
    }
}

func (self Op) String() string {
    if self < _OpCount {
        return _OpInfo[self].name
    } else {
        return fmt.Sprintf("op(%d)", uint8(self))
    }
}

type Cond uint8

const (
    CondEQ Cond = iota
    CondNE
    CondLT
    CondLE
    CondGT
    CondGE
    CondULT
    CondULE
    CondUGT
    CondUGE
)

var _CondNames = [...]string {
    CondEQ  : "eq",
    CondNE  : "ne",
    CondLT  : "lt",
    CondLE  : "le",
    CondGT  : "gt",
    CondGE  : "ge",
    CondULT : "ult",
    CondULE : "ule",
    CondUGT : "ugt",
    CondUGE : "uge",
}

func (self Cond) String() string {
    if int(self) < len(_CondNames) {
        return _CondNames[self]
    } else {
        return fmt.Sprintf("cond(%d)", uint8(self))
    }
}

// Negate returns the condition that holds exactly when self does not.
func (self Cond) Negate() Cond {
    switch self {
        case CondEQ  : return CondNE
        case CondNE  : return CondEQ
        case CondLT  : return CondGE
        case CondLE  : return CondGT
        case CondGT  : return CondLE
        case CondGE  : return CondLT
        case CondULT : return CondUGE
        case CondULE : return CondUGT
        case CondUGT : return CondULE
        case CondUGE : return CondULT
        default      : panic("invalid condition code")
    }
}

// Commute returns the condition to use when the operands are swapped.
func (self Cond) Commute() Cond {
    switch self {
        case CondEQ, CondNE : return self
        case CondLT         : return CondGT
        case CondLE         : return CondGE
        case CondGT         : return CondLT
        case CondGE         : return CondLE
        case CondULT        : return CondUGT
        case CondULE        : return CondUGE
        case CondUGT        : return CondULT
        case CondUGE        : return CondULE
        default             : panic("invalid condition code")
    }
}

func (self Cond) IsUnsigned() bool {
    return self >= CondULT
}

// Signed maps an unsigned condition to its signed counterpart.
func (self Cond) Signed() Cond {
    switch self {
        case CondULT : return CondLT
        case CondULE : return CondLE
        case CondUGT : return CondGT
        case CondUGE : return CondGE
        default      : return self
    }
}

// Eval compares two values of the given kind. Int values are expected to be
// sign-extended, doubles are passed as their IEEE-754 bits.
func (self Cond) Eval(kind Kind, a int64, b int64) bool {
    if kind == KindDouble {
        return self.evalf(f64(a), f64(b))
    }

    /* unsigned compares operate on the value width */
    if self.IsUnsigned() {
        ua, ub := uint64(a), uint64(b)
        if kind != KindLong {
            ua, ub = uint64(uint32(a)), uint64(uint32(b))
        }
        switch self {
            case CondULT : return ua < ub
            case CondULE : return ua <= ub
            case CondUGT : return ua > ub
            default      : return ua >= ub
        }
    }

    /* signed compares */
    switch self {
        case CondEQ : return a == b
        case CondNE : return a != b
        case CondLT : return a < b
        case CondLE : return a <= b
        case CondGT : return a > b
        default     : return a >= b
    }
}

func (self Cond) evalf(a float64, b float64) bool {
    switch self {
        case CondEQ : return a == b
        case CondNE : return a != b
        case CondLT : return a < b
        case CondLE : return a <= b
        case CondGT : return a > b
        case CondGE : return a >= b
        default     : return false
    }
}

type TrapReason int64

const (
    TrapNullCheck TrapReason = iota + 1
    TrapRangeCheck
    TrapDivByZero
    TrapUnreached
)

func (self TrapReason) String() string {
    switch self {
        case TrapNullCheck  : return "null_check"
        case TrapRangeCheck : return "range_check"
        case TrapDivByZero  : return "div_by_zero"
        case TrapUnreached  : return "unreached"
        default             : return fmt.Sprintf("trap(%d)", int64(self))
    }
}

// PredicateKind is stored in the Aux of OpPredicate nodes.
type PredicateKind int64

const (
    PredRangeCheck PredicateKind = iota + 1
    PredLoopLimitCheck
    PredAssertion
)

func (self PredicateKind) String() string {
    switch self {
        case PredRangeCheck     : return "range_check"
        case PredLoopLimitCheck : return "loop_limit_check"
        case PredAssertion      : return "assertion"
        default                 : return fmt.Sprintf("predicate(%d)", int64(self))
    }
}
