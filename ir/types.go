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
    `math/bits`
)

type Kind uint8

const (
    KindNone Kind = iota
    KindControl
    KindBool
    KindInt
    KindLong
    KindDouble
)

func (self Kind) String() string {
    switch self {
        case KindNone    : return "none"
        case KindControl : return "ctrl"
        case KindBool    : return "bool"
        case KindInt     : return "int"
        case KindLong    : return "long"
        case KindDouble  : return "double"
        default          : return fmt.Sprintf("kind(%d)", uint8(self))
    }
}

// HasRange reports whether values of this kind carry an integer range.
func (self Kind) HasRange() bool {
    return self == KindBool || self == KindInt || self == KindLong
}

func (self Kind) Min() int64 {
    switch self {
        case KindBool : return 0
        case KindInt  : return math.MinInt32
        default       : return math.MinInt64
    }
}

func (self Kind) Max() int64 {
    switch self {
        case KindBool : return 1
        case KindInt  : return math.MaxInt32
        default       : return math.MaxInt64
    }
}

// Wrap truncates v to the width of the kind and sign-extends it back.
func (self Kind) Wrap(v int64) int64 {
    switch self {
        case KindBool : return v & 1
        case KindInt  : return int64(int32(v))
        default       : return v
    }
}

// Type is the value-range lattice element of a node. Lo > Hi denotes the
// empty range, which only appears on nodes in provably dead code.
type Type struct {
    Kind Kind
    Lo   int64
    Hi   int64
}

var (
    TypeNone    = Type { Kind: KindNone }
    TypeControl = Type { Kind: KindControl }
    TypeBool    = Type { KindBool, 0, 1 }
    TypeInt     = Type { KindInt, math.MinInt32, math.MaxInt32 }
    TypeLong    = Type { KindLong, math.MinInt64, math.MaxInt64 }
    TypeDouble  = Type { Kind: KindDouble }
)

// TypeOf returns the full range of the kind.
func TypeOf(kind Kind) Type {
    if kind.HasRange() {
        return Type { kind, kind.Min(), kind.Max() }
    } else {
        return Type { Kind: kind }
    }
}

func RangeOf(kind Kind, lo int64, hi int64) Type {
    return Type { kind, lo, hi }
}

func ConstOf(kind Kind, v int64) Type {
    if kind.HasRange() {
        return Type { kind, v, v }
    } else {
        return Type { Kind: kind }
    }
}

func (self Type) IsEmpty() bool {
    return self.Kind.HasRange() && self.Lo > self.Hi
}

func (self Type) IsFull() bool {
    return !self.Kind.HasRange() || (self.Lo == self.Kind.Min() && self.Hi == self.Kind.Max())
}

// Const returns the single value of a constant range.
func (self Type) Const() (int64, bool) {
    if self.Kind.HasRange() && self.Lo == self.Hi {
        return self.Lo, true
    } else {
        return 0, false
    }
}

func (self Type) Contains(v int64) bool {
    return !self.Kind.HasRange() || (v >= self.Lo && v <= self.Hi)
}

func (self Type) Join(other Type) Type {
    if !self.Kind.HasRange() || self.IsEmpty() {
        return other
    } else if other.IsEmpty() {
        return self
    } else {
        return Type { self.Kind, minI64(self.Lo, other.Lo), maxI64(self.Hi, other.Hi) }
    }
}

func (self Type) Meet(other Type) Type {
    if !self.Kind.HasRange() {
        return self
    } else {
        return Type { self.Kind, maxI64(self.Lo, other.Lo), minI64(self.Hi, other.Hi) }
    }
}

func (self Type) String() string {
    if !self.Kind.HasRange() {
        return self.Kind.String()
    } else if self.IsEmpty() {
        return self.Kind.String() + "{}"
    } else if self.IsFull() {
        return self.Kind.String()
    } else if self.Lo == self.Hi {
        return fmt.Sprintf("%s:%d", self.Kind, self.Lo)
    } else {
        return fmt.Sprintf("%s[%d,%d]", self.Kind, self.Lo, self.Hi)
    }
}

func minI64(a int64, b int64) int64 {
    if a < b {
        return a
    } else {
        return b
    }
}

func maxI64(a int64, b int64) int64 {
    if a > b {
        return a
    } else {
        return b
    }
}

/** Range Arithmetic **/

func fitsRange(kind Kind, lo Int65, hi Int65) (Type, bool) {
    if lo.Compare(Int65i(kind.Min())) < 0 || hi.Compare(Int65i(kind.Max())) > 0 {
        return TypeOf(kind), false
    }

    /* both bounds fit in the kind */
    l, _ := lo.Int64()
    h, _ := hi.Int64()
    return Type { kind, l, h }, true
}

func addRange(kind Kind, a Type, b Type) Type {
    ret, _ := fitsRange(kind, Int65i(a.Lo).Add(Int65i(b.Lo)), Int65i(a.Hi).Add(Int65i(b.Hi)))
    return ret
}

func subRange(kind Kind, a Type, b Type) Type {
    ret, _ := fitsRange(kind, Int65i(a.Lo).Sub(Int65i(b.Hi)), Int65i(a.Hi).Sub(Int65i(b.Lo)))
    return ret
}

func mulRange(kind Kind, a Type, b Type) Type {
    const lim = 1 << 31
    if a.Lo < -lim || a.Hi > lim || b.Lo < -lim || b.Hi > lim {
        return TypeOf(kind)
    }

    /* the corners can not overflow an int64 */
    c := [4]int64 { a.Lo * b.Lo, a.Lo * b.Hi, a.Hi * b.Lo, a.Hi * b.Hi }
    lo, hi := c[0], c[0]

    /* find the extremes */
    for _, v := range c[1:] {
        lo = minI64(lo, v)
        hi = maxI64(hi, v)
    }

    /* check for overflow */
    ret, _ := fitsRange(kind, Int65i(lo), Int65i(hi))
    return ret
}

func bitsRange(kind Kind, op Op, a Type, b Type) Type {
    switch {
        case op == OpAnd && a.Lo >= 0 && b.Lo >= 0 : return Type { kind, 0, minI64(a.Hi, b.Hi) }
        case op == OpAnd && a.Lo >= 0              : return Type { kind, 0, a.Hi }
        case op == OpAnd && b.Lo >= 0              : return Type { kind, 0, b.Hi }
        case a.Lo >= 0 && b.Lo >= 0                : break
        default                                    : return TypeOf(kind)
    }

    /* or/xor of non-negative values stay below the next power of two */
    n := bits.Len64(uint64(maxI64(a.Hi, b.Hi)))
    if n >= 63 {
        return TypeOf(kind)
    }

    /* clamp to the kind */
    ret, _ := fitsRange(kind, Int65i(0), Int65i(int64(1) << n - 1))
    return ret
}

// cmpRange decides a compare from the operand ranges, returning the Bool
// type [0,1] when the ranges overlap.
func cmpRange(cc Cond, a Type, b Type) Type {
    if !a.Kind.HasRange() || !b.Kind.HasRange() || a.IsEmpty() || b.IsEmpty() {
        return TypeBool
    }

    /* unsigned compares are only decided on non-negative ranges */
    if cc.IsUnsigned() {
        if a.Lo < 0 || b.Lo < 0 {
            return TypeBool
        }
        cc = cc.Signed()
    }

    /* decide by bounds */
    switch cc {
        case CondLT: if a.Hi < b.Lo { return ConstOf(KindBool, 1) } else if a.Lo >= b.Hi { return ConstOf(KindBool, 0) }
        case CondLE: if a.Hi <= b.Lo { return ConstOf(KindBool, 1) } else if a.Lo > b.Hi { return ConstOf(KindBool, 0) }
        case CondGT: if a.Lo > b.Hi { return ConstOf(KindBool, 1) } else if a.Hi <= b.Lo { return ConstOf(KindBool, 0) }
        case CondGE: if a.Lo >= b.Hi { return ConstOf(KindBool, 1) } else if a.Hi < b.Lo { return ConstOf(KindBool, 0) }
        case CondEQ: if a.Lo == a.Hi && b.Lo == b.Hi && a.Lo == b.Lo { return ConstOf(KindBool, 1) } else if a.Hi < b.Lo || a.Lo > b.Hi { return ConstOf(KindBool, 0) }
        case CondNE: if a.Lo == a.Hi && b.Lo == b.Hi && a.Lo == b.Lo { return ConstOf(KindBool, 0) } else if a.Hi < b.Lo || a.Lo > b.Hi { return ConstOf(KindBool, 1) }
    }

    /* undecided */
    return TypeBool
}

func f64(v int64) float64 {
    return math.Float64frombits(uint64(v))
}

func i64f(v float64) int64 {
    return int64(math.Float64bits(v))
}
