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
    `strings`
)

// ID identifies a node inside its graph. The zero ID is never a valid node.
type ID int32

func (self ID) String() string {
    return fmt.Sprintf("n%d", int32(self))
}

// LoopFlags is the loop bookkeeping carried by loop header nodes. The upper
// half stores the unroll factor of a main loop. LoopUncommon marks the
// uncommon trap region of a versioned loop instead, which Simplify keeps
// along with its phis.
type LoopFlags uint32

const (
    LoopCounted LoopFlags = 1 << iota
    LoopMain
    LoopPost
    LoopPeeled
    LoopStripMined
    LoopStripOuter
    LoopSlow
    LoopUnswitched
    LoopRangeChecked
    LoopMaxUnrolled
    LoopUncommon
)

const (
    _LoopUnrollShift = 16
    _LoopFlagsMask   = 1 << _LoopUnrollShift - 1
)

var _LoopFlagNames = [...]string {
    "counted",
    "main",
    "post",
    "peeled",
    "stripmined",
    "stripouter",
    "slow",
    "unswitched",
    "rangechecked",
    "maxunrolled",
    "uncommon",
}

func (self LoopFlags) Has(f LoopFlags) bool {
    return self & f == f
}

func (self LoopFlags) UnrollFactor() int {
    return int(self >> _LoopUnrollShift)
}

func (self LoopFlags) WithUnrollFactor(n int) LoopFlags {
    return self & _LoopFlagsMask | LoopFlags(n) << _LoopUnrollShift
}

func (self LoopFlags) String() string {
    var ret []string
    for i, s := range _LoopFlagNames {
        if self & (1 << i) != 0 {
            ret = append(ret, s)
        }
    }

    /* append the unroll factor if any */
    if n := self.UnrollFactor(); n != 0 {
        ret = append(ret, fmt.Sprintf("x%d", n))
    }

    /* join them together */
    return strings.Join(ret, "|")
}

// Node is a vertex of the graph. Nodes are owned by their graph and must only
// be mutated through the graph primitives, which keep the use lists in sync.
type Node struct {
    Id    ID
    Op    Op
    Type  Type
    Bound Type
    Aux   int64
    Flags LoopFlags
    In    []ID
    outs  []ID
}

// Cond returns the condition code of a compare node.
func (self *Node) Cond() Cond {
    return Cond(self.Aux)
}

func (self *Node) String() string {
    var sb strings.Builder
    fmt.Fprintf(&sb, "%s = %s", self.Id, self.Op)

    /* op specific payload */
    switch self.Op {
        case OpConstD    : fmt.Fprintf(&sb, " %g", f64(self.Aux))
        case OpConstI    : fmt.Fprintf(&sb, " %d", self.Aux)
        case OpConstL    : fmt.Fprintf(&sb, " %d", self.Aux)
        case OpParam     : fmt.Fprintf(&sb, " #%d", self.Aux)
        case OpCmp       : fmt.Fprintf(&sb, ".%s", Cond(self.Aux))
        case OpTrap      : fmt.Fprintf(&sb, " %s", TrapReason(self.Aux))
        case OpPredicate : fmt.Fprintf(&sb, " %s", PredicateKind(self.Aux))
        case OpCastII    : fmt.Fprintf(&sb, " %s", self.Bound)
    }

    /* inputs */
    for _, v := range self.In {
        fmt.Fprintf(&sb, " %s", v)
    }

    /* type and flags */
    if self.Type.Kind != KindNone && self.Type.Kind != KindControl {
        fmt.Fprintf(&sb, " : %s", self.Type)
    }
    if self.Flags != 0 {
        fmt.Fprintf(&sb, " [%s]", self.Flags)
    }
    return sb.String()
}

func (self *Node) clone() *Node {
    ret := *self
    ret.In = append([]ID(nil), self.In...)
    ret.outs = append([]ID(nil), self.outs...)
    return &ret
}
