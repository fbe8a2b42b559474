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

// Package looptree discovers the loops of a graph and maintains them as a
// nesting forest. The forest is never patched: any material change to the
// control flow is followed by a fresh Build.
package looptree

import (
    `fmt`
    `strings`

    `github.com/cloudwego/loopopt/ir`
    `golang.org/x/exp/slices`
)

// Loop is one loop of the forest. Body holds every member control node,
// including the members of nested loops.
type Loop struct {
    Head          ir.ID
    Tails         []ir.ID
    Body          []ir.ID
    Entries       []ir.ID
    Exits         []ir.ID
    Parent        *Loop
    Children      []*Loop
    Depth         int
    IsIrreducible bool
    IsCounted     bool
    Flags         ir.LoopFlags
    body          map[ir.ID]bool
}

// ContainsCtrl reports whether a control node belongs to the loop.
func (self *Loop) ContainsCtrl(id ir.ID) bool {
    return self.body[id]
}

// Contains reports whether a node is defined inside the loop. Floating data
// nodes are inside when any value they depend on is.
func (self *Loop) Contains(g *ir.Graph, id ir.ID) bool {
    if pos := g.Placement(id); pos != 0 {
        return self.body[pos]
    } else {
        return !self.IsInvariant(g, id)
    }
}

// IsInvariant reports whether the value of a node is the same on every
// iteration of the loop, i.e. none of its anchors is placed inside the loop.
func (self *Loop) IsInvariant(g *ir.Graph, id ir.ID) bool {
    for _, a := range g.Anchors(id, nil) {
        if self.body[g.Placement(a)] {
            return false
        }
    }
    return true
}

func (self *Loop) String() string {
    var sb strings.Builder
    fmt.Fprintf(&sb, "loop(%s", self.Head)

    /* append the attributes */
    if self.IsIrreducible {
        sb.WriteString(" irreducible")
    }
    if self.IsCounted {
        sb.WriteString(" counted")
    }
    if self.Flags != 0 {
        fmt.Fprintf(&sb, " [%s]", self.Flags)
    }

    /* nesting depth and size */
    fmt.Fprintf(&sb, " depth=%d size=%d)", self.Depth, len(self.Body))
    return sb.String()
}

// Forest is the loop nesting forest of a graph.
type Forest struct {
    G       *ir.Graph
    Loops   []*Loop
    Roots   []*Loop
    loopOf  map[ir.ID]*Loop
    version uint64
}

// LoopOf returns the innermost loop containing a control node, or nil.
func (self *Forest) LoopOf(id ir.ID) *Loop {
    return self.loopOf[id]
}

// Find returns the loop with the given head, or nil.
func (self *Forest) Find(head ir.ID) *Loop {
    for _, l := range self.Loops {
        if l.Head == head {
            return l
        }
    }
    return nil
}

// Innermost returns the loops with every loop listed after all the loops
// nested inside it.
func (self *Forest) Innermost() []*Loop {
    return self.Loops
}

// Stale reports whether the graph changed since the forest was built.
func (self *Forest) Stale() bool {
    return self.G.Version() != self.version
}

// Equal reports whether two forests describe the same loops.
func (self *Forest) Equal(other *Forest) bool {
    if len(self.Loops) != len(other.Loops) {
        return false
    }

    /* both lists are in the same deterministic order */
    for i, a := range self.Loops {
        b := other.Loops[i]
        switch {
            case a.Head != b.Head                  : return false
            case a.Depth != b.Depth                : return false
            case a.IsIrreducible != b.IsIrreducible : return false
            case a.IsCounted != b.IsCounted        : return false
            case !slices.Equal(a.Body, b.Body)     : return false
            case !slices.Equal(a.Entries, b.Entries) : return false
            case headOf(a.Parent) != headOf(b.Parent) : return false
        }
    }
    return true
}

func headOf(l *Loop) ir.ID {
    if l == nil {
        return 0
    } else {
        return l.Head
    }
}

func (self *Forest) String() string {
    var sb strings.Builder
    for _, l := range self.Roots {
        self.dump(&sb, l, 0)
    }
    return sb.String()
}

func (self *Forest) dump(sb *strings.Builder, l *Loop, indent int) {
    fmt.Fprintf(sb, "%*s%s\n", indent * 4, "", l)
    for _, c := range l.Children {
        self.dump(sb, c, indent + 1)
    }
}
