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

package looptree

import (
    `github.com/cloudwego/loopopt/ir`
    `github.com/pkg/errors`
    `golang.org/x/exp/slices`
)

var (
    ErrIrreducible   = errors.New("irreducible loop")
    ErrNotBeautified = errors.New("loop head is not a two-input loop node")
    ErrNoExit        = errors.New("loop never exits")
    ErrMultipleExits = errors.New("loop has more than one exit")
)

// Shape is a closed loop: all of its values that are used after the loop flow
// through phis of the single exit region. Members lists every node that has
// to be duplicated to duplicate the loop.
type Shape struct {
    Loop    *Loop
    Head    ir.ID
    Entry   ir.ID
    Back    ir.ID
    Exit    ir.ID
    Region  ir.ID
    Sinks   []ir.ID
    Members map[ir.ID]bool
    Order   []ir.ID
}

// Size is the number of nodes a copy of the loop adds to the graph.
func (self *Shape) Size() int {
    return len(self.Order)
}

// ExitIndex returns the input of the exit region fed by the loop.
func (self *Shape) ExitIndex(g *ir.Graph) int {
    return g.IndexOf(self.Region, self.Exit)
}

// Phis returns the phis of the loop head.
func (self *Shape) Phis(g *ir.Graph) []ir.ID {
    return g.Phis(self.Head)
}

// Exits classifies the exits of a loop. Exits leading straight to a trap are
// sinks, and are duplicated along with the body. There must be exactly one
// other exit, which is returned along with the sink nodes. An exit falling
// through to a Return is an ordinary exit, Close gives it a region.
func Exits(g *ir.Graph, l *Loop) (ir.ID, []ir.ID, error) {
    var exit []ir.ID
    var sinks []ir.ID

    /* check every exit */
    for _, x := range l.Exits {
        if nb, ok := sinkPath(g, x); ok {
            sinks = append(sinks, nb...)
        } else {
            exit = append(exit, x)
        }
    }

    /* exactly one non-sink exit */
    switch len(exit) {
        case 0  : return 0, nil, ErrNoExit
        case 1  : return exit[0], sinks, nil
        default : return 0, nil, ErrMultipleExits
    }
}

// sinkPath follows a straight control path from x, and returns its nodes if
// it ends in a trap.
func sinkPath(g *ir.Graph, x ir.ID) ([]ir.ID, bool) {
    ret := []ir.ID { x }
    for i := 0; i < g.Cap(); i++ {
        if op := g.Op(x); op == ir.OpTrap {
            return ret, true
        } else if op.IsSink() {
            return nil, false
        }

        /* must continue to exactly one plain node */
        if x = g.Succ(x); x == 0 || g.Op(x).IsRegion() || g.Op(x).IsBranch() {
            return nil, false
        }

        /* add to path */
        ret = append(ret, x)
    }
    return nil, false
}

// Close brings a beautified loop into closed form. The exit projection gets a
// dedicated exit Region unless it already feeds a Region alone, and every use
// of a loop value after the loop is routed through a phi of that Region.
// Closing an already closed loop changes nothing.
func Close(g *ir.Graph, l *Loop) (*Shape, error) {
    if l.IsIrreducible {
        return nil, ErrIrreducible
    }

    /* must be a beautified loop */
    h := g.Node(l.Head)
    if !h.Op.IsLoop() || len(h.In) != 2 || l.body[h.In[0]] || !l.body[h.In[1]] {
        return nil, ErrNotBeautified
    }

    /* find the exit */
    exit, sinks, err := Exits(g, l)
    if err != nil {
        return nil, err
    }

    /* the exit projection continues to the exit region */
    r := g.Succ(exit)
    if r == 0 {
        return nil, errors.Errorf("exit %s has no successor", exit)
    }

    /* give the loop a region of its own if needed */
    if g.Op(r) != ir.OpRegion || g.NumUses(exit) != 1 {
        nr := g.AddNode(ir.OpRegion, ir.TypeControl, exit)
        g.ReplaceUsesIf(exit, nr, func(u ir.ID, _ int) bool { return u != nr })
        r = nr
    }

    /* collect the members */
    sh := &Shape {
        Loop   : l,
        Head   : l.Head,
        Entry  : h.In[0],
        Back   : h.In[1],
        Exit   : exit,
        Region : r,
        Sinks  : sinks,
    }

    /* route the outside uses through the exit region */
    sh.collect(g)
    if err = sh.route(g); err != nil {
        return nil, err
    } else {
        return sh, nil
    }
}

func (self *Shape) collect(g *ir.Graph) {
    ctrl := make(map[ir.ID]bool, len(self.Loop.Body) + len(self.Sinks) + 1)
    self.Members = make(map[ir.ID]bool)

    /* control members */
    for _, v := range self.Loop.Body {
        ctrl[v] = true
    }
    for _, v := range self.Sinks {
        ctrl[v] = true
    }

    /* the exit projection is copied along with its branch */
    ctrl[self.Exit] = true
    for v := range ctrl {
        self.Members[v] = true
    }

    /* phis and pinned nodes at member control */
    var wl []ir.ID
    for _, id := range g.Live() {
        if p := g.Node(id); (p.Op == ir.OpPhi || p.Op.IsPinned()) && ctrl[p.In[0]] {
            self.Members[id] = true
        }
    }

    /* floating nodes depending on members */
    for v := range self.Members {
        wl = append(wl, v)
    }
    for len(wl) != 0 {
        v := wl[len(wl) - 1]
        wl = wl[:len(wl) - 1]
        for _, u := range g.Uses(v) {
            if g.Op(u).IsFloating() && !self.Members[u] {
                self.Members[u] = true
                wl = append(wl, u)
            }
        }
    }

    /* deterministic copy order */
    self.Order = make([]ir.ID, 0, len(self.Members))
    for v := range self.Members {
        self.Order = append(self.Order, v)
    }
    slices.Sort(self.Order)
}

// HasValue reports whether a node produces a data value.
func HasValue(op ir.Op) bool {
    return !op.IsControl() || op == ir.OpLoad || op == ir.OpDivI || op == ir.OpModI
}

// IsControlUse reports whether input i of a node refers to a control node by
// position.
func IsControlUse(p *ir.Node, i int) bool {
    switch {
        case p.Op.IsRegion()                     : return true
        case p.Op.IsControl()                    : return i == 0
        case p.Op == ir.OpPhi || p.Op.IsPinned() : return i == 0
        default                                  : return false
    }
}

func (self *Shape) route(g *ir.Graph) error {
    r := g.Node(self.Region)
    k := slices.Index(r.In, self.Exit)
    phis := make(map[ir.ID]ir.ID)

    /* every value defined in the loop */
    for _, v := range self.Order {
        if !HasValue(g.Op(v)) {
            continue
        }

        /* scan the outside users */
        for _, u := range g.Uses(v) {
            if self.Members[u] {
                continue
            }

            /* check every input referring to v */
            q := g.Node(u)
            for i := 0; i < len(q.In); i++ {
                if q.In[i] != v || IsControlUse(q, i) {
                    continue
                }

                /* already flowing through the exit region */
                if q.Op == ir.OpPhi && q.In[0] == self.Region && i == k + 1 {
                    continue
                }

                /* only a dedicated region dominates the outside uses */
                if len(r.In) != 1 {
                    return errors.Errorf("%s uses loop value %s outside of the exit region", u, v)
                }

                /* create the exit phi on demand */
                p, ok := phis[v]
                if !ok {
                    p = g.AddNode(ir.OpPhi, ir.TypeOf(g.Node(v).Type.Kind), self.Region, v)
                    phis[v] = p
                }

                /* use the phi instead */
                g.SetInput(u, i, p)
            }
        }
    }
    return nil
}
