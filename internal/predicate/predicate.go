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

// Package predicate manages the loop predicates: checks hoisted in front of
// a loop head that, when they fail, leave the fast loop for the uncommon trap
// (UCT) region of the loop.
//
// The UCT region is the entry of a slow version of the loop, a verbatim copy
// made the first time a predicate is inserted for it. The UCT region carries
// one phi per head phi, so a failing predicate resumes the slow loop with the
// loop state at the point of failure.
package predicate

import (
    `fmt`

    `github.com/cloudwego/loopopt/internal/looptree`
    `github.com/cloudwego/loopopt/ir`
    `github.com/pkg/errors`
    `golang.org/x/exp/slices`
)

var (
    ErrMayTrap      = errors.New("predicate test may trap inside the loop")
    ErrNotDominated = errors.New("predicate test is not available at the loop entry")
    ErrNoSlowPhi    = errors.New("loop phi has no slow version")
)

type State uint8

const (
    Active State = iota
    Cloned
    Dead
)

func (self State) String() string {
    switch self {
        case Active : return "active"
        case Cloned : return "cloned"
        case Dead   : return "dead"
        default     : return fmt.Sprintf("State(%d)", self)
    }
}

// Predicate is a check placed between the entry of a loop and its head. IV
// is the head phi whose entry value the test re-initializes through
// OpaqueInit nodes, or 0.
type Predicate struct {
    Node  ir.ID
    Kind  ir.PredicateKind
    Test  ir.ID
    UCT   ir.ID
    Loop  ir.ID
    IV    ir.ID
    State State
}

func (self *Predicate) String() string {
    return fmt.Sprintf("%s = %s(%s) loop=%s uct=%s %s", self.Node, self.Kind, self.Test, self.Loop, self.UCT, self.State)
}

type _Version struct {
    uct  ir.ID
    slow ir.ID
    phis map[ir.ID]ir.ID
}

func (self *_Version) clone() *_Version {
    ret := &_Version {
        uct  : self.uct,
        slow : self.slow,
        phis : make(map[ir.ID]ir.ID, len(self.phis)),
    }
    for k, v := range self.phis {
        ret.phis[k] = v
    }
    return ret
}

// prune forgets the UCT phis removed since versioning. The slow loop no
// longer reads the state they carried, so their entries map to 0.
func (self *_Version) prune(g *ir.Graph) {
    for p, u := range self.phis {
        if q := g.Node(u); u != 0 && (q == nil || q.Op != ir.OpPhi || q.In[0] != self.uct) {
            self.phis[p] = 0
        }
    }
}

// Manager keeps track of the predicates of a graph and the slow versions of
// the predicated loops.
type Manager struct {
    g     *ir.Graph
    preds []*Predicate
    vers  map[ir.ID]*_Version
}

func NewManager(g *ir.Graph) *Manager {
    return &Manager {
        g    : g,
        vers : make(map[ir.ID]*_Version),
    }
}

// Predicates returns every predicate still tracked by the manager, in the
// order they were inserted.
func (self *Manager) Predicates() []*Predicate {
    return self.preds
}

// PredicatesOf returns the active predicates of the loop with the given
// head, in the order they were inserted.
func (self *Manager) PredicatesOf(head ir.ID) []*Predicate {
    var ret []*Predicate
    for _, p := range self.preds {
        if p.Loop == head && p.State == Active {
            ret = append(ret, p)
        }
    }
    return ret
}

// Version returns the UCT region and the slow loop head of a versioned loop.
func (self *Manager) Version(head ir.ID) (uct ir.ID, slow ir.ID, ok bool) {
    if v := self.vers[head]; v == nil || self.g.Node(v.uct) == nil {
        return 0, 0, false
    } else {
        return v.uct, v.slow, true
    }
}

// Insert places a predicate `test` at the entry of loop l. The test must be
// computable before the loop and must not depend on a trapping node inside
// it. The first predicate of a loop versions it.
func (self *Manager) Insert(kind ir.PredicateKind, test ir.ID, l *looptree.Loop) (*Predicate, error) {
    g := self.g
    at := g.Node(l.Head).In[0]

    /* trapping nodes of the body cannot be hoisted */
    for _, a := range g.Anchors(test, nil) {
        if g.Op(a).MayTrap() && l.ContainsCtrl(g.Placement(a)) {
            return nil, errors.Wrapf(ErrMayTrap, "%s depends on %s", test, a)
        }
    }

    /* every input must be computed before the loop */
    if !g.Available(test, at) {
        return nil, errors.Wrapf(ErrNotDominated, "%s at %s", test, at)
    }

    /* the failure path resumes the slow version */
    v, err := self.version(l)
    if err != nil {
        return nil, err
    }

    /* place the predicate */
    return self.place(kind, test, l.Head, v, ivOf(g, l.Head, test))
}

func (self *Manager) version(l *looptree.Loop) (*_Version, error) {
    g := self.g
    if v := self.vers[l.Head]; v != nil && g.Node(v.uct) != nil {
        return v, nil
    }

    /* single exit, with every outside use going through the exit region */
    sh, err := looptree.Close(g, l)
    if err != nil {
        return nil, err
    }

    /* the slow copy */
    c := looptree.CloneLoop(g, sh)
    g.SetFlags(c.Head, g.Node(c.Head).Flags | ir.LoopSlow)

    /* entered from the UCT region with the loop state of the failing predicate */
    v := &_Version {
        uct  : g.AddNode(ir.OpRegion, ir.TypeControl),
        slow : c.Head,
        phis : make(map[ir.ID]ir.ID),
    }

    /* the region and its phis must survive the simplifications */
    g.SetFlags(v.uct, ir.LoopUncommon)

    /* one UCT phi per head phi */
    g.SetInput(c.Head, 0, v.uct)
    for _, p := range g.Phis(l.Head) {
        u := g.AddNode(ir.OpPhi, ir.TypeOf(g.Node(p).Type.Kind), v.uct)
        g.SetInput(c.Map[p], 1, u)
        v.phis[p] = u
    }

    /* both versions leave through the same exit */
    looptree.AttachExit(g, sh, c)
    self.vers[l.Head] = v
    return v, nil
}

func (self *Manager) place(kind ir.PredicateKind, test ir.ID, head ir.ID, v *_Version, iv ir.ID) (*Predicate, error) {
    g := self.g
    v.prune(g)

    /* every head phi must have a slow version */
    for _, p := range g.Phis(head) {
        if _, ok := v.phis[p]; !ok {
            return nil, errors.Wrapf(ErrNoSlowPhi, "%s", p)
        }
    }

    /* the predicate goes right above the head */
    at := g.Node(head).In[0]
    pn := g.AddAux(ir.OpPredicate, ir.TypeControl, int64(kind), at, test)
    pt := g.AddNode(ir.OpIfTrue, ir.TypeControl, pn)
    pf := g.AddNode(ir.OpIfFalse, ir.TypeControl, pn)
    g.SetInput(head, 0, pt)
    g.AddInput(v.uct, pf)

    /* the loop state when the predicate fails */
    keys := make([]ir.ID, 0, len(v.phis))
    for p := range v.phis {
        keys = append(keys, p)
    }

    /* phis removed since versioning were invariant, they keep their value */
    slices.Sort(keys)
    for _, p := range keys {
        u := v.phis[p]
        if u == 0 {
            continue
        }

        /* the state of the loop phi, or the last one it had */
        if q := g.Node(p); q != nil && q.Op == ir.OpPhi && q.In[0] == head {
            g.AddInput(u, q.In[1])
        } else {
            in := g.Node(u).In
            g.AddInput(u, in[len(in) - 1])
        }
    }

    /* keep track of the predicate */
    ret := &Predicate {
        Node  : pn,
        Kind  : kind,
        Test  : test,
        UCT   : v.uct,
        Loop  : head,
        IV    : iv,
        State : Active,
    }
    self.preds = append(self.preds, ret)
    return ret, nil
}

// Invalidate kills a predicate: its test becomes true and the failure path
// is left for the dead code elimination.
func (self *Manager) Invalidate(p *Predicate) {
    if p.State == Dead {
        return
    }

    /* fold the predicate if it is still in the graph */
    g := self.g
    if q := g.Node(p.Node); q != nil && q.Op == ir.OpPredicate && len(q.In) == 2 && g.Proj(p.Node, ir.OpIfTrue) != 0 {
        g.FoldBranch(p.Node, true)
    }

    /* mark as dead */
    p.State = Dead
}

// Sweep marks the predicates removed from the graph as dead, forgets them
// and the versions whose UCT region is gone. Returns the number of newly
// dead predicates.
func (self *Manager) Sweep() int {
    n := 0
    g := self.g
    keep := self.preds[:0]

    /* predicates that are no longer reachable */
    for _, p := range self.preds {
        if p.State != Dead {
            if q := g.Node(p.Node); q == nil || q.Op != ir.OpPredicate || !g.Reachable(p.Node) {
                p.State = Dead
                n++
            }
        }
        if p.State != Dead {
            keep = append(keep, p)
        }
    }

    /* versions of dead loops */
    for h, v := range self.vers {
        if g.Node(h) == nil || g.Node(v.uct) == nil {
            delete(self.vers, h)
        } else {
            v.prune(g)
        }
    }

    /* compact the list */
    for i := len(keep); i < len(self.preds); i++ {
        self.preds[i] = nil
    }

    /* update the predicate list */
    self.preds = keep
    return n
}

// Snapshot is the manager state Restore rolls back to. Predicates keep
// their identity across a restore.
type Snapshot struct {
    ptrs  []*Predicate
    vals  []Predicate
    vers  map[ir.ID]*_Version
}

func (self *Manager) Snapshot() *Snapshot {
    ret := &Snapshot {
        ptrs : append([]*Predicate(nil), self.preds...),
        vals : make([]Predicate, len(self.preds)),
        vers : make(map[ir.ID]*_Version, len(self.vers)),
    }

    /* copy the predicates by value */
    for i, p := range self.preds {
        ret.vals[i] = *p
    }

    /* and the versions */
    for h, v := range self.vers {
        ret.vers[h] = v.clone()
    }
    return ret
}

func (self *Manager) Restore(s *Snapshot) {
    self.preds = append([]*Predicate(nil), s.ptrs...)
    self.vers = make(map[ir.ID]*_Version, len(s.vers))

    /* restore the predicate values */
    for i, p := range s.ptrs {
        *p = s.vals[i]
    }

    /* restore the versions */
    for h, v := range s.vers {
        self.vers[h] = v.clone()
    }
}

// ivOf finds the head phi whose entry value is wrapped by the OpaqueInit
// nodes of a test, the lowest one when several phis share it.
func ivOf(g *ir.Graph, head ir.ID, test ir.ID) ir.ID {
    for _, o := range opaques(g, test) {
        for _, p := range g.Phis(head) {
            if g.Node(p).In[1] == g.Node(o).In[0] {
                return p
            }
        }
    }
    return 0
}

// opaques returns the OpaqueInit nodes a test depends on through floating
// data nodes.
func opaques(g *ir.Graph, test ir.ID) []ir.ID {
    var ret []ir.ID
    seen := make(map[ir.ID]bool)

    /* depth-first over the floating inputs */
    var walk func(ir.ID)
    walk = func(id ir.ID) {
        if seen[id] {
            return
        }

        /* only descend into floating nodes */
        seen[id] = true
        p := g.Node(id)

        /* check for opaque nodes */
        switch {
            case p.Op == ir.OpOpaqueInit : ret = append(ret, id)
            case p.Op.IsFloating()       : for _, v := range p.In { walk(v) }
        }
    }

    /* sort by ID */
    walk(test)
    slices.Sort(ret)
    return ret
}
