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
    `github.com/oleiade/lane`
    `golang.org/x/exp/slices`
    `gonum.org/v1/gonum/graph/flow`
    `gonum.org/v1/gonum/graph/simple`
)

var _Arity = [_OpCount]int {
    OpStart       : 0,
    OpLoop        : 2,
    OpCountedLoop : 2,
    OpIf          : 2,
    OpRangeCheck  : 2,
    OpPredicate   : 2,
    OpIfTrue      : 1,
    OpIfFalse     : 1,
    OpTrap        : 1,
    OpSafepoint   : 1,
    OpLoad        : 3,
    OpStore       : 4,
    OpDivI        : 3,
    OpModI        : 3,
    OpParam       : 0,
    OpConstI      : 0,
    OpConstL      : 0,
    OpConstD      : 0,
    OpAdd         : 2,
    OpSub         : 2,
    OpMul         : 2,
    OpAnd         : 2,
    OpOr          : 2,
    OpXor         : 2,
    OpMin         : 2,
    OpMax         : 2,
    OpNeg         : 1,
    OpCmp         : 2,
    OpConvI2L     : 1,
    OpConvL2I     : 1,
    OpCastII      : 2,
    OpArrayLen    : 2,
    OpOpaqueInit  : 1,
}

type _Verifier struct {
    g    *Graph
    ctrl map[ID]bool
    live map[ID]bool
    memo map[ID][]ID
}

// Verify checks the structural invariants of the graph: arity, complete
// control inputs, a single control successor for every non-branch control
// node, and dominance of every definition over its uses.
func Verify(g *Graph) (err error) {
    v := &_Verifier {
        g    : g,
        ctrl : make(map[ID]bool),
        live : make(map[ID]bool),
        memo : make(map[ID][]ID),
    }

    /* data cycles are reported as panics by the anchor search */
    defer func() {
        if r := recover(); r != nil {
            if e, ok := r.(*BadGraphError); ok {
                err = &VerifyError { Node: e.Node, Reason: e.Reason }
            } else {
                panic(r)
            }
        }
    }()

    /* run all the checks */
    v.mark()
    if err = v.structure(); err != nil {
        return
    } else {
        return v.dominance()
    }
}

// VerifyDeep runs Verify and cross-checks the dominator tree against an
// independent implementation.
func VerifyDeep(g *Graph) error {
    if err := Verify(g); err != nil {
        return err
    } else {
        return CrossCheckDominators(g)
    }
}

func (self *_Verifier) mark() {
    q := lane.NewQueue()
    q.Enqueue(self.g.start)
    self.ctrl[self.g.start] = true

    /* reachable control */
    for !q.Empty() {
        for _, v := range self.g.Succs(q.Dequeue().(ID)) {
            if !self.ctrl[v] {
                self.ctrl[v] = true
                q.Enqueue(v)
            }
        }
    }

    /* live values */
    for id := range self.ctrl {
        self.live[id] = true
        q.Enqueue(id)
    }

    /* propagate along the inputs */
    for !q.Empty() {
        for _, v := range self.g.nodes[q.Dequeue().(ID)].In {
            if !self.live[v] && self.g.Node(v) != nil {
                self.live[v] = true
                q.Enqueue(v)
            }
        }
    }
}

func (self *_Verifier) structure() error {
    for _, id := range self.sorted() {
        p := self.g.nodes[id]

        /* inputs must exist */
        for _, v := range p.In {
            if self.g.Node(v) == nil {
                return everify(id, "input %s does not exist", v)
            }
        }

        /* check the arity */
        if err := self.arity(p); err != nil {
            return err
        }

        /* control inputs */
        if err := self.control(p); err != nil {
            return err
        }

        /* control successors */
        if self.ctrl[id] {
            if err := self.successors(p); err != nil {
                return err
            }
        }
    }
    return nil
}

func (self *_Verifier) sorted() []ID {
    ret := make([]ID, 0, len(self.live))
    for id := range self.live {
        ret = append(ret, id)
    }

    /* keep the error reporting deterministic */
    slices.Sort(ret)
    return ret
}

func (self *_Verifier) arity(p *Node) error {
    switch p.Op {
        case OpRegion: {
            if len(p.In) == 0 {
                return everify(p.Id, "region without predecessors")
            }
        }

        /* return with an optional value */
        case OpReturn: {
            if len(p.In) != 1 && len(p.In) != 2 {
                return everify(p.Id, "return expects 1 or 2 inputs, got %d", len(p.In))
            }
        }

        /* phi matches its region */
        case OpPhi: {
            if len(p.In) == 0 || !self.g.must(p.In[0]).Op.IsRegion() {
                return everify(p.Id, "phi is not attached to a region")
            } else if n := len(self.g.nodes[p.In[0]].In); len(p.In) != n + 1 {
                return everify(p.Id, "phi has %d values but its region has %d predecessors", len(p.In) - 1, n)
            }
        }

        /* fixed arity */
        default: {
            if len(p.In) != _Arity[p.Op] {
                return everify(p.Id, "%s expects %d inputs, got %d", p.Op, _Arity[p.Op], len(p.In))
            }
        }
    }

    /* branch conditions are booleans */
    if p.Op.IsBranch() && self.g.nodes[p.In[1]].Type.Kind != KindBool {
        return everify(p.Id, "branch condition %s is not a boolean", p.In[1])
    }
    return nil
}

func (self *_Verifier) control(p *Node) error {
    var in []ID
    switch {
        case p.Op == OpStart                     : return nil
        case p.Op.IsRegion()                     : in = p.In
        case p.Op.IsControl() || p.Op.IsPinned() : in = p.In[:1]
        case p.Op == OpPhi                       : in = p.In[:1]
        default                                  : return nil
    }

    /* all control inputs must be reachable control nodes */
    for _, v := range in {
        if !self.g.nodes[v].Op.IsControl() {
            return everify(p.Id, "control input %s is not a control node", v)
        } else if !self.ctrl[v] {
            return everify(p.Id, "control input %s is unreachable", v)
        }
    }

    /* projections hang off branches */
    if p.Op.IsProj() && !self.g.nodes[p.In[0]].Op.IsBranch() {
        return everify(p.Id, "projection of a non-branch node %s", p.In[0])
    }

    /* loop heads have the entry first and the backedge second */
    if p.Op.IsLoop() && self.ctrl[p.Id] {
        if !self.g.Dominates(p.Id, p.In[1]) {
            return everify(p.Id, "backedge %s is not dominated by the loop head", p.In[1])
        } else if self.g.Dominates(p.Id, p.In[0]) {
            return everify(p.Id, "loop entry %s is dominated by the loop head", p.In[0])
        }
    }
    return nil
}

func (self *_Verifier) successors(p *Node) error {
    succ := self.g.Succs(p.Id)
    switch {
        case p.Op.IsSink(): {
            if len(succ) != 0 {
                return everify(p.Id, "sink has control successors")
            }
        }

        /* branches have exactly one projection of each kind */
        case p.Op.IsBranch(): {
            if len(succ) != 2 || self.g.Proj(p.Id, OpIfTrue) == 0 || self.g.Proj(p.Id, OpIfFalse) == 0 {
                return everify(p.Id, "branch must have exactly one true and one false projection")
            }
        }

        /* everything else continues to exactly one node */
        default: {
            if len(succ) != 1 {
                return everify(p.Id, "expected exactly one control successor, got %d", len(succ))
            }
        }
    }
    return nil
}

func (self *_Verifier) dominance() error {
    for _, id := range self.sorted() {
        p := self.g.nodes[id]
        switch {
            case p.Op == OpPhi: {
                region := self.g.nodes[p.In[0]]
                for k, v := range p.In[1:] {
                    if err := self.use(id, v, region.In[k]); err != nil {
                        return err
                    }
                }
            }

            /* control and pinned nodes use their values at their control */
            case len(p.In) > 1 && (p.Op.IsControl() && !p.Op.IsRegion() || p.Op.IsPinned()): {
                at := self.g.Placement(id)
                for _, v := range p.In[1:] {
                    if err := self.use(id, v, at); err != nil {
                        return err
                    }
                }
            }
        }
    }
    return nil
}

func (self *_Verifier) use(user ID, def ID, at ID) error {
    for _, a := range self.g.anchors(def, self.memo, make(map[ID]bool)) {
        if pos := self.g.Placement(a); !self.g.Dominates(pos, at) {
            return everify(user, "value %s (anchored at %s) does not dominate its use at %s", def, pos, at)
        }
    }
    return nil
}

// CrossCheckDominators compares the dominator tree with the one computed by
// gonum's flow package.
func CrossCheckDominators(g *Graph) error {
    dt := g.Dominators()
    dg := simple.NewDirectedGraph()

    /* add all the reachable control nodes */
    for id := range dt.pre {
        dg.AddNode(simple.Node(id))
    }

    /* add the control edges, self loops are not supported by simple graphs */
    for id := range dt.pre {
        for _, v := range g.Succs(id) {
            if v != id {
                dg.SetEdge(dg.NewEdge(simple.Node(id), simple.Node(v)))
            }
        }
    }

    /* compare the immediate dominators */
    ref := flow.Dominators(simple.Node(g.start), dg)
    for id := range dt.pre {
        exp := ID(0)
        if d := ref.DominatorOf(int64(id)); d != nil {
            exp = ID(d.ID())
        }
        if act := dt.Idom(id); act != exp {
            return everify(id, "immediate dominator mismatch: %s != %s", act, exp)
        }
    }
    return nil
}
