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

    `golang.org/x/exp/slices`
)

// Graph is an arena of nodes addressed by ID. A graph is exclusively owned by
// one compilation and is not safe for concurrent use.
type Graph struct {
    Name    string
    nodes   []*Node
    start   ID
    version uint64
    domver  uint64
    dom     *DominatorTree
}

func NewGraph(name string) *Graph {
    ret := &Graph {
        Name  : name,
        nodes : []*Node { nil },
    }

    /* every graph starts with a Start node */
    ret.start = ret.AddNode(OpStart, TypeControl)
    return ret
}

func (self *Graph) Start() ID {
    return self.start
}

// Node returns the node with the given ID, or nil if it does not exist.
func (self *Graph) Node(id ID) *Node {
    if id <= 0 || int(id) >= len(self.nodes) {
        return nil
    } else {
        return self.nodes[id]
    }
}

func (self *Graph) Op(id ID) Op {
    if p := self.Node(id); p == nil {
        return OpInvalid
    } else {
        return p.Op
    }
}

// Cap returns one past the largest ID ever allocated.
func (self *Graph) Cap() int {
    return len(self.nodes)
}

// Version changes whenever the graph is mutated.
func (self *Graph) Version() uint64 {
    return self.version
}

// Live returns the IDs of all existing nodes in ascending order.
func (self *Graph) Live() []ID {
    ret := make([]ID, 0, len(self.nodes))
    for _, p := range self.nodes[1:] {
        if p != nil {
            ret = append(ret, p.Id)
        }
    }
    return ret
}

func (self *Graph) Len() int {
    n := 0
    for _, p := range self.nodes[1:] {
        if p != nil {
            n++
        }
    }
    return n
}

func (self *Graph) touch() {
    self.version++
}

func (self *Graph) must(id ID) *Node {
    if p := self.Node(id); p != nil {
        return p
    } else {
        panic(&BadGraphError { Node: id, Reason: "reference to a non-existing node" })
    }
}

/** Node Creation **/

func (self *Graph) AddNode(op Op, typ Type, in ...ID) ID {
    return self.AddAux(op, typ, 0, in...)
}

func (self *Graph) AddAux(op Op, typ Type, aux int64, in ...ID) ID {
    id := ID(len(self.nodes))
    nb := &Node {
        Id   : id,
        Op   : op,
        Type : typ,
        Aux  : aux,
        In   : append([]ID(nil), in...),
    }

    /* register the uses */
    for _, v := range in {
        p := self.must(v)
        p.outs = append(p.outs, id)
    }

    /* add to the arena */
    self.nodes = append(self.nodes, nb)
    self.touch()
    return id
}

// Const creates a constant of the given kind. Doubles are passed as bits.
func (self *Graph) Const(kind Kind, v int64) ID {
    switch kind {
        case KindLong   : return self.AddAux(OpConstL, ConstOf(kind, v), v)
        case KindDouble : return self.AddAux(OpConstD, TypeDouble, v)
        default         : return self.AddAux(OpConstI, ConstOf(kind, kind.Wrap(v)), kind.Wrap(v))
    }
}

/** Structural Primitives **/

func (self *Graph) addUse(def ID, user ID) {
    p := self.must(def)
    p.outs = append(p.outs, user)
}

func (self *Graph) delUse(def ID, user ID) {
    if p := self.Node(def); p != nil {
        for i, v := range p.outs {
            if v == user {
                p.outs = append(p.outs[:i], p.outs[i + 1:]...)
                return
            }
        }
    }
}

func (self *Graph) SetInput(id ID, i int, v ID) {
    p := self.must(id)
    old := p.In[i]

    /* nothing to do */
    if old == v {
        return
    }

    /* swap the use */
    self.delUse(old, id)
    self.addUse(v, id)
    p.In[i] = v
    self.touch()
}

func (self *Graph) AddInput(id ID, v ID) {
    p := self.must(id)
    p.In = append(p.In, v)
    self.addUse(v, id)
    self.touch()
}

func (self *Graph) RemoveInput(id ID, i int) {
    p := self.must(id)
    self.delUse(p.In[i], id)
    p.In = append(p.In[:i], p.In[i + 1:]...)
    self.touch()
}

// ReplaceAllUses redirects every use of old to rep.
func (self *Graph) ReplaceAllUses(old ID, rep ID) {
    self.ReplaceUsesIf(old, rep, nil)
}

// ReplaceUsesIf redirects the uses of old for which fn returns true. A nil fn
// accepts every use.
func (self *Graph) ReplaceUsesIf(old ID, rep ID, fn func(user ID, idx int) bool) {
    if old == rep {
        return
    }

    /* scan every user */
    for _, u := range self.Uses(old) {
        p := self.must(u)
        for i, v := range p.In {
            if v == old && (fn == nil || fn(u, i)) {
                self.SetInput(u, i, rep)
            }
        }
    }
}

// Detach removes all inputs of a node, which makes it unreachable from any
// control path. The node itself is reclaimed by RemoveDeadNodes.
func (self *Graph) Detach(id ID) {
    p := self.must(id)
    for _, v := range p.In {
        self.delUse(v, id)
    }

    /* clear the inputs */
    p.In = nil
    self.touch()
}

func (self *Graph) kill(id ID) {
    p := self.nodes[id]
    for _, v := range p.In {
        self.delUse(v, id)
    }

    /* remove from the arena */
    self.nodes[id] = nil
    self.touch()
}

func (self *Graph) Retag(id ID, op Op) {
    self.must(id).Op = op
    self.touch()
}

func (self *Graph) SetAux(id ID, aux int64) {
    self.must(id).Aux = aux
    self.touch()
}

func (self *Graph) SetType(id ID, typ Type) {
    self.must(id).Type = typ
}

func (self *Graph) SetBound(id ID, typ Type) {
    self.must(id).Bound = typ
    self.touch()
}

func (self *Graph) SetFlags(id ID, flags LoopFlags) {
    self.must(id).Flags = flags
}

// Uses returns the distinct users of a node in the order they were added.
func (self *Graph) Uses(id ID) []ID {
    p := self.must(id)
    ret := make([]ID, 0, len(p.outs))

    /* remove duplicates */
    for _, v := range p.outs {
        if !slices.Contains(ret, v) {
            ret = append(ret, v)
        }
    }
    return ret
}

func (self *Graph) NumUses(id ID) int {
    return len(self.must(id).outs)
}

/** Snapshots **/

// Snapshot is a deep copy of the graph state that Restore can roll back to.
type Snapshot struct {
    nodes []*Node
    start ID
}

func cloneNodes(nodes []*Node) []*Node {
    ret := make([]*Node, len(nodes))
    for i, p := range nodes {
        if p != nil {
            ret[i] = p.clone()
        }
    }
    return ret
}

func (self *Graph) Snapshot() *Snapshot {
    return &Snapshot {
        nodes: cloneNodes(self.nodes),
        start: self.start,
    }
}

func (self *Graph) Restore(s *Snapshot) {
    self.nodes = cloneNodes(s.nodes)
    self.start = s.start
    self.touch()
}

/** Control Helpers **/

// Preds returns the control predecessors of a control node.
func (self *Graph) Preds(id ID) []ID {
    p := self.must(id)
    switch {
        case p.Op == OpStart   : return nil
        case p.Op.IsRegion()   : return p.In
        case len(p.In) == 0    : return nil
        default                : return p.In[:1]
    }
}

// Succs returns the control successors of a control node.
func (self *Graph) Succs(id ID) []ID {
    var ret []ID
    for _, u := range self.Uses(id) {
        p := self.nodes[u]
        if p.Op.IsControl() && (p.Op.IsRegion() || p.In[0] == id) {
            ret = append(ret, u)
        }
    }
    return ret
}

// Succ returns the single control successor of a non-branch control node,
// or 0 if there is none.
func (self *Graph) Succ(id ID) ID {
    if s := self.Succs(id); len(s) != 1 {
        return 0
    } else {
        return s[0]
    }
}

// Proj returns the IfTrue or IfFalse projection of a branch node.
func (self *Graph) Proj(id ID, op Op) ID {
    for _, u := range self.must(id).outs {
        if self.nodes[u].Op == op {
            return u
        }
    }
    return 0
}

// Other returns the sibling projection of a branch projection.
func (self *Graph) Other(proj ID) ID {
    p := self.must(proj)
    if p.Op == OpIfTrue {
        return self.Proj(p.In[0], OpIfFalse)
    } else {
        return self.Proj(p.In[0], OpIfTrue)
    }
}

// Phis returns the phi nodes merging at a region, ordered by ID.
func (self *Graph) Phis(region ID) []ID {
    var ret []ID
    for _, u := range self.Uses(region) {
        if p := self.nodes[u]; p.Op == OpPhi && p.In[0] == region {
            ret = append(ret, u)
        }
    }

    /* keep a deterministic order */
    slices.Sort(ret)
    return ret
}

// IndexOf returns the position of v in the inputs of a node, or -1.
func (self *Graph) IndexOf(id ID, v ID) int {
    return slices.Index(self.must(id).In, v)
}

// Placement returns the control node a value is anchored at, or 0 for
// floating data nodes.
func (self *Graph) Placement(id ID) ID {
    p := self.must(id)
    switch {
        case p.Op.IsControl()                  : return id
        case p.Op == OpPhi || p.Op.IsPinned()  : return p.In[0]
        case p.Op == OpParam || p.Op.IsConst() : return self.start
        default                                : return 0
    }
}

// Anchors returns the non-floating nodes a value transitively depends on
// through floating data nodes. The memo may be nil.
func (self *Graph) Anchors(id ID, memo map[ID][]ID) []ID {
    if memo == nil {
        memo = make(map[ID][]ID)
    }
    return self.anchors(id, memo, make(map[ID]bool))
}

func (self *Graph) anchors(id ID, memo map[ID][]ID, busy map[ID]bool) []ID {
    if v, ok := memo[id]; ok {
        return v
    }

    /* anchored nodes are their own anchors */
    p := self.must(id)
    if !p.Op.IsFloating() {
        memo[id] = []ID { id }
        return memo[id]
    }

    /* data cycles must pass through phis */
    if busy[id] {
        panic(&BadGraphError { Node: id, Reason: "data cycle without a phi" })
    }

    /* union of all the inputs */
    var ret []ID
    busy[id] = true
    for _, v := range p.In {
        for _, a := range self.anchors(v, memo, busy) {
            if !slices.Contains(ret, a) {
                ret = append(ret, a)
            }
        }
    }

    /* memorize the result */
    delete(busy, id)
    memo[id] = ret
    return ret
}

// Available reports whether the value of id can be used at control node at.
func (self *Graph) Available(id ID, at ID) bool {
    for _, a := range self.Anchors(id, nil) {
        if !self.Dominates(self.Placement(a), at) {
            return false
        }
    }
    return true
}

/** Dominators **/

func (self *Graph) Dominators() *DominatorTree {
    if self.dom == nil || self.domver != self.version {
        self.dom = BuildDominatorTree(self)
        self.domver = self.version
    }
    return self.dom
}

// Dominates reports whether control node a dominates control node b.
func (self *Graph) Dominates(a ID, b ID) bool {
    return self.Dominators().Dominates(a, b)
}

// Reachable reports whether a control node is reachable from Start.
func (self *Graph) Reachable(id ID) bool {
    return self.Dominators().Contains(id)
}

/** Printing **/

func (self *Graph) String() string {
    var sb strings.Builder
    fmt.Fprintf(&sb, "graph %s {\n", self.Name)

    /* dump every node */
    for _, p := range self.nodes[1:] {
        if p != nil {
            sb.WriteString("    ")
            sb.WriteString(p.String())
            sb.WriteByte('\n')
        }
    }

    /* close the graph */
    sb.WriteString("}")
    return sb.String()
}
