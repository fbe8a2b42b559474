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
    `github.com/oleiade/lane`
    `golang.org/x/exp/slices`
)

type _BlockKind uint8

const (
    _B_nonheader _BlockKind = iota
    _B_reducible
    _B_self
    _B_irreducible
)

// _Block is the per-node state of the loop finder.
type _Block struct {
    id      ir.ID
    first   int
    last    int
    kind    _BlockKind
    loop    *Loop
    direct  []ir.ID
    back    []*_Block
    nonback []*_Block
    union   *_Block
}

// find is the union-find lookup with path compression.
func (self *_Block) find() *_Block {
    if self.union != self {
        self.union = self.union.find()
    }
    return self.union
}

// isAncestor reports whether self is an ancestor of p in the DFS tree.
func (self *_Block) isAncestor(p *_Block) bool {
    return self.first <= p.first && p.first <= self.last
}

type _Frame struct {
    b    *_Block
    succ []ir.ID
    next int
}

type _Finder struct {
    g     *ir.Graph
    order []*_Block
    block map[ir.ID]*_Block
}

func (self *_Finder) push(st *lane.Stack, id ir.ID) {
    b := &_Block { id: id }
    b.union = b

    /* number in preorder, starting from 1 */
    self.order = append(self.order, b)
    self.block[id] = b
    b.first = len(self.order)
    st.Push(&_Frame { b: b, succ: self.g.Succs(id) })
}

// search numbers the reachable control nodes in depth-first preorder, and
// records the last descendant of every node.
func (self *_Finder) search() {
    st := lane.NewStack()
    self.push(st, self.g.Start())

    /* iterative DFS, the graphs may be deep after unrolling */
    for !st.Empty() {
        fr := st.Head().(*_Frame)
        if fr.next < len(fr.succ) {
            id := fr.succ[fr.next]
            fr.next++
            if _, ok := self.block[id]; !ok {
                self.push(st, id)
            }
            continue
        }

        /* all the descendants are numbered */
        fr.b.last = len(self.order)
        st.Pop()
    }
}

// classify splits the predecessors of every node into backedge sources
// (descendants in the DFS tree) and the rest. Unreachable predecessors are
// ignored.
func (self *_Finder) classify() {
    for _, b := range self.order {
        for _, v := range self.g.Preds(b.id) {
            if p, ok := self.block[v]; !ok {
                continue
            } else if b.isAncestor(p) {
                b.back = append(b.back, p)
            } else {
                b.nonback = append(b.nonback, p)
            }
        }
    }
}

// collapse finds the loops bottom-up, in reverse preorder, so that inner
// loops are found first and collapsed into their headers.
func (self *_Finder) collapse() []*Loop {
    var ret []*Loop
    for i := len(self.order) - 1; i >= 0; i-- {
        w := self.order[i]
        pool := make([]*_Block, 0, len(w.back))

        /* Step A: the nodes that close a cycle through w */
        for _, v := range w.back {
            if v == w {
                w.kind = _B_self
            } else {
                pool = appendUnique(pool, v.find())
            }
        }

        /* Step B: walk backwards from the backedge sources */
        for k := 0; k < len(pool); k++ {
            x := pool[k]
            for _, y := range x.nonback {
                yd := y.find()
                if !w.isAncestor(yd) {
                    w.kind = _B_irreducible
                    w.nonback = appendUnique(w.nonback, yd)
                } else if yd != w {
                    pool = appendUnique(pool, yd)
                }
            }
        }

        /* no loop headed by w */
        if len(pool) == 0 && w.kind != _B_self {
            continue
        }

        /* mark reducible headers */
        if w.kind == _B_nonheader {
            w.kind = _B_reducible
        }

        /* Step C: collapse the body into the header */
        l := &Loop {
            Head          : w.id,
            IsIrreducible : w.kind == _B_irreducible,
        }

        /* the header itself is a member */
        w.loop = l
        w.direct = []ir.ID { w.id }

        /* nested loops become children, plain nodes become members */
        for _, v := range pool {
            v.union = w
            if v.loop != nil {
                v.loop.Parent = l
            } else {
                w.direct = append(w.direct, v.id)
            }
        }

        /* add to the list of loops */
        ret = append(ret, l)
    }
    return ret
}

func appendUnique(a []*_Block, b *_Block) []*_Block {
    for _, v := range a {
        if v == b {
            return a
        }
    }
    return append(a, b)
}

// Build discovers the loops of g. Irreducible loops are kept and flagged.
func Build(g *ir.Graph) *Forest {
    fd := &_Finder {
        g     : g,
        block : make(map[ir.ID]*_Block),
    }

    /* number, classify and collapse */
    fd.search()
    fd.classify()
    loops := fd.collapse()

    /* the direct members of every loop */
    direct := make(map[*Loop][]ir.ID, len(loops))
    for _, b := range fd.order {
        if b.loop != nil {
            direct[b.loop] = b.direct
        }
    }

    /* link the children */
    ret := &Forest {
        G       : g,
        loopOf  : make(map[ir.ID]*Loop),
        version : g.Version(),
    }
    for _, l := range loops {
        if l.Parent == nil {
            ret.Roots = append(ret.Roots, l)
        } else {
            l.Parent.Children = append(l.Parent.Children, l)
        }
    }

    /* keep a deterministic order */
    byHead := func(a *Loop, b *Loop) bool { return a.Head < b.Head }
    slices.SortFunc(ret.Roots, byHead)

    /* fill the loops outside-in, then list them inside-out */
    for _, l := range ret.Roots {
        ret.fill(l, 1, direct, byHead)
    }
    return ret
}

func (self *Forest) fill(l *Loop, depth int, direct map[*Loop][]ir.ID, less func(*Loop, *Loop) bool) {
    l.Depth = depth
    l.body = make(map[ir.ID]bool)
    slices.SortFunc(l.Children, less)

    /* the direct members */
    for _, v := range direct[l] {
        l.body[v] = true
        self.loopOf[v] = l
    }

    /* nested loops, which also own their members */
    for _, c := range l.Children {
        self.fill(c, depth + 1, direct, less)
        for v := range c.body {
            l.body[v] = true
        }
    }

    /* post-order: children first */
    self.Loops = append(self.Loops, l)
    self.describe(l)
}

// describe derives the sorted member list, the backedge sources, the entries
// and the exits of a loop from its member set.
func (self *Forest) describe(l *Loop) {
    g := self.G
    l.Body = make([]ir.ID, 0, len(l.body))
    for v := range l.body {
        l.Body = append(l.Body, v)
    }

    /* sort the members */
    slices.Sort(l.Body)
    l.Flags = g.Node(l.Head).Flags
    l.IsCounted = g.Op(l.Head) == ir.OpCountedLoop

    /* backedge sources */
    for _, v := range g.Preds(l.Head) {
        if l.body[v] && !slices.Contains(l.Tails, v) {
            l.Tails = append(l.Tails, v)
        }
    }

    /* entries and exits */
    for _, v := range l.Body {
        for _, p := range g.Preds(v) {
            if !l.body[p] && g.Reachable(p) && !slices.Contains(l.Entries, v) {
                l.Entries = append(l.Entries, v)
            }
        }
        for _, s := range g.Succs(v) {
            if !l.body[s] && !slices.Contains(l.Exits, s) {
                l.Exits = append(l.Exits, s)
            }
        }
    }

    /* keep them sorted */
    slices.Sort(l.Exits)
}
