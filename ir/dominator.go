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

/** This is an implementation of the Lengauer-Tarjan algorithm described in
 *  https://doi.org/10.1145%2F357062.357071
 */

package ir

import (
    `github.com/oleiade/lane`
)

type _LtNode struct {
    semi     int
    node     ID
    dom      *_LtNode
    label    *_LtNode
    parent   *_LtNode
    ancestor *_LtNode
    pred     []*_LtNode
    bucket   map[*_LtNode]struct{}
}

type _LengauerTarjan struct {
    g      *Graph
    nodes  []*_LtNode
    vertex map[ID]int
}

func newLengauerTarjan(g *Graph) *_LengauerTarjan {
    return &_LengauerTarjan {
        g      : g,
        vertex : make(map[ID]int),
    }
}

func (self *_LengauerTarjan) dfs(id ID) {
    i := len(self.nodes)
    self.vertex[id] = i

    /* create a new node */
    p := &_LtNode {
        semi   : i,
        node   : id,
        bucket : make(map[*_LtNode]struct{}),
    }

    /* add to node list */
    p.label = p
    self.nodes = append(self.nodes, p)

    /* traverse the control successors */
    for _, w := range self.g.Succs(id) {
        idx, ok := self.vertex[w]

        /* not visited yet */
        if !ok {
            self.dfs(w)
            idx = self.vertex[w]
            self.nodes[idx].parent = p
        }

        /* add predecessors */
        q := self.nodes[idx]
        q.pred = append(q.pred, p)
    }
}

func (self *_LengauerTarjan) eval(p *_LtNode) *_LtNode {
    if p.ancestor == nil {
        return p
    } else {
        self.compress(p)
        return p.label
    }
}

func (self *_LengauerTarjan) link(p *_LtNode, q *_LtNode) {
    q.ancestor = p
}

func (self *_LengauerTarjan) compress(p *_LtNode) {
    if p.ancestor.ancestor != nil {
        self.compress(p.ancestor)
        if p.label.semi > p.ancestor.label.semi { p.label = p.ancestor.label }
        p.ancestor = p.ancestor.ancestor
    }
}

// DominatorTree is the dominator tree of the control nodes reachable from
// Start. Dominance queries are answered in constant time from the pre/post
// numbering of the tree.
type DominatorTree struct {
    Root        ID
    DominatedBy map[ID]ID
    DominatorOf map[ID][]ID
    Depth       map[ID]int
    pre         map[ID]int
    post        map[ID]int
}

func minInt(a int, b int) int {
    if a < b {
        return a
    } else {
        return b
    }
}

func BuildDominatorTree(g *Graph) *DominatorTree {
    domby := make(map[ID]ID)
    domof := make(map[ID][]ID)

    /* Step 1: Carry out a depth-first search of the problem graph. Number the vertices
     * from 1 to n as they are reached during the search. Initialize the variables used
     * in succeeding steps. */
    lt := newLengauerTarjan(g)
    lt.dfs(g.start)

    /* perform Step 2 and Step 3 simultaneously */
    for i := len(lt.nodes) - 1; i > 0; i-- {
        p := lt.nodes[i]
        q := (*_LtNode)(nil)

        /* Step 2: Compute the semidominators of all vertices by applying Theorem 4.
         * Carry out the computation vertex by vertex in decreasing order by number. */
        for _, v := range p.pred {
            q = lt.eval(v)
            p.semi = minInt(p.semi, q.semi)
        }

        /* link the ancestor */
        lt.link(p.parent, p)
        lt.nodes[p.semi].bucket[p] = struct{}{}

        /* Step 3: Implicitly define the immediate dominator of each vertex by applying Corollary 1 */
        for v := range p.parent.bucket {
            if q = lt.eval(v); q.semi < v.semi {
                v.dom = q
            } else {
                v.dom = p.parent
            }
        }

        /* clear the bucket */
        for v := range p.parent.bucket {
            delete(p.parent.bucket, v)
        }
    }

    /* Step 4: Explicitly define the immediate dominator of each vertex, carrying out the
     * computation vertex by vertex in increasing order by number. */
    for _, p := range lt.nodes[1:] {
        if p.dom.node != lt.nodes[p.semi].node {
            p.dom = p.dom.dom
        }
    }

    /* map the dominator relations, children are kept in DFS order */
    for _, p := range lt.nodes[1:] {
        domby[p.node] = p.dom.node
        domof[p.dom.node] = append(domof[p.dom.node], p.node)
    }

    /* construct the dominator tree */
    ret := &DominatorTree {
        Root        : g.start,
        DominatorOf : domof,
        DominatedBy : domby,
    }

    /* number the tree for constant time queries */
    ret.number()
    return ret
}

func (self *DominatorTree) number() {
    n := 0
    st := lane.NewStack()
    self.pre = map[ID]int { self.Root: 0 }
    self.post = make(map[ID]int)
    self.Depth = map[ID]int { self.Root: 0 }

    /* iterative DFS over the tree */
    for st.Push(self.Root); !st.Empty(); {
        tail := true
        this := st.Head().(ID)

        /* descend into the first unvisited child */
        for _, p := range self.DominatorOf[this] {
            if _, ok := self.pre[p]; !ok {
                n++
                tail = false
                self.pre[p] = n
                self.Depth[p] = self.Depth[this] + 1
                st.Push(p)
                break
            }
        }

        /* all children are visited */
        if tail {
            n++
            self.post[this] = n
            st.Pop()
        }
    }
}

// Contains reports whether the control node is reachable from the root.
func (self *DominatorTree) Contains(id ID) bool {
    _, ok := self.pre[id]
    return ok
}

// Idom returns the immediate dominator, or 0 for the root and unreachable
// nodes.
func (self *DominatorTree) Idom(id ID) ID {
    return self.DominatedBy[id]
}

func (self *DominatorTree) Dominates(a ID, b ID) bool {
    if a == b {
        return true
    }

    /* both must be reachable */
    pa, ok1 := self.pre[a]
    pb, ok2 := self.pre[b]

    /* interval containment */
    if !ok1 || !ok2 {
        return false
    } else {
        return pa <= pb && self.post[b] <= self.post[a]
    }
}
