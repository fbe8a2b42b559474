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
    `fmt`

    `github.com/cloudwego/loopopt/ir`
    `gonum.org/v1/gonum/graph`
    `gonum.org/v1/gonum/graph/simple`
    `gonum.org/v1/gonum/graph/topo`
)

// ForestError reports an inconsistency between the loop forest and the
// cycles of the control flow graph.
type ForestError struct {
    Node   ir.ID
    Reason string
}

func (self *ForestError) Error() string {
    return fmt.Sprintf("ForestError(%s): %s", self.Node, self.Reason)
}

// Verify cross-checks the forest against the strongly connected components
// of the control flow graph, computed independently with gonum: every cycle
// must lie within a single loop, and loops must nest properly.
func (self *Forest) Verify() error {
    g := self.G
    dg := simple.NewDirectedGraph()
    selfLoop := make(map[ir.ID]bool)

    /* the reachable control nodes */
    dt := g.Dominators()
    for _, id := range g.Live() {
        if dt.Contains(id) {
            dg.AddNode(simple.Node(id))
        }
    }

    /* the control edges, self loops are tracked separately */
    for _, id := range g.Live() {
        if dt.Contains(id) {
            for _, v := range g.Succs(id) {
                if v == id {
                    selfLoop[id] = true
                } else {
                    dg.SetEdge(dg.NewEdge(simple.Node(id), simple.Node(v)))
                }
            }
        }
    }

    /* every cycle is covered by some loop */
    for _, scc := range topo.TarjanSCC(dg) {
        if len(scc) == 1 && !selfLoop[ir.ID(scc[0].ID())] {
            continue
        }

        /* find the innermost loop containing the whole component */
        id := ir.ID(scc[0].ID())
        l := self.LoopOf(id)
        for l != nil && !coversAll(l, scc) {
            l = l.Parent
        }

        /* no loop contains this cycle */
        if l == nil {
            return &ForestError { Node: id, Reason: fmt.Sprintf("cycle of %d nodes is not covered by any loop", len(scc)) }
        }
    }

    /* nesting */
    for _, l := range self.Loops {
        if !l.body[l.Head] {
            return &ForestError { Node: l.Head, Reason: "loop head is not a member of its loop" }
        }
        if l.Parent != nil {
            for v := range l.body {
                if !l.Parent.body[v] {
                    return &ForestError { Node: v, Reason: fmt.Sprintf("member of %s is not a member of the parent loop", l.Head) }
                }
            }
        }
    }
    return nil
}

func coversAll(l *Loop, scc []graph.Node) bool {
    for _, v := range scc {
        if !l.body[ir.ID(v.ID())] {
            return false
        }
    }
    return true
}
