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
)

// RemoveDeadNodes removes every node that is neither reachable from Start
// along control edges nor used by a reachable node, and returns the number
// of nodes removed. A reachable node depending on an unreachable control
// node is a broken graph, and panics with a *BadGraphError.
func RemoveDeadNodes(g *Graph) int {
    ctrl := make(map[ID]bool)
    live := make(map[ID]bool)

    /* Phase 1: Mark all the reachable control nodes */
    q := lane.NewQueue()
    q.Enqueue(g.start)
    ctrl[g.start] = true

    /* breadth-first along the control successors */
    for !q.Empty() {
        id := q.Dequeue().(ID)
        for _, v := range g.Succs(id) {
            if !ctrl[v] {
                ctrl[v] = true
                q.Enqueue(v)
            }
        }
    }

    /* Phase 2: Drop the dead inputs of reachable regions */
    for _, id := range g.Live() {
        if p := g.nodes[id]; ctrl[id] && p.Op.IsRegion() {
            g.pruneRegion(id, ctrl)
        }
    }

    /* Phase 3: Mark all the values used by reachable nodes */
    for id := range ctrl {
        live[id] = true
        q.Enqueue(id)
    }

    /* propagate liveness along the inputs */
    for !q.Empty() {
        id := q.Dequeue().(ID)
        for _, v := range g.nodes[id].In {
            p := g.must(v)

            /* a live node may not depend on dead control */
            if p.Op.IsControl() && !ctrl[v] {
                panic(&BadGraphError { Node: id, Reason: "bad graph detected: live node depends on dead control " + v.String() })
            }

            /* mark as live */
            if !live[v] {
                live[v] = true
                q.Enqueue(v)
            }
        }
    }

    /* Phase 4: Remove everything else */
    n := 0
    for _, id := range g.Live() {
        if !live[id] {
            g.kill(id)
            n++
        }
    }
    return n
}

func (self *Graph) pruneRegion(id ID, ctrl map[ID]bool) {
    p := self.nodes[id]
    phi := self.Phis(id)

    /* remove the unreachable predecessors, backwards to keep the indices */
    for i := len(p.In) - 1; i >= 0; i-- {
        if !ctrl[p.In[i]] {
            for _, v := range phi {
                self.RemoveInput(v, i + 1)
            }
            self.RemoveInput(id, i)
        }
    }

    /* a loop that lost its backedge is a plain region */
    if p.Op.IsLoop() && len(p.In) == 1 {
        p.Op = OpRegion
        p.Flags = 0
    }
}
