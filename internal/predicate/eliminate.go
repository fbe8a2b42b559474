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

package predicate

import (
    `github.com/cloudwego/loopopt/ir`
)

// EliminateDominated removes the checks (If, RangeCheck and Predicate) whose
// condition is already decided by a dominating check on the same condition
// node. Nodes pinned to the surviving side are re-pinned to the projection of
// the dominating check. Returns the number of removed checks.
func EliminateDominated(g *ir.Graph) int {
    n := 0
    for _, id := range g.Live() {
        if p := g.Node(id); p != nil && p.Op.IsBranch() && len(p.In) == 2 && g.Reachable(id) {
            if d, taken, ok := dominating(g, p); ok && g.Proj(id, ir.OpIfTrue) != 0 && g.Proj(id, ir.OpIfFalse) != 0 {
                fold(g, p.Id, d, taken)
                n++
            }
        }
    }
    return n
}

// dominating walks up the dominator tree looking for a projection of another
// branch on the same condition.
func dominating(g *ir.Graph, p *ir.Node) (ir.ID, bool, bool) {
    dt := g.Dominators()
    for c := p.In[0]; c != 0; c = dt.Idom(c) {
        if q := g.Node(c); q.Op.IsProj() {
            if b := g.Node(q.In[0]); b.Id != p.Id && len(b.In) == 2 && b.In[1] == p.In[1] {
                return c, q.Op == ir.OpIfTrue, true
            }
        }
    }
    return 0, false, false
}

func fold(g *ir.Graph, id ir.ID, dom ir.ID, taken bool) {
    keep := g.Proj(id, ir.OpIfFalse)
    if taken {
        keep = g.Proj(id, ir.OpIfTrue)
    }

    /* nodes depending on the check now depend on the dominating one */
    for _, u := range g.Uses(keep) {
        if q := g.Node(u); !q.Op.IsControl() && q.Op.IsPinned() && q.In[0] == keep {
            g.SetInput(u, 0, dom)
        }
    }

    /* the branch always goes the same way */
    g.FoldBranch(id, taken)
}
