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

const (
    _MaxSimplifyRounds = 64
)

// Simplify folds constant values and branches, collapses regions with a
// single predecessor and removes redundant phis, until nothing changes.
// Types are recomputed before every round. Reports whether anything changed.
func Simplify(g *Graph) bool {
    ret := false
    for i := 0; i < _MaxSimplifyRounds; i++ {
        RemoveDeadNodes(g)
        ComputeTypes(g)

        /* stop when nothing changes */
        if !g.simplifyOnce() {
            break
        }

        /* something changed */
        ret = true
    }

    /* clean up the garbage */
    RemoveDeadNodes(g)
    return ret
}

func (self *Graph) simplifyOnce() bool {
    changed := false
    for _, id := range self.Live() {
        if p := self.Node(id); p != nil && self.simplifyNode(p) {
            changed = true
        }
    }
    return changed
}

func (self *Graph) simplifyNode(p *Node) bool {
    switch {
        case p.Op.IsBranch()                          : return self.foldBranch(p)
        case p.Op.IsRegion()                          : return self.foldRegion(p)
        case p.Op == OpPhi                            : return self.foldPhi(p)
        case p.Op == OpOpaqueInit                     : return false
        case p.Op.IsFloating() || p.Op == OpCastII    : return self.foldValue(p)
        default                                       : return false
    }
}

func (self *Graph) foldValue(p *Node) bool {
    v, ok := p.Type.Const()
    if !ok || self.NumUses(p.Id) == 0 {
        return false
    }

    /* replace with a constant */
    self.ReplaceAllUses(p.Id, self.Const(p.Type.Kind, v))
    return true
}

func (self *Graph) foldPhi(p *Node) bool {
    if len(p.In) < 2 || self.NumUses(p.Id) == 0 || self.uncommon(p.In[0]) {
        return false
    }

    /* all inputs other than the phi itself must be the same value */
    val := ID(0)
    for _, v := range p.In[1:] {
        if v != p.Id && v != val {
            if val != 0 {
                return false
            }
            val = v
        }
    }

    /* a phi merging only itself is meaningless */
    if val == 0 {
        return false
    }

    /* replace with the value */
    self.ReplaceAllUses(p.Id, val)
    return true
}

// FoldBranch makes a branch unconditionally take one side. The taken
// projection is bypassed, and the branch is detached so that the other side
// becomes unreachable.
func (self *Graph) FoldBranch(id ID, taken bool) {
    p := self.must(id)
    keep := self.Proj(id, OpIfFalse)

    /* select the projection to keep */
    if taken {
        keep = self.Proj(id, OpIfTrue)
    }

    /* bypass the kept projection, the branch dies with its other projection */
    ctrl := p.In[0]
    self.ReplaceAllUses(keep, ctrl)
    self.Detach(keep)
    self.Detach(id)
}

func (self *Graph) foldBranch(p *Node) bool {
    if c := self.nodes[p.In[1]]; c.Op != OpConstI {
        return false
    } else {
        self.FoldBranch(p.Id, c.Aux != 0)
        return true
    }
}

func (self *Graph) foldRegion(p *Node) bool {
    if len(p.In) != 1 || p.In[0] == p.Id || p.Flags.Has(LoopUncommon) || !self.Reachable(p.Id) {
        return false
    }

    /* phis of a single-entry region are their only value */
    for _, v := range self.Phis(p.Id) {
        self.ReplaceAllUses(v, self.nodes[v].In[1])
        self.Detach(v)
    }

    /* bypass the region */
    ctrl := p.In[0]
    self.ReplaceAllUses(p.Id, ctrl)
    self.Detach(p.Id)
    return true
}

func (self *Graph) uncommon(region ID) bool {
    p := self.nodes[region]
    return p != nil && p.Op.IsRegion() && p.Flags.Has(LoopUncommon)
}
