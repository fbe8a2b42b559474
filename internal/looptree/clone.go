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
)

// Copy is a duplicate of a closed loop. The copy starts with the same entry
// as the original and its exit projection is not connected to anything.
type Copy struct {
    Map  map[ir.ID]ir.ID
    Head ir.ID
    Back ir.ID
    Exit ir.ID
}

// Value maps a value of the original loop to the copy. Values defined
// outside the loop are shared.
func (self *Copy) Value(v ir.ID) ir.ID {
    if r, ok := self.Map[v]; ok {
        return r
    } else {
        return v
    }
}

// CloneLoop duplicates every member of a closed loop.
func CloneLoop(g *ir.Graph, sh *Shape) *Copy {
    ret := &Copy {
        Map: make(map[ir.ID]ir.ID, len(sh.Order)),
    }

    /* Phase 1: create the nodes with the original inputs */
    for _, v := range sh.Order {
        p := g.Node(v)
        id := g.AddAux(p.Op, p.Type, p.Aux, p.In...)
        ret.Map[v] = id

        /* the declared range and the loop flags go along */
        if p.Bound.Kind != ir.KindNone {
            g.SetBound(id, p.Bound)
        }
        if p.Flags != 0 {
            g.SetFlags(id, p.Flags)
        }
    }

    /* Phase 2: redirect the inputs to the copies */
    for _, v := range sh.Order {
        id := ret.Map[v]
        for i, x := range g.Node(id).In {
            if r, ok := ret.Map[x]; ok {
                g.SetInput(id, i, r)
            }
        }
    }

    /* the interesting nodes of the copy */
    ret.Head = ret.Map[sh.Head]
    ret.Back = ret.Map[sh.Back]
    ret.Exit = ret.Map[sh.Exit]
    return ret
}

// AttachExit connects the exit of a copy to the exit region of the original
// loop, extending the exit phis with the values of the copy.
func AttachExit(g *ir.Graph, sh *Shape, c *Copy) {
    AttachAt(g, sh, c, c.Exit)
}

// AttachAt connects ctrl to the exit region of the original loop. The exit
// phis take the values the copy holds when it leaves, so ctrl must be
// dominated by the exit of the copy.
func AttachAt(g *ir.Graph, sh *Shape, c *Copy, ctrl ir.ID) {
    k := sh.ExitIndex(g)
    phis := g.Phis(sh.Region)

    /* collect the values first */
    vals := make([]ir.ID, len(phis))
    for i, p := range phis {
        vals[i] = c.Value(g.Node(p).In[k + 1])
    }

    /* extend the region */
    g.AddInput(sh.Region, ctrl)
    for i, p := range phis {
        g.AddInput(p, vals[i])
    }
}

// HeadValues returns the entry and backedge value of every phi of a loop
// head, in the order of Phis.
func HeadValues(g *ir.Graph, head ir.ID) (phis []ir.ID, entry []ir.ID, back []ir.ID) {
    phis = g.Phis(head)
    for _, p := range phis {
        q := g.Node(p)
        entry = append(entry, q.In[1])
        back = append(back, q.In[2])
    }
    return
}

// Splice turns the head of a copy into a straight-line Region entered from
// ctrl, with every head phi taking the given value.
func Splice(g *ir.Graph, head ir.ID, ctrl ir.ID, vals []ir.ID) {
    phis := g.Phis(head)
    for i, p := range phis {
        g.RemoveInput(p, 2)
        g.SetInput(p, 1, vals[i])
    }

    /* drop the backedge */
    g.RemoveInput(head, 1)
    g.SetInput(head, 0, ctrl)
    g.Retag(head, ir.OpRegion)
    g.SetFlags(head, 0)
}
