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

// Beautify puts every reducible loop into the canonical two-input shape: the
// head becomes a Loop node whose first input is the only entry and whose
// second input is the only backedge. Several entries or several backedges are
// merged by new Regions, with phis merging the corresponding values. Loop
// nodes that no longer head a reducible loop are demoted to plain Regions.
// Reports whether the graph changed, in which case the forest is stale.
func Beautify(g *ir.Graph, f *Forest) bool {
    ret := false
    heads := make(map[ir.ID]bool, len(f.Loops))

    /* reshape the reducible loops */
    for _, l := range f.Loops {
        if !l.IsIrreducible {
            heads[l.Head] = true
            ret = beautify(g, l) || ret
        }
    }

    /* stray loop nodes */
    for _, id := range g.Live() {
        if g.Op(id).IsLoop() && !heads[id] {
            g.Retag(id, ir.OpRegion)
            g.SetFlags(id, 0)
            ret = true
        }
    }
    return ret
}

func beautify(g *ir.Graph, l *Loop) bool {
    var ent []int
    var back []int

    /* split the predecessors */
    h := g.Node(l.Head)
    for i, v := range h.In {
        if l.body[v] {
            back = append(back, i)
        } else {
            ent = append(ent, i)
        }
    }

    /* already in shape */
    if h.Op.IsLoop() && len(ent) == 1 && len(back) == 1 && ent[0] == 0 {
        return false
    }

    /* merge each side */
    phis := g.Phis(h.Id)
    ec, ev := merge(g, h, phis, ent)
    bc, bv := merge(g, h, phis, back)

    /* rewire the phis */
    for i, p := range phis {
        for k := len(g.Node(p).In) - 1; k >= 1; k-- {
            g.RemoveInput(p, k)
        }
        g.AddInput(p, ev[i])
        g.AddInput(p, bv[i])
    }

    /* rewire the head */
    for k := len(h.In) - 1; k >= 0; k-- {
        g.RemoveInput(h.Id, k)
    }

    /* the head is a two-input loop now */
    g.AddInput(h.Id, ec)
    g.AddInput(h.Id, bc)
    if !h.Op.IsLoop() {
        g.Retag(h.Id, ir.OpLoop)
    }
    return true
}

// merge returns the single control node and values flowing in through the
// given inputs of a region, creating a Region and phis when there are more
// than one of them.
func merge(g *ir.Graph, h *ir.Node, phis []ir.ID, idx []int) (ir.ID, []ir.ID) {
    vals := make([]ir.ID, len(phis))
    if len(idx) == 1 {
        for i, p := range phis {
            vals[i] = g.Node(p).In[idx[0] + 1]
        }
        return h.In[idx[0]], vals
    }

    /* the merged predecessors */
    preds := make([]ir.ID, len(idx))
    for i, k := range idx {
        preds[i] = h.In[k]
    }

    /* the merging region and its phis */
    r := g.AddNode(ir.OpRegion, ir.TypeControl, preds...)
    for i, p := range phis {
        q := g.Node(p)
        in := []ir.ID { r }
        for _, k := range idx {
            in = append(in, q.In[k + 1])
        }
        vals[i] = g.AddNode(ir.OpPhi, ir.TypeOf(q.Type.Kind), in...)
    }
    return r, vals
}
