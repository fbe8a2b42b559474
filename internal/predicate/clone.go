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
    `github.com/pkg/errors`
)

// CloneForLoopCopy copies the active predicates of loop src to the entry of
// loop dst, which was made from src. phiMap maps the head phis of src to the
// ones of dst; src and dst may be the same loop when its entry changed.
// Tests with OpaqueInit nodes are re-initialized with the entry value of the
// new loop. The source predicates become Cloned. Returns the mapping from
// the source predicate nodes to the new ones.
func (self *Manager) CloneForLoopCopy(src ir.ID, dst ir.ID, phiMap map[ir.ID]ir.ID) (map[ir.ID]ir.ID, error) {
    ret, err := self.cloneTo(src, []_Target {{ dst, phiMap }})
    if err != nil {
        return nil, err
    } else {
        return ret[0], nil
    }
}

// CloneForLoopSplit gives both src, at its current entry, and its copy dst
// a set of the active predicates of src. The source predicates become
// Cloned and keep guarding whatever runs between them and the two loops.
func (self *Manager) CloneForLoopSplit(src ir.ID, dst ir.ID, phiMap map[ir.ID]ir.ID) error {
    ids := make(map[ir.ID]ir.ID, len(phiMap))
    for p := range phiMap {
        ids[p] = p
    }

    /* clone to both loops at once */
    _, err := self.cloneTo(src, []_Target {{ dst, phiMap }, { src, ids }})
    return err
}

type _Target struct {
    head ir.ID
    phis map[ir.ID]ir.ID
}

func (self *Manager) cloneTo(src ir.ID, dsts []_Target) ([]map[ir.ID]ir.ID, error) {
    g := self.g
    v := self.vers[src]
    ret := make([]map[ir.ID]ir.ID, len(dsts))

    /* nothing to do if the loop was never predicated */
    for i := range ret {
        ret[i] = make(map[ir.ID]ir.ID)
    }
    if v == nil || g.Node(v.uct) == nil {
        return ret, nil
    }

    /* copies share the slow version of the source */
    v.prune(g)
    for _, t := range dsts {
        if t.head != src {
            nv := &_Version {
                uct  : v.uct,
                slow : v.slow,
                phis : make(map[ir.ID]ir.ID, len(v.phis)),
            }
            for p, u := range v.phis {
                if d, ok := t.phis[p]; ok {
                    nv.phis[d] = u
                }
            }
            self.vers[t.head] = nv
        }
    }

    /* the list grows while cloning */
    var list []*Predicate
    for _, p := range self.preds {
        if p.Loop == src && p.State == Active {
            list = append(list, p)
        }
    }

    /* clone in the original order */
    for _, p := range list {
        for i, t := range dsts {
            iv := t.phis[p.IV]
            test := p.Test

            /* re-initialize the test for the new loop */
            if p.IV != 0 && iv != 0 {
                test = reinit(g, p.Test, g.Node(iv).In[1], make(map[ir.ID]ir.ID))
            }

            /* must be computable at the new entry */
            if at := g.Node(t.head).In[0]; !g.Available(test, at) {
                return nil, errors.Wrapf(ErrNotDominated, "cloned %s at %s", test, at)
            }

            /* place the clone */
            np, err := self.place(p.Kind, test, t.head, self.vers[t.head], iv)
            if err != nil {
                return nil, err
            }

            /* remember the mapping */
            ret[i][p.Node] = np.Node
        }

        /* the source is superseded */
        p.State = Cloned
    }
    return ret, nil
}

// reinit copies the floating part of a test that leads to OpaqueInit nodes,
// with the opaque nodes taking init instead.
func reinit(g *ir.Graph, id ir.ID, init ir.ID, memo map[ir.ID]ir.ID) ir.ID {
    if r, ok := memo[id]; ok {
        return r
    }

    /* only floating nodes are copied */
    ret := id
    p := g.Node(id)

    /* rebuild the node if any input changed */
    switch {
        case p.Op == ir.OpOpaqueInit: {
            ret = g.AddNode(ir.OpOpaqueInit, ir.TypeOf(p.Type.Kind), init)
        }
        case p.Op.IsFloating(): {
            in := make([]ir.ID, len(p.In))
            changed := false
            for i, v := range p.In {
                in[i] = reinit(g, v, init, memo)
                changed = changed || in[i] != v
            }
            if changed {
                ret = g.AddAux(p.Op, ir.TypeOf(p.Type.Kind), p.Aux, in...)
            }
        }
    }

    /* memorize the result */
    memo[id] = ret
    return ret
}
