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
    `github.com/bytedance/gopkg/util/xxhash3`
)

// GVN commons structurally identical floating data nodes, constants and
// parameters. The node with the smallest ID survives. Returns the number of
// nodes replaced.
func GVN(g *Graph) int {
    n := 0
    buf := make([]byte, 0, 64)

    /* repeat until no more changes, replacing inputs changes the keys of users */
    for {
        done := true
        tab := make(map[uint64][]ID)

        /* scan all the nodes in order */
        for _, id := range g.Live() {
            p := g.nodes[id]
            if p == nil || !numberable(p) {
                continue
            }

            /* hash the node */
            buf = valueKey(buf[:0], p)
            key := xxhash3.Hash(buf)

            /* find an identical node */
            rep := ID(0)
            for _, v := range tab[key] {
                if g.sameValue(g.nodes[v], p) {
                    rep = v
                    break
                }
            }

            /* no such node, add to table */
            if rep == 0 {
                tab[key] = append(tab[key], id)
                continue
            }

            /* replace with the existing one */
            if g.NumUses(id) != 0 {
                n++
                done = false
                g.ReplaceAllUses(id, rep)
            }
        }

        /* no more changes */
        if done {
            return n
        }
    }
}

func numberable(p *Node) bool {
    switch {
        case p.Op == OpOpaqueInit              : return false
        case p.Op == OpParam || p.Op.IsConst() : return true
        default                                : return p.Op.IsFloating()
    }
}

func operands(p *Node) (ID, ID) {
    if len(p.In) < 2 {
        return p.In[0], 0
    } else if p.Op.IsCommutative() && p.In[0] > p.In[1] {
        return p.In[1], p.In[0]
    } else {
        return p.In[0], p.In[1]
    }
}

func valueKey(buf []byte, p *Node) []byte {
    buf = append(buf, byte(p.Op), byte(p.Type.Kind), byte(p.Bound.Kind))
    buf = appendu64(buf, uint64(p.Aux))

    /* inputs, normalized for commutative ops */
    if len(p.In) != 0 {
        a, b := operands(p)
        buf = appendu64(buf, uint64(uint32(a)) | uint64(uint32(b)) << 32)
    }
    return buf
}

func (self *Graph) sameValue(a *Node, b *Node) bool {
    if a.Op != b.Op || a.Type.Kind != b.Type.Kind || a.Aux != b.Aux || a.Bound != b.Bound || len(a.In) != len(b.In) {
        return false
    }

    /* compare the inputs */
    if len(a.In) == 0 {
        return true
    }

    /* normalized operands */
    a0, a1 := operands(a)
    b0, b1 := operands(b)
    return a0 == b0 && a1 == b1
}

func appendu64(buf []byte, v uint64) []byte {
    for i := 0; i < 8; i++ {
        buf = append(buf, byte(v >> (i * 8)))
    }
    return buf
}
