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
    `fmt`
    `html`
    `strings`

    `github.com/oleiade/lane`
)

// Dot renders the reachable part of the graph in Graphviz format. Control
// edges are solid, data edges are dashed.
func Dot(g *Graph) string {
    q := lane.NewQueue()
    n := map[ID]bool { g.start: true }
    buf := []string {
        "digraph G {",
        `    graph [ fontname = "Fira Code" ]`,
        `    node [ fontname = "Fira Code" fontsize = "12" ]`,
        `    edge [ fontname = "Fira Code" fontsize = "10" ]`,
    }

    /* walk everything reachable from control, along both directions of data */
    for q.Enqueue(g.start); !q.Empty(); {
        id := q.Dequeue().(ID)
        p := g.nodes[id]
        buf = append(buf, fmt.Sprintf(`    n%d [ label = "%s" shape = "%s" ]`, id, html.EscapeString(p.String()), dotShape(p)))

        /* control successors */
        if p.Op.IsControl() {
            for _, v := range g.Succs(id) {
                if !n[v] {
                    n[v] = true
                    q.Enqueue(v)
                }
            }
        }

        /* inputs */
        for i, v := range p.In {
            style := "dashed"
            if g.nodes[v].Op.IsControl() && (p.Op.IsControl() && (i == 0 || p.Op.IsRegion()) || (i == 0 && (p.Op == OpPhi || p.Op.IsPinned()))) {
                style = "solid"
            }

            /* add the edge */
            buf = append(buf, fmt.Sprintf(`    n%d -> n%d [ label = "%d" style = "%s" ]`, v, id, i, style))
            if !n[v] {
                n[v] = true
                q.Enqueue(v)
            }
        }
    }

    /* close the graph */
    buf = append(buf, "}")
    return strings.Join(buf, "\n")
}

func dotShape(p *Node) string {
    switch {
        case p.Op.IsRegion()  : return "house"
        case p.Op.IsBranch()  : return "diamond"
        case p.Op.IsSink()    : return "doublecircle"
        case p.Op.IsControl() : return "box"
        default               : return "ellipse"
    }
}
