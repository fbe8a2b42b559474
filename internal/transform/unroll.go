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

package transform

import (
    `github.com/cloudwego/loopopt/internal/counted`
    `github.com/cloudwego/loopopt/internal/looptree`
    `github.com/cloudwego/loopopt/ir`
)

// Unroll builds a main loop running k copies of the body per iteration,
// followed by the original loop as the post loop.
//
//     E -> if (init cc L') -> main loop -> if (iv cc limit) -> J -> post loop -> R
//            \                                  \
//             `-------------------------------- J     `-> R
//
// where L' = clamp(limit - (k-1)*stride) is computed in 64 bits, so that
// every round of the main loop runs k whole iterations of the original.
func Unroll(ctx *Context, l *looptree.Loop, d *counted.Descriptor, k int) error {
    g := ctx.G
    switch {
        case k < 2                               : return notApplicable("unroll factor %d", k)
        case d.Kind != ir.KindInt                : return notApplicable("%s loops are not unrolled", d.Kind)
        case d.TestOnPhi || d.Wide || d.Unsigned : return notApplicable("exit test is not canonical")
        case len(d.Checks) != 0                  : return notApplicable("the IV may overflow")
    }

    /* an inclusive test against a saturated limit would pass once too often */
    if saturates(g, d, k) {
        return notApplicable("the main loop limit of %s may saturate", d.Head)
    }

    /* close the loop */
    sh, err := closeLoop(g, l)
    if err != nil {
        return err
    }

    /* bounded code growth */
    if sh.Size() > ctx.Opts.PeelLimit {
        return notApplicable("%d nodes exceed the unrolling limit", sh.Size())
    }

    /* k copies of the loop */
    copies := make([]*looptree.Copy, k)
    for i := range copies {
        copies[i] = looptree.CloneLoop(g, sh)
    }

    /* the first copy is the main loop, the last one closes it */
    phis, entry, _ := looptree.HeadValues(g, sh.Head)
    main, last := copies[0], copies[k - 1]

    /* every copy continues into the next one */
    for i := 1; i < k; i++ {
        vals := make([]ir.ID, len(phis))
        for j, p := range phis {
            vals[j] = copies[i - 1].Value(g.Node(p).In[2])
        }
        looptree.Splice(g, copies[i].Head, copies[i - 1].Back, vals)
    }

    /* and the last one loops back */
    g.SetInput(main.Head, 1, last.Back)
    for _, p := range phis {
        g.SetInput(main.Value(p), 2, last.Value(g.Node(p).In[2]))
    }

    /* the intermediate exit tests always pass */
    for _, c := range copies[:k - 1] {
        g.FoldBranch(c.Map[d.ExitIf], backTaken(g, c.Back))
    }

    /* the main loop stops before fewer than k iterations remain */
    w := _Long { g }
    lm := w.clamp(w.add(w.of(d.Limit), -int64(k - 1) * d.Stride), d.Kind)
    lc := last.Map[d.Cmp]
    for i, v := range g.Node(lc).In {
        if v == d.Limit {
            g.SetInput(lc, i, lm)
        }
    }

    /* and is only entered for at least one round */
    at := g.Node(sh.Head).In[0]
    mg := g.AddNode(ir.OpIf, ir.TypeControl, at, w.cmp(d.Cond, d.Init, lm))
    mt := g.AddNode(ir.OpIfTrue, ir.TypeControl, mg)
    mf := g.AddNode(ir.OpIfFalse, ir.TypeControl, mg)
    g.SetInput(main.Head, 0, mt)

    /* the post loop runs only if something remains after the main loop */
    pg := g.AddNode(ir.OpIf, ir.TypeControl, last.Exit, w.cmp(d.Cond, last.Value(d.Incr), d.Limit))
    pt := g.AddNode(ir.OpIfTrue, ir.TypeControl, pg)
    pf := g.AddNode(ir.OpIfFalse, ir.TypeControl, pg)
    jr := g.AddNode(ir.OpRegion, ir.TypeControl, mf, pt)

    /* and starts from where the main loop left off */
    for i, p := range phis {
        v := g.AddNode(ir.OpPhi, ir.TypeOf(g.Node(p).Type.Kind), jr, entry[i], last.Value(g.Node(p).In[2]))
        g.SetInput(p, 1, v)
    }

    /* both loops leave through the exit region */
    g.SetInput(sh.Head, 0, jr)
    looptree.AttachAt(g, sh, last, pf)

    /* update the loop flags */
    g.SetFlags(main.Head, (g.Node(main.Head).Flags | ir.LoopMain).WithUnrollFactor(k))
    addFlags(g, sh.Head, ir.LoopPost)
    return ctx.clonePredicates(sh.Head, main.Head, copyPhis(g, sh.Head, main))
}

func saturates(g *ir.Graph, d *counted.Descriptor, k int) bool {
    t := g.Node(d.Limit).Type
    adj := int64(k - 1) * d.Stride

    /* only inclusive tests can pass at the saturated bound */
    switch d.Cond {
        case ir.CondLE : return t.IsEmpty() || t.Lo - adj < d.Kind.Min()
        case ir.CondGE : return t.IsEmpty() || t.Hi - adj > d.Kind.Max()
        default        : return false
    }
}
