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

// StripMine nests a counted loop into an outer loop, so that the inner loop
// runs at most StripMineIter iterations between two safepoints. The inner
// limit is min(limit, iv + StripMineIter*stride) (max when counting down),
// computed in 64 bits.
func StripMine(ctx *Context, l *looptree.Loop, d *counted.Descriptor) error {
    g := ctx.G
    switch {
        case d.Kind != ir.KindInt                : return notApplicable("%s loops are not strip mined", d.Kind)
        case d.TestOnPhi || d.Wide || d.Unsigned : return notApplicable("exit test is not canonical")
        case len(d.Checks) != 0                  : return notApplicable("the IV may overflow")
    }

    /* close the loop */
    sh, err := closeLoop(g, l)
    if err != nil {
        return err
    }

    /* the outer loop */
    at := g.Node(sh.Head).In[0]
    oh := g.AddNode(ir.OpLoop, ir.TypeControl, at)
    phis, entry, back := looptree.HeadValues(g, sh.Head)

    /* carrying every value of the inner loop */
    iv := ir.ID(0)
    ops := make([]ir.ID, len(phis))
    for i, p := range phis {
        ops[i] = g.AddNode(ir.OpPhi, ir.TypeOf(g.Node(p).Type.Kind), oh, entry[i])
        g.SetInput(p, 1, ops[i])
        if p == d.Phi {
            iv = ops[i]
        }
    }

    /* the inner loop runs a bounded number of iterations */
    w := _Long { g }
    op := ir.OpMin
    step := w.add(w.of(iv), int64(ctx.Opts.StripMineIter) * d.Stride)

    /* counting down */
    if !d.Up() {
        op = ir.OpMax
    }

    /* the inner exit test */
    lim := g.AddNode(ir.OpConvL2I, ir.TypeInt, w.op(op, w.of(d.Limit), step))
    cmp := g.Node(d.Cmp)
    in := append([]ir.ID(nil), cmp.In...)

    /* compare against the inner limit */
    for i, v := range in {
        if v == d.Limit {
            in[i] = lim
        }
    }

    /* replace the exit test */
    g.SetInput(sh.Head, 0, oh)
    g.SetInput(d.ExitIf, 1, g.AddAux(ir.OpCmp, ir.TypeBool, cmp.Aux, in...))

    /* leaving the inner loop passes a safepoint, then continues the outer loop while in range */
    k := sh.ExitIndex(g)
    sp := g.AddNode(ir.OpSafepoint, ir.TypeControl, sh.Exit)
    oi := g.AddNode(ir.OpIf, ir.TypeControl, sp, w.cmp(d.Cond, d.Incr, d.Limit))
    ot := g.AddNode(ir.OpIfTrue, ir.TypeControl, oi)
    of := g.AddNode(ir.OpIfFalse, ir.TypeControl, oi)
    g.SetInput(sh.Region, k, of)

    /* the outer backedge */
    g.AddInput(oh, ot)
    for i := range phis {
        g.AddInput(ops[i], back[i])
    }

    /* update the loop flags */
    addFlags(g, sh.Head, ir.LoopStripMined)
    g.SetFlags(oh, ir.LoopStripOuter)
    return nil
}
