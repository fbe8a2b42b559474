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

// RemoveEmpty replaces a counted loop doing nothing but counting with the
// closed form of its final IV. Predicates of the loop stay in place, they
// still guard the ranges the closed form relies on.
func RemoveEmpty(ctx *Context, l *looptree.Loop, d *counted.Descriptor) error {
    g := ctx.G
    switch {
        case d.Kind != ir.KindInt     : return notApplicable("%s loops are not removed", d.Kind)
        case d.Unsigned               : return notApplicable("unsigned exit test")
        case len(d.Checks) != 0       : return notApplicable("the IV may overflow")
        case len(g.Phis(d.Head)) != 1 : return notApplicable("the loop carries more than the IV")
    }

    /* nothing but the exit test and safepoints */
    for _, id := range l.Body {
        switch id {
            case d.Head, d.ExitIf, d.BackProj: continue
        }
        if g.Op(id) != ir.OpSafepoint {
            return notApplicable("%s is not empty", l.Head)
        }
    }

    /* close the loop */
    sh, err := closeLoop(g, l)
    if err != nil {
        return err
    }

    /* the value after the last increment */
    at := g.Node(sh.Head).In[0]
    fin, ctrl, err := finalIV(g, d, at)
    if err != nil {
        return err
    }

    /* and the value of the phi in the last iteration */
    k := sh.ExitIndex(g)
    last := g.AddNode(ir.OpSub, ir.TypeInt, fin, g.Const(ir.KindInt, d.Stride))

    /* redirect the exit values */
    for _, p := range g.Phis(sh.Region) {
        switch v := g.Node(p).In[k + 1]; {
            case v == d.Incr   : g.SetInput(p, k + 1, fin)
            case v == d.Phi    : g.SetInput(p, k + 1, last)
            case sh.Members[v] : return notApplicable("%s is used after the loop", v)
        }
    }

    /* skip the loop entirely */
    g.SetInput(sh.Region, k, ctrl)
    g.Detach(sh.Head)
    return nil
}

// finalIV computes the value of the IV increment in the last iteration, and
// the control after the computation.
func finalIV(g *ir.Graph, d *counted.Descriptor, at ir.ID) (ir.ID, ir.ID, error) {
    if n, ok := counted.Trip(g, d); ok {
        init, _ := g.Node(d.Init).Type.Const()
        return g.Const(ir.KindInt, init + n * d.Stride), at, nil
    }

    /* the trip count is only computable when the first iteration is known to run */
    if !d.Guarded || d.TestOnPhi {
        return 0, 0, notApplicable("the trip count of %s is unknown", d.Head)
    }

    /* the distance to cover, rounded up to whole strides */
    w := _Long { g }
    a := d.Stride
    init := w.of(d.Init)
    x, y := w.of(d.Limit), init

    /* counting down */
    if a < 0 {
        a = -a
        x, y = y, x
    }

    /* strict or inclusive */
    dist := w.op(ir.OpSub, x, y)
    switch d.Cond {
        case ir.CondLT, ir.CondGT : dist = w.add(dist, a - 1)
        case ir.CondLE, ir.CondGE : dist = w.add(dist, a)
        default                   : return 0, 0, notApplicable("exit condition %s", d.Cond)
    }

    /* the number of iterations */
    cnt := dist
    ctrl := at
    if a != 1 {
        cnt = g.AddNode(ir.OpDivI, ir.TypeLong, at, dist, w.c(a))
        ctrl = cnt
    }

    /* init + cnt * stride */
    fin := w.op(ir.OpAdd, init, w.op(ir.OpMul, cnt, w.c(d.Stride)))
    return g.AddNode(ir.OpConvL2I, ir.TypeInt, fin), ctrl, nil
}
