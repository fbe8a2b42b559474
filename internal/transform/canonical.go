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
    `github.com/cloudwego/loopopt/internal/predicate`
    `github.com/cloudwego/loopopt/ir`
    `github.com/pkg/errors`
)

// Canonicalize turns a recognized counted loop into a counted loop node.
// Bounds that could make the IV overflow are guarded by loop limit check
// predicates, and are cast to their checked range inside the loop. Wide and
// unsigned exit tests are rewritten into signed 32-bit tests.
func Canonicalize(ctx *Context, l *looptree.Loop, d *counted.Descriptor) error {
    g := ctx.G
    if g.Op(d.Head) == ir.OpCountedLoop {
        return notApplicable("%s is already counted", d.Head)
    }

    /* guard every range the types cannot prove */
    w := _Long { g }
    for _, c := range d.Checks {
        n := uint64(c.Hi) - uint64(c.Lo) + 1
        if n == 0 {
            return notApplicable("%s spans the whole range", c)
        }

        /* lo <= x <= hi as a single unsigned compare */
        x := w.op(ir.OpSub, w.of(c.Value), w.c(c.Lo))
        if _, err := ctx.PM.Insert(ir.PredLoopLimitCheck, w.cmp(ir.CondULT, x, w.c(int64(n))), l); err != nil {
            if errors.Cause(err) == predicate.ErrNoSlowPhi {
                return err
            } else {
                return notApplicable("loop limit check of %s: %v", l.Head, err)
            }
        }
    }

    /* the members of the loop, after versioning */
    sh, err := closeLoop(g, l)
    if err != nil {
        return err
    }

    /* the checked values are known to be in range inside the loop */
    at := g.Node(sh.Head).In[0]
    limit := d.Limit
    for _, c := range d.Checks {
        cast := castTo(g, at, c)
        if c.Value == d.Limit {
            limit = cast
        }
        if g.Node(c.Value).Type.Kind == g.Node(cast).Type.Kind {
            g.ReplaceUsesIf(c.Value, cast, func(user ir.ID, _ int) bool { return sh.Members[user] })
        }
    }

    /* rewrite the exit test into a signed int compare */
    if d.Wide || d.Unsigned {
        if d.Wide && limit == d.Limit {
            limit = g.AddNode(ir.OpConvL2I, ir.TypeInt, limit)
        }

        /* the condition that exits the loop */
        cc := d.Cond.Signed()
        if g.Op(d.BackProj) == ir.OpIfFalse {
            cc = cc.Negate()
        }

        /* replace the test */
        g.SetInput(d.ExitIf, 1, w.cmp(cc, d.Tested(), limit))
    }

    /* it is now a counted loop */
    g.Retag(sh.Head, ir.OpCountedLoop)
    addFlags(g, sh.Head, ir.LoopCounted)
    return nil
}

// castTo pins the checked value at the loop entry, narrowed to the int range
// when the value is a long.
func castTo(g *ir.Graph, at ir.ID, c counted.Check) ir.ID {
    v := c.Value
    lo, hi := c.Lo, c.Hi

    /* narrow the long into an int */
    if g.Node(v).Type.Kind == ir.KindLong {
        v = g.AddNode(ir.OpConvL2I, ir.TypeInt, v)
        if lo < ir.KindInt.Min() {
            lo = ir.KindInt.Min()
        }
        if hi > ir.KindInt.Max() {
            hi = ir.KindInt.Max()
        }
    }

    /* pin the range */
    kind := g.Node(v).Type.Kind
    ret := g.AddNode(ir.OpCastII, ir.TypeOf(kind), at, v)
    g.SetBound(ret, ir.RangeOf(kind, lo, hi))
    return ret
}
