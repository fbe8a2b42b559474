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
    `github.com/cloudwego/loopopt/internal/looptree`
    `github.com/cloudwego/loopopt/ir`
)

// UnswitchCandidate returns an If of the loop body testing a loop-invariant
// condition with both sides inside the loop, or 0.
func UnswitchCandidate(g *ir.Graph, l *looptree.Loop) ir.ID {
    for _, id := range l.Body {
        if p := g.Node(id); p.Op == ir.OpIf && len(p.In) == 2 && g.Op(p.In[1]) != ir.OpConstI && l.IsInvariant(g, p.In[1]) {
            if l.ContainsCtrl(g.Proj(id, ir.OpIfTrue)) && l.ContainsCtrl(g.Proj(id, ir.OpIfFalse)) {
                return id
            }
        }
    }
    return 0
}

// Unswitch hoists the invariant branch br out of the loop: the original loop
// runs when the condition holds, a copy runs when it does not, and each has
// the branch folded accordingly.
func Unswitch(ctx *Context, l *looptree.Loop, br ir.ID) error {
    g := ctx.G
    cond := g.Node(br).In[1]

    /* close the loop */
    sh, err := closeLoop(g, l)
    if err != nil {
        return err
    }

    /* bounded code growth */
    if sh.Size() > ctx.Opts.PeelLimit {
        return notApplicable("%d nodes exceed the unswitching limit", sh.Size())
    }

    /* the condition must be known before the loop */
    at := g.Node(sh.Head).In[0]
    if !g.Available(cond, at) {
        return notApplicable("%s is not available at %s", cond, at)
    }

    /* select the version in front of the loop */
    c := looptree.CloneLoop(g, sh)
    sw := g.AddNode(ir.OpIf, ir.TypeControl, at, cond)
    g.SetInput(sh.Head, 0, g.AddNode(ir.OpIfTrue, ir.TypeControl, sw))
    g.SetInput(c.Head, 0, g.AddNode(ir.OpIfFalse, ir.TypeControl, sw))
    looptree.AttachExit(g, sh, c)

    /* each version knows the outcome */
    g.FoldBranch(c.Map[br], false)
    g.FoldBranch(br, true)

    /* both are unswitched, with predicates of their own */
    addFlags(g, sh.Head, ir.LoopUnswitched)
    addFlags(g, c.Head, ir.LoopUnswitched)
    return ctx.clonePredicates(sh.Head, c.Head, copyPhis(g, sh.Head, c))
}
