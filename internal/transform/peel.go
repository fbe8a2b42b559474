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

// PeelCandidate returns a check of the loop body on a loop-invariant
// condition that leaves the loop on one side, or 0. Peeling one iteration
// lets the copy of the check dominate the loop.
func PeelCandidate(g *ir.Graph, l *looptree.Loop) ir.ID {
    for _, id := range l.Body {
        if p := g.Node(id); p.Op.IsBranch() && p.Op != ir.OpPredicate && len(p.In) == 2 && l.IsInvariant(g, p.In[1]) {
            if !l.ContainsCtrl(g.Proj(id, ir.OpIfTrue)) || !l.ContainsCtrl(g.Proj(id, ir.OpIfFalse)) {
                return id
            }
        }
    }
    return 0
}

// Peel moves the first iteration of a loop in front of it. The loop gets
// a new set of predicates re-initialized for the values the first iteration
// leaves behind.
func Peel(ctx *Context, l *looptree.Loop) error {
    g := ctx.G
    sh, err := closeLoop(g, l)
    if err != nil {
        return err
    }

    /* bounded code growth */
    if sh.Size() > ctx.Opts.PeelLimit {
        return notApplicable("%d nodes exceed the peeling limit", sh.Size())
    }

    /* the first iteration may leave the loop too */
    c := looptree.CloneLoop(g, sh)
    phis := prologue(g, sh, c)
    looptree.AttachExit(g, sh, c)

    /* the loop starts over with new entry values */
    addFlags(g, sh.Head, ir.LoopPeeled)
    _, err = ctx.PM.CloneForLoopCopy(sh.Head, sh.Head, identity(phis))
    return err
}

// prologue splices a copy of the loop in front of it as a straight-line
// iteration, and lets the loop continue from the backedge of the copy.
func prologue(g *ir.Graph, sh *looptree.Shape, c *looptree.Copy) []ir.ID {
    phis, entry, _ := looptree.HeadValues(g, sh.Head)
    _, _, back := looptree.HeadValues(g, c.Head)

    /* the copy runs first */
    looptree.Splice(g, c.Head, g.Node(sh.Head).In[0], entry)
    g.SetInput(sh.Head, 0, c.Back)

    /* with the loop resuming from where it stops */
    for i, p := range phis {
        g.SetInput(p, 1, back[i])
    }
    return phis
}

// OneIteration removes the backedge of a loop known to run exactly once.
func OneIteration(ctx *Context, l *looptree.Loop, d *counted.Descriptor) error {
    if n, ok := counted.Trip(ctx.G, d); !ok || n != 1 {
        return notApplicable("the loop may run more than once")
    } else {
        ctx.G.FoldBranch(d.ExitIf, !backTaken(ctx.G, d.BackProj))
        return nil
    }
}

// MaximallyUnroll replaces a loop with a constant trip count by one
// straight-line copy per iteration.
func MaximallyUnroll(ctx *Context, l *looptree.Loop, d *counted.Descriptor) error {
    g := ctx.G
    n, ok := counted.Trip(g, d)

    /* must be a short loop */
    switch {
        case !ok                                  : return notApplicable("unknown trip count")
        case n < 2                                : return notApplicable("trip count %d", n)
        case n > int64(ctx.Opts.FullUnrollLimit)  : return notApplicable("trip count %d exceeds the limit", n)
    }

    /* close the loop */
    sh, err := closeLoop(g, l)
    if err != nil {
        return err
    }

    /* bounded code growth */
    if sh.Size() * int(n) > ctx.Opts.PeelLimit * 4 {
        return notApplicable("%d copies of %d nodes are too large", n, sh.Size())
    }

    /* the first n-1 iterations never leave */
    for i := int64(1); i < n; i++ {
        c := looptree.CloneLoop(g, sh)
        prologue(g, sh, c)
        g.FoldBranch(c.Map[d.ExitIf], backTaken(g, c.Back))
    }

    /* the last one always does */
    addFlags(g, sh.Head, ir.LoopMaxUnrolled)
    g.FoldBranch(d.ExitIf, !backTaken(g, d.BackProj))
    return nil
}
