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
)

// Reassociate hoists the invariant parts of IV expressions out of the loop.
func Reassociate(ctx *Context, l *looptree.Loop) error {
    if n := counted.ReassociateInvariants(ctx.G, l); n == 0 {
        return notApplicable("no invariant sub-expressions in %s", l.Head)
    } else {
        ctx.Log.Debugf("reassociated %d expressions of %s", n, l.Head)
        return nil
    }
}

// ReassociateReductions shortens the dependency chains of the reductions
// carried by the loop. Floating-point chains are only rewritten when the
// options allow it.
func ReassociateReductions(ctx *Context, l *looptree.Loop) error {
    if n := counted.ReassociateReductions(ctx.G, l, ctx.Opts.FloatReassociation); n == 0 {
        return notApplicable("no reassociable reductions in %s", l.Head)
    } else {
        ctx.Log.Debugf("reassociated %d reductions of %s", n, l.Head)
        return nil
    }
}
