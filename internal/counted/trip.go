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

package counted

import (
    `github.com/cloudwego/loopopt/ir`
)

// Trip returns the exact number of iterations of a counted loop whose init
// and limit are known constants. Loops with pending overflow checks have no
// known trip count.
func Trip(g *ir.Graph, d *Descriptor) (int64, bool) {
    if len(d.Checks) != 0 {
        return 0, false
    }

    /* both bounds must be constants */
    init, ok1 := g.Node(d.Init).Type.Const()
    limit, ok2 := g.Node(d.Limit).Type.Const()
    if !ok1 || !ok2 {
        return 0, false
    }

    /* the distance to cover, in the direction of the IV */
    s := d.Stride
    dist := ir.Int65i(limit).Sub(ir.Int65i(init))
    if s < 0 {
        s = -s
        dist = ir.Int65i(init).Sub(ir.Int65i(limit))
    }

    /* must fit in a long */
    n, ok := dist.Int64()
    if !ok {
        return 0, false
    }

    /* strict or inclusive */
    incl := false
    switch d.Cond {
        case ir.CondLE, ir.CondGE, ir.CondULE: incl = true
    }

    /* the first iteration always runs, then count the passing tests */
    if d.TestOnPhi {
        return 1 + steps(n, s, incl, 0), true
    } else {
        return 1 + steps(n, s, incl, 1), true
    }
}

// steps counts the j >= from for which j*s < n, or j*s <= n when inclusive.
func steps(n int64, s int64, incl bool, from int64) int64 {
    var c int64
    if incl {
        if n < 0 {
            return 0
        }
        c = n / s + 1
    } else {
        if n <= 0 {
            return 0
        }
        c = (n - 1) / s + 1
    }

    /* j = 0 is counted above */
    return c - from
}
