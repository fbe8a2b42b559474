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

// Package testgraphs builds the sample programs shared by the tests of the
// optimizer packages. Every builder returns a freshly typed graph.
package testgraphs

import (
    `math`

    `github.com/cloudwego/loopopt/ir`
)

// SumArray: int s = 0; for (int i = 0; i < n; i++) s += a[i]; return s.
// Parameters: #0 array handle, #1 n.
func SumArray() *ir.Graph {
    b := ir.NewBuilder("sum_array")
    arr := b.Param(ir.KindLong, 0)
    n := b.Param(ir.KindInt, 1)

    /* the array is checked once before the loop */
    b.NullCheck(arr)
    ln := b.ArrayLen(arr)

    /* the loop */
    zero := b.ConstI(0)
    f := b.For(zero, n, 1, ir.CondLT)
    s := f.Carry(zero)
    b.RangeCheck(f.IV, ln)
    f.Next(s, b.Add(s, b.Load(ir.KindInt, arr, f.IV)))
    f.End()

    /* return the sum */
    b.Return(f.ExitValue(s))
    return b.Finish()
}

// Count: int c = 0; for (int i = init; i cc limit; i += stride) c++; return c.
// Parameters: #0 init, #1 limit, unless constant values are given.
func Count(init *int32, limit *int32, stride int64, cc ir.Cond) *ir.Graph {
    b := ir.NewBuilder("count")
    lo := b.Param(ir.KindInt, 0)
    hi := b.Param(ir.KindInt, 1)

    /* constant bounds */
    if init != nil {
        lo = b.ConstI(*init)
    }
    if limit != nil {
        hi = b.ConstI(*limit)
    }

    /* the loop */
    f := b.For(lo, hi, stride, cc)
    c := f.Carry(b.ConstI(0))
    f.Next(c, b.Add(c, b.ConstI(1)))
    f.End()

    /* return the count */
    b.Return(f.ExitValue(c))
    return b.Finish()
}

// CountFromMax is `for (int i = MAX-2000; i < MAX; i++) c++`.
func CountFromMax() *ir.Graph {
    lo := int32(math.MaxInt32 - 2000)
    hi := int32(math.MaxInt32)
    return Count(&lo, &hi, 1, ir.CondLT)
}

// Unswitchable: for (int i = 0; i < n; i++) { if (flag != 0) a[i] = i; else a[i] = -i; } return n.
// Parameters: #0 array handle, #1 n, #2 flag.
func Unswitchable() *ir.Graph {
    b := ir.NewBuilder("unswitch")
    arr := b.Param(ir.KindLong, 0)
    n := b.Param(ir.KindInt, 1)
    flag := b.Param(ir.KindInt, 2)

    /* checked before the loop */
    b.NullCheck(arr)
    ln := b.ArrayLen(arr)
    cond := b.Cmp(ir.CondNE, flag, b.ConstI(0))

    /* the loop */
    zero := b.ConstI(0)
    f := b.For(zero, n, 1, ir.CondLT)
    b.RangeCheck(f.IV, ln)

    /* the invariant branch */
    t, e := b.If(cond)
    b.SetCtrl(t)
    st := b.Store(arr, f.IV, f.IV)
    b.SetCtrl(e)
    sf := b.Store(arr, f.IV, b.Neg(f.IV))
    b.Region(st, sf)
    f.End()

    /* return something observable */
    b.Return(n)
    return b.Finish()
}

// GuardedLoad: for (int i = 0; i < n; i++) s += a[i], with the null check of a
// repeated inside the loop body. Parameters: #0 array handle, #1 n.
func GuardedLoad() *ir.Graph {
    b := ir.NewBuilder("guarded_load")
    arr := b.Param(ir.KindLong, 0)
    n := b.Param(ir.KindInt, 1)

    /* the loop */
    zero := b.ConstI(0)
    f := b.For(zero, n, 1, ir.CondLT)
    s := f.Carry(zero)

    /* the body checks the array every time */
    b.NullCheck(arr)
    ln := b.ArrayLen(arr)
    b.RangeCheck(f.IV, ln)
    f.Next(s, b.Add(s, b.Load(ir.KindInt, arr, f.IV)))
    f.End()

    /* return the sum */
    b.Return(f.ExitValue(s))
    return b.Finish()
}

// Reduction: for (int i = 0; i < n; i++) s = s op a[i]; return s. For doubles
// the array holds IEEE-754 bits. Parameters: #0 array handle, #1 n.
func Reduction(kind ir.Kind, op ir.Op) *ir.Graph {
    b := ir.NewBuilder("reduction")
    arr := b.Param(ir.KindLong, 0)
    n := b.Param(ir.KindInt, 1)

    /* checked before the loop */
    b.NullCheck(arr)
    ln := b.ArrayLen(arr)

    /* initial value */
    init := b.ConstI(0)
    if kind == ir.KindDouble {
        init = b.ConstD(0)
    }

    /* the loop */
    f := b.For(b.ConstI(0), n, 1, ir.CondLT)
    s := f.Carry(init)
    b.RangeCheck(f.IV, ln)
    v := b.Load(kind, arr, f.IV)
    f.Next(s, b.G.AddNode(op, ir.TypeOf(kind), s, v))
    f.End()

    /* return the result */
    b.Return(f.ExitValue(s))
    return b.Finish()
}

// WideLimit: for (int i = 0; (long)(i+1) < L; i++) c++; with a long limit.
// Parameters: #0 L.
func WideLimit() *ir.Graph {
    b := ir.NewBuilder("wide_limit")
    lim := b.Param(ir.KindLong, 0)

    /* do-while with a widened compare */
    f := b.DoWhile(b.ConstI(0), lim, 1, ir.CondLT)
    c := f.Carry(b.ConstI(0))
    f.Next(c, b.Add(c, b.ConstI(1)))
    f.End()

    /* return the count */
    b.Return(f.ExitValue(c))
    return b.Finish()
}

// UnsignedLimit: do { c++; i++; } while (i <u L). Parameters: #0 init, #1 L.
func UnsignedLimit() *ir.Graph {
    b := ir.NewBuilder("unsigned_limit")
    init := b.Param(ir.KindInt, 0)
    lim := b.Param(ir.KindInt, 1)

    /* do-while with an unsigned compare */
    f := b.DoWhile(init, lim, 1, ir.CondULT)
    c := f.Carry(b.ConstI(0))
    f.Next(c, b.Add(c, b.ConstI(1)))
    f.End()

    /* return the count, bounded by the emulator step limit */
    b.Return(f.ExitValue(c))
    return b.Finish()
}

// Empty: int i = init; for (; i < n; i += stride) {} return i.
// Parameters: #0 init, #1 n.
func Empty(stride int64) *ir.Graph {
    b := ir.NewBuilder("empty")
    init := b.Param(ir.KindInt, 0)
    n := b.Param(ir.KindInt, 1)

    /* the loop carries nothing but the IV */
    f := b.For(init, n, stride, ir.CondLT)
    f.End()

    /* the final value of the IV */
    b.Return(f.ExitValue(f.IV))
    return b.Finish()
}

// Invariants: for (int i = 0; i < n; i++) s += x + (i + y) - (z - i); return s.
// Parameters: #0 n, #1 x, #2 y, #3 z.
func Invariants() *ir.Graph {
    b := ir.NewBuilder("invariants")
    n := b.Param(ir.KindInt, 0)
    x := b.Param(ir.KindInt, 1)
    y := b.Param(ir.KindInt, 2)
    z := b.Param(ir.KindInt, 3)

    /* the loop */
    zero := b.ConstI(0)
    f := b.For(zero, n, 1, ir.CondLT)
    s := f.Carry(zero)
    e := b.Sub(b.Add(x, b.Add(f.IV, y)), b.Sub(z, f.IV))
    f.Next(s, b.Add(s, e))
    f.End()

    /* return the sum */
    b.Return(f.ExitValue(s))
    return b.Finish()
}

// Nested: for (i = 0; i < n; i++) for (j = 0; j < m; j++) s += i ^ j; return s.
// Parameters: #0 n, #1 m.
func Nested() *ir.Graph {
    b := ir.NewBuilder("nested")
    n := b.Param(ir.KindInt, 0)
    m := b.Param(ir.KindInt, 1)
    zero := b.ConstI(0)

    /* the outer loop */
    fo := b.For(zero, n, 1, ir.CondLT)
    so := fo.Carry(zero)

    /* the inner loop */
    fi := b.For(zero, m, 1, ir.CondLT)
    si := fi.Carry(so)
    fi.Next(si, b.Add(si, b.Xor(fo.IV, fi.IV)))
    fi.End()

    /* close the outer loop */
    fo.Next(so, fi.ExitValue(si))
    fo.End()
    b.Return(fo.ExitValue(so))
    return b.Finish()
}

// Irreducible: a cycle between A and B entered at either, depending on p.
// Parameters: #0 p, #1 n.
func Irreducible() *ir.Graph {
    b := ir.NewBuilder("irreducible")
    p := b.Param(ir.KindInt, 0)
    n := b.Param(ir.KindInt, 1)
    zero := b.ConstI(0)
    one := b.ConstI(1)

    /* the two entries */
    ta, tb := b.If(b.Cmp(ir.CondNE, p, zero))

    /* A = region(entry a, back from B) */
    ra := b.G.AddNode(ir.OpRegion, ir.TypeControl, ta)
    rb := b.G.AddNode(ir.OpRegion, ir.TypeControl, tb)
    xa := b.Phi(ra, ir.KindInt, zero)
    xb := b.Phi(rb, ir.KindInt, one)

    /* A: x += 1, go to B */
    b.SetCtrl(ra)
    ya := b.Add(xa, one)
    ga := b.Safepoint()
    b.G.AddInput(rb, ga)
    b.G.AddInput(xb, ya)

    /* B: x += 2, loop back to A while x < n */
    b.SetCtrl(rb)
    yb := b.Add(xb, b.ConstI(2))
    back, exit := b.If(b.Cmp(ir.CondLT, yb, n))
    b.G.AddInput(ra, back)
    b.G.AddInput(xa, yb)

    /* return at exit */
    b.SetCtrl(exit)
    b.Return(yb)
    return b.Finish()
}

// InfiniteOuter: while (true) { for (i = 0; i < n; i++) a[0] = i; } with no exit
// from the outer loop. Parameters: #0 array handle, #1 n.
func InfiniteOuter() *ir.Graph {
    b := ir.NewBuilder("infinite_outer")
    arr := b.Param(ir.KindLong, 0)
    n := b.Param(ir.KindInt, 1)
    zero := b.ConstI(0)

    /* the array is checked up front */
    b.NullCheck(arr)
    ln := b.ArrayLen(arr)

    /* the outer loop never exits */
    outer := b.Loop()
    b.Safepoint()

    /* the inner counted loop */
    f := b.For(zero, n, 1, ir.CondLT)
    b.RangeCheck(zero, ln)
    b.Store(arr, zero, f.IV)
    f.End()

    /* loop forever */
    outer.Forever()
    return b.Finish()
}

// Strided: s = 0; for (i = init; i > limit; i -= 3) s += i; return s.
// Parameters: #0 init, #1 limit.
func Strided() *ir.Graph {
    b := ir.NewBuilder("strided")
    init := b.Param(ir.KindInt, 0)
    lim := b.Param(ir.KindInt, 1)

    /* a down-counting loop */
    f := b.For(init, lim, -3, ir.CondGT)
    s := f.Carry(b.ConstI(0))
    f.Next(s, b.Add(s, f.IV))
    f.End()

    /* return the sum */
    b.Return(f.ExitValue(s))
    return b.Finish()
}

// ScaledIndex: for (i = 0; i < n; i++) a[2*i+1] = i; return n.
// Parameters: #0 array handle, #1 n.
func ScaledIndex() *ir.Graph {
    b := ir.NewBuilder("scaled_index")
    arr := b.Param(ir.KindLong, 0)
    n := b.Param(ir.KindInt, 1)

    /* checked before the loop */
    b.NullCheck(arr)
    ln := b.ArrayLen(arr)

    /* the loop */
    f := b.For(b.ConstI(0), n, 1, ir.CondLT)
    idx := b.Add(b.Mul(f.IV, b.ConstI(2)), b.ConstI(1))
    b.RangeCheck(idx, ln)
    b.Store(arr, idx, f.IV)
    f.End()

    /* return something observable */
    b.Return(n)
    return b.Finish()
}

// HashedIndex: for (i = 0; i < n; i++) a[((i*21845)*42009217)*6700417 + 1] = i;
// return n. The int index wraps for i >= 1. Parameters: #0 array handle, #1 n.
func HashedIndex() *ir.Graph {
    b := ir.NewBuilder("hashed_index")
    arr := b.Param(ir.KindLong, 0)
    n := b.Param(ir.KindInt, 1)

    /* checked before the loop */
    b.NullCheck(arr)
    ln := b.ArrayLen(arr)

    /* the loop */
    f := b.For(b.ConstI(0), n, 1, ir.CondLT)
    idx := f.IV
    for _, k := range []int32 { 21845, 42009217, 6700417 } {
        idx = b.Mul(idx, b.ConstI(k))
    }
    idx = b.Add(idx, b.ConstI(1))
    b.RangeCheck(idx, ln)
    b.Store(arr, idx, f.IV)
    f.End()

    /* return something observable */
    b.Return(n)
    return b.Finish()
}
