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
    `testing`

    `github.com/stretchr/testify/require`
)

type sumArray struct {
    g    *Graph
    load ID
    ret  ID
    loop *ForLoop
}

func buildSumArray() sumArray {
    b := NewBuilder("sum")
    arr := b.Param(KindLong, 0)
    n := b.Param(KindInt, 1)
    b.NullCheck(arr)
    ln := b.ArrayLen(arr)
    zero := b.ConstI(0)
    f := b.For(zero, n, 1, CondLT)
    s := f.Carry(zero)
    b.RangeCheck(f.IV, ln)
    ld := b.Load(KindInt, arr, f.IV)
    f.Next(s, b.Add(s, ld))
    f.End()
    ret := b.Return(f.ExitValue(s))
    return sumArray { g: b.Finish(), load: ld, ret: ret, loop: f }
}

func TestEmulator_SumArray(t *testing.T) {
    sa := buildSumArray()
    heap := NewHeap()
    arr := heap.Alloc(1, 2, 3, 4)

    /* in bounds */
    out, err := NewEmulator(sa.g, heap, arr, 4).Run()
    require.NoError(t, err)
    require.False(t, out.Trapped)
    require.Equal(t, int64(10), out.Value)

    /* one past the end */
    out, err = NewEmulator(sa.g, heap, arr, 5).Run()
    require.NoError(t, err)
    require.True(t, out.Trapped)
    require.Equal(t, TrapRangeCheck, out.Reason)

    /* null array */
    out, err = NewEmulator(sa.g, heap, 0, 4).Run()
    require.NoError(t, err)
    require.True(t, out.Trapped)
    require.Equal(t, TrapNullCheck, out.Reason)

    /* zero trip */
    out, err = NewEmulator(sa.g, heap, arr, 0).Run()
    require.NoError(t, err)
    require.Equal(t, "returned(0)", out.String())
}

func TestEmulator_VisitsLoopHead(t *testing.T) {
    sa := buildSumArray()
    heap := NewHeap()
    emu := NewEmulator(sa.g, heap, heap.Alloc(5, 6, 7), 3)
    out, err := emu.Run()
    require.NoError(t, err)
    require.Equal(t, int64(18), out.Value)
    require.Equal(t, 3, emu.Visits[sa.loop.Head])
}

func TestEmulator_DivByZero(t *testing.T) {
    b := NewBuilder("div")
    x := b.Param(KindInt, 0)
    y := b.Param(KindInt, 1)
    b.Return(b.Div(x, y))
    g := b.Finish()

    /* regular division truncates */
    out, err := NewEmulator(g, nil, -7, 2).Run()
    require.NoError(t, err)
    require.Equal(t, int64(-3), out.Value)

    /* division by zero traps */
    out, err = NewEmulator(g, nil, 7, 0).Run()
    require.NoError(t, err)
    require.True(t, out.Trapped)
    require.Equal(t, TrapDivByZero, out.Reason)
}

func TestEmulator_StepLimit(t *testing.T) {
    b := NewBuilder("spin")
    ls := b.Loop()
    b.Safepoint()
    ls.Forever()
    emu := NewEmulator(b.Finish(), nil)
    emu.MaxSteps = 100
    _, err := emu.Run()
    require.Equal(t, ErrStepLimit, err)
}

func TestEmulator_UnguardedAccess(t *testing.T) {
    b := NewBuilder("unguarded")
    arr := b.Param(KindLong, 0)
    b.Return(b.Load(KindInt, arr, b.ConstI(3)))
    g := b.Finish()

    /* no range check in front of the load */
    heap := NewHeap()
    _, err := NewEmulator(g, heap, heap.Alloc(1, 2)).Run()
    require.Error(t, err)
    require.IsType(t, &UnguardedAccessError{}, err)
    require.Equal(t, TrapRangeCheck, err.(*UnguardedAccessError).Reason)
}

func TestEvalBinary_Wrapping(t *testing.T) {
    require.Equal(t, int64(-2147483648), EvalBinary(OpAdd, KindInt, 2147483647, 1))
    require.Equal(t, int64(1) << 31, EvalBinary(OpAdd, KindLong, 2147483647, 1))
    require.Equal(t, int64(-3), EvalBinary(OpMin, KindInt, -3, 4))
    require.Equal(t, 1.5, f64(EvalBinary(OpAdd, KindDouble, i64f(1.0), i64f(0.5))))
}
