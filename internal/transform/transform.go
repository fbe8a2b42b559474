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

// Package transform implements the loop transformations. Every
// transformation runs inside Context.Run, which rolls the graph and the
// predicates back when it fails.
package transform

import (
    `fmt`

    `github.com/cloudwego/loopopt/internal/looptree`
    `github.com/cloudwego/loopopt/internal/opts`
    `github.com/cloudwego/loopopt/internal/predicate`
    `github.com/cloudwego/loopopt/internal/trace`
    `github.com/cloudwego/loopopt/ir`
    `github.com/pkg/errors`
)

var (
    ErrNotApplicable = errors.New("transformation not applicable")
)

func notApplicable(format string, args ...interface{}) error {
    return errors.Wrapf(ErrNotApplicable, format, args...)
}

// AbortError reports a transformation that was rolled back.
type AbortError struct {
    Pass string
    Loop ir.ID
    Err  error
}

func (self *AbortError) Error() string {
    return fmt.Sprintf("%s on %s: %v", self.Pass, self.Loop, self.Err)
}

func (self *AbortError) Cause() error {
    return self.Err
}

// Context is the state shared by the transformations of one compilation.
type Context struct {
    G    *ir.Graph
    PM   *predicate.Manager
    Opts *opts.Options
    Log  *trace.Logger
}

func NewContext(g *ir.Graph, pm *predicate.Manager, o *opts.Options, log *trace.Logger) *Context {
    return &Context {
        G    : g,
        PM   : pm,
        Opts : o,
        Log  : log,
    }
}

// Run applies fn as the transformation `name` of a loop. The graph must
// verify afterwards. On any failure, panics included, the graph and the
// predicates are restored and an *AbortError is returned.
func (self *Context) Run(name string, loop ir.ID, fn func() error) (err error) {
    gs := self.G.Snapshot()
    ps := self.PM.Snapshot()

    /* roll back on failures */
    defer func() {
        if v := recover(); v != nil {
            if e, ok := v.(error); ok {
                err = errors.Wrap(e, "panic")
            } else {
                err = errors.Errorf("panic: %v", v)
            }
        }
        if err != nil {
            self.G.Restore(gs)
            self.PM.Restore(ps)
            err = &AbortError { Pass: name, Loop: loop, Err: err }
        }
    }()

    /* apply the transformation */
    if err = fn(); err != nil {
        return
    }

    /* clean up and check the result */
    ir.RemoveDeadNodes(self.G)
    ir.ComputeTypes(self.G)
    err = self.verify()
    return
}

func (self *Context) verify() error {
    if self.Opts.Verify {
        return ir.VerifyDeep(self.G)
    } else {
        return ir.Verify(self.G)
    }
}

/** Helpers **/

func addFlags(g *ir.Graph, head ir.ID, f ir.LoopFlags) {
    g.SetFlags(head, g.Node(head).Flags | f)
}

// copyPhis maps the head phis of the original loop to the ones of a copy.
func copyPhis(g *ir.Graph, head ir.ID, c *looptree.Copy) map[ir.ID]ir.ID {
    ret := make(map[ir.ID]ir.ID)
    for _, p := range g.Phis(head) {
        ret[p] = c.Value(p)
    }
    return ret
}

func identity(ids []ir.ID) map[ir.ID]ir.ID {
    ret := make(map[ir.ID]ir.ID, len(ids))
    for _, v := range ids {
        ret[v] = v
    }
    return ret
}

// clonePredicates gives both the original loop and its copy a set of the
// predicates of the original, each at its own entry.
func (self *Context) clonePredicates(head ir.ID, copied ir.ID, phis map[ir.ID]ir.ID) error {
    return self.PM.CloneForLoopSplit(head, copied, phis)
}

// closeLoop closes l. Loops without exactly one exit are left alone.
func closeLoop(g *ir.Graph, l *looptree.Loop) (*looptree.Shape, error) {
    sh, err := looptree.Close(g, l)
    if err != nil && shapeless(err) {
        return nil, notApplicable("%s: %v", l.Head, err)
    } else {
        return sh, err
    }
}

func shapeless(err error) bool {
    switch errors.Cause(err) {
        case looptree.ErrIrreducible   : return true
        case looptree.ErrNotBeautified : return true
        case looptree.ErrNoExit        : return true
        case looptree.ErrMultipleExits : return true
        default                        : return false
    }
}

// backTaken returns the direction of the exit test that stays in the loop.
func backTaken(g *ir.Graph, back ir.ID) bool {
    return g.Op(back) == ir.OpIfTrue
}

/** Long Arithmetic **/

type _Long struct {
    g *ir.Graph
}

func (self _Long) of(v ir.ID) ir.ID {
    if self.g.Node(v).Type.Kind == ir.KindLong {
        return v
    } else {
        return self.g.AddNode(ir.OpConvI2L, ir.TypeLong, v)
    }
}

func (self _Long) c(v int64) ir.ID {
    return self.g.Const(ir.KindLong, v)
}

func (self _Long) op(op ir.Op, x ir.ID, y ir.ID) ir.ID {
    return self.g.AddNode(op, ir.TypeLong, x, y)
}

func (self _Long) add(x ir.ID, v int64) ir.ID {
    if v == 0 {
        return x
    } else {
        return self.op(ir.OpAdd, x, self.c(v))
    }
}

// clamp saturates a long into the range of kind and narrows it.
func (self _Long) clamp(x ir.ID, kind ir.Kind) ir.ID {
    if kind == ir.KindLong {
        return x
    }

    /* saturate, then narrow */
    x = self.op(ir.OpMin, x, self.c(kind.Max()))
    x = self.op(ir.OpMax, x, self.c(kind.Min()))
    return self.g.AddNode(ir.OpConvL2I, ir.TypeInt, x)
}

func (self _Long) cmp(cc ir.Cond, x ir.ID, y ir.ID) ir.ID {
    return self.g.AddAux(ir.OpCmp, ir.TypeBool, int64(cc), x, y)
}
