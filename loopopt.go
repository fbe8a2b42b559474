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

// Package loopopt optimizes the loops of a graph IR: it recognizes counted
// loops, then peels, unswitches, unrolls, strip mines and removes them, and
// hoists checks out of them as predicates, until nothing changes.
package loopopt

import (
	"sync/atomic"

	"github.com/cloudwego/loopopt/internal/counted"
	"github.com/cloudwego/loopopt/internal/looptree"
	"github.com/cloudwego/loopopt/internal/opts"
	"github.com/cloudwego/loopopt/internal/predicate"
	"github.com/cloudwego/loopopt/internal/trace"
	"github.com/cloudwego/loopopt/internal/transform"
	"github.com/cloudwego/loopopt/ir"
	"github.com/pkg/errors"
)

// Event is one fired or aborted transformation of a Result trace.
type Event = trace.Event

const (
	Fired   = trace.Fired
	Aborted = trace.Aborted
)

// Result describes one run of Optimize.
type Result struct {
	Trace           []Event
	Iterations      int
	BudgetExhausted bool
	Loops           int
}

// Optimize transforms the loops of g in place, one transformation per round,
// until a round changes nothing or the iteration budget runs out. Running out
// of budget is not an error: the graph is valid after every round.
//
// A *CompileError is returned when the graph breaks outside of a single
// transformation, in which case g is restored to its original form.
func Optimize(g *ir.Graph, options ...Option) (*Result, error) {
	o := opts.GetDefaultOptions()
	for _, fn := range options {
		fn(&o)
	}
	return newPipeline(g, &o).run()
}

type _Key struct {
	head ir.ID
	pass opts.Pass
}

type _Policy struct {
	pass opts.Pass
	fn   func(*_Pipeline, *looptree.Loop, *counted.Descriptor) error
}

var _Policies = [...]_Policy{
	{opts.PassRemoveEmpty, (*_Pipeline).removeEmpty},
	{opts.PassOneIteration, (*_Pipeline).oneIteration},
	{opts.PassCanonicalize, (*_Pipeline).canonicalize},
	{opts.PassPeel, (*_Pipeline).peel},
	{opts.PassUnswitch, (*_Pipeline).unswitch},
	{opts.PassRangeCheck, (*_Pipeline).rangeCheck},
	{opts.PassMaxUnroll, (*_Pipeline).maxUnroll},
	{opts.PassUnroll, (*_Pipeline).unroll},
	{opts.PassReassociate, (*_Pipeline).reassociate},
	{opts.PassReduction, (*_Pipeline).reduction},
	{opts.PassStripMine, (*_Pipeline).stripMine},
}

type _Pipeline struct {
	g      *ir.Graph
	o      *opts.Options
	pm     *predicate.Manager
	ctx    *transform.Context
	rec    *trace.Recorder
	log    *trace.Logger
	failed map[_Key]bool
}

func newPipeline(g *ir.Graph, o *opts.Options) *_Pipeline {
	pm := predicate.NewManager(g)
	log := trace.NewLogger(o.Logger, trace.ModPipeline)

	/* create the pipeline */
	return &_Pipeline{
		g:      g,
		o:      o,
		pm:     pm,
		log:    log,
		rec:    trace.NewRecorder(log),
		ctx:    transform.NewContext(g, pm, o, log.With(trace.ModTransform)),
		failed: make(map[_Key]bool),
	}
}

func (self *_Pipeline) run() (*Result, error) {
	ret := new(Result)
	orig := self.g.Snapshot()
	atomic.AddUint64(&trace.GraphCount, 1)

	/* refuse broken input */
	if err := ir.Verify(self.g); err != nil {
		return nil, &CompileError{Graph: self.g.Name, Err: err}
	}

	/* one transformation per round, until nothing changes */
	for {
		if ret.Iterations >= self.o.MaxIterations {
			ret.BudgetExhausted = true
			atomic.AddUint64(&trace.BudgetCount, 1)
			self.log.Infof("%s %s: budget of %d rounds exhausted", self.log.Module(), self.g.Name, self.o.MaxIterations)
			break
		}

		/* run one round */
		ret.Iterations++
		atomic.AddUint64(&trace.RoundCount, 1)
		fired := self.round(ret.Iterations)

		/* the graph must be sound after the cleanup */
		if err := self.cleanup(); err != nil {
			self.g.Restore(orig)
			return nil, &CompileError{Graph: self.g.Name, Round: ret.Iterations, Err: err}
		}

		/* reached the fixpoint */
		if !fired {
			break
		}
	}

	/* the final shape */
	ret.Trace = self.rec.Events
	ret.Loops = len(looptree.Build(self.g).Loops)
	self.log.Debugf("%s %s: %d rounds, %d loops left", self.log.Module(), self.g.Name, ret.Iterations, ret.Loops)
	return ret, nil
}

func (self *_Pipeline) round(n int) bool {
	f := looptree.Build(self.g)
	if looptree.Beautify(self.g, f) {
		f = looptree.Build(self.g)
	}

	/* innermost loops first */
	for _, l := range f.Loops {
		if !self.skip(l) && self.visit(n, l) {
			return true
		}
	}
	return false
}

// skip excludes irreducible loops and the slow versions of loops with
// predicates, along with everything nested in them.
func (self *_Pipeline) skip(l *looptree.Loop) bool {
	if l.IsIrreducible {
		return true
	}

	/* check the enclosing loops */
	for p := l; p != nil; p = p.Parent {
		if self.flags(p).Has(ir.LoopSlow) {
			return true
		}
	}
	return false
}

func (self *_Pipeline) visit(n int, l *looptree.Loop) bool {
	d, derr := counted.Recognize(self.g, l)
	if derr != nil {
		self.log.Debugf("%s %s: %v", self.log.Module(), l.Head, derr)
		d = nil
	}

	/* try every policy in order */
	for _, p := range _Policies {
		key := _Key{l.Head, p.pass}
		if !self.o.Enabled(p.pass) || self.failed[key] {
			continue
		}

		/* apply the transformation */
		err := self.ctx.Run(p.pass.String(), l.Head, func() error { return p.fn(self, l, d) })
		if err == nil {
			self.fired(n, l.Head, p.pass)
			return true
		}

		/* not applicable is the common case */
		if errors.Cause(err) != transform.ErrNotApplicable {
			self.failed[key] = true
			self.rec.Aborted(n, p.pass.String(), l.Head, err)
		}
	}
	return false
}

func (self *_Pipeline) fired(n int, head ir.ID, pass opts.Pass) {
	for k := range self.failed {
		if k.head == head {
			delete(self.failed, k)
		}
	}
	self.rec.Fired(n, pass.String(), head, self.g.Len())
}

func (self *_Pipeline) cleanup() error {
	ir.Simplify(self.g)
	ir.GVN(self.g)
	predicate.EliminateDominated(self.g)
	ir.Simplify(self.g)
	self.pm.Sweep()

	/* check the result */
	if self.o.Verify {
		return ir.VerifyDeep(self.g)
	} else {
		return ir.Verify(self.g)
	}
}

func (self *_Pipeline) flags(l *looptree.Loop) ir.LoopFlags {
	return self.g.Node(l.Head).Flags
}

// marked reports whether the loop carries any of the flags.
func (self *_Pipeline) marked(l *looptree.Loop, f ir.LoopFlags) bool {
	return self.flags(l)&f != 0
}

/** Policies **/

var errNotCounted = errors.Wrap(transform.ErrNotApplicable, "not a counted loop")

func (self *_Pipeline) removeEmpty(l *looptree.Loop, d *counted.Descriptor) error {
	if d == nil {
		return errNotCounted
	} else {
		return transform.RemoveEmpty(self.ctx, l, d)
	}
}

func (self *_Pipeline) oneIteration(l *looptree.Loop, d *counted.Descriptor) error {
	if d == nil {
		return errNotCounted
	} else {
		return transform.OneIteration(self.ctx, l, d)
	}
}

func (self *_Pipeline) canonicalize(l *looptree.Loop, d *counted.Descriptor) error {
	if d == nil {
		return errNotCounted
	} else {
		return transform.Canonicalize(self.ctx, l, d)
	}
}

func (self *_Pipeline) peel(l *looptree.Loop, _ *counted.Descriptor) error {
	if self.marked(l, ir.LoopPeeled | ir.LoopMain | ir.LoopPost | ir.LoopStripOuter) {
		return errors.Wrap(transform.ErrNotApplicable, "already split")
	} else if transform.PeelCandidate(self.g, l) == 0 {
		return errors.Wrap(transform.ErrNotApplicable, "no invariant exit test")
	} else {
		return transform.Peel(self.ctx, l)
	}
}

func (self *_Pipeline) unswitch(l *looptree.Loop, _ *counted.Descriptor) error {
	if self.flags(l).Has(ir.LoopStripOuter) {
		return errors.Wrap(transform.ErrNotApplicable, "outer strip loop")
	} else if br := transform.UnswitchCandidate(self.g, l); br == 0 {
		return errors.Wrap(transform.ErrNotApplicable, "no invariant branch")
	} else {
		return transform.Unswitch(self.ctx, l, br)
	}
}

func (self *_Pipeline) rangeCheck(l *looptree.Loop, d *counted.Descriptor) error {
	if d == nil || self.g.Op(l.Head) != ir.OpCountedLoop {
		return errNotCounted
	} else if self.flags(l).Has(ir.LoopRangeChecked) {
		return errors.Wrap(transform.ErrNotApplicable, "range checks already eliminated")
	} else {
		return transform.EliminateRangeChecks(self.ctx, l, d)
	}
}

func (self *_Pipeline) maxUnroll(l *looptree.Loop, d *counted.Descriptor) error {
	if d == nil {
		return errNotCounted
	} else {
		return transform.MaximallyUnroll(self.ctx, l, d)
	}
}

func (self *_Pipeline) unroll(l *looptree.Loop, d *counted.Descriptor) error {
	if d == nil {
		return errNotCounted
	} else if self.marked(l, ir.LoopMain | ir.LoopPost | ir.LoopStripMined) {
		return errors.Wrap(transform.ErrNotApplicable, "already split")
	} else {
		return transform.Unroll(self.ctx, l, d, self.o.UnrollLimit)
	}
}

func (self *_Pipeline) reassociate(l *looptree.Loop, _ *counted.Descriptor) error {
	return transform.Reassociate(self.ctx, l)
}

func (self *_Pipeline) reduction(l *looptree.Loop, _ *counted.Descriptor) error {
	return transform.ReassociateReductions(self.ctx, l)
}

func (self *_Pipeline) stripMine(l *looptree.Loop, d *counted.Descriptor) error {
	if d == nil {
		return errNotCounted
	} else if self.marked(l, ir.LoopStripMined | ir.LoopStripOuter | ir.LoopMain) {
		return errors.Wrap(transform.ErrNotApplicable, "already strip mined")
	} else {
		return transform.StripMine(self.ctx, l, d)
	}
}
