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

package loopopt

import (
	"fmt"

	"github.com/cloudwego/loopopt/internal/opts"
	"go.uber.org/zap"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

// Pass selects loop transformations, see WithPasses.
type Pass = opts.Pass

const (
	PassRemoveEmpty  = opts.PassRemoveEmpty
	PassOneIteration = opts.PassOneIteration
	PassCanonicalize = opts.PassCanonicalize
	PassPeel         = opts.PassPeel
	PassUnswitch     = opts.PassUnswitch
	PassRangeCheck   = opts.PassRangeCheck
	PassMaxUnroll    = opts.PassMaxUnroll
	PassUnroll       = opts.PassUnroll
	PassReassociate  = opts.PassReassociate
	PassReduction    = opts.PassReduction
	PassStripMine    = opts.PassStripMine
	PassAll          = opts.PassAll
)

// WithMaxIterations sets the number of optimization rounds before Optimize
// gives up on reaching a fixpoint. Each round applies at most one loop
// transformation.
//
// The default value of this option is "43".
func WithMaxIterations(n int) Option {
	if n <= 0 {
		panic(fmt.Sprintf("loopopt: invalid iteration budget: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxIterations = n }
	}
}

// WithUnrollFactor sets the number of body copies of an unrolled main loop.
//
// The default value of this option is "8" on hosts with AVX-512, "4"
// otherwise.
func WithUnrollFactor(k int) Option {
	if k < 2 {
		panic(fmt.Sprintf("loopopt: invalid unroll factor: %d", k))
	} else {
		return func(o *opts.Options) { o.UnrollLimit = k }
	}
}

// WithStripMining enables strip mining of counted loops, bounding the number
// of iterations between two safepoints.
func WithStripMining(v bool) Option {
	return func(o *opts.Options) { o.StripMining = v }
}

// WithStripMineIter sets the maximum number of iterations between two
// safepoints of a strip mined loop.
//
// The default value of this option is "1000".
func WithStripMineIter(n int) Option {
	if n <= 0 {
		panic(fmt.Sprintf("loopopt: invalid strip length: %d", n))
	} else {
		return func(o *opts.Options) { o.StripMineIter = n }
	}
}

// WithFloatReassociation allows floating point reductions to be reassociated,
// which may change the rounding of the result.
func WithFloatReassociation(v bool) Option {
	return func(o *opts.Options) { o.FloatReassociation = v }
}

// WithVerify selects the deep verification after every transformation,
// cross-checking the dominator tree. Structural verification always runs.
func WithVerify(v bool) Option {
	return func(o *opts.Options) { o.Verify = v }
}

// WithLogger sets the logger receiving the trace of the transformations. A
// nil logger discards everything.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *opts.Options) { o.Logger = l }
}

// WithPasses restricts the transformations Optimize may apply.
func WithPasses(p Pass) Option {
	if p&^PassAll != 0 {
		panic(fmt.Sprintf("loopopt: invalid passes: %#x", uint32(p)))
	} else {
		return func(o *opts.Options) { o.Passes = p }
	}
}

// SetMaxIterations sets the default iteration budget for all graphs from now
// on.
//
// This value can also be configured with the `LOOPOPT_MAX_ITERATIONS`
// environment variable.
//
// Returns the old opts.MaxIterations value.
func SetMaxIterations(n int) int {
	n, opts.MaxIterations = opts.MaxIterations, n
	return n
}

// SetUnrollFactor sets the default unroll factor for all graphs from now on.
//
// This value can also be configured with the `LOOPOPT_UNROLL_LIMIT`
// environment variable.
//
// Returns the old opts.UnrollLimit value.
func SetUnrollFactor(k int) int {
	k, opts.UnrollLimit = opts.UnrollLimit, k
	return k
}
