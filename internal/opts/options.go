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

package opts

import (
	"strings"

	"go.uber.org/zap"
)

// Pass is a set of loop transformations.
type Pass uint32

const (
	PassRemoveEmpty Pass = 1 << iota
	PassOneIteration
	PassCanonicalize
	PassPeel
	PassUnswitch
	PassRangeCheck
	PassMaxUnroll
	PassUnroll
	PassReassociate
	PassReduction
	PassStripMine
)

const (
	PassAll = PassStripMine<<1 - 1
)

var _PassNames = [...]string{
	"remove_empty",
	"one_iteration",
	"canonicalize",
	"peel",
	"unswitch",
	"range_check",
	"max_unroll",
	"unroll",
	"reassociate",
	"reduction",
	"strip_mine",
}

func (self Pass) String() string {
	var ret []string
	for i, s := range _PassNames {
		if self&(1<<i) != 0 {
			ret = append(ret, s)
		}
	}
	return strings.Join(ret, "|")
}

// Options is threaded through every pass of one compilation. It is never
// shared between compilations.
type Options struct {
	MaxIterations      int
	UnrollLimit        int
	StripMineIter      int
	PeelLimit          int
	FullUnrollLimit    int
	Passes             Pass
	StripMining        bool
	FloatReassociation bool
	Verify             bool
	Logger             *zap.SugaredLogger
}

func (self *Options) Enabled(p Pass) bool {
	return self.Passes&p != 0 && (p != PassStripMine || self.StripMining)
}

func GetDefaultOptions() Options {
	return Options{
		MaxIterations:   MaxIterations,
		UnrollLimit:     UnrollLimit,
		StripMineIter:   StripMineIter,
		PeelLimit:       PeelLimit,
		FullUnrollLimit: FullUnrollLimit,
		Passes:          PassAll,
		Verify:          true,
		Logger:          zap.NewNop().Sugar(),
	}
}
