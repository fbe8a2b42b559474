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
	"os"
	"strconv"

	"github.com/klauspost/cpuid/v2"
)

const (
	_DefaultMaxIterations   = 43   // rounds of the whole pass sequence
	_DefaultStripMineIter   = 1000 // inner iterations between safepoints
	_DefaultPeelLimit       = 96   // cutoff at 96 control and data nodes in the body
	_DefaultFullUnrollLimit = 16   // fully unroll loops running at most 16 times
)

var (
	MaxIterations   = parseOrDefault("LOOPOPT_MAX_ITERATIONS", _DefaultMaxIterations, 0)
	UnrollLimit     = parseOrDefault("LOOPOPT_UNROLL_LIMIT", defaultUnrollLimit(), 1)
	StripMineIter   = parseOrDefault("LOOPOPT_STRIP_MINE_ITER", _DefaultStripMineIter, 1)
	PeelLimit       = parseOrDefault("LOOPOPT_PEEL_LIMIT", _DefaultPeelLimit, 1)
	FullUnrollLimit = parseOrDefault("LOOPOPT_FULL_UNROLL_LIMIT", _DefaultFullUnrollLimit, 1)
)

// defaultUnrollLimit unrolls deeper when the host has wide vector registers
// to keep busy.
func defaultUnrollLimit() int {
	if cpuid.CPU.Supports(cpuid.AVX512F) {
		return 8
	} else {
		return 4
	}
}

func parseOrDefault(key string, def int, min int) int {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseUint(env, 0, 64); err != nil {
		panic("loopopt: invalid value for " + key)
	} else if ret := int(val); ret <= min {
		panic("loopopt: value too small for " + key)
	} else {
		return ret
	}
}
