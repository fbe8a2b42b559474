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

package debug

import (
	"fmt"
	"io"

	"github.com/cloudwego/loopopt/internal/trace"
	"github.com/cloudwego/loopopt/ir"
	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

// A Stats records statistics about the loop optimizer.
type Stats struct {
	Graphs     int
	Rounds     int
	Transforms TransformStats
}

// A TransformStats records how the loop transformations went.
type TransformStats struct {
	Fired   int
	Aborted int
	Budget  int
}

// GetStats returns statistics of the loop optimizer, accumulated over every
// graph optimized by this process.
func GetStats() Stats {
	s := trace.GetStats()
	return Stats{
		Graphs: s.Graphs,
		Rounds: s.Rounds,
		Transforms: TransformStats{
			Fired:   s.Fired,
			Aborted: s.Aborted,
			Budget:  s.Budget,
		},
	}
}

// PrintTrace writes one line per event of an optimization trace, fired
// transformations in green and aborted ones in red.
func PrintTrace(w io.Writer, events []trace.Event) {
	for _, ev := range events {
		if ev.Outcome == trace.Fired {
			fmt.Fprintln(w, color.GreenString("%s", ev))
		} else {
			fmt.Fprintln(w, color.RedString("%s", ev))
		}
	}
}

// DumpGraph writes the nodes of g, followed by a Graphviz rendering of its
// reachable part.
func DumpGraph(w io.Writer, g *ir.Graph) {
	cfg := spew.ConfigState{Indent: "    ", DisablePointerAddresses: true, SortKeys: true}
	cfg.Fdump(w, g.Name, g.Len())
	fmt.Fprintln(w, g)
	fmt.Fprintln(w, ir.Dot(g))
}
