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

// Package trace records which transformation fired on which loop.
package trace

import (
	"fmt"
	"sync/atomic"

	"github.com/cloudwego/loopopt/ir"
)

var (
	GraphCount   uint64 = 0
	RoundCount   uint64 = 0
	FiredCount   uint64 = 0
	AbortedCount uint64 = 0
	BudgetCount  uint64 = 0
)

type Outcome uint8

const (
	Fired Outcome = iota
	Aborted
)

func (self Outcome) String() string {
	switch self {
	case Fired:
		return "fired"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(self))
	}
}

// Event is one entry of the structured trace.
type Event struct {
	Round   int
	Pass    string
	Loop    ir.ID
	Outcome Outcome
	Reason  string
	Nodes   int
}

func (self Event) String() string {
	if self.Outcome == Fired {
		return fmt.Sprintf("#%d %s %s on %s (%d nodes)", self.Round, self.Pass, self.Outcome, self.Loop, self.Nodes)
	} else {
		return fmt.Sprintf("#%d %s %s on %s: %s", self.Round, self.Pass, self.Outcome, self.Loop, self.Reason)
	}
}

// Recorder collects the events of one compilation and mirrors them to the
// logger.
type Recorder struct {
	Log    *Logger
	Events []Event
}

func NewRecorder(log *Logger) *Recorder {
	return &Recorder{Log: log}
}

func (self *Recorder) Fired(round int, pass string, loop ir.ID, nodes int) {
	atomic.AddUint64(&FiredCount, 1)
	self.Events = append(self.Events, Event{Round: round, Pass: pass, Loop: loop, Outcome: Fired, Nodes: nodes})
	self.Log.Debugf("%s #%d %s fired on %s, %d nodes", self.Log.Module(), round, pass, loop, nodes)
}

func (self *Recorder) Aborted(round int, pass string, loop ir.ID, err error) {
	atomic.AddUint64(&AbortedCount, 1)
	self.Events = append(self.Events, Event{Round: round, Pass: pass, Loop: loop, Outcome: Aborted, Reason: err.Error()})
	self.Log.Warnf("%s #%d %s aborted on %s: %v", ModAbort, round, pass, loop, err)
}

// Count returns the number of events of the pass with the given outcome.
func (self *Recorder) Count(pass string, outcome Outcome) int {
	n := 0
	for _, ev := range self.Events {
		if ev.Pass == pass && ev.Outcome == outcome {
			n++
		}
	}
	return n
}

// Stats is a snapshot of the process-wide counters.
type Stats struct {
	Graphs  int
	Rounds  int
	Fired   int
	Aborted int
	Budget  int
}

func GetStats() Stats {
	return Stats{
		Graphs:  int(atomic.LoadUint64(&GraphCount)),
		Rounds:  int(atomic.LoadUint64(&RoundCount)),
		Fired:   int(atomic.LoadUint64(&FiredCount)),
		Aborted: int(atomic.LoadUint64(&AbortedCount)),
		Budget:  int(atomic.LoadUint64(&BudgetCount)),
	}
}
