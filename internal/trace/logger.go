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

package trace

import (
	"github.com/fatih/color"
	"go.uber.org/zap"
)

// Logger encapsulates a zap logger and the module it logs for.
type Logger struct {
	*zap.SugaredLogger
	module string
}

// NewLogger wraps l for the named module. A nil l discards everything.
func NewLogger(l *zap.SugaredLogger, module string) *Logger {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &Logger{
		SugaredLogger: l,
		module:        module,
	}
}

// Module returns the (stylised) module name.
func (l *Logger) Module() string {
	return l.module
}

// With returns a logger for another module sharing the same output.
func (l *Logger) With(module string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger, module: module}
}

var (
	ModPipeline  = color.BlueString("loopopt  ")
	ModTransform = color.GreenString("transform")
	ModPredicate = color.YellowString("predicate")
	ModAbort     = color.RedString("abort    ")
)
