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
    `fmt`
)

// CompileError reports a graph that could not be optimized because one of
// the structural invariants broke outside of any single transformation. The
// graph is restored to its unoptimized form before the error is returned.
type CompileError struct {
    Graph string
    Round int
    Err   error
}

func (self *CompileError) Error() string {
    if self.Round == 0 {
        return fmt.Sprintf("CompileError(%s): %v", self.Graph, self.Err)
    } else {
        return fmt.Sprintf("CompileError(%s): round %d: %v", self.Graph, self.Round, self.Err)
    }
}

func (self *CompileError) Cause() error {
    return self.Err
}
