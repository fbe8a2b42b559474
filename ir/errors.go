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
    `fmt`
)

// BadGraphError is an internal consistency failure of the graph structure.
// It is raised as a panic by the primitives that detect it.
type BadGraphError struct {
    Node   ID
    Reason string
}

func (self *BadGraphError) Error() string {
    return fmt.Sprintf("BadGraphError(%s): %s", self.Node, self.Reason)
}

// VerifyError reports the first invariant violation found by Verify.
type VerifyError struct {
    Node   ID
    Reason string
}

func (self *VerifyError) Error() string {
    return fmt.Sprintf("VerifyError(%s): %s", self.Node, self.Reason)
}

func everify(id ID, format string, args ...interface{}) *VerifyError {
    return &VerifyError {
        Node   : id,
        Reason : fmt.Sprintf(format, args...),
    }
}
