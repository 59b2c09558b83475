// Copyright 2026 The TrakRF Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cs108

import (
	"fmt"
	"os"
	"time"
)

// debugEnabled gates console debug output. The session log, once open,
// receives every line regardless of this switch.
var debugEnabled = false

func init() {
	if os.Getenv("CS108_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// Debugf writes one formatted debug line: always to the session log when
// one is open, to stdout only when debug output is enabled.
func Debugf(format string, args ...any) {
	logDebugLine(fmt.Sprintf(format, args...))
}

// Debugln writes one debug line assembled from its arguments.
func Debugln(args ...any) {
	logDebugLine(fmt.Sprint(args...))
}

func logDebugLine(message string) {
	if sessionLogWriter != nil {
		stamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", stamp, message)
	}
	if debugEnabled {
		_, _ = fmt.Printf("DEBUG: %s\n", message)
	}
}

// SetDebugEnabled toggles console debug output at runtime, overriding the
// environment.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}
