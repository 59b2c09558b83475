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
	"io"
	"os"
	"runtime"
	"strings"
	"time"
)

// The session log captures every debug line of one process run, console
// output on or off. One log at a time; InitSessionLog replaces nothing.
var (
	sessionLogFile   *os.File
	sessionLogPath   string
	sessionLogWriter io.Writer
)

// InitSessionLog opens a timestamped protocol log in the working directory
// and returns its path.
func InitSessionLog() (string, error) {
	name := fmt.Sprintf("cs108_%s.log", time.Now().Format("20060102_150405"))

	f, err := os.Create(name) //nolint:gosec // name comes from the clock, not user input
	if err != nil {
		return "", fmt.Errorf("create session log: %w", err)
	}
	sessionLogFile = f
	sessionLogPath = name
	sessionLogWriter = f

	writeSessionHeader(f)
	return name, nil
}

// CloseSessionLog writes the closing marker and closes the log file.
func CloseSessionLog() error {
	if sessionLogFile == nil {
		return nil
	}
	stamp := time.Now().Format("15:04:05.000")
	_, _ = fmt.Fprintf(sessionLogWriter, "\n%s === Session ended ===\n", stamp)

	err := sessionLogFile.Close()
	sessionLogFile = nil
	sessionLogPath = ""
	sessionLogWriter = nil
	if err != nil {
		return fmt.Errorf("close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the open session log path, or "".
func GetSessionLogPath() string {
	return sessionLogPath
}

// writeSessionHeader records enough environment detail to make a log file
// useful on its own when attached to a bug report.
func writeSessionHeader(w io.Writer) {
	_, _ = fmt.Fprint(w, "=== CS108 Debug Session Log ===\n")
	_, _ = fmt.Fprintf(w, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(w, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(w, "Go Version: %s\n", runtime.Version())
	if exe, err := os.Executable(); err == nil {
		_, _ = fmt.Fprintf(w, "Executable: %s\n", exe)
	}
	_, _ = fmt.Fprintf(w, "Command Line: %s\n", strings.Join(os.Args, " "))
	_, _ = fmt.Fprint(w, "================================\n\n")
}
