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

	"github.com/trakrf/go-cs108/internal/frame"
)

// frameHandler processes one uplink payload; payload excludes the two
// event-code bytes.
type frameHandler func(f *frame.Frame, payload []byte)

type routeKey struct {
	module byte
	code   EventCode
}

// router dispatches uplink frames to handlers keyed by module and event
// code. Owned by the engine goroutine; registration happens before the
// loop starts, so the map is effectively read-only afterwards.
type router struct {
	handlers map[routeKey]frameHandler
	unknown  func(f *frame.Frame, err error)
}

func newRouter(unknown func(f *frame.Frame, err error)) *router {
	return &router{
		handlers: make(map[routeKey]frameHandler),
		unknown:  unknown,
	}
}

// handle registers fn for frames from module carrying code.
func (r *router) handle(module byte, code EventCode, fn frameHandler) {
	r.handlers[routeKey{module: module, code: code}] = fn
}

// route dispatches one uplink frame. Unknown module/event combinations go
// to the unknown sink: they are logged anomalies, never fatal, because
// firmware revisions add event codes faster than hosts learn them.
func (r *router) route(f *frame.Frame) {
	code, ok := f.EventCode()
	if !ok {
		r.unknown(f, fmt.Errorf("%w: %d byte payload", ErrMalformedPayload, len(f.Payload)))
		return
	}
	fn, ok := r.handlers[routeKey{module: f.Module, code: EventCode(code)}]
	if !ok {
		r.unknown(f, fmt.Errorf("%w: module 0x%02X event 0x%04X", ErrUnknownFrame, f.Module, code))
		return
	}
	fn(f, f.Payload[2:])
}
