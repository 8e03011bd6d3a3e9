/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"sync"
)

// ProcessHandle represents the user-visible run of a session.
// Terminate marks the run as finished; calling it more than once has no further effect.
type ProcessHandle interface {
	Terminate()
}

// Handle is the ProcessHandle of a command-line run.
type Handle struct {
	console    Console
	once       *sync.Once
	terminated chan struct{}
}

func NewHandle(console Console) *Handle {
	return &Handle{
		console:    console,
		once:       &sync.Once{},
		terminated: make(chan struct{}),
	}
}

func (h *Handle) Terminate() {
	h.once.Do(func() {
		if h.console != nil {
			h.console.WriteLine("Server stopped.", ChannelSystem)
		}
		close(h.terminated)
	})
}

// Terminated returns a channel that is closed when the handle is terminated.
func (h *Handle) Terminated() <-chan struct{} {
	return h.terminated
}

func (h *Handle) IsTerminated() bool {
	select {
	case <-h.terminated:
		return true
	default:
		return false
	}
}

var _ ProcessHandle = (*Handle)(nil)
