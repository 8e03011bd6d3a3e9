/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/smallnest/chanx"
)

type Channel int

const (
	ChannelSystem Channel = iota
	ChannelStdout
	ChannelStderr
)

func (c Channel) String() string {
	switch c {
	case ChannelSystem:
		return "system"
	case ChannelStdout:
		return "stdout"
	case ChannelStderr:
		return "stderr"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

// Console receives user-facing session output. Implementations must be goroutine-safe.
type Console interface {
	WriteLine(text string, ch Channel)
}

type consoleLine struct {
	text string
	ch   Channel
}

// StreamConsole writes console lines to io.Writers from its own goroutine.
// Writers never block on a slow terminal; lines are buffered until they can be written.
// System and stdout lines go to out, stderr lines go to errOut. Close must be called to release the goroutine.
type StreamConsole struct {
	out    io.Writer
	errOut io.Writer

	lock   *sync.Mutex
	closed bool
	lines  *chanx.UnboundedChan[consoleLine]
	done   chan struct{}
}

func NewStreamConsole(out io.Writer, errOut io.Writer) *StreamConsole {
	sc := &StreamConsole{
		out:    out,
		errOut: errOut,
		lock:   &sync.Mutex{},
		lines:  chanx.NewUnboundedChan[consoleLine](context.Background(), 16),
		done:   make(chan struct{}),
	}
	go sc.pump()
	return sc
}

func (sc *StreamConsole) WriteLine(text string, ch Channel) {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	if sc.closed {
		return
	}
	sc.lines.In <- consoleLine{text: text, ch: ch}
}

func (sc *StreamConsole) pump() {
	defer close(sc.done)

	for line := range sc.lines.Out {
		w := sc.out
		if line.ch == ChannelStderr {
			w = sc.errOut
		}
		_, _ = fmt.Fprintln(w, line.text)
	}
}

// Close stops accepting lines and waits until the buffered ones are written.
func (sc *StreamConsole) Close() {
	sc.lock.Lock()
	if !sc.closed {
		sc.closed = true
		close(sc.lines.In)
	}
	sc.lock.Unlock()

	<-sc.done
}

var _ Console = (*StreamConsole)(nil)
