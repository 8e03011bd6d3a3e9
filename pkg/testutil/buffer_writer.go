/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// BufferWriter is a goroutine-safe io.Writer that keeps everything written to it.
// Tests use it to capture console output produced on background goroutines.
type BufferWriter struct {
	data   []byte
	lock   *sync.Mutex
	closed bool
}

func NewBufferWriter() *BufferWriter {
	return &BufferWriter{
		lock: &sync.Mutex{},
	}
}

func (bw *BufferWriter) Write(p []byte) (n int, err error) {
	bw.lock.Lock()
	defer bw.lock.Unlock()

	if bw.closed {
		return 0, io.ErrClosedPipe
	}

	bw.data = append(bw.data, p...)
	return len(p), nil
}

func (bw *BufferWriter) Bytes() []byte {
	bw.lock.Lock()
	defer bw.lock.Unlock()
	return bytes.Clone(bw.data)
}

func (bw *BufferWriter) String() string {
	return string(bw.Bytes())
}

// Lines returns the complete lines written so far, without line terminators.
func (bw *BufferWriter) Lines() []string {
	text := bw.String()
	if i := strings.LastIndex(text, "\n"); i >= 0 {
		text = text[:i]
	} else {
		return nil
	}
	return strings.Split(text, "\n")
}

func (bw *BufferWriter) Close() error {
	bw.lock.Lock()
	defer bw.lock.Unlock()
	bw.closed = true
	return nil
}

var _ io.WriteCloser = (*BufferWriter)(nil)
