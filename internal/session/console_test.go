/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/fusionidea/internal/session"
	"github.com/microsoft/fusionidea/pkg/testutil"
)

func TestStreamConsoleRoutesChannels(t *testing.T) {
	t.Parallel()

	out := testutil.NewBufferWriter()
	errOut := testutil.NewBufferWriter()
	console := session.NewStreamConsole(out, errOut)

	console.WriteLine("system line", session.ChannelSystem)
	console.WriteLine("stdout line", session.ChannelStdout)
	console.WriteLine("stderr line", session.ChannelStderr)
	console.Close()

	require.Equal(t, []string{"system line", "stdout line"}, out.Lines())
	require.Equal(t, []string{"stderr line"}, errOut.Lines())
}

func TestStreamConsoleKeepsOrderAndIgnoresWritesAfterClose(t *testing.T) {
	t.Parallel()

	out := testutil.NewBufferWriter()
	console := session.NewStreamConsole(out, out)

	const lineCount = 1000
	for i := 0; i < lineCount; i++ {
		console.WriteLine(fmt.Sprintf("line %d", i), session.ChannelSystem)
	}
	console.Close()
	console.Close()
	console.WriteLine("late", session.ChannelSystem)

	lines := out.Lines()
	require.Len(t, lines, lineCount)
	for i, l := range lines {
		require.Equal(t, fmt.Sprintf("line %d", i), l)
	}
}

func TestHandleTerminatesOnce(t *testing.T) {
	t.Parallel()

	console := &recordingConsole{}
	handle := session.NewHandle(console)
	require.False(t, handle.IsTerminated())

	handle.Terminate()
	handle.Terminate()

	<-handle.Terminated()
	require.True(t, handle.IsTerminated())
	require.Equal(t, "Server stopped.\n", console.Text())
}
