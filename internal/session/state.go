/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"fmt"
	"slices"
)

type State int

const (
	StateCreated State = iota
	StateDiscovering
	StateHandshaking
	StateAwaitingDebugConnection
	StateCompleted
	StateFailed
)

var validTransitions = map[State][]State{
	StateCreated:                 {StateDiscovering},
	StateDiscovering:             {StateHandshaking, StateFailed},
	StateHandshaking:             {StateAwaitingDebugConnection, StateFailed},
	StateAwaitingDebugConnection: {StateCompleted, StateFailed},
}

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateDiscovering:
		return "Discovering"
	case StateHandshaking:
		return "Handshaking"
	case StateAwaitingDebugConnection:
		return "AwaitingDebugConnection"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) canMoveTo(next State) bool {
	return slices.Contains(validTransitions[s], next)
}
