/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package session drives a single script injection: it locates the add-in of the target
// Fusion 360 process, sends it a signed run or debug request, and leaves the local debug
// port open for the debugger to take over.
//
// A session moves through the states
//
//	Created -> Discovering -> Handshaking -> AwaitingDebugConnection -> Completed
//
// and ends in Failed if anything goes wrong along the way. Failures never escape as panics
// or unhandled errors; they are written to the session console and terminate the process handle.
//
// Everything that is shared between sessions (the signing identity, the nonce counter, the
// version advisory and the worker queue) lives in an Environment created once per process.
package session
