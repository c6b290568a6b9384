// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import "fmt"

// Status is the connection state of a peer.
type Status int32

// A peer starts out connecting, becomes connected once the version handshake
// completes and ends up disconnected.  Disconnected is terminal.
const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
)

var statusStrings = map[Status]string{
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusDisconnected: "disconnected",
}

// String returns the status as a human-readable string.
func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown Status (%d)", int32(s))
}
