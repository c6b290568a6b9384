// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package spvpeer implements outbound bitcoin peers for Simplified Payment
Verification (SPV) clients.  A peer performs the version handshake, keeps
connection statistics, downloads headers, full blocks or bloom filtered blocks
into a shared block chain and relays transactions.

Each peer reads and writes its connection on its own goroutines.  Everything
that touches the block chain or the download state runs on a workqueue.Queue
that is shared by a group of peers, so the chain never sees two peers at once
and no locking is needed around it.  Ping, pong, reject and notfound messages
are answered straight from the read goroutine.

A peer moves from StatusConnecting to StatusConnected when the handshake
completes and to StatusDisconnected when the connection ends.  It never moves
back.  Everything the peer observes is reported to the Listener of its Config
as an Event.  The last event of every peer is a DisconnectedEvent.

Errors

Failures are reported as *Error values carrying an ErrorCode.  Connection,
protocol and write timeout errors end the connection right away.  Sync errors
cause the affected block to be requested again and only end the connection
once the same block failed more often than Config.SyncRetryLimit.
*/
package spvpeer
