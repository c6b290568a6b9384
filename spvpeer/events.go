// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Event is implemented by every notification a peer delivers to its Listener.
type Event interface {
	peerEvent()
}

// Listener receives peer events.
//
// Events triggered by messages that are routed to the group queue, as well as
// ConnectedEvent, FilterReloadEvent, SyncCompleteEvent and DisconnectedEvent,
// are delivered from the group queue goroutine.  PongEvent, KeepAliveEvent,
// RejectEvent and the byte counter events are delivered from the peer's own
// read and write goroutines, so listeners must be safe for concurrent use.  Listeners must not
// block for long.
type Listener interface {
	OnPeerEvent(p *Peer, e Event)
}

// ListenerFunc adapts an ordinary function to the Listener interface.
type ListenerFunc func(p *Peer, e Event)

// OnPeerEvent calls f(p, e).
func (f ListenerFunc) OnPeerEvent(p *Peer, e Event) {
	f(p, e)
}

// ConnectedEvent is delivered once the version handshake has completed.
type ConnectedEvent struct{}

// DisconnectedEvent is the last event delivered by a peer.  Err is nil when
// the peer was disconnected locally via Disconnect.
type DisconnectedEvent struct {
	Err error
}

// HeaderEvent is delivered for every header integrated while synchronizing
// headers.
type HeaderEvent struct {
	Header *wire.BlockHeader
	Height int32
}

// BlockEvent is delivered for every full block integrated into the chain.
type BlockEvent struct {
	Block  *btcutil.Block
	Height int32
}

// FilteredBlockEvent is delivered for every filtered block integrated into the
// chain, together with the transactions that matched the loaded filter.
type FilteredBlockEvent struct {
	Block        *wire.MsgMerkleBlock
	Transactions []*btcutil.Tx
	Height       int32
}

// TxEvent is delivered for every transaction that is not part of a filtered
// block.
type TxEvent struct {
	Tx *btcutil.Tx
}

// AddrEvent is delivered for every addr message.  IsLastRelay is set when the
// message holds fewer than wire.MaxAddrPerMsg addresses, which means the peer
// has no more to relay in answer to getaddr.
type AddrEvent struct {
	Addresses   []*wire.NetAddress
	IsLastRelay bool
}

// PongEvent is delivered for every pong message.  RoundTrip is zero unless the
// nonce matches the last ping sent to the peer.
type PongEvent struct {
	Nonce     uint64
	RoundTrip time.Duration
}

// KeepAliveEvent is delivered for every ping or pong received, showing the
// remote peer is still responsive.
type KeepAliveEvent struct{}

// DataRequestEvent is delivered for every getdata message.
type DataRequestEvent struct {
	InvList []*wire.InvVect
}

// RejectEvent is delivered for every reject message.  Tx is the rejected
// transaction when it was sent with SendTx.
type RejectEvent struct {
	Reject *wire.MsgReject
	Tx     *wire.MsgTx
}

// FilterReloadEvent asks the owner to build a fresh bloom filter and send it
// with SendFilterLoad.
type FilterReloadEvent struct{}

// SyncCompleteEvent is delivered when a block chain download finishes.
type SyncCompleteEvent struct {
	Height int32
}

// BytesSentEvent is delivered after every message written to the peer.
type BytesSentEvent struct {
	Bytes int
}

// BytesReceivedEvent is delivered after every message read from the peer.
type BytesReceivedEvent struct {
	Bytes int
}

func (ConnectedEvent) peerEvent()     {}
func (DisconnectedEvent) peerEvent()  {}
func (HeaderEvent) peerEvent()        {}
func (BlockEvent) peerEvent()         {}
func (FilteredBlockEvent) peerEvent() {}
func (TxEvent) peerEvent()            {}
func (AddrEvent) peerEvent()          {}
func (PongEvent) peerEvent()          {}
func (KeepAliveEvent) peerEvent()     {}
func (DataRequestEvent) peerEvent()   {}
func (RejectEvent) peerEvent()        {}
func (FilterReloadEvent) peerEvent()  {}
func (SyncCompleteEvent) peerEvent()  {}
func (BytesSentEvent) peerEvent()     {}
func (BytesReceivedEvent) peerEvent() {}
