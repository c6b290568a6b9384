// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"
)

// ignoredCommands are commands a peer reads but never acts upon.  They are
// skipped before decoding.
var ignoredCommands = map[string]struct{}{
	wire.CmdSendHeaders:  {},
	wire.CmdFeeFilter:    {},
	wire.CmdGetAddr:      {},
	wire.CmdGetBlocks:    {},
	wire.CmdGetHeaders:   {},
	wire.CmdMemPool:      {},
	wire.CmdFilterLoad:   {},
	wire.CmdFilterAdd:    {},
	wire.CmdFilterClear:  {},
	"sendcmpct":          {},
	"alert":              {},
	"sendaddrv2":         {},
	"wtxidrelay":         {},
	wire.CmdGetCFilters:  {},
	wire.CmdGetCFHeaders: {},
	wire.CmdGetCFCheckpt: {},
}

// dispatchMessage routes a decoded message.  Ping, pong, reject and notfound
// are handled on the read goroutine, everything else is handed to the group
// queue in arrival order.
func (p *Peer) dispatchMessage(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.MsgPing:
		p.handlePingMsg(m)

	case *wire.MsgPong:
		p.handlePongMsg(m)

	case *wire.MsgReject:
		p.handleRejectMsg(m)

	case *wire.MsgNotFound:
		p.handleNotFoundMsg(m)

	default:
		p.submit(func() {
			p.handleGroupMsg(msg)
		})
	}
}

// handlePingMsg is invoked when a peer receives a ping bitcoin message.  It
// replies with a pong carrying the same nonce.
func (p *Peer) handlePingMsg(msg *wire.MsgPing) {
	p.emitIO(KeepAliveEvent{})

	// Only reply with pong if the message is from a new enough client.
	if p.ProtocolVersion() > wire.BIP0031Version {
		p.QueueMessage(wire.NewMsgPong(msg.Nonce), nil)
	}
}

// handlePongMsg is invoked when a peer receives a pong bitcoin message.  The
// round trip time is recorded when the nonce answers the last ping sent.
func (p *Peer) handlePongMsg(msg *wire.MsgPong) {
	var roundTrip time.Duration
	p.statsMtx.Lock()
	if p.lastPingNonce != 0 && msg.Nonce == p.lastPingNonce {
		roundTrip = time.Since(p.lastPingTime)
		p.lastPingMicros = roundTrip.Nanoseconds() / 1000
		p.lastPingNonce = 0
	}
	p.statsMtx.Unlock()

	p.emitIO(PongEvent{Nonce: msg.Nonce, RoundTrip: roundTrip})
	p.emitIO(KeepAliveEvent{})
}

// handleRejectMsg is invoked when a peer receives a reject bitcoin message.
// Rejects never end the connection.
func (p *Peer) handleRejectMsg(msg *wire.MsgReject) {
	log.Debugf("Received reject from %s: %v", p, msg)

	var tx *wire.MsgTx
	if msg.Cmd == wire.CmdTx {
		tx = p.takeSentTx(&msg.Hash)
	}
	p.emitIO(RejectEvent{Reject: msg, Tx: tx})
}

// handleNotFoundMsg is invoked when a peer receives a notfound bitcoin
// message.  Blocks the peer could not deliver are retried.
func (p *Peer) handleNotFoundMsg(msg *wire.MsgNotFound) {
	log.Debugf("Peer %s could not serve %d items", p, len(msg.InvList))

	p.submit(func() {
		p.handleMissingBlocks(msg.InvList)
	})
}

// handleGroupMsg handles a message on the group queue.  Any returned protocol
// violation disconnects the peer.
func (p *Peer) handleGroupMsg(msg wire.Message) {
	var err error
	switch m := msg.(type) {
	case *wire.MsgVersion:
		err = p.handleVersionMsg(m)

	case *wire.MsgVerAck:
		err = p.handleVerAckMsg()

	default:
		if !p.Connected() {
			str := fmt.Sprintf("received %s message before the "+
				"handshake completed", msg.Command())
			err = protocolError(str, nil)
			break
		}

		// Transactions that follow a merkleblock belong to it, anything
		// else means no more are coming.
		if _, ok := msg.(*wire.MsgTx); !ok {
			p.flushFilteredBlock()
		}

		switch m := msg.(type) {
		case *wire.MsgInv:
			p.handleInvMsg(m)

		case *wire.MsgGetData:
			p.emit(DataRequestEvent{InvList: m.InvList})

		case *wire.MsgAddr:
			// A full message means more are likely to follow.
			p.emit(AddrEvent{
				Addresses:   m.AddrList,
				IsLastRelay: len(m.AddrList) < wire.MaxAddrPerMsg,
			})

		case *wire.MsgHeaders:
			p.handleHeadersMsg(m)

		case *wire.MsgBlock:
			p.handleBlockMsg(m)

		case *wire.MsgMerkleBlock:
			p.handleMerkleBlockMsg(m)

		case *wire.MsgTx:
			p.handleTxMsg(m)

		default:
			log.Debugf("Received unhandled message of type %v from %v",
				msg.Command(), p)
		}
	}

	if err != nil {
		p.disconnectWithError(err)
	}
}

// handleVersionMsg is invoked when a peer receives a version bitcoin message.
// The remote peer must be new enough and offer the services this peer needs.
func (p *Peer) handleVersionMsg(msg *wire.MsgVersion) error {
	if p.versionKnown {
		return protocolError("duplicate version message", nil)
	}

	// Detect self connections.
	if sentNonces.Contains(msg.Nonce) {
		return protocolError("disconnecting peer connected to self", nil)
	}

	minVersion := wire.MultipleAddressVersion
	if p.cfg.NeedsBloomFiltering {
		minVersion = wire.BIP0037Version
	}
	remoteVersion := uint32(msg.ProtocolVersion)
	if remoteVersion < minVersion {
		str := fmt.Sprintf("protocol version must be %d or greater, "+
			"peer uses %d", minVersion, remoteVersion)
		return protocolError(str, nil)
	}

	if p.cfg.ShouldDownloadBlocks &&
		msg.Services&wire.SFNodeNetwork != wire.SFNodeNetwork {

		str := fmt.Sprintf("peer does not serve blocks (services %v)",
			msg.Services)
		return protocolError(str, nil)
	}

	// Bloom filtering became an advertised service with BIP0111, older
	// peers support it implicitly.
	if p.cfg.NeedsBloomFiltering && remoteVersion >= wire.BIP0111Version &&
		msg.Services&wire.SFNodeBloom != wire.SFNodeBloom {

		str := fmt.Sprintf("peer does not support bloom filtering "+
			"(services %v)", msg.Services)
		return protocolError(str, nil)
	}

	// Negotiate the protocol version and record the remote details.
	p.statsMtx.Lock()
	if remoteVersion < p.protocolVersion {
		p.protocolVersion = remoteVersion
	}
	p.services = msg.Services
	p.userAgent = msg.UserAgent
	p.remoteTimestamp = msg.Timestamp
	p.startingHeight = msg.LastBlock
	p.lastBlock = msg.LastBlock
	p.statsMtx.Unlock()
	p.versionKnown = true

	log.Debugf("Negotiated protocol version %d for peer %s",
		p.ProtocolVersion(), p)

	p.QueueMessage(wire.NewMsgVerAck(), nil)
	return nil
}

// handleVerAckMsg is invoked when a peer receives a verack bitcoin message.  It
// completes the handshake.
func (p *Peer) handleVerAckMsg() error {
	if !p.versionKnown {
		return protocolError("verack received before version", nil)
	}
	if p.verAckReceived {
		return protocolError("duplicate verack message", nil)
	}
	p.verAckReceived = true

	if !atomic.CompareAndSwapInt32(&p.status, int32(StatusConnecting),
		int32(StatusConnected)) {

		return nil
	}

	p.connMtx.Lock()
	if p.handshakeTimer != nil {
		p.handshakeTimer.Stop()
	}
	p.connMtx.Unlock()

	log.Infof("Connected to %s (%s, protocol %d, height %d)", p,
		p.UserAgent(), p.ProtocolVersion(), p.StartingHeight())
	p.emit(ConnectedEvent{})
	return nil
}
