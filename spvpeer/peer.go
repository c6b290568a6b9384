// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"container/list"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/go-socks/socks"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/lru"
)

const (
	// outputBufferSize is the number of elements the output channels use.
	outputBufferSize = 50

	// maxKnownInventory is the maximum number of items to keep in the
	// known inventory cache.
	maxKnownInventory = 1000

	// maxSentTxs is the maximum number of transactions sent with SendTx
	// that are remembered for matching reject messages.
	maxSentTxs = 1000
)

var (
	// nodeCount is the total number of peer connections made since
	// startup and is used to assign an id to a peer.
	nodeCount int32

	// sentNonces houses the unique nonces that are generated when pushing
	// version messages that are used to detect self connections.
	sentNonces = lru.NewCache(50)

	// zeroHash is the zero value hash (all zeros).  It is defined as a
	// convenience.
	zeroHash chainhash.Hash
)

// outMsg is used to house a message to be sent along with a channel to signal
// when the message has been sent (or won't be sent due to things such as
// shutdown)
type outMsg struct {
	msg      wire.Message
	doneChan chan<- struct{}
}

// StatsSnap is a snapshot of peer stats at a point in time.
type StatsSnap struct {
	ID             int32
	Addr           string
	Status         Status
	Services       wire.ServiceFlag
	LastSend       time.Time
	LastRecv       time.Time
	BytesSent      uint64
	BytesRecv      uint64
	ConnTime       time.Time
	RemoteTime     time.Time
	Version        uint32
	UserAgent      string
	StartingHeight int32
	LastBlock      int32
	LastPingNonce  uint64
	LastPingTime   time.Time
	LastPingMicros int64
	DownloadPeer   bool
}

// NOTE: The overall data flow of a peer is split into 3 goroutines plus the
// group queue.  Inbound messages are read via the inHandler goroutine.  Cheap
// messages (ping, pong, reject and notfound) are handled right there, while
// everything else is handed to the group queue that is shared by every peer of
// a group, so slow chain work never stalls the socket.  The data flow for
// outbound messages is split into 2 goroutines, queueHandler and outHandler.
// The first, queueHandler, is used as a way for external entities to queue
// messages, by way of the QueueMessage function, quickly regardless of whether
// the peer is currently sending or not.  It acts as the traffic cop between
// the external world and the actual goroutine which writes to the network
// socket.

// Peer is an outbound SPV connection to a single full node.  It performs the
// version handshake, keeps statistics, downloads the block chain into a shared
// BlockChain and reports everything of interest to its Listener.
//
// A Peer is used for exactly one connection.  Once it is disconnected it stays
// disconnected and a new Peer is needed to reconnect.
type Peer struct {
	// The following variables must only be used atomically.
	bytesReceived uint64
	bytesSent     uint64
	lastRecv      int64
	writeTimeout  int64
	status        int32
	downloadPeer  int32
	filterLoaded  int32

	// These fields are set at creation time and never modified, so they are
	// safe to read from concurrently without a mutex.
	id   int32
	addr string
	host string
	port uint16
	cfg  Config

	connMtx        sync.Mutex
	conn           net.Conn
	handshakeTimer *time.Timer

	knownInventory lru.Cache

	sentTxsMtx  sync.Mutex
	sentTxs     map[chainhash.Hash]*list.Element
	sentTxOrder *list.List

	prevGetBlocksMtx   sync.Mutex
	prevGetBlocksBegin *chainhash.Hash
	prevGetBlocksStop  *chainhash.Hash

	prevGetHdrsMtx   sync.Mutex
	prevGetHdrsBegin *chainhash.Hash
	prevGetHdrsStop  *chainhash.Hash

	// These fields keep track of statistics for the peer and are protected
	// by the statsMtx mutex.
	statsMtx        sync.RWMutex
	protocolVersion uint32
	services        wire.ServiceFlag
	userAgent       string
	remoteTimestamp time.Time
	timeConnected   time.Time
	lastSend        time.Time
	startingHeight  int32
	lastBlock       int32
	lastPingNonce   uint64
	lastPingTime    time.Time
	lastPingMicros  int64

	// These fields are only accessed from the group queue.
	chain          BlockChain
	versionKnown   bool
	verAckReceived bool
	sync           syncState

	outputQueue   chan outMsg
	sendQueue     chan outMsg
	sendDoneQueue chan struct{}
	queueQuit     chan struct{}
	quit          chan struct{}
	finished      chan struct{}
	wg            sync.WaitGroup
}

// NewPeer returns a new peer for the passed host, which is an IP address or a
// host name with an optional port.  The peer does nothing until a connection
// is associated with it.
func NewPeer(host string, cfg *Config) (*Peer, error) {
	c := *cfg // Copy so caller can't mutate.
	if err := c.normalize(); err != nil {
		return nil, err
	}

	h, port, err := splitHostPort(host, c.DefaultPort)
	if err != nil {
		return nil, err
	}

	p := Peer{
		id:              atomic.AddInt32(&nodeCount, 1),
		addr:            net.JoinHostPort(h, strconv.Itoa(int(port))),
		host:            h,
		port:            port,
		cfg:             c,
		writeTimeout:    int64(c.WriteTimeout),
		knownInventory:  lru.NewCache(maxKnownInventory),
		sentTxs:         make(map[chainhash.Hash]*list.Element),
		sentTxOrder:     list.New(),
		protocolVersion: c.ProtocolVersion,
		chain:           c.BlockChain,
		outputQueue:     make(chan outMsg, outputBufferSize),
		sendQueue:       make(chan outMsg, 1),   // nonblocking sync
		sendDoneQueue:   make(chan struct{}, 1), // nonblocking sync
		queueQuit:       make(chan struct{}),
		quit:            make(chan struct{}),
		finished:        make(chan struct{}),
	}
	p.sync.init()
	return &p, nil
}

// splitHostPort splits hostport into a host and a port, using defaultPort when
// no port is given.
func splitHostPort(hostport string, defaultPort uint16) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port, possibly a bare or bracketed IPv6 address.
		host = strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]")
		if host == "" {
			return "", 0, fmt.Errorf("invalid peer address %q", hostport)
		}
		return host, defaultPort, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid peer address %q", hostport)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in peer address %q: %v",
			hostport, err)
	}
	return host, uint16(port), nil
}

// String returns the peer's address and directionality as a human-readable
// string.
//
// This function is safe for concurrent access.
func (p *Peer) String() string {
	return fmt.Sprintf("%s (%s)", p.addr, directionString(false))
}

// AssociateConnection associates the given conn to the peer, starts its
// input and output goroutines and begins the version handshake.  Connections
// passed to an already associated or disconnected peer are closed.
func (p *Peer) AssociateConnection(conn net.Conn) {
	p.connMtx.Lock()
	if p.conn != nil || p.Status() == StatusDisconnected {
		p.connMtx.Unlock()
		log.Debugf("Closing connection %v: peer %s is not usable",
			conn.RemoteAddr(), p)
		conn.Close()
		return
	}

	p.conn = conn
	p.statsMtx.Lock()
	p.timeConnected = time.Now()
	p.statsMtx.Unlock()

	p.wg.Add(3)
	go p.inHandler()
	go p.queueHandler()
	go p.outHandler()
	p.handshakeTimer = time.AfterFunc(p.cfg.HandshakeTimeout, func() {
		if p.Status() == StatusConnecting {
			str := fmt.Sprintf("handshake did not complete within %v",
				p.cfg.HandshakeTimeout)
			p.disconnectWithError(connectionError(str, nil))
		}
	})
	p.connMtx.Unlock()

	log.Debugf("Connection to %s established, sending version", p)
	p.submit(p.pushVersionMsg)
}

// remoteNetAddress returns the address of the remote peer as advertised in the
// version message.
func (p *Peer) remoteNetAddress() *wire.NetAddress {
	ip := net.ParseIP(p.host)
	port := p.port
	switch addr := p.conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		ip, port = addr.IP, uint16(addr.Port)

	case *socks.ProxiedAddr:
		if proxied := net.ParseIP(addr.Host); proxied != nil {
			ip = proxied
		}
		port = uint16(addr.Port)
	}
	if ip == nil {
		ip = net.IPv4zero
	}
	return wire.NewNetAddressIPPort(ip, port, 0)
}

// pushVersionMsg sends a version message to the connected peer using the
// current state.  It runs on the group queue.
func (p *Peer) pushVersionMsg() {
	var blockNum int32
	if p.chain != nil {
		blockNum = p.chain.BestHeight()
	}

	nonce, err := wire.RandomUint64()
	if err != nil {
		p.disconnectWithError(connectionError("failed to generate "+
			"version nonce", err))
		return
	}
	sentNonces.Add(nonce)

	me := wire.NewNetAddressIPPort(net.IPv4zero, 0, p.cfg.Services)
	msg := wire.NewMsgVersion(me, p.remoteNetAddress(), nonce, blockNum)
	err = msg.AddUserAgent(p.cfg.UserAgentName, p.cfg.UserAgentVersion)
	if err != nil {
		log.Errorf("Invalid user agent for %s: %v", p, err)
	}
	msg.ProtocolVersion = int32(p.cfg.ProtocolVersion)
	msg.Services = p.cfg.Services

	// Transactions are only wanted once a filter is loaded when
	// filtering.
	msg.DisableRelayTx = p.cfg.NeedsBloomFiltering

	p.QueueMessage(msg, nil)
}

// submit hands fn to the group queue on behalf of the peer.  fn is skipped
// when the peer has been disconnected by the time it runs.
func (p *Peer) submit(fn func()) {
	p.cfg.Group.Submit(p, func() {
		if p.Status() == StatusDisconnected {
			return
		}
		fn()
	})
}

// emit delivers e to the listener.
func (p *Peer) emit(e Event) {
	if p.cfg.Listener != nil {
		p.cfg.Listener.OnPeerEvent(p, e)
	}
}

// emitIO delivers an event raised by one of the I/O goroutines unless the peer
// has been disconnected.
func (p *Peer) emitIO(e Event) {
	if p.Status() == StatusDisconnected {
		return
	}
	p.emit(e)
}

// readMessage reads the next message from the peer with logging.  A nil
// message with a nil error is returned for commands that are skipped.
func (p *Peer) readMessage() (wire.Message, error) {
	n, command, payload, err := readFrame(p.conn, p.cfg.ChainParams.Net)
	if n > 0 {
		atomic.AddUint64(&p.bytesReceived, uint64(n))
		p.emitIO(BytesReceivedEvent{Bytes: n})
	}
	if err != nil {
		return nil, err
	}
	atomic.StoreInt64(&p.lastRecv, time.Now().UnixNano())

	if _, ok := ignoredCommands[command]; ok {
		log.Tracef("Ignoring %s message from %s", command, p)
		return nil, nil
	}
	msg, err := p.cfg.Codec.Decode(command, payload, p.ProtocolVersion())
	if err == ErrUnknownCommand {
		log.Debugf("Received unknown command [%s] from %s -- ignoring",
			sanitizeString(command, wire.CommandSize), p)
		return nil, nil
	}
	if err != nil {
		str := fmt.Sprintf("malformed %s message", command)
		return nil, protocolError(str, err)
	}

	// Use closures to log expensive operations so they are only run when
	// the logging level requires it.
	log.Debugf("%v", newLogClosure(func() string {
		// Debug summary of message.
		summary := messageSummary(msg)
		if len(summary) > 0 {
			summary = " (" + summary + ")"
		}
		return fmt.Sprintf("Received %v%s from %s",
			msg.Command(), summary, p)
	}))
	log.Tracef("%v", newLogClosure(func() string {
		return spew.Sdump(msg)
	}))
	log.Tracef("%v", newLogClosure(func() string {
		return spew.Sdump(payload)
	}))

	return msg, nil
}

// writeMessage sends a message to the peer with logging.  Messages that can
// not be encoded are logged and dropped.
func (p *Peer) writeMessage(msg wire.Message) error {
	// Use closures to log expensive operations so they are only run when the
	// logging level requires it.
	log.Debugf("%v", newLogClosure(func() string {
		// Debug summary of message.
		summary := messageSummary(msg)
		if len(summary) > 0 {
			summary = " (" + summary + ")"
		}
		return fmt.Sprintf("Sending %v%s to %s", msg.Command(),
			summary, p)
	}))
	log.Tracef("%v", newLogClosure(func() string {
		return spew.Sdump(msg)
	}))

	payload, err := p.cfg.Codec.Encode(msg, p.ProtocolVersion())
	if err != nil {
		log.Errorf("Failed to encode %s message for %s: %v",
			msg.Command(), p, err)
		return nil
	}
	frame, err := encodeFrame(p.cfg.ChainParams.Net, msg.Command(), payload)
	if err != nil {
		log.Errorf("Failed to frame %s message for %s: %v",
			msg.Command(), p, err)
		return nil
	}
	log.Tracef("%v", newLogClosure(func() string {
		return spew.Sdump(frame)
	}))

	timeout := p.WriteTimeout()
	if err := p.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return connectionError("failed to set write deadline", err)
	}
	n, err := p.conn.Write(frame)
	if n > 0 {
		atomic.AddUint64(&p.bytesSent, uint64(n))
		p.statsMtx.Lock()
		p.lastSend = time.Now()
		p.statsMtx.Unlock()
		p.emitIO(BytesSentEvent{Bytes: n})
	}
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			str := fmt.Sprintf("%s message not written within %v",
				msg.Command(), timeout)
			return makeError(ErrWriteTimeout, str, err)
		}
		return connectionError("write failed", err)
	}
	return nil
}

// inHandler handles all incoming messages for the peer.  It must be run as a
// goroutine.
func (p *Peer) inHandler() {
	defer p.wg.Done()

	for {
		msg, err := p.readMessage()
		if err != nil {
			// Errors caused by a local disconnect closing the
			// connection are ignored.
			if p.Status() != StatusDisconnected {
				log.Debugf("Read from %s failed: %v", p, err)
				p.disconnectWithError(err)
			}
			break
		}
		if msg == nil {
			continue
		}
		p.dispatchMessage(msg)
	}

	log.Tracef("Peer input handler done for %s", p)
}

// queueHandler handles the queuing of outgoing data for the peer.  This runs
// as a muxer for various sources of input so we can ensure that the outHandler
// never blocks on the QueueMessage callers.  It must be run as a goroutine.
func (p *Peer) queueHandler() {
	defer p.wg.Done()

	pendingMsgs := list.New()

	// We keep the waiting flag so that we know if we have a message queued
	// to the outHandler or not.  We could use the presence of a head of
	// the list for this but then we have rather racy concerns about whether
	// it has gotten it at cleanup time - and thus who sends on the
	// message's done channel.  To avoid such confusion we keep a different
	// flag and pendingMsgs only contains messages that we have not yet
	// passed to outHandler.
	waiting := false

	// To avoid duplication below.
	queuePacket := func(msg outMsg, list *list.List, waiting bool) bool {
		if !waiting {
			p.sendQueue <- msg
		} else {
			list.PushBack(msg)
		}
		// we are always waiting now.
		return true
	}
out:
	for {
		select {
		case msg := <-p.outputQueue:
			waiting = queuePacket(msg, pendingMsgs, waiting)

		// This channel is notified when a message has been sent across
		// the network socket.
		case <-p.sendDoneQueue:
			// No longer waiting if there are no more messages
			// in the pending messages queue.
			next := pendingMsgs.Front()
			if next == nil {
				waiting = false
				continue
			}

			// Notify the outHandler about the next item to
			// asynchronously send.
			val := pendingMsgs.Remove(next)
			p.sendQueue <- val.(outMsg)

		case <-p.quit:
			break out
		}
	}

	// Drain any wait channels before going away so there is nothing left
	// waiting on this goroutine.
	for e := pendingMsgs.Front(); e != nil; e = pendingMsgs.Front() {
		val := pendingMsgs.Remove(e)
		msg := val.(outMsg)
		if msg.doneChan != nil {
			close(msg.doneChan)
		}
	}
cleanup:
	for {
		select {
		case msg := <-p.outputQueue:
			if msg.doneChan != nil {
				close(msg.doneChan)
			}
		default:
			break cleanup
		}
	}
	close(p.queueQuit)
	log.Tracef("Peer queue handler done for %s", p)
}

// outHandler handles all outgoing messages for the peer.  It must be run as a
// goroutine.  It uses a buffered channel to serialize output messages while
// allowing the sender to continue running asynchronously.
func (p *Peer) outHandler() {
	defer p.wg.Done()

out:
	for {
		select {
		case msg := <-p.sendQueue:
			if ping, ok := msg.msg.(*wire.MsgPing); ok {
				p.statsMtx.Lock()
				p.lastPingNonce = ping.Nonce
				p.lastPingTime = time.Now()
				p.statsMtx.Unlock()
			}

			err := p.writeMessage(msg.msg)
			if msg.doneChan != nil {
				close(msg.doneChan)
			}
			if err != nil {
				if p.Status() != StatusDisconnected {
					log.Debugf("Failed to send message to "+
						"%s: %v", p, err)
					p.disconnectWithError(err)
				}
				break out
			}

			// At this point, the message was successfully sent, so
			// notify the queue handler.
			p.sendDoneQueue <- struct{}{}

		case <-p.quit:
			break out
		}
	}

	<-p.queueQuit

	// Drain any wait channels before we go away so we don't leave something
	// waiting for us.
cleanup:
	for {
		select {
		case msg := <-p.sendQueue:
			if msg.doneChan != nil {
				close(msg.doneChan)
			}
		default:
			break cleanup
		}
	}
	log.Tracef("Peer output handler done for %s", p)
}

// QueueMessage adds the passed message to the peer send queue.  doneChan, when
// not nil, is closed once the message has been written or dropped.
//
// This function is safe for concurrent access.
func (p *Peer) QueueMessage(msg wire.Message, doneChan chan<- struct{}) {
	// Avoid risk of deadlock if goroutine already exited.  The goroutine
	// we will be sending to hangs around until it knows for a fact that
	// it is marked as disconnected and *then* it drains the channels.
	if p.Status() == StatusDisconnected {
		if doneChan != nil {
			close(doneChan)
		}
		return
	}

	select {
	case p.outputQueue <- outMsg{msg: msg, doneChan: doneChan}:
	case <-p.quit:
		if doneChan != nil {
			close(doneChan)
		}
	}
}

// Disconnect closes the connection and moves the peer to the terminal
// disconnected status.  The DisconnectedEvent it causes carries a nil error.
//
// This function is safe for concurrent access.
func (p *Peer) Disconnect() {
	p.disconnectWithError(nil)
}

// ConnectionFailed moves a peer whose connection could not be established to
// the disconnected status.  The DisconnectedEvent it causes carries an
// ErrConnection error wrapping err.
//
// This function is safe for concurrent access.
func (p *Peer) ConnectionFailed(err error) {
	p.disconnectWithError(connectionError("unable to connect", err))
}

// disconnectWithError moves the peer to the disconnected status, closes the
// connection and discards the peer's queued group work.  Only the first call
// has any effect.  The DisconnectedEvent is delivered on the group queue once
// the I/O goroutines have exited.
func (p *Peer) disconnectWithError(err error) {
	for {
		status := atomic.LoadInt32(&p.status)
		if Status(status) == StatusDisconnected {
			return
		}
		if atomic.CompareAndSwapInt32(&p.status, status,
			int32(StatusDisconnected)) {

			break
		}
	}

	if err != nil {
		log.Infof("Disconnecting %s: %v", p, err)
	} else {
		log.Debugf("Disconnecting %s", p)
	}

	close(p.quit)
	p.connMtx.Lock()
	if p.handshakeTimer != nil {
		p.handshakeTimer.Stop()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.connMtx.Unlock()

	if n := p.cfg.Group.Cancel(p); n > 0 {
		log.Debugf("Discarded %d queued work items of %s", n, p)
	}

	go func() {
		p.wg.Wait()

		deliver := func() {
			p.CleanUpConnectionData()
			p.emit(DisconnectedEvent{Err: err})
			close(p.finished)
		}
		if !p.cfg.Group.Submit(nil, deliver) {
			deliver()
		}
	}()
}

// WaitForDisconnect waits until the peer has disconnected and its
// DisconnectedEvent has been delivered, or until the group queue is stopped.
func (p *Peer) WaitForDisconnect() {
	select {
	case <-p.finished:
	case <-p.cfg.Group.Stopped():
		p.wg.Wait()
	}
}

// takeSentTx removes and returns the transaction with the passed hash that
// was sent with SendTx, if it is still remembered.
//
// This function is safe for concurrent access.
func (p *Peer) takeSentTx(hash *chainhash.Hash) *wire.MsgTx {
	p.sentTxsMtx.Lock()
	defer p.sentTxsMtx.Unlock()

	elem, ok := p.sentTxs[*hash]
	if !ok {
		return nil
	}
	delete(p.sentTxs, *hash)
	return p.sentTxOrder.Remove(elem).(*wire.MsgTx)
}

// rememberSentTx records tx so a later reject can refer to it.  The oldest
// transaction is forgotten once maxSentTxs are remembered.
//
// This function is safe for concurrent access.
func (p *Peer) rememberSentTx(tx *wire.MsgTx) {
	hash := tx.TxHash()

	p.sentTxsMtx.Lock()
	defer p.sentTxsMtx.Unlock()

	if elem, ok := p.sentTxs[hash]; ok {
		p.sentTxOrder.MoveToBack(elem)
		return
	}
	if p.sentTxOrder.Len() >= maxSentTxs {
		oldest := p.sentTxOrder.Front()
		evicted := p.sentTxOrder.Remove(oldest).(*wire.MsgTx)
		delete(p.sentTxs, evicted.TxHash())
	}
	p.sentTxs[hash] = p.sentTxOrder.PushBack(tx)
}

// ID returns the peer id.
//
// This function is safe for concurrent access.
func (p *Peer) ID() int32 {
	return p.id
}

// Addr returns the peer address.
//
// This function is safe for concurrent access.
func (p *Peer) Addr() string {
	return p.addr
}

// Host returns the host of the peer address.
//
// This function is safe for concurrent access.
func (p *Peer) Host() string {
	return p.host
}

// Port returns the port of the peer address.
//
// This function is safe for concurrent access.
func (p *Peer) Port() uint16 {
	return p.port
}

// Status returns the connection status of the peer.
//
// This function is safe for concurrent access.
func (p *Peer) Status() Status {
	return Status(atomic.LoadInt32(&p.status))
}

// Connected returns whether or not the version handshake has completed and the
// peer has not been disconnected since.
//
// This function is safe for concurrent access.
func (p *Peer) Connected() bool {
	return p.Status() == StatusConnected
}

// ProtocolVersion returns the negotiated protocol version, or the local one
// until the remote version is known.
//
// This function is safe for concurrent access.
func (p *Peer) ProtocolVersion() uint32 {
	p.statsMtx.RLock()
	protocolVersion := p.protocolVersion
	p.statsMtx.RUnlock()

	return protocolVersion
}

// Services returns the services flag of the remote peer.
//
// This function is safe for concurrent access.
func (p *Peer) Services() wire.ServiceFlag {
	p.statsMtx.RLock()
	services := p.services
	p.statsMtx.RUnlock()

	return services
}

// UserAgent returns the user agent of the remote peer.
//
// This function is safe for concurrent access.
func (p *Peer) UserAgent() string {
	p.statsMtx.RLock()
	userAgent := p.userAgent
	p.statsMtx.RUnlock()

	return userAgent
}

// RemoteTimestamp returns the time the remote peer reported in its version
// message.
//
// This function is safe for concurrent access.
func (p *Peer) RemoteTimestamp() time.Time {
	p.statsMtx.RLock()
	remoteTimestamp := p.remoteTimestamp
	p.statsMtx.RUnlock()

	return remoteTimestamp
}

// StartingHeight returns the best height the remote peer reported in its
// version message.
//
// This function is safe for concurrent access.
func (p *Peer) StartingHeight() int32 {
	p.statsMtx.RLock()
	startingHeight := p.startingHeight
	p.statsMtx.RUnlock()

	return startingHeight
}

// LastBlockHeight returns the best known height of the remote peer.  It starts
// out as the height reported in the version message and is raised as blocks
// are integrated.
//
// This function is safe for concurrent access.
func (p *Peer) LastBlockHeight() int32 {
	p.statsMtx.RLock()
	lastBlock := p.lastBlock
	p.statsMtx.RUnlock()

	return lastBlock
}

// updateLastBlockHeight raises the best known height of the remote peer.
func (p *Peer) updateLastBlockHeight(height int32) {
	p.statsMtx.Lock()
	if height > p.lastBlock {
		log.Tracef("Updating last block height of peer %v from %v to %v",
			p.addr, p.lastBlock, height)
		p.lastBlock = height
	}
	p.statsMtx.Unlock()
}

// TimeConnected returns the time at which the connection was associated.
//
// This function is safe for concurrent access.
func (p *Peer) TimeConnected() time.Time {
	p.statsMtx.RLock()
	timeConnected := p.timeConnected
	p.statsMtx.RUnlock()

	return timeConnected
}

// LastSeen returns the time the last valid message was received.
//
// This function is safe for concurrent access.
func (p *Peer) LastSeen() time.Time {
	nanos := atomic.LoadInt64(&p.lastRecv)
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// LastPingMicros returns the round trip time of the last answered ping.
//
// This function is safe for concurrent access.
func (p *Peer) LastPingMicros() int64 {
	p.statsMtx.RLock()
	lastPingMicros := p.lastPingMicros
	p.statsMtx.RUnlock()

	return lastPingMicros
}

// BytesSent returns the total number of bytes sent to the peer.
//
// This function is safe for concurrent access.
func (p *Peer) BytesSent() uint64 {
	return atomic.LoadUint64(&p.bytesSent)
}

// BytesReceived returns the total number of bytes received from the peer.
//
// This function is safe for concurrent access.
func (p *Peer) BytesReceived() uint64 {
	return atomic.LoadUint64(&p.bytesReceived)
}

// WriteTimeout returns the bound on writing a single message.
//
// This function is safe for concurrent access.
func (p *Peer) WriteTimeout() time.Duration {
	return time.Duration(atomic.LoadInt64(&p.writeTimeout))
}

// SetWriteTimeout changes the bound on writing a single message.  It applies
// to the next message written.
//
// This function is safe for concurrent access.
func (p *Peer) SetWriteTimeout(timeout time.Duration) {
	atomic.StoreInt64(&p.writeTimeout, int64(timeout))
}

// IsDownloadPeer returns whether the peer is the download peer of its group.
//
// This function is safe for concurrent access.
func (p *Peer) IsDownloadPeer() bool {
	return atomic.LoadInt32(&p.downloadPeer) != 0
}

// SetDownloadPeer marks the peer as the download peer of its group or clears
// the mark.  Uniqueness across the group is up to the caller.
//
// This function is safe for concurrent access.
func (p *Peer) SetDownloadPeer(downloadPeer bool) {
	var v int32
	if downloadPeer {
		v = 1
	}
	atomic.StoreInt32(&p.downloadPeer, v)
}

// NeedsBloomFiltering returns whether filtered blocks are requested.
//
// This function is safe for concurrent access.
func (p *Peer) NeedsBloomFiltering() bool {
	return p.cfg.NeedsBloomFiltering
}

// ShouldDownloadBlocks returns whether blocks are requested from the peer.
//
// This function is safe for concurrent access.
func (p *Peer) ShouldDownloadBlocks() bool {
	return p.cfg.ShouldDownloadBlocks
}

// StatsSnapshot returns a snapshot of the current peer flags and statistics.
//
// This function is safe for concurrent access.
func (p *Peer) StatsSnapshot() *StatsSnap {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()

	return &StatsSnap{
		ID:             p.id,
		Addr:           p.addr,
		Status:         p.Status(),
		Services:       p.services,
		LastSend:       p.lastSend,
		LastRecv:       p.LastSeen(),
		BytesSent:      p.BytesSent(),
		BytesRecv:      p.BytesReceived(),
		ConnTime:       p.timeConnected,
		RemoteTime:     p.remoteTimestamp,
		Version:        p.protocolVersion,
		UserAgent:      p.userAgent,
		StartingHeight: p.startingHeight,
		LastBlock:      p.lastBlock,
		LastPingNonce:  p.lastPingNonce,
		LastPingTime:   p.lastPingTime,
		LastPingMicros: p.lastPingMicros,
		DownloadPeer:   p.IsDownloadPeer(),
	}
}
