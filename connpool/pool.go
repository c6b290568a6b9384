// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package connpool dials and owns the connections of SPV peers.  A connection
is made directly or through a SOCKS5 proxy, handed to its peer and forgotten
again once that peer has disconnected.
*/
package connpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/go-socks/socks"

	"github.com/btcsuite/btcspv/spvpeer"
)

// DefaultDialTimeout is the default bound on establishing a connection.
const DefaultDialTimeout = 30 * time.Second

// ErrAlreadyConnected is returned when a connection to the address of a peer
// is already open or being opened.
var ErrAlreadyConnected = errors.New("already connected")

// DialFunc connects to the address on the named network.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config holds the configuration options of a Pool.
type Config struct {
	// Dial connects to peers.  It defaults to a net.Dialer, or to the
	// SOCKS5 proxy when Proxy is set.
	Dial DialFunc

	// Proxy is the address of a SOCKS5 proxy to connect through.
	Proxy string

	// ProxyUser and ProxyPass authenticate with the proxy.
	ProxyUser string
	ProxyPass string

	// TorIsolation makes every connection use fresh random proxy
	// credentials so Tor builds a separate circuit for it.  It requires
	// Proxy.
	TorIsolation bool

	// DialTimeout bounds establishing a connection.  It defaults to
	// DefaultDialTimeout.
	DialTimeout time.Duration
}

// connReq is a connection of the pool.  It is recorded before dialing so only
// one connection per address is made.
type connReq struct {
	peer *spvpeer.Peer
}

// Pool opens and tracks the connections of peers.  It is safe for concurrent
// access.
type Pool struct {
	cfg Config

	mtx   sync.Mutex
	conns map[string]*connReq
}

// New returns a new pool for the passed configuration.
func New(cfg *Config) (*Pool, error) {
	c := *cfg
	if c.TorIsolation && c.Proxy == "" {
		return nil, errors.New("connpool: tor stream isolation requires " +
			"a proxy")
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Dial == nil {
		if c.Proxy != "" {
			proxy := &socks.Proxy{
				Addr:         c.Proxy,
				Username:     c.ProxyUser,
				Password:     c.ProxyPass,
				TorIsolation: c.TorIsolation,
			}
			c.Dial = proxyDialer(proxy, c.DialTimeout)
		} else {
			dialer := &net.Dialer{Timeout: c.DialTimeout}
			c.Dial = dialer.DialContext
		}
	}

	return &Pool{
		cfg:   c,
		conns: make(map[string]*connReq),
	}, nil
}

// proxyDialer returns a DialFunc connecting through proxy.
func proxyDialer(proxy *socks.Proxy, timeout time.Duration) DialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type result struct {
			conn net.Conn
			err  error
		}
		done := make(chan result, 1)
		go func() {
			c, err := proxy.DialTimeout(network, addr, timeout)
			done <- result{conn: c, err: err}
		}()

		select {
		case r := <-done:
			return r.conn, r.err
		case <-ctx.Done():
			// Close the connection should it still succeed.
			go func() {
				if r := <-done; r.conn != nil {
					r.conn.Close()
				}
			}()
			return nil, ctx.Err()
		}
	}
}

// OpenConnectionToPeer dials the address of p and associates the connection
// with it.  The pool forgets the connection once the peer has disconnected.
// Only one connection per address is opened at a time.  A failed dial
// disconnects p with an ErrConnection error.
func (pool *Pool) OpenConnectionToPeer(ctx context.Context, p *spvpeer.Peer) error {
	addr := p.Addr()

	pool.mtx.Lock()
	if _, ok := pool.conns[addr]; ok {
		pool.mtx.Unlock()
		return fmt.Errorf("%w to %s", ErrAlreadyConnected, addr)
	}
	entry := &connReq{peer: p}
	pool.conns[addr] = entry
	pool.mtx.Unlock()

	log.Debugf("Attempting to connect to %s", addr)
	ctx, cancel := context.WithTimeout(ctx, pool.cfg.DialTimeout)
	c, err := pool.cfg.Dial(ctx, "tcp", addr)
	cancel()
	if err != nil {
		log.Debugf("Failed to connect to %s: %v", addr, err)
		pool.forget(addr, entry)
		p.ConnectionFailed(err)
		return err
	}

	log.Infof("Connected to %s", addr)
	p.AssociateConnection(c)
	go func() {
		p.WaitForDisconnect()
		pool.forget(addr, entry)
		log.Debugf("Connection to %s closed", addr)
	}()
	return nil
}

// forget removes entry from the pool if it is still the connection for addr.
func (pool *Pool) forget(addr string, entry *connReq) {
	pool.mtx.Lock()
	if pool.conns[addr] == entry {
		delete(pool.conns, addr)
	}
	pool.mtx.Unlock()
}

// CloseConnection disconnects the peer connected to addr.  It returns false
// when there is no such connection.
func (pool *Pool) CloseConnection(addr string) bool {
	pool.mtx.Lock()
	entry, ok := pool.conns[addr]
	pool.mtx.Unlock()
	if !ok {
		return false
	}

	entry.peer.Disconnect()
	return true
}

// CloseAll disconnects every peer of the pool.
func (pool *Pool) CloseAll() {
	pool.mtx.Lock()
	peers := make([]*spvpeer.Peer, 0, len(pool.conns))
	for _, entry := range pool.conns {
		peers = append(peers, entry.peer)
	}
	pool.mtx.Unlock()

	for _, p := range peers {
		p.Disconnect()
	}
}

// Count returns the number of connections that are open or being opened.
func (pool *Pool) Count() int {
	pool.mtx.Lock()
	defer pool.mtx.Unlock()

	return len(pool.conns)
}
