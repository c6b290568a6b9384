// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"errors"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcspv/internal/version"
	"github.com/btcsuite/btcspv/spvchain"
	"github.com/btcsuite/btcspv/workqueue"
)

const (
	// MaxProtocolVersion is the max protocol version the peer supports.
	MaxProtocolVersion = wire.FeeFilterVersion

	// DefaultWriteTimeout is the default bound on writing a single message.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultHandshakeTimeout is the default time allowed for the version
	// handshake to complete.
	DefaultHandshakeTimeout = 30 * time.Second

	// DefaultSyncRetryLimit is the default number of consecutive sync
	// failures tolerated before the peer is disconnected.
	DefaultSyncRetryLimit = 3
)

// BlockChain is the block chain a peer synchronizes.  Every call is made from
// the group queue.  spvchain.Chain implements it.
type BlockChain interface {
	// BestHeight returns the height of the best chain tip.
	BestHeight() int32

	// BestTimestamp returns the timestamp of the best chain tip.
	BestTimestamp() time.Time

	// BlockLocator returns a locator for the best chain tip.
	BlockLocator() blockchain.BlockLocator

	// HaveBlock returns whether the block with the passed hash is known.
	HaveBlock(hash *chainhash.Hash) bool

	// ProcessHeader integrates a header.
	ProcessHeader(header *wire.BlockHeader) (spvchain.Result, int32, error)

	// ProcessBlock integrates a full block.
	ProcessBlock(block *btcutil.Block) (spvchain.Result, int32, error)
}

// Config is the struct to hold configuration options useful to Peer.  NewPeer
// copies it, so later changes by the caller have no effect.
type Config struct {
	// ChainParams identifies which chain parameters the peer is
	// associated with.  It is required.
	ChainParams *chaincfg.Params

	// DefaultPort is used when the host passed to NewPeer carries no port.
	// It defaults to the port of ChainParams.
	DefaultPort uint16

	// Group is the serial queue that runs business logic for every peer of
	// a group.  It is required.
	Group *workqueue.Queue

	// BlockChain is the chain the peer synchronizes.  It is required when
	// ShouldDownloadBlocks is set.
	BlockChain BlockChain

	// ShouldDownloadBlocks specifies whether blocks are requested from the
	// peer.  The remote peer must then be a full node.
	ShouldDownloadBlocks bool

	// NeedsBloomFiltering specifies whether filtered blocks are requested
	// instead of full blocks and transaction relay is disabled until a
	// filter is loaded.
	NeedsBloomFiltering bool

	// UserAgentName and UserAgentVersion are advertised in the version
	// message.  They default to the btcspv user agent.
	UserAgentName    string
	UserAgentVersion string

	// ProtocolVersion is the highest protocol version to advertise.  It
	// defaults to MaxProtocolVersion.
	ProtocolVersion uint32

	// Services are the services to advertise.
	Services wire.ServiceFlag

	// WriteTimeout bounds writing a single message.  It defaults to
	// DefaultWriteTimeout.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the version handshake.  It defaults to
	// DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// SyncRetryLimit is the number of consecutive sync failures tolerated
	// before the peer is disconnected.  It defaults to
	// DefaultSyncRetryLimit.
	SyncRetryLimit int

	// Codec encodes and decodes message payloads.  It defaults to the
	// btcd wire codec.
	Codec MessageCodec

	// Listener receives peer events.  It may be nil.
	Listener Listener
}

// normalize validates the configuration and fills in defaults.
func (cfg *Config) normalize() error {
	if cfg.ChainParams == nil {
		return errors.New("spvpeer: chain parameters are required")
	}
	if cfg.Group == nil {
		return errors.New("spvpeer: group queue is required")
	}
	if cfg.ShouldDownloadBlocks && cfg.BlockChain == nil {
		return errors.New("spvpeer: a block chain is required to " +
			"download blocks")
	}
	if cfg.DefaultPort == 0 {
		port, err := strconv.ParseUint(cfg.ChainParams.DefaultPort, 10, 16)
		if err != nil {
			return err
		}
		cfg.DefaultPort = uint16(port)
	}
	if cfg.UserAgentName == "" {
		cfg.UserAgentName = version.AppName
		cfg.UserAgentVersion = version.UserAgentVersion()
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = MaxProtocolVersion
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.SyncRetryLimit <= 0 {
		cfg.SyncRetryLimit = DefaultSyncRetryLimit
	}
	if cfg.Codec == nil {
		cfg.Codec = WireCodec{}
	}
	return nil
}
