// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcsuite/btcspv/connpool"
	"github.com/btcsuite/btcspv/spvpeer"
)

// statsInterval is how often the statistics of the peer are logged.
const statsInterval = time.Minute

// syncer drives a single peer: it loads the bloom filter once the peer is
// connected, downloads the block chain and logs what the peer reports.
type syncer struct {
	download    bool
	fastCatchUp time.Time
	elements    [][]byte
	fpRate      float64
	progress    *blockProgressLogger

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

func newSyncer(cfg *config) *syncer {
	return &syncer{
		download:    !cfg.NoDownload,
		fastCatchUp: cfg.fastCatchUp,
		elements:    cfg.filterElements,
		fpRate:      cfg.FPRate,
		progress:    newBlockProgressLogger("Processed", spvsLog),
		done:        make(chan struct{}),
	}
}

// filtering returns whether filtered blocks are downloaded.
func (s *syncer) filtering() bool {
	return len(s.elements) > 0
}

// newFilter returns a bloom filter holding the configured elements with a
// fresh random tweak.
func (s *syncer) newFilter() *bloom.Filter {
	tweak, err := wire.RandomUint64()
	if err != nil {
		spvsLog.Warnf("Unable to generate filter tweak: %v", err)
	}
	filter := bloom.NewFilter(uint32(len(s.elements)), uint32(tweak),
		s.fpRate, wire.BloomUpdateAll)
	for _, element := range s.elements {
		filter.Add(element)
	}
	return filter
}

// finish records the outcome of the run and releases run.
func (s *syncer) finish(err error) {
	s.doneOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

// OnPeerEvent handles the events of the peer.  It is part of the
// spvpeer.Listener interface.
func (s *syncer) OnPeerEvent(p *spvpeer.Peer, e spvpeer.Event) {
	switch e := e.(type) {
	case spvpeer.ConnectedEvent:
		spvsLog.Infof("Connected to %s (%s, protocol %d, height %d)", p,
			p.UserAgent(), p.ProtocolVersion(), p.LastBlockHeight())

		if s.filtering() {
			p.SendFilterLoad(s.newFilter())
		}
		if !s.download {
			return
		}

		p.SetDownloadPeer(true)
		s.progress.SetLastLogTime(time.Now())
		started, err := p.DownloadBlockChain(s.fastCatchUp, s.onProgress,
			s.onBlockSynced)
		if err != nil {
			spvsLog.Errorf("Unable to download the block chain from "+
				"%s: %v", p, err)
			s.finish(err)
			return
		}
		if !started {
			s.finish(nil)
		}

	case spvpeer.HeaderEvent:
		s.progress.LogHeader(e.Height, e.Header.Timestamp)

	case spvpeer.BlockEvent:
		s.progress.LogBlock(e.Height, e.Block.MsgBlock().Header.Timestamp,
			len(e.Block.Transactions()))

	case spvpeer.FilteredBlockEvent:
		for _, tx := range e.Transactions {
			spvsLog.Infof("Matched transaction %v in block %d",
				tx.Hash(), e.Height)
		}
		s.progress.LogBlock(e.Height, e.Block.Header.Timestamp,
			len(e.Transactions))

	case spvpeer.TxEvent:
		spvsLog.Infof("Received transaction %v from %s", e.Tx.Hash(), p)

	case spvpeer.RejectEvent:
		spvsLog.Warnf("%s rejected %s: %s (%s)", p, e.Reject.Cmd,
			e.Reject.Code, e.Reject.Reason)

	case spvpeer.AddrEvent:
		spvsLog.Debugf("Received %d addresses from %s (last relay %v)",
			len(e.Addresses), p, e.IsLastRelay)

	case spvpeer.KeepAliveEvent:
		spvsLog.Tracef("%s is alive", p)

	case spvpeer.FilterReloadEvent:
		if s.filtering() {
			p.SendFilterLoad(s.newFilter())
		}

	case spvpeer.SyncCompleteEvent:
		spvsLog.Infof("Block chain synchronized with %s at height %d", p,
			e.Height)
		s.finish(nil)

	case spvpeer.DisconnectedEvent:
		if e.Err != nil {
			spvsLog.Errorf("Disconnected from %s: %v", p, e.Err)
		} else {
			spvsLog.Infof("Disconnected from %s", p)
		}
		s.finish(e.Err)
	}
}

func (s *syncer) onProgress(current, total int32) {
	spvsLog.Infof("Starting download of %d blocks at height %d", total,
		current)
}

func (s *syncer) onBlockSynced(height int32) {
	spvsLog.Debugf("Best chain height is now %d", height)
}

// run connects p through pool and waits until the download is over, the peer
// disconnected or ctx is done.  The peer is disconnected on return.
func (s *syncer) run(ctx context.Context, pool *connpool.Pool, p *spvpeer.Peer) error {
	if err := pool.OpenConnectionToPeer(ctx, p); err != nil {
		return err
	}

	var err error
	select {
	case <-s.done:
		err = s.err
	case <-ctx.Done():
	}

	pool.CloseAll()
	p.WaitForDisconnect()
	return err
}

// logStats logs the statistics of p every statsInterval until ctx is done.
func logStats(ctx context.Context, p *spvpeer.Peer) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := p.StatsSnapshot()
			spvsLog.Infof("%s: %s, sent %d bytes, received %d "+
				"bytes, ping %d us", p, stats.Status, stats.BytesSent,
				stats.BytesRecv, stats.LastPingMicros)
		case <-ctx.Done():
			return
		}
	}
}
