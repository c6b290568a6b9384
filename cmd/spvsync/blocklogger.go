// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/btcsuite/btcspv/internal/log"
)

// blockLogInterval is the minimum time between two progress messages.
const blockLogInterval = 10 * time.Second

// blockProgressLogger provides periodic logging of the block chain download.
// Headers, full blocks and filtered blocks are counted separately.
type blockProgressLogger struct {
	receivedLogHeaders int64
	receivedLogBlocks  int64
	receivedLogTx      int64
	lastBlockLogTime   time.Time

	subsystemLogger btclog.Logger
	progressAction  string
	now             func() time.Time
	sync.Mutex
}

// newBlockProgressLogger returns a new block progress logger.
// The progress message is templated as follows:
//
//	{progressAction} {numBlocks} {blocks|block} and {numHeaders}
//	{headers|header} in the last {timePeriod} ({numTxs}, height
//	{lastHeight}, {lastTimestamp})
func newBlockProgressLogger(progressMessage string, logger btclog.Logger) *blockProgressLogger {
	return &blockProgressLogger{
		lastBlockLogTime: time.Now(),
		progressAction:   progressMessage,
		subsystemLogger:  logger,
		now:              time.Now,
	}
}

// LogHeader counts a header integrated at height.
func (b *blockProgressLogger) LogHeader(height int32, timestamp time.Time) bool {
	b.Lock()
	defer b.Unlock()

	b.receivedLogHeaders++
	return b.maybeLog(height, timestamp)
}

// LogBlock counts a full or filtered block with numTx relevant transactions
// integrated at height.
func (b *blockProgressLogger) LogBlock(height int32, timestamp time.Time, numTx int) bool {
	b.Lock()
	defer b.Unlock()

	b.receivedLogBlocks++
	b.receivedLogTx += int64(numTx)
	return b.maybeLog(height, timestamp)
}

// maybeLog logs the counted progress as an information message when at least
// blockLogInterval passed since the last message and resets the counters.  It
// returns whether a message was logged.
//
// This function MUST be called with the embedded mutex held.
func (b *blockProgressLogger) maybeLog(height int32, timestamp time.Time) bool {
	now := b.now()
	duration := now.Sub(b.lastBlockLogTime)
	if duration < blockLogInterval {
		return false
	}

	// Truncate the duration to 10s of milliseconds.
	durationMillis := int64(duration / time.Millisecond)
	tDuration := 10 * time.Millisecond * time.Duration(durationMillis/10)

	b.subsystemLogger.Infof("%s %d %s and %d %s in the last %s (%d %s, "+
		"height %d, %s)", b.progressAction, b.receivedLogBlocks,
		log.PickNoun(uint64(b.receivedLogBlocks), "block", "blocks"),
		b.receivedLogHeaders,
		log.PickNoun(uint64(b.receivedLogHeaders), "header", "headers"),
		tDuration, b.receivedLogTx,
		log.PickNoun(uint64(b.receivedLogTx), "transaction", "transactions"),
		height, timestamp)

	b.receivedLogHeaders = 0
	b.receivedLogBlocks = 0
	b.receivedLogTx = 0
	b.lastBlockLogTime = now
	return true
}

// SetLastLogTime sets the time the next interval starts at.
func (b *blockProgressLogger) SetLastLogTime(time time.Time) {
	b.Lock()
	b.lastBlockLogTime = time
	b.Unlock()
}
