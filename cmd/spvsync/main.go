// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/btcsuite/btcspv/connpool"
	"github.com/btcsuite/btcspv/headerdb"
	"github.com/btcsuite/btcspv/internal/log"
	"github.com/btcsuite/btcspv/internal/version"
	"github.com/btcsuite/btcspv/spvchain"
	"github.com/btcsuite/btcspv/spvpeer"
	"github.com/btcsuite/btcspv/workqueue"
)

const (
	// headerDbNamePrefix is the prefix for the header database.
	headerDbNamePrefix = "headers"
)

var spvsLog = log.SpvsLog

// loadHeaderDB opens the header database and returns a handle to it.
func loadHeaderDB(cfg *config) (*headerdb.DB, error) {
	// The database name is based on the database type.
	dbName := headerDbNamePrefix + "_" + cfg.DbType
	dbPath := filepath.Join(cfg.DataDir, dbName)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}

	spvsLog.Infof("Loading header database from '%s'", dbPath)
	db, err := headerdb.Open(cfg.DbType, dbPath)
	if err != nil {
		return nil, err
	}

	spvsLog.Info("Header database loaded")
	return db, nil
}

// spvsyncMain is the real main function for spvsync.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
func spvsyncMain() error {
	// Load configuration and parse command line.
	cfg, _, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	// Initialize the log rotator now that the log directory is known.
	err = log.InitLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		return err
	}
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	// Show version at startup.
	spvsLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)

	interrupt := interruptListener()

	db, err := loadHeaderDB(cfg)
	if err != nil {
		spvsLog.Errorf("%v", err)
		return err
	}
	defer func() {
		spvsLog.Infof("Gracefully shutting down the header database...")
		db.Close()
	}()

	chain, err := spvchain.New(activeNetParams, db)
	if err != nil {
		spvsLog.Errorf("Unable to load the header chain: %v", err)
		return err
	}

	group := workqueue.New()
	group.Start()
	defer group.Stop()

	pool, err := connpool.New(&connpool.Config{
		Proxy:        cfg.Proxy,
		ProxyUser:    cfg.ProxyUser,
		ProxyPass:    cfg.ProxyPass,
		TorIsolation: cfg.TorIsolation,
		DialTimeout:  cfg.DialTimeout,
	})
	if err != nil {
		return err
	}

	s := newSyncer(cfg)
	p, err := spvpeer.NewPeer(cfg.Connect, &spvpeer.Config{
		ChainParams:          activeNetParams,
		Group:                group,
		BlockChain:           chain,
		ShouldDownloadBlocks: !cfg.NoDownload,
		NeedsBloomFiltering:  s.filtering(),
		WriteTimeout:         cfg.WriteTimeout,
		Listener:             s,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interrupt:
			cancel()
		case <-ctx.Done():
		}
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer stop()
		return s.run(gctx, pool, p)
	})
	g.Go(func() error {
		logStats(gctx, p)
		return nil
	})
	if err := g.Wait(); err != nil {
		spvsLog.Errorf("Synchronization failed: %v", err)
		return err
	}

	spvsLog.Infof("Best chain height %d (%v)", chain.BestHeight(),
		chain.BestHash())
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := spvsyncMain(); err != nil {
		os.Exit(1)
	}
}
