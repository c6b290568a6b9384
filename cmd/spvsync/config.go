// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/btcspv/headerdb"
	"github.com/btcsuite/btcspv/internal/log"
	"github.com/btcsuite/btcspv/spvpeer"
)

const (
	defaultLogFilename  = "spvsync.log"
	defaultDbType       = headerdb.TypeLevelDB
	defaultConnect      = "127.0.0.1"
	defaultLogLevel     = "info"
	defaultFPRate       = 0.0001
	defaultDialTimeout  = 30 * time.Second
	defaultWriteTimeout = spvpeer.DefaultWriteTimeout
)

var (
	spvsyncHomeDir  = btcutil.AppDataDir("spvsync", false)
	defaultDataDir  = filepath.Join(spvsyncHomeDir, "data")
	defaultLogDir   = filepath.Join(spvsyncHomeDir, "logs")
	knownDbTypes    = []string{headerdb.TypeLevelDB, headerdb.TypePebble}
	activeNetParams = &chaincfg.MainNetParams
)

// config defines the configuration options for spvsync.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Connect        string        `short:"c" long:"connect" description:"Peer to synchronize with, an IP address or host name with an optional port"`
	DataDir        string        `short:"b" long:"datadir" description:"Directory to store the header database"`
	LogDir         string        `long:"logdir" description:"Directory to log output"`
	DbType         string        `long:"dbtype" description:"Database backend to use for the header chain"`
	DebugLevel     string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	Proxy          string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser      string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass      string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	TorIsolation   bool          `long:"torisolation" description:"Enable Tor stream isolation by randomizing user credentials for each connection"`
	DialTimeout    time.Duration `long:"dialtimeout" description:"How long to wait for the connection to the peer"`
	WriteTimeout   time.Duration `long:"writetimeout" description:"How long writing a single message to the peer may take"`
	FastCatchUp    string        `long:"fastcatchup" description:"Only download headers for blocks before this time (RFC3339 or unix seconds)"`
	Filter         []string      `long:"filter" description:"Hex encoded data to load into a bloom filter -- Enables filtered block download, may be specified multiple times"`
	FPRate         float64       `long:"fprate" description:"False positive rate of the bloom filter"`
	NoDownload     bool          `long:"nodownload" description:"Only connect to the peer without downloading the block chain"`
	RegressionTest bool          `long:"regtest" description:"Use the regression test network"`
	SimNet         bool          `long:"simnet" description:"Use the simulation test network"`
	SigNet         bool          `long:"signet" description:"Use the signet test network"`
	TestNet3       bool          `long:"testnet" description:"Use the test network"`

	fastCatchUp    time.Time
	filterElements [][]byte
}

// validDbType returns whether or not dbType is a supported database type.
func validDbType(dbType string) bool {
	for _, knownType := range knownDbTypes {
		if dbType == knownType {
			return true
		}
	}

	return false
}

// netName returns the name used when referring to a bitcoin network.  Testnet
// version 3 data lives in the "testnet" directory as it does for btcd.
func netName(chainParams *chaincfg.Params) string {
	switch chainParams.Net {
	case wire.TestNet3:
		return "testnet"
	default:
		return chainParams.Name
	}
}

// parseFastCatchUp parses a time given either in RFC3339 format or as unix
// seconds.  An empty string is the zero time.
func parseFastCatchUp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected "+
			"RFC3339 or unix seconds", s)
	}
	return t, nil
}

// parseFilterElements decodes the hex encoded filter elements.
func parseFilterElements(elements []string) ([][]byte, error) {
	decoded := make([][]byte, 0, len(elements))
	for _, element := range elements {
		b, err := hex.DecodeString(strings.TrimPrefix(element, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid filter element %q: %v",
				element, err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("empty filter element")
		}
		decoded = append(decoded, b)
	}
	return decoded, nil
}

// loadConfig initializes and parses the config using command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Override defaults with any specified command line options
//  3. Validate and derive the remaining settings
func loadConfig(args []string) (*config, []string, error) {
	// Default config.
	cfg := config{
		Connect:      defaultConnect,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		DbType:       defaultDbType,
		DebugLevel:   defaultLogLevel,
		DialTimeout:  defaultDialTimeout,
		WriteTimeout: defaultWriteTimeout,
		FPRate:       defaultFPRate,
	}

	// Parse command line options.
	parser := flags.NewParser(&cfg, flags.Default)
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	funcName := "loadConfig"
	numNets := 0
	params := &chaincfg.MainNetParams
	if cfg.TestNet3 {
		numNets++
		params = &chaincfg.TestNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		params = &chaincfg.RegressionNetParams
	}
	if cfg.SimNet {
		numNets++
		params = &chaincfg.SimNetParams
	}
	if cfg.SigNet {
		numNets++
		params = &chaincfg.SigNetParams
	}
	if numNets > 1 {
		str := "%s: The testnet, regtest, simnet and signet params " +
			"can't be used together -- choose one of the four"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}
	activeNetParams = params

	// Validate database type.
	if !validDbType(cfg.DbType) {
		str := "%s: The specified database type [%v] is invalid -- " +
			"supported types %v"
		err := fmt.Errorf(str, funcName, cfg.DbType, knownDbTypes)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	if cfg.Connect == "" {
		err := fmt.Errorf("%s: a peer to connect to is required", funcName)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Tor stream isolation requires a proxy.
	if cfg.TorIsolation && cfg.Proxy == "" {
		err := fmt.Errorf("%s: --torisolation requires --proxy", funcName)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if cfg.FPRate <= 0 || cfg.FPRate >= 1 {
		str := "%s: The false positive rate [%v] must be between 0 " +
			"and 1"
		err := fmt.Errorf(str, funcName, cfg.FPRate)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	cfg.fastCatchUp, err = parseFastCatchUp(cfg.FastCatchUp)
	if err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	cfg.filterElements, err = parseFilterElements(cfg.Filter)
	if err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Append the network type to the data and log directories so they
	// are "namespaced" per network.
	cfg.DataDir = filepath.Join(cfg.DataDir, netName(activeNetParams))
	cfg.LogDir = filepath.Join(cfg.LogDir, netName(activeNetParams))

	// Parse, validate, and set debug log level(s).
	if err := log.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
