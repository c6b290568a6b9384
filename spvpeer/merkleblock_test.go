// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spvpeer

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TestExtractMerkleMatches ensures the matches of merkle blocks built by the
// bloom package are extracted with the root of the header.
func TestExtractMerkleMatches(t *testing.T) {
	watched := make([]*wire.MsgTx, 0, 3)
	blocks := makeBlocks(&regtest.GenesisBlock.Header, 0, 1, time.Minute,
		func(height int32) []*wire.MsgTx {
			var txns []*wire.MsgTx
			for i := 0; i < 6; i++ {
				script := []byte{0x51}
				if i%2 == 0 {
					script = watchedScript()
				}
				tx := spendTx(coinbaseTx(int32(i), 4), script)
				if i%2 == 0 {
					watched = append(watched, tx)
				}
				txns = append(txns, tx)
			}
			return txns
		})
	block := btcutil.NewBlock(blocks[0])

	tests := []struct {
		name  string
		match bool
		want  []*wire.MsgTx
	}{
		{name: "no matches"},
		{name: "matches", match: true, want: watched},
	}

	for _, test := range tests {
		filter := bloom.NewFilter(10, 0, 0.000001, wire.BloomUpdateNone)
		if test.match {
			filter.Add(watchedData)
		}
		mb, _ := bloom.NewMerkleBlock(block, filter)

		root, matched, err := extractMerkleMatches(mb)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}
		if root != blocks[0].Header.MerkleRoot {
			t.Errorf("%s: got root %v, want %v", test.name, root,
				blocks[0].Header.MerkleRoot)
		}
		if len(matched) != len(test.want) {
			t.Errorf("%s: got %d matches, want %d", test.name,
				len(matched), len(test.want))
			continue
		}
		for i, tx := range test.want {
			if matched[i] != tx.TxHash() {
				t.Errorf("%s: match #%d: got %v, want %v",
					test.name, i, matched[i], tx.TxHash())
			}
		}
	}
}

// TestExtractMerkleMatchesErrors ensures malformed partial merkle trees are
// rejected.
func TestExtractMerkleMatchesErrors(t *testing.T) {
	a, b := chainhash.Hash{0x0a}, chainhash.Hash{0x0b}

	tests := []struct {
		name string
		msg  wire.MsgMerkleBlock
	}{{
		name: "no transactions",
		msg:  wire.MsgMerkleBlock{Flags: []byte{0}},
	}, {
		name: "too many transactions",
		msg: wire.MsgMerkleBlock{
			Transactions: 1 << 30,
			Hashes:       []*chainhash.Hash{&a},
			Flags:        []byte{0},
		},
	}, {
		name: "more hashes than transactions",
		msg: wire.MsgMerkleBlock{
			Transactions: 1,
			Hashes:       []*chainhash.Hash{&a, &b},
			Flags:        []byte{0},
		},
	}, {
		name: "not enough flag bits",
		msg: wire.MsgMerkleBlock{
			Transactions: 2,
			Hashes:       []*chainhash.Hash{&a},
		},
	}, {
		name: "unused flag byte",
		msg: wire.MsgMerkleBlock{
			Transactions: 1,
			Hashes:       []*chainhash.Hash{&a},
			Flags:        []byte{0, 0},
		},
	}, {
		name: "unused hash",
		msg: wire.MsgMerkleBlock{
			Transactions: 2,
			Hashes:       []*chainhash.Hash{&a, &b},
			Flags:        []byte{0},
		},
	}, {
		name: "missing hash",
		msg: wire.MsgMerkleBlock{
			Transactions: 2,
			Hashes:       []*chainhash.Hash{&a},
			Flags:        []byte{0x01},
		},
	}, {
		name: "identical siblings",
		msg: wire.MsgMerkleBlock{
			Transactions: 2,
			Hashes:       []*chainhash.Hash{&a, &a},
			Flags:        []byte{0x01},
		},
	}}

	for _, test := range tests {
		if _, _, err := extractMerkleMatches(&test.msg); err == nil {
			t.Errorf("%s: expected error", test.name)
		}
	}

	// The same tree with distinct siblings is fine.
	msg := &wire.MsgMerkleBlock{
		Transactions: 2,
		Hashes:       []*chainhash.Hash{&a, &b},
		Flags:        []byte{0x01},
	}
	root, matched, err := extractMerkleMatches(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := hashBranches(&a, &b); root != want || len(matched) != 0 {
		t.Fatalf("got (%v, %d matches), want (%v, 0 matches)", root,
			len(matched), want)
	}
}
