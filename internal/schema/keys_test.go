package schema

import (
	"bytes"
	"testing"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

func TestHashByHeightKeyOrdersAscending(t *testing.T) {
	k1 := HashByHeightKey(1)
	k2 := HashByHeightKey(2)
	k256 := HashByHeightKey(256)

	if bytes.Compare(k1, k2) >= 0 {
		t.Fatalf("expected key(1) < key(2)")
	}
	if bytes.Compare(k2, k256) >= 0 {
		t.Fatalf("expected key(2) < key(256), big-endian encoding must sort numerically")
	}
}

func TestHistoryKeyFundingBeforeSpending(t *testing.T) {
	var sh chainhash.Hash256
	var txid chainhash.Hash256
	sh[0] = 0xAA
	txid[0] = 0x01

	funding := HistoryKey(sh, 10, HistoryFunding, txid, 0)
	spending := HistoryKey(sh, 10, HistorySpending, txid, 0)
	if bytes.Compare(funding, spending) >= 0 {
		t.Fatalf("expected funding row to sort before spending row at same height")
	}
}

func TestHistoryUnconfirmedSortsLast(t *testing.T) {
	var sh chainhash.Hash256
	var txid chainhash.Hash256

	confirmed := HistoryKey(sh, 500, HistoryFunding, txid, 0)
	unconfirmed := HistoryKey(sh, chainhash.MaxHeight, HistoryFunding, txid, 0)
	if bytes.Compare(confirmed, unconfirmed) >= 0 {
		t.Fatalf("expected confirmed row to sort before mempool row")
	}
}

func TestHistoryPrefixScopesToScripthash(t *testing.T) {
	var sh1, sh2 chainhash.Hash256
	sh1[0] = 0x01
	sh2[0] = 0x02

	key := HistoryKey(sh1, 1, HistoryFunding, chainhash.Hash256{}, 0)
	if !bytes.HasPrefix(key, HistoryPrefix(sh1)) {
		t.Fatalf("key should have its own scripthash prefix")
	}
	if bytes.HasPrefix(key, HistoryPrefix(sh2)) {
		t.Fatalf("key should not match a different scripthash prefix")
	}
}
