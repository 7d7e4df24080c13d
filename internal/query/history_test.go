package query

import (
	"testing"

	"github.com/Klingon-tech/tapyrus-index/pkg/chainhash"
)

func entryAt(height uint32, tag byte) HistoryEntry {
	var txid chainhash.Hash256
	txid[0] = tag
	return HistoryEntry{Txid: txid, Height: chainhash.Height(height)}
}

func TestSortHistoryDescOrdersByHeightThenTxid(t *testing.T) {
	entries := []HistoryEntry{
		entryAt(5, 0x01),
		entryAt(9, 0x02),
		entryAt(5, 0x03),
		entryAt(1, 0x04),
	}
	sortHistoryDesc(entries)

	if entries[0].Height != 9 {
		t.Fatalf("expected highest height first, got %d", entries[0].Height)
	}
	if entries[1].Txid[0] != 0x03 || entries[2].Txid[0] != 0x01 {
		t.Fatalf("expected height ties broken by txid descending: %+v", entries)
	}
	if entries[3].Height != 1 {
		t.Fatalf("expected lowest height last, got %d", entries[3].Height)
	}
}

func TestPaginateFirstPage(t *testing.T) {
	entries := make([]HistoryEntry, 60)
	for i := range entries {
		entries[i] = entryAt(uint32(100-i), byte(i+1))
	}

	page := paginate(entries, nil, confirmedPageSize)
	if len(page) != confirmedPageSize {
		t.Fatalf("expected a full page, got %d", len(page))
	}
	if page[0].Txid != entries[0].Txid {
		t.Fatalf("first page must start at the newest entry")
	}
}

func TestPaginateResumesAfterCursor(t *testing.T) {
	entries := make([]HistoryEntry, 60)
	for i := range entries {
		entries[i] = entryAt(uint32(100-i), byte(i+1))
	}

	first := paginate(entries, nil, confirmedPageSize)
	cursor := first[len(first)-1].Txid
	second := paginate(entries, &cursor, confirmedPageSize)

	if len(second) != confirmedPageSize {
		t.Fatalf("expected a full second page, got %d", len(second))
	}
	if second[0].Txid != entries[confirmedPageSize].Txid {
		t.Fatalf("second page must start right after the cursor")
	}
	// Strictly lower heights than everything on page one.
	if second[0].Height >= first[len(first)-1].Height {
		t.Fatalf("expected descending heights across pages")
	}
}

func TestPaginateUnknownCursorReturnsFirstPage(t *testing.T) {
	entries := []HistoryEntry{entryAt(3, 0x01), entryAt(2, 0x02)}
	unknown := chainhash.Hash256{0xFF}
	page := paginate(entries, &unknown, confirmedPageSize)
	if len(page) != 2 {
		t.Fatalf("unknown cursor should fall back to the first page, got %d entries", len(page))
	}
}

func TestPaginatePastEndReturnsEmpty(t *testing.T) {
	entries := []HistoryEntry{entryAt(3, 0x01)}
	cursor := entries[0].Txid
	page := paginate(entries, &cursor, confirmedPageSize)
	if len(page) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(page))
	}
}
