package rowbuilder

import "github.com/Klingon-tech/tapyrus-index/pkg/address"

// AddressIndexRow is one a{address} -> locking script mapping, only written
// when the operator enables --address-search.
type AddressIndexRow struct {
	Address string
	Script  []byte
}

// BuildAddressIndexRows derives one AddressIndexRow per standard-script
// output of row, skipping outputs with no address representation.
func BuildAddressIndexRows(row *TxRow) []AddressIndexRow {
	var out []AddressIndexRow
	seen := make(map[string]bool)
	for _, o := range row.Outputs {
		addr, ok := DeriveAddress(o.Script)
		if !ok {
			continue
		}
		s := addr.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, AddressIndexRow{Address: s, Script: o.Script})
	}
	return out
}

const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqualVerify = 0x88
	opCheckSig    = 0xac
	opEqual       = 0x87
)

// DeriveAddress recognizes a standard pay-to-pubkey-hash or
// pay-to-script-hash locking script and returns the bech32 address a
// wallet would display for it. Any other script shape (including colored
// or OP_RETURN outputs) has no address representation and ok is false —
// the address-prefix search index is a convenience layer over the
// scripthash index, not a replacement for it.
func DeriveAddress(script []byte) (addr address.Address, ok bool) {
	switch {
	case len(script) == 25 && script[0] == opDup && script[1] == opHash160 && script[2] == 20 &&
		script[23] == opEqualVerify && script[24] == opCheckSig:
		addr.Kind = address.P2PKH
		copy(addr.Hash[:], script[3:23])
		return addr, true
	case len(script) == 23 && script[0] == opHash160 && script[1] == 20 && script[22] == opEqual:
		addr.Kind = address.P2SH
		copy(addr.Hash[:], script[2:22])
		return addr, true
	default:
		return address.Address{}, false
	}
}
