// Package address decodes the bech32 addresses the HTTP and Electrum
// transports accept into the locking script they reference, so every
// transport derives the same scripthash the same way. The payload carries a
// leading kind byte ahead of the 20-byte hash, so an address also tells the
// indexer whether to build a pay-to-pubkey-hash or pay-to-script-hash
// locking script.
package address

import (
	"fmt"
)

// Kind distinguishes what an address's 20-byte payload hashes.
type Kind uint8

const (
	P2PKH Kind = iota
	P2SH
)

// HashSize is the length of the hashed payload inside an address (hash160
// in spirit, though this indexer never hashes a pubkey itself — it only
// ever receives addresses from clients and must reverse them).
const HashSize = 20

// MainnetHRP and TestnetHRP are this project's bech32 human-readable parts.
const (
	MainnetHRP = "tpr"
	TestnetHRP = "tprt"
)

// Address is a decoded address: which kind of script it locks, plus the
// hashed payload.
type Address struct {
	Kind Kind
	Hash [HashSize]byte
}

// Decode parses a bech32 address string into an Address.
func Decode(s string) (Address, error) {
	_, data, err := bech32Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("address: %w", err)
	}
	if len(data) != 1+HashSize {
		return Address{}, fmt.Errorf("address: expected %d payload bytes, got %d", 1+HashSize, len(data))
	}
	var a Address
	switch data[0] {
	case byte(P2PKH):
		a.Kind = P2PKH
	case byte(P2SH):
		a.Kind = P2SH
	default:
		return Address{}, fmt.Errorf("address: unknown kind byte %#x", data[0])
	}
	copy(a.Hash[:], data[1:])
	return a, nil
}

// String bech32-encodes a with the mainnet HRP.
func (a Address) String() string {
	return a.Encode(MainnetHRP)
}

// Encode bech32-encodes a under the given HRP (MainnetHRP or TestnetHRP).
func (a Address) Encode(hrp string) string {
	payload := make([]byte, 1+HashSize)
	payload[0] = byte(a.Kind)
	copy(payload[1:], a.Hash[:])
	s, err := bech32Encode(hrp, payload)
	if err != nil {
		return ""
	}
	return s
}

// Script builds the raw locking script an output paying this address would
// carry: the standard P2PKH (OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY
// OP_CHECKSIG) or P2SH (OP_HASH160 <hash> OP_EQUAL) script around the
// 20-byte hash. Signature/redeem-script
// validation is out of scope (the daemon is authoritative); this indexer
// only ever needs a script's bytes to derive its scripthash.
func (a Address) Script() []byte {
	const (
		opDup         = 0x76
		opHash160     = 0xa9
		opEqualVerify = 0x88
		opCheckSig    = 0xac
		opHash160SH   = 0xa9
		opEqual       = 0x87
	)
	switch a.Kind {
	case P2SH:
		script := make([]byte, 0, 2+HashSize+1)
		script = append(script, opHash160SH)
		script = append(script, byte(HashSize))
		script = append(script, a.Hash[:]...)
		return append(script, opEqual)
	default: // P2PKH
		script := make([]byte, 0, 3+HashSize+2)
		script = append(script, opDup, opHash160, byte(HashSize))
		script = append(script, a.Hash[:]...)
		return append(script, opEqualVerify, opCheckSig)
	}
}
