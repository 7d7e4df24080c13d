// Package chainhash defines the hash and identifier types shared by the
// wire codec, the on-disk schema, and every query transport.
package chainhash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// HashSize is the length in bytes of a double-SHA256 digest.
const HashSize = 32

// ColorIdSize is the length in bytes of a Tapyrus colored-coin identifier:
// a 1-byte type tag followed by a 32-byte payload (script hash or outpoint hash).
const ColorIdSize = 33

// Hash256 is a double-SHA256 digest, stored internally in the byte order
// it is computed in (not the reversed "display" order some wallets use).
type Hash256 [HashSize]byte

// Sum256 computes a single SHA-256 digest.
func Sum256(data []byte) Hash256 {
	return Hash256(sha256.Sum256(data))
}

// DoubleSum256 computes SHA-256(SHA-256(data)), the digest used for txids
// and block hashes on Bitcoin-derived chains including Tapyrus.
func DoubleSum256(data []byte) Hash256 {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return Hash256(second)
}

// ScriptHash derives the Electrum-style scripthash: SHA-256 of the raw
// output script, used as the native lookup key for the Electrum and
// HTTP scripthash endpoints.
func ScriptHash(script []byte) Hash256 {
	return Sum256(script)
}

func (h Hash256) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the digest's bytes.
func (h Hash256) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// IsZero reports whether h is the all-zero hash (used for coinbase prevouts).
func (h Hash256) IsZero() bool {
	return h == Hash256{}
}

// HashFromString parses a hex-encoded hash.
func HashFromString(s string) (Hash256, error) {
	var h Hash256
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashSize {
		return h, errors.New("chainhash: wrong hash length")
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies b into a Hash256, erroring if the length is wrong.
func HashFromBytes(b []byte) (Hash256, error) {
	var h Hash256
	if len(b) != HashSize {
		return h, errors.New("chainhash: wrong hash length")
	}
	copy(h[:], b)
	return h, nil
}

// ColorId identifies a colored-coin issuance: a 1-byte type (issue/transfer/
// burn script tag) plus the 32-byte hash of the originating script or
// outpoint, per the Tapyrus color identifier scheme.
type ColorId [ColorIdSize]byte

func (c ColorId) String() string {
	return hex.EncodeToString(c[:])
}

// IsZero reports whether c is unset (uncolored output).
func (c ColorId) IsZero() bool {
	return c == ColorId{}
}

// ColorIdFromString parses a hex-encoded color identifier.
func ColorIdFromString(s string) (ColorId, error) {
	var c ColorId
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, err
	}
	if len(b) != ColorIdSize {
		return c, errors.New("chainhash: wrong color id length")
	}
	copy(c[:], b)
	return c, nil
}
