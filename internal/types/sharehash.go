// Package types holds the content-addressed data model of the share-chain:
// shares, share headers, share blocks and their on-disk projection.
package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// ShareHash is a content address over the CBOR encoding of a ShareBlock's
// header and transactions (see ShareBlock.Hash). It is also reused as the hash type for
// Bitcoin block hashes produced by a MinerShare, since both are 32-byte
// digests displayed the same way.
type ShareHash [32]byte

// ZeroShareHash is the all-zero sentinel hash, used as the "no stop hash"
// value in locator requests. A genesis share's PrevShareBlockHash is nil,
// not this value.
var ZeroShareHash ShareHash

// IsZero reports whether h is the all-zero sentinel hash.
func (h ShareHash) IsZero() bool {
	return h == ZeroShareHash
}

// String renders the hash as lowercase hex.
func (h ShareHash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the hash as a byte slice.
func (h ShareHash) Bytes() []byte {
	return h[:]
}

// Less gives ShareHash a total order for deterministic sorting (e.g. tip
// and uncle lists) independent of arrival order.
func (h ShareHash) Less(other ShareHash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// ShareHashFromHex parses a lowercase hex string into a ShareHash.
func ShareHashFromHex(s string) (ShareHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ShareHash{}, fmt.Errorf("share hash: %w", err)
	}
	if len(b) != 32 {
		return ShareHash{}, fmt.Errorf("share hash: want 32 bytes, got %d", len(b))
	}
	var h ShareHash
	copy(h[:], b)
	return h, nil
}

// MarshalText implements encoding.TextMarshaler so ShareHash can be used as
// a map key in CBOR maps and printed directly by loggers.
func (h ShareHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *ShareHash) UnmarshalText(text []byte) error {
	parsed, err := ShareHashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
