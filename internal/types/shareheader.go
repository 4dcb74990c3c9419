package types

import "fmt"

// PubkeySize is the length of a compressed secp256k1 public key.
const PubkeySize = 33

// ShareHeader is the header-only content of a share: the miner's
// submission plus the DAG linkage (parent, uncles) and the merkle root
// committing to the share's transaction set.
//
// Equality is defined solely by MinerShare.Hash — the bitcoin blockhash the
// submission produced — so header-only views can dedupe canonically
// without needing the full block.
type ShareHeader struct {
	MinerShare         MinerShare  `cbor:"1,keyasint"`
	PrevShareBlockHash *ShareHash  `cbor:"2,keyasint,omitempty"` // nil for genesis
	Uncles             []ShareHash `cbor:"3,keyasint,omitempty"`
	MinerPubkey        [PubkeySize]byte `cbor:"4,keyasint"`
	MerkleRoot         [32]byte    `cbor:"5,keyasint"`
}

// Equal implements the header equality rule from spec §3: identity is the
// MinerShare's bitcoin blockhash, nothing else.
func (h ShareHeader) Equal(other ShareHeader) bool {
	return h.MinerShare.Hash == other.MinerShare.Hash
}

// ValidateUncleBound reports whether the header's uncle list respects
// MaxUncles. It does not check uncle resolvability — that requires a Store.
func (h ShareHeader) ValidateUncleBound() error {
	if len(h.Uncles) > MaxUncles {
		return fmt.Errorf("share header: %d uncles exceeds max %d", len(h.Uncles), MaxUncles)
	}
	return nil
}

// IsGenesis reports whether this header has no parent, i.e. is a chain root.
func (h ShareHeader) IsGenesis() bool {
	return h.PrevShareBlockHash == nil
}
