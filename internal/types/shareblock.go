package types

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborMode is the canonical encoding mode: sorted map keys, no indefinite
// lengths. Every peer must agree on this mode or content-addressed hashes
// diverge (spec §4.5 "serialization must be deterministic").
var cborMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("types: invalid canonical cbor options: %v", err))
	}
	return mode
}()

// ShareBlock is a header plus its transaction set. cachedBlockHash is
// unexported and therefore excluded from CBOR encoding, so hashing a block
// never includes its own cached hash (spec §3, §9).
type ShareBlock struct {
	Header       ShareHeader   `cbor:"1,keyasint"`
	Transactions []Transaction `cbor:"2,keyasint,omitempty"`

	cachedBlockHash *ShareHash
}

// wireShareBlock is the CBOR shape of ShareBlock, used both for hashing
// and for wire transport. It intentionally has no hash field.
type wireShareBlock struct {
	Header       ShareHeader   `cbor:"1,keyasint"`
	Transactions []Transaction `cbor:"2,keyasint,omitempty"`
}

func (b ShareBlock) encode() ([]byte, error) {
	return cborMode.Marshal(wireShareBlock{Header: b.Header, Transactions: b.Transactions})
}

// computeHash hashes the canonical CBOR encoding of the block with its
// cached hash cleared. A single SHA-256 round is used, matching the
// underlying content-addressing primitive of the original implementation
// (not Bitcoin's double-SHA256 block-header hash, which does not apply to
// a ShareBlock).
func (b ShareBlock) computeHash() (ShareHash, error) {
	encoded, err := b.encode()
	if err != nil {
		return ShareHash{}, fmt.Errorf("share block: encode for hashing: %w", err)
	}
	return ShareHash(sha256.Sum256(encoded)), nil
}

// Hash returns the block's content-addressed hash, computing and caching
// it on first use. Per invariant 3, any ShareBlock handed out by the chain
// engine always has this populated.
func (b *ShareBlock) Hash() (ShareHash, error) {
	if b.cachedBlockHash != nil {
		return *b.cachedBlockHash, nil
	}
	h, err := b.computeHash()
	if err != nil {
		return ShareHash{}, err
	}
	b.cachedBlockHash = &h
	return h, nil
}

// CachedHash returns the cached hash and whether it has been computed.
func (b *ShareBlock) CachedHash() (ShareHash, bool) {
	if b.cachedBlockHash == nil {
		return ShareHash{}, false
	}
	return *b.cachedBlockHash, true
}

// Encode serializes the block to canonical CBOR for wire transport or
// storage. The cached hash is never part of the encoding.
func (b ShareBlock) Encode() ([]byte, error) {
	return b.encode()
}

// DecodeShareBlock parses a canonical CBOR-encoded block. The returned
// block's cached hash is unset; call Hash() to compute it.
func DecodeShareBlock(data []byte) (*ShareBlock, error) {
	var wire wireShareBlock
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("share block: decode: %w", err)
	}
	return &ShareBlock{Header: wire.Header, Transactions: wire.Transactions}, nil
}

// ShareBlockBuilder builds a ShareBlock from a header plus transactions,
// computing cached_blockhash exactly once at Build(), mirroring the
// original's ShareBlockBuilder.
type ShareBlockBuilder struct {
	header       ShareHeader
	transactions []Transaction
}

// NewShareBlockBuilder starts a builder from a fully-populated header.
func NewShareBlockBuilder(header ShareHeader) *ShareBlockBuilder {
	return &ShareBlockBuilder{header: header}
}

// WithTransactions attaches the block's transaction list (index 0 must be
// the coinbase paying header.MinerPubkey, by convention of the caller).
func (b *ShareBlockBuilder) WithTransactions(txs []Transaction) *ShareBlockBuilder {
	b.transactions = txs
	return b
}

// Build constructs the ShareBlock and computes its cached hash.
func (b *ShareBlockBuilder) Build() (*ShareBlock, error) {
	if err := b.header.ValidateUncleBound(); err != nil {
		return nil, err
	}
	block := &ShareBlock{Header: b.header, Transactions: b.transactions}
	if _, err := block.Hash(); err != nil {
		return nil, err
	}
	return block, nil
}

// StorageShareBlock is the header-only on-disk projection of a ShareBlock,
// used to amortise storage — transactions are stored separately (or
// dropped for header-sync) per spec §3.
type StorageShareBlock struct {
	Header ShareHeader `cbor:"1,keyasint"`
}

// NewStorageShareBlock projects a ShareBlock down to its header.
func NewStorageShareBlock(b *ShareBlock) StorageShareBlock {
	return StorageShareBlock{Header: b.Header}
}

// IntoShareBlock reconstructs a header-only ShareBlock (no transactions).
func (s StorageShareBlock) IntoShareBlock() *ShareBlock {
	return &ShareBlock{Header: s.Header}
}

// IntoShareBlockWithTransactions reconstructs a full ShareBlock by
// reattaching a previously-stored transaction list.
func (s StorageShareBlock) IntoShareBlockWithTransactions(txs []Transaction) *ShareBlock {
	return &ShareBlock{Header: s.Header, Transactions: txs}
}

// CBORSerialize encodes the storage projection to canonical CBOR.
func (s StorageShareBlock) CBORSerialize() ([]byte, error) {
	return cborMode.Marshal(s)
}

// CBORDeserializeStorageShareBlock decodes a canonical CBOR-encoded
// storage projection.
func CBORDeserializeStorageShareBlock(data []byte) (StorageShareBlock, error) {
	var s StorageShareBlock
	if err := cbor.Unmarshal(data, &s); err != nil {
		return StorageShareBlock{}, fmt.Errorf("storage share block: decode: %w", err)
	}
	return s, nil
}
