package types

import "github.com/djkazic/p2pool-go/pkg/util"

// Transaction is an opaque Bitcoin transaction as carried in a ShareBlock.
// Coinbase construction and transaction validation are external concerns
// (spec §1 Non-goals); the core only needs to hash, store and relay the
// raw bytes. By convention index 0 of a ShareBlock's transaction list is
// the coinbase paying the header's MinerPubkey.
type Transaction struct {
	Raw []byte `cbor:"1,keyasint"`
}

// Txid returns the double-SHA256 of the raw transaction bytes, matching
// Bitcoin's transaction id convention.
func (t Transaction) Txid() [32]byte {
	return util.DoubleSHA256(t.Raw)
}
