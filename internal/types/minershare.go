package types

import "github.com/djkazic/p2pool-go/pkg/util"

// MaxUncles bounds the number of uncle hashes a ShareHeader may carry.
const MaxUncles = 3

// MinerShare is the raw stratum submission carried inside a share. It is
// the payload the (external) stratum layer hands across the Emission
// bridge once a submission has been accepted locally.
type MinerShare struct {
	WorkInfoID uint64    `cbor:"1,keyasint"`
	ClientID   uint64    `cbor:"2,keyasint"`
	Enonce1    string    `cbor:"3,keyasint"` // hex
	Nonce2     string    `cbor:"4,keyasint"` // hex
	Nonce      string    `cbor:"5,keyasint"` // hex
	Ntime      uint32    `cbor:"6,keyasint"` // seconds since epoch
	Diff       Decimal   `cbor:"7,keyasint"` // declared difficulty
	Sdiff      Decimal   `cbor:"8,keyasint"` // solved difficulty
	Hash       ShareHash `cbor:"9,keyasint"` // bitcoin block hash this share produced
	Username   string    `cbor:"10,keyasint"`
}

// Enonce1Bytes decodes the hex-encoded extranonce1.
func (m MinerShare) Enonce1Bytes() ([]byte, error) {
	return util.HexToBytes(m.Enonce1)
}

// Nonce2Bytes decodes the hex-encoded extranonce2.
func (m MinerShare) Nonce2Bytes() ([]byte, error) {
	return util.HexToBytes(m.Nonce2)
}

// NonceBytes decodes the hex-encoded nonce.
func (m MinerShare) NonceBytes() ([]byte, error) {
	return util.HexToBytes(m.Nonce)
}
