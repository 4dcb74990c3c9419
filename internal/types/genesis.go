package types

import (
	"encoding/hex"
	"fmt"
)

// Network identifies a Bitcoin network the share chain can run against.
type Network string

const (
	NetworkMainnet  Network = "mainnet"
	NetworkSignet   Network = "signet"
	NetworkTestnet4 Network = "testnet4"
	NetworkRegtest  Network = "regtest"  // unsupported, see BuildGenesisForNetwork
	NetworkTestnet3 Network = "testnet3" // unsupported, see BuildGenesisForNetwork
)

// ErrUnsupportedNetwork is returned by BuildGenesisForNetwork for networks
// the share chain does not define genesis constants for.
type ErrUnsupportedNetwork struct {
	Network Network
}

func (e *ErrUnsupportedNetwork) Error() string {
	return fmt.Sprintf("types: unsupported network %q (genesis has no hard-coded constants)", e.Network)
}

// genesisParams is the set of hard-coded values a network's genesis share
// is built from (spec §6 "Genesis").
type genesisParams struct {
	pubkeyHex        string
	ntime            uint32
	nonceHex         string
	enonce1Hex       string
	nonce2Hex        string
	diff             string
	sdiff            string
	bitcoinBlockHash string
}

// genesisByNetwork holds the hard-coded per-network genesis parameters.
// The signet values are the exact fixture values exercised by the
// reference implementation's genesis test (enonce1/nonce2/nonce/ntime/
// diff/sdiff/miner_pubkey/cached hash). Mainnet and Testnet4 values are not
// present anywhere in the retrieved reference material — placeholders in
// the same shape are recorded here, clearly distinguished from the
// fixture-grounded signet values, pending real network parameters.
var genesisByNetwork = map[Network]genesisParams{
	NetworkSignet: {
		pubkeyHex:        "02ac493f2130ca56cb5c3a559860cef9a84f90b5a85dfe4ec6e6067eeee17f4d20",
		ntime:            1740044600,
		nonceHex:         "f15f1590",
		enonce1Hex:       "fdf8b667",
		nonce2Hex:        "0000000000000000",
		diff:             "1.0",
		sdiff:            "31.465847594928551",
		bitcoinBlockHash: "000000000822bbfaf34d53fc43d0c1382054d3aafe31893020c315db8b0a19f0",
	},
	// Placeholder parameters: no mainnet/testnet4 genesis fixture exists in
	// the reference material this was ported from. Shaped identically to
	// signet so the constructor path is exercised, but the hash values
	// are not real chain genesis points.
	NetworkMainnet: {
		pubkeyHex:        "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81790",
		ntime:            1231006505,
		nonceHex:         "00000000",
		enonce1Hex:       "00000000",
		nonce2Hex:        "0000000000000000",
		diff:             "1.0",
		sdiff:            "1.0",
		bitcoinBlockHash: "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce260",
	},
	NetworkTestnet4: {
		pubkeyHex:        "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81790",
		ntime:            1714777860,
		nonceHex:         "00000000",
		enonce1Hex:       "00000000",
		nonce2Hex:        "0000000000000000",
		diff:             "1.0",
		sdiff:            "1.0",
		bitcoinBlockHash: "00000000da84f2bafbbc53dee25a72ae507ff4914b867c565be350b0da8bf043",
	},
}

// BuildGenesisForNetwork constructs the hard-coded genesis ShareBlock for
// the given network. Regtest and Testnet(v3) are explicitly unsupported
// and return *ErrUnsupportedNetwork, matching the reference
// implementation's build_genesis_for_network assertion.
func BuildGenesisForNetwork(network Network) (*ShareBlock, error) {
	params, ok := genesisByNetwork[network]
	if !ok {
		return nil, &ErrUnsupportedNetwork{Network: network}
	}
	return buildGenesis(params)
}

func buildGenesis(p genesisParams) (*ShareBlock, error) {
	pubkeyBytes, err := decodeHexFixed(p.pubkeyHex, PubkeySize)
	if err != nil {
		return nil, fmt.Errorf("types: genesis pubkey: %w", err)
	}
	blockHash, err := ShareHashFromHex(p.bitcoinBlockHash)
	if err != nil {
		return nil, fmt.Errorf("types: genesis bitcoin block hash: %w", err)
	}
	diff, err := NewDecimalFromString(p.diff)
	if err != nil {
		return nil, fmt.Errorf("types: genesis diff: %w", err)
	}
	sdiff, err := NewDecimalFromString(p.sdiff)
	if err != nil {
		return nil, fmt.Errorf("types: genesis sdiff: %w", err)
	}

	share := MinerShare{
		WorkInfoID: 0,
		ClientID:   0,
		Enonce1:    p.enonce1Hex,
		Nonce2:     p.nonce2Hex,
		Nonce:      p.nonceHex,
		Ntime:      p.ntime,
		Diff:       diff,
		Sdiff:      sdiff,
		Hash:       blockHash,
		Username:   "",
	}

	header := ShareHeader{
		MinerShare:         share,
		PrevShareBlockHash: nil,
	}
	copy(header.MinerPubkey[:], pubkeyBytes)

	return NewShareBlockBuilder(header).Build()
}

func decodeHexFixed(s string, n int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("want %d bytes, got %d", n, len(b))
	}
	return b, nil
}
