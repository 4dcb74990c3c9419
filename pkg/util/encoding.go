package util

import "encoding/hex"

// HexToBytes decodes a hex string, used for MinerShare's hex-encoded
// enonce1/nonce2/nonce fields.
func HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes as a lowercase hex string.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}
