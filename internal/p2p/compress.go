package p2p

import (
	"github.com/klauspost/compress/zstd"

	"github.com/djkazic/p2pool-go/internal/types"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<20))
)

// CompressCoinbase compresses coinbase transaction bytes using zstd.
func CompressCoinbase(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// DecompressCoinbase decompresses coinbase transaction bytes.
// If the data does not start with the zstd magic bytes, it is returned as-is
// for forward compatibility with uncompressed shares.
func DecompressCoinbase(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0x28 || data[1] != 0xB5 || data[2] != 0x2F || data[3] != 0xFD {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}

// compressForWire returns a shallow copy of block with its coinbase
// transaction (index 0, by types.Transaction's convention) zstd-compressed,
// so the coinbase's typically-large witness/script bytes don't inflate
// gossip and sync payloads. Non-coinbase transactions are left untouched.
func compressForWire(block *types.ShareBlock) *types.ShareBlock {
	if block == nil || len(block.Transactions) == 0 {
		return block
	}
	out := *block
	out.Transactions = append([]types.Transaction(nil), block.Transactions...)
	out.Transactions[0] = types.Transaction{Raw: CompressCoinbase(block.Transactions[0].Raw)}
	return &out
}

// decompressFromWire is compressForWire's inverse, tolerant of a coinbase
// that arrived uncompressed (older peer, or compression skipped upstream).
func decompressFromWire(block *types.ShareBlock) (*types.ShareBlock, error) {
	if block == nil || len(block.Transactions) == 0 {
		return block, nil
	}
	raw, err := DecompressCoinbase(block.Transactions[0].Raw)
	if err != nil {
		return nil, err
	}
	out := *block
	out.Transactions = append([]types.Transaction(nil), block.Transactions...)
	out.Transactions[0] = types.Transaction{Raw: raw}
	return &out, nil
}
