package sharechain

import (
	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/fxamacker/cbor/v2"
)

func cborMarshalHashes(hashes []types.ShareHash) ([]byte, error) {
	return cbor.Marshal(hashes)
}

func cborUnmarshalHashes(data []byte, out *[]types.ShareHash) error {
	return cbor.Unmarshal(data, out)
}

func cborMarshalTransactions(txs []types.Transaction) ([]byte, error) {
	return cbor.Marshal(txs)
}

func cborUnmarshalTransactions(data []byte, out *[]types.Transaction) error {
	return cbor.Unmarshal(data, out)
}
