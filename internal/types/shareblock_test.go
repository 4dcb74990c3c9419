package types

import "testing"

func sampleHeader(t *testing.T, ntime uint32, prev *ShareHash) ShareHeader {
	t.Helper()
	diff := NewDecimalFromFloat(1.0)
	h := ShareHeader{
		MinerShare: MinerShare{
			WorkInfoID: 1,
			ClientID:   1,
			Enonce1:    "fdf8b667",
			Nonce2:     "0000000000000000",
			Nonce:      "f15f1590",
			Ntime:      ntime,
			Diff:       diff,
			Sdiff:      diff,
			Hash:       ShareHash{0x01},
			Username:   "miner1",
		},
		PrevShareBlockHash: prev,
	}
	copy(h.MinerPubkey[:], []byte("012345678901234567890123456789012"))
	return h
}

func TestShareBlockBuilder_Build(t *testing.T) {
	header := sampleHeader(t, 1700000000, nil)
	block, err := NewShareBlockBuilder(header).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := block.CachedHash(); !ok {
		t.Fatal("Build should populate the cached hash")
	}
}

func TestShareBlock_HashStable(t *testing.T) {
	header := sampleHeader(t, 1700000000, nil)
	block, err := NewShareBlockBuilder(header).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h1, err := block.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := block.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Error("Hash() should be stable across calls")
	}
}

func TestShareBlock_HashExcludesCache(t *testing.T) {
	header := sampleHeader(t, 1700000000, nil)
	a, err := NewShareBlockBuilder(header).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b := &ShareBlock{Header: header}
	hashA, _ := a.Hash()
	hashB, err := b.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hashA != hashB {
		t.Error("a block built (with cache populated) and a freshly constructed equivalent block should hash identically")
	}
}

func TestShareBlock_HashSensitiveToNonce(t *testing.T) {
	h1 := sampleHeader(t, 1700000000, nil)
	h2 := sampleHeader(t, 1700000000, nil)
	h2.MinerShare.Nonce = "ffffffff"

	b1, err := NewShareBlockBuilder(h1).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b2, err := NewShareBlockBuilder(h2).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	hash1, _ := b1.Hash()
	hash2, _ := b2.Hash()
	if hash1 == hash2 {
		t.Error("different nonce should produce different hash")
	}
}

func TestShareBlock_EncodeDecodeRoundTrip(t *testing.T) {
	header := sampleHeader(t, 1700000000, nil)
	block, err := NewShareBlockBuilder(header).
		WithTransactions([]Transaction{{Raw: []byte("coinbase")}}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	encoded, err := block.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeShareBlock(encoded)
	if err != nil {
		t.Fatalf("DecodeShareBlock: %v", err)
	}
	if !decoded.Header.Equal(block.Header) {
		t.Error("decoded header should equal original (by MinerShare.Hash)")
	}
	if len(decoded.Transactions) != 1 || string(decoded.Transactions[0].Raw) != "coinbase" {
		t.Error("decoded transactions did not round-trip")
	}

	wantHash, _ := block.Hash()
	gotHash, err := decoded.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if wantHash != gotHash {
		t.Error("decoded block should hash identically to the original")
	}
}

func TestShareHeader_ValidateUncleBound(t *testing.T) {
	header := sampleHeader(t, 1700000000, nil)
	header.Uncles = []ShareHash{{1}, {2}, {3}}
	if err := header.ValidateUncleBound(); err != nil {
		t.Errorf("3 uncles should be within bound: %v", err)
	}
	header.Uncles = append(header.Uncles, ShareHash{4})
	if err := header.ValidateUncleBound(); err == nil {
		t.Error("4 uncles should exceed MaxUncles")
	}
}

func TestStorageShareBlock_RoundTrip(t *testing.T) {
	header := sampleHeader(t, 1700000000, nil)
	block, err := NewShareBlockBuilder(header).
		WithTransactions([]Transaction{{Raw: []byte("coinbase")}}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	storage := NewStorageShareBlock(block)
	encoded, err := storage.CBORSerialize()
	if err != nil {
		t.Fatalf("CBORSerialize: %v", err)
	}
	decoded, err := CBORDeserializeStorageShareBlock(encoded)
	if err != nil {
		t.Fatalf("CBORDeserializeStorageShareBlock: %v", err)
	}

	headerOnly := decoded.IntoShareBlock()
	if len(headerOnly.Transactions) != 0 {
		t.Error("IntoShareBlock should not reconstruct transactions")
	}
	withTxs := decoded.IntoShareBlockWithTransactions(block.Transactions)
	if len(withTxs.Transactions) != 1 {
		t.Error("IntoShareBlockWithTransactions should reattach the given transactions")
	}
}
