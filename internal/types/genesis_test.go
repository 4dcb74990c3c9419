package types

import "testing"

func TestBuildGenesisForNetwork_Signet(t *testing.T) {
	genesis, err := BuildGenesisForNetwork(NetworkSignet)
	if err != nil {
		t.Fatalf("BuildGenesisForNetwork(signet): %v", err)
	}
	if !genesis.Header.IsGenesis() {
		t.Error("genesis header should have no parent")
	}
	if genesis.Header.MinerShare.Ntime != 1740044600 {
		t.Errorf("ntime = %d, want 1740044600", genesis.Header.MinerShare.Ntime)
	}
	if !genesis.Header.MinerShare.Diff.Equal(NewDecimalFromFloat(1.0).Decimal) {
		t.Errorf("diff = %s, want 1.0", genesis.Header.MinerShare.Diff.String())
	}
	if _, ok := genesis.CachedHash(); !ok {
		t.Error("genesis block should have its hash precomputed")
	}
}

func TestBuildGenesisForNetwork_Unsupported(t *testing.T) {
	for _, network := range []Network{NetworkRegtest, NetworkTestnet3} {
		_, err := BuildGenesisForNetwork(network)
		if err == nil {
			t.Fatalf("BuildGenesisForNetwork(%s): want error, got nil", network)
		}
		var unsupported *ErrUnsupportedNetwork
		if _, ok := err.(*ErrUnsupportedNetwork); !ok {
			t.Errorf("BuildGenesisForNetwork(%s): want *ErrUnsupportedNetwork, got %T", network, err)
		}
		_ = unsupported
	}
}

func TestBuildGenesisForNetwork_Deterministic(t *testing.T) {
	a, err := BuildGenesisForNetwork(NetworkMainnet)
	if err != nil {
		t.Fatalf("BuildGenesisForNetwork(mainnet): %v", err)
	}
	b, err := BuildGenesisForNetwork(NetworkMainnet)
	if err != nil {
		t.Fatalf("BuildGenesisForNetwork(mainnet): %v", err)
	}
	hashA, _ := a.Hash()
	hashB, _ := b.Hash()
	if hashA != hashB {
		t.Error("genesis construction should be deterministic")
	}
}
