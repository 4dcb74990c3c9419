// Package emission implements the Stratum→Chain bridge of spec §6: the
// stratum subsystem hands the chain an authoritative Emission record over a
// channel, and the bridge turns each one into a ShareBlock routed through
// validation and ChainHandle.AddShare.
//
// internal/stratum itself is out of scope (spec §1 names it an external
// collaborator), so this package only owns the consuming half of the
// channel — grounded on the original's handle_stratum_shares drain loop,
// translated from an mpsc::Receiver into a buffered Go channel and the
// teacher's context-driven goroutine idiom (internal/work/generator.go).
package emission

import (
	"context"

	"github.com/djkazic/p2pool-go/internal/sharechain"
	"github.com/djkazic/p2pool-go/internal/types"
	"go.uber.org/zap"
)

// Emission is the record the stratum subsystem hands across the bridge
// once a submission has been accepted locally (spec §6). PplnsShare is the
// raw stratum submission; MinerPubkey and MerkleRoot are the remaining
// header fields the upstream coinbase-construction component already
// computed (coinbase construction itself stays out of scope, per spec §1
// Non-goals — the bridge only assembles the header, it doesn't derive these
// values). BitcoinBlock carries the full solved block's raw bytes when this
// share also met the network's real block target; nil for an ordinary
// share.
type Emission struct {
	PplnsShare   types.MinerShare
	MinerPubkey  [types.PubkeySize]byte
	MerkleRoot   [32]byte
	Transactions []types.Transaction
	BitcoinBlock []byte
}

// IsBlockFound reports whether this Emission also solved a real Bitcoin block.
func (e Emission) IsBlockFound() bool {
	return len(e.BitcoinBlock) > 0
}

// Sender is the stratum-side half of the bridge channel.
type Sender chan<- Emission

// Receiver is the chain-side half of the bridge channel.
type Receiver <-chan Emission

// NewChannel creates a buffered Emission channel split into its Sender and
// Receiver halves. capacity should be generous (spec §6 "unbounded or
// generously bounded") so a burst of accepted shares never blocks stratum.
func NewChannel(capacity int) (Sender, Receiver) {
	ch := make(chan Emission, capacity)
	return ch, ch
}

// Bridge drains Emissions and inserts each as an authoritative share.
type Bridge struct {
	chain      sharechain.ChainHandle
	validator  *sharechain.Validator
	onAccepted func(*types.ShareBlock)
	logger     *zap.Logger
}

// NewBridge constructs a Bridge. onAccepted is called after every
// successful AddShare, letting the caller rebroadcast the accepted share
// to peers (spec §6 "Chain→Peers bridge"); it may be nil.
func NewBridge(chain sharechain.ChainHandle, validator *sharechain.Validator, onAccepted func(*types.ShareBlock), logger *zap.Logger) *Bridge {
	return &Bridge{chain: chain, validator: validator, onAccepted: onAccepted, logger: logger}
}

// Run drains shares until ctx is cancelled or the channel is closed,
// mirroring handle_stratum_shares' "while let Some(emission) = rx.recv()"
// loop.
func (b *Bridge) Run(ctx context.Context, shares Receiver) {
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("emission bridge stopping")
			return
		case emission, ok := <-shares:
			if !ok {
				b.logger.Info("emission channel closed, stopping share handler")
				return
			}
			b.handle(ctx, emission)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, emission Emission) {
	header := types.ShareHeader{
		MinerShare:  emission.PplnsShare,
		MinerPubkey: emission.MinerPubkey,
		MerkleRoot:  emission.MerkleRoot,
	}

	block, err := b.chain.SetupShareForChain(ctx, header, emission.Transactions)
	if err != nil {
		b.logger.Error("emission: setup share for chain failed", zap.Error(err))
		return
	}

	hash, err := b.chain.AddShare(ctx, b.validator, block)
	if err != nil {
		var verr *sharechain.ValidationError
		if asValidationError(err, &verr) {
			b.logger.Warn("emission: share rejected", zap.Error(err), zap.Uint64("work_info_id", emission.PplnsShare.WorkInfoID))
			return
		}
		b.logger.Error("emission: add share failed", zap.Error(err))
		return
	}

	b.logger.Info("emission: share accepted",
		zap.Stringer("hash", hash),
		zap.Bool("block_found", emission.IsBlockFound()))

	if emission.IsBlockFound() {
		b.logger.Info("emission: block found", zap.Int("bytes", len(emission.BitcoinBlock)))
	}

	if b.onAccepted != nil {
		b.onAccepted(block)
	}
}

func asValidationError(err error, target **sharechain.ValidationError) bool {
	ve, ok := err.(*sharechain.ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}
