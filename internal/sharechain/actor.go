package sharechain

import (
	"context"
	"fmt"

	"github.com/djkazic/p2pool-go/internal/types"
	"go.uber.org/zap"
)

// chainRequest is a single-writer serialization unit: a closure that gets
// exclusive access to *Chain and a channel to carry its result back. This
// plays the role the original implementation gives a literal ChainMessage
// enum matched inside the actor loop — Go's closures let every operation
// stay next to its own request/response types instead of fanning out into
// one large match arm per message kind.
type chainRequest struct {
	run  func(*Chain)
	done chan struct{}
}

// ChainActor owns the single in-memory *Chain and drains chainRequests one
// at a time off its channel, so every mutation is serialized without a
// mutex (spec §4.3 "the chain is never mutated concurrently").
type ChainActor struct {
	chain  *Chain
	reqs   chan chainRequest
	logger *zap.Logger
}

// NewChainActor constructs an actor around chain. Call Run in its own
// goroutine.
func NewChainActor(chain *Chain, logger *zap.Logger) *ChainActor {
	return &ChainActor{
		chain:  chain,
		reqs:   make(chan chainRequest, 32),
		logger: logger,
	}
}

// Run drains requests until ctx is cancelled or the channel is closed.
func (a *ChainActor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-a.reqs:
			if !ok {
				return
			}
			req.run(a.chain)
			close(req.done)
		}
	}
}

func (a *ChainActor) submit(ctx context.Context, run func(*Chain)) error {
	done := make(chan struct{})
	req := chainRequest{run: run, done: done}
	select {
	case a.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChainHandle is the clonable, concurrency-safe client to a ChainActor,
// mirroring the original's ChainHandle (spec §4.3).
type ChainHandle struct {
	actor *ChainActor
}

// NewChainHandle wraps an already-running ChainActor.
func NewChainHandle(actor *ChainActor) ChainHandle {
	return ChainHandle{actor: actor}
}

// AddShare submits block for validation and insertion.
func (h ChainHandle) AddShare(ctx context.Context, validator *Validator, block *types.ShareBlock) (types.ShareHash, error) {
	var (
		hash types.ShareHash
		err  error
	)
	submitErr := h.actor.submit(ctx, func(c *Chain) {
		if validator != nil {
			if verr := validator.Validate(block); verr != nil {
				err = verr
				return
			}
		}
		hash, err = c.AddShare(block)
	})
	if submitErr != nil {
		return types.ShareHash{}, submitErr
	}
	return hash, err
}

// GetTips returns the current tip set.
func (h ChainHandle) GetTips(ctx context.Context) ([]types.ShareHash, error) {
	var tips []types.ShareHash
	err := h.actor.submit(ctx, func(c *Chain) { tips = c.GetTips() })
	return tips, err
}

// GetChainTip returns the current main-chain tip.
func (h ChainHandle) GetChainTip(ctx context.Context) (types.ShareHash, error) {
	var tip types.ShareHash
	err := h.actor.submit(ctx, func(c *Chain) { tip = c.GetChainTip() })
	return tip, err
}

// GetChainTipAndUncles returns the main-chain tip plus every other tip.
func (h ChainHandle) GetChainTipAndUncles(ctx context.Context) (types.ShareHash, []types.ShareHash, error) {
	var (
		tip    types.ShareHash
		uncles []types.ShareHash
	)
	err := h.actor.submit(ctx, func(c *Chain) { tip, uncles = c.GetChainTipAndUncles() })
	return tip, uncles, err
}

// GetTotalDifficulty returns the main chain's cumulative difficulty.
func (h ChainHandle) GetTotalDifficulty(ctx context.Context) (types.Decimal, error) {
	var total types.Decimal
	err := h.actor.submit(ctx, func(c *Chain) { total = c.GetTotalDifficulty() })
	return total, err
}

// GetTipHeight returns the main chain's tip height.
func (h ChainHandle) GetTipHeight(ctx context.Context) (uint32, error) {
	var height uint32
	err := h.actor.submit(ctx, func(c *Chain) { height = c.GetTipHeight() })
	return height, err
}

// GetDepth returns hash's depth below the chain tip, and whether it is on
// the main chain at all.
func (h ChainHandle) GetDepth(ctx context.Context, hash types.ShareHash) (uint32, bool, error) {
	var (
		depth uint32
		found bool
	)
	err := h.actor.submit(ctx, func(c *Chain) { depth, found = c.GetDepth(hash) })
	return depth, found, err
}

// GetShare returns the full reconstructed block for hash.
func (h ChainHandle) GetShare(ctx context.Context, hash types.ShareHash) (*types.ShareBlock, bool, error) {
	var (
		block    *types.ShareBlock
		found    bool
		innerErr error
	)
	err := h.actor.submit(ctx, func(c *Chain) {
		block, found, innerErr = c.GetShare(hash)
	})
	if err != nil {
		return nil, false, err
	}
	return block, found, innerErr
}

// GetSharesAtHeight returns every known block hash at a given height.
func (h ChainHandle) GetSharesAtHeight(ctx context.Context, height uint32) ([]types.ShareHash, error) {
	var (
		hashes   []types.ShareHash
		innerErr error
	)
	err := h.actor.submit(ctx, func(c *Chain) { hashes, innerErr = c.GetSharesAtHeight(height) })
	if err != nil {
		return nil, err
	}
	return hashes, innerErr
}

// GetShareHeaders returns headers for the given hashes, skipping unknown ones.
func (h ChainHandle) GetShareHeaders(ctx context.Context, hashes []types.ShareHash) ([]types.ShareHeader, error) {
	var headers []types.ShareHeader
	err := h.actor.submit(ctx, func(c *Chain) { headers = c.GetShareHeaders(hashes) })
	return headers, err
}

// BuildLocator builds a sparse locator from the current chain tip.
func (h ChainHandle) BuildLocator(ctx context.Context) ([]types.ShareHash, error) {
	var locator []types.ShareHash
	err := h.actor.submit(ctx, func(c *Chain) { locator = c.BuildLocator() })
	return locator, err
}

// GetHeadersForLocator returns the headers a peer should receive in
// response to locator, bounded by limit.
func (h ChainHandle) GetHeadersForLocator(ctx context.Context, locator []types.ShareHash, stop types.ShareHash, limit int) ([]types.ShareHeader, error) {
	var headers []types.ShareHeader
	err := h.actor.submit(ctx, func(c *Chain) { headers = c.GetHeadersForLocator(locator, stop, limit) })
	return headers, err
}

// GetBlockhashesForLocator is GetHeadersForLocator's hash-only counterpart.
func (h ChainHandle) GetBlockhashesForLocator(ctx context.Context, locator []types.ShareHash, stop types.ShareHash, limit int) ([]types.ShareHash, error) {
	var hashes []types.ShareHash
	err := h.actor.submit(ctx, func(c *Chain) { hashes = c.GetBlockhashesForLocator(locator, stop, limit) })
	return hashes, err
}

// GetMissingBlockhashes filters hashes to those unknown locally.
func (h ChainHandle) GetMissingBlockhashes(ctx context.Context, hashes []types.ShareHash) ([]types.ShareHash, error) {
	var missing []types.ShareHash
	err := h.actor.submit(ctx, func(c *Chain) { missing = c.GetMissingBlockhashes(hashes) })
	return missing, err
}

// IsConfirmed reports whether block's hash is already known to the store.
func (h ChainHandle) IsConfirmed(ctx context.Context, block *types.ShareBlock) (bool, error) {
	var (
		confirmed bool
		innerErr  error
	)
	err := h.actor.submit(ctx, func(c *Chain) { confirmed, innerErr = c.IsConfirmed(block) })
	if err != nil {
		return false, err
	}
	return confirmed, innerErr
}

// StoreWorkbase persists an opaque work template.
func (h ChainHandle) StoreWorkbase(ctx context.Context, wb types.Workbase) error {
	var innerErr error
	err := h.actor.submit(ctx, func(c *Chain) { innerErr = c.StoreWorkbase(wb) })
	if err != nil {
		return err
	}
	return innerErr
}

// StoreUserWorkbase persists an opaque user-facing work template.
func (h ChainHandle) StoreUserWorkbase(ctx context.Context, wb types.UserWorkbase) error {
	var innerErr error
	err := h.actor.submit(ctx, func(c *Chain) { innerErr = c.StoreUserWorkbase(wb) })
	if err != nil {
		return err
	}
	return innerErr
}

// GetWorkbase retrieves a previously stored work template.
func (h ChainHandle) GetWorkbase(ctx context.Context, id uint64) (types.Workbase, bool, error) {
	var (
		wb       types.Workbase
		found    bool
		innerErr error
	)
	err := h.actor.submit(ctx, func(c *Chain) { wb, found, innerErr = c.GetWorkbase(id) })
	if err != nil {
		return types.Workbase{}, false, err
	}
	return wb, found, innerErr
}

// GetWorkbases retrieves several work templates.
func (h ChainHandle) GetWorkbases(ctx context.Context, ids []uint64) ([]types.Workbase, error) {
	var (
		wbs      []types.Workbase
		innerErr error
	)
	err := h.actor.submit(ctx, func(c *Chain) { wbs, innerErr = c.GetWorkbases(ids) })
	if err != nil {
		return nil, err
	}
	return wbs, innerErr
}

// GetUserWorkbase retrieves a previously stored user-facing work template.
func (h ChainHandle) GetUserWorkbase(ctx context.Context, id uint64) (types.UserWorkbase, bool, error) {
	var (
		wb       types.UserWorkbase
		found    bool
		innerErr error
	)
	err := h.actor.submit(ctx, func(c *Chain) { wb, found, innerErr = c.GetUserWorkbase(id) })
	if err != nil {
		return types.UserWorkbase{}, false, err
	}
	return wb, found, innerErr
}

// GetUserWorkbases retrieves several user-facing work templates.
func (h ChainHandle) GetUserWorkbases(ctx context.Context, ids []uint64) ([]types.UserWorkbase, error) {
	var (
		wbs      []types.UserWorkbase
		innerErr error
	)
	err := h.actor.submit(ctx, func(c *Chain) { wbs, innerErr = c.GetUserWorkbases(ids) })
	if err != nil {
		return nil, err
	}
	return wbs, innerErr
}

// SetupShareForChain points a locally-mined candidate at the current chain
// tip and uncle set, matching the original's setup_share_for_chain — only
// ever applied to a share about to be submitted by this node's own miner,
// never to a share received from a peer.
func (h ChainHandle) SetupShareForChain(ctx context.Context, header types.ShareHeader, transactions []types.Transaction) (*types.ShareBlock, error) {
	tip, uncles, err := h.GetChainTipAndUncles(ctx)
	if err != nil {
		return nil, fmt.Errorf("sharechain: setup share for chain: %w", err)
	}
	header.PrevShareBlockHash = &tip
	header.Uncles = uncles
	return types.NewShareBlockBuilder(header).WithTransactions(transactions).Build()
}
