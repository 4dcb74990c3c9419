// Package sync implements the transport-agnostic locator-based sync driver
// of spec §4.6: build a locator, ask a peer for headers, fetch whatever
// blocks are missing locally, and insert them through the validation→
// AddShare pipeline in height order. The driver never touches a network
// connection directly — callers supply a Peer, so the same driver backs
// both unit tests and the libp2p-stream adapter in internal/p2p.
package sync

import (
	"context"
	"fmt"

	"github.com/djkazic/p2pool-go/internal/sharechain"
	"github.com/djkazic/p2pool-go/internal/types"
	"go.uber.org/zap"
)

// maxSyncHeadersPerRound bounds how many headers a single round of SyncWith
// will act on, mirroring the teacher's maxSyncBatchSize clamp in
// internal/p2p/sync.go.
const maxSyncHeadersPerRound = 2000

// Peer is the minimal surface SyncWith needs from a remote node. An
// internal/p2p adapter implements this over a libp2p stream using
// internal/wire messages; tests implement it directly with in-memory data.
type Peer interface {
	// GetShareHeaders requests headers from the peer's main chain following
	// locator, up to (and including, if present) stop — spec §4.6 step 1-2.
	GetShareHeaders(ctx context.Context, locator []types.ShareHash, stop types.ShareHash) ([]types.ShareHeader, error)
	// GetShareBlocks fetches full blocks for the given hashes, in any order.
	GetShareBlocks(ctx context.Context, hashes []types.ShareHash) ([]*types.ShareBlock, error)
}

// Driver runs sync rounds against peers on behalf of a local ChainHandle.
type Driver struct {
	chain     sharechain.ChainHandle
	validator *sharechain.Validator
	logger    *zap.Logger
}

// NewDriver constructs a Driver. validator may be nil to skip pre-insert
// validation (e.g. when the peer is already trusted).
func NewDriver(chain sharechain.ChainHandle, validator *sharechain.Validator, logger *zap.Logger) *Driver {
	return &Driver{chain: chain, validator: validator, logger: logger}
}

// SyncWith drives rounds of locator → headers → missing blocks → insert
// against peer until it reports nothing new, following spec §4.6 step 4
// ("repeat while the peer's tip is ahead"). It returns the number of shares
// accepted.
func (d *Driver) SyncWith(ctx context.Context, peer Peer) (int, error) {
	inserted := 0
	for {
		locator, err := d.chain.BuildLocator(ctx)
		if err != nil {
			return inserted, fmt.Errorf("sync: build locator: %w", err)
		}

		headers, err := peer.GetShareHeaders(ctx, locator, types.ShareHash{})
		if err != nil {
			return inserted, fmt.Errorf("sync: get share headers: %w", err)
		}
		if len(headers) == 0 {
			return inserted, nil
		}
		if len(headers) > maxSyncHeadersPerRound {
			headers = headers[:maxSyncHeadersPerRound]
		}

		hashes := make([]types.ShareHash, len(headers))
		for i, header := range headers {
			hash, err := headerHash(header)
			if err != nil {
				return inserted, fmt.Errorf("sync: hash header: %w", err)
			}
			hashes[i] = hash
		}

		missing, err := d.chain.GetMissingBlockhashes(ctx, hashes)
		if err != nil {
			return inserted, fmt.Errorf("sync: get missing blockhashes: %w", err)
		}
		if len(missing) == 0 {
			return inserted, nil
		}

		ordered := orderByHeaderSequence(hashes, missing)

		blocks, err := peer.GetShareBlocks(ctx, ordered)
		if err != nil {
			return inserted, fmt.Errorf("sync: get share blocks: %w", err)
		}

		round := 0
		for _, block := range blocks {
			if block == nil {
				continue
			}
			if _, err := d.chain.AddShare(ctx, d.validator, block); err != nil {
				var verr *sharechain.ValidationError
				if asValidationError(err, &verr) {
					d.logger.Warn("sync: rejected share", zap.Error(err))
					continue
				}
				return inserted, fmt.Errorf("sync: add share: %w", err)
			}
			round++
		}
		inserted += round
		d.logger.Info("sync round applied", zap.Int("headers", len(headers)), zap.Int("inserted", round))

		if round == 0 {
			return inserted, nil
		}
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

// headerHash computes the header-only content hash a received ShareHeader
// would have once reassembled without its transaction set — the same
// projection the Store persists as StorageShareBlock — so a requester can
// work out which headers it's missing without the peer echoing hashes back.
func headerHash(header types.ShareHeader) (types.ShareHash, error) {
	block := types.StorageShareBlock{Header: header}.IntoShareBlock()
	return block.Hash()
}

// orderByHeaderSequence returns the subset of allHashes present in missing,
// preserving allHashes' order — which is height order, since headers come
// back walking the peer's main chain forward (spec §4.2
// get_headers_for_locator). This keeps the follow-up insert loop applying
// blocks in height order per spec §4.6 step 3.
func orderByHeaderSequence(allHashes, missing []types.ShareHash) []types.ShareHash {
	missingSet := make(map[types.ShareHash]struct{}, len(missing))
	for _, h := range missing {
		missingSet[h] = struct{}{}
	}
	ordered := make([]types.ShareHash, 0, len(missing))
	for _, h := range allHashes {
		if _, ok := missingSet[h]; ok {
			ordered = append(ordered, h)
		}
	}
	return ordered
}
