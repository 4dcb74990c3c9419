package sharechain

import (
	"fmt"
	"time"

	"github.com/djkazic/p2pool-go/internal/types"
)

// maxTimeDiff bounds how far a share's timestamp may drift from the
// validator's clock, in either direction (spec §7, original MAX_TIME_DIFF).
const maxTimeDiff = 60 * time.Second

// TimeSource abstracts wall-clock time so validation timing is testable
// without sleeping, mirroring the original's TimeProvider trait.
type TimeSource interface {
	Now() time.Time
}

// SystemTimeSource is the production TimeSource backed by time.Now.
type SystemTimeSource struct{}

// Now returns the current wall-clock time.
func (SystemTimeSource) Now() time.Time { return time.Now() }

// FixedTimeSource is a TimeSource for tests, always returning T.
type FixedTimeSource struct {
	T time.Time
}

// Now returns the fixed time.
func (f FixedTimeSource) Now() time.Time { return f.T }

// Validator is the pre-insert validation gate applied before a candidate
// ShareBlock reaches Chain.AddShare (spec §4.2 "validation happens before
// insertion"). It holds no mutable state and is safe for concurrent use.
type Validator struct {
	store *BoltStore
	clock TimeSource
}

// NewValidator constructs a Validator reading parent/uncle resolvability
// from store and timestamps from clock.
func NewValidator(store *BoltStore, clock TimeSource) *Validator {
	return &Validator{store: store, clock: clock}
}

// Validate runs every pre-insert check and returns the first failure,
// following the original's validate() ordering: timestamp, then parent,
// then uncles. Proof-of-work / merkle-root / coinbase verification is left
// to the bitcoin-side consensus checks performed before a share ever
// reaches the share-chain (spec §1 Non-goals: Stratum/PoW verification is
// out of scope for this subsystem).
func (v *Validator) Validate(block *types.ShareBlock) error {
	if err := v.validateTimestamp(block); err != nil {
		return err
	}
	if err := v.validateParent(block); err != nil {
		return err
	}
	if err := v.validateUncles(block); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateTimestamp(block *types.ShareBlock) error {
	current := v.clock.Now().Unix()
	shareTime := int64(block.Header.MinerShare.Ntime)
	diff := current - shareTime
	if diff < 0 {
		diff = -diff
	}
	if time.Duration(diff)*time.Second > maxTimeDiff {
		return &ValidationError{
			Kind: ValidationTimestamp,
			Reason: fmt.Sprintf("share timestamp %d is more than %s from current time %d",
				shareTime, maxTimeDiff, current),
		}
	}
	return nil
}

func (v *Validator) validateParent(block *types.ShareBlock) error {
	if block.Header.IsGenesis() {
		return nil
	}
	parent := *block.Header.PrevShareBlockHash
	if !v.store.Has(parent) {
		return &ValidationError{
			Kind:   ValidationMissingParent,
			Reason: fmt.Sprintf("prev_share_blockhash %s not found in store", parent),
		}
	}
	return nil
}

func (v *Validator) validateUncles(block *types.ShareBlock) error {
	if len(block.Header.Uncles) > types.MaxUncles {
		return &ValidationError{
			Kind:   ValidationTooManyUncles,
			Reason: fmt.Sprintf("%d uncles exceeds max %d", len(block.Header.Uncles), types.MaxUncles),
		}
	}
	for _, uncle := range block.Header.Uncles {
		if !v.store.Has(uncle) {
			return &ValidationError{
				Kind:   ValidationMissingUncle,
				Reason: fmt.Sprintf("uncle %s not found in store", uncle),
			}
		}
	}
	return nil
}
