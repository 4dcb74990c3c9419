// Package sharechain implements the share-chain core: persistent storage,
// the in-memory DAG and its tip-selection algorithm, the single-writer
// actor that serializes all mutations, and the pre-insert validation gate.
package sharechain

import "errors"

// ErrNotFound names a lookup for a key that does not exist. Store lookups
// report that benign case through their found=false result, not this error.
var ErrNotFound = errors.New("sharechain: not found")

// ErrChannelClosed names the case of an actor that has exited (process
// shutdown). ChainHandle methods do not return it: a request made after the
// actor stops waits until the caller's context ends and returns ctx.Err().
var ErrChannelClosed = errors.New("sharechain: actor channel closed")

// ErrReorgMissingAncestor signals Store corruption: a reorg walked back
// from both tips without finding a common ancestor.
var ErrReorgMissingAncestor = errors.New("sharechain: reorg missing common ancestor")

// ErrAlreadyPresent names a block whose hash is already known. AddShare does
// not return it: a duplicate add is a no-op returning the hash and a nil
// error (spec P6, idempotent add).
var ErrAlreadyPresent = errors.New("sharechain: share already present")

// ErrMissingParent is returned by AddShare when prev_share_blockhash does
// not resolve in the Store and the block is not a recognised genesis.
var ErrMissingParent = errors.New("sharechain: parent share not found")

// ValidationErrorKind distinguishes the validation error taxonomy (spec §7).
type ValidationErrorKind int

const (
	ValidationTimestamp ValidationErrorKind = iota
	ValidationMissingParent
	ValidationTooManyUncles
	ValidationMissingUncle
	ValidationPowBelowTarget
)

func (k ValidationErrorKind) String() string {
	switch k {
	case ValidationTimestamp:
		return "timestamp"
	case ValidationMissingParent:
		return "missing_parent"
	case ValidationTooManyUncles:
		return "too_many_uncles"
	case ValidationMissingUncle:
		return "missing_uncle"
	case ValidationPowBelowTarget:
		return "pow_below_target"
	default:
		return "unknown"
	}
}

// ValidationError reports why a candidate share was rejected pre-insert.
type ValidationError struct {
	Kind   ValidationErrorKind
	Reason string
}

func (e *ValidationError) Error() string {
	return "sharechain: validation failed (" + e.Kind.String() + "): " + e.Reason
}

// StoreErrorKind distinguishes the store failure taxonomy (spec §7).
type StoreErrorKind int

const (
	StoreIO StoreErrorKind = iota
	StoreCorruption
)

func (k StoreErrorKind) String() string {
	if k == StoreCorruption {
		return "corruption"
	}
	return "io"
}

// StoreError wraps a fatal Store failure (Io or Corruption). A missing key
// is not a StoreError; lookups report it through their found result.
type StoreError struct {
	Kind StoreErrorKind
	Err  error
}

func (e *StoreError) Error() string {
	return "sharechain: store error (" + e.Kind.String() + "): " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ReorgError wraps the underlying reorg failure, such as
// ErrReorgMissingAncestor. It carries no hashes of its own.
type ReorgError struct {
	Err error
}

func (e *ReorgError) Error() string {
	return "sharechain: reorg error: " + e.Err.Error()
}

func (e *ReorgError) Unwrap() error {
	return e.Err
}
