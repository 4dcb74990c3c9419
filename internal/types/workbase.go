package types

// Workbase is an opaque work template (generation-transaction + GBT
// snapshot shape, owned by the external coinbase-construction component)
// keyed by WorkInfoID. The chain engine stores and retrieves it but never
// interprets its Payload.
type Workbase struct {
	WorkInfoID uint64 `cbor:"1,keyasint"`
	Payload    []byte `cbor:"2,keyasint"`
}

// UserWorkbase is the user-facing counterpart of Workbase, also opaque to
// the chain engine.
type UserWorkbase struct {
	WorkInfoID uint64 `cbor:"1,keyasint"`
	Payload    []byte `cbor:"2,keyasint"`
}
