// Package wire implements the peer-exchanged message schema of the
// share-chain protocol (spec §4.5): a single tagged union covering
// inventory announcements, locator-based sync requests/responses, and
// relay of individual items. Go has no native sum type, so the envelope
// here follows the same discriminant-plus-payload-struct idiom the p2p
// layer already uses for its own CBOR messages, generalised to eleven
// variants instead of six.
package wire

import (
	"fmt"

	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/fxamacker/cbor/v2"
)

// ProtocolVersion identifies the wire schema implemented by this package.
const ProtocolVersion = "1.0.0"

// Size limits applied post-decode, mirroring the teacher's
// maxP2PCoinbaseTxSize/maxP2PMinerAddressLen checks in messages.go —
// CBOR alone won't stop a peer from claiming an enormous list length.
const (
	maxMessageBytes      = 4 * 1024 * 1024
	maxLocatorEntries    = 2000
	maxInventoryEntries  = 50000
	maxHeadersPerMessage = 2000
	maxTransactionBytes  = 1024 * 1024
)

// cborMode is the canonical encoding mode, matching types.ShareBlock's so
// that a Message embedding a ShareBlock stays content-address-compatible
// with direct Store/Chain use (spec §4.5 "serialization must be deterministic").
var cborMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: invalid canonical cbor options: %v", err))
	}
	return mode
}()

// Kind discriminates the eleven message variants of spec §4.5.
type Kind uint8

const (
	KindInventory Kind = iota + 1
	KindGetShareHeaders
	KindGetShareBlocks
	KindShareHeaders
	KindShareBlock
	KindGetData
	KindNotFound
	KindWorkbase
	KindUserWorkbase
	KindTransaction
	KindMiningShare
)

func (k Kind) String() string {
	switch k {
	case KindInventory:
		return "Inventory"
	case KindGetShareHeaders:
		return "GetShareHeaders"
	case KindGetShareBlocks:
		return "GetShareBlocks"
	case KindShareHeaders:
		return "ShareHeaders"
	case KindShareBlock:
		return "ShareBlock"
	case KindGetData:
		return "GetData"
	case KindNotFound:
		return "NotFound"
	case KindWorkbase:
		return "Workbase"
	case KindUserWorkbase:
		return "UserWorkbase"
	case KindTransaction:
		return "Transaction"
	case KindMiningShare:
		return "MiningShare"
	default:
		return "Unknown"
	}
}

// InventoryKind distinguishes what an Inventory message announces.
type InventoryKind uint8

const (
	InventoryBlockHashes InventoryKind = iota + 1
	InventoryTransactionHashes
)

// Inventory announces items this peer has, by hash only (spec §4.6
// "any locally accepted share triggers broadcast of Inventory").
type Inventory struct {
	Kind        InventoryKind     `cbor:"1,keyasint"`
	BlockHashes []types.ShareHash `cbor:"2,keyasint,omitempty"`
	TxIDs       [][32]byte        `cbor:"3,keyasint,omitempty"`
}

// LocatorRequest is the payload of both GetShareHeaders and GetShareBlocks:
// a sparse locator plus an optional stop hash (spec §4.6 step 1). A zero
// Stop means "as far as possible up to your own tip".
type LocatorRequest struct {
	Locator []types.ShareHash `cbor:"1,keyasint"`
	Stop    types.ShareHash   `cbor:"2,keyasint"`
}

// GetDataKind distinguishes what a GetData message is fetching.
type GetDataKind uint8

const (
	GetDataBlock GetDataKind = iota + 1
	GetDataTxid
)

// GetData requests a single item by hash.
type GetData struct {
	Kind  GetDataKind     `cbor:"1,keyasint"`
	Block types.ShareHash `cbor:"2,keyasint"`
	Txid  [32]byte        `cbor:"3,keyasint"`
}

// Message is the envelope every peer sends: a Kind discriminant plus
// exactly one populated payload field, matching the Kind. Unused fields
// are omitted from the wire encoding via omitempty.
type Message struct {
	Kind Kind `cbor:"1,keyasint"`

	Inventory      *Inventory          `cbor:"2,keyasint,omitempty"`
	HeadersRequest *LocatorRequest     `cbor:"3,keyasint,omitempty"`
	BlocksRequest  *LocatorRequest     `cbor:"4,keyasint,omitempty"`
	Headers        []types.ShareHeader `cbor:"5,keyasint,omitempty"`
	Block          *types.ShareBlock   `cbor:"6,keyasint,omitempty"`
	GetDataItem    *GetData            `cbor:"7,keyasint,omitempty"`
	Workbase       *types.Workbase     `cbor:"8,keyasint,omitempty"`
	UserWorkbase   *types.UserWorkbase `cbor:"9,keyasint,omitempty"`
	Transaction    *types.Transaction  `cbor:"10,keyasint,omitempty"`
	MiningShare    *types.ShareBlock   `cbor:"11,keyasint,omitempty"`
}

// NewInventoryBlockHashes builds an Inventory announcement of known share hashes.
func NewInventoryBlockHashes(hashes []types.ShareHash) Message {
	return Message{Kind: KindInventory, Inventory: &Inventory{Kind: InventoryBlockHashes, BlockHashes: hashes}}
}

// NewInventoryTransactionHashes builds an Inventory announcement of known txids.
func NewInventoryTransactionHashes(txids [][32]byte) Message {
	return Message{Kind: KindInventory, Inventory: &Inventory{Kind: InventoryTransactionHashes, TxIDs: txids}}
}

// NewGetShareHeaders requests headers via locator (spec §4.6 step 1).
func NewGetShareHeaders(locator []types.ShareHash, stop types.ShareHash) Message {
	return Message{Kind: KindGetShareHeaders, HeadersRequest: &LocatorRequest{Locator: locator, Stop: stop}}
}

// NewGetShareBlocks requests full blocks via locator.
func NewGetShareBlocks(locator []types.ShareHash, stop types.ShareHash) Message {
	return Message{Kind: KindGetShareBlocks, BlocksRequest: &LocatorRequest{Locator: locator, Stop: stop}}
}

// NewShareHeaders responds to GetShareHeaders.
func NewShareHeaders(headers []types.ShareHeader) Message {
	return Message{Kind: KindShareHeaders, Headers: headers}
}

// NewShareBlock responds to GetShareBlocks, or relays a block unsolicited.
func NewShareBlock(block *types.ShareBlock) Message {
	return Message{Kind: KindShareBlock, Block: block}
}

// NewGetDataBlock requests a single share by hash.
func NewGetDataBlock(hash types.ShareHash) Message {
	return Message{Kind: KindGetData, GetDataItem: &GetData{Kind: GetDataBlock, Block: hash}}
}

// NewGetDataTxid requests a single transaction by txid.
func NewGetDataTxid(txid [32]byte) Message {
	return Message{Kind: KindGetData, GetDataItem: &GetData{Kind: GetDataTxid, Txid: txid}}
}

// NewNotFound is a negative reply to a GetData/GetShareHeaders/GetShareBlocks request.
func NewNotFound() Message {
	return Message{Kind: KindNotFound}
}

// NewWorkbase shares an opaque work template.
func NewWorkbase(wb types.Workbase) Message {
	return Message{Kind: KindWorkbase, Workbase: &wb}
}

// NewUserWorkbase shares an opaque user-facing work template.
func NewUserWorkbase(wb types.UserWorkbase) Message {
	return Message{Kind: KindUserWorkbase, UserWorkbase: &wb}
}

// NewTransaction propagates a single Bitcoin transaction.
func NewTransaction(tx types.Transaction) Message {
	return Message{Kind: KindTransaction, Transaction: &tx}
}

// NewMiningShare gossips a newly mined share (spec §4.6 "Inventory gossip").
func NewMiningShare(block *types.ShareBlock) Message {
	return Message{Kind: KindMiningShare, MiningShare: block}
}

// Encode serializes msg to canonical CBOR.
func Encode(msg Message) ([]byte, error) {
	data, err := cborMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", msg.Kind, err)
	}
	return data, nil
}

// Decode parses a canonical CBOR-encoded Message and enforces the size
// limits a malicious or buggy peer could otherwise use to exhaust memory.
func Decode(data []byte) (Message, error) {
	if len(data) > maxMessageBytes {
		return Message{}, fmt.Errorf("wire: decode: message too large: %d bytes", len(data))
	}
	var msg Message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w", err)
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// validate checks that the populated payload field matches Kind and that
// every size-bounded list respects its limit.
func (m Message) validate() error {
	switch m.Kind {
	case KindInventory:
		if m.Inventory == nil {
			return fmt.Errorf("wire: Inventory message missing payload")
		}
		if len(m.Inventory.BlockHashes) > maxInventoryEntries || len(m.Inventory.TxIDs) > maxInventoryEntries {
			return fmt.Errorf("wire: Inventory exceeds %d entries", maxInventoryEntries)
		}
	case KindGetShareHeaders:
		if err := validateLocatorRequest(m.HeadersRequest); err != nil {
			return err
		}
	case KindGetShareBlocks:
		if err := validateLocatorRequest(m.BlocksRequest); err != nil {
			return err
		}
	case KindShareHeaders:
		if len(m.Headers) > maxHeadersPerMessage {
			return fmt.Errorf("wire: ShareHeaders exceeds %d entries", maxHeadersPerMessage)
		}
	case KindShareBlock:
		if m.Block == nil {
			return fmt.Errorf("wire: ShareBlock message missing payload")
		}
	case KindGetData:
		if m.GetDataItem == nil {
			return fmt.Errorf("wire: GetData message missing payload")
		}
	case KindNotFound:
		// unit payload: nothing to check.
	case KindWorkbase:
		if m.Workbase == nil {
			return fmt.Errorf("wire: Workbase message missing payload")
		}
	case KindUserWorkbase:
		if m.UserWorkbase == nil {
			return fmt.Errorf("wire: UserWorkbase message missing payload")
		}
	case KindTransaction:
		if m.Transaction == nil {
			return fmt.Errorf("wire: Transaction message missing payload")
		}
		if len(m.Transaction.Raw) > maxTransactionBytes {
			return fmt.Errorf("wire: transaction too large: %d bytes", len(m.Transaction.Raw))
		}
	case KindMiningShare:
		if m.MiningShare == nil {
			return fmt.Errorf("wire: MiningShare message missing payload")
		}
	default:
		return fmt.Errorf("wire: unknown message kind %d", m.Kind)
	}
	return nil
}

func validateLocatorRequest(req *LocatorRequest) error {
	if req == nil {
		return fmt.Errorf("wire: locator request message missing payload")
	}
	if len(req.Locator) > maxLocatorEntries {
		return fmt.Errorf("wire: locator exceeds %d entries", maxLocatorEntries)
	}
	return nil
}
