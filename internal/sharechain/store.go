package sharechain

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// readOnlyLockTimeout bounds how long a read-only open waits for bbolt's
// shared flock when a read-write owner's handle is still open.
const readOnlyLockTimeout = 2 * time.Second

// Bucket names are the Store's logical column families (spec §4.1). An
// additional share_heights bucket is kept alongside headers: it is not
// named in the spec's column-family list, but Chain needs O(1) height
// lookups per hash to maintain invariant 5 without re-walking the DAG on
// every query.
// bucketCumDifficulty (ShareHash -> decimal text) holds the cumulative
// difficulty from genesis to each individual share, independent of which
// branch is currently main. Like share_heights, it's implementation detail
// needed to evaluate the heaviest-chain rule over forks without re-walking
// the DAG from genesis on every AddShare.
var (
	bucketHeaders       = []byte("headers")
	bucketShareHeights  = []byte("share_heights")
	bucketCumDifficulty = []byte("share_cumulative_difficulty")
	bucketTransactions  = []byte("transactions")
	bucketWorkbases     = []byte("workbases")
	bucketUserWorkbases = []byte("user_workbases")
	bucketHeightIndex   = []byte("height_index")
	bucketMetadata      = []byte("metadata")
)

var allBuckets = [][]byte{
	bucketHeaders, bucketShareHeights, bucketCumDifficulty, bucketTransactions,
	bucketWorkbases, bucketUserWorkbases, bucketHeightIndex, bucketMetadata,
}

// Metadata keys for singleton chain state (spec §3 Chain in-memory model).
const (
	metaKeyChainTip        = "chain_tip"
	metaKeyTotalDifficulty = "total_difficulty"
)

// BoltStore is the embedded key-value persistence layer, backed by
// go.etcd.io/bbolt, laid out in the column families of spec §4.1.
type BoltStore struct {
	db     *bolt.DB
	logger *zap.Logger
}

// NewBoltStore opens (creating if absent) a read-write Store at path.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	return openBoltStore(path, logger, false)
}

// NewBoltStoreReadOnly opens a Store for inspection, without write access
// and without creating buckets. It does not run alongside a live read-write
// owner: while a writer holds the file lock, it waits up to
// readOnlyLockTimeout and then fails.
func NewBoltStoreReadOnly(path string, logger *zap.Logger) (*BoltStore, error) {
	return openBoltStore(path, logger, true)
}

func openBoltStore(path string, logger *zap.Logger, readOnly bool) (*BoltStore, error) {
	opts := &bolt.Options{ReadOnly: readOnly}
	if readOnly {
		// Bound the flock wait: a read-only open races a live writer's
		// exclusive lock and should fail fast rather than hang forever.
		opts.Timeout = readOnlyLockTimeout
	}
	db, err := bolt.Open(path, 0600, opts)
	if err != nil {
		return nil, &StoreError{Kind: StoreIO, Err: fmt.Errorf("open %s: %w", path, err)}
	}
	if !readOnly {
		if err := db.Update(func(tx *bolt.Tx) error {
			for _, name := range allBuckets {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			_ = db.Close()
			return nil, &StoreError{Kind: StoreIO, Err: fmt.Errorf("create buckets: %w", err)}
		}
	}
	logger.Info("sharechain store opened", zap.String("path", path), zap.Bool("read_only", readOnly))
	return &BoltStore{db: db, logger: logger}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func heightKey(h uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, h)
	return b
}

func workbaseKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// Has reports whether a header for hash is present.
func (s *BoltStore) Has(hash types.ShareHash) bool {
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketHeaders).Get(hash.Bytes()) != nil
		return nil
	})
	return found
}

// GetHeader returns the stored header projection and its chain height.
func (s *BoltStore) GetHeader(hash types.ShareHash) (types.StorageShareBlock, uint32, bool, error) {
	var (
		storage types.StorageShareBlock
		height  uint32
		found   bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketHeaders).Get(hash.Bytes())
		if raw == nil {
			return nil
		}
		decoded, err := types.CBORDeserializeStorageShareBlock(raw)
		if err != nil {
			return &StoreError{Kind: StoreCorruption, Err: err}
		}
		storage = decoded
		heightRaw := tx.Bucket(bucketShareHeights).Get(hash.Bytes())
		if heightRaw != nil {
			height = binary.BigEndian.Uint32(heightRaw)
		}
		found = true
		return nil
	})
	if err != nil {
		return types.StorageShareBlock{}, 0, false, err
	}
	return storage, height, found, nil
}

// GetTransactions returns the stored transaction list for hash, if any.
func (s *BoltStore) GetTransactions(hash types.ShareHash) ([]types.Transaction, bool, error) {
	var (
		txs   []types.Transaction
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTransactions).Get(hash.Bytes())
		if raw == nil {
			return nil
		}
		if err := cborUnmarshalTransactions(raw, &txs); err != nil {
			return &StoreError{Kind: StoreCorruption, Err: err}
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return txs, found, nil
}

// GetShare reconstructs the full ShareBlock by joining header and
// transactions (spec §4.1 get_share).
func (s *BoltStore) GetShare(hash types.ShareHash) (*types.ShareBlock, bool, error) {
	storage, _, found, err := s.GetHeader(hash)
	if err != nil || !found {
		return nil, found, err
	}
	txs, _, err := s.GetTransactions(hash)
	if err != nil {
		return nil, false, err
	}
	return storage.IntoShareBlockWithTransactions(txs), true, nil
}

// AddShare atomically persists a block's header, transactions,
// height-index entry and cumulative-difficulty entry, and updates the
// chain-tip/total-difficulty metadata singletons — spec §4.1: "All writes
// within one add_share must be atomic."
func (s *BoltStore) AddShare(block *types.ShareBlock, hash types.ShareHash, height uint32, cumDifficulty types.Decimal, chainTip types.ShareHash, totalDifficulty types.Decimal) error {
	storage := types.NewStorageShareBlock(block)
	headerBytes, err := storage.CBORSerialize()
	if err != nil {
		return fmt.Errorf("sharechain: encode header: %w", err)
	}
	txBytes, err := cborMarshalTransactions(block.Transactions)
	if err != nil {
		return fmt.Errorf("sharechain: encode transactions: %w", err)
	}
	cumDiffText, err := cumDifficulty.MarshalText()
	if err != nil {
		return fmt.Errorf("sharechain: encode cumulative difficulty: %w", err)
	}
	totalDiffText, err := totalDifficulty.MarshalText()
	if err != nil {
		return fmt.Errorf("sharechain: encode total difficulty: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeaders).Put(hash.Bytes(), headerBytes); err != nil {
			return err
		}
		if err := tx.Bucket(bucketShareHeights).Put(hash.Bytes(), heightKey(height)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketCumDifficulty).Put(hash.Bytes(), cumDiffText); err != nil {
			return err
		}
		if len(block.Transactions) > 0 {
			if err := tx.Bucket(bucketTransactions).Put(hash.Bytes(), txBytes); err != nil {
				return err
			}
		}
		if err := appendHeightIndex(tx, height, hash); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMetadata).Put([]byte(metaKeyChainTip), chainTip.Bytes()); err != nil {
			return err
		}
		return tx.Bucket(bucketMetadata).Put([]byte(metaKeyTotalDifficulty), totalDiffText)
	})
	if err != nil {
		return &StoreError{Kind: StoreIO, Err: err}
	}
	return nil
}

// GetCumulativeDifficulty returns the cumulative difficulty from genesis to
// the given share, used to evaluate the heaviest-chain rule across forks.
func (s *BoltStore) GetCumulativeDifficulty(hash types.ShareHash) (types.Decimal, bool, error) {
	var (
		d     types.Decimal
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCumDifficulty).Get(hash.Bytes())
		if raw == nil {
			return nil
		}
		parsed, parseErr := types.NewDecimalFromString(string(raw))
		if parseErr != nil {
			return parseErr
		}
		d = parsed
		found = true
		return nil
	})
	if err != nil {
		return types.Decimal{}, false, &StoreError{Kind: StoreCorruption, Err: err}
	}
	return d, found, nil
}

// ForEachHeader iterates every stored header, invoking fn with its hash and
// parsed parent hash (nil for genesis). Used once at Chain startup to
// rebuild the in-memory tips set after a restart (spec §3's tips set is not
// itself persisted — only chain_tip and total_difficulty are).
func (s *BoltStore) ForEachHeader(fn func(hash types.ShareHash, parent *types.ShareHash) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeaders).ForEach(func(k, v []byte) error {
			storage, err := types.CBORDeserializeStorageShareBlock(v)
			if err != nil {
				return &StoreError{Kind: StoreCorruption, Err: err}
			}
			var hash types.ShareHash
			copy(hash[:], k)
			return fn(hash, storage.Header.PrevShareBlockHash)
		})
	})
}

func appendHeightIndex(tx *bolt.Tx, height uint32, hash types.ShareHash) error {
	bucket := tx.Bucket(bucketHeightIndex)
	key := heightKey(height)
	existing := bucket.Get(key)
	var hashes []types.ShareHash
	if existing != nil {
		if err := cborUnmarshalHashes(existing, &hashes); err != nil {
			return err
		}
	}
	for _, h := range hashes {
		if h == hash {
			return nil
		}
	}
	hashes = append(hashes, hash)
	encoded, err := cborMarshalHashes(hashes)
	if err != nil {
		return err
	}
	return bucket.Put(key, encoded)
}

// GetSharesAtHeight returns every known block hash at height h.
func (s *BoltStore) GetSharesAtHeight(h uint32) ([]types.ShareHash, error) {
	var hashes []types.ShareHash
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketHeightIndex).Get(heightKey(h))
		if raw == nil {
			return nil
		}
		return cborUnmarshalHashes(raw, &hashes)
	})
	if err != nil {
		return nil, &StoreError{Kind: StoreCorruption, Err: err}
	}
	return hashes, nil
}

// PutWorkbase stores an opaque work template keyed by WorkInfoID.
func (s *BoltStore) PutWorkbase(wb types.Workbase) error {
	return s.putKeyed(bucketWorkbases, workbaseKey(wb.WorkInfoID), wb)
}

// GetWorkbase retrieves a previously stored work template.
func (s *BoltStore) GetWorkbase(id uint64) (types.Workbase, bool, error) {
	var wb types.Workbase
	found, err := s.getKeyed(bucketWorkbases, workbaseKey(id), &wb)
	return wb, found, err
}

// GetWorkbases retrieves several work templates, skipping unknown ids.
func (s *BoltStore) GetWorkbases(ids []uint64) ([]types.Workbase, error) {
	out := make([]types.Workbase, 0, len(ids))
	for _, id := range ids {
		wb, found, err := s.GetWorkbase(id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, wb)
		}
	}
	return out, nil
}

// PutUserWorkbase stores an opaque user-facing work template.
func (s *BoltStore) PutUserWorkbase(wb types.UserWorkbase) error {
	return s.putKeyed(bucketUserWorkbases, workbaseKey(wb.WorkInfoID), wb)
}

// GetUserWorkbase retrieves a previously stored user-facing work template.
func (s *BoltStore) GetUserWorkbase(id uint64) (types.UserWorkbase, bool, error) {
	var wb types.UserWorkbase
	found, err := s.getKeyed(bucketUserWorkbases, workbaseKey(id), &wb)
	return wb, found, err
}

// GetUserWorkbases retrieves several user-facing work templates, skipping
// unknown ids.
func (s *BoltStore) GetUserWorkbases(ids []uint64) ([]types.UserWorkbase, error) {
	out := make([]types.UserWorkbase, 0, len(ids))
	for _, id := range ids {
		wb, found, err := s.GetUserWorkbase(id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, wb)
		}
	}
	return out, nil
}

// MetadataGet retrieves a raw metadata singleton.
func (s *BoltStore) MetadataGet(key string) ([]byte, bool, error) {
	var value []byte
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMetadata).Get([]byte(key))
		if raw == nil {
			return nil
		}
		value = append([]byte(nil), raw...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, &StoreError{Kind: StoreIO, Err: err}
	}
	return value, found, nil
}

// MetadataPut stores a raw metadata singleton.
func (s *BoltStore) MetadataPut(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put([]byte(key), value)
	})
	if err != nil {
		return &StoreError{Kind: StoreIO, Err: err}
	}
	return nil
}

// ChainTip reads the persisted chain-tip metadata singleton, used to
// restore in-memory Chain state after a restart (spec P9).
func (s *BoltStore) ChainTip() (types.ShareHash, bool, error) {
	raw, found, err := s.MetadataGet(metaKeyChainTip)
	if err != nil || !found {
		return types.ShareHash{}, found, err
	}
	var hash types.ShareHash
	copy(hash[:], raw)
	return hash, true, nil
}

// TotalDifficulty reads the persisted cumulative-difficulty metadata
// singleton.
func (s *BoltStore) TotalDifficulty() (types.Decimal, bool, error) {
	raw, found, err := s.MetadataGet(metaKeyTotalDifficulty)
	if err != nil || !found {
		return types.Decimal{}, found, err
	}
	d, parseErr := types.NewDecimalFromString(string(raw))
	if parseErr != nil {
		return types.Decimal{}, false, &StoreError{Kind: StoreCorruption, Err: parseErr}
	}
	return d, true, nil
}

func (s *BoltStore) putKeyed(bucket, key []byte, v interface{}) error {
	encoded, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("sharechain: encode: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, encoded)
	})
	if err != nil {
		return &StoreError{Kind: StoreIO, Err: err}
	}
	return nil
}

func (s *BoltStore) getKeyed(bucket, key []byte, out interface{}) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get(key)
		if raw == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(raw, out)
	})
	if err != nil {
		return false, &StoreError{Kind: StoreCorruption, Err: err}
	}
	return found, nil
}
