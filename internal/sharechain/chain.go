package sharechain

import (
	"sort"

	"github.com/djkazic/p2pool-go/internal/types"
	"go.uber.org/zap"
)

// maxHeadersPerLocatorRequest bounds get_headers_for_locator per spec §4.6
// step 2 ("Peer replies with up to N headers (N=2000)").
const maxHeadersPerLocatorRequest = 2000

// Chain is the in-memory DAG view over a Store: tips, the single
// heaviest-work chain tip, cumulative difficulty, and the algorithms of
// spec §4.2. It has no internal locking — it is only ever touched by the
// single-writer ChainActor (spec §4.3).
type Chain struct {
	store       *BoltStore
	network     types.Network
	genesisHash types.ShareHash
	logger      *zap.Logger

	tips            map[types.ShareHash]struct{}
	chainTip        types.ShareHash
	totalDifficulty types.Decimal

	// arrivalSeq breaks ties between equal-cumulative-difficulty tips by
	// first-observed order (spec §9 Open Question (a)). After a restart,
	// shares already on disk are assigned a deterministic baseline order
	// (ascending by hash) since their true arrival order isn't persisted.
	arrivalSeq map[types.ShareHash]uint64
	nextSeq    uint64
}

// NewChain constructs the in-memory Chain over store, inserting the
// network's genesis share if the store is empty, or restoring state (tips,
// chain tip, total difficulty) from a previously-persisted store.
func NewChain(store *BoltStore, network types.Network, logger *zap.Logger) (*Chain, error) {
	genesis, err := types.BuildGenesisForNetwork(network)
	if err != nil {
		return nil, err
	}
	genesisHash, err := genesis.Hash()
	if err != nil {
		return nil, err
	}

	c := &Chain{
		store:       store,
		network:     network,
		genesisHash: genesisHash,
		logger:      logger,
		tips:        make(map[types.ShareHash]struct{}),
		arrivalSeq:  make(map[types.ShareHash]uint64),
	}

	if store.Has(genesisHash) {
		if err := c.restore(); err != nil {
			return nil, err
		}
		return c, nil
	}

	if err := c.insertGenesis(genesis, genesisHash); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) insertGenesis(genesis *types.ShareBlock, hash types.ShareHash) error {
	diff := genesis.Header.MinerShare.Diff
	if err := c.store.AddShare(genesis, hash, 0, diff, hash, diff); err != nil {
		return err
	}
	c.tips[hash] = struct{}{}
	c.chainTip = hash
	c.totalDifficulty = diff
	c.arrivalSeq[hash] = c.nextSeq
	c.nextSeq++
	c.logger.Info("sharechain genesis inserted", zap.String("network", string(c.network)), zap.Stringer("hash", hash))
	return nil
}

// restore rebuilds tips (not persisted) by scanning every stored header for
// referenced parents, then reloads chain_tip/total_difficulty from the
// metadata singletons (spec P9, crash recovery).
func (c *Chain) restore() error {
	referenced := make(map[types.ShareHash]struct{})
	all := make([]types.ShareHash, 0)
	if err := c.store.ForEachHeader(func(hash types.ShareHash, parent *types.ShareHash) error {
		all = append(all, hash)
		if parent != nil {
			referenced[*parent] = struct{}{}
		}
		return nil
	}); err != nil {
		return err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Less(all[j]) })
	for _, hash := range all {
		if _, isParent := referenced[hash]; !isParent {
			c.tips[hash] = struct{}{}
		}
		c.arrivalSeq[hash] = c.nextSeq
		c.nextSeq++
	}

	tip, found, err := c.store.ChainTip()
	if err != nil {
		return err
	}
	if found {
		c.chainTip = tip
	} else {
		c.chainTip = c.genesisHash
	}
	total, found, err := c.store.TotalDifficulty()
	if err != nil {
		return err
	}
	if found {
		c.totalDifficulty = total
	}
	c.logger.Info("sharechain restored",
		zap.Stringer("chain_tip", c.chainTip),
		zap.Int("tips", len(c.tips)),
		zap.String("total_difficulty", c.totalDifficulty.String()))
	return nil
}

// AddShare implements spec §4.2's add_share. Returns the block's hash. A
// duplicate add (same hash already present) is a no-op per P6.
func (c *Chain) AddShare(block *types.ShareBlock) (types.ShareHash, error) {
	hash, err := block.Hash()
	if err != nil {
		return types.ShareHash{}, err
	}

	if c.store.Has(hash) {
		return hash, nil
	}

	var (
		parentHeight uint32
		parentCum    types.Decimal
	)

	if block.Header.IsGenesis() {
		if hash != c.genesisHash {
			return types.ShareHash{}, &ValidationError{Kind: ValidationMissingParent, Reason: "declared genesis does not match network genesis"}
		}
		// Already handled by the Has() check above for the real genesis;
		// unreachable for a well-formed chain but kept for completeness.
		parentHeight, parentCum = 0, types.Decimal{}
	} else {
		parentHash := *block.Header.PrevShareBlockHash
		if !c.store.Has(parentHash) {
			return types.ShareHash{}, ErrMissingParent
		}
		_, height, _, err := c.store.GetHeader(parentHash)
		if err != nil {
			return types.ShareHash{}, err
		}
		cum, found, err := c.store.GetCumulativeDifficulty(parentHash)
		if err != nil {
			return types.ShareHash{}, err
		}
		if !found {
			return types.ShareHash{}, &ReorgError{Err: ErrReorgMissingAncestor}
		}
		parentHeight = height
		parentCum = cum
	}

	newHeight := parentHeight + 1
	newCumDifficulty := parentCum.Add(block.Header.MinerShare.Diff.Decimal)
	newCumDifficultyWrapped := types.Decimal{Decimal: newCumDifficulty}

	oldChainTip := c.chainTip
	oldTotalDifficulty := c.totalDifficulty

	// tips: remove the parent if it was a tip, insert this block.
	parentWasTip := false
	if !block.Header.IsGenesis() {
		_, parentWasTip = c.tips[*block.Header.PrevShareBlockHash]
		delete(c.tips, *block.Header.PrevShareBlockHash)
	}
	c.tips[hash] = struct{}{}
	c.arrivalSeq[hash] = c.nextSeq
	c.nextSeq++

	becameHeaviest := c.isHeavier(newCumDifficultyWrapped, hash, oldTotalDifficulty, oldChainTip)
	newChainTip := oldChainTip
	newTotalDifficulty := oldTotalDifficulty
	if becameHeaviest {
		newChainTip = hash
		newTotalDifficulty = newCumDifficultyWrapped
	}

	if err := c.store.AddShare(block, hash, newHeight, newCumDifficultyWrapped, newChainTip, newTotalDifficulty); err != nil {
		// Roll back the in-memory mutation; the persisted state never changed.
		if parentWasTip {
			c.tips[*block.Header.PrevShareBlockHash] = struct{}{}
		}
		delete(c.tips, hash)
		delete(c.arrivalSeq, hash)
		c.nextSeq--
		return types.ShareHash{}, err
	}

	if becameHeaviest {
		var reorgErr error
		if !block.Header.IsGenesis() && *block.Header.PrevShareBlockHash != oldChainTip {
			// reorg reads c.chainTip as the old tip, so run it before the swap.
			reorgErr = c.reorg(hash, newCumDifficultyWrapped)
		}
		c.chainTip = newChainTip
		c.totalDifficulty = newTotalDifficulty
		if reorgErr != nil {
			return hash, reorgErr
		}
	}

	return hash, nil
}

// isHeavier reports whether a candidate with cumDiff/hash should displace
// the current chain tip, applying the first-observed-arrival tie-break
// (spec §3 invariant 4, §9 Open Question (a)).
func (c *Chain) isHeavier(cumDiff types.Decimal, hash types.ShareHash, currentTotal types.Decimal, currentTip types.ShareHash) bool {
	cmp := cumDiff.Cmp(currentTotal.Decimal)
	if cmp > 0 {
		return true
	}
	if cmp < 0 {
		return false
	}
	// Equal cumulative difficulty: the earlier-arrived tip stays chain tip.
	return c.arrivalSeq[hash] < c.arrivalSeq[currentTip]
}

// reorg walks backwards from both the old and the new tip until a common
// ancestor is found. It exists for logging/observability and future-proofing
// against alternate bookkeeping; because total_difficulty and chain_tip are
// already updated by the caller from persisted per-share cumulative
// difficulty, no additional store mutation is required here — every share
// on the new path was already persisted via its own AddShare call, and
// every share on the displaced path remains in the Store as a side-chain
// member (spec §4.2 reorg: "they remain in Store, remain discoverable").
func (c *Chain) reorg(newTip types.ShareHash, newTipCumDifficulty types.Decimal) error {
	ancestor, err := c.commonAncestor(c.chainTip, newTip)
	if err != nil {
		return &ReorgError{Err: err}
	}
	c.logger.Info("sharechain reorg",
		zap.Stringer("old_tip", c.chainTip),
		zap.Stringer("new_tip", newTip),
		zap.Stringer("common_ancestor", ancestor),
		zap.String("total_difficulty", newTipCumDifficulty.String()))
	return nil
}

func (c *Chain) commonAncestor(a, b types.ShareHash) (types.ShareHash, error) {
	visited := make(map[types.ShareHash]struct{})
	for cur, ok := a, true; ok; {
		visited[cur] = struct{}{}
		if cur == c.genesisHash {
			break
		}
		parent, hasParent := c.parentOf(cur)
		if !hasParent {
			break
		}
		cur = parent
	}

	for cur, ok := b, true; ok; {
		if _, seen := visited[cur]; seen {
			return cur, nil
		}
		if cur == c.genesisHash {
			break
		}
		parent, hasParent := c.parentOf(cur)
		if !hasParent {
			break
		}
		cur = parent
	}
	return types.ShareHash{}, ErrReorgMissingAncestor
}

func (c *Chain) parentOf(hash types.ShareHash) (types.ShareHash, bool) {
	storage, _, found, err := c.store.GetHeader(hash)
	if err != nil || !found {
		return types.ShareHash{}, false
	}
	if storage.Header.PrevShareBlockHash == nil {
		return types.ShareHash{}, false
	}
	return *storage.Header.PrevShareBlockHash, true
}

// GetChainTipAndUncles returns the current chain tip and every other tip
// (competing, not-yet-main branches) — spec §4.2 get_chain_tip_and_uncles.
func (c *Chain) GetChainTipAndUncles() (types.ShareHash, []types.ShareHash) {
	uncles := make([]types.ShareHash, 0, len(c.tips))
	for hash := range c.tips {
		if hash != c.chainTip {
			uncles = append(uncles, hash)
		}
	}
	sort.Slice(uncles, func(i, j int) bool { return uncles[i].Less(uncles[j]) })
	return c.chainTip, uncles
}

// GetTips returns a snapshot of the current tip set.
func (c *Chain) GetTips() []types.ShareHash {
	out := make([]types.ShareHash, 0, len(c.tips))
	for hash := range c.tips {
		out = append(out, hash)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// GetChainTip returns the current heaviest-work tip.
func (c *Chain) GetChainTip() types.ShareHash {
	return c.chainTip
}

// GetTotalDifficulty returns the cumulative difficulty along the main chain.
func (c *Chain) GetTotalDifficulty() types.Decimal {
	return c.totalDifficulty
}

// GetDepth returns the number of main-chain blocks above hash, or false if
// hash is not on the main chain (spec §4.2 get_depth).
func (c *Chain) GetDepth(hash types.ShareHash) (uint32, bool) {
	var depth uint32
	cur := c.chainTip
	for {
		if cur == hash {
			return depth, true
		}
		if cur == c.genesisHash {
			return 0, false
		}
		parent, ok := c.parentOf(cur)
		if !ok {
			return 0, false
		}
		cur = parent
		depth++
	}
}

// GetTipHeight returns the height of the chain tip (0 for genesis-only).
func (c *Chain) GetTipHeight() uint32 {
	_, height, _, err := c.store.GetHeader(c.chainTip)
	if err != nil {
		return 0
	}
	return height
}

// BuildLocator produces a Bitcoin-style sparse, exponentially-spaced locator
// starting at the chain tip (spec §4.2 build_locator).
func (c *Chain) BuildLocator() []types.ShareHash {
	locator := make([]types.ShareHash, 0)
	cur := c.chainTip
	step := 1
	linearCount := 0
	for {
		locator = append(locator, cur)
		if cur == c.genesisHash {
			break
		}
		for i := 0; i < step; i++ {
			parent, ok := c.parentOf(cur)
			if !ok {
				return dedupeTrailingGenesis(locator, c.genesisHash)
			}
			cur = parent
			if cur == c.genesisHash {
				break
			}
		}
		linearCount++
		if linearCount >= 10 {
			step *= 2
		}
	}
	return locator
}

func dedupeTrailingGenesis(locator []types.ShareHash, genesis types.ShareHash) []types.ShareHash {
	if len(locator) == 0 || locator[len(locator)-1] != genesis {
		locator = append(locator, genesis)
	}
	return locator
}

// GetHeadersForLocator implements spec §4.2 get_headers_for_locator.
func (c *Chain) GetHeadersForLocator(locator []types.ShareHash, stop types.ShareHash, limit int) []types.ShareHeader {
	if limit <= 0 || limit > maxHeadersPerLocatorRequest {
		limit = maxHeadersPerLocatorRequest
	}
	start := c.firstKnownMainChainHash(locator)
	chain := c.mainChainFrom(start, stop, limit)
	headers := make([]types.ShareHeader, 0, len(chain))
	for _, hash := range chain {
		storage, _, found, err := c.store.GetHeader(hash)
		if err != nil || !found {
			continue
		}
		headers = append(headers, storage.Header)
	}
	return headers
}

// GetBlockhashesForLocator implements spec §4.2 get_blockhashes_for_locator.
func (c *Chain) GetBlockhashesForLocator(locator []types.ShareHash, stop types.ShareHash, limit int) []types.ShareHash {
	if limit <= 0 || limit > maxHeadersPerLocatorRequest {
		limit = maxHeadersPerLocatorRequest
	}
	start := c.firstKnownMainChainHash(locator)
	return c.mainChainFrom(start, stop, limit)
}

// firstKnownMainChainHash returns the first locator entry known to be on
// the current main chain, or the genesis hash if none match.
func (c *Chain) firstKnownMainChainHash(locator []types.ShareHash) types.ShareHash {
	mainChain := c.mainChainSet()
	for _, hash := range locator {
		if _, ok := mainChain[hash]; ok {
			return hash
		}
	}
	return c.genesisHash
}

func (c *Chain) mainChainSet() map[types.ShareHash]struct{} {
	set := make(map[types.ShareHash]struct{})
	for cur := c.chainTip; ; {
		set[cur] = struct{}{}
		if cur == c.genesisHash {
			break
		}
		parent, ok := c.parentOf(cur)
		if !ok {
			break
		}
		cur = parent
	}
	return set
}

// mainChainFrom walks the main chain forward from the successor of start up
// to stop (inclusive, zero-hash meaning "as far as possible") or limit
// entries, whichever comes first.
func (c *Chain) mainChainFrom(start, stop types.ShareHash, limit int) []types.ShareHash {
	fullPath := make([]types.ShareHash, 0)
	for cur := c.chainTip; ; {
		fullPath = append(fullPath, cur)
		if cur == c.genesisHash {
			break
		}
		parent, ok := c.parentOf(cur)
		if !ok {
			break
		}
		cur = parent
	}
	for i, j := 0, len(fullPath)-1; i < j; i, j = i+1, j-1 {
		fullPath[i], fullPath[j] = fullPath[j], fullPath[i]
	}

	startIdx := -1
	for i, hash := range fullPath {
		if hash == start {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		startIdx = -1 // start not found on main chain: begin from genesis
	}

	out := make([]types.ShareHash, 0, limit)
	for i := startIdx + 1; i < len(fullPath) && len(out) < limit; i++ {
		out = append(out, fullPath[i])
		if !stop.IsZero() && fullPath[i] == stop {
			break
		}
	}
	return out
}

// GetMissingBlockhashes filters hashes to those unknown to the Store
// (spec §4.2 get_missing_blockhashes).
func (c *Chain) GetMissingBlockhashes(hashes []types.ShareHash) []types.ShareHash {
	missing := make([]types.ShareHash, 0)
	for _, hash := range hashes {
		if !c.store.Has(hash) {
			missing = append(missing, hash)
		}
	}
	return missing
}

// GetSharesAtHeight returns all known blocks at height h.
func (c *Chain) GetSharesAtHeight(height uint32) ([]types.ShareHash, error) {
	return c.store.GetSharesAtHeight(height)
}

// GetShare returns the full reconstructed ShareBlock for hash.
func (c *Chain) GetShare(hash types.ShareHash) (*types.ShareBlock, bool, error) {
	return c.store.GetShare(hash)
}

// IsConfirmed reports whether block's hash is known to the Store at all
// (main or side chain) — used by the local-miner path to check a previously
// submitted share was actually accepted.
func (c *Chain) IsConfirmed(block *types.ShareBlock) (bool, error) {
	hash, err := block.Hash()
	if err != nil {
		return false, err
	}
	return c.store.Has(hash), nil
}

// StoreWorkbase persists an opaque work template.
func (c *Chain) StoreWorkbase(wb types.Workbase) error {
	return c.store.PutWorkbase(wb)
}

// StoreUserWorkbase persists an opaque user-facing work template.
func (c *Chain) StoreUserWorkbase(wb types.UserWorkbase) error {
	return c.store.PutUserWorkbase(wb)
}

// GetWorkbase retrieves a previously stored work template.
func (c *Chain) GetWorkbase(id uint64) (types.Workbase, bool, error) {
	return c.store.GetWorkbase(id)
}

// GetWorkbases retrieves several work templates.
func (c *Chain) GetWorkbases(ids []uint64) ([]types.Workbase, error) {
	return c.store.GetWorkbases(ids)
}

// GetUserWorkbase retrieves a previously stored user-facing work template.
func (c *Chain) GetUserWorkbase(id uint64) (types.UserWorkbase, bool, error) {
	return c.store.GetUserWorkbase(id)
}

// GetUserWorkbases retrieves several user-facing work templates.
func (c *Chain) GetUserWorkbases(ids []uint64) ([]types.UserWorkbase, error) {
	return c.store.GetUserWorkbases(ids)
}

// GetShareHeaders returns the headers for the given hashes, skipping
// unknown ones.
func (c *Chain) GetShareHeaders(hashes []types.ShareHash) []types.ShareHeader {
	headers := make([]types.ShareHeader, 0, len(hashes))
	for _, hash := range hashes {
		storage, _, found, err := c.store.GetHeader(hash)
		if err != nil || !found {
			continue
		}
		headers = append(headers, storage.Header)
	}
	return headers
}
