package p2p

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/djkazic/p2pool-go/internal/wire"
	"go.uber.org/zap"
)

const (
	// SyncProtocolID is the libp2p stream protocol carrying sync requests.
	SyncProtocolID = "/p2pool-go/sync/1.0.0"

	maxSyncMsgSize    = 4 * 1024 * 1024
	syncStreamTimeout = 30 * time.Second
	maxHeadersPerResp = 2000
)

// ChainReader is the subset of sharechain.ChainHandle the sync server needs
// to answer a peer's requests. sharechain.ChainHandle satisfies this
// directly; tests can substitute a fake.
type ChainReader interface {
	GetHeadersForLocator(ctx context.Context, locator []types.ShareHash, stop types.ShareHash, limit int) ([]types.ShareHeader, error)
	GetShare(ctx context.Context, hash types.ShareHash) (*types.ShareBlock, bool, error)
}

// Syncer answers GetShareHeaders/GetData requests from peers over a single
// libp2p stream protocol, grounded on the teacher's Syncer (single
// registered stream handler, deadline-bounded reads, LimitReader-capped
// message size) generalized from the teacher's bespoke locator request/
// response pair to the wire package's full message set.
type Syncer struct {
	host   host.Host
	chain  ChainReader
	logger *zap.Logger
}

// NewSyncer registers the sync stream handler and returns the Syncer.
func NewSyncer(h host.Host, chain ChainReader, logger *zap.Logger) *Syncer {
	s := &Syncer{host: h, chain: chain, logger: logger}
	h.SetStreamHandler(protocol.ID(SyncProtocolID), s.handleStream)
	return s
}

func (s *Syncer) handleStream(stream network.Stream) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(syncStreamTimeout))

	data, err := io.ReadAll(io.LimitReader(stream, maxSyncMsgSize))
	if err != nil {
		s.logger.Debug("sync read error", zap.Error(err))
		return
	}

	req, err := wire.Decode(data)
	if err != nil {
		s.logger.Debug("invalid sync request", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncStreamTimeout)
	defer cancel()

	resp := s.respond(ctx, req)

	out, err := wire.Encode(resp)
	if err != nil {
		s.logger.Error("encode sync response", zap.Error(err))
		return
	}
	if _, err := stream.Write(out); err != nil {
		s.logger.Debug("sync write error", zap.Error(err))
	}
}

func (s *Syncer) respond(ctx context.Context, req wire.Message) wire.Message {
	switch req.Kind {
	case wire.KindGetShareHeaders:
		headers, err := s.chain.GetHeadersForLocator(ctx, req.HeadersRequest.Locator, req.HeadersRequest.Stop, maxHeadersPerResp)
		if err != nil {
			s.logger.Debug("get headers for locator failed", zap.Error(err))
			return wire.NewShareHeaders(nil)
		}
		return wire.NewShareHeaders(headers)

	case wire.KindGetData:
		if req.GetDataItem.Kind != wire.GetDataBlock {
			return wire.NewNotFound()
		}
		block, found, err := s.chain.GetShare(ctx, req.GetDataItem.Block)
		if err != nil || !found {
			return wire.NewNotFound()
		}
		return wire.NewShareBlock(compressForWire(block))

	default:
		return wire.NewNotFound()
	}
}

// RemotePeer adapts a single libp2p peer connection to internal/sync.Peer,
// opening one stream per request the way the teacher's RequestLocator does.
type RemotePeer struct {
	host   host.Host
	peer   peer.ID
	logger *zap.Logger
}

// NewRemotePeer wraps peerID as a sync.Peer over SyncProtocolID.
func NewRemotePeer(h host.Host, peerID peer.ID, logger *zap.Logger) *RemotePeer {
	return &RemotePeer{host: h, peer: peerID, logger: logger}
}

// GetShareHeaders implements internal/sync.Peer.
func (r *RemotePeer) GetShareHeaders(ctx context.Context, locator []types.ShareHash, stop types.ShareHash) ([]types.ShareHeader, error) {
	resp, err := r.roundTrip(ctx, wire.NewGetShareHeaders(locator, stop))
	if err != nil {
		return nil, err
	}
	if resp.Kind != wire.KindShareHeaders {
		return nil, fmt.Errorf("p2p: unexpected response kind %s to GetShareHeaders", resp.Kind)
	}
	return resp.Headers, nil
}

// GetShareBlocks implements internal/sync.Peer, fetching each hash with its
// own GetData round trip — the wire protocol's per-item fetch primitive,
// mirroring Bitcoin's getdata rather than inventing a batched block-fetch
// message.
func (r *RemotePeer) GetShareBlocks(ctx context.Context, hashes []types.ShareHash) ([]*types.ShareBlock, error) {
	blocks := make([]*types.ShareBlock, 0, len(hashes))
	for _, hash := range hashes {
		resp, err := r.roundTrip(ctx, wire.NewGetDataBlock(hash))
		if err != nil {
			return nil, err
		}
		if resp.Kind == wire.KindNotFound {
			r.logger.Debug("peer does not have requested block", zap.Stringer("hash", hash))
			continue
		}
		if resp.Kind != wire.KindShareBlock {
			return nil, fmt.Errorf("p2p: unexpected response kind %s to GetData", resp.Kind)
		}
		block, err := decompressFromWire(resp.Block)
		if err != nil {
			return nil, fmt.Errorf("p2p: decompress coinbase: %w", err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (r *RemotePeer) roundTrip(ctx context.Context, req wire.Message) (wire.Message, error) {
	stream, err := r.host.NewStream(ctx, r.peer, protocol.ID(SyncProtocolID))
	if err != nil {
		return wire.Message{}, fmt.Errorf("p2p: open sync stream: %w", err)
	}
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(syncStreamTimeout))

	data, err := wire.Encode(req)
	if err != nil {
		return wire.Message{}, fmt.Errorf("p2p: encode sync request: %w", err)
	}
	if _, err := stream.Write(data); err != nil {
		return wire.Message{}, fmt.Errorf("p2p: write sync request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return wire.Message{}, fmt.Errorf("p2p: close sync stream write side: %w", err)
	}

	data, err = io.ReadAll(io.LimitReader(stream, maxSyncMsgSize))
	if err != nil {
		return wire.Message{}, fmt.Errorf("p2p: read sync response: %w", err)
	}
	resp, err := wire.Decode(data)
	if err != nil {
		return wire.Message{}, fmt.Errorf("p2p: decode sync response: %w", err)
	}
	return resp, nil
}
