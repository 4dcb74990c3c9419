package p2p

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/djkazic/p2pool-go/internal/types"
	"github.com/djkazic/p2pool-go/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ShareTopicName is the GossipSub topic new shares are announced on.
const ShareTopicName = "/p2pool-go/shares/1.0.0"

// PubSub manages GossipSub for share propagation.
type PubSub struct {
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	self   peer.ID
	logger *zap.Logger

	peerLimiters   map[peer.ID]*rate.Limiter
	peerLimitersMu sync.Mutex
}

// NewPubSub creates a new GossipSub instance and starts relaying decoded
// ShareBlock announcements onto incomingShares.
func NewPubSub(ctx context.Context, h host.Host, incomingShares chan *types.ShareBlock, logger *zap.Logger) (*PubSub, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	topic, err := ps.Join(ShareTopicName)
	if err != nil {
		return nil, err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, err
	}

	p := &PubSub{
		ps:           ps,
		topic:        topic,
		sub:          sub,
		self:         h.ID(),
		logger:       logger,
		peerLimiters: make(map[peer.ID]*rate.Limiter),
	}

	go p.readLoop(ctx, incomingShares)

	return p, nil
}

// PublishShare announces a locally accepted or newly synced share to the
// gossip network (spec §6 "Chain→Peers bridge").
func (p *PubSub) PublishShare(block *types.ShareBlock) error {
	data, err := wire.Encode(wire.NewMiningShare(compressForWire(block)))
	if err != nil {
		return err
	}
	return p.topic.Publish(context.Background(), data)
}

func (p *PubSub) readLoop(ctx context.Context, incomingShares chan *types.ShareBlock) {
	for {
		msg, err := p.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("pubsub read error", zap.Error(err))
			continue
		}

		if msg.GetFrom() == p.self {
			continue
		}

		if !p.getPeerLimiter(msg.GetFrom()).Allow() {
			p.logger.Warn("peer rate limited", zap.String("peer", msg.GetFrom().String()))
			continue
		}

		decoded, err := wire.Decode(msg.Data)
		if err != nil || decoded.Kind != wire.KindMiningShare {
			p.logger.Debug("invalid share message", zap.Error(err))
			continue
		}

		block, err := decompressFromWire(decoded.MiningShare)
		if err != nil {
			p.logger.Debug("failed to decompress coinbase", zap.Error(err))
			continue
		}

		select {
		case incomingShares <- block:
		default:
			p.logger.Warn("incoming shares channel full, dropping share")
		}
	}
}

func (p *PubSub) getPeerLimiter(peerID peer.ID) *rate.Limiter {
	p.peerLimitersMu.Lock()
	defer p.peerLimitersMu.Unlock()

	if lim, ok := p.peerLimiters[peerID]; ok {
		return lim
	}

	if len(p.peerLimiters) >= 500 {
		for id := range p.peerLimiters {
			delete(p.peerLimiters, id)
			break
		}
	}

	lim := rate.NewLimiter(10, 20)
	p.peerLimiters[peerID] = lim
	return lim
}
