// Command p2pool-node runs a standalone share-chain node: it opens the
// local store, joins the P2P network, serves sync requests, relays
// newly-accepted shares, and drains an Emission channel intended for a
// co-located (and out-of-scope, per spec §1) stratum server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/djkazic/p2pool-go/internal/config"
	"github.com/djkazic/p2pool-go/internal/emission"
	"github.com/djkazic/p2pool-go/internal/metrics"
	"github.com/djkazic/p2pool-go/internal/p2p"
	"github.com/djkazic/p2pool-go/internal/sharechain"
	"github.com/djkazic/p2pool-go/internal/sync"
	"github.com/djkazic/p2pool-go/internal/types"
	"go.uber.org/zap"

	"net/http"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "p2pool-node: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "p2pool-node: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("p2pool-node exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := os.MkdirAll(cfg.Node.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := sharechain.NewBoltStore(filepath.Join(cfg.Node.DataDir, "sharechain.db"), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	chain, err := sharechain.NewChain(store, types.Network(cfg.Node.Network), logger)
	if err != nil {
		return fmt.Errorf("build chain: %w", err)
	}

	actor := sharechain.NewChainActor(chain, logger)
	go actor.Run(ctx)
	handle := sharechain.NewChainHandle(actor)
	validator := sharechain.NewValidator(store, sharechain.SystemTimeSource{})

	node, err := p2p.NewNode(ctx, cfg.P2P.ListenPort, cfg.Node.DataDir, logger)
	if err != nil {
		return fmt.Errorf("start p2p node: %w", err)
	}
	defer node.Close()

	node.InitSyncer(handle)
	if err := node.StartDiscovery(ctx, cfg.P2P.EnableMDNS, cfg.P2P.Bootnodes); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}

	emissionSender, emissionReceiver := emission.NewChannel(cfg.Emission.ChannelCapacity)
	_ = emissionSender // handed to the (external, out-of-scope) stratum server by the deployment wiring this node into a pool

	bridge := emission.NewBridge(handle, validator, func(block *types.ShareBlock) {
		metrics.SharesAccepted.Inc()
		if err := node.BroadcastShare(block); err != nil {
			logger.Warn("broadcast accepted share failed", zap.Error(err))
		}
	}, logger)
	go bridge.Run(ctx, emissionReceiver)

	go relayIncomingShares(ctx, node, handle, validator, logger)
	go runPeriodicSync(ctx, node, handle, validator, cfg.Sync.PeerSyncInterval, logger)
	go pollChainGauges(ctx, handle, node, logger)

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.Bind, logger)
	}

	logger.Info("p2pool-node started",
		zap.String("network", cfg.Node.Network),
		zap.Int("listen_port", cfg.P2P.ListenPort))

	<-ctx.Done()
	logger.Info("p2pool-node shutting down")
	return nil
}

// relayIncomingShares validates and inserts shares gossiped directly by
// peers (spec §4.6 "Inventory gossip"), separately from the locator-based
// catch-up sync driver.
func relayIncomingShares(ctx context.Context, node *p2p.Node, handle sharechain.ChainHandle, validator *sharechain.Validator, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-node.IncomingShares():
			if !ok {
				return
			}
			if _, err := handle.AddShare(ctx, validator, block); err != nil {
				logger.Debug("rejected gossiped share", zap.Error(err))
				metrics.SharesRejected.WithLabelValues(rejectionKind(err)).Inc()
				continue
			}
			metrics.SharesAccepted.Inc()
		}
	}
}

// runPeriodicSync drives a sync round against every connected peer whenever
// one connects, and again on a fixed interval as a backstop (spec §4.6
// step 4, "repeat while the peer's tip is ahead").
func runPeriodicSync(ctx context.Context, node *p2p.Node, handle sharechain.ChainHandle, validator *sharechain.Validator, interval time.Duration, logger *zap.Logger) {
	driver := sync.NewDriver(handle, validator, logger)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	syncAll := func() {
		for _, peerID := range node.ConnectedPeers() {
			remote := node.NewRemotePeer(peerID)
			inserted, err := driver.SyncWith(ctx, remote)
			if err != nil {
				logger.Debug("sync round failed", zap.Stringer("peer", peerID), zap.Error(err))
				continue
			}
			if inserted > 0 {
				metrics.SyncRoundsInserted.Observe(float64(inserted))
				logger.Info("synced shares from peer", zap.Stringer("peer", peerID), zap.Int("inserted", inserted))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-node.PeerConnected():
			syncAll()
		case <-ticker.C:
			syncAll()
		}
	}
}

// pollChainGauges periodically samples chain state into Prometheus gauges,
// since the actor's request/response API has no push-based event stream.
func pollChainGauges(ctx context.Context, handle sharechain.ChainHandle, node *p2p.Node, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			height, err := handle.GetTipHeight(ctx)
			if err != nil {
				logger.Debug("poll tip height failed", zap.Error(err))
				continue
			}
			metrics.SharechainHeight.Set(float64(height))

			total, err := handle.GetTotalDifficulty(ctx)
			if err == nil {
				if f, _ := total.Float64(); f > 0 {
					metrics.SharechainDifficulty.Set(f)
				}
			}

			tips, err := handle.GetTips(ctx)
			if err == nil && len(tips) > 0 {
				metrics.UncleCount.Set(float64(len(tips) - 1))
			}

			metrics.PeersConnected.Set(float64(node.PeerCount()))
		}
	}
}

func serveMetrics(ctx context.Context, bind string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: bind, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.String("bind", bind))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

func rejectionKind(err error) string {
	var verr *sharechain.ValidationError
	if ok := asValidationError(err, &verr); ok {
		return verr.Kind.String()
	}
	return "other"
}

func asValidationError(err error, target **sharechain.ValidationError) bool {
	ve, ok := err.(*sharechain.ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}
