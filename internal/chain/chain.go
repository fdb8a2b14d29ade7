// Package chain resolves a chain tag ("ethereum", "arbitrum", ...) to a
// cached *ethclient.Client and its explorer API credentials, built once
// at startup from config.ChainsConfig (spec §4.1).
package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/govindex/engine/internal/config"
	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/logging"
	"go.uber.org/zap"
)

// Chain tags recognized by every indexer and by SPEC_FULL.md's block
// interval / DAO-slug tables.
const (
	Ethereum  = "ethereum"
	Arbitrum  = "arbitrum"
	Optimism  = "optimism"
	Polygon   = "polygon"
	Avalanche = "avalanche"
)

// AverageBlockInterval is the per-chain average block production
// interval used by the Block-Time Oracle's extrapolation fallback.
var AverageBlockInterval = map[string]float64{
	Ethereum:  12.2,
	Arbitrum:  2.0,
	Optimism:  2.0,
	Polygon:   2.1,
	Avalanche: 2.0,
}

// Provider bundles one chain's live JSON-RPC client and explorer
// credentials.
type Provider struct {
	Chain          string
	Client         *ethclient.Client
	ExplorerAPIURL string
	ExplorerAPIKey string
}

// Registry holds one Provider per configured chain, connected once at
// startup and reused by every indexer run.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	logger    *logging.Logger
}

// NewRegistry dials ethclient for every chain with a non-empty NodeURL
// in cfg. Chains without a node URL configured are simply absent from
// the registry; Get on them returns errs.UnsupportedChain.
func NewRegistry(ctx context.Context, cfg config.ChainsConfig, logger *logging.Logger) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]*Provider),
		logger:    logger.Named("chain-registry"),
	}

	entries := []struct {
		tag string
		cfg config.ChainNodeConfig
	}{
		{Ethereum, cfg.Ethereum},
		{Arbitrum, cfg.Arbitrum},
		{Optimism, cfg.Optimism},
		{Polygon, cfg.Polygon},
		{Avalanche, cfg.Avalanche},
	}

	for _, e := range entries {
		if e.cfg.NodeURL == "" {
			continue
		}
		client, err := ethclient.DialContext(ctx, e.cfg.NodeURL)
		if err != nil {
			return nil, fmt.Errorf("chain: dial %s: %w", e.tag, err)
		}
		r.providers[e.tag] = &Provider{
			Chain:          e.tag,
			Client:         client,
			ExplorerAPIURL: e.cfg.ExplorerAPIURL,
			ExplorerAPIKey: e.cfg.ExplorerAPIKey,
		}
		r.logger.Info("connected chain provider", zap.String("chain", e.tag))
	}

	return r, nil
}

// Get resolves a chain tag to its Provider.
func (r *Registry) Get(chainTag string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[chainTag]
	if !ok {
		return nil, &errs.UnsupportedChain{Chain: chainTag}
	}
	return p, nil
}

// Close shuts down every underlying ethclient connection.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.providers {
		p.Client.Close()
	}
}
