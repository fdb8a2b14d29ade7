// Package blocktime estimates the wall-clock timestamp of a block
// number on a given chain, for blocks that have not been mined yet as
// well as ones already on the canonical chain (spec §4.2).
package blocktime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/govindex/engine/internal/chain"
	"github.com/govindex/engine/internal/errs"
)

const (
	maxAttempts  = 5
	requestDelay = 5 * time.Second
)

// Oracle estimates block timestamps for every chain in a Registry.
type Oracle struct {
	registry   *chain.Registry
	httpClient *http.Client
}

// New builds an Oracle over the given chain registry.
func New(registry *chain.Registry) *Oracle {
	return &Oracle{
		registry:   registry,
		httpClient: &http.Client{Timeout: requestDelay},
	}
}

type countdownResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  struct {
		CurrentBlock      string `json:"CurrentBlock"`
		CountdownBlock    string `json:"CountdownBlock"`
		RemainingBlock    string `json:"RemainingBlock"`
		EstimateTimeInSec string `json:"EstimateTimeInSec"`
	} `json:"result"`
}

// EstimateTimestamp resolves a block number to its wall-clock timestamp.
//
// Algorithm (spec §4.2), after reading the chain's current head block:
//  1. If blockNumber is already on chain, read its header directly via
//     JSON-RPC and use its timestamp — exact.
//  2. Otherwise, if the chain has an explorer configured, call its
//     "getblockcountdown" endpoint and add the estimated remaining
//     seconds to now — a vendor estimate for future blocks.
//  3. If the explorer call fails after retries, or no explorer is
//     configured for the chain (Polygon, Avalanche), extrapolate from
//     the current head using the chain's average block interval.
func (o *Oracle) EstimateTimestamp(ctx context.Context, chainTag string, blockNumber uint64) (time.Time, error) {
	provider, err := o.registry.Get(chainTag)
	if err != nil {
		return time.Time{}, err
	}

	currentBlock, err := provider.Client.BlockNumber(ctx)
	if err != nil {
		return time.Time{}, &errs.TransientNetwork{Cause: fmt.Errorf("blocktime: read head for %s: %w", chainTag, err)}
	}

	if blockNumber <= currentBlock {
		header, err := provider.Client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return time.Time{}, &errs.TransientNetwork{Cause: fmt.Errorf("blocktime: read header %d on %s: %w", blockNumber, chainTag, err)}
		}
		return time.Unix(int64(header.Time), 0).UTC(), nil
	}

	if provider.ExplorerAPIURL != "" && provider.ExplorerAPIKey != "" {
		if ts, err := o.estimateFromExplorer(ctx, provider, blockNumber); err == nil {
			return ts, nil
		}
	}

	return o.extrapolate(chainTag, currentBlock, blockNumber), nil
}

func (o *Oracle) estimateFromExplorer(ctx context.Context, provider *chain.Provider, blockNumber uint64) (time.Time, error) {
	url := fmt.Sprintf("%s?module=block&action=getblockcountdown&blockno=%d&apikey=%s",
		provider.ExplorerAPIURL, blockNumber, provider.ExplorerAPIKey)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, err := o.doRequest(ctx, url)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(math.Pow(2, float64(attempt))) * time.Millisecond * 10)
			continue
		}

		var resp countdownResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return time.Time{}, &errs.DecodeFailure{Cause: err, RawBody: string(body)}
		}

		secs, err := strconv.ParseFloat(resp.Result.EstimateTimeInSec, 64)
		if err != nil {
			return time.Time{}, &errs.DecodeFailure{Cause: err, RawBody: string(body)}
		}

		return time.Now().UTC().Add(time.Duration(secs) * time.Second), nil
	}

	return time.Time{}, &errs.MaxRetriesExceeded{Attempts: maxAttempts, LastErr: lastErr}
}

func (o *Oracle) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// extrapolate estimates a future block's timestamp from the chain head
// using the per-chain average block interval, for chains with no
// explorer countdown endpoint configured.
func (o *Oracle) extrapolate(chainTag string, currentBlock, blockNumber uint64) time.Time {
	interval := chain.AverageBlockInterval[chainTag]
	if interval <= 0 {
		interval = 12.0
	}
	blocksAhead := float64(blockNumber) - float64(currentBlock)
	return time.Now().UTC().Add(time.Duration(blocksAhead*interval) * time.Second)
}
