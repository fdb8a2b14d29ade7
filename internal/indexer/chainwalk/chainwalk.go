// Package chainwalk provides the block-range paging helper shared by
// the governor and token/delegation indexers: both page through
// blocks a bounded span at a time, looking up logs via
// ethereum.FilterQuery (spec §4.5, §4.6).
package chainwalk

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Range is one page of [From, To] inclusive block numbers to scan.
type Range struct {
	From int64
	To   int64
}

// PlanRanges splits [fromBlock, headBlock] into pages of at most
// maxSpan blocks each. headBlock is clamped to leave confirmations
// blocks of safety margin off the true chain head, matching the
// indexers' "never index the bleeding edge" posture.
func PlanRanges(fromBlock, headBlock int64, maxSpan int64, confirmations int64) []Range {
	safeHead := headBlock - confirmations
	if safeHead < fromBlock {
		return nil
	}
	if maxSpan <= 0 {
		maxSpan = 2000
	}

	var ranges []Range
	for start := fromBlock; start <= safeHead; start += maxSpan {
		end := start + maxSpan - 1
		if end > safeHead {
			end = safeHead
		}
		ranges = append(ranges, Range{From: start, To: end})
	}
	return ranges
}

// FetchLogs retrieves every log matching any of topics0 (OR'd across
// the first topic slot) emitted by contractAddress within r.
func FetchLogs(ctx context.Context, client *ethclient.Client, contractAddress common.Address, topics0 []common.Hash, r Range) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(r.From),
		ToBlock:   big.NewInt(r.To),
		Addresses: []common.Address{contractAddress},
		Topics:    [][]common.Hash{topics0},
	}

	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("chainwalk: filter logs %d-%d: %w", r.From, r.To, err)
	}
	return logs, nil
}
