// Package token indexes an ERC20Votes-style governance token's
// DelegateChanged / DelegateVotesChanged logs into delegations and
// voting-power snapshots (spec §4.6).
package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/govindex/engine/internal/blocktime"
	"github.com/govindex/engine/internal/chain"
	"github.com/govindex/engine/internal/indexer/chainwalk"
	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/govindex/engine/internal/store"
)

const (
	minSpeed = int64(1)
	maxSpeed = int64(1_000_000)

	speedUpFactor   = 1.2
	speedDownFactor = 0.5

	weiPerToken = 1e18
)

// Hand-rolled ABI covering the two ERC20Votes/Comp-style delegation
// events, following the same "minimal inline ABI" posture as
// internal/indexer/governor/abi.go.
const tokenABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "delegator",      "type": "address"},
      {"indexed": true,  "name": "fromDelegate",    "type": "address"},
      {"indexed": true,  "name": "toDelegate",      "type": "address"}
    ],
    "name": "DelegateChanged",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "delegate",        "type": "address"},
      {"indexed": false, "name": "previousBalance",  "type": "uint256"},
      {"indexed": false, "name": "newBalance",       "type": "uint256"}
    ],
    "name": "DelegateVotesChanged",
    "type": "event"
  }
]`

var (
	topicDelegateChanged      = crypto.Keccak256Hash([]byte("DelegateChanged(address,address,address)"))
	topicDelegateVotesChanged = crypto.Keccak256Hash([]byte("DelegateVotesChanged(address,uint256,uint256)"))
)

// Indexer walks one governance token contract's delegation logs,
// implementing the scheduler's Indexer interface. Its persisted
// (index, speed) bookkeeping is keyed on a dedicated "token" governor
// row for the DAO, since indexer_states is keyed by governor_id.
type Indexer struct {
	dao        model.DAO
	governorID uuid.UUID
	chainTag   string
	contract   common.Address

	registry *chain.Registry
	oracle   *blocktime.Oracle
	store    *store.Store
	logger   *logging.Logger
	parsed   abi.ABI
}

// New builds a token Indexer bound to dao's governance token contract.
// governorID identifies the synthetic token-tracking governor row used
// purely to persist this indexer's (index, speed) state.
func New(dao model.DAO, governorID uuid.UUID, chainTag, contractAddress string, registry *chain.Registry, oracle *blocktime.Oracle, st *store.Store, logger *logging.Logger) (*Indexer, error) {
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("token: parse abi: %w", err)
	}
	return &Indexer{
		dao:        dao,
		governorID: governorID,
		chainTag:   chainTag,
		contract:   common.HexToAddress(contractAddress),
		registry:   registry,
		oracle:     oracle,
		store:      st,
		logger:     logger.Named("token").With(zap.String("dao", dao.Slug)),
		parsed:     parsed,
	}, nil
}

func (ix *Indexer) MinSpeed() int64        { return minSpeed }
func (ix *Indexer) MaxSpeed() int64        { return maxSpeed }
func (ix *Indexer) Timeout() time.Duration { return 5 * time.Minute }

// Run pages forward through the token's logs, collapses in-batch
// duplicate (key, block) observations to the last one seen, and
// upserts the survivors (spec §4.6).
func (ix *Indexer) Run(ctx context.Context) error {
	provider, err := ix.registry.Get(ix.chainTag)
	if err != nil {
		return err
	}

	state, err := ix.store.LoadIndexerState(ctx, ix.governorID, minSpeed)
	if err != nil {
		return fmt.Errorf("token: load indexer state: %w", err)
	}

	head, err := provider.Client.BlockNumber(ctx)
	if err != nil {
		ix.adjustSpeed(ctx, state, false)
		return fmt.Errorf("token: read head: %w", err)
	}

	r := chainwalk.Range{From: state.Index, To: state.Index + state.Speed}
	if r.To > int64(head) {
		r.To = int64(head)
	}
	if r.To < r.From {
		return nil
	}

	delegationLogs, err := chainwalk.FetchLogs(ctx, provider.Client, ix.contract, []common.Hash{topicDelegateChanged}, r)
	if err != nil {
		ix.adjustSpeed(ctx, state, false)
		return err
	}
	votesLogs, err := chainwalk.FetchLogs(ctx, provider.Client, ix.contract, []common.Hash{topicDelegateVotesChanged}, r)
	if err != nil {
		ix.adjustSpeed(ctx, state, false)
		return err
	}

	for _, d := range ix.collapseDelegations(ctx, delegationLogs) {
		if err := ix.store.UpsertDelegation(ctx, d); err != nil {
			ix.logger.Error("failed to upsert delegation", zap.Error(err))
		}
	}
	for _, vp := range ix.collapseVotingPowers(ctx, votesLogs) {
		if err := ix.store.UpsertVotingPower(ctx, vp); err != nil {
			ix.logger.Error("failed to upsert voting power", zap.Error(err))
		}
	}

	state.Index = r.To + 1
	ix.adjustSpeed(ctx, state, true)
	return nil
}

func (ix *Indexer) adjustSpeed(ctx context.Context, state store.IndexerState, success bool) {
	if success {
		state.Speed = clamp(int64(float64(state.Speed)*speedUpFactor), minSpeed, maxSpeed)
	} else {
		state.Speed = clamp(int64(float64(state.Speed)*speedDownFactor), minSpeed, maxSpeed)
	}
	if err := ix.store.SaveIndexerState(ctx, state); err != nil {
		ix.logger.Error("failed to persist indexer state", zap.Error(err))
	}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// batchKey collapses repeated observations of the same address within
// the same block to the last one seen, mirroring
// uni_token.rs's HashMap<(address, dao_id, block), ActiveModel>
// insert-overwrite-then-collect idiom.
type batchKey struct {
	address string
	block   int64
}

func (ix *Indexer) collapseDelegations(ctx context.Context, logs []types.Log) []*model.Delegation {
	collapsed := make(map[batchKey]*model.Delegation)
	for _, l := range logs {
		if len(l.Topics) < 4 {
			continue
		}
		delegator := common.HexToAddress(l.Topics[1].Hex())
		toDelegate := common.HexToAddress(l.Topics[3].Hex())

		ts, err := ix.oracle.EstimateTimestamp(ctx, ix.chainTag, l.BlockNumber)
		if err != nil {
			ix.logger.Warn("failed to estimate timestamp for DelegateChanged", zap.Error(err), zap.Uint64("block", l.BlockNumber))
			continue
		}

		key := batchKey{address: strings.ToLower(delegator.Hex()), block: int64(l.BlockNumber)}
		collapsed[key] = &model.Delegation{
			DAOID:     ix.dao.ID,
			Delegator: strings.ToLower(delegator.Hex()),
			Delegate:  strings.ToLower(toDelegate.Hex()),
			Block:     int64(l.BlockNumber),
			Timestamp: ts,
			TxID:      l.TxHash.Hex(),
		}
	}

	out := make([]*model.Delegation, 0, len(collapsed))
	for _, d := range collapsed {
		out = append(out, d)
	}
	return out
}

func (ix *Indexer) collapseVotingPowers(ctx context.Context, logs []types.Log) []*model.VotingPower {
	collapsed := make(map[batchKey]*model.VotingPower)
	for _, l := range logs {
		if len(l.Topics) < 2 {
			continue
		}
		delegate := common.HexToAddress(l.Topics[1].Hex())

		event := map[string]interface{}{}
		if err := ix.parsed.UnpackIntoMap(event, "DelegateVotesChanged", l.Data); err != nil {
			ix.logger.Warn("failed to unpack DelegateVotesChanged", zap.Error(err))
			continue
		}
		newBalance, ok := event["newBalance"].(*big.Int)
		if !ok {
			continue
		}

		ts, err := ix.oracle.EstimateTimestamp(ctx, ix.chainTag, l.BlockNumber)
		if err != nil {
			ix.logger.Warn("failed to estimate timestamp for DelegateVotesChanged", zap.Error(err), zap.Uint64("block", l.BlockNumber))
			continue
		}

		power := weiToFloat(newBalance)

		key := batchKey{address: strings.ToLower(delegate.Hex()), block: int64(l.BlockNumber)}
		collapsed[key] = &model.VotingPower{
			DAOID:       ix.dao.ID,
			Voter:       strings.ToLower(delegate.Hex()),
			VotingPower: power,
			Block:       int64(l.BlockNumber),
			Timestamp:   ts,
			TxID:        l.TxHash.Hex(),
		}
	}

	out := make([]*model.VotingPower, 0, len(collapsed))
	for _, vp := range collapsed {
		out = append(out, vp)
	}
	return out
}

func weiToFloat(wei *big.Int) float64 {
	f, _ := decimal.NewFromBigInt(wei, 0).Div(decimal.NewFromFloat(weiPerToken)).Float64()
	return f
}
