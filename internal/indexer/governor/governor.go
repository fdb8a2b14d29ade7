// Package governor indexes on-chain Governor contracts: ProposalCreated
// and VoteCast(WithParams) logs, plus the read-only getters needed to
// keep a proposal's tally and lifecycle state current (spec §4.5).
package governor

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
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

var (
	topicProposalCreated    = crypto.Keccak256Hash([]byte("ProposalCreated(uint256,address,address[],uint256[],string[],bytes[],uint256,uint256,string)"))
	topicVoteCast           = crypto.Keccak256Hash([]byte("VoteCast(address,uint256,uint8,uint256,string)"))
	topicVoteCastWithParams = crypto.Keccak256Hash([]byte("VoteCastWithParams(address,uint256,uint8,uint256,string,bytes)"))
)

// Indexer walks one Governor contract's logs forward from its last
// persisted index, keeping proposals and votes current. It implements
// the scheduler's Indexer interface.
type Indexer struct {
	dao      model.DAO
	governor model.Governor
	contract common.Address

	registry *chain.Registry
	oracle   *blocktime.Oracle
	store    *store.Store
	logger   *logging.Logger
	parsed   abi.ABI
}

// New builds a governor Indexer for one (DAO, Governor) pair. governor
// must carry a non-nil ContractAddress and Chain.
func New(dao model.DAO, gov model.Governor, registry *chain.Registry, oracle *blocktime.Oracle, st *store.Store, logger *logging.Logger) (*Indexer, error) {
	if gov.ContractAddress == nil || gov.Chain == nil {
		return nil, fmt.Errorf("governor: governor %s missing contract address or chain", gov.ID)
	}
	parsed, err := abi.JSON(strings.NewReader(governorABI))
	if err != nil {
		return nil, fmt.Errorf("governor: parse abi: %w", err)
	}
	return &Indexer{
		dao:      dao,
		governor: gov,
		contract: common.HexToAddress(*gov.ContractAddress),
		registry: registry,
		oracle:   oracle,
		store:    st,
		logger:   logger.Named("governor").With(zap.String("dao", dao.Slug), zap.String("governor", gov.ID.String())),
		parsed:   parsed,
	}, nil
}

// MinSpeed is the narrowest per-run block span this indexer will ever use.
func (ix *Indexer) MinSpeed() int64 { return minSpeed }

// MaxSpeed is the widest per-run block span this indexer will ever use.
func (ix *Indexer) MaxSpeed() int64 { return maxSpeed }

// Timeout bounds a single Run call; on-chain scans get the long budget
// (spec §4.5, §4.12).
func (ix *Indexer) Timeout() time.Duration { return 5 * time.Minute }

// Run advances the indexer by one page of blocks: it fetches
// ProposalCreated and VoteCast(WithParams) logs in [index, index+speed],
// upserts everything found, then persists index = end of range + 1
// together with the adjusted speed. The index is not held back for
// proposals that are still Pending or Active.
func (ix *Indexer) Run(ctx context.Context) error {
	provider, err := ix.registry.Get(*ix.governor.Chain)
	if err != nil {
		return err
	}

	state, err := ix.store.LoadIndexerState(ctx, ix.governor.ID, minSpeed)
	if err != nil {
		return fmt.Errorf("governor: load indexer state: %w", err)
	}

	head, err := provider.Client.BlockNumber(ctx)
	if err != nil {
		ix.adjustSpeed(ctx, state, false)
		return fmt.Errorf("governor: read head: %w", err)
	}

	r := chainwalk.Range{From: state.Index, To: state.Index + state.Speed}
	if r.To > int64(head) {
		r.To = int64(head)
	}
	if r.To < r.From {
		return nil
	}

	proposalLogs, err := chainwalk.FetchLogs(ctx, provider.Client, ix.contract, []common.Hash{topicProposalCreated}, r)
	if err != nil {
		ix.adjustSpeed(ctx, state, false)
		return err
	}
	voteLogs, err := chainwalk.FetchLogs(ctx, provider.Client, ix.contract, []common.Hash{topicVoteCast}, r)
	if err != nil {
		ix.adjustSpeed(ctx, state, false)
		return err
	}
	voteParamLogs, err := chainwalk.FetchLogs(ctx, provider.Client, ix.contract, []common.Hash{topicVoteCastWithParams}, r)
	if err != nil {
		ix.adjustSpeed(ctx, state, false)
		return err
	}

	for _, l := range proposalLogs {
		if err := ix.handleProposalCreated(ctx, provider, l); err != nil {
			ix.logger.Error("failed to process ProposalCreated log", zap.Error(err), zap.Uint64("block", l.BlockNumber))
		}
	}
	for _, l := range voteLogs {
		if err := ix.handleVoteCast(ctx, provider, l, false); err != nil {
			ix.logger.Error("failed to process VoteCast log", zap.Error(err), zap.Uint64("block", l.BlockNumber))
		}
	}
	for _, l := range voteParamLogs {
		if err := ix.handleVoteCast(ctx, provider, l, true); err != nil {
			ix.logger.Error("failed to process VoteCastWithParams log", zap.Error(err), zap.Uint64("block", l.BlockNumber))
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

func (ix *Indexer) handleProposalCreated(ctx context.Context, provider *chain.Provider, l types.Log) error {
	event := map[string]interface{}{}
	if err := ix.parsed.UnpackIntoMap(event, "ProposalCreated", l.Data); err != nil {
		return fmt.Errorf("unpack ProposalCreated: %w", err)
	}
	proposalID, ok := event["proposalId"].(*big.Int)
	if !ok {
		return fmt.Errorf("ProposalCreated missing proposalId")
	}

	header, err := provider.Client.HeaderByNumber(ctx, new(big.Int).SetUint64(l.BlockNumber))
	if err != nil {
		return fmt.Errorf("header for block %d: %w", l.BlockNumber, err)
	}

	startBlock, _ := event["startBlock"].(*big.Int)
	endBlock, _ := event["endBlock"].(*big.Int)
	description, _ := event["description"].(string)
	proposer, _ := event["proposer"].(common.Address)

	quorum, err := ix.callQuorum(ctx, startBlock)
	if err != nil {
		ix.logger.Warn("quorum call failed, defaulting to 0", zap.Error(err))
		quorum = decimal.Zero
	}

	state, err := ix.callState(ctx, proposalID)
	proposalState := mapProposalState(state)
	if err != nil {
		ix.logger.Warn("state call failed, defaulting to unknown", zap.Error(err))
		proposalState = model.ProposalStateUnknown
	}

	author := proposer.Hex()
	txID := l.TxHash.Hex()
	startBig := startBlock
	if startBig == nil {
		startBig = big.NewInt(0)
	}
	endBig := endBlock
	if endBig == nil {
		endBig = big.NewInt(0)
	}
	blockCreated := int64(l.BlockNumber)
	createdAt := time.Unix(int64(header.Time), 0).UTC()

	startAt, err := ix.oracle.EstimateTimestamp(ctx, *ix.governor.Chain, startBig.Uint64())
	if err != nil {
		ix.logger.Warn("failed to estimate proposal start_at, defaulting to created_at", zap.Error(err))
		startAt = createdAt
	}
	endAt, err := ix.oracle.EstimateTimestamp(ctx, *ix.governor.Chain, endBig.Uint64())
	if err != nil {
		ix.logger.Warn("failed to estimate proposal end_at, defaulting to start_at", zap.Error(err))
		endAt = startAt
	}

	p := &model.Proposal{
		GovernorID:     ix.governor.ID,
		DAOID:          ix.dao.ID,
		ExternalID:     proposalID.String(),
		Author:         &author,
		Name:           proposalTitle(description),
		Body:           description,
		URL:            ix.governor.PortalURL,
		Choices:        []string{"For", "Against", "Abstain"},
		Quorum:         quorumFloat(quorum),
		State:          proposalState,
		CreatedAt:      createdAt,
		StartAt:        startAt,
		EndAt:          endAt,
		BlockCreatedAt: &blockCreated,
		TxID:           &txID,
	}
	p.BlockStartAt = bigIntPtr(startBig)
	p.BlockEndAt = bigIntPtr(endBig)

	return ix.store.UpsertProposal(ctx, p)
}

func (ix *Indexer) handleVoteCast(ctx context.Context, provider *chain.Provider, l types.Log, withParams bool) error {
	eventName := "VoteCast"
	if withParams {
		eventName = "VoteCastWithParams"
	}

	event := map[string]interface{}{}
	if err := ix.parsed.UnpackIntoMap(event, eventName, l.Data); err != nil {
		return fmt.Errorf("unpack %s: %w", eventName, err)
	}
	if len(l.Topics) < 2 {
		return fmt.Errorf("%s log missing indexed voter topic", eventName)
	}
	voter := common.HexToAddress(l.Topics[1].Hex())

	proposalID, _ := event["proposalId"].(*big.Int)
	support, _ := event["support"].(uint8)
	weight, _ := event["weight"].(*big.Int)
	reason, _ := event["reason"].(string)
	if proposalID == nil || weight == nil {
		return fmt.Errorf("%s missing proposalId/weight", eventName)
	}

	header, err := provider.Client.HeaderByNumber(ctx, new(big.Int).SetUint64(l.BlockNumber))
	if err != nil {
		return fmt.Errorf("header for block %d: %w", l.BlockNumber, err)
	}

	txID := l.TxHash.Hex()
	blockCreated := int64(l.BlockNumber)

	v := &model.Vote{
		GovernorID:         ix.governor.ID,
		DAOID:              ix.dao.ID,
		ProposalExternalID: proposalID.String(),
		VoterAddress:       strings.ToLower(voter.Hex()),
		VotingPower:        weiToFloat(weight),
		Choice:             model.NewScalarChoice(remapChoice(support)),
		CreatedAt:          time.Unix(int64(header.Time), 0).UTC(),
		BlockCreatedAt:     &blockCreated,
		TxID:               &txID,
	}
	if reason != "" {
		v.Reason = &reason
	}

	return ix.store.UpsertVote(ctx, v)
}

// remapChoice converts the contract's support encoding
// {0:Against,1:For,2:Abstain} to the canonical storage order
// {0:For,1:Against,2:Abstain}, confirmed byte-exact against
// original_source/apps/detective/indexers/arbitrum_core_votes.rs's
// `match event.support { 0 => 1, 1 => 0, 2 => 2, _ => 2 }`.
func remapChoice(support uint8) int {
	switch support {
	case 0:
		return 1
	case 1:
		return 0
	case 2:
		return 2
	default:
		return 2
	}
}

func (ix *Indexer) callQuorum(ctx context.Context, blockNumber *big.Int) (decimal.Decimal, error) {
	if blockNumber == nil {
		blockNumber = big.NewInt(0)
	}
	provider, err := ix.registry.Get(*ix.governor.Chain)
	if err != nil {
		return decimal.Zero, err
	}
	callData, err := ix.parsed.Pack("quorum", blockNumber)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack quorum: %w", err)
	}
	out, err := provider.Client.CallContract(ctx, ethereum.CallMsg{To: &ix.contract, Data: callData}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("call quorum: %w", err)
	}
	results, err := ix.parsed.Unpack("quorum", out)
	if err != nil || len(results) < 1 {
		return decimal.Zero, fmt.Errorf("unpack quorum: %w", err)
	}
	q, ok := results[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("quorum result not *big.Int")
	}
	return decimal.NewFromBigInt(q, 0), nil
}

func (ix *Indexer) callState(ctx context.Context, proposalID *big.Int) (uint8, error) {
	provider, err := ix.registry.Get(*ix.governor.Chain)
	if err != nil {
		return 0, err
	}
	callData, err := ix.parsed.Pack("state", proposalID)
	if err != nil {
		return 0, fmt.Errorf("pack state: %w", err)
	}
	out, err := provider.Client.CallContract(ctx, ethereum.CallMsg{To: &ix.contract, Data: callData}, nil)
	if err != nil {
		return 0, fmt.Errorf("call state: %w", err)
	}
	results, err := ix.parsed.Unpack("state", out)
	if err != nil || len(results) < 1 {
		return 0, fmt.Errorf("unpack state: %w", err)
	}
	s, ok := results[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("state result not uint8")
	}
	return s, nil
}

func mapProposalState(s uint8) model.ProposalState {
	switch s {
	case chainStatePending:
		return model.ProposalStatePending
	case chainStateActive:
		return model.ProposalStateActive
	case chainStateCanceled:
		return model.ProposalStateCanceled
	case chainStateDefeated:
		return model.ProposalStateDefeated
	case chainStateSucceeded:
		return model.ProposalStateSucceeded
	case chainStateQueued:
		return model.ProposalStateQueued
	case chainStateExpired:
		return model.ProposalStateExpired
	case chainStateExecuted:
		return model.ProposalStateExecuted
	default:
		return model.ProposalStateUnknown
	}
}

func weiToFloat(wei *big.Int) float64 {
	f, _ := decimal.NewFromBigInt(wei, 0).Div(decimal.NewFromFloat(weiPerToken)).Float64()
	return f
}

func quorumFloat(d decimal.Decimal) float64 {
	f, _ := d.Div(decimal.NewFromFloat(weiPerToken)).Float64()
	return f
}

func bigIntPtr(b *big.Int) *int64 {
	v := b.Int64()
	return &v
}

func proposalTitle(description string) string {
	if idx := strings.IndexByte(description, '\n'); idx >= 0 {
		return strings.TrimPrefix(strings.TrimSpace(description[:idx]), "# ")
	}
	if len(description) > 120 {
		return description[:120]
	}
	return description
}
