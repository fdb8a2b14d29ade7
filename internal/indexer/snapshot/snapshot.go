// Package snapshot indexes Snapshot.org's GraphQL hub: proposal refresh
// and vote refresh sub-operations for one DAO's configured space (spec
// §4.7).
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/govindex/engine/internal/errs"
	"github.com/govindex/engine/internal/gateway"
	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/govindex/engine/internal/store"
)

const hubURL = "https://hub.snapshot.org/graphql"

const (
	minSpeed = int64(10)
	maxSpeed = int64(1000)

	// recentVoteWindow bounds how long after a proposal closes its
	// votes keep getting refreshed, since late edits on Snapshot
	// remain possible for a while after scores finalize.
	recentVoteWindow = 24 * time.Hour
)

// spaceBySlug maps a DAO's configured slug to its Snapshot space id,
// grounded on original_source/apps/detective/indexers/
// snapshot_proposals.rs's match arms.
var spaceBySlug = map[string]string{
	"compound": "comp-vote.eth",
	"gitcoin":  "gitcoindao.eth",
	"arbitrum": "arbitrumfoundation.eth",
	"optimism": "opcollective.eth",
	"uniswap":  "uniswapgovernance.eth",
	"hop":      "hop.eth",
	"frax":     "frax.eth",
	"dydx":     "dydxgov.eth",
	"ens":      "ens.eth",
	"aave":     "aave.eth",
}

// ProposalIndexer paginates Snapshot's proposals() query for one DAO's
// space, implementing the scheduler's Indexer interface.
type ProposalIndexer struct {
	dao      model.DAO
	governor model.Governor
	space    string

	gw     *gateway.Gateway
	store  *store.Store
	logger *logging.Logger
}

// NewProposalIndexer builds a Snapshot proposal-refresh Indexer for dao,
// resolving its space from spaceBySlug.
func NewProposalIndexer(dao model.DAO, gov model.Governor, gw *gateway.Gateway, st *store.Store, logger *logging.Logger) (*ProposalIndexer, error) {
	space, ok := spaceBySlug[dao.Slug]
	if !ok {
		return nil, &errs.UnsupportedDAO{DAO: dao.Slug}
	}
	return &ProposalIndexer{
		dao:      dao,
		governor: gov,
		space:    space,
		gw:       gw,
		store:    st,
		logger:   logger.Named("snapshot.proposals").With(zap.String("dao", dao.Slug)),
	}, nil
}

func (ix *ProposalIndexer) MinSpeed() int64        { return minSpeed }
func (ix *ProposalIndexer) MaxSpeed() int64        { return maxSpeed }
func (ix *ProposalIndexer) Timeout() time.Duration { return 30 * time.Second }

type graphQLProposal struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Discussion  string   `json:"discussion"`
	Choices     []string `json:"choices"`
	Created     int64    `json:"created"`
	Start       int64    `json:"start"`
	End         int64    `json:"end"`
	Quorum      float64  `json:"quorum"`
	Link        string   `json:"link"`
	State       string   `json:"state"`
	Privacy     string   `json:"privacy"`
	ScoresState string   `json:"scores_state"`
	Flagged     bool     `json:"flagged"`
	VoteType    string   `json:"type"`
	IPFS        string   `json:"ipfs"`
}

type proposalsResponse struct {
	Data struct {
		Proposals []graphQLProposal `json:"proposals"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Run fetches one page of up to speed proposals(space, created_gte:
// index), oldest first, upserts every row and stores the newest created
// timestamp seen as the new index (spec §4.7). It does not request
// further pages within the same call; the next run starts from the
// stored index.
func (ix *ProposalIndexer) Run(ctx context.Context) error {
	state, err := ix.store.LoadIndexerState(ctx, ix.governor.ID, minSpeed)
	if err != nil {
		return fmt.Errorf("snapshot: load indexer state: %w", err)
	}

	query := fmt.Sprintf(`{
		proposals(
			first: %d,
			orderBy: "created",
			orderDirection: asc,
			where: { space: %q, created_gte: %d }
		) {
			id title body discussion choices created start end
			quorum link state privacy scores_state flagged type ipfs
		}
	}`, state.Speed, ix.space, state.Index)

	resp, err := ix.query(ctx, query)
	if err != nil {
		ix.adjustSpeed(ctx, state, false)
		return err
	}

	highestIndex := state.Index
	for _, gp := range resp.Data.Proposals {
		p := toProposal(gp, ix.governor, ix.dao)
		if err := ix.store.UpsertProposal(ctx, p); err != nil {
			ix.logger.Error("failed to upsert snapshot proposal", zap.Error(err), zap.String("external_id", gp.ID))
			continue
		}
		if gp.Created > highestIndex {
			highestIndex = gp.Created
		}
	}

	state.Index = highestIndex
	ix.adjustSpeed(ctx, state, true)
	return nil
}

func (ix *ProposalIndexer) query(ctx context.Context, query string) (*proposalsResponse, error) {
	body, err := doGraphQL(ctx, ix.gw, query)
	if err != nil {
		return nil, err
	}
	var resp proposalsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &errs.DecodeFailure{Cause: err, RawBody: string(body)}
	}
	if len(resp.Errors) > 0 {
		return nil, &errs.RemoteRejected{Status: http.StatusOK, Body: resp.Errors[0].Message}
	}
	return &resp, nil
}

func (ix *ProposalIndexer) adjustSpeed(ctx context.Context, state store.IndexerState, success bool) {
	if success {
		state.Speed = clamp(state.Speed+50, minSpeed, maxSpeed)
	} else {
		state.Speed = clamp(state.Speed/2, minSpeed, maxSpeed)
	}
	if err := ix.store.SaveIndexerState(ctx, state); err != nil {
		ix.logger.Error("failed to persist indexer state", zap.Error(err))
	}
}

// toProposal converts one GraphQL row into the canonical Proposal
// shape per spec §4.7's state/quorum-choice rules.
func toProposal(gp graphQLProposal, gov model.Governor, dao model.DAO) *model.Proposal {
	state := mapState(gp)
	txid := gp.IPFS
	var discussion *string
	if gp.Discussion != "" {
		discussion = &gp.Discussion
	}

	quorumChoices := []int{0, 2}
	if gp.VoteType != "basic" {
		quorumChoices = make([]int, 0, len(gp.Choices))
		for i := range gp.Choices {
			quorumChoices = append(quorumChoices, i)
		}
		if len(quorumChoices) == 0 {
			quorumChoices = []int{0}
		}
	}

	return &model.Proposal{
		GovernorID:    gov.ID,
		DAOID:         dao.ID,
		ExternalID:    gp.ID,
		Name:          gp.Title,
		Body:          gp.Body,
		URL:           gp.Link,
		DiscussionURL: discussion,
		Choices:       gp.Choices,
		Quorum:        gp.Quorum,
		State:         state,
		MarkedSpam:    gp.Flagged,
		CreatedAt:     time.Unix(gp.Created, 0).UTC(),
		StartAt:       time.Unix(gp.Start, 0).UTC(),
		EndAt:         time.Unix(gp.End, 0).UTC(),
		TxID:          &txid,
		Metadata: model.ProposalMetadata{
			VoteType:      gp.VoteType,
			QuorumChoices: quorumChoices,
			ScoresState:   gp.ScoresState,
			HiddenVote:    gp.Privacy == "shutter" && gp.State == "pending",
		},
	}
}

func mapState(gp graphQLProposal) model.ProposalState {
	switch {
	case gp.State == "active":
		return model.ProposalStateActive
	case gp.State == "pending" && gp.Privacy == "shutter":
		return model.ProposalStateHidden
	case gp.State == "pending":
		return model.ProposalStatePending
	case gp.State == "closed" && gp.ScoresState == "final":
		return model.ProposalStateExecuted
	case gp.State == "closed":
		return model.ProposalStateDefeated
	default:
		return model.ProposalStateUnknown
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

// VoteIndexer paginates Snapshot's votes() query across every proposal
// of dao's space that is still open, or that closed recently enough
// for late edits to remain possible.
type VoteIndexer struct {
	dao      model.DAO
	governor model.Governor
	space    string

	gw     *gateway.Gateway
	store  *store.Store
	logger *logging.Logger
}

// NewVoteIndexer builds a Snapshot vote-refresh Indexer for dao.
func NewVoteIndexer(dao model.DAO, gov model.Governor, gw *gateway.Gateway, st *store.Store, logger *logging.Logger) (*VoteIndexer, error) {
	space, ok := spaceBySlug[dao.Slug]
	if !ok {
		return nil, &errs.UnsupportedDAO{DAO: dao.Slug}
	}
	return &VoteIndexer{
		dao:      dao,
		governor: gov,
		space:    space,
		gw:       gw,
		store:    st,
		logger:   logger.Named("snapshot.votes").With(zap.String("dao", dao.Slug)),
	}, nil
}

func (ix *VoteIndexer) MinSpeed() int64        { return minSpeed }
func (ix *VoteIndexer) MaxSpeed() int64        { return maxSpeed }
func (ix *VoteIndexer) Timeout() time.Duration { return 30 * time.Second }

type graphQLVote struct {
	Voter     string          `json:"voter"`
	Reason    string          `json:"reason"`
	Choice    json.RawMessage `json:"choice"`
	VP        float64         `json:"vp"`
	Created   int64           `json:"created"`
	Proposal  struct {
		ID string `json:"id"`
	} `json:"proposal"`
	IPFS string `json:"ipfs"`
}

type votesResponse struct {
	Data struct {
		Votes []graphQLVote `json:"votes"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Run refreshes votes for every open/recently-closed proposal on the
// DAO's Snapshot space in one paginated query keyed by proposal_in.
func (ix *VoteIndexer) Run(ctx context.Context) error {
	state, err := ix.store.LoadIndexerState(ctx, ix.governor.ID, minSpeed)
	if err != nil {
		return fmt.Errorf("snapshot: load vote indexer state: %w", err)
	}

	proposals, err := ix.store.ListProposalsForVoteRefresh(ctx, ix.governor.ID, recentVoteWindow, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("snapshot: list proposals for vote refresh: %w", err)
	}
	if len(proposals) == 0 {
		return nil
	}

	ids := make([]string, 0, len(proposals))
	for _, p := range proposals {
		ids = append(ids, fmt.Sprintf("%q", p.ExternalID))
	}

	query := fmt.Sprintf(`{
		votes(
			first: %d,
			orderBy: "created",
			orderDirection: asc,
			where: { space: %q, proposal_in: [%s], created_gt: %d }
		) {
			voter reason choice vp created ipfs
			proposal { id }
		}
	}`, state.Speed, ix.space, strings.Join(ids, ", "), state.Index)

	body, err := doGraphQL(ctx, ix.gw, query)
	if err != nil {
		ix.adjustSpeed(ctx, state, false)
		return err
	}
	var resp votesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		ix.adjustSpeed(ctx, state, false)
		return &errs.DecodeFailure{Cause: err, RawBody: string(body)}
	}
	if len(resp.Errors) > 0 {
		ix.adjustSpeed(ctx, state, false)
		return &errs.RemoteRejected{Status: http.StatusOK, Body: resp.Errors[0].Message}
	}

	highestIndex := state.Index
	for _, gv := range resp.Data.Votes {
		choice, ok := parseChoice(gv.Choice)
		if !ok {
			// Sealed ballot (hex hash string): skip, becomes visible on a
			// later pass once results are revealed.
			continue
		}
		v := &model.Vote{
			GovernorID:         ix.governor.ID,
			DAOID:              ix.dao.ID,
			ProposalExternalID: gv.Proposal.ID,
			VoterAddress:       strings.ToLower(gv.Voter),
			VotingPower:        gv.VP,
			Choice:             choice,
			CreatedAt:          time.Unix(gv.Created, 0).UTC(),
			TxID:               stringPtr(gv.IPFS),
		}
		if gv.Reason != "" {
			v.Reason = stringPtr(gv.Reason)
		}
		if err := ix.store.UpsertVote(ctx, v); err != nil {
			ix.logger.Error("failed to upsert snapshot vote", zap.Error(err))
			continue
		}
		if gv.Created > highestIndex {
			highestIndex = gv.Created
		}
	}

	state.Index = highestIndex
	ix.adjustSpeed(ctx, state, true)
	return nil
}

func (ix *VoteIndexer) adjustSpeed(ctx context.Context, state store.IndexerState, success bool) {
	if success {
		state.Speed = clamp(state.Speed+50, minSpeed, maxSpeed)
	} else {
		state.Speed = clamp(state.Speed/2, minSpeed, maxSpeed)
	}
	if err := ix.store.SaveIndexerState(ctx, state); err != nil {
		ix.logger.Error("failed to persist indexer state", zap.Error(err))
	}
}

// parseChoice decodes a Snapshot vote's polymorphic choice field: a
// bare number becomes the canonical zero-based scalar index, an array
// becomes a ranked/weighted list, and a hex-hash string (a sealed
// ballot) reports ok=false so the caller skips it (spec §4.7).
func parseChoice(raw json.RawMessage) (model.Choice, bool) {
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return model.NewScalarChoice(int(asNumber) - 1), true
	}

	var asList []int
	if err := json.Unmarshal(raw, &asList); err == nil {
		return model.NewListChoice(asList), true
	}

	var asMap map[string]int
	if err := json.Unmarshal(raw, &asMap); err == nil {
		indices := make([]int, 0, len(asMap))
		for _, v := range asMap {
			indices = append(indices, v-1)
		}
		return model.NewListChoice(indices), true
	}

	// Anything else (a hex hash string) is a sealed ballot.
	return model.Choice{}, false
}

func stringPtr(s string) *string { return &s }

type graphQLRequest struct {
	Query string `json:"query"`
}

func doGraphQL(ctx context.Context, gw *gateway.Gateway, query string) ([]byte, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal query: %w", err)
	}

	resp, body, err := gw.Do(ctx, gateway.PriorityLow, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL, strings.NewReader(string(payload)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	_ = resp
	return body, nil
}
