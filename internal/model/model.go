// Package model holds the canonical entities shared by every indexer and
// the upsert layer (spec §3).
package model

import (
	"time"

	"github.com/google/uuid"
)

// ProposalState is the canonical lifecycle state for a Proposal, shared
// across on-chain and Snapshot governors.
type ProposalState string

const (
	ProposalStatePending   ProposalState = "pending"
	ProposalStateActive    ProposalState = "active"
	ProposalStateCanceled  ProposalState = "canceled"
	ProposalStateDefeated  ProposalState = "defeated"
	ProposalStateSucceeded ProposalState = "succeeded"
	ProposalStateQueued    ProposalState = "queued"
	ProposalStateExpired   ProposalState = "expired"
	ProposalStateExecuted  ProposalState = "executed"
	ProposalStateHidden    ProposalState = "hidden"
	ProposalStateUnknown   ProposalState = "unknown"
)

// GovernorKind tags what kind of proposal-producing source a Governor is.
type GovernorKind string

const (
	GovernorKindArbitrumCore       GovernorKind = "arbitrum_core"
	GovernorKindArbitrumTreasury   GovernorKind = "arbitrum_treasury"
	GovernorKindCompoundMainnet    GovernorKind = "compound_mainnet"
	GovernorKindOptimism           GovernorKind = "optimism"
	GovernorKindGenericOZGovernor  GovernorKind = "oz_governor"
	GovernorKindSnapshot           GovernorKind = "snapshot"
)

// DAO is the root of all namespaces.
type DAO struct {
	ID   uuid.UUID
	Slug string
	Name string
}

// Governor is a single proposal-producing source for a DAO.
type Governor struct {
	ID              uuid.UUID
	DAOID           uuid.UUID
	Kind            GovernorKind
	ContractAddress *string
	Chain           *string
	PortalURL       string
}

// DAODiscourse binds a DAO to the one Discourse forum host it is
// crawled from. MonitoredCategoryID scopes the grouper's phase 1 topic
// materialization (spec §4.11).
type DAODiscourse struct {
	ID                  uuid.UUID
	DAOID               uuid.UUID
	BaseURL             string
	MonitoredCategoryID int64
}

// ProposalMetadata carries the per-proposal vote-type and quorum-choice
// declaration that the finalizer reads.
type ProposalMetadata struct {
	VoteType      string `json:"vote_type,omitempty"`
	QuorumChoices []int  `json:"quorum_choices,omitempty"`
	ScoresState   string `json:"scores_state,omitempty"`
	HiddenVote    bool   `json:"hidden_vote,omitempty"`
}

// Proposal mirrors spec.md §3's Proposal entity.
type Proposal struct {
	ID              uuid.UUID
	GovernorID      uuid.UUID
	DAOID           uuid.UUID
	ExternalID      string
	Author          *string
	Name            string
	Body            string
	URL             string
	DiscussionURL   *string
	Choices         []string
	Quorum          float64
	State           ProposalState
	MarkedSpam      bool
	CreatedAt       time.Time
	StartAt         time.Time
	EndAt           time.Time
	BlockCreatedAt  *int64
	BlockStartAt    *int64
	BlockEndAt      *int64
	TxID            *string
	Metadata        ProposalMetadata
}

// Choice is vote.choice's polymorphic shape: a scalar index for
// single-choice votes, or an ordered list of indices for ranked/weighted
// ballots (spec §4.5, §4.7, §9 "Choice field shape").
type Choice struct {
	Scalar *int
	List   []int
}

// NewScalarChoice builds a single-index Choice.
func NewScalarChoice(i int) Choice { return Choice{Scalar: &i} }

// NewListChoice builds a ranked/weighted Choice.
func NewListChoice(indices []int) Choice { return Choice{List: indices} }

// IsList reports whether this Choice carries multiple indices.
func (c Choice) IsList() bool { return c.List != nil }

// Index returns the scalar index, or the first list element when the
// choice is a list (used by the finalizer's quorum-choice membership
// test, which only cares about a vote's primary choice).
func (c Choice) Index() (int, bool) {
	if c.Scalar != nil {
		return *c.Scalar, true
	}
	if len(c.List) > 0 {
		return c.List[0], true
	}
	return 0, false
}

// Vote mirrors spec.md §3's Vote entity.
type Vote struct {
	ID                  uuid.UUID
	GovernorID          uuid.UUID
	DAOID               uuid.UUID
	ProposalID          *uuid.UUID
	ProposalExternalID  string
	VoterAddress        string
	VotingPower         float64
	Choice              Choice
	Reason              *string
	CreatedAt           time.Time
	BlockCreatedAt      *int64
	TxID                *string
}

// Voter mirrors spec.md §3's Voter entity.
type Voter struct {
	Address   string
	ENS       *string
	Avatar    *string
	UpdatedAt time.Time
}

// DiscourseTopic mirrors spec.md §3's DiscourseTopic entity.
type DiscourseTopic struct {
	ID              uuid.UUID
	DAODiscourseID  uuid.UUID
	ExternalID      int64
	Title           string
	Slug            string
	CategoryID      int64
	PostsCount      int
	LastPostedAt    time.Time
}

// ActionSummary is one entry of DiscoursePost.ActionsSummary.
type ActionSummary struct {
	ActionID int `json:"action_id"`
	Count    int `json:"count"`
}

// DiscoursePost mirrors spec.md §3's DiscoursePost entity.
type DiscoursePost struct {
	ID                 uuid.UUID
	DAODiscourseID     uuid.UUID
	TopicID            uuid.UUID
	ExternalID         int64
	UserID             uuid.UUID
	Version            int
	Raw                *string
	Cooked             *string
	CanViewEditHistory bool
	Deleted            bool
	ActionsSummary     []ActionSummary
	// LikesCount is the last count fetched via the likes refresh flow,
	// distinct from ActionsSummary's live count off the post-stream response.
	LikesCount int
}

// DiscoursePostRevision mirrors spec.md §3's DiscoursePostRevision entity.
type DiscoursePostRevision struct {
	ID             uuid.UUID
	PostID         uuid.UUID
	Version        int
	BeforeMarkdown string
	AfterMarkdown  string
}

// DiscourseUserStats is DiscourseUser.Stats.
type DiscourseUserStats struct {
	LikesReceived int `json:"likes_received"`
	LikesGiven    int `json:"likes_given"`
	TopicsEntered int `json:"topics_entered"`
	TopicCount    int `json:"topic_count"`
	PostCount     int `json:"post_count"`
	PostsRead     int `json:"posts_read"`
	DaysVisited   int `json:"days_visited"`
}

// DiscourseUser mirrors spec.md §3's DiscourseUser entity.
type DiscourseUser struct {
	ID             uuid.UUID
	DAODiscourseID uuid.UUID
	ExternalID     int64
	Username       string
	Name           *string
	AvatarURL      string
	Stats          DiscourseUserStats
}

// Delegate bridges a voter address and a forum user for one DAO.
type Delegate struct {
	ID    uuid.UUID
	DAOID uuid.UUID
}

// DelegateToVoter is a time-bounded binding from a Delegate to a Voter.
type DelegateToVoter struct {
	ID          uuid.UUID
	DelegateID  uuid.UUID
	VoterID     string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Verified    bool
}

// DelegateToDiscourseUser is a time-bounded binding from a Delegate to a DiscourseUser.
type DelegateToDiscourseUser struct {
	ID              uuid.UUID
	DelegateID      uuid.UUID
	DiscourseUserID uuid.UUID
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Verified        bool
}

// Delegation is one observed on-chain DelegateChanged event.
type Delegation struct {
	ID        uuid.UUID
	DAOID     uuid.UUID
	Delegator string
	Delegate  string
	Block     int64
	Timestamp time.Time
	TxID      string
}

// VotingPower is one observed on-chain DelegateVotesChanged snapshot.
type VotingPower struct {
	ID          uuid.UUID
	DAOID       uuid.UUID
	Voter       string
	VotingPower float64
	Block       int64
	Timestamp   time.Time
	TxID        string
}

// ProposalGroupItemKind discriminates ProposalGroupItem.Kind.
type ProposalGroupItemKind string

const (
	ItemKindProposal ProposalGroupItemKind = "proposal"
	ItemKindTopic    ProposalGroupItemKind = "topic"
)

// ProposalGroupItem is one member of a ProposalGroup's ordered item list.
// Identity is (governor_id, external_id) for proposals or
// (dao_discourse_id, external_id) for topics.
type ProposalGroupItem struct {
	Kind            ProposalGroupItemKind `json:"kind"`
	GovernorID      *uuid.UUID            `json:"governor_id,omitempty"`
	DAODiscourseID  *uuid.UUID            `json:"dao_discourse_id,omitempty"`
	ExternalID      string                `json:"external_id"`
	DisplayName     string                `json:"display_name"`
}

// ProposalGroup mirrors spec.md §3's ProposalGroup entity.
// RepresentativeEmbedding is the mean vector of its items' embeddings,
// maintained incrementally by the grouper (spec §4.11); nil until the
// first semantic attach.
type ProposalGroup struct {
	ID                      uuid.UUID
	DAOID                   uuid.UUID
	Items                   []ProposalGroupItem
	RepresentativeEmbedding []float64
}
