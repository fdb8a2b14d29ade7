// Package karma resolves wallet addresses to forum handles via a
// third-party directory, and writes the resulting delegate bindings
// (spec.md §4.9).
package karma

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/govindex/engine/internal/gateway"
	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/govindex/engine/internal/store"
)

const (
	pageSize    = 10
	minSpeed    = 1
	maxSpeed    = 1
	karmaAPIURL = "https://api.karmahq.xyz/api/dao/delegates"
)

type delegateRecord struct {
	PublicAddress    string   `json:"publicAddress"`
	ENSName          *string  `json:"ensName"`
	DiscourseHandles []string `json:"discourseHandles"`
	IsForumVerified  bool     `json:"isForumVerified"`
}

type delegatesResponse struct {
	Data []delegateRecord `json:"data"`
}

// Resolver paginates the karma directory for one DAO and writes voter,
// discourse-user, and delegate bindings.
type Resolver struct {
	dao            model.DAO
	daoDiscourseID uuid.UUID
	gw             *gateway.Gateway
	store          *store.Store
	logger         *logging.Logger
}

// New builds a Resolver. daoDiscourseID scopes the Discourse-username
// lookup to the DAO's own forum host.
func New(dao model.DAO, daoDiscourseID uuid.UUID, gw *gateway.Gateway, st *store.Store, logger *logging.Logger) *Resolver {
	return &Resolver{
		dao:            dao,
		daoDiscourseID: daoDiscourseID,
		gw:             gw,
		store:          st,
		logger:         logger.Named("karma").With(zap.String("dao", dao.Slug)),
	}
}

func (r *Resolver) MinSpeed() int64        { return minSpeed }
func (r *Resolver) MaxSpeed() int64        { return maxSpeed }
func (r *Resolver) Timeout() time.Duration { return 2 * time.Minute }

const tickInterval = time.Hour

// RunLoop resolves the full karma directory once, then every
// tickInterval, until ctx is canceled. Unlike the on-chain and
// Snapshot indexers, the karma resolver runs on its own timer rather
// than through the scheduler's job queue (spec §2).
func (r *Resolver) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		if err := r.Run(ctx); err != nil {
			r.logger.Error("karma resolution failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run pages the directory until an empty page, binding every
// (address, handle) pair it finds.
func (r *Resolver) Run(ctx context.Context) error {
	offset := 0
	total := 0

	for {
		url := fmt.Sprintf("%s?name=%s&offset=%d&pageSize=%d", karmaAPIURL, r.dao.Slug, offset, pageSize)

		_, body, err := r.gw.Do(ctx, gateway.PriorityLow, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		})
		if err != nil {
			return fmt.Errorf("karma: fetch delegates offset %d: %w", offset, err)
		}

		var parsed delegatesResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("karma: decode delegates offset %d: %w", offset, err)
		}
		if len(parsed.Data) == 0 {
			break
		}

		for _, rec := range parsed.Data {
			if err := r.bind(ctx, rec); err != nil {
				r.logger.Error("failed to bind delegate record", zap.Error(err), zap.String("address", rec.PublicAddress))
			}
		}

		total += len(parsed.Data)
		if len(parsed.Data) < pageSize {
			break
		}
		offset += pageSize
	}

	r.logger.Info("finished resolving karma delegates", zap.Int("total", total))
	return nil
}

func (r *Resolver) bind(ctx context.Context, rec delegateRecord) error {
	address := strings.ToLower(rec.PublicAddress)

	voter := &model.Voter{Address: address, ENS: rec.ENSName}
	if err := r.store.UpsertVoter(ctx, voter); err != nil {
		return fmt.Errorf("upsert voter: %w", err)
	}

	if len(rec.DiscourseHandles) == 0 {
		return nil
	}

	for _, handle := range rec.DiscourseHandles {
		if err := r.bindHandle(ctx, address, handle, rec.IsForumVerified); err != nil {
			r.logger.Error("failed to bind discourse handle", zap.Error(err), zap.String("handle", handle))
		}
	}
	return nil
}

func (r *Resolver) bindHandle(ctx context.Context, address, handle string, verified bool) error {
	discourseUser, err := r.store.FindDiscourseUserByUsername(ctx, r.daoDiscourseID, handle)
	var discourseUserID *uuid.UUID
	if err == nil {
		discourseUserID = &discourseUser.ID
	}

	delegate, err := r.store.GetOrCreateDelegate(ctx, r.dao.ID, address, discourseUserID)
	if err != nil {
		return fmt.Errorf("get or create delegate: %w", err)
	}

	if err := r.store.UpsertDelegateToVoter(ctx, delegate.ID, address, verified); err != nil {
		return fmt.Errorf("upsert delegate-to-voter: %w", err)
	}

	if discourseUserID != nil {
		if err := r.store.UpsertDelegateToDiscourseUser(ctx, delegate.ID, *discourseUserID, verified); err != nil {
			return fmt.Errorf("upsert delegate-to-discourse-user: %w", err)
		}
	}
	return nil
}
