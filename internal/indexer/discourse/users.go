package discourse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/govindex/engine/internal/store"
)

const (
	recentUserPageLimit = 5
	avatarFetchTimeout  = 10 * time.Second
)

type directoryItem struct {
	LikesReceived int `json:"likes_received"`
	LikesGiven    int `json:"likes_given"`
	TopicsEntered int `json:"topics_entered"`
	TopicCount    int `json:"topic_count"`
	PostCount     int `json:"post_count"`
	PostsRead     int `json:"posts_read"`
	DaysVisited   int `json:"days_visited"`
	User          struct {
		ID             int64  `json:"id"`
		Username       string `json:"username"`
		Name           string `json:"name"`
		AvatarTemplate string `json:"avatar_template"`
	} `json:"user"`
}

type directoryResponse struct {
	DirectoryItems []directoryItem `json:"directory_items"`
}

type userDetailResponse struct {
	User struct {
		ID             int64  `json:"id"`
		Username       string `json:"username"`
		Name           string `json:"name"`
		AvatarTemplate string `json:"avatar_template"`
	} `json:"user"`
}

// UserIndexer refreshes forum member directories and resolves
// individual authors on demand, grounded on indexers/users.rs.
type UserIndexer struct {
	host       model.DAODiscourse
	client     *client
	avatarHTTP *http.Client
	store      *store.Store
	logger     *logging.Logger
}

// NewUserIndexer builds a user directory refresher for one Discourse
// host. avatarHTTP must not auto-follow redirects; process_avatar_url
// needs to see the 3xx Location header itself.
func NewUserIndexer(host model.DAODiscourse, c *client, st *store.Store, logger *logging.Logger) *UserIndexer {
	return &UserIndexer{
		host:   host,
		client: c,
		avatarHTTP: &http.Client{
			Timeout: avatarFetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		store:  st,
		logger: logger.Named("discourse.users").With(zap.String("host", host.BaseURL)),
	}
}

func (ix *UserIndexer) MinSpeed() int64 { return 1 }
func (ix *UserIndexer) MaxSpeed() int64 { return 1 }

func (ix *UserIndexer) Timeout() time.Duration {
	return 15 * time.Minute
}

// Run refreshes the full member directory (order=asc, no page cap).
func (ix *UserIndexer) Run(ctx context.Context) error {
	return ix.updateUsers(ctx, false, false)
}

// RunRecent refreshes only the most recently active members.
func (ix *UserIndexer) RunRecent(ctx context.Context) error {
	return ix.updateUsers(ctx, true, true)
}

func (ix *UserIndexer) updateUsers(ctx context.Context, recent, priority bool) error {
	order := "asc"
	if recent {
		order = "desc"
	}

	page := 0
	total := 0
	var previousJSON string
	repeats := 0

	for {
		path := fmt.Sprintf("/directory_items.json?page=%d&order=%s&period=all", page, order)

		var resp directoryResponse
		if err := ix.client.getJSON(ctx, path, priority, &resp); err != nil {
			return fmt.Errorf("discourse: fetch users page %d: %w", page, err)
		}

		for _, item := range resp.DirectoryItems {
			if err := ix.upsertDirectoryItem(ctx, item); err != nil {
				ix.logger.Error("failed to upsert user", zap.Error(err), zap.Int64("user_id", item.User.ID))
			}
		}
		total += len(resp.DirectoryItems)

		if len(resp.DirectoryItems) == 0 {
			break
		}

		raw, err := json.Marshal(resp.DirectoryItems)
		if err == nil {
			if previousJSON != "" && string(raw) == previousJSON {
				repeats++
				if repeats == 2 {
					break
				}
			}
			previousJSON = string(raw)
		}

		page++
		if recent && page == recentUserPageLimit {
			break
		}
	}

	ix.logger.Info("finished updating users", zap.Int("total", total))
	return nil
}

func (ix *UserIndexer) upsertDirectoryItem(ctx context.Context, item directoryItem) error {
	avatarURL, err := ix.processAvatarURL(ctx, item.User.AvatarTemplate)
	if err != nil {
		return err
	}

	u := model.DiscourseUser{
		DAODiscourseID: ix.host.ID,
		ExternalID:     item.User.ID,
		Username:       item.User.Username,
		Name:           stringPtrIfNonEmpty(item.User.Name),
		AvatarURL:      avatarURL,
		Stats: model.DiscourseUserStats{
			LikesReceived: item.LikesReceived,
			LikesGiven:    item.LikesGiven,
			TopicsEntered: item.TopicsEntered,
			TopicCount:    item.TopicCount,
			PostCount:     item.PostCount,
			PostsRead:     item.PostsRead,
			DaysVisited:   item.DaysVisited,
		},
	}
	return ix.store.UpsertDiscourseUser(ctx, &u)
}

// FetchUserByUsername fetches one user's profile live and upserts it,
// used by PostIndexer to resolve an author it hasn't seen before.
func (ix *UserIndexer) FetchUserByUsername(ctx context.Context, username string, priority bool) (*model.DiscourseUser, error) {
	var resp userDetailResponse
	if err := ix.client.getJSON(ctx, fmt.Sprintf("/u/%s.json", username), priority, &resp); err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", username, err)
	}

	avatarURL, err := ix.processAvatarURL(ctx, resp.User.AvatarTemplate)
	if err != nil {
		return nil, err
	}

	u := &model.DiscourseUser{
		DAODiscourseID: ix.host.ID,
		ExternalID:     resp.User.ID,
		Username:       resp.User.Username,
		Name:           stringPtrIfNonEmpty(resp.User.Name),
		AvatarURL:      avatarURL,
	}
	if err := ix.store.UpsertDiscourseUser(ctx, u); err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", username, err)
	}
	return u, nil
}

// processAvatarURL resolves a (possibly relative, possibly templated)
// avatar_template into a concrete URL, following at most one redirect
// by hand so a failed fetch still falls back to the pre-redirect URL.
func (ix *UserIndexer) processAvatarURL(ctx context.Context, avatarTemplate string) (string, error) {
	sized := strings.ReplaceAll(avatarTemplate, "{size}", "120")

	fullURL := sized
	if !strings.HasPrefix(sized, "http") {
		fullURL = ix.host.BaseURL + sized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fullURL, nil
	}

	resp, err := ix.avatarHTTP.Do(req)
	if err != nil {
		ix.logger.Warn("failed to probe avatar url", zap.Error(err), zap.String("url", fullURL))
		return fullURL, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); loc != "" {
			return loc, nil
		}
	}
	return fullURL, nil
}
