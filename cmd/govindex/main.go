// Command govindex is the governance-intelligence ingestion process:
// it wires configuration, storage, and every indexer/grouper/finalizer
// into one long-running process plus a minimal health endpoint
// (spec §6).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/govindex/engine/internal/blocktime"
	"github.com/govindex/engine/internal/chain"
	"github.com/govindex/engine/internal/config"
	"github.com/govindex/engine/internal/database"
	"github.com/govindex/engine/internal/embeddings"
	"github.com/govindex/engine/internal/finalizer"
	"github.com/govindex/engine/internal/gateway"
	"github.com/govindex/engine/internal/grouper"
	"github.com/govindex/engine/internal/indexer/discourse"
	"github.com/govindex/engine/internal/indexer/governor"
	"github.com/govindex/engine/internal/indexer/snapshot"
	"github.com/govindex/engine/internal/karma"
	"github.com/govindex/engine/internal/logging"
	"github.com/govindex/engine/internal/model"
	"github.com/govindex/engine/internal/rediscache"
	"github.com/govindex/engine/internal/scheduler"
	"github.com/govindex/engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("govindex exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db, cfg.Database.MigrationPath); err != nil {
		return err
	}

	st := store.New(db, logger)

	cache, err := rediscache.NewClient(cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer cache.Close()

	registry, err := chain.NewRegistry(ctx, cfg.Chains, logger)
	if err != nil {
		return err
	}
	defer registry.Close()

	oracle := blocktime.New(registry)

	embed := embeddings.New(embeddings.Config{
		Host:      cfg.Embeddings.Host,
		Port:      strconv.Itoa(cfg.Embeddings.Port),
		Model:     cfg.Embeddings.Model,
		BatchSize: cfg.Embeddings.BatchSize,
	}, cache, logger)

	daos, err := st.ListDAOs(ctx)
	if err != nil {
		return err
	}
	daoByID := make(map[string]model.DAO, len(daos))
	for _, d := range daos {
		daoByID[d.ID.String()] = d
	}

	sched := scheduler.New(scheduler.Config{BetterStackKey: cfg.BetterStackKey}, st, logger)

	governors, err := st.ListGovernors(ctx)
	if err != nil {
		return err
	}

	snapshotGateway := gateway.New(gateway.Config{Name: "snapshot", RateLimitThreshold: 30}, logger)
	defer snapshotGateway.Close()

	for _, gov := range governors {
		dao, ok := daoByID[gov.DAOID.String()]
		if !ok {
			logger.Warn("governor references unknown dao, skipping", zap.String("governor_id", gov.ID.String()))
			continue
		}

		if gov.Kind == model.GovernorKindSnapshot {
			proposalIx, err := snapshot.NewProposalIndexer(dao, gov, snapshotGateway, st, logger)
			if err != nil {
				logger.Warn("skipping snapshot proposal indexer", zap.Error(err), zap.String("dao", dao.Slug))
			} else {
				sched.Register(gov.ID, "snapshot-proposals", proposalIx)
			}

			voteIx, err := snapshot.NewVoteIndexer(dao, gov, snapshotGateway, st, logger)
			if err != nil {
				logger.Warn("skipping snapshot vote indexer", zap.Error(err), zap.String("dao", dao.Slug))
			} else {
				sched.Register(gov.ID, "snapshot-votes", voteIx)
			}
			continue
		}

		govIx, err := governor.New(dao, gov, registry, oracle, st, logger)
		if err != nil {
			logger.Warn("skipping on-chain governor indexer", zap.Error(err), zap.String("dao", dao.Slug))
			continue
		}
		sched.Register(gov.ID, "governor", govIx)
	}

	discourseHosts, err := st.ListDAODiscourses(ctx)
	if err != nil {
		return err
	}

	discourseGateway := gateway.New(gateway.Config{Name: "discourse", RateLimitThreshold: 10}, logger)
	defer discourseGateway.Close()

	karmaGateway := gateway.New(gateway.Config{Name: "karma", RateLimitThreshold: 5}, logger)
	defer karmaGateway.Close()

	runBackground := func(fn func(ctx context.Context) error, label string) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background loop exited", zap.Error(err), zap.String("loop", label))
			}
		}()
	}

	for _, host := range discourseHosts {
		dao, ok := daoByID[host.DAOID.String()]
		if !ok {
			continue
		}

		topicIx := discourse.NewTopicIndexer(host, false, discourseGateway, st, logger)
		topicGovernorID := dao.ID // discourse has no dedicated governor row; reuse the DAO id as the indexer-state key
		sched.Register(topicGovernorID, "discourse-topics", topicIx)

		karmaResolver := karma.New(dao, host.ID, karmaGateway, st, logger)
		runBackground(karmaResolver.RunLoop, "karma:"+dao.Slug)

		grp := grouper.New(dao, host, embed, st, logger)
		runBackground(grp.Run, "grouper:"+dao.Slug)
	}

	fin := finalizer.New(st, logger)
	runBackground(fin.Run, "finalizer")

	runBackground(sched.Run, "scheduler")

	srv := &http.Server{
		Addr: cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				w.WriteHeader(http.StatusOK)
				return
			}
			http.NotFound(w, r)
		}),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
