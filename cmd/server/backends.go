package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"trustnet/internal/auditchain"
	"trustnet/internal/constitution"
	"trustnet/internal/identity"
	"trustnet/internal/network/consensus"
	"trustnet/internal/network/registry"
	"trustnet/internal/network/store"
	"trustnet/internal/platform/config"
	"trustnet/internal/platform/postgres"
	platformredis "trustnet/internal/platform/redis"
)

// backends holds the stores selected by configuration and the connections behind them.
type backends struct {
	nodes     registry.NodeStore
	peers     registry.PeerStore
	rounds    consensus.RoundStore
	audit     auditchain.Store
	publisher *auditchain.KafkaPublisher

	redis *goredis.Client
	db    *sql.DB
	pool  *pgxpool.Pool
}

// openBackends picks Redis for nodes and peers, Postgres for rounds and the audit
// chain, and Kafka for the audit mirror. Anything unconfigured stays in memory.
func openBackends(ctx context.Context, cfg config.Server, log *slog.Logger) (*backends, error) {
	b := &backends{
		nodes:  store.NewInMemoryNodeStore(),
		peers:  store.NewInMemoryPeerStore(),
		rounds: store.NewInMemoryRoundStore(),
		audit:  auditchain.NewInMemoryStore(),
	}

	client, err := platformredis.Open(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client != nil {
		b.redis = client
		b.nodes = store.NewRedisNodeStore(client)
		b.peers = store.NewRedisPeerStore(client)
		log.InfoContext(ctx, "node registry backed by redis")
	}

	if cfg.Postgres.DSN != "" {
		if err := b.openPostgres(ctx, cfg.Postgres.DSN); err != nil {
			b.Close()
			return nil, err
		}
		log.InfoContext(ctx, "rounds and audit chain backed by postgres")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := auditchain.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		b.publisher = pub
		log.InfoContext(ctx, "audit entries mirrored to kafka", "topic", cfg.Kafka.Topic)
	}
	return b, nil
}

func (b *backends) openPostgres(ctx context.Context, dsn string) error {
	db, err := postgres.OpenSQL(ctx, dsn)
	if err != nil {
		return err
	}
	b.db = db
	rounds := store.NewPostgresRoundStore(db)
	if err := rounds.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate consensus rounds: %w", err)
	}
	b.rounds = rounds

	pool, err := postgres.OpenPool(ctx, dsn)
	if err != nil {
		return err
	}
	b.pool = pool
	audit := auditchain.NewPostgresStore(pool)
	if err := audit.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate audit chain: %w", err)
	}
	b.audit = audit
	return nil
}

// chainOptions attaches the Kafka mirror when one is configured.
func (b *backends) chainOptions(log *slog.Logger) []auditchain.Option {
	opts := []auditchain.Option{auditchain.WithLogger(log)}
	if b.publisher != nil {
		opts = append(opts, auditchain.WithPublisher(b.publisher))
	}
	return opts
}

func (b *backends) Close() {
	if b.publisher != nil {
		b.publisher.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func loadConstitution(path string) (*constitution.Constitution, error) {
	if path == "" {
		return constitution.Default()
	}
	return constitution.LoadFile(path)
}

func loadDirectory(path string) (*identity.Directory, error) {
	if path == "" {
		return identity.NewDirectory(), nil
	}
	return identity.LoadFile(path)
}

func consensusParams(cfg config.ConsensusConfig) consensus.Params {
	return consensus.Params{
		MinValidators:  cfg.MinValidators,
		MaxValidators:  cfg.MaxValidators,
		QuorumPct:      cfg.QuorumPct,
		RoundTimeout:   cfg.RoundTimeout,
		SlashThreshold: cfg.SlashThreshold,
		RewardPerRound: cfg.RewardPerRound,
		SlashPerFail:   cfg.SlashPerFail,
	}
}
