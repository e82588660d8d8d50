package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	strs "trustnet/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr     string
	BasePath string

	Auth      AuthConfig
	Consensus ConsensusConfig
	Audit     AuditConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Kafka     KafkaConfig

	// StrictApprovals rejects second approvers supplied through plain headers.
	StrictApprovals bool
	// RequireNodeKey makes X-Node-Key mandatory on heartbeats.
	RequireNodeKey bool

	ConstitutionPath string
	DirectoryPath    string
}

type AuthConfig struct {
	JWTSigningKey      string
	JWTIssuer          string
	JWTAudience        string
	ApprovalSigningKey string
}

type ConsensusConfig struct {
	MinValidators  int
	MaxValidators  int
	QuorumPct      int
	RoundTimeout   time.Duration
	SlashThreshold int
	RewardPerRound float64
	SlashPerFail   float64
	// Seed fixes the simulated vote sequence. Zero means random.
	Seed uint64
}

type AuditConfig struct {
	VerifyInterval time.Duration
}

// RedisConfig configures the node and peer stores. An empty URL keeps them in memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the round and audit stores. An empty DSN keeps them in memory.
type PostgresConfig struct {
	DSN string
}

// KafkaConfig enables mirroring audit entries to a topic when brokers are set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	floatVar := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	durationVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := Server{
		Addr:     envString("TRUSTNET_ADDR", ":8080"),
		BasePath: envString("TRUSTNET_BASE_PATH", "/api/network"),
		Auth: AuthConfig{
			// Development defaults; override in every deployed environment.
			JWTSigningKey:      envString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:          envString("JWT_ISSUER", "trustnet"),
			JWTAudience:        envString("JWT_AUDIENCE", "trustnet-network"),
			ApprovalSigningKey: envString("APPROVAL_SIGNING_KEY", "dev-approval-key-change-in-production"),
		},
		Consensus: ConsensusConfig{
			MinValidators:  intVar("CONSENSUS_MIN_VALIDATORS", 3),
			MaxValidators:  intVar("CONSENSUS_MAX_VALIDATORS", 7),
			QuorumPct:      intVar("CONSENSUS_QUORUM_PCT", 67),
			RoundTimeout:   durationVar("CONSENSUS_ROUND_TIMEOUT", 5*time.Second),
			SlashThreshold: intVar("CONSENSUS_SLASH_THRESHOLD", 3),
			RewardPerRound: floatVar("CONSENSUS_REWARD_PER_ROUND", 0.01),
			SlashPerFail:   floatVar("CONSENSUS_SLASH_PER_FAILURE", 0.05),
			Seed:           uint64(intVar("CONSENSUS_SEED", 0)),
		},
		Audit: AuditConfig{
			VerifyInterval: durationVar("AUDIT_VERIFY_INTERVAL", 15*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intVar("REDIS_POOL_SIZE", 10),
			MinIdleConns: intVar("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationVar("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationVar("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationVar("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("DATABASE_URL"),
		},
		Kafka: KafkaConfig{
			Brokers: strs.SplitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   envString("KAFKA_AUDIT_TOPIC", "trustnet.audit"),
		},
		StrictApprovals:  os.Getenv("STRICT_APPROVALS") == "true",
		RequireNodeKey:   os.Getenv("REQUIRE_NODE_KEY") == "true",
		ConstitutionPath: os.Getenv("CONSTITUTION_PATH"),
		DirectoryPath:    os.Getenv("IDENTITY_DIRECTORY_PATH"),
	}
	if len(errs) > 0 {
		return Server{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
