// Package config loads the flat environment-variable configuration
// described in the external interfaces spec into typed Go structs,
// one per process, the way the teacher's packages each carry their own
// small explicit Config struct rather than a shared reflection-based
// binder.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Gateway is the complete environment-driven configuration for
// cmd/gateway.
type Gateway struct {
	APIPort int

	DBDSN         string
	DBMaxOpenConns int
	DBMaxIdleConns int

	NATSEndpoint            string
	NATSMaxReconnectWait    time.Duration
	EventValidateImageStart string
	EventValidateModelStart string
	EventIndexListing       string
	EventValidationComplete string

	SweeperInterval     time.Duration
	SweeperGracePeriod  time.Duration

	RedisAddr         string
	RedisPassword     string
	RedisPoolSize     int
	RedisMinIdleConns int

	S3Endpoint  string
	S3UseSSL    bool
	S3AccessKey string
	S3SecretKey string

	AuthorizationURL      string
	AuthorizationRealm    string
	AuthorizationClientID string

	PublicFilesURL string
	DomainName     string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	UploadURLExpiry      time.Duration
	SignedGetExpiry      time.Duration
	IdempotencyLockTTL   time.Duration
	IdempotencyDataTTL   time.Duration
	ListingCacheTTL      time.Duration
	MetricsPort          int
}

// Indexer is the complete environment-driven configuration for
// cmd/indexer.
type Indexer struct {
	IndexWorkerPort int

	DBDSN          string
	DBMaxOpenConns int
	DBMaxIdleConns int

	NATSEndpoint         string
	NATSMaxReconnectWait time.Duration
	EventIndexListing    string

	TypesenseURL    string
	TypesenseAPIKey string

	PublicFilesURL string
}

// LoadGateway reads the gateway configuration from the process
// environment, applying the same defaults documented in the external
// interfaces spec.
func LoadGateway() (*Gateway, error) {
	cfg := &Gateway{
		APIPort:                 envInt("API_PORT", 8080),
		DBDSN:                   os.Getenv("DB_DSN"),
		DBMaxOpenConns:          envInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:          envInt("DB_MAX_IDLE_CONNS", 10),
		NATSEndpoint:            os.Getenv("NATS_ENDPOINT"),
		NATSMaxReconnectWait:    envSeconds("NATS_MAX_RECONNECT_WAIT_SEC", 3),
		EventValidateImageStart: envOr("EVENT_VALIDATE_IMAGE_START", "validate.image.start"),
		EventValidateModelStart: envOr("EVENT_VALIDATE_MODEL_START", "validate.model.start"),
		EventIndexListing:       envOr("EVENT_INDEX_LISTING", "listing.index"),
		EventValidationComplete: envOr("EVENT_VALIDATION_COMPLETE", "validate.file.complete"),
		SweeperInterval:         envSeconds("SWEEPER_INTERVAL_SEC", 60),
		SweeperGracePeriod:      envSeconds("SWEEPER_GRACE_PERIOD_SEC", 10*60),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisPoolSize:           envInt("REDIS_POOL_SIZE", 10),
		RedisMinIdleConns:       envInt("REDIS_MIN_IDLE_CONNS", 2),
		S3Endpoint:              os.Getenv("S3_ENDPOINT"),
		S3UseSSL:                envBool("S3_USE_SSL", true),
		S3AccessKey:             os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:             os.Getenv("S3_SECRET_KEY"),
		AuthorizationURL:        os.Getenv("AUTHORIZATION_URL"),
		AuthorizationRealm:      os.Getenv("AUTHORIZATION_REALM"),
		AuthorizationClientID:   os.Getenv("AUTHORIZATION_CLIENT_ID"),
		PublicFilesURL:          os.Getenv("PUBLIC_FILES_URL"),
		DomainName:              os.Getenv("DOMAIN_NAME"),
		HTTPReadTimeout:         envSeconds("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPWriteTimeout:        envSeconds("HTTP_WRITE_TIMEOUT_SEC", 30),
		UploadURLExpiry:         time.Duration(envInt("UPLOAD_URL_EXPIRY_HOURS", 1)) * time.Hour,
		SignedGetExpiry:         time.Duration(envInt("SIGNED_GET_EXPIRY_MINUTES", 15)) * time.Minute,
		IdempotencyLockTTL:      envSeconds("IDEMPOTENCY_LOCK_TTL_SEC", 10),
		IdempotencyDataTTL:      envSeconds("IDEMPOTENCY_DATA_TTL_SEC", 7*24*60*60),
		ListingCacheTTL:         envSeconds("LISTING_CACHE_TTL_SEC", 60*60),
		MetricsPort:             envInt("METRICS_PORT", 9090),
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required")
	}
	if cfg.NATSEndpoint == "" {
		return nil, fmt.Errorf("NATS_ENDPOINT is required")
	}
	return cfg, nil
}

// LoadIndexer reads the indexing worker configuration from the process
// environment.
func LoadIndexer() (*Indexer, error) {
	cfg := &Indexer{
		IndexWorkerPort:      envInt("INDEX_WORKER_PORT", 9091),
		DBDSN:                os.Getenv("DB_DSN"),
		DBMaxOpenConns:       envInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:       envInt("DB_MAX_IDLE_CONNS", 5),
		NATSEndpoint:         os.Getenv("NATS_ENDPOINT"),
		NATSMaxReconnectWait: envSeconds("NATS_MAX_RECONNECT_WAIT_SEC", 3),
		EventIndexListing:    envOr("EVENT_INDEX_LISTING", "listing.index"),
		TypesenseURL:         os.Getenv("TYPESENSE_URL"),
		TypesenseAPIKey:      os.Getenv("TYPESENSE_API_KEY"),
		PublicFilesURL:       os.Getenv("PUBLIC_FILES_URL"),
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required")
	}
	if cfg.NATSEndpoint == "" {
		return nil, fmt.Errorf("NATS_ENDPOINT is required")
	}
	if cfg.TypesenseURL == "" {
		return nil, fmt.Errorf("TYPESENSE_URL is required")
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}
