package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOrFallsBackToDefault(t *testing.T) {
	t.Setenv("CONFIG_TEST_STR", "")
	assert.Equal(t, "default", envOr("CONFIG_TEST_STR", "default"))

	t.Setenv("CONFIG_TEST_STR", "custom")
	assert.Equal(t, "custom", envOr("CONFIG_TEST_STR", "default"))
}

func TestEnvIntParsesOrFallsBack(t *testing.T) {
	t.Setenv("CONFIG_TEST_INT", "42")
	assert.Equal(t, 42, envInt("CONFIG_TEST_INT", 7))

	t.Setenv("CONFIG_TEST_INT", "not-a-number")
	assert.Equal(t, 7, envInt("CONFIG_TEST_INT", 7))

	t.Setenv("CONFIG_TEST_INT", "")
	assert.Equal(t, 7, envInt("CONFIG_TEST_INT", 7))
}

func TestEnvBoolParsesOrFallsBack(t *testing.T) {
	t.Setenv("CONFIG_TEST_BOOL", "false")
	assert.False(t, envBool("CONFIG_TEST_BOOL", true))

	t.Setenv("CONFIG_TEST_BOOL", "bogus")
	assert.True(t, envBool("CONFIG_TEST_BOOL", true))

	t.Setenv("CONFIG_TEST_BOOL", "")
	assert.True(t, envBool("CONFIG_TEST_BOOL", true))
}

func TestEnvSecondsConvertsToDuration(t *testing.T) {
	t.Setenv("CONFIG_TEST_SEC", "5")
	assert.Equal(t, 5*time.Second, envSeconds("CONFIG_TEST_SEC", 1))

	t.Setenv("CONFIG_TEST_SEC", "")
	assert.Equal(t, 1*time.Second, envSeconds("CONFIG_TEST_SEC", 1))
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DB_DSN", "NATS_ENDPOINT"} {
		t.Setenv(k, "")
	}
}

func TestLoadGatewayRequiresDBDSN(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("NATS_ENDPOINT", "nats://localhost:4222")

	_, err := LoadGateway()
	assert.ErrorContains(t, err, "DB_DSN")
}

func TestLoadGatewayRequiresNATSEndpoint(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("DB_DSN", "postgres://localhost/listings")

	_, err := LoadGateway()
	assert.ErrorContains(t, err, "NATS_ENDPOINT")
}

func TestLoadGatewayAppliesDefaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("DB_DSN", "postgres://localhost/listings")
	t.Setenv("NATS_ENDPOINT", "nats://localhost:4222")

	cfg, err := LoadGateway()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, "listing.index", cfg.EventIndexListing)
	assert.Equal(t, "validate.file.complete", cfg.EventValidationComplete)
	assert.Equal(t, 60*time.Second, cfg.SweeperInterval)
	assert.Equal(t, 10*time.Minute, cfg.SweeperGracePeriod)
	assert.Equal(t, time.Hour, cfg.UploadURLExpiry)
}

func TestLoadIndexerRequiresTypesenseURL(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/listings")
	t.Setenv("NATS_ENDPOINT", "nats://localhost:4222")
	t.Setenv("TYPESENSE_URL", "")

	_, err := LoadIndexer()
	assert.ErrorContains(t, err, "TYPESENSE_URL")
}

func TestLoadIndexerAppliesDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/listings")
	t.Setenv("NATS_ENDPOINT", "nats://localhost:4222")
	t.Setenv("TYPESENSE_URL", "http://localhost:8108")

	cfg, err := LoadIndexer()
	require.NoError(t, err)
	assert.Equal(t, 9091, cfg.IndexWorkerPort)
	assert.Equal(t, "listing.index", cfg.EventIndexListing)
}
