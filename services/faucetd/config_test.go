package faucetd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RECAPTCHA_SECRET_KEY", "secret")
	t.Setenv("ALGOD_SERVER", "https://testnet-api.voi.nodely.dev")
	t.Setenv("INDEXER_SERVER", "https://testnet-idx.voi.nodely.dev")
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, ":3000", cfg.ListenAddress)
	require.Equal(t, uint64(1200), cfg.Ledger.AllowedRounds)
	require.Equal(t, uint64(4), cfg.Ledger.ConfirmRounds)
	require.Equal(t, time.Minute, cfg.Ledger.Timeout.Duration)
	require.Equal(t, 0.5, cfg.Recaptcha.MinScore)
	require.Equal(t, uint64(6779767), cfg.Token.ContractID)
	require.Equal(t, uint64(28500), cfg.Token.FallbackPayment)
	require.Equal(t, 2*time.Minute, cfg.Reservations.TTL.Duration)
	require.False(t, cfg.Admin.Enabled())

	drip, err := cfg.DripBaseUnits()
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000_000), drip.Uint64())
	seed, err := cfg.SeedMicrounits()
	require.NoError(t, err)
	require.Equal(t, uint64(10_000_000), seed)
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("RECAPTCHA_SECRET_KEY", "")
	t.Setenv("ALGOD_SERVER", "https://algod")
	t.Setenv("INDEXER_SERVER", "https://indexer")
	_, err := LoadConfig("")
	require.ErrorContains(t, err, "RECAPTCHA_SECRET_KEY")

	t.Setenv("RECAPTCHA_SECRET_KEY", "secret")
	t.Setenv("ALGOD_SERVER", "")
	t.Setenv("ALGO_SERVER", "")
	_, err = LoadConfig("")
	require.ErrorContains(t, err, "ALGOD_SERVER")
}

func TestLoadConfigLegacyServerNames(t *testing.T) {
	t.Setenv("RECAPTCHA_SECRET_KEY", "secret")
	t.Setenv("ALGOD_SERVER", "")
	t.Setenv("INDEXER_SERVER", "")
	t.Setenv("ALGO_SERVER", "https://legacy-algod")
	t.Setenv("ALGO_INDEXER_SERVER", "https://legacy-indexer")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "https://legacy-algod", cfg.Ledger.AlgodServer)
	require.Equal(t, "https://legacy-indexer", cfg.Ledger.IndexerServer)
}

func TestLoadConfigYAMLWithEnvOverlay(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FAUCET_DRIP_AMOUNT", "2.5")
	path := writeFile(t, "faucetd.yaml", `
listen: ":8080"
ledger:
  allowed_rounds: 600
  query_timeout: 3s
token:
  contract_id: 42
  decimals: 2
  drip_amount: "7"
http:
  allowed_origins: ["https://faucet.example"]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.Equal(t, uint64(600), cfg.Ledger.AllowedRounds)
	require.Equal(t, 3*time.Second, cfg.Ledger.QueryTimeout.Duration)
	require.Equal(t, uint64(42), cfg.Token.ContractID)
	require.Equal(t, []string{"https://faucet.example"}, cfg.HTTP.AllowedOrigins)
	require.Equal(t, "2.5", cfg.Token.DripAmount)

	drip, err := cfg.DripBaseUnits()
	require.NoError(t, err)
	require.Equal(t, uint64(250), drip.Uint64())
}

func TestLoadConfigEmptyYAML(t *testing.T) {
	setRequiredEnv(t)
	_, err := LoadConfig(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
}

func TestLoadConfigTOML(t *testing.T) {
	setRequiredEnv(t)
	path := writeFile(t, "faucetd.toml", `
listen = ":9000"
intent_log = "/var/lib/faucetd/intents.db"

[reservations]
redis_addr = "127.0.0.1:6379"
indexer_grace = "90s"

[quest]
disabled = true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "/var/lib/faucetd/intents.db", cfg.IntentLogPath)
	require.Equal(t, "127.0.0.1:6379", cfg.Reservations.RedisAddr)
	require.Equal(t, 90*time.Second, cfg.Reservations.IndexerGrace.Duration)
	require.True(t, cfg.Quest.Disabled)
}

func TestLoadConfigAdminTokenFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("ADMIN_TOKEN_FILE", writeFile(t, "token", "  s3cret\n"))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.True(t, cfg.Admin.Enabled())
	require.Equal(t, "s3cret", cfg.Admin.BearerToken)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FAUCET_MIN_SCORE", "1.5")
	_, err := LoadConfig("")
	require.ErrorContains(t, err, "min_score")

	t.Setenv("FAUCET_MIN_SCORE", "")
	t.Setenv("FAUCET_DRIP_AMOUNT", "0.0000001")
	_, err = LoadConfig("")
	require.ErrorContains(t, err, "drip_amount")
}

func TestLoadConfigKeepsExplicitZeros(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FAUCET_MIN_SCORE", "0")
	path := writeFile(t, "faucetd.yaml", `
token:
  decimals: 0
  drip_amount: "5"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Zero(t, cfg.Recaptcha.MinScore)
	require.Zero(t, cfg.Token.Decimals)

	drip, err := cfg.DripBaseUnits()
	require.NoError(t, err)
	require.Equal(t, uint64(5), drip.Uint64())
}

func TestLoadConfigTOMLKeepsZeroDecimals(t *testing.T) {
	setRequiredEnv(t)
	path := writeFile(t, "faucetd.toml", `
[token]
decimals = 0
drip_amount = "12"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Zero(t, cfg.Token.Decimals)
	require.Equal(t, 0.5, cfg.Recaptcha.MinScore)
}

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int32
		want     string
		ok       bool
	}{
		{"1000", 6, "1000000000", true},
		{"0.5", 6, "500000", true},
		{"1.25", 2, "125", true},
		{"3", 0, "3", true},
		{"1.001", 2, "", false},
		{"0", 6, "", false},
		{"-1", 6, "", false},
		{"abc", 6, "", false},
		{"1", 78, "", false},
	}
	for _, tc := range cases {
		got, err := ToBaseUnits(tc.amount, tc.decimals)
		if !tc.ok {
			require.Error(t, err, tc.amount)
			continue
		}
		require.NoError(t, err, tc.amount)
		require.Equal(t, tc.want, got.Dec(), tc.amount)
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 15s ")))
	require.Equal(t, 15*time.Second, d.Duration)
	require.NoError(t, d.UnmarshalText(nil))
	require.Zero(t, d.Duration)
	require.Error(t, d.UnmarshalText([]byte("soon")))
}
