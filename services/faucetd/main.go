package faucetd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"viafaucet/crypto"
	"viafaucet/gateway/middleware"
	"viafaucet/observability/logging"
	telemetry "viafaucet/observability/otel"
	"viafaucet/services/faucetd/captcha"
	"viafaucet/services/faucetd/ledger"
	"viafaucet/services/faucetd/quest"
)

// Main initialises and runs the faucet daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", os.Getenv("FAUCET_CONFIG"), "path to an optional faucetd configuration file (yaml or toml)")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logging.Option{logging.WithLevel(logging.ParseLevel(cfg.Log.Level))}
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logging.WithFile(logging.FileSink{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   true,
		}))
	}
	logger := logging.Setup("faucetd", cfg.Environment, logOpts...)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("faucetd", cfg.Environment))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	phrase, err := crypto.NewPhraseSource("MN").Get()
	if err != nil {
		return err
	}
	custodian, err := crypto.CustodianFromMnemonic(phrase)
	if err != nil {
		return fmt.Errorf("load custodian: %w", err)
	}

	node, err := ledger.NewAlgodNode(cfg.Ledger.AlgodServer, cfg.Ledger.AlgodPort, cfg.Ledger.AlgodToken)
	if err != nil {
		return err
	}
	idx, err := ledger.NewIndexer(cfg.Ledger.IndexerServer, cfg.Ledger.IndexerPort, cfg.Ledger.IndexerToken)
	if err != nil {
		return err
	}
	contract := ledger.NewARC200(cfg.Token.ContractID, node, idx)

	drip, err := cfg.DripBaseUnits()
	if err != nil {
		return err
	}
	seedAmount, err := cfg.SeedMicrounits()
	if err != nil {
		return err
	}

	reservations, closeReservations, err := openReservations(cfg.Reservations)
	if err != nil {
		return err
	}
	defer closeReservations()

	intents, err := openIntentLog(cfg.IntentLogPath)
	if err != nil {
		return err
	}
	defer func() { _ = intents.Close() }()

	metrics := NewMetrics()
	inspector := NewHistoryInspector(node, contract, custodian.Address(), cfg.Ledger.AllowedRounds, cfg.Ledger.QueryTimeout.Duration)
	seeder := NewFeeSeeder(node, custodian, seedAmount)
	tracker := NewTracker(node, cfg.Ledger.ConfirmRounds)
	executor := NewExecutor(contract, tracker, custodian, cfg.Token.DefaultPayment, cfg.Token.FallbackPayment, metrics, logger)

	opts := []ProcessorOption{
		WithVerifier(captcha.NewClient(captcha.Config{
			Endpoint: cfg.Recaptcha.Endpoint,
			Secret:   cfg.Recaptcha.SecretKey,
			Timeout:  cfg.Recaptcha.Timeout.Duration,
		})),
		WithReservations(reservations),
		WithIntentLog(intents),
		WithMetrics(metrics),
		WithLogger(logger),
	}
	if !cfg.Quest.Disabled {
		opts = append(opts, WithReporter(quest.NewClient(quest.Config{
			BaseURL: cfg.Quest.BaseURL,
			Timeout: cfg.Quest.Timeout.Duration,
		})))
	}
	processor := NewProcessor(Settings{
		DripAmount:     drip,
		ContractID:     cfg.Token.ContractID,
		MinScore:       cfg.Recaptcha.MinScore,
		VerifyTimeout:  cfg.Recaptcha.Timeout.Duration,
		LedgerTimeout:  cfg.Ledger.Timeout.Duration,
		ReportTimeout:  cfg.Quest.Timeout.Duration,
		ReservationTTL: cfg.Reservations.TTL.Duration,
		IndexerGrace:   cfg.Reservations.IndexerGrace.Duration,
	}, inspector, seeder, executor, opts...)
	if cfg.PauseOnStart {
		processor.Pause()
	}
	if _, err := processor.RecoverIntents(); err != nil {
		return fmt.Errorf("recover intents: %w", err)
	}

	logger.Info("faucetd configured",
		slog.String("custodian", custodian.Address()),
		slog.Uint64("contract_id", contract.AppID()),
		slog.String("drip_amount", cfg.Token.DripAmount),
		slog.Uint64("allowed_rounds", cfg.Ledger.AllowedRounds),
		logging.MaskField("recaptcha_secret", cfg.Recaptcha.SecretKey),
		logging.MaskField("admin_token", cfg.Admin.BearerToken))

	public := NewServer(processor, ServerConfig{
		RecaptchaSiteKey: cfg.Recaptcha.SiteKey,
		ContractID:       cfg.Token.ContractID,
		DripAmount:       cfg.Token.DripAmount,
		Decimals:         cfg.Token.Decimals,
		CORS:             middleware.CORSConfig{AllowedOrigins: cfg.HTTP.AllowedOrigins},
		SubmitLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.HTTP.SubmitRatePerMinute,
			Burst:             cfg.HTTP.SubmitBurst,
		},
		LogRequests: cfg.HTTP.LogRequests,
	}, logger)

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	public.Limiter().StartJanitor(stopCtx, time.Minute)

	servers := []*http.Server{{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(public, "faucetd"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}}
	if cfg.Admin.Enabled() {
		auth, err := NewAuthenticator(cfg.Admin.BearerToken)
		if err != nil {
			return err
		}
		servers = append(servers, &http.Server{
			Addr:              cfg.Admin.ListenAddress,
			Handler:           auth.Middleware(NewAdminServer(processor)),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		})
	} else {
		logger.Warn("admin api disabled; set ADMIN_TOKEN to enable pause and intent controls")
	}

	errs := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			logger.Info("faucetd listening", slog.String("addr", srv.Addr))
			errs <- srv.ListenAndServe()
		}()
	}

	var runErr error
	select {
	case <-stopCtx.Done():
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			if runErr == nil {
				runErr = err
			}
		}
	}
	return runErr
}

func openReservations(cfg ReservationConfig) (ReservationStore, func(), error) {
	if cfg.RedisAddr == "" {
		return NewMemoryReservations(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisReservations(client, ""), func() { _ = client.Close() }, nil
}

func openIntentLog(path string) (IntentLog, error) {
	if path == "" {
		return NewMemoryIntentLog(), nil
	}
	journal, err := OpenBoltIntentLog(path)
	if err != nil {
		return nil, err
	}
	return journal, nil
}
