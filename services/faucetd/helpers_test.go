package faucetd

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"viafaucet/crypto"
	"viafaucet/services/faucetd/captcha"
	"viafaucet/services/faucetd/ledger/ledgertest"
)

const (
	testDrip         = 1_000_000_000
	testSeed         = 10_000_000
	testFallback     = 28500
	testWindowRounds = 100
)

type stubVerifier struct {
	mu      sync.Mutex
	verdict captcha.Verdict
	err     error
	calls   atomic.Int32
}

func (s *stubVerifier) Verify(context.Context, string, string) (captcha.Verdict, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdict, s.err
}

type recordingReporter struct {
	mu      sync.Mutex
	targets []string
	params  []map[string]any
	err     error
}

func (r *recordingReporter) SubmitAction(_ context.Context, action, address string, params map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, address)
	r.params = append(r.params, params)
	return r.err
}

func (r *recordingReporter) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.targets...)
}

type harness struct {
	fake      *ledgertest.Fake
	custodian *crypto.Custodian
	verifier  *stubVerifier
	reporter  *recordingReporter
	intents   *MemoryIntentLog
	processor *Processor
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, mutate ...func(*Settings)) *harness {
	t.Helper()
	fake := ledgertest.NewFake()
	return newHarnessWithFake(t, fake, crypto.GenerateCustodian(), mutate...)
}

func newHarnessWithFake(t *testing.T, fake *ledgertest.Fake, custodian *crypto.Custodian, mutate ...func(*Settings)) *harness {
	t.Helper()
	fake.SetBalance(custodian.Address(), 1_000_000_000_000)
	settings := Settings{
		DripAmount:     uint256.NewInt(testDrip),
		ContractID:     ledgertest.DefaultAppID,
		MinScore:       0.5,
		VerifyTimeout:  time.Second,
		LedgerTimeout:  5 * time.Second,
		ReportTimeout:  time.Second,
		ReservationTTL: time.Minute,
		IndexerGrace:   time.Minute,
	}
	for _, fn := range mutate {
		fn(&settings)
	}
	verifier := &stubVerifier{verdict: captcha.Verdict{Success: true, Score: 0.9}}
	reporter := &recordingReporter{}
	intents := NewMemoryIntentLog()
	logger := discardLogger()
	metrics := NewMetrics()

	inspector := NewHistoryInspector(fake, fake, custodian.Address(), testWindowRounds, time.Second)
	seeder := NewFeeSeeder(fake, custodian, testSeed)
	tracker := NewTracker(fake, 4)
	executor := NewExecutor(fake, tracker, custodian, 0, testFallback, metrics, logger)
	processor := NewProcessor(settings, inspector, seeder, executor,
		WithVerifier(verifier),
		WithReporter(reporter),
		WithIntentLog(intents),
		WithMetrics(metrics),
		WithLogger(logger),
	)
	return &harness{
		fake:      fake,
		custodian: custodian,
		verifier:  verifier,
		reporter:  reporter,
		intents:   intents,
		processor: processor,
	}
}

func newTarget() string {
	return crypto.GenerateCustodian().Address()
}

func request(target string) DisbursementRequest {
	return DisbursementRequest{Target: target, Token: "captcha-token", RemoteIP: "198.51.100.7"}
}

func countTxns(broadcasts [][]string) int {
	total := 0
	for _, ids := range broadcasts {
		total += len(ids)
	}
	return total
}
