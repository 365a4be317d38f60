package faucetd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"viafaucet/crypto"
	"viafaucet/services/faucetd/captcha"
	"viafaucet/services/faucetd/quest"
)

// Verifier checks a human-verification token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (captcha.Verdict, error)
}

// Reporter records usage with the quest service.
type Reporter interface {
	SubmitAction(ctx context.Context, action, address string, params map[string]any) error
}

// DisbursementRequest is one inbound drip request.
type DisbursementRequest struct {
	Target   string
	Token    string
	RemoteIP string
}

// Result describes a confirmed disbursement.
type Result struct {
	TxID     string   `json:"txID"`
	TxIDs    []string `json:"txIDs"`
	SeedTxID string   `json:"seedTxID,omitempty"`
	Seeded   bool     `json:"seeded"`
	Fallback bool     `json:"fallback"`
}

// Settings are the disbursement parameters.
type Settings struct {
	DripAmount     *uint256.Int
	ContractID     uint64
	MinScore       float64
	VerifyTimeout  time.Duration
	LedgerTimeout  time.Duration
	ReportTimeout  time.Duration
	ReservationTTL time.Duration
	IndexerGrace   time.Duration
}

// Processor coordinates verification, the rate check, fee seeding, the
// token transfer and usage reporting for each request.
type Processor struct {
	settings     Settings
	inspector    *HistoryInspector
	seeder       *FeeSeeder
	executor     *Executor
	verifier     Verifier
	reporter     Reporter
	reservations ReservationStore
	intents      IntentLog
	metrics      *Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time

	mu        sync.Mutex
	paused    bool
	inFlight  int
	succeeded uint64
	rejected  uint64
	failed    uint64
}

// ProcessorOption customises the processor instance.
type ProcessorOption func(*Processor)

// WithVerifier supplies the captcha verifier.
func WithVerifier(v Verifier) ProcessorOption {
	return func(p *Processor) { p.verifier = v }
}

// WithReporter supplies the usage reporter.
func WithReporter(r Reporter) ProcessorOption {
	return func(p *Processor) { p.reporter = r }
}

// WithReservations overrides the in-process reservation table.
func WithReservations(store ReservationStore) ProcessorOption {
	return func(p *Processor) { p.reservations = store }
}

// WithIntentLog supplies the attempt journal.
func WithIntentLog(log IntentLog) ProcessorOption {
	return func(p *Processor) { p.intents = log }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = logger }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = clock }
}

// NewProcessor constructs a processor around the workflow components.
func NewProcessor(settings Settings, inspector *HistoryInspector, seeder *FeeSeeder, executor *Executor, opts ...ProcessorOption) *Processor {
	if settings.ReservationTTL <= 0 {
		settings.ReservationTTL = 2 * time.Minute
	}
	proc := &Processor{
		settings:  settings,
		inspector: inspector,
		seeder:    seeder,
		executor:  executor,
		metrics:   NewMetrics(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("faucetd"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(proc)
	}
	if proc.reservations == nil {
		proc.reservations = NewMemoryReservations()
	}
	if proc.intents == nil {
		proc.intents = NewMemoryIntentLog()
	}
	if proc.logger == nil {
		proc.logger = slog.Default()
	}
	return proc
}

// Validate checks the request fields without any external call.
func Validate(req DisbursementRequest) error {
	if strings.TrimSpace(req.Token) == "" {
		return newError(KindValidation, MsgTokenMissing, nil)
	}
	if req.Target == "" {
		return newError(KindValidation, MsgAddressMissing, nil)
	}
	if err := crypto.ValidateAddress(req.Target); err != nil {
		return newError(KindValidation, MsgAddressInvalid, err)
	}
	return nil
}

// Disburse runs the full workflow for req. The work is detached from the
// caller's cancellation; every external call carries its own timeout.
func (p *Processor) Disburse(ctx context.Context, req DisbursementRequest) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := p.tracer.Start(ctx, "faucetd.disburse")
	defer span.End()

	start := p.now()
	result, err := p.disburse(ctx, span, req)
	if err != nil {
		kind := KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		p.metrics.RecordError(string(kind))
		p.finish(kind)
		return Result{}, err
	}
	span.SetStatus(codes.Ok, "")
	p.metrics.ObserveLatency(p.now().Sub(start))
	p.finish("")
	return result, nil
}

func (p *Processor) disburse(ctx context.Context, span trace.Span, req DisbursementRequest) (Result, error) {
	if p.Paused() {
		return Result{}, newError(KindUnavailable, MsgPaused, ErrProcessorPaused)
	}
	if err := Validate(req); err != nil {
		return Result{}, err
	}
	target := req.Target
	span.SetAttributes(attribute.String("faucet.target", target))

	if err := p.verify(ctx, req.Token, req.RemoteIP); err != nil {
		return Result{}, err
	}
	span.AddEvent("verified")

	acquired, err := p.reservations.Reserve(ctx, target, p.settings.ReservationTTL)
	if err != nil {
		return Result{}, newError(KindExecution, MsgInternal, fmt.Errorf("reserve target: %w", err))
	}
	if !acquired {
		return Result{}, newError(KindPolicy, MsgRateLimited, errors.New("target reserved by a concurrent request"))
	}
	p.trackInFlight(1)
	defer p.trackInFlight(-1)

	intent, err := p.intents.Begin(target)
	if err != nil {
		p.release(target)
		return Result{}, newError(KindExecution, MsgInternal, fmt.Errorf("journal intent: %w", err))
	}

	result, submitted, err := p.run(ctx, span, intent.ID, target)
	if err != nil && submitted {
		// The group is on the wire and may still land: keep the target
		// reserved and leave the intent open for reconciliation.
		p.retain(ctx, target, max(p.settings.IndexerGrace, p.settings.ReservationTTL))
		p.journal(intent.ID, func(in *Intent) {
			in.State = IntentUnconfirmed
			in.ErrorKind = KindOf(err)
		})
		p.refreshUnresolved()
		p.logger.Error("disbursement unconfirmed",
			slog.String("target", target),
			slog.String("intent", intent.ID),
			slog.Any("error", err))
		return Result{}, err
	}
	if err != nil {
		p.release(target)
		p.journal(intent.ID, func(in *Intent) {
			in.State = IntentFailed
			in.ErrorKind = KindOf(err)
		})
		return Result{}, err
	}
	p.retain(ctx, target, p.settings.IndexerGrace)
	p.journal(intent.ID, func(in *Intent) { in.State = IntentConfirmed })
	p.report(ctx, target)
	p.logger.Info("disbursement confirmed",
		slog.String("target", target),
		slog.String("tx_id", result.TxID),
		slog.Bool("seeded", result.Seeded),
		slog.Bool("fallback", result.Fallback))
	return result, nil
}

// run reports whether the transfer group was broadcast, which holds even
// when it then failed to confirm.
func (p *Processor) run(ctx context.Context, span trace.Span, intentID, target string) (Result, bool, error) {
	recent, err := p.inspector.HasRecentDisbursement(ctx, target)
	if err != nil {
		return Result{}, false, newError(KindExecution, MsgInternal, fmt.Errorf("history check: %w", err))
	}
	if recent {
		return Result{}, false, newError(KindPolicy, MsgRateLimited, nil)
	}
	span.AddEvent("rate_checked")

	seedCtx, cancel := p.ledgerContext(ctx)
	seed, err := p.seeder.EnsureFeeBalance(seedCtx, target)
	cancel()
	if err != nil {
		return Result{}, false, newError(KindExecution, MsgInternal, fmt.Errorf("seed fees: %w", err))
	}
	if seed.Seeded {
		p.metrics.RecordSeed()
		p.journal(intentID, func(in *Intent) {
			in.State = IntentSeeded
			in.SeedTxID = seed.TxID
		})
		span.AddEvent("seeded", trace.WithAttributes(attribute.String("faucet.seed_tx", seed.TxID)))
	}

	execCtx, cancel := p.ledgerContext(ctx)
	defer cancel()
	submitted := false
	exec, err := p.executor.Execute(execCtx, target, p.settings.DripAmount, func(ids []string) {
		submitted = true
		p.journal(intentID, func(in *Intent) {
			in.State = IntentSubmitted
			in.TxIDs = ids
		})
	})
	if err != nil {
		return Result{}, submitted, err
	}
	span.AddEvent("disbursed", trace.WithAttributes(attribute.String("faucet.tx", exec.TxID())))
	return Result{
		TxID:     exec.TxID(),
		TxIDs:    exec.TxIDs,
		SeedTxID: seed.TxID,
		Seeded:   seed.Seeded,
		Fallback: exec.Fallback,
	}, true, nil
}

func (p *Processor) verify(ctx context.Context, token, remoteIP string) error {
	if p.verifier == nil {
		return newError(KindExecution, MsgInternal, captcha.ErrNotConfigured)
	}
	if p.settings.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.settings.VerifyTimeout)
		defer cancel()
	}
	verdict, err := p.verifier.Verify(ctx, token, remoteIP)
	if err != nil {
		return newError(KindExecution, MsgInternal, fmt.Errorf("verify captcha: %w", err))
	}
	if !verdict.Passes(p.settings.MinScore) {
		return newError(KindVerification, MsgVerificationFailed,
			fmt.Errorf("success=%t score=%.2f", verdict.Success, verdict.Score))
	}
	return nil
}

func (p *Processor) report(ctx context.Context, target string) {
	if p.reporter == nil {
		return
	}
	if p.settings.ReportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.settings.ReportTimeout)
		defer cancel()
	}
	err := p.reporter.SubmitAction(ctx, quest.ActionFaucetDrip, target, map[string]any{
		"contractId": p.settings.ContractID,
	})
	if err != nil {
		p.metrics.RecordReportFailure()
		p.logger.Warn("usage report failed", slog.String("target", target), slog.Any("error", err))
	}
}

func (p *Processor) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.settings.LedgerTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.settings.LedgerTimeout)
}

func (p *Processor) retain(ctx context.Context, target string, ttl time.Duration) {
	if err := p.reservations.Retain(ctx, target, ttl); err != nil {
		p.logger.Warn("retain reservation", slog.String("target", target), slog.Any("error", err))
	}
}

func (p *Processor) release(target string) {
	if err := p.reservations.Release(context.Background(), target); err != nil {
		p.logger.Warn("release reservation", slog.String("target", target), slog.Any("error", err))
	}
}

func (p *Processor) journal(id string, fn func(*Intent)) {
	if _, err := p.intents.Update(id, fn); err != nil {
		p.logger.Error("journal intent", slog.String("intent", id), slog.Any("error", err))
	}
}

func (p *Processor) trackInFlight(delta int) {
	p.mu.Lock()
	p.inFlight += delta
	p.mu.Unlock()
	p.metrics.AddInFlight(float64(delta))
}

func (p *Processor) finish(kind Kind) {
	outcome := "success"
	p.mu.Lock()
	switch kind {
	case "":
		p.succeeded++
	case KindValidation, KindPolicy, KindVerification, KindUnavailable:
		outcome = "rejected"
		p.rejected++
	default:
		outcome = "failed"
		p.failed++
	}
	p.mu.Unlock()
	p.metrics.RecordOutcome(outcome)
}

// Pause halts new disbursements.
func (p *Processor) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.metrics.SetPause(true)
}

// Resume re-enables disbursements.
func (p *Processor) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.metrics.SetPause(false)
}

// Paused reports whether the pause guard is engaged.
func (p *Processor) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Status summarises processor state for administrative endpoints.
type Status struct {
	Paused     bool   `json:"paused"`
	InFlight   int    `json:"in_flight"`
	Succeeded  uint64 `json:"succeeded"`
	Rejected   uint64 `json:"rejected"`
	Failed     uint64 `json:"failed"`
	Custodian  string `json:"custodian"`
	Unresolved int    `json:"unresolved_intents"`
}

// Status reports the current processor status snapshot.
func (p *Processor) Status() Status {
	unresolved, err := p.intents.Unresolved()
	if err != nil {
		p.logger.Warn("list unresolved intents", slog.Any("error", err))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Paused:     p.paused,
		InFlight:   p.inFlight,
		Succeeded:  p.succeeded,
		Rejected:   p.rejected,
		Failed:     p.failed,
		Custodian:  p.executor.custodian.Address(),
		Unresolved: len(unresolved),
	}
}

// Intents lists every journalled attempt.
func (p *Processor) Intents() ([]Intent, error) {
	return p.intents.List()
}

// ResolveIntent marks an unresolved intent as reconciled by an operator.
func (p *Processor) ResolveIntent(id string) (Intent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Intent{}, fmt.Errorf("intent id required")
	}
	var final bool
	intent, err := p.intents.Update(id, func(in *Intent) {
		if !in.State.Unresolved() {
			final = true
			return
		}
		in.State = IntentResolved
	})
	if err != nil {
		return Intent{}, err
	}
	if final {
		return intent, fmt.Errorf("intent %s already %s", id, intent.State)
	}
	p.refreshUnresolved()
	return intent, nil
}

// RecoverIntents logs every attempt left unresolved by a previous run.
func (p *Processor) RecoverIntents() ([]Intent, error) {
	unresolved, err := p.intents.Unresolved()
	if err != nil {
		return nil, err
	}
	for _, in := range unresolved {
		p.logger.Warn("unresolved disbursement intent",
			slog.String("intent", in.ID),
			slog.String("target", in.Target),
			slog.String("state", string(in.State)),
			slog.String("seed_tx", in.SeedTxID),
			slog.Any("tx_ids", in.TxIDs))
	}
	p.metrics.SetUnresolvedIntents(len(unresolved))
	return unresolved, nil
}

func (p *Processor) refreshUnresolved() {
	unresolved, err := p.intents.Unresolved()
	if err != nil {
		return
	}
	p.metrics.SetUnresolvedIntents(len(unresolved))
}
