package faucetd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"viafaucet/crypto"
	"viafaucet/services/faucetd/ledger"
)

// Execution is the outcome of a token transfer.
type Execution struct {
	TxIDs    []string
	Fallback bool
}

// TxID returns the id of the transfer call, the last transaction in the group.
func (e Execution) TxID() string {
	if len(e.TxIDs) == 0 {
		return ""
	}
	return e.TxIDs[len(e.TxIDs)-1]
}

// Executor simulates the transfer call and, when the default attempt fails,
// rebuilds it once with the fallback payment before handing it to the
// tracker.
type Executor struct {
	contract        ledger.Contract
	tracker         *Tracker
	custodian       *crypto.Custodian
	defaultPayment  uint64
	fallbackPayment uint64
	metrics         *Metrics
	logger          *slog.Logger
}

func NewExecutor(contract ledger.Contract, tracker *Tracker, custodian *crypto.Custodian, defaultPayment, fallbackPayment uint64, metrics *Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		contract:        contract,
		tracker:         tracker,
		custodian:       custodian,
		defaultPayment:  defaultPayment,
		fallbackPayment: fallbackPayment,
		metrics:         metrics,
		logger:          logger,
	}
}

// Execute transfers amount to target. onSubmit, when set, is called with the
// transaction ids after broadcast and before confirmation.
func (e *Executor) Execute(ctx context.Context, target string, amount *uint256.Int, onSubmit func([]string)) (Execution, error) {
	params := ledger.TransferParams{
		Sender:        e.custodian.Address(),
		To:            target,
		Amount:        amount,
		PaymentAmount: e.defaultPayment,
	}
	txns, ok, err := e.attempt(ctx, params)
	if err != nil {
		return Execution{}, err
	}
	fallback := false
	if !ok {
		fallback = true
		e.metrics.RecordFallback()
		params.PaymentAmount = e.fallbackPayment
		txns, ok, err = e.attempt(ctx, params)
		if err != nil {
			return Execution{}, err
		}
		if !ok {
			return Execution{}, newError(KindSimulation, MsgInternal, fmt.Errorf("simulation failed with payment %d", params.PaymentAmount))
		}
	}
	ids, err := e.tracker.SignAndSend(ctx, txns, e.custodian.SecretKey())
	if err != nil {
		return Execution{}, err
	}
	if onSubmit != nil {
		onSubmit(ids)
	}
	if err := e.tracker.Confirm(ctx, ids); err != nil {
		return Execution{TxIDs: ids, Fallback: fallback}, err
	}
	return Execution{TxIDs: ids, Fallback: fallback}, nil
}

func (e *Executor) attempt(ctx context.Context, params ledger.TransferParams) ([]string, bool, error) {
	txns, err := e.contract.BuildTransferCall(ctx, params)
	if err != nil {
		return nil, false, newError(KindExecution, MsgInternal, fmt.Errorf("build transfer: %w", err))
	}
	sim, err := e.contract.Simulate(ctx, txns)
	if err != nil {
		return nil, false, newError(KindExecution, MsgInternal, fmt.Errorf("simulate transfer: %w", err))
	}
	if !sim.Success {
		e.logger.Warn("transfer simulation failed",
			slog.String("target", params.To),
			slog.Uint64("payment", params.PaymentAmount),
			slog.String("reason", sim.FailureMessage))
		return nil, false, nil
	}
	return txns, true, nil
}
