package faucetd

import (
	"context"
	"fmt"
	"time"

	"viafaucet/services/faucetd/ledger"
)

// HistoryInspector decides whether the custodian already paid a target
// within the trailing window of rounds.
type HistoryInspector struct {
	node         ledger.Node
	contract     ledger.Contract
	custodian    string
	windowRounds uint64
	timeout      time.Duration
}

// NewHistoryInspector constructs an inspector. A zero timeout disables the
// per-query deadline.
func NewHistoryInspector(node ledger.Node, contract ledger.Contract, custodian string, windowRounds uint64, timeout time.Duration) *HistoryInspector {
	return &HistoryInspector{
		node:         node,
		contract:     contract,
		custodian:    custodian,
		windowRounds: windowRounds,
		timeout:      timeout,
	}
}

// MinRound returns lastRound - windowRounds, clamped at zero.
func MinRound(lastRound, windowRounds uint64) uint64 {
	if windowRounds >= lastRound {
		return 0
	}
	return lastRound - windowRounds
}

// HasRecentDisbursement reports whether a transfer event from the custodian
// to target exists at or after the window start.
func (h *HistoryInspector) HasRecentDisbursement(ctx context.Context, target string) (bool, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	lastRound, err := h.node.LastRound(ctx)
	if err != nil {
		return false, fmt.Errorf("last round: %w", err)
	}
	events, err := h.contract.QueryTransferEvents(ctx, ledger.EventFilter{
		Sender:   h.custodian,
		MinRound: MinRound(lastRound, h.windowRounds),
	})
	if err != nil {
		return false, fmt.Errorf("query transfer events: %w", err)
	}
	for _, ev := range events {
		if ev.To == target {
			return true, nil
		}
	}
	return false, nil
}
