// Package ledger abstracts the ledger node and the ARC-200 token contract the
// faucet disburses from.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
)

// ErrNotConfirmed is returned when a transaction is not observed within the
// allowed number of rounds.
var ErrNotConfirmed = errors.New("ledger: transaction not confirmed")

// Node exposes the ledger node operations used by the faucet.
type Node interface {
	LastRound(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, address string) (uint64, error)
	SuggestedParams(ctx context.Context) (types.SuggestedParams, error)
	// SendRawTransactions broadcasts the signed transactions as one submission.
	SendRawTransactions(ctx context.Context, signed [][]byte) error
	WaitForConfirmation(ctx context.Context, txID string, rounds uint64) error
}

// Contract exposes the token contract operations used by the faucet.
type Contract interface {
	QueryTransferEvents(ctx context.Context, filter EventFilter) ([]TransferEvent, error)
	// BuildTransferCall returns the unsigned transaction group as base64
	// encoded msgpack. The token transfer is always the last entry.
	BuildTransferCall(ctx context.Context, params TransferParams) ([]string, error)
	Simulate(ctx context.Context, txns []string) (Simulation, error)
}

// TransferEvent is a decoded arc200_Transfer log.
type TransferEvent struct {
	TxID      string
	Round     uint64
	Timestamp time.Time
	From      string
	To        string
	Amount    *uint256.Int
}

// EventFilter narrows a transfer event query.
type EventFilter struct {
	Sender   string
	MinRound uint64
}

// TransferParams describes a token transfer call.
type TransferParams struct {
	Sender string
	To     string
	Amount *uint256.Int
	// PaymentAmount funds the application account ahead of the call, in
	// microunits. Zero omits the payment.
	PaymentAmount uint64
}

// Simulation reports the outcome of a dry-run of a transaction group.
type Simulation struct {
	Success        bool
	FailureMessage string
}
