// Package ledgertest provides an in-memory ledger for faucet tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"viafaucet/services/faucetd/ledger"
)

// DefaultAppID is the token application the fake serves unless overridden.
const DefaultAppID = 6779767

// Fake implements ledger.Node and ledger.Contract. Broadcast transactions are
// applied immediately: payments credit balances and transfer calls against
// the token application are recorded as transfer events.
type Fake struct {
	AppID uint64

	// Injected failures.
	LastRoundErr error
	BalanceErr   error
	QueryErr     error
	BuildErr     error
	SendErr      error
	ConfirmErr   error
	ParamsErr    error

	// IndexerLag hides events from QueryTransferEvents until the ledger is
	// this many rounds past them.
	IndexerLag uint64

	mu          sync.Mutex
	round       uint64
	now         func() time.Time
	balances    map[string]uint64
	events      []ledger.TransferEvent
	broadcasts  [][]string
	confirmed   map[string]bool
	simulations []ledger.Simulation
	simulated   int
	builds      []ledger.TransferParams
}

// NewFake returns a fake at round 1000.
func NewFake() *Fake {
	return &Fake{
		AppID:     DefaultAppID,
		round:     1000,
		now:       time.Now,
		balances:  make(map[string]uint64),
		confirmed: make(map[string]bool),
	}
}

// SetBalance sets the native balance of an address.
func (f *Fake) SetBalance(address string, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = amount
}

// AdvanceRounds moves the ledger height forward.
func (f *Fake) AdvanceRounds(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round += n
}

// ScriptSimulations queues simulation outcomes; once drained every
// simulation succeeds.
func (f *Fake) ScriptSimulations(results ...ledger.Simulation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulations = append(f.simulations, results...)
}

// AddEvent records a transfer event directly.
func (f *Fake) AddEvent(ev ledger.TransferEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

// Broadcasts returns the transaction ids of every submission in order.
func (f *Fake) Broadcasts() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.broadcasts))
	for i, ids := range f.broadcasts {
		out[i] = append([]string(nil), ids...)
	}
	return out
}

// Events returns every recorded transfer event.
func (f *Fake) Events() []ledger.TransferEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.TransferEvent(nil), f.events...)
}

// SimulateCalls reports how many simulations ran.
func (f *Fake) SimulateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.simulated
}

// Builds returns the parameters of every BuildTransferCall.
func (f *Fake) Builds() []ledger.TransferParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.TransferParams(nil), f.builds...)
}

func (f *Fake) LastRound(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LastRoundErr != nil {
		return 0, f.LastRoundErr
	}
	return f.round, nil
}

func (f *Fake) Balance(_ context.Context, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return 0, f.BalanceErr
	}
	return f.balances[address], nil
}

func (f *Fake) SuggestedParams(context.Context) (types.SuggestedParams, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ParamsErr != nil {
		return types.SuggestedParams{}, f.ParamsErr
	}
	return f.paramsLocked(), nil
}

func (f *Fake) paramsLocked() types.SuggestedParams {
	genesis := make([]byte, 32)
	copy(genesis, "faucet-fake-genesis")
	return types.SuggestedParams{
		GenesisID:       "fake-v1",
		GenesisHash:     genesis,
		FirstRoundValid: types.Round(f.round),
		LastRoundValid:  types.Round(f.round + 1000),
		MinFee:          1000,
	}
}

func (f *Fake) SendRawTransactions(_ context.Context, signed [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	decoded := make([]types.SignedTxn, len(signed))
	for i, raw := range signed {
		if err := msgpack.Decode(raw, &decoded[i]); err != nil {
			return fmt.Errorf("decode signed txn %d: %w", i, err)
		}
	}
	f.round++
	ids := make([]string, 0, len(decoded))
	for _, stx := range decoded {
		txID := algocrypto.GetTxID(stx.Txn)
		ids = append(ids, txID)
		f.confirmed[txID] = true
		f.applyLocked(txID, stx.Txn)
	}
	f.broadcasts = append(f.broadcasts, ids)
	return nil
}

func (f *Fake) applyLocked(txID string, tx types.Transaction) {
	switch tx.Type {
	case types.PaymentTx:
		f.balances[tx.Receiver.String()] += uint64(tx.Amount)
	case types.ApplicationCallTx:
		if uint64(tx.ApplicationID) != f.AppID {
			return
		}
		to, amount, ok := ledger.DecodeTransferCall(tx.ApplicationArgs)
		if !ok {
			return
		}
		f.events = append(f.events, ledger.TransferEvent{
			TxID:      txID,
			Round:     f.round,
			Timestamp: f.now().UTC(),
			From:      tx.Sender.String(),
			To:        to.String(),
			Amount:    amount,
		})
	}
}

func (f *Fake) WaitForConfirmation(_ context.Context, txID string, rounds uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfirmErr != nil {
		return fmt.Errorf("%w: %s: %v", ledger.ErrNotConfirmed, txID, f.ConfirmErr)
	}
	if !f.confirmed[txID] {
		return fmt.Errorf("%w: %s not seen in %d rounds", ledger.ErrNotConfirmed, txID, rounds)
	}
	return nil
}

func (f *Fake) QueryTransferEvents(_ context.Context, filter ledger.EventFilter) ([]ledger.TransferEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	var out []ledger.TransferEvent
	for _, ev := range f.events {
		if ev.Round < filter.MinRound || ev.Round+f.IndexerLag > f.round {
			continue
		}
		if filter.Sender != "" && ev.From != filter.Sender {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (f *Fake) BuildTransferCall(_ context.Context, params ledger.TransferParams) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BuildErr != nil {
		return nil, f.BuildErr
	}
	f.builds = append(f.builds, params)
	group, err := ledger.BuildTransferGroup(f.paramsLocked(), f.AppID, params, ledger.Resources{})
	if err != nil {
		return nil, err
	}
	return ledger.EncodeGroup(group), nil
}

func (f *Fake) Simulate(_ context.Context, txns []string) (ledger.Simulation, error) {
	if _, err := ledger.DecodeGroup(txns); err != nil {
		return ledger.Simulation{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated++
	if len(f.simulations) == 0 {
		return ledger.Simulation{Success: true}, nil
	}
	next := f.simulations[0]
	f.simulations = f.simulations[1:]
	return next, nil
}

var (
	_ ledger.Node     = (*Fake)(nil)
	_ ledger.Contract = (*Fake)(nil)
)
