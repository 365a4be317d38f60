package faucetd

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"golang.org/x/sync/errgroup"

	"viafaucet/services/faucetd/ledger"
)

// Tracker signs an unsigned group, broadcasts it in one submission and waits
// for every transaction to be confirmed.
type Tracker struct {
	node   ledger.Node
	rounds uint64
}

func NewTracker(node ledger.Node, rounds uint64) *Tracker {
	if rounds == 0 {
		rounds = 4
	}
	return &Tracker{node: node, rounds: rounds}
}

// SignAndSend decodes, signs and broadcasts txns. Transaction ids are
// returned in submission order.
func (t *Tracker) SignAndSend(ctx context.Context, txns []string, sk ed25519.PrivateKey) ([]string, error) {
	if len(txns) == 0 {
		return nil, newError(KindExecution, MsgInternal, fmt.Errorf("empty transaction group"))
	}
	ids := make([]string, len(txns))
	blobs := make([][]byte, len(txns))
	for i, encoded := range txns {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, newError(KindExecution, MsgInternal, fmt.Errorf("decode txn %d: %w", i, err))
		}
		var txn types.Transaction
		if err := msgpack.Decode(raw, &txn); err != nil {
			return nil, newError(KindExecution, MsgInternal, fmt.Errorf("unmarshal txn %d: %w", i, err))
		}
		id, signed, err := algocrypto.SignTransaction(sk, txn)
		if err != nil {
			return nil, newError(KindExecution, MsgInternal, fmt.Errorf("sign txn %d: %w", i, err))
		}
		ids[i] = id
		blobs[i] = signed
	}
	if err := t.node.SendRawTransactions(ctx, blobs); err != nil {
		return nil, newError(KindExecution, MsgInternal, err)
	}
	return ids, nil
}

// Confirm waits in parallel for every id. Any wait failure fails the call.
func (t *Tracker) Confirm(ctx context.Context, txIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range txIDs {
		id := id
		g.Go(func() error {
			return t.node.WaitForConfirmation(gctx, id, t.rounds)
		})
	}
	if err := g.Wait(); err != nil {
		return newError(KindConfirmationTimeout, MsgInternal, err)
	}
	return nil
}

// SignSendAndConfirm combines SignAndSend and Confirm.
func (t *Tracker) SignSendAndConfirm(ctx context.Context, txns []string, sk ed25519.PrivateKey) ([]string, error) {
	ids, err := t.SignAndSend(ctx, txns, sk)
	if err != nil {
		return nil, err
	}
	if err := t.Confirm(ctx, ids); err != nil {
		return ids, err
	}
	return ids, nil
}
