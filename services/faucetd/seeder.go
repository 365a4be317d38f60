package faucetd

import (
	"context"
	"fmt"

	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/transaction"

	"viafaucet/crypto"
	"viafaucet/services/faucetd/ledger"
)

// SeedResult describes what EnsureFeeBalance did.
type SeedResult struct {
	Seeded bool
	TxID   string
}

// FeeSeeder pays a fixed amount of native currency to targets holding none
// so they can afford fees. The payment is broadcast but not awaited.
type FeeSeeder struct {
	node      ledger.Node
	custodian *crypto.Custodian
	amount    uint64
}

func NewFeeSeeder(node ledger.Node, custodian *crypto.Custodian, amount uint64) *FeeSeeder {
	return &FeeSeeder{node: node, custodian: custodian, amount: amount}
}

func (s *FeeSeeder) EnsureFeeBalance(ctx context.Context, target string) (SeedResult, error) {
	balance, err := s.node.Balance(ctx, target)
	if err != nil {
		return SeedResult{}, fmt.Errorf("target balance: %w", err)
	}
	if balance > 0 || s.amount == 0 {
		return SeedResult{}, nil
	}
	sp, err := s.node.SuggestedParams(ctx)
	if err != nil {
		return SeedResult{}, fmt.Errorf("suggested params: %w", err)
	}
	txn, err := transaction.MakePaymentTxn(s.custodian.Address(), target, s.amount, nil, "", sp)
	if err != nil {
		return SeedResult{}, fmt.Errorf("build seed payment: %w", err)
	}
	txID, signed, err := algocrypto.SignTransaction(s.custodian.SecretKey(), txn)
	if err != nil {
		return SeedResult{}, fmt.Errorf("sign seed payment: %w", err)
	}
	if err := s.node.SendRawTransactions(ctx, [][]byte{signed}); err != nil {
		return SeedResult{}, fmt.Errorf("send seed payment: %w", err)
	}
	return SeedResult{Seeded: true, TxID: txID}, nil
}
