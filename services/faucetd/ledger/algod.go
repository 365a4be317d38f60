package ledger

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// AlgodNode implements Node against an algod REST endpoint.
type AlgodNode struct {
	client *algod.Client
}

// NewAlgodNode dials nothing; it prepares a client for server[:port].
func NewAlgodNode(server, port, token string) (*AlgodNode, error) {
	endpoint, err := Endpoint(server, port)
	if err != nil {
		return nil, fmt.Errorf("algod endpoint: %w", err)
	}
	client, err := algod.MakeClient(endpoint, token)
	if err != nil {
		return nil, fmt.Errorf("algod client: %w", err)
	}
	return &AlgodNode{client: client}, nil
}

// Client returns the underlying algod client.
func (n *AlgodNode) Client() *algod.Client {
	return n.client
}

func (n *AlgodNode) LastRound(ctx context.Context) (uint64, error) {
	status, err := n.client.Status().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("algod status: %w", err)
	}
	return status.LastRound, nil
}

func (n *AlgodNode) Balance(ctx context.Context, address string) (uint64, error) {
	info, err := n.client.AccountInformation(address).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("account information %s: %w", address, err)
	}
	return info.Amount, nil
}

func (n *AlgodNode) SuggestedParams(ctx context.Context) (types.SuggestedParams, error) {
	sp, err := n.client.SuggestedParams().Do(ctx)
	if err != nil {
		return types.SuggestedParams{}, fmt.Errorf("suggested params: %w", err)
	}
	return sp, nil
}

func (n *AlgodNode) SendRawTransactions(ctx context.Context, signed [][]byte) error {
	if len(signed) == 0 {
		return fmt.Errorf("no transactions to send")
	}
	if _, err := n.client.SendRawTransaction(bytes.Join(signed, nil)).Do(ctx); err != nil {
		return fmt.Errorf("send raw transaction: %w", err)
	}
	return nil
}

func (n *AlgodNode) WaitForConfirmation(ctx context.Context, txID string, rounds uint64) error {
	if _, err := transaction.WaitForConfirmation(n.client, txID, rounds, ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotConfirmed, txID, err)
	}
	return nil
}

// Endpoint joins a server URL and an optional port. A port already present
// in the server URL is replaced.
func Endpoint(server, port string) (string, error) {
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if server == "" {
		return "", fmt.Errorf("server address required")
	}
	port = strings.TrimSpace(port)
	if port == "" {
		return server, nil
	}
	parsed, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", server, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("server %q must include scheme and host", server)
	}
	parsed.Host = net.JoinHostPort(parsed.Hostname(), port)
	return parsed.String(), nil
}
