package ledger

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/abi"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/indexer"
	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/holiman/uint256"
)

const (
	TransferMethodSignature = "arc200_transfer(address,uint256)bool"
	TransferEventSignature  = "arc200_Transfer(address,address,uint256)"

	transferLogLength = 4 + 32 + 32 + 32
	minFee            = 1000
	indexerPageSize   = 1000
)

// abiReturnPrefix tags the log line carrying an ABI method return value.
var abiReturnPrefix = []byte{0x15, 0x1f, 0x7c, 0x75}

var (
	transferSelector      = mustMethodSelector(TransferMethodSignature)
	transferEventSelector = EventSelector(TransferEventSignature)
)

func mustMethodSelector(signature string) []byte {
	method, err := abi.MethodFromSignature(signature)
	if err != nil {
		panic(fmt.Sprintf("ledger: parse %s: %v", signature, err))
	}
	return method.GetSelector()
}

// EventSelector returns the 4 byte ARC-28 selector for an event signature.
func EventSelector(signature string) []byte {
	sum := sha512.Sum512_256([]byte(signature))
	return sum[:4]
}

// TransferSelector returns the method selector of arc200_transfer.
func TransferSelector() []byte {
	return append([]byte(nil), transferSelector...)
}

// EncodeTransferLog produces the log line a contract emits for a transfer.
func EncodeTransferLog(from, to types.Address, amount *uint256.Int) []byte {
	out := make([]byte, 0, transferLogLength)
	out = append(out, transferEventSelector...)
	out = append(out, from[:]...)
	out = append(out, to[:]...)
	word := amount.Bytes32()
	return append(out, word[:]...)
}

// DecodeTransferLog parses an arc200_Transfer log line. ok is false for any
// other log.
func DecodeTransferLog(log []byte) (from, to string, amount *uint256.Int, ok bool) {
	if len(log) != transferLogLength || !bytes.Equal(log[:4], transferEventSelector) {
		return "", "", nil, false
	}
	var fromAddr, toAddr types.Address
	copy(fromAddr[:], log[4:36])
	copy(toAddr[:], log[36:68])
	return fromAddr.String(), toAddr.String(), new(uint256.Int).SetBytes(log[68:100]), true
}

// TransferCallArgs returns the application arguments of arc200_transfer.
func TransferCallArgs(to types.Address, amount *uint256.Int) [][]byte {
	word := amount.Bytes32()
	return [][]byte{TransferSelector(), append([]byte(nil), to[:]...), word[:]}
}

// DecodeTransferCall extracts the recipient and amount from arc200_transfer
// application arguments.
func DecodeTransferCall(args [][]byte) (types.Address, *uint256.Int, bool) {
	var to types.Address
	if len(args) != 3 || !bytes.Equal(args[0], transferSelector) || len(args[1]) != 32 || len(args[2]) != 32 {
		return to, nil, false
	}
	copy(to[:], args[1])
	return to, new(uint256.Int).SetBytes(args[2]), true
}

// Resources lists the references a transfer call needs beyond its arguments.
type Resources struct {
	Accounts []string
	Boxes    []types.AppBoxReference
}

// BuildTransferGroup assembles the optional funding payment followed by the
// arc200_transfer application call, grouped when there is more than one.
func BuildTransferGroup(sp types.SuggestedParams, appID uint64, params TransferParams, res Resources) ([]types.Transaction, error) {
	if params.Amount == nil {
		return nil, fmt.Errorf("transfer amount required")
	}
	sender, err := types.DecodeAddress(params.Sender)
	if err != nil {
		return nil, fmt.Errorf("decode sender: %w", err)
	}
	to, err := types.DecodeAddress(params.To)
	if err != nil {
		return nil, fmt.Errorf("decode recipient: %w", err)
	}
	sp.FlatFee = true
	sp.Fee = types.MicroAlgos(minFee)
	if sp.MinFee > minFee {
		sp.Fee = types.MicroAlgos(sp.MinFee)
	}

	var group []types.Transaction
	if params.PaymentAmount > 0 {
		appAddr := algocrypto.GetApplicationAddress(appID)
		pay, err := transaction.MakePaymentTxn(params.Sender, appAddr.String(), params.PaymentAmount, nil, "", sp)
		if err != nil {
			return nil, fmt.Errorf("build payment: %w", err)
		}
		group = append(group, pay)
	}
	call, err := transaction.MakeApplicationNoOpTxWithBoxes(
		appID,
		TransferCallArgs(to, params.Amount),
		res.Accounts,
		nil,
		nil,
		res.Boxes,
		sp,
		sender,
		nil,
		types.Digest{},
		[32]byte{},
		types.Address{},
	)
	if err != nil {
		return nil, fmt.Errorf("build transfer call: %w", err)
	}
	group = append(group, call)
	if len(group) > 1 {
		gid, err := algocrypto.ComputeGroupID(group)
		if err != nil {
			return nil, fmt.Errorf("compute group id: %w", err)
		}
		for i := range group {
			group[i].Group = gid
		}
	}
	return group, nil
}

// EncodeGroup encodes transactions as base64 msgpack.
func EncodeGroup(group []types.Transaction) []string {
	out := make([]string, len(group))
	for i, tx := range group {
		out[i] = base64.StdEncoding.EncodeToString(msgpack.Encode(tx))
	}
	return out
}

// DecodeGroup reverses EncodeGroup.
func DecodeGroup(encoded []string) ([]types.Transaction, error) {
	out := make([]types.Transaction, len(encoded))
	for i, item := range encoded {
		raw, err := base64.StdEncoding.DecodeString(item)
		if err != nil {
			return nil, fmt.Errorf("decode txn %d: %w", i, err)
		}
		if err := msgpack.Decode(raw, &out[i]); err != nil {
			return nil, fmt.Errorf("unmarshal txn %d: %w", i, err)
		}
	}
	return out, nil
}

// ReturnValue reports the boolean ABI return logged by an application call.
func ReturnValue(logs [][]byte) (value bool, found bool) {
	for i := len(logs) - 1; i >= 0; i-- {
		entry := logs[i]
		if len(entry) == len(abiReturnPrefix)+1 && bytes.Equal(entry[:4], abiReturnPrefix) {
			return entry[4]&0x80 != 0, true
		}
	}
	return false, false
}

// ARC200 implements Contract for an ARC-200 token application.
type ARC200 struct {
	appID   uint64
	algod   *algod.Client
	indexer *indexer.Client
}

// NewARC200 binds the contract to the supplied clients.
func NewARC200(appID uint64, node *AlgodNode, idx *indexer.Client) *ARC200 {
	return &ARC200{appID: appID, algod: node.Client(), indexer: idx}
}

// NewIndexer prepares an indexer client for server[:port].
func NewIndexer(server, port, token string) (*indexer.Client, error) {
	endpoint, err := Endpoint(server, port)
	if err != nil {
		return nil, fmt.Errorf("indexer endpoint: %w", err)
	}
	client, err := indexer.MakeClient(endpoint, token)
	if err != nil {
		return nil, fmt.Errorf("indexer client: %w", err)
	}
	return client, nil
}

// AppID returns the token application id.
func (c *ARC200) AppID() uint64 {
	return c.appID
}

func (c *ARC200) QueryTransferEvents(ctx context.Context, filter EventFilter) ([]TransferEvent, error) {
	var (
		events []TransferEvent
		next   string
	)
	for {
		query := c.indexer.SearchForTransactions().
			ApplicationId(c.appID).
			MinRound(filter.MinRound).
			Limit(indexerPageSize)
		if filter.Sender != "" {
			query = query.AddressString(filter.Sender).AddressRole("sender")
		}
		if next != "" {
			query = query.NextToken(next)
		}
		resp, err := query.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("search transactions: %w", err)
		}
		for _, tx := range resp.Transactions {
			events = append(events, eventsFromLogs(tx)...)
		}
		if resp.NextToken == "" || len(resp.Transactions) == 0 {
			return events, nil
		}
		next = resp.NextToken
	}
}

func eventsFromLogs(tx models.Transaction) []TransferEvent {
	var out []TransferEvent
	for _, entry := range tx.Logs {
		from, to, amount, ok := DecodeTransferLog(entry)
		if !ok {
			continue
		}
		out = append(out, TransferEvent{
			TxID:      tx.Id,
			Round:     tx.ConfirmedRound,
			Timestamp: time.Unix(int64(tx.RoundTime), 0).UTC(),
			From:      from,
			To:        to,
			Amount:    amount,
		})
	}
	return out
}

func (c *ARC200) BuildTransferCall(ctx context.Context, params TransferParams) ([]string, error) {
	sp, err := c.algod.SuggestedParams().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggested params: %w", err)
	}
	draft, err := BuildTransferGroup(sp, c.appID, params, Resources{})
	if err != nil {
		return nil, err
	}
	resp, err := c.simulate(ctx, draft, true)
	if err != nil {
		return nil, err
	}
	group, err := BuildTransferGroup(sp, c.appID, params, discoveredResources(resp))
	if err != nil {
		return nil, err
	}
	return EncodeGroup(group), nil
}

func (c *ARC200) Simulate(ctx context.Context, txns []string) (Simulation, error) {
	group, err := DecodeGroup(txns)
	if err != nil {
		return Simulation{}, err
	}
	resp, err := c.simulate(ctx, group, false)
	if err != nil {
		return Simulation{}, err
	}
	return evaluateSimulation(resp), nil
}

func (c *ARC200) simulate(ctx context.Context, group []types.Transaction, discover bool) (models.SimulateResponse, error) {
	signed := make([]types.SignedTxn, len(group))
	for i, tx := range group {
		signed[i] = types.SignedTxn{Txn: tx}
	}
	req := models.SimulateRequest{
		TxnGroups:             []models.SimulateRequestTransactionGroup{{Txns: signed}},
		AllowEmptySignatures:  true,
		AllowUnnamedResources: discover,
	}
	resp, err := c.algod.SimulateTransaction(req).Do(ctx)
	if err != nil {
		return models.SimulateResponse{}, fmt.Errorf("simulate: %w", err)
	}
	return resp, nil
}

func evaluateSimulation(resp models.SimulateResponse) Simulation {
	if len(resp.TxnGroups) == 0 {
		return Simulation{FailureMessage: "empty simulation response"}
	}
	result := resp.TxnGroups[0]
	if result.FailureMessage != "" {
		return Simulation{FailureMessage: result.FailureMessage}
	}
	if len(result.TxnResults) == 0 {
		return Simulation{FailureMessage: "no transaction results"}
	}
	last := result.TxnResults[len(result.TxnResults)-1]
	value, found := ReturnValue(last.TxnResult.Logs)
	switch {
	case !found:
		return Simulation{FailureMessage: "transfer returned no value"}
	case !value:
		return Simulation{FailureMessage: "transfer returned false"}
	}
	return Simulation{Success: true}
}

func discoveredResources(resp models.SimulateResponse) Resources {
	var res Resources
	if len(resp.TxnGroups) == 0 {
		return res
	}
	seenBox := map[string]bool{}
	seenAccount := map[string]bool{}
	collect := func(accessed models.SimulateUnnamedResourcesAccessed) {
		for _, box := range accessed.Boxes {
			key := fmt.Sprintf("%d/%x", box.App, box.Name)
			if seenBox[key] {
				continue
			}
			seenBox[key] = true
			res.Boxes = append(res.Boxes, types.AppBoxReference{AppID: box.App, Name: box.Name})
		}
		for _, account := range accessed.Accounts {
			if seenAccount[account] {
				continue
			}
			seenAccount[account] = true
			res.Accounts = append(res.Accounts, account)
		}
	}
	group := resp.TxnGroups[0]
	collect(group.UnnamedResourcesAccessed)
	for _, txn := range group.TxnResults {
		collect(txn.UnnamedResourcesAccessed)
	}
	return res
}
