package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	apperr "github.com/swissgrant/platform/internal/errors"
	"github.com/swissgrant/platform/internal/grant"
)

// Client is a minimal Ethereum JSON-RPC client covering the operations the
// payment observer needs.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	nextID     uint64
}

// NewClient creates a client for the given RPC endpoint.
func NewClient(rpcURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		rpcURL:     rpcURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// call performs one JSON-RPC request and returns the result field.
func (c *Client) call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      atomic.AddUint64(&c.nextID, 1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return gjson.Result{}, apperr.Chain("marshal rpc request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, apperr.Chain("create rpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, apperr.Chain(method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, apperr.Chain("read rpc response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, apperr.Chain(method, fmt.Errorf("status %d", resp.StatusCode))
	}

	if rpcErr := gjson.GetBytes(body, "error"); rpcErr.Exists() {
		return gjson.Result{}, apperr.Chain(method,
			fmt.Errorf("rpc error %d: %s", rpcErr.Get("code").Int(), rpcErr.Get("message").String()))
	}
	return gjson.GetBytes(body, "result"), nil
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	res, err := c.call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	n, err := parseHexUint(res.String())
	if err != nil {
		return 0, apperr.Chain("parse block number", err)
	}
	return n, nil
}

// TokenBalance reads balanceOf(holder) on the token contract.
func (c *Client) TokenBalance(ctx context.Context, token, holder string) (grant.Amount, error) {
	if !ValidAddress(token) || !ValidAddress(holder) {
		return 0, apperr.Validation("token and holder must be hex addresses")
	}

	data := balanceOfSelector + addressTopic(holder)[2:]
	res, err := c.call(ctx, "eth_call",
		map[string]string{"to": token, "data": data}, "latest")
	if err != nil {
		return 0, err
	}

	amount, err := parseHexAmount(res.String())
	if err != nil {
		return 0, apperr.Chain("parse balance", err)
	}
	return amount, nil
}

// TransferLogs returns Transfer events on the token into the receiving
// address between two blocks, inclusive.
func (c *Client) TransferLogs(ctx context.Context, token, to string, fromBlock, toBlock uint64) ([]Transfer, error) {
	if !ValidAddress(token) || !ValidAddress(to) {
		return nil, apperr.Validation("token and recipient must be hex addresses")
	}

	res, err := c.call(ctx, "eth_getLogs", map[string]any{
		"address":   token,
		"fromBlock": fmt.Sprintf("0x%x", fromBlock),
		"toBlock":   fmt.Sprintf("0x%x", toBlock),
		"topics":    []any{transferTopic, nil, addressTopic(to)},
	})
	if err != nil {
		return nil, err
	}

	var out []Transfer
	for _, entry := range res.Array() {
		t, err := decodeTransfer(entry)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// decodeTransfer unpacks one log entry. Topics carry the indexed from and to
// addresses, data carries the value word.
func decodeTransfer(entry gjson.Result) (Transfer, error) {
	topics := entry.Get("topics").Array()
	if len(topics) < 3 {
		return Transfer{}, fmt.Errorf("short topic list")
	}
	value, err := parseHexAmount(entry.Get("data").String())
	if err != nil {
		return Transfer{}, err
	}
	block, err := parseHexUint(entry.Get("blockNumber").String())
	if err != nil {
		return Transfer{}, err
	}
	return Transfer{
		TxHash:      entry.Get("transactionHash").String(),
		From:        topicAddress(topics[1].String()),
		To:          topicAddress(topics[2].String()),
		Value:       value,
		BlockNumber: block,
	}, nil
}

// TransactionConfirmed reports whether the hash points at a mined,
// successful transaction.
func (c *Client) TransactionConfirmed(ctx context.Context, txHash string) (bool, error) {
	if err := grant.ValidateTxHash(txHash); err != nil {
		return false, err
	}

	res, err := c.call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return false, err
	}
	if !res.Exists() || res.Type == gjson.Null {
		return false, nil
	}
	return res.Get("status").String() == "0x1", nil
}
