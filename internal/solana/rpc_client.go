package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultCommitment = CommitmentFinalized
)

// CallObserver receives the outcome of every RPC call.
type CallObserver func(method string, elapsed time.Duration, err error)

// HTTPClient implements RPCClient using HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint   string
	client     *http.Client
	commitment string
	observer   CallObserver
	requestID  atomic.Uint64
}

// Compile-time interface check.
var _ RPCClient = (*HTTPClient)(nil)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithCommitment sets the commitment used for getBlock and getSlot.
func WithCommitment(commitment string) ClientOption {
	return func(c *HTTPClient) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

// WithObserver installs a callback invoked after every call.
func WithObserver(fn CallObserver) ClientOption {
	return func(c *HTTPClient) {
		c.observer = fn
	}
}

// NewHTTPClient creates a new Solana RPC HTTP client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: DefaultTimeout},
		commitment: DefaultCommitment,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// call performs a single JSON-RPC call.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) (err error) {
	if c.observer != nil {
		start := time.Now()
		defer func() { c.observer(method, time.Since(start), err) }()
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http request: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("%s: unmarshal response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%s: unmarshal result: %w", method, err)
		}
	}
	return nil
}

// GetBlock retrieves a block by slot number.
func (c *HTTPClient) GetBlock(ctx context.Context, slot uint64) (*Block, error) {
	params := []interface{}{
		slot,
		map[string]interface{}{
			"encoding":                       "json",
			"transactionDetails":             "full",
			"rewards":                        false,
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}

	var result *getBlockResult
	if err := c.call(ctx, "getBlock", params, &result); err != nil {
		if isSkippedSlot(err) {
			return nil, nil
		}
		if isBlockNotAvailable(err) {
			return nil, fmt.Errorf("slot %d: %w", slot, ErrBlockNotAvailable)
		}
		return nil, fmt.Errorf("get block %d: %w", slot, err)
	}
	if result == nil {
		return nil, nil
	}

	block := &Block{
		Slot:        slot,
		ParentSlot:  result.ParentSlot,
		Blockhash:   result.Blockhash,
		BlockTime:   result.BlockTime,
		BlockHeight: result.BlockHeight,
	}

	block.Transactions = make([]Transaction, 0, len(result.Transactions))
	for i, w := range result.Transactions {
		block.Transactions = append(block.Transactions, w.toTransaction(i))
	}

	return block, nil
}

// getBlockResult is the raw RPC response for getBlock.
type getBlockResult struct {
	BlockTime    *int64              `json:"blockTime"`
	BlockHeight  *uint64             `json:"blockHeight"`
	Blockhash    string              `json:"blockhash"`
	ParentSlot   uint64              `json:"parentSlot"`
	Transactions []getBlockTxWrapper `json:"transactions"`
}

type getBlockTxWrapper struct {
	Transaction getBlockTx          `json:"transaction"`
	Meta        *getTransactionMeta `json:"meta"`
}

type getBlockTx struct {
	Signatures []string               `json:"signatures"`
	Message    *getTransactionMessage `json:"message"`
}

type getTransactionMessage struct {
	AccountKeys  []string         `json:"accountKeys"`
	Instructions []rawInstruction `json:"instructions"`
}

type rawInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"` // base58
	StackHeight    *int   `json:"stackHeight"`
}

type getTransactionMeta struct {
	Err               interface{}         `json:"err"`
	LogMessages       []string            `json:"logMessages"`
	InnerInstructions []rawInnerGroup     `json:"innerInstructions"`
	PreTokenBalances  []rawTokenBalance   `json:"preTokenBalances"`
	PostTokenBalances []rawTokenBalance   `json:"postTokenBalances"`
	LoadedAddresses   *rawLoadedAddresses `json:"loadedAddresses"`
}

type rawInnerGroup struct {
	Index        int              `json:"index"`
	Instructions []rawInstruction `json:"instructions"`
}

type rawTokenBalance struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
}

type rawLoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

func (w *getBlockTxWrapper) toTransaction(index int) Transaction {
	tx := Transaction{Index: index}
	if len(w.Transaction.Signatures) > 0 {
		tx.Signature = w.Transaction.Signatures[0]
	}

	if msg := w.Transaction.Message; msg != nil {
		tx.AccountKeys = append(tx.AccountKeys, msg.AccountKeys...)
		tx.Instructions = convertInstructions(msg.Instructions)
	}

	if meta := w.Meta; meta != nil {
		tx.Err = meta.Err
		tx.LogMessages = meta.LogMessages
		if meta.LoadedAddresses != nil {
			tx.AccountKeys = append(tx.AccountKeys, meta.LoadedAddresses.Writable...)
			tx.AccountKeys = append(tx.AccountKeys, meta.LoadedAddresses.Readonly...)
		}
		for _, g := range meta.InnerInstructions {
			tx.InnerInstructions = append(tx.InnerInstructions, InnerInstructions{
				Index:        g.Index,
				Instructions: convertInstructions(g.Instructions),
			})
		}
		tx.TokenBalances = mergeTokenBalances(meta.PreTokenBalances, meta.PostTokenBalances)
	}

	return tx
}

func convertInstructions(raw []rawInstruction) []Instruction {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Instruction, 0, len(raw))
	for _, r := range raw {
		// Undecodable data is left empty; decoders report it as a short buffer.
		data, err := base58.Decode(r.Data)
		if err != nil {
			data = nil
		}
		out = append(out, Instruction{
			ProgramIDIndex: r.ProgramIDIndex,
			Accounts:       r.Accounts,
			Data:           data,
			StackHeight:    r.StackHeight,
		})
	}
	return out
}

func mergeTokenBalances(pre, post []rawTokenBalance) []TokenBalance {
	seen := make(map[int]struct{}, len(pre)+len(post))
	var out []TokenBalance
	for _, list := range [][]rawTokenBalance{pre, post} {
		for _, b := range list {
			if _, ok := seen[b.AccountIndex]; ok {
				continue
			}
			seen[b.AccountIndex] = struct{}{}
			out = append(out, TokenBalance{AccountIndex: b.AccountIndex, Mint: b.Mint, Owner: b.Owner})
		}
	}
	return out
}

// GetAccountInfo retrieves account info by public key.
// Returns nil if account not found.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	params := []interface{}{
		address,
		map[string]interface{}{
			"encoding":   "base64",
			"commitment": c.commitment,
		},
	}

	var result getAccountInfoResult
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}

	if result.Value == nil {
		return nil, nil
	}

	info := &AccountInfo{
		Lamports:   result.Value.Lamports,
		Owner:      result.Value.Owner,
		Executable: result.Value.Executable,
		RentEpoch:  result.Value.RentEpoch,
	}

	if len(result.Value.Data) >= 1 {
		info.Data = result.Value.Data[0]
	}

	return info, nil
}

type getAccountInfoResult struct {
	Value *getAccountInfoValue `json:"value"`
}

type getAccountInfoValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [base64_data, encoding]
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

// GetSlot retrieves the current slot.
func (c *HTTPClient) GetSlot(ctx context.Context) (uint64, error) {
	params := []interface{}{
		map[string]interface{}{"commitment": c.commitment},
	}
	var result uint64
	if err := c.call(ctx, "getSlot", params, &result); err != nil {
		return 0, fmt.Errorf("get slot: %w", err)
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
