// Package stacks talks to the Stacks chain through the Hiro API and builds
// signed contract-call transactions.
package stacks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// DefaultTestnetAPI is the public Hiro testnet endpoint.
const DefaultTestnetAPI = "https://api.testnet.hiro.so"

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("stacks: not found")

// TxStatus is the tx_status reported by the API.
type TxStatus string

const (
	TxPending              TxStatus = "pending"
	TxSuccess              TxStatus = "success"
	TxAbortByResponse      TxStatus = "abort_by_response"
	TxAbortByPostCondition TxStatus = "abort_by_post_condition"
)

// Aborted reports an on-chain abort, the only terminal failure of a burn.
func (s TxStatus) Aborted() bool {
	return s == TxAbortByResponse || s == TxAbortByPostCondition
}

// TxInfo is the subset of /extended/v1/tx/{id} the tracker reads.
type TxInfo struct {
	TxID          string
	Status        TxStatus
	BlockHeight   uint64
	SenderAddress string
}

// ContractEvent is one entry of /extended/v1/contract/{id}/events.
type ContractEvent struct {
	TxID       string
	EventIndex int64
	EventType  string
	Repr       string
	Hex        string
}

// RejectionError is the node's answer to a rejected broadcast.
type RejectionError struct {
	Status     int
	Message    string
	Reason     string
	ReasonData string
}

func (e *RejectionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("stacks: broadcast rejected: %s (%s)", e.Reason, e.Message)
	}
	return fmt.Sprintf("stacks: broadcast rejected: status=%d %s", e.Status, e.Message)
}

// Client is a rate limited Hiro API client.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// ClientOption customises the client.
type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit throttles outbound requests; the public API allows a few
// requests per second without a key.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultTestnetAPI
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTransaction looks a transaction up by id.
func (c *Client) GetTransaction(ctx context.Context, txID string) (TxInfo, error) {
	id := normalizeTxID(txID)
	if id == "" {
		return TxInfo{}, fmt.Errorf("stacks: transaction id required")
	}
	doc, err := c.getJSON(ctx, "/extended/v1/tx/"+url.PathEscape(id))
	if err != nil {
		return TxInfo{}, err
	}
	return TxInfo{
		TxID:          doc.Get("tx_id").String(),
		Status:        TxStatus(doc.Get("tx_status").String()),
		BlockHeight:   doc.Get("block_height").Uint(),
		SenderAddress: doc.Get("sender_address").String(),
	}, nil
}

// ContractEvents returns the most recent events emitted by contractID,
// newest first as served by the API.
func (c *Client) ContractEvents(ctx context.Context, contractID string, limit int) ([]ContractEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	path := fmt.Sprintf("/extended/v1/contract/%s/events?limit=%d", url.PathEscape(contractID), limit)
	doc, err := c.getJSON(ctx, path)
	if err != nil {
		return nil, err
	}
	results := doc.Get("results").Array()
	events := make([]ContractEvent, 0, len(results))
	for _, r := range results {
		events = append(events, ContractEvent{
			TxID:       r.Get("tx_id").String(),
			EventIndex: r.Get("event_index").Int(),
			EventType:  r.Get("event_type").String(),
			Repr:       r.Get("contract_log.value.repr").String(),
			Hex:        r.Get("contract_log.value.hex").String(),
		})
	}
	return events, nil
}

// FungibleBalances returns every fungible token balance of address keyed by
// asset identifier.
func (c *Client) FungibleBalances(ctx context.Context, address string) (map[string]*big.Int, error) {
	doc, err := c.getJSON(ctx, "/extended/v1/address/"+url.PathEscape(address)+"/balances")
	if err != nil {
		return nil, err
	}
	out := make(map[string]*big.Int)
	var parseErr error
	doc.Get("fungible_tokens").ForEach(func(key, value gjson.Result) bool {
		bal, ok := new(big.Int).SetString(value.Get("balance").String(), 10)
		if !ok {
			parseErr = fmt.Errorf("stacks: balance of %s is not an integer", key.String())
			return false
		}
		out[key.String()] = bal
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

// TokenBalance returns the first fungible balance whose asset id contains
// match. ok is false when address holds no such token.
func (c *Client) TokenBalance(ctx context.Context, address, match string) (*big.Int, bool, error) {
	balances, err := c.FungibleBalances(ctx, address)
	if err != nil {
		return nil, false, err
	}
	for key, bal := range balances {
		if strings.Contains(key, match) {
			return bal, true, nil
		}
	}
	return new(big.Int), false, nil
}

// Nonce returns the next nonce of address.
func (c *Client) Nonce(ctx context.Context, address string) (uint64, error) {
	doc, err := c.getJSON(ctx, "/v2/accounts/"+url.PathEscape(address)+"?proof=0")
	if err != nil {
		return 0, err
	}
	nonce := doc.Get("nonce")
	if !nonce.Exists() {
		return 0, fmt.Errorf("stacks: account response missing nonce")
	}
	return nonce.Uint(), nil
}

// FeeRate returns the node's fee estimate in micro-STX per byte.
func (c *Client) FeeRate(ctx context.Context) (uint64, error) {
	doc, err := c.getJSON(ctx, "/v2/fees/transfer")
	if err != nil {
		return 0, err
	}
	if doc.Type != gjson.Number {
		return 0, fmt.Errorf("stacks: unexpected fee response %q", doc.Raw)
	}
	return doc.Uint(), nil
}

// Broadcast posts a serialized transaction and returns its 0x-prefixed id.
func (c *Client) Broadcast(ctx context.Context, raw []byte) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transactions", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("stacks: broadcast: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	doc := gjson.ParseBytes(body)
	if resp.StatusCode >= 300 || doc.Get("error").Exists() {
		rej := &RejectionError{
			Status:     resp.StatusCode,
			Message:    doc.Get("error").String(),
			Reason:     doc.Get("reason").String(),
			ReasonData: doc.Get("reason_data").Raw,
		}
		if rej.Message == "" {
			rej.Message = strings.TrimSpace(string(body))
		}
		return "", rej
	}
	txID := doc.String()
	if doc.Type != gjson.String || txID == "" {
		return "", fmt.Errorf("stacks: unexpected broadcast response %q", string(body))
	}
	return "0x" + strings.TrimPrefix(txID, "0x"), nil
}

// ResolveName looks a BNS name up and returns the owning address.
func (c *Client) ResolveName(ctx context.Context, name string) (string, error) {
	doc, err := c.getJSON(ctx, "/v1/names/"+url.PathEscape(strings.TrimSpace(name)))
	if err != nil {
		return "", err
	}
	address := doc.Get("address").String()
	if address == "" {
		return "", ErrNotFound
	}
	return address, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) getJSON(ctx context.Context, path string) (gjson.Result, error) {
	if c == nil {
		return gjson.Result{}, fmt.Errorf("stacks client not configured")
	}
	if err := c.wait(ctx); err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return gjson.Result{}, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("stacks %s failed: status=%d", strings.SplitN(path, "?", 2)[0], resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("stacks %s returned invalid json", path)
	}
	return gjson.ParseBytes(body), nil
}

// normalizeTxID accepts ids with or without the 0x prefix.
func normalizeTxID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return "0x" + strings.TrimPrefix(strings.ToLower(id), "0x")
}
