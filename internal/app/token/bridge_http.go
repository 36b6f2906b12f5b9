package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openremit/remit_engine/pkg/logger"
)

// HTTPBridge executes token operations against a remote bridge endpoint.
// The bridge fronts the actual token contracts; a transfer either reports
// ok=true, ok=false (the token rejected it), or fails at the transport
// level. All three surface distinctly to the caller.
type HTTPBridge struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPBridge constructs a bridge client for the given endpoint.
func NewHTTPBridge(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPBridge, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("bridge endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse bridge endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("token-bridge")
	}
	return &HTTPBridge{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

var _ Service = (*HTTPBridge)(nil)

func (b *HTTPBridge) Transfer(ctx context.Context, token, to string, amount uint64) (bool, error) {
	return b.post(ctx, "transfer", map[string]any{
		"token":  token,
		"to":     to,
		"amount": amount,
	})
}

func (b *HTTPBridge) TransferFrom(ctx context.Context, token, from, to string, amount uint64) (bool, error) {
	return b.post(ctx, "transfer_from", map[string]any{
		"token":  token,
		"from":   from,
		"to":     to,
		"amount": amount,
	})
}

func (b *HTTPBridge) BalanceOf(ctx context.Context, token, address string) (uint64, error) {
	return b.query(ctx, "balance_of", map[string]string{"token": token, "address": address})
}

func (b *HTTPBridge) Allowance(ctx context.Context, token, owner, spender string) (uint64, error) {
	return b.query(ctx, "allowance", map[string]string{"token": token, "owner": owner, "spender": spender})
}

func (b *HTTPBridge) post(ctx context.Context, op string, payload map[string]any) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.opURL(op), bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%s status %d", op, resp.StatusCode)
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode %s response: %w", op, err)
	}
	if !result.OK && result.Error != "" {
		b.log.WithField("op", op).Warnf("bridge rejected transfer: %s", result.Error)
	}
	return result.OK, nil
}

func (b *HTTPBridge) query(ctx context.Context, op string, params map[string]string) (uint64, error) {
	queryURL := *b.endpoint
	queryURL.Path = strings.TrimRight(queryURL.Path, "/") + "/" + op
	q := queryURL.Query()
	for key, value := range params {
		q.Set(key, value)
	}
	queryURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", op, err)
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s status %d", op, resp.StatusCode)
	}

	var result struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode %s response: %w", op, err)
	}
	return result.Amount, nil
}

func (b *HTTPBridge) opURL(op string) string {
	u := *b.endpoint
	u.Path = strings.TrimRight(u.Path, "/") + "/" + op
	return u.String()
}
