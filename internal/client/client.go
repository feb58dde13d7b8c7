// Package client is the terminal's HTTP client for the sale server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"possync/internal/apierror"
	"possync/internal/dto"
	"possync/internal/infra"
	"possync/internal/middleware"
)

// ErrRejected marks a permanent refusal by the server: resubmitting the
// same payload will fail the same way.
var ErrRejected = errors.New("sale rejected by server")

// ErrUnauthorized means the server refused the terminal's token. The sale
// itself was never judged, so it stays retryable once the token is renewed.
var ErrUnauthorized = errors.New("terminal token refused by server")

// RejectedError carries the server's error envelope for a rejected sale.
type RejectedError struct {
	Status int
	Code   string
	Detail string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected sale (%d %s): %s", e.Status, e.Code, e.Detail)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Client talks to the sale server on behalf of one terminal. Submissions go
// through a circuit breaker so an unreachable server fails fast.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cb         *infra.CircuitBreaker
}

func New(baseURL, token string, timeout time.Duration) *Client {
	cfg := infra.DefaultCBConfig("sale-server")
	// A rejected sale proves the server is healthy.
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, ErrRejected) }
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		cb:         infra.NewCircuitBreaker(cfg),
	}
}

// Breaker exposes the submission breaker so callers can skip work while
// it is open.
func (c *Client) Breaker() *infra.CircuitBreaker { return c.cb }

// SubmitSale posts req to /v1/sales. idempotencyKey is sent as the
// Idempotency-Key header; the server commits at most one sale per key.
func (c *Client) SubmitSale(ctx context.Context, req dto.CreateSaleRequest, idempotencyKey string) (*dto.SaleResponse, error) {
	var out *dto.SaleResponse
	err := c.cb.Execute(func() error {
		var err error
		out, err = c.submit(ctx, req, idempotencyKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) submit(ctx context.Context, payload dto.CreateSaleRequest, idempotencyKey string) (*dto.SaleResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("client: marshal sale: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sales", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if idempotencyKey != "" {
		req.Header.Set(middleware.IdempotencyKeyHeader, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		var sale dto.SaleResponse
		if err := json.NewDecoder(resp.Body).Decode(&sale); err != nil {
			return nil, fmt.Errorf("client: decode response: %w", err)
		}
		return &sale, nil
	}

	var envelope apierror.APIError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &envelope)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("client: %w (%d %s)", ErrUnauthorized, resp.StatusCode, envelope.Code)
	}
	if permanent(resp.StatusCode) {
		return nil, &RejectedError{Status: resp.StatusCode, Code: envelope.Code, Detail: envelope.Detail}
	}
	return nil, fmt.Errorf("client: server returned %d %s", resp.StatusCode, envelope.Code)
}

// permanent reports whether a status means the payload itself is refused:
// malformed, failing validation or a business rule, or naming an unknown
// product. Anything else is retryable.
func permanent(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// Ping checks the server health endpoint. It bypasses the breaker so the
// connectivity probe keeps working while submissions are short-circuited.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: server unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: health returned %d", resp.StatusCode)
	}
	return nil
}
