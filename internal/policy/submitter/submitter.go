// Package submitter provides Submitter implementations for the policy
// executor: an HTTP client for a real execution backend and a loopback for
// development.
package submitter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTP submits transactions to an external execution service.
type HTTP struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTP constructs an HTTP submitter. The client timeout stays above the
// executor's own submit timeout so cancellation is driven by the context.
func NewHTTP(baseURL, apiKey string) *HTTP {
	return &HTTP{
		client:  &http.Client{Timeout: 2 * time.Minute},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type submitRequest struct {
	WalletID    string  `json:"wallet_id"`
	Destination string  `json:"destination"`
	Value       float64 `json:"value"`
	Data        string  `json:"data,omitempty"`
}

type submitResponse struct {
	Hash string `json:"hash"`
}

// Submit posts the transaction and returns the reported hash.
func (s *HTTP) Submit(ctx context.Context, walletID, destination string, value float64, data []byte) (string, error) {
	body, err := json.Marshal(submitRequest{
		WalletID:    walletID,
		Destination: destination,
		Value:       value,
		Data:        string(data),
	})
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit transaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("execution backend returned %d: %s", resp.StatusCode, payload)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("execution backend returned no transaction hash")
	}
	return out.Hash, nil
}

// Loopback confirms every submission locally with a deterministic pseudo
// hash. Used in development when no execution backend is configured.
type Loopback struct{}

func (Loopback) Submit(_ context.Context, walletID, destination string, value float64, data []byte) (string, error) {
	sum := sha256.Sum256(append([]byte(walletID+destination+strconv.FormatFloat(value, 'f', -1, 64)+":"+strconv.FormatInt(time.Now().UnixNano(), 10)), data...))
	return "0x" + hex.EncodeToString(sum[:]), nil
}
