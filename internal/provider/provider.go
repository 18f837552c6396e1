// Package provider talks to the external payment provider's hosted
// checkout. The service only ever creates sessions here; confirmation
// arrives asynchronously on the callback endpoint.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CheckoutSession is the provider's answer to a session creation call.
type CheckoutSession struct {
	ExternalID  string `json:"id"`
	CheckoutURL string `json:"url"`
}

// CheckoutRequest describes what to collect payment for.
type CheckoutRequest struct {
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
	SuccessURL  string `json:"success_url"`
	CancelURL   string `json:"cancel_url"`
}

// Checkout creates hosted checkout sessions with the payment provider.
type Checkout interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// HTTPCheckout implements Checkout against the provider's JSON API.
type HTTPCheckout struct {
	url        string
	successURL string
	cancelURL  string
	client     *http.Client
}

// NewHTTPCheckout constructs an HTTPCheckout posting to url.
func NewHTTPCheckout(url, successURL, cancelURL string) *HTTPCheckout {
	return &HTTPCheckout{
		url:        url,
		successURL: successURL,
		cancelURL:  cancelURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateSession posts the checkout request and decodes the session.
func (c *HTTPCheckout) CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.SuccessURL == "" {
		req.SuccessURL = c.successURL
	}
	if req.CancelURL == "" {
		req.CancelURL = c.cancelURL
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("create checkout session: provider returned %s", resp.Status)
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if session.ExternalID == "" {
		return nil, fmt.Errorf("create checkout session: provider returned no session id")
	}
	return &session, nil
}
