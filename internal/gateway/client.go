// Package gateway is the HTTP client for the Zadarma telephony API.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"phoneagent_backend/platform/logger"
)

// Config holds the gateway credentials and calling identity.
type Config struct {
	BaseURL string
	APIKey  string
	Secret  string
	From    string
	SIPID   string
}

type Client struct {
	baseURL string
	apiKey  string
	from    string
	sipID   string
	http    *http.Client
	log     *logger.Logger
}

// RequestError is returned when the gateway answers with a non-2xx status.
type RequestError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("gateway %s returned %d: %s", e.Endpoint, e.Status, e.Body)
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.zadarma.com/v1"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		sipID:   cfg.SIPID,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// CallResponse is the gateway's answer to a callback request.
type CallResponse struct {
	Status string `json:"status"`
	CallID string `json:"call_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// PlaceCall starts an outbound call to phone from the configured caller id.
// The returned call id correlates later webhook events.
func (c *Client) PlaceCall(ctx context.Context, phone string) (*CallResponse, error) {
	params := map[string]string{
		"caller_id": c.from,
		"to":        phone,
		"sip":       "false",
		"predicted": "false",
	}
	if c.sipID != "" {
		params["sip"] = c.sipID
	}

	var resp CallResponse
	if err := c.do(ctx, http.MethodPost, "/requests/callback/", params, &resp); err != nil {
		return nil, err
	}
	if resp.CallID == "" {
		return nil, fmt.Errorf("gateway accepted call to %s but returned no call id", phone)
	}
	c.log.Info("call placed", "call_id", resp.CallID, "to", phone)
	return &resp, nil
}

// StatusResponse reports the gateway-side state of one call.
type StatusResponse struct {
	Status   string `json:"status"`
	CallID   string `json:"call_id"`
	Duration int    `json:"duration"`
}

// QueryStatus asks the gateway for the current state of a call.
func (c *Client) QueryStatus(ctx context.Context, callID string) (*StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/requests/status/", map[string]string{"call_id": callID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Hangup terminates an active call.
func (c *Client) Hangup(ctx context.Context, callID string) error {
	return c.do(ctx, http.MethodPost, "/requests/hangup/", map[string]string{"call_id": callID}, nil)
}

// PlayAudio queues an audio file for playback into an active call. The
// gateway fetches the file from audioURL, so it must be publicly
// reachable.
func (c *Client) PlayAudio(ctx context.Context, callID, audioURL string) error {
	params := map[string]string{
		"call_id": callID,
		"url":     audioURL,
	}
	return c.do(ctx, http.MethodPost, "/requests/playback/", params, nil)
}

// BalanceResponse is the account balance report.
type BalanceResponse struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// Balance returns the account balance. The dialer checks it before a
// batch so a drained account fails fast instead of erroring every lead.
func (c *Client) Balance(ctx context.Context) (*BalanceResponse, error) {
	var resp BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/info/balance/", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, params map[string]string, out any) error {
	query := url.Values{}
	for key, val := range params {
		query.Set(key, val)
	}

	reqURL := c.baseURL + endpoint
	if encoded := query.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", Sign(c.apiKey, params, method))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request %s failed: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		reqErr := &RequestError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(data)),
		}
		c.log.GatewayError(endpoint, resp.StatusCode, reqErr)
		return reqErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response from %s: %w", endpoint, err)
	}
	return nil
}
