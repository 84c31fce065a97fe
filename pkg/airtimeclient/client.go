/**
 * @description
 * Client for the airtime vendor's top-up API. A wallet airtime purchase is debited in the
 * ledger first and then fulfilled here; the caller reverses the debit when TopUp fails.
 *
 * @dependencies
 * - net/http, encoding/json: Standard Go libraries.
 */
package airtimeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the airtime vendor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new vendor client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// TopUpRequest is the vendor payload. Amount is in kobo.
type TopUpRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Phone     string `json:"phone"`
			Amount    int64  `json:"amount"`
			Currency  string `json:"currency"`
			Reference string `json:"reference"`
		} `json:"attributes"`
	} `json:"data"`
}

// TopUpResponse is the vendor's acknowledgement.
type TopUpResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status  string `json:"status"`
			Network string `json:"network"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the vendor API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("airtime vendor error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown airtime vendor error"
}

// TopUp asks the vendor to credit phone with amount. reference is the ledger reference of
// the debit and doubles as the vendor-side idempotency key.
func (c *Client) TopUp(ctx context.Context, phone string, amount int64, reference string) (*TopUpResponse, error) {
	payload := TopUpRequest{}
	payload.Data.Type = "AirtimeTopUp"
	payload.Data.Attributes.Phone = phone
	payload.Data.Attributes.Amount = amount
	payload.Data.Attributes.Currency = "NGN"
	payload.Data.Attributes.Reference = reference

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal top-up request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/airtime", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create top-up request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", reference)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute top-up request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read top-up response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=airtime_client op=top_up status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=airtime_client op=top_up status=%d reference=%s err=%q", resp.StatusCode, reference, errResp.Error())
		return nil, &errResp
	}

	var out TopUpResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("failed to decode top-up response: %w", err)
	}
	if status := strings.ToLower(out.Data.Attributes.Status); status == "failed" || status == "rejected" {
		return &out, fmt.Errorf("airtime top-up %s for reference %s", status, reference)
	}
	return &out, nil
}
