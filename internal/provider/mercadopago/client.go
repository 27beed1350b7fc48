package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pageza/nutrilog/backend/internal/types"
)

const defaultBaseURL = "https://api.mercadopago.com"

// ErrNotFound is returned when the processor has no resource for the reference.
var ErrNotFound = errors.New("payment resource not found")

// Client fetches authoritative subscription state from the Mercado Pago API.
type Client struct {
	AccessToken string
	BaseURL     string
	HTTPClient  *http.Client
}

type preapproval struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	Reason            string `json:"reason"`
}

type authorizedPayment struct {
	ID            json.Number `json:"id"`
	PreapprovalID string      `json:"preapproval_id"`
	Status        string      `json:"status"`
}

// LookupSubscription resolves the reference carried by a webhook to the current
// preapproval. Authorized-payment events are followed to their preapproval.
func (c *Client) LookupSubscription(ctx context.Context, eventType, reference string) (types.RemoteSubscription, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return types.RemoteSubscription{}, fmt.Errorf("missing payment processor access token")
	}

	preapprovalID := reference
	if eventType == types.PaymentEventAuthorizedPayment {
		var payment authorizedPayment
		if err := c.get(ctx, "/authorized_payments/"+url.PathEscape(reference), &payment); err != nil {
			return types.RemoteSubscription{}, err
		}
		if payment.PreapprovalID == "" {
			return types.RemoteSubscription{}, fmt.Errorf("authorized payment %s has no preapproval", reference)
		}
		preapprovalID = payment.PreapprovalID
	}

	var sub preapproval
	if err := c.get(ctx, "/preapproval/"+url.PathEscape(preapprovalID), &sub); err != nil {
		return types.RemoteSubscription{}, err
	}
	return types.RemoteSubscription{
		ID:                sub.ID,
		Status:            strings.ToLower(strings.TrimSpace(sub.Status)),
		ExternalReference: strings.TrimSpace(sub.ExternalReference),
		Reason:            sub.Reason,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute payment request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read payment response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payment request %s failed with status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode payment response: %w", err)
	}
	return nil
}
