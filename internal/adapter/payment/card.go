// Package payment verifies client-submitted payment references against the
// payment providers.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rl1809/keydrop/internal/port"
)

const (
	MethodCard = "card"

	statusSucceeded = "succeeded"
)

type paymentIntent struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

// CardGateway looks up card payment intents on the gateway's REST API.
type CardGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCardGateway creates a card verifier. A nil client uses
// http.DefaultClient; callers bound latency through the context.
func NewCardGateway(baseURL, apiKey string, client *http.Client) *CardGateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &CardGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

func (g *CardGateway) Name() string {
	return MethodCard
}

// Verify fetches the payment intent. The payer is taken from the intent's
// metadata.userId, which the checkout page sets when creating the intent.
func (g *CardGateway) Verify(ctx context.Context, reference string) (port.Verification, error) {
	endpoint := g.baseURL + "/v1/payment_intents/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return port.Verification{}, fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return port.Verification{}, fmt.Errorf("payment request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return port.Verification{}, fmt.Errorf("payment gateway returned %s", resp.Status)
	}

	var intent paymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return port.Verification{}, fmt.Errorf("decode payment intent: %w", err)
	}
	if intent.ID != "" && intent.ID != reference {
		return port.Verification{}, fmt.Errorf("payment gateway returned intent %s for %s", intent.ID, reference)
	}

	return port.Verification{
		Reference: reference,
		Succeeded: intent.Status == statusSucceeded,
		Status:    intent.Status,
		Amount:    intent.Amount,
		Currency:  strings.ToLower(intent.Currency),
		PayerID:   intent.Metadata["userId"],
	}, nil
}

var _ port.PaymentMethod = (*CardGateway)(nil)
