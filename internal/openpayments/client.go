// Package openpayments reads publicly-verifiable incoming-payment resources.
// It is the only place that talks to the payments network; the credits core
// sees it through the credits.PaymentVerifier contract.
package openpayments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/askstream/askstream/pkg/credits"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 3 * time.Second
	headerAccept          = "Accept"
	contentTypeJSON       = "application/json"
)

// Client fetches received-amount snapshots over plain HTTP. Incoming-payment
// resources are advertised as publicly readable, so no grant negotiation
// happens here.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient wires a Client. A nil logger disables logging; a zero timeout
// falls back to the default.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type incomingPaymentPayload struct {
	ReceivedAmount *amountPayload `json:"receivedAmount"`
	Completed      bool           `json:"completed"`
}

type amountPayload struct {
	Value      string `json:"value"`
	AssetCode  string `json:"assetCode"`
	AssetScale int32  `json:"assetScale"`
}

// ReceivedAmount returns the authoritative received amount for one
// incoming-payment URL. Non-200 responses and malformed bodies are "no data"
// (a zero-value amount), never a failure; only transport errors propagate so
// the poller can log and skip the URL.
func (client *Client) ReceivedAmount(ctx context.Context, paymentURL string) (credits.Amount, bool, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, paymentURL, nil)
	if err != nil {
		return credits.Amount{}, false, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set(headerAccept, contentTypeJSON)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return credits.Amount{}, false, fmt.Errorf("fetch incoming payment: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		client.logger.Debug("incoming payment returned no data",
			zap.String("payment_url", paymentURL),
			zap.Int("status_code", response.StatusCode))
		return credits.Amount{}, false, nil
	}

	var payload incomingPaymentPayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		client.logger.Warn("incoming payment body malformed",
			zap.String("payment_url", paymentURL),
			zap.Error(err))
		return credits.Amount{}, false, nil
	}
	if payload.ReceivedAmount == nil {
		return credits.Amount{}, payload.Completed, nil
	}
	value, err := strconv.ParseInt(payload.ReceivedAmount.Value, 10, 64)
	if err != nil || value < 0 {
		client.logger.Warn("incoming payment amount malformed",
			zap.String("payment_url", paymentURL),
			zap.String("value", payload.ReceivedAmount.Value))
		return credits.Amount{}, payload.Completed, nil
	}
	if err := credits.ValidateAssetScale(payload.ReceivedAmount.AssetScale); err != nil {
		client.logger.Warn("incoming payment scale malformed",
			zap.String("payment_url", paymentURL),
			zap.Int32("asset_scale", payload.ReceivedAmount.AssetScale))
		return credits.Amount{}, payload.Completed, nil
	}
	return credits.Amount{
		Value:      value,
		AssetCode:  payload.ReceivedAmount.AssetCode,
		AssetScale: payload.ReceivedAmount.AssetScale,
	}, payload.Completed, nil
}
