// Package payment provides the gateways used to charge and refund bookings.
package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"parkwise/internal/breaker"
	"parkwise/internal/config"
	"parkwise/internal/domain"
	"parkwise/internal/logging"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	ProviderStatic = "static"
	ProviderHTTP   = "http"
)

// NewGateway builds the gateway selected by cfg.Provider.
func NewGateway(cfg config.PaymentConfig, logger *zerolog.Logger) (domain.PaymentGateway, error) {
	switch cfg.Provider {
	case "", ProviderStatic:
		return NewStaticGateway(logger), nil
	case ProviderHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("payment.url is required for the http provider")
		}
		return NewHTTPGateway(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// Transaction is one gateway call recorded by StaticGateway.
type Transaction struct {
	Operation string
	BookingID int64
	Amount    float64
}

// StaticGateway approves every call and keeps a ledger of them.
type StaticGateway struct {
	mu     sync.Mutex
	ledger []Transaction
	logger *zerolog.Logger
}

func NewStaticGateway(logger *zerolog.Logger) *StaticGateway {
	return &StaticGateway{logger: logging.Component(logger, "payment")}
}

func (g *StaticGateway) Charge(_ context.Context, bookingID int64, amount float64) error {
	return g.record("charge", bookingID, amount)
}

func (g *StaticGateway) Refund(_ context.Context, bookingID int64, amount float64) error {
	return g.record("refund", bookingID, amount)
}

func (g *StaticGateway) record(op string, bookingID int64, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("%s of negative amount %.2f", op, amount)
	}
	g.mu.Lock()
	g.ledger = append(g.ledger, Transaction{Operation: op, BookingID: bookingID, Amount: amount})
	g.mu.Unlock()

	g.logger.Info().Str("operation", op).Int64("booking_id", bookingID).Float64("amount", amount).Msg("Payment approved")
	return nil
}

// Ledger returns a copy of every approved call.
func (g *StaticGateway) Ledger() []Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Transaction(nil), g.ledger...)
}

type paymentRequest struct {
	BookingID      int64   `json:"booking_id"`
	Amount         float64 `json:"amount"`
	IdempotencyKey string  `json:"idempotency_key"`
}

type paymentResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// HTTPGateway posts to {url}/charges and {url}/refunds behind a circuit breaker.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[struct{}]
	logger     *zerolog.Logger
}

func NewHTTPGateway(cfg config.PaymentConfig, logger *zerolog.Logger) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log := logging.Component(logger, "payment")
	return &HTTPGateway{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		cb: breaker.New[struct{}](breaker.Settings{
			Name:        "payment",
			MaxFailures: cfg.MaxFailures,
			OpenTimeout: cfg.OpenTimeout,
		}, log),
		logger: log,
	}
}

func (g *HTTPGateway) Charge(ctx context.Context, bookingID int64, amount float64) error {
	return g.call(ctx, "/charges", bookingID, amount)
}

func (g *HTTPGateway) Refund(ctx context.Context, bookingID int64, amount float64) error {
	return g.call(ctx, "/refunds", bookingID, amount)
}

func (g *HTTPGateway) call(ctx context.Context, path string, bookingID int64, amount float64) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		return struct{}{}, g.post(ctx, path, paymentRequest{
			BookingID:      bookingID,
			Amount:         amount,
			IdempotencyKey: uuid.NewString(),
		})
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("path", path).Int64("booking_id", bookingID).Msg("Payment call failed")
	}
	return err
}

func (g *HTTPGateway) post(ctx context.Context, path string, body paymentRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", body.IdempotencyKey)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payment request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read payment response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payment gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out paymentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode payment response: %w", err)
	}
	if !strings.EqualFold(out.Status, "approved") {
		return fmt.Errorf("payment %s: %s", out.Status, out.Reason)
	}
	return nil
}
