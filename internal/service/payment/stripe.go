package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

const defaultGatewayTimeout = 10 * time.Second

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig настраивает StripeGateway.
type StripeConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Timeout  time.Duration
	Logger   *log.Entry

	// Intents подменяет API PaymentIntents в тестах.
	Intents stripeIntentAPI
}

// StripeGateway реализует domain.PaymentGateway поверх Stripe PaymentIntents.
type StripeGateway struct {
	intents stripeIntentAPI
	timeout time.Duration
	logger  *log.Entry
}

// NewStripeGateway создаёт адаптер Stripe.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	intents := cfg.Intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New().WithField("component", "stripe-gateway")
	}

	return &StripeGateway{intents: intents, timeout: timeout, logger: logger}, nil
}

// CreateIntent создаёт PaymentIntent с автоматическими методами оплаты.
func (g *StripeGateway) CreateIntent(ctx context.Context, req domain.IntentParams) (domain.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	intent, err := g.intents.New(params)
	if err != nil {
		g.logger.WithError(err).WithField("amount_minor", req.AmountMinor).Warn("stripe: create payment intent failed")
		return domain.PaymentIntent{}, gatewayError("create payment intent", err)
	}

	g.logger.WithFields(log.Fields{
		"payment_intent": intent.ID,
		"amount_minor":   intent.Amount,
		"status":         intent.Status,
	}).Info("stripe: payment intent created")

	return toDomainIntent(intent), nil
}

// GetIntent читает PaymentIntent и нормализует его статус.
func (g *StripeGateway) GetIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PaymentIntent{}, fmt.Errorf("%w: payment intent id is required", domain.ErrGateway)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := g.intents.Get(id, params)
	if err != nil {
		g.logger.WithError(err).WithField("payment_intent", id).Warn("stripe: get payment intent failed")
		return domain.PaymentIntent{}, gatewayError("get payment intent", err)
	}

	return toDomainIntent(intent), nil
}

func toDomainIntent(intent *stripe.PaymentIntent) domain.PaymentIntent {
	metadata := make(map[string]string, len(intent.Metadata))
	for k, v := range intent.Metadata {
		metadata[k] = v
	}
	return domain.PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       mapIntentStatus(intent),
		AmountMinor:  intent.Amount,
		Currency:     string(intent.Currency),
		Metadata:     metadata,
	}
}

// mapIntentStatus сводит статусы Stripe к пяти статусам домена.
func mapIntentStatus(intent *stripe.PaymentIntent) domain.IntentStatus {
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.IntentStatusSucceeded
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return domain.IntentStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return domain.IntentStatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// Повторный requires_payment_method после попытки оплаты означает отказ.
		if intent.LastPaymentError != nil {
			return domain.IntentStatusFailed
		}
		return domain.IntentStatusRequiresAction
	default:
		return domain.IntentStatusRequiresAction
	}
}

func gatewayError(op string, err error) error {
	msg := err.Error()
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		msg = stripeErr.Msg
	}
	return fmt.Errorf("%w: %s: %s", domain.ErrGateway, op, msg)
}

var _ domain.PaymentGateway = (*StripeGateway)(nil)
