// Package payment charges cards through configured payment processors.
package payment

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/params"
)

// Request is one direct payment. Fields carries the card and billing keys of the API call.
type Request struct {
	Amount      float64
	Currency    string
	InvoiceID   string
	ContactID   int64
	Description string
	Fields      map[string]any
}

type Result struct {
	TrxnID    string
	FeeAmount float64
	Message   string
}

type Session interface {
	DirectPayment(ctx context.Context, req Request) (Result, error)
}

// Gateway resolves processor configuration and opens sessions.
type Gateway interface {
	Config(processorID int64, mode Mode) (Config, error)
	Open(mode Mode, cfg Config) (Session, error)
}

// Processors is the Gateway backed by a Registry.
type Processors struct {
	Registry   *Registry
	HTTPClient *http.Client
}

func NewProcessors(registry *Registry) *Processors {
	return &Processors{
		Registry:   registry,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Processors) Config(processorID int64, mode Mode) (Config, error) {
	return p.Registry.Config(processorID, mode)
}

func (p *Processors) Open(mode Mode, cfg Config) (Session, error) {
	if cfg.Mode != mode {
		return nil, apierr.Newf(apierr.PaymentGateway, "processor %d configured for %s mode, not %s", cfg.Processor.ID, cfg.Mode, mode)
	}
	switch cfg.Processor.Type {
	case TypeDummy:
		return newDummySession(cfg), nil
	case TypeHTTP:
		return newHTTPSession(cfg, p.HTTPClient)
	}
	return nil, apierr.Newf(apierr.PaymentGateway, "unsupported processor type %q", cfg.Processor.Type)
}

var forwardedPrefixes = []string{"credit_card_", "billing_", "cvv2", "first_name", "last_name", "email"}

// RequestFromBag builds a payment request from normalized transact params.
func RequestFromBag(bag params.Bag) Request {
	amount, _ := bag.Float("total_amount")
	contactID, _ := bag.Int64("contact_id")
	invoiceID := bag.String("invoiceID")
	if invoiceID == "" {
		invoiceID = bag.String("invoice_id")
	}
	req := Request{
		Amount:      amount,
		Currency:    strings.ToUpper(bag.String("currency")),
		InvoiceID:   invoiceID,
		ContactID:   contactID,
		Description: bag.String("source"),
		Fields:      map[string]any{},
	}
	for k, v := range bag {
		for _, prefix := range forwardedPrefixes {
			if strings.HasPrefix(k, prefix) {
				req.Fields[k] = v
				break
			}
		}
	}
	return req
}
