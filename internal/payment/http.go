package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/platform/env"
)

// httpSession charges through a JSON processor API authenticated with OAuth2 client
// credentials.
type httpSession struct {
	cfg    Config
	client *http.Client
	oauth  clientcredentials.Config
}

type chargeRequest struct {
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	InvoiceID   string         `json:"invoice_id"`
	ContactID   int64          `json:"contact_id,omitempty"`
	Description string         `json:"description,omitempty"`
	Test        bool           `json:"test"`
	Fields      map[string]any `json:"fields,omitempty"`
}

type chargeResponse struct {
	Status    string  `json:"status"`
	TrxnID    string  `json:"trxn_id"`
	FeeAmount float64 `json:"fee_amount"`
	Message   string  `json:"message"`
}

func newHTTPSession(cfg Config, base *http.Client) (*httpSession, error) {
	s := cfg.Settings
	if s.URL == "" {
		return nil, apierr.Newf(apierr.PaymentGateway, "processor %d has no %s endpoint", cfg.Processor.ID, cfg.Mode)
	}
	if base == nil {
		base = http.DefaultClient
	}
	client := *base
	if s.Timeout > 0 {
		client.Timeout = s.Timeout
	}
	secret := ""
	if s.ClientSecretEnv != "" {
		secret = env.String(s.ClientSecretEnv, "")
	}
	return &httpSession{
		cfg:    cfg,
		client: &client,
		oauth: clientcredentials.Config{
			ClientID:     s.ClientID,
			ClientSecret: secret,
			TokenURL:     s.TokenURL,
			Scopes:       s.Scopes,
		},
	}, nil
}

func (s *httpSession) DirectPayment(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(chargeRequest{
		Amount:      fmt.Sprintf("%.2f", req.Amount),
		Currency:    req.Currency,
		InvoiceID:   req.InvoiceID,
		ContactID:   req.ContactID,
		Description: req.Description,
		Test:        s.cfg.Mode == ModeTest,
		Fields:      req.Fields,
	})
	if err != nil {
		return Result{}, apierr.Wrap(apierr.PaymentGateway, "encode payment request", err)
	}

	authCtx := context.WithValue(ctx, oauth2.HTTPClient, s.client)
	httpReq, err := http.NewRequestWithContext(authCtx, http.MethodPost, s.cfg.Settings.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, apierr.Wrap(apierr.PaymentGateway, "build payment request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.InvoiceID)

	resp, err := s.oauth.Client(authCtx).Do(httpReq)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.PaymentGateway, "Payment processor unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, apierr.Wrap(apierr.PaymentGateway, "read payment response", err)
	}
	var out chargeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, apierr.Wrap(apierr.PaymentGateway, fmt.Sprintf("Payment processor returned HTTP %d", resp.StatusCode), err)
	}
	if resp.StatusCode >= 300 || !strings.EqualFold(out.Status, "approved") {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("Payment declined (HTTP %d)", resp.StatusCode)
		}
		return Result{}, apierr.New(apierr.PaymentGateway, msg)
	}
	if out.TrxnID == "" {
		return Result{}, apierr.New(apierr.PaymentGateway, "Payment processor returned no transaction id")
	}
	return Result{TrxnID: out.TrxnID, FeeAmount: out.FeeAmount, Message: out.Message}, nil
}
