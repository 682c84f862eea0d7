package payment

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/donorline/donorline-go/internal/apierr"
)

// dummySession approves every charge except the configured decline amounts. It never moves
// money and exists for test mode and demos.
type dummySession struct {
	cfg Config
}

func newDummySession(cfg Config) *dummySession {
	return &dummySession{cfg: cfg}
}

func (s *dummySession) DirectPayment(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, apierr.Wrap(apierr.PaymentGateway, "payment cancelled", err)
	}
	if req.Amount <= 0 {
		return Result{}, apierr.New(apierr.PaymentGateway, "Amount must be greater than zero")
	}
	for _, declined := range s.cfg.Settings.DeclineAmounts {
		if math.Abs(declined-req.Amount) < 0.005 {
			return Result{}, apierr.New(apierr.PaymentGateway, "Your card was declined")
		}
	}
	fee := math.Round(req.Amount*s.cfg.Settings.FeePercent) / 100
	return Result{
		TrxnID:    "dummy-" + uuid.NewString(),
		FeeAmount: fee,
		Message:   "approved",
	}, nil
}
