package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/modelgate/backend/internal/cache"
	"github.com/modelgate/backend/internal/evm"
	"go.uber.org/zap"
)

type PaymentStatus struct {
	HasValidPayment bool       `json:"has_valid_payment"`
	LastPaymentTime *time.Time `json:"last_payment_time"`
	TransactionHash *string    `json:"transaction_hash"`
	ExpiresAt       *time.Time `json:"expires_at"`
	AmountPaid      *string    `json:"amount_paid,omitempty"`
	GateEnabled     bool       `json:"gate_enabled"`
	Reason          string     `json:"reason,omitempty"`
}

// StatusReporter answers "am I still covered" without writing anything.
// Valid verdicts are cached for a short time; a cached entry never outlives
// the grant's own expiry.
type StatusReporter struct {
	validator *PaymentValidator
	cache     StatusStore
	window    time.Duration
	cacheTTL  time.Duration
	enabled   bool
	log       *zap.Logger
	now       func() time.Time
}

func NewStatusReporter(
	validator *PaymentValidator,
	statusCache StatusStore,
	window, cacheTTL time.Duration,
	enabled bool,
	log *zap.Logger,
) *StatusReporter {
	return &StatusReporter{
		validator: validator,
		cache:     statusCache,
		window:    window,
		cacheTTL:  cacheTTL,
		enabled:   enabled,
		log:       log,
		now:       time.Now,
	}
}

func (r *StatusReporter) GetStatus(ctx context.Context, category string, wallet evm.Address) (*PaymentStatus, error) {
	if !r.enabled {
		return &PaymentStatus{HasValidPayment: true, GateEnabled: false, Reason: ReasonGateDisabled}, nil
	}

	now := r.now()
	if r.cache != nil {
		entry, err := r.cache.Get(ctx, category, wallet)
		if err != nil {
			r.log.Warn("payment status cache read failed", zap.Error(err))
		}
		if entry != nil && now.Before(entry.ExpiresAt) {
			return statusFromEntry(entry), nil
		}
	}

	verdict, err := r.validator.Validate(ctx, category, wallet, "")
	if err != nil {
		return nil, err
	}

	switch v := verdict.(type) {
	case Valid:
		entry := cache.StatusEntry{
			TransactionHash: v.TransactionHash,
			AmountWei:       amountString(v.Amount),
			PaymentTime:     v.PaymentTime,
			ExpiresAt:       r.expiresAt(v),
		}
		if r.cache != nil {
			ttl := r.cacheTTL
			if left := entry.ExpiresAt.Sub(now); left < ttl {
				ttl = left
			}
			if err := r.cache.Set(ctx, category, wallet, entry, ttl); err != nil {
				r.log.Warn("payment status cache write failed", zap.Error(err))
			}
		}
		return statusFromEntry(&entry), nil
	case Invalid:
		st := &PaymentStatus{
			GateEnabled:     true,
			Reason:          v.Message(),
			LastPaymentTime: v.PaymentTime,
		}
		if v.TransactionHash != "" {
			hash := v.TransactionHash
			st.TransactionHash = &hash
		}
		if v.PaymentTime != nil {
			exp := v.PaymentTime.Add(r.window)
			st.ExpiresAt = &exp
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unexpected verdict %T", verdict)
	}
}

// expiresAt is the earlier of the grant expiry and the moment the transaction
// leaves the on-chain window.
func (r *StatusReporter) expiresAt(v Valid) time.Time {
	exp := v.PaymentTime.Add(r.window)
	if !v.ChainExpiresAt.IsZero() && v.ChainExpiresAt.Before(exp) {
		exp = v.ChainExpiresAt
	}
	return exp
}

func statusFromEntry(e *cache.StatusEntry) *PaymentStatus {
	paid, exp, hash := e.PaymentTime, e.ExpiresAt, e.TransactionHash
	st := &PaymentStatus{
		HasValidPayment: true,
		LastPaymentTime: &paid,
		TransactionHash: &hash,
		ExpiresAt:       &exp,
		GateEnabled:     true,
	}
	if e.AmountWei != "" {
		if wei, ok := new(big.Int).SetString(e.AmountWei, 10); ok {
			amount := FormatNative(wei)
			st.AmountPaid = &amount
		}
	}
	return st
}

func amountString(wei *big.Int) string {
	if wei == nil {
		return ""
	}
	return wei.String()
}
