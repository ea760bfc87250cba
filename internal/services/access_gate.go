package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/cache"
	"github.com/modelgate/backend/internal/events"
	"github.com/modelgate/backend/internal/evm"
	"github.com/modelgate/backend/internal/models"
	"go.uber.org/zap"
)

var ErrAccessDenied = errors.New("access denied")

const ReasonGateDisabled = "gate disabled"

type StatusStore interface {
	Get(ctx context.Context, category string, wallet evm.Address) (*cache.StatusEntry, error)
	Set(ctx context.Context, category string, wallet evm.Address, e cache.StatusEntry, ttl time.Duration) error
	Invalidate(ctx context.Context, category string, wallet evm.Address) error
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// Decision is what a protected operation gets back from Authorize.
type Decision struct {
	Allowed         bool
	Reason          string
	Category        string
	Wallet          evm.Address
	TransactionHash string
	Amount          *big.Int
	PaymentTime     *time.Time
	GateEnabled     bool
}

// AccessGate is the one check every paid operation goes through. Authorize
// before doing the work, Commit after it succeeded.
type AccessGate struct {
	validator *PaymentValidator
	grants    GrantLedger
	status    StatusStore
	audit     AuditLogger
	publisher events.Publisher
	enabled   bool
	log       *zap.Logger
}

func NewAccessGate(
	validator *PaymentValidator,
	grants GrantLedger,
	status StatusStore,
	audit AuditLogger,
	publisher events.Publisher,
	enabled bool,
	log *zap.Logger,
) *AccessGate {
	return &AccessGate{
		validator: validator,
		grants:    grants,
		status:    status,
		audit:     audit,
		publisher: publisher,
		enabled:   enabled,
		log:       log,
	}
}

func (g *AccessGate) Enabled() bool {
	return g.enabled
}

// Authorize returns a Decision for every verdict. The error is reserved for
// ErrCannotVerify and infrastructure failures.
func (g *AccessGate) Authorize(ctx context.Context, category string, wallet evm.Address, claimedHash string) (*Decision, error) {
	if !g.enabled {
		return &Decision{
			Allowed:     true,
			Reason:      ReasonGateDisabled,
			Category:    category,
			Wallet:      wallet,
			GateEnabled: false,
		}, nil
	}

	verdict, err := g.validator.Validate(ctx, category, wallet, claimedHash)
	if err != nil {
		return nil, err
	}

	d := &Decision{Category: category, Wallet: wallet, GateEnabled: true}
	switch v := verdict.(type) {
	case Valid:
		paid := v.PaymentTime
		d.Allowed = true
		d.TransactionHash = v.TransactionHash
		d.Amount = v.Amount
		d.PaymentTime = &paid
	case Invalid:
		d.Reason = v.Message()
		d.TransactionHash = v.TransactionHash
		d.PaymentTime = v.PaymentTime
	default:
		return nil, fmt.Errorf("unexpected verdict %T", verdict)
	}
	return d, nil
}

// Commit appends the grant for an operation that completed under d. With the
// gate disabled the grant carries no transaction hash, so it never counts as
// proof of payment.
func (g *AccessGate) Commit(ctx context.Context, d *Decision, userID uuid.UUID, in models.GrantInput) (*models.Grant, error) {
	if d == nil || !d.Allowed {
		return nil, ErrAccessDenied
	}

	in.Category = d.Category
	in.TransactionHash = nil
	in.AmountWei = nil
	if d.GateEnabled && d.TransactionHash != "" {
		hash := d.TransactionHash
		in.TransactionHash = &hash
		if d.Amount != nil {
			amount := d.Amount.String()
			in.AmountWei = &amount
		}
	}

	grant, err := g.grants.RecordGrant(ctx, userID, in)
	if err != nil {
		return nil, err
	}

	if g.status != nil {
		if err := g.status.Invalidate(ctx, d.Category, d.Wallet); err != nil {
			g.log.Warn("failed to invalidate payment status", zap.Error(err))
		}
	}

	grantID := strconv.FormatInt(grant.ID, 10)
	_ = g.audit.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   models.ActorUser,
		Action:      models.AuditGrantRecorded,
		EntityType:  "access_grant",
		EntityID:    &grantID,
		Meta: map[string]any{
			"category":     d.Category,
			"tx_hash":      d.TransactionHash,
			"gate_enabled": d.GateEnabled,
		},
	})

	if g.publisher != nil {
		_ = g.publisher.Publish(ctx, events.StreamPayments, events.Event{
			Type:   events.EventPaymentGranted,
			UserID: userID.String(),
			Payload: map[string]any{
				"grant_id":         grant.ID,
				"category":         grant.Category,
				"transaction_hash": d.TransactionHash,
				"gate_enabled":     d.GateEnabled,
			},
		})
	}

	g.log.Info("access granted",
		zap.String("user_id", userID.String()),
		zap.String("category", d.Category),
		zap.Int64("grant_id", grant.ID),
		zap.Bool("gate_enabled", d.GateEnabled),
	)
	return grant, nil
}
