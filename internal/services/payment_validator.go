package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/evm"
	"github.com/modelgate/backend/internal/metrics"
	"github.com/modelgate/backend/internal/models"
	"github.com/modelgate/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrCannotVerify means the chain could not be asked. It is never a verdict:
// callers must surface it as retryable and must not deny the payment.
var ErrCannotVerify = errors.New("cannot verify payment")

// Denial reasons. Clients see them verbatim.
const (
	ReasonUserNotFound    = "user not found"
	ReasonNoRecentPayment = "no recent payment found"
	ReasonPaymentExpired  = "payment expired"
	ReasonTxNotFound      = "transaction not found"
	ReasonTxNotConfirmed  = "transaction not confirmed or failed"
	ReasonWrongContract   = "transaction not sent to correct contract"
	ReasonIncorrectAmount = "incorrect payment amount"
	ReasonTxTooOld        = "transaction too old"
	ReasonSenderMismatch  = "transaction not from user's wallet"
)

type ChainReader interface {
	GetTransaction(ctx context.Context, hash string) (*evm.Transaction, error)
	GetReceipt(ctx context.Context, hash string) (*evm.Receipt, error)
	CurrentBlockNumber(ctx context.Context) (uint64, error)
	RequiredPrice(ctx context.Context) (*big.Int, error)
}

type GrantLedger interface {
	RecordGrant(ctx context.Context, userID uuid.UUID, in models.GrantInput) (*models.Grant, error)
	MostRecentGrant(ctx context.Context, userID uuid.UUID, category string) (*models.Grant, error)
	ListByUser(ctx context.Context, userID uuid.UUID, category string, limit, offset int) ([]models.Grant, error)
}

type UserLookup interface {
	GetByWallet(ctx context.Context, wallet evm.Address) (*models.User, error)
}

// Verdict is either Valid or Invalid.
type Verdict interface {
	verdict()
}

type Valid struct {
	TransactionHash string
	Amount          *big.Int // wei
	PaymentTime     time.Time
	// ChainExpiresAt is when the transaction leaves the on-chain validity
	// window, estimated from the remaining blocks.
	ChainExpiresAt time.Time
}

type Invalid struct {
	Reason          string
	Detail          string
	TransactionHash string
	PaymentTime     *time.Time
	Expected        *big.Int
	Actual          *big.Int
}

func (Valid) verdict()   {}
func (Invalid) verdict() {}

func (v Invalid) Message() string {
	if v.Detail == "" {
		return v.Reason
	}
	return v.Reason + ": " + v.Detail
}

type ValidatorConfig struct {
	Contract      evm.Address
	GrantWindow   time.Duration
	ChainWindow   time.Duration
	BlockInterval time.Duration
}

// WindowBlocks is the chain validity window expressed in blocks.
func (c ValidatorConfig) WindowBlocks() uint64 {
	if c.BlockInterval <= 0 {
		return 0
	}
	return uint64(c.ChainWindow / c.BlockInterval)
}

type PaymentValidator struct {
	chain  ChainReader
	grants GrantLedger
	users  UserLookup
	cfg    ValidatorConfig
	rec    metrics.Recorder
	log    *zap.Logger
	now    func() time.Time
}

func NewPaymentValidator(
	chain ChainReader,
	grants GrantLedger,
	users UserLookup,
	cfg ValidatorConfig,
	rec metrics.Recorder,
	log *zap.Logger,
) *PaymentValidator {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &PaymentValidator{
		chain:  chain,
		grants: grants,
		users:  users,
		cfg:    cfg,
		rec:    rec,
		log:    log,
		now:    time.Now,
	}
}

// Validate decides whether wallet currently holds paid access to category.
// With a claimed hash the transaction is checked on chain only. Without one
// the most recent recorded grant is checked for age and then re-verified on
// chain.
func (v *PaymentValidator) Validate(ctx context.Context, category string, wallet evm.Address, claimedHash string) (Verdict, error) {
	var (
		verdict Verdict
		err     error
	)
	if claimedHash != "" {
		verdict, err = v.validateClaimed(ctx, wallet, claimedHash)
	} else {
		verdict, err = v.validateRecorded(ctx, category, wallet)
	}
	v.observe(category, wallet, verdict, err)
	return verdict, err
}

func (v *PaymentValidator) validateClaimed(ctx context.Context, wallet evm.Address, hash string) (Verdict, error) {
	proof, invalid, err := v.verifyOnChain(ctx, hash)
	if err != nil {
		return nil, err
	}
	if invalid != nil {
		return *invalid, nil
	}

	if proof.tx.From != wallet {
		return Invalid{
			Reason:          ReasonSenderMismatch,
			TransactionHash: proof.tx.Hash,
		}, nil
	}

	return Valid{
		TransactionHash: proof.tx.Hash,
		Amount:          proof.tx.Value,
		PaymentTime:     v.now(),
		ChainExpiresAt:  proof.expiresAt,
	}, nil
}

func (v *PaymentValidator) validateRecorded(ctx context.Context, category string, wallet evm.Address) (Verdict, error) {
	user, err := v.users.GetByWallet(ctx, wallet)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return Invalid{Reason: ReasonUserNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	grant, err := v.grants.MostRecentGrant(ctx, user.ID, category)
	if errors.Is(err, repositories.ErrGrantNotFound) {
		return Invalid{Reason: ReasonNoRecentPayment}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load grant: %w", err)
	}

	hash := *grant.TransactionHash
	paidAt := grant.CreatedAt

	if v.now().Sub(paidAt) > v.cfg.GrantWindow {
		return Invalid{
			Reason:          ReasonPaymentExpired,
			TransactionHash: hash,
			PaymentTime:     &paidAt,
		}, nil
	}

	proof, invalid, err := v.verifyOnChain(ctx, hash)
	if err != nil {
		return nil, err
	}
	if invalid != nil {
		invalid.PaymentTime = &paidAt
		return *invalid, nil
	}

	return Valid{
		TransactionHash: proof.tx.Hash,
		Amount:          proof.tx.Value,
		PaymentTime:     paidAt,
		ChainExpiresAt:  proof.expiresAt,
	}, nil
}

// chainProof is a transaction that passed every on-chain check.
type chainProof struct {
	tx        *evm.Transaction
	expiresAt time.Time
}

// verifyOnChain runs the checks in order: exists, confirmed, recipient,
// exact amount, age. It stops at the first failure.
func (v *PaymentValidator) verifyOnChain(ctx context.Context, hash string) (*chainProof, *Invalid, error) {
	h, err := evm.ParseTxHash(hash)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCannotVerify, err)
	}

	tx, err := v.chain.GetTransaction(ctx, h)
	if errors.Is(err, evm.ErrNotFound) {
		return nil, &Invalid{Reason: ReasonTxNotFound, TransactionHash: h}, nil
	}
	if err != nil {
		return nil, nil, cannotVerify(err)
	}

	rcpt, err := v.chain.GetReceipt(ctx, h)
	if errors.Is(err, evm.ErrNotFound) {
		return nil, &Invalid{Reason: ReasonTxNotConfirmed, TransactionHash: h}, nil
	}
	if err != nil {
		return nil, nil, cannotVerify(err)
	}
	if !rcpt.Success {
		return nil, &Invalid{Reason: ReasonTxNotConfirmed, TransactionHash: h}, nil
	}

	if tx.To == nil || *tx.To != v.cfg.Contract {
		return nil, &Invalid{Reason: ReasonWrongContract, TransactionHash: h}, nil
	}

	price, err := v.chain.RequiredPrice(ctx)
	if err != nil {
		return nil, nil, cannotVerify(err)
	}
	if tx.Value.Cmp(price) != 0 {
		return nil, &Invalid{
			Reason:          ReasonIncorrectAmount,
			Detail:          fmt.Sprintf("expected %s, got %s", FormatNative(price), FormatNative(tx.Value)),
			TransactionHash: h,
			Expected:        price,
			Actual:          tx.Value,
		}, nil
	}

	head, err := v.chain.CurrentBlockNumber(ctx)
	if err != nil {
		return nil, nil, cannotVerify(err)
	}
	var elapsed uint64
	if head > rcpt.BlockNumber {
		elapsed = head - rcpt.BlockNumber
	}
	window := v.cfg.WindowBlocks()
	if elapsed > window {
		return nil, &Invalid{
			Reason:          ReasonTxTooOld,
			Detail:          fmt.Sprintf("%d blocks elapsed, window is %d blocks", elapsed, window),
			TransactionHash: h,
		}, nil
	}

	remaining := time.Duration(window-elapsed) * v.cfg.BlockInterval
	return &chainProof{tx: tx, expiresAt: v.now().Add(remaining)}, nil, nil
}

// cannotVerify wraps chain reader failures other than ErrNotFound. None of
// them is a verdict.
func cannotVerify(err error) error {
	return fmt.Errorf("%w: %w", ErrCannotVerify, err)
}

func (v *PaymentValidator) observe(category string, wallet evm.Address, verdict Verdict, err error) {
	fields := []zap.Field{zap.String("category", category), zap.String("wallet", wallet.String())}

	switch res := verdict.(type) {
	case Valid:
		v.rec.IncCounter(metrics.PaymentVerdicts, map[string]string{"outcome": "valid"})
		v.log.Debug("payment valid", append(fields, zap.String("tx", res.TransactionHash))...)
	case Invalid:
		v.rec.IncCounter(metrics.PaymentVerdicts, map[string]string{"outcome": "invalid", "reason": res.Reason})
		v.log.Info("payment denied", append(fields, zap.String("reason", res.Message()), zap.String("tx", res.TransactionHash))...)
	default:
		if errors.Is(err, ErrCannotVerify) {
			v.rec.IncCounter(metrics.PaymentVerdicts, map[string]string{"outcome": "cannot_verify"})
			v.log.Warn("payment cannot be verified", append(fields, zap.Error(err))...)
		} else if err != nil {
			v.log.Error("payment validation failed", append(fields, zap.Error(err))...)
		}
	}
}

// FormatNative renders a wei amount in whole native currency units.
func FormatNative(wei *big.Int) string {
	if wei == nil {
		return "0 ETH"
	}
	return decimal.NewFromBigInt(wei, -18).String() + " ETH"
}
