package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/auth"
	"github.com/modelgate/backend/internal/config"
	"github.com/modelgate/backend/internal/evm"
	"github.com/modelgate/backend/internal/models"
	"github.com/modelgate/backend/internal/rbac"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid wallet signature")

type NonceStore interface {
	CreateNonce(ctx context.Context, address evm.Address, ttl time.Duration) (*models.SignInNonce, error)
	ConsumeNonce(ctx context.Context, address evm.Address, nonce string) (*models.SignInNonce, error)
}

type UserStore interface {
	UpsertByWallet(ctx context.Context, wallet evm.Address, role string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// WalletService signs users in by wallet signature.
type WalletService struct {
	nonces NonceStore
	users  UserStore
	audit  AuditLogger
	cfg    *config.Config
	log    *zap.Logger
}

func NewWalletService(
	nonces NonceStore,
	users UserStore,
	audit AuditLogger,
	cfg *config.Config,
	log *zap.Logger,
) *WalletService {
	return &WalletService{
		nonces: nonces,
		users:  users,
		audit:  audit,
		cfg:    cfg,
		log:    log,
	}
}

type SignInChallenge struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueNonce creates a one-time challenge for address. The wallet signs
// Message with personal_sign.
func (s *WalletService) IssueNonce(ctx context.Context, address evm.Address) (*SignInChallenge, error) {
	n, err := s.nonces.CreateNonce(ctx, address, s.cfg.SignInNonceTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create sign-in nonce: %w", err)
	}
	return &SignInChallenge{
		Nonce:     n.Nonce,
		Message:   evm.SignInMessage(s.cfg.AuthDomain, n.Nonce),
		ExpiresAt: n.ExpiresAt,
	}, nil
}

type SignInResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *WalletService) SignIn(ctx context.Context, address evm.Address, nonce, signature string) (*SignInResult, error) {
	// 1. Consume nonce: replay protection
	if _, err := s.nonces.ConsumeNonce(ctx, address, nonce); err != nil {
		return nil, err
	}

	// 2. Signature must recover to the address
	if err := evm.VerifySignIn(address, s.cfg.AuthDomain, nonce, signature); err != nil {
		s.log.Info("wallet sign-in rejected", zap.String("address", address.String()), zap.Error(err))
		return nil, ErrInvalidSignature
	}

	// 3. Create or refresh the user
	role := rbac.RoleFor(s.cfg.IsAdmin(address))
	user, err := s.users.UpsertByWallet(ctx, address, role)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, user.ID, user.WalletAddress.String(), user.Role, s.cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	entityID := user.ID.String()
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &user.ID,
		ActorType:   models.ActorUser,
		Action:      models.AuditSignIn,
		EntityType:  "user",
		EntityID:    &entityID,
		Meta:        map[string]any{"address": address.String(), "role": user.Role},
	})

	s.log.Info("wallet signed in",
		zap.String("user_id", user.ID.String()),
		zap.String("address", address.String()),
		zap.String("role", user.Role),
	)

	return &SignInResult{Token: token, User: user}, nil
}

func (s *WalletService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}
