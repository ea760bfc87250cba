package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/evm"
	"github.com/modelgate/backend/internal/models"
	"github.com/modelgate/backend/internal/repositories"
	"go.uber.org/zap"
)

var (
	ErrNoActiveModel    = errors.New("no active model")
	ErrTemplateNotFound = errors.New("active model has no feature template")
)

// PaymentRequiredError carries the denied Decision so handlers can answer
// 402 with the verdict reason.
type PaymentRequiredError struct {
	Decision *Decision
}

func (e *PaymentRequiredError) Error() string {
	return "payment required: " + e.Decision.Reason
}

type ActiveModelSource interface {
	GetActive(ctx context.Context) (*models.MLModel, error)
}

type Inference interface {
	Predict(ctx context.Context, req InferenceRequest) (*PredictResult, error)
	EDA(ctx context.Context, req InferenceRequest) (*EDAResult, error)
}

type BlobReader interface {
	Open(key string) (io.ReadCloser, error)
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID uuid.UUID
	Wallet evm.Address
}

type PredictionResult struct {
	Grant  *models.Grant   `json:"grant"`
	Result json.RawMessage `json:"result"`
}

// PredictionService runs the paid operations. Each one goes through the
// access gate first and records a grant only after the work succeeded.
type PredictionService struct {
	gate      *AccessGate
	grants    GrantLedger
	models    ActiveModelSource
	inference Inference
	blobs     BlobReader
	log       *zap.Logger
}

func NewPredictionService(
	gate *AccessGate,
	grants GrantLedger,
	modelSource ActiveModelSource,
	inference Inference,
	blobs BlobReader,
	log *zap.Logger,
) *PredictionService {
	return &PredictionService{
		gate:      gate,
		grants:    grants,
		models:    modelSource,
		inference: inference,
		blobs:     blobs,
		log:       log,
	}
}

func (s *PredictionService) Predict(ctx context.Context, caller Caller, claimedHash string, features json.RawMessage) (*PredictionResult, error) {
	return s.run(ctx, models.CategoryPrediction, caller, claimedHash, func(m *models.MLModel) (json.RawMessage, error) {
		res, err := s.inference.Predict(ctx, InferenceRequest{ModelRef: m.ArtifactKey, Features: features})
		if err != nil {
			return nil, err
		}
		return res.Result, nil
	})
}

func (s *PredictionService) EDAReport(ctx context.Context, caller Caller, claimedHash string, features json.RawMessage) (*PredictionResult, error) {
	return s.run(ctx, models.CategoryEDA, caller, claimedHash, func(m *models.MLModel) (json.RawMessage, error) {
		res, err := s.inference.EDA(ctx, InferenceRequest{ModelRef: m.ArtifactKey, Features: features})
		if err != nil {
			return nil, err
		}
		return res.Report, nil
	})
}

func (s *PredictionService) run(
	ctx context.Context,
	category string,
	caller Caller,
	claimedHash string,
	work func(m *models.MLModel) (json.RawMessage, error),
) (*PredictionResult, error) {
	d, err := s.gate.Authorize(ctx, category, caller.Wallet, claimedHash)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, &PaymentRequiredError{Decision: d}
	}

	model, err := s.activeModel(ctx)
	if err != nil {
		return nil, err
	}

	result, err := work(model)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", category, err)
	}

	modelID := model.ID
	grant, err := s.gate.Commit(ctx, d, caller.UserID, models.GrantInput{
		ModelID: &modelID,
		Payload: result,
	})
	if err != nil {
		return nil, fmt.Errorf("record grant: %w", err)
	}

	return &PredictionResult{Grant: grant, Result: result}, nil
}

// Template is an opened feature template download.
type Template struct {
	Name string
	Body io.ReadCloser
}

// DownloadTemplate streams the active model's feature template. The download
// is gated like a prediction but does not record a grant.
func (s *PredictionService) DownloadTemplate(ctx context.Context, caller Caller, claimedHash string) (*Template, error) {
	d, err := s.gate.Authorize(ctx, models.CategoryPrediction, caller.Wallet, claimedHash)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, &PaymentRequiredError{Decision: d}
	}

	model, err := s.activeModel(ctx)
	if err != nil {
		return nil, err
	}
	if model.TemplateKey == nil {
		return nil, ErrTemplateNotFound
	}

	body, err := s.blobs.Open(*model.TemplateKey)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	return &Template{Name: path.Base(*model.TemplateKey), Body: body}, nil
}

func (s *PredictionService) ListPredictions(ctx context.Context, userID uuid.UUID, category string, limit, offset int) ([]models.Grant, error) {
	return s.grants.ListByUser(ctx, userID, category, limit, offset)
}

func (s *PredictionService) activeModel(ctx context.Context) (*models.MLModel, error) {
	m, err := s.models.GetActive(ctx)
	if errors.Is(err, repositories.ErrModelNotFound) {
		return nil, ErrNoActiveModel
	}
	return m, err
}
