package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/events"
	"github.com/modelgate/backend/internal/models"
	"go.uber.org/zap"
)

var ErrInvalidUpload = errors.New("invalid model upload")

type ModelStore interface {
	Create(ctx context.Context, m *models.MLModel) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MLModel, error)
	GetActive(ctx context.Context) (*models.MLModel, error)
	List(ctx context.Context, limit, offset int) ([]models.MLModel, error)
	Activate(ctx context.Context, id uuid.UUID) (*models.MLModel, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
}

type ModelService struct {
	models    ModelStore
	blobs     BlobStore
	audit     AuditLogger
	publisher events.Publisher
	log       *zap.Logger
}

func NewModelService(store ModelStore, blobs BlobStore, audit AuditLogger, publisher events.Publisher, log *zap.Logger) *ModelService {
	return &ModelService{
		models:    store,
		blobs:     blobs,
		audit:     audit,
		publisher: publisher,
		log:       log,
	}
}

type UploadFile struct {
	Filename string
	Data     []byte
}

type UploadModelInput struct {
	Name        string
	Description string
	Artifact    UploadFile
	Template    *UploadFile
}

// Upload stores the artifact (and optional template) and registers the
// model as inactive. Blobs are removed again if registration fails.
func (s *ModelService) Upload(ctx context.Context, adminID uuid.UUID, in UploadModelInput) (*models.MLModel, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidUpload)
	}
	if len(in.Artifact.Data) == 0 {
		return nil, fmt.Errorf("%w: artifact is empty", ErrInvalidUpload)
	}

	m := &models.MLModel{
		ID:          uuid.New(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		UploadedBy:  adminID,
	}
	m.ArtifactKey = blobKey(m.ID, "artifact", in.Artifact.Filename)

	var stored []string
	cleanup := func() {
		for _, key := range stored {
			if err := s.blobs.Delete(key); err != nil {
				s.log.Warn("failed to remove orphaned blob", zap.String("key", key), zap.Error(err))
			}
		}
	}

	if err := s.blobs.Put(ctx, m.ArtifactKey, in.Artifact.Data); err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}
	stored = append(stored, m.ArtifactKey)

	if in.Template != nil && len(in.Template.Data) > 0 {
		key := blobKey(m.ID, "template", in.Template.Filename)
		if err := s.blobs.Put(ctx, key, in.Template.Data); err != nil {
			cleanup()
			return nil, fmt.Errorf("store template: %w", err)
		}
		stored = append(stored, key)
		m.TemplateKey = &key
	}

	if err := s.models.Create(ctx, m); err != nil {
		cleanup()
		return nil, fmt.Errorf("register model: %w", err)
	}

	entityID := m.ID.String()
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &adminID,
		ActorType:   models.ActorAdmin,
		Action:      models.AuditModelUploaded,
		EntityType:  "ml_model",
		EntityID:    &entityID,
		Meta:        map[string]any{"name": m.Name, "artifact_bytes": len(in.Artifact.Data)},
	})

	s.log.Info("model uploaded", zap.String("model_id", entityID), zap.String("name", m.Name))
	return m, nil
}

// Activate makes id the single active model.
func (s *ModelService) Activate(ctx context.Context, adminID, id uuid.UUID) (*models.MLModel, error) {
	m, err := s.models.Activate(ctx, id)
	if err != nil {
		return nil, err
	}

	entityID := m.ID.String()
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &adminID,
		ActorType:   models.ActorAdmin,
		Action:      models.AuditModelActivated,
		EntityType:  "ml_model",
		EntityID:    &entityID,
	})

	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, events.StreamPayments, events.Event{
			Type:    events.EventModelActivated,
			Payload: map[string]any{"model_id": entityID, "name": m.Name},
		})
	}

	s.log.Info("model activated", zap.String("model_id", entityID))
	return m, nil
}

func (s *ModelService) GetActive(ctx context.Context) (*models.MLModel, error) {
	return s.models.GetActive(ctx)
}

func (s *ModelService) List(ctx context.Context, limit, offset int) ([]models.MLModel, error) {
	return s.models.List(ctx, limit, offset)
}

// blobKey builds models/<id>/<kind><ext>. Only a short alphanumeric
// extension from the client's filename survives.
func blobKey(id uuid.UUID, kind, filename string) string {
	return "models/" + id.String() + "/" + kind + safeExt(filename)
}

func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}
