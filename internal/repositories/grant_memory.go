package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/models"
)

// MemoryGrantRepo is an in-process ledger with the same ordering rules as
// GrantRepo. It backs tests and single-node runs without Postgres.
type MemoryGrantRepo struct {
	mu     sync.RWMutex
	seq    int64
	grants map[uuid.UUID][]models.Grant
	now    func() time.Time
}

func NewMemoryGrantRepo() *MemoryGrantRepo {
	return &MemoryGrantRepo{
		grants: make(map[uuid.UUID][]models.Grant),
		now:    time.Now,
	}
}

// WithClock replaces the clock used for CreatedAt.
func (r *MemoryGrantRepo) WithClock(now func() time.Time) *MemoryGrantRepo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

func (r *MemoryGrantRepo) RecordGrant(_ context.Context, userID uuid.UUID, in models.GrantInput) (*models.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	g := models.Grant{
		ID:              r.seq,
		UserID:          userID,
		Category:        in.Category,
		ModelID:         in.ModelID,
		TransactionHash: copyString(in.TransactionHash),
		AmountWei:       copyString(in.AmountWei),
		Payload:         append([]byte(nil), in.Payload...),
		CreatedAt:       r.now(),
	}
	r.grants[userID] = append(r.grants[userID], g)

	out := g
	return &out, nil
}

func (r *MemoryGrantRepo) MostRecentGrant(_ context.Context, userID uuid.UUID, category string) (*models.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.Grant
	for i := range r.grants[userID] {
		g := &r.grants[userID][i]
		if g.Category != category || g.TransactionHash == nil {
			continue
		}
		if best == nil || newer(g, best) {
			best = g
		}
	}
	if best == nil {
		return nil, ErrGrantNotFound
	}
	out := *best
	return &out, nil
}

func (r *MemoryGrantRepo) ListByUser(_ context.Context, userID uuid.UUID, category string, limit, offset int) ([]models.Grant, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	var out []models.Grant
	for _, g := range r.grants[userID] {
		if category == "" || g.Category == category {
			out = append(out, g)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return newer(&out[i], &out[j]) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newer(a, b *models.Grant) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
