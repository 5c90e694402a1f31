package scheduling

import (
	"context"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hms/hms/internal/platform/db"
)

type scheduleKey struct {
	tenant string
	doctor uuid.UUID
}

// CachedScheduleRepository keeps recently read weekly schedules in memory.
// Slot enumeration and booking read the same rows on every request while
// schedules change rarely. Entries are per tenant and doctor.
type CachedScheduleRepository struct {
	ScheduleRepository
	cache *lru.Cache[scheduleKey, []ScheduleSlot]
}

// NewCachedScheduleRepository wraps next with an LRU of size entries.
func NewCachedScheduleRepository(next ScheduleRepository, size int) (*CachedScheduleRepository, error) {
	cache, err := lru.New[scheduleKey, []ScheduleSlot](size)
	if err != nil {
		return nil, err
	}
	return &CachedScheduleRepository{ScheduleRepository: next, cache: cache}, nil
}

func (r *CachedScheduleRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]ScheduleSlot, error) {
	// Reads inside a transaction bypass the cache so they see uncommitted rows.
	if db.TxFromContext(ctx) != nil {
		return r.ScheduleRepository.ListByDoctor(ctx, doctorID)
	}
	key := scheduleKey{tenant: db.TenantFromContext(ctx), doctor: doctorID}
	if rows, ok := r.cache.Get(key); ok {
		return cloneRows(rows), nil
	}
	rows, err := r.ScheduleRepository.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, cloneRows(rows))
	return rows, nil
}

// Invalidate drops the cached schedule of doctorID in the tenant of ctx.
func (r *CachedScheduleRepository) Invalidate(ctx context.Context, doctorID uuid.UUID) {
	r.cache.Remove(scheduleKey{tenant: db.TenantFromContext(ctx), doctor: doctorID})
}

func (r *CachedScheduleRepository) Len() int { return r.cache.Len() }

func cloneRows(rows []ScheduleSlot) []ScheduleSlot {
	if rows == nil {
		return nil
	}
	out := make([]ScheduleSlot, len(rows))
	copy(out, rows)
	return out
}
