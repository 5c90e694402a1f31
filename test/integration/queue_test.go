//go:build integration

package integration

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/queue"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/sequence"
)

// bookMany books n appointments spread over the Monday clinic, two per slot.
func bookMany(t *testing.T, ctx context.Context, tenantID string, n int) []uuid.UUID {
	t.Helper()
	svc := newSchedulingService(globalDB.Pool)
	monday := nextWeekday(time.Monday)
	var ids []uuid.UUID
	mustTenantConn(t, ctx, tenantID, func(ctx context.Context) error {
		doc := createDoctorWithMondayClinic(t, ctx, svc, 2)
		for i := 0; i < n; i++ {
			at := monday.Add(9*time.Hour + time.Duration(i/2)*15*time.Minute)
			a := &scheduling.Appointment{PatientID: uuid.New(), DoctorID: doc.ID, StartTime: at}
			if err := svc.CreateAppointment(ctx, a); err != nil {
				t.Fatalf("book appointment %d: %v", i, err)
			}
			ids = append(ids, a.ID)
		}
		return nil
	})
	return ids
}

func newQueueService(counter sequence.Counter) *queue.Service {
	pool := globalDB.Pool
	svc := queue.NewService(queue.NewReceptionRepoPG(pool), queue.NewTokenRepoPG(pool),
		queue.NewAppointmentLookupPG(pool), db.NewTxManager(pool), counter,
		queue.Settings{DailyReset: true, PrefixTemplate: "F{floor}"}, nil, nil, testLogger)
	svc.SetLocation(time.UTC)
	return svc
}

func issueConcurrently(t *testing.T, ctx context.Context, tenantID string, svc *queue.Service, receptionID uuid.UUID, appts []uuid.UUID, date time.Time) []*queue.Token {
	t.Helper()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens []*queue.Token
		errs   []error
	)
	for _, id := range appts {
		wg.Add(1)
		go func(apptID uuid.UUID) {
			defer wg.Done()
			err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
				tok, _, err := svc.IssueToken(ctx, apptID, receptionID, date)
				if err != nil {
					return err
				}
				mu.Lock()
				tokens = append(tokens, tok)
				mu.Unlock()
				return nil
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	if len(errs) > 0 {
		t.Fatalf("issue errors: %v", errs)
	}
	return tokens
}

func assertDenseSequences(t *testing.T, tokens []*queue.Token, n int) {
	t.Helper()
	if len(tokens) != n {
		t.Fatalf("expected %d tokens, got %d", n, len(tokens))
	}
	seqs := make([]int, 0, n)
	for _, tok := range tokens {
		seqs = append(seqs, tok.Sequence)
		if want := sequence.TokenNumber("F2", tok.Sequence); tok.TokenNumber != want {
			t.Errorf("token %d numbered %s, want %s", tok.Sequence, tok.TokenNumber, want)
		}
	}
	sort.Ints(seqs)
	for i, s := range seqs {
		if s != i+1 {
			t.Fatalf("expected sequences 1..%d without gaps, got %v", n, seqs)
		}
	}
}

func createReception(t *testing.T, ctx context.Context, tenantID string, svc *queue.Service) *queue.Reception {
	t.Helper()
	rec := &queue.Reception{Name: "Second floor desk", Code: "R2", FloorNumber: 2}
	mustTenantConn(t, ctx, tenantID, func(ctx context.Context) error {
		return svc.CreateReception(ctx, rec)
	})
	return rec
}

func TestQueue_ConcurrentIssueDatabaseBackend(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("queue")
	createTenantSchema(t, ctx, tenantID)

	const n = 20
	appts := bookMany(t, ctx, tenantID, n)
	svc := newQueueService(nil)
	rec := createReception(t, ctx, tenantID, svc)
	today := time.Now().UTC()

	tokens := issueConcurrently(t, ctx, tenantID, svc, rec.ID, appts, today)
	assertDenseSequences(t, tokens, n)

	// Issuing again for the same appointment returns the original token.
	mustTenantConn(t, ctx, tenantID, func(ctx context.Context) error {
		again, created, err := svc.IssueToken(ctx, appts[0], rec.ID, today)
		if err != nil {
			t.Fatalf("reissue: %v", err)
		}
		if created {
			t.Error("expected the existing token to be returned")
		}
		for _, tok := range tokens {
			if tok.AppointmentID == appts[0] && tok.ID != again.ID {
				t.Errorf("expected token %s, got %s", tok.ID, again.ID)
			}
		}

		first, err := svc.CallNext(ctx, rec.ID, today)
		if err != nil {
			t.Fatalf("CallNext: %v", err)
		}
		if first.Sequence != 1 || first.Status != queue.StatusInProgress {
			t.Errorf("expected sequence 1 to be called first, got %d (%s)", first.Sequence, first.Status)
		}
		return nil
	})
}

func TestQueue_IssueChecksAppointment(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("qappt")
	createTenantSchema(t, ctx, tenantID)

	appts := bookMany(t, ctx, tenantID, 1)
	svc := newQueueService(nil)
	rec := createReception(t, ctx, tenantID, svc)
	today := time.Now().UTC()

	mustTenantConn(t, ctx, tenantID, func(ctx context.Context) error {
		if _, _, err := svc.IssueToken(ctx, uuid.New(), rec.ID, today); !errors.Is(err, queue.ErrAppointmentNotFound) {
			t.Errorf("expected ErrAppointmentNotFound, got %v", err)
		}
		if _, err := newSchedulingService(globalDB.Pool).UpdateAppointmentStatus(ctx, appts[0], scheduling.StatusCancelled); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if _, _, err := svc.IssueToken(ctx, appts[0], rec.ID, today); !errors.Is(err, queue.ErrAppointmentClosed) {
			t.Errorf("expected ErrAppointmentClosed, got %v", err)
		}
		return nil
	})
}

func TestQueue_ConcurrentIssueRedisBackend(t *testing.T) {
	ctx := context.Background()
	url, cleanup, err := startRedis(ctx)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer cleanup()

	client, err := sequence.NewRedisClient(ctx, url)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	tenantID := uniqueTenantID("rqueue")
	createTenantSchema(t, ctx, tenantID)

	const n = 16
	appts := bookMany(t, ctx, tenantID, n)
	svc := newQueueService(sequence.NewRedisCounter(client, time.Hour))
	rec := createReception(t, ctx, tenantID, svc)

	tokens := issueConcurrently(t, ctx, tenantID, svc, rec.ID, appts, time.Now().UTC())
	assertDenseSequences(t, tokens, n)
}
