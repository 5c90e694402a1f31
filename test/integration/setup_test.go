//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/migrations"
)

// testDB holds the shared database for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

var globalDB *testDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, connStr, 30, 2)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}

	globalDB = &testDB{Pool: pool, ConnStr: connStr}
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

var testLogger = zerolog.Nop()

// createTenantSchema creates a hospital schema with every migration applied.
func createTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	if err := db.CreateTenantSchema(ctx, globalDB.Pool, tenantID, migrations.FS); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
	t.Cleanup(func() { dropTenantSchema(t, context.Background(), tenantID) })
}

func dropTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	schema := db.Schema(tenantID)
	if _, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
		t.Logf("warning: failed to drop schema %s: %v", schema, err)
	}
}

// withTenantConn pins a connection to the tenant schema for the duration of
// fn, the same way the tenant middleware does for a request.
func withTenantConn(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	conn, err := globalDB.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", db.Schema(tenantID))); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	ctx = context.WithValue(ctx, db.TenantIDKey, tenantID)
	ctx = context.WithValue(ctx, db.DBConnKey, conn)
	return fn(ctx)
}

func mustTenantConn(t *testing.T, ctx context.Context, tenantID string, fn func(ctx context.Context) error) {
	t.Helper()
	if err := withTenantConn(ctx, tenantID, fn); err != nil {
		t.Fatal(err)
	}
}

func uniqueTenantID(prefix string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	return fmt.Sprintf("%s_%s", prefix, short)
}

// nextWeekday returns the first day after today falling on wd, at midnight UTC.
func nextWeekday(wd time.Weekday) time.Time {
	d := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func newSchedulingService(pool *pgxpool.Pool) *scheduling.Service {
	svc := scheduling.NewService(scheduling.NewDoctorRepoPG(pool), scheduling.NewScheduleRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool), db.NewTxManager(pool), nil, nil, testLogger)
	svc.SetLocation(time.UTC)
	return svc
}

// createDoctorWithMondayClinic adds a doctor seeing capacity patients per
// 15 minute slot on Monday mornings.
func createDoctorWithMondayClinic(t *testing.T, ctx context.Context, svc *scheduling.Service, capacity int) *scheduling.Doctor {
	t.Helper()
	d := &scheduling.Doctor{Name: "Dr. Rao", Specialization: "Cardiology", Department: "OPD", ConsultationFee: 500}
	if err := svc.CreateDoctor(ctx, d); err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	_, err := svc.ReplaceSchedule(ctx, d.ID, []scheduling.ScheduleSlot{{
		DayOfWeek:       "Monday",
		StartTime:       scheduling.MustClock("09:00"),
		EndTime:         scheduling.MustClock("12:00"),
		MaxAppointments: capacity,
		SlotDuration:    15,
		Name:            "Morning OPD",
	}})
	if err != nil {
		t.Fatalf("replace schedule: %v", err)
	}
	return d
}
