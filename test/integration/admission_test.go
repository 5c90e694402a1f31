//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/admission"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/db"
)

func newAdmissionService() *admission.Service {
	pool := globalDB.Pool
	return admission.NewService(admission.NewAdmissionRepoPG(pool), admission.NewTransferRepoPG(pool),
		admission.NewCertificateRepoPG(pool), db.NewTxManager(pool), testLogger)
}

func createDoctor(t *testing.T, ctx context.Context, tenantID string) uuid.UUID {
	t.Helper()
	d := &scheduling.Doctor{Name: "Dr. Iyer", Specialization: "General Medicine", Department: "IPD"}
	mustTenantConn(t, ctx, tenantID, func(ctx context.Context) error {
		return newSchedulingService(globalDB.Pool).CreateDoctor(ctx, d)
	})
	return d.ID
}

func TestAdmission_OneOccupantPerBed(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("adm")
	createTenantSchema(t, ctx, tenantID)
	doctorID := createDoctor(t, ctx, tenantID)
	svc := newAdmissionService()

	const attempts = 6
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		admitted   []*admission.Admission
		occupied   int
		unexpected []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Mixed case still names the same bed.
			ward := "General"
			if i%2 == 1 {
				ward = "GENERAL"
			}
			a := &admission.Admission{PatientID: uuid.New(), DoctorID: doctorID, Ward: ward, BedNumber: "G-12"}
			err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
				return svc.Admit(ctx, a)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted = append(admitted, a)
			case errors.Is(err, admission.ErrBedOccupied):
				occupied++
			default:
				unexpected = append(unexpected, err)
			}
		}(i)
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if len(admitted) != 1 || occupied != attempts-1 {
		t.Fatalf("expected 1 admission and %d rejections, got %d and %d", attempts-1, len(admitted), occupied)
	}

	mustTenantConn(t, ctx, tenantID, func(ctx context.Context) error {
		adm := admitted[0]
		if _, err := svc.Transfer(ctx, adm.ID, "ICU", "I-1", nil); err != nil {
			t.Fatalf("Transfer: %v", err)
		}
		// The old bed is free again.
		next := &admission.Admission{PatientID: uuid.New(), DoctorID: doctorID, Ward: "General", BedNumber: "G-12"}
		if err := svc.Admit(ctx, next); err != nil {
			t.Fatalf("Admit into freed bed: %v", err)
		}
		transfers, err := svc.ListTransfers(ctx, adm.ID)
		if err != nil {
			t.Fatalf("ListTransfers: %v", err)
		}
		if len(transfers) != 1 || transfers[0].ToWard != "ICU" {
			t.Errorf("expected one transfer to ICU, got %+v", transfers)
		}
		if _, err := svc.Discharge(ctx, adm.ID); err != nil {
			t.Fatalf("Discharge: %v", err)
		}
		if _, err := svc.Discharge(ctx, adm.ID); !errors.Is(err, admission.ErrNotAdmitted) {
			t.Errorf("expected a second discharge to fail, got %v", err)
		}
		return nil
	})
}
