package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/store"
)

// recordingBatchStore captures created batches in memory.
type recordingBatchStore struct {
	created []*model.Batch
}

func (r *recordingBatchStore) CreateBatch(_ context.Context, b *model.Batch) error {
	b.Persisted = true
	r.created = append(r.created, b)
	return nil
}

func (r *recordingBatchStore) GetBatch(_ context.Context, id string) (*model.Batch, error) {
	for _, b := range r.created {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, store.ErrNotFound
}

func newTestService(t *testing.T, checker *Checker) (*Service, *recordingBatchStore) {
	t.Helper()
	st := &recordingBatchStore{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := testRegistry(t, "resolution")
	if checker == nil {
		checker = NewChecker(SizeQuotaPolicy{}, RoleRightsPolicy{}, reg)
	}
	return NewService(st, reg, checker, logger), st
}

func makeRequest() CreateRequest {
	return CreateRequest{
		CorrelationID: "corr-1",
		ProcessName:   "resample",
		Tenant:        "tenant-a",
		User:          "user@example.org",
		UserRole:      "REGISTERED_USER",
		Parameters:    map[string]string{"resolution": "300"},
		Filesets: map[string][]model.FileInput{
			"ds1": {{Name: "in.dat", Bytes: 500, Checksum: "abc123", Internal: true}},
		},
	}
}

func TestCheckAndCreatePersists(t *testing.T) {
	svc, st := newTestService(t, nil)

	b, err := svc.CheckAndCreate(context.Background(), makeRequest())
	if err != nil {
		t.Fatalf("CheckAndCreate: %v", err)
	}
	if !b.Persisted {
		t.Error("returned batch not marked persisted")
	}

	if len(st.created) != 1 {
		t.Fatalf("batches persisted = %d, want 1", len(st.created))
	}
	if st.created[0].CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", st.created[0].CorrelationID)
	}
}

func TestCheckAndCreateUnknownProcess(t *testing.T) {
	svc, st := newTestService(t, nil)

	req := makeRequest()
	req.ProcessName = "does-not-exist"

	_, err := svc.CheckAndCreate(context.Background(), req)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if len(st.created) != 0 {
		t.Errorf("batches persisted = %d, want 0", len(st.created))
	}
}

func TestCheckAndCreateReportsAllViolations(t *testing.T) {
	reg := testRegistry(t, "resolution", "format")
	checker := NewChecker(
		SizeQuotaPolicy{MaxTotalBytes: 100},
		RoleRightsPolicy{AllowedRoles: []string{"ADMIN"}},
		reg,
	)
	svc, st := newTestService(t, checker)

	req := makeRequest()
	req.Parameters = nil

	_, err := svc.CheckAndCreate(context.Background(), req)

	var cvErr *ConstraintViolationsError
	if !errors.As(err, &cvErr) {
		t.Fatalf("error = %v, want *ConstraintViolationsError", err)
	}
	if len(cvErr.Violations) != 4 {
		t.Errorf("len(Violations) = %d, want 4 (quota + rights + two parameters)", len(cvErr.Violations))
	}
	if len(st.created) != 0 {
		t.Errorf("batches persisted = %d, want 0 for rejected request", len(st.created))
	}
}

func TestCheckAndCreateGeneratesCorrelationID(t *testing.T) {
	svc, _ := newTestService(t, nil)

	req := makeRequest()
	req.CorrelationID = ""

	b, err := svc.CheckAndCreate(context.Background(), req)
	if err != nil {
		t.Fatalf("CheckAndCreate: %v", err)
	}
	if b.CorrelationID == "" {
		t.Error("correlation id not generated for request without one")
	}
}
