package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/datalith/procflow/internal/api"
	"github.com/datalith/procflow/internal/batch"
	"github.com/datalith/procflow/internal/download"
	"github.com/datalith/procflow/internal/execution"
	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/monitoring"
	"github.com/datalith/procflow/internal/outputfile"
	"github.com/datalith/procflow/internal/process"
	"github.com/datalith/procflow/internal/process/shell"
	"github.com/datalith/procflow/internal/store"
	"github.com/datalith/procflow/internal/sweep"
)

// memStorage is an in-memory stand-in for the shared object store.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (m *memStorage) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object %q", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStorage) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

// flowServer assembles the whole stack: sqlite store, shell engine,
// download service against a stubbed internal storage, and the HTTP
// surface.
type flowServer struct {
	ts      *httptest.Server
	store   *store.SQLiteStore
	execs   *execution.Service
	outputs *outputfile.Service
	storage *memStorage
}

func newFlowServer(t *testing.T, inputContent string) *flowServer {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	// Internal storage collaborator serving checksum-addressed content.
	internalStorage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/files/") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, inputContent)
	}))
	t.Cleanup(internalStorage.Close)

	downloader, err := download.New(download.Config{StorageEndpoint: internalStorage.URL}, logger)
	if err != nil {
		t.Fatalf("download.New: %v", err)
	}

	eng, err := shell.NewEngine(
		[]string{"sh", "-c", `tr 'a-z' 'A-Z' < "$PROCFLOW_INPUT_DIR"/in.txt > "$PROCFLOW_OUTPUT_DIR"/out.txt`},
		"", logger,
	)
	if err != nil {
		t.Fatalf("shell.NewEngine: %v", err)
	}

	forecast, err := process.ParseForecast("10s+1s/100b")
	if err != nil {
		t.Fatalf("ParseForecast: %v", err)
	}
	reg := process.NewRegistry()
	err = reg.Register(&process.Process{
		Name:       "uppercase",
		BusinessID: uuid.New(),
		Forecast:   forecast,
		Engine:     eng,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	storage := newMemStorage()
	checker := batch.NewChecker(batch.SizeQuotaPolicy{}, batch.RoleRightsPolicy{}, reg)
	batches := batch.NewService(st, reg, checker, logger)
	notifier := execution.NewNotifier(st, logger)
	execs := execution.NewService(st, reg, storage, downloader, notifier, t.TempDir(), logger)
	t.Cleanup(execs.Wait)
	monitor := monitoring.NewService(st, reg, logger)
	outputs := outputfile.NewService(st, storage, logger)

	srv := api.NewServer(":0", batches, execs, monitor, outputs, reg, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &flowServer{ts: ts, store: st, execs: execs, outputs: outputs, storage: storage}
}

func (f *flowServer) postJSON(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(f.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode POST %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (f *flowServer) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode GET %s response: %v", path, err)
	}
	return resp.StatusCode
}

// pollStatus waits until the execution reaches the wanted status.
func (f *flowServer) pollStatus(t *testing.T, executionID, want string) model.Execution {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var e model.Execution
	for time.Now().Before(deadline) {
		f.getJSON(t, "/v1/executions/"+executionID, &e)
		if e.CurrentStatus() == want {
			return e
		}
		if e.Terminal() {
			t.Fatalf("execution ended %q, want %q; steps: %+v", e.CurrentStatus(), want, e.Steps)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("execution never reached %q; last steps: %+v", want, e.Steps)
	return e
}

func TestFullProcessingFlow(t *testing.T) {
	content := "hello processing\n"
	f := newFlowServer(t, content)

	var b model.Batch
	status := f.postJSON(t, "/v1/batches", `{
		"process_name": "uppercase",
		"tenant": "tenant-a",
		"user": "user@example.org",
		"user_role": "REGISTERED_USER",
		"filesets": {"raw": [{"name": "in.txt", "checksum": "abc123", "bytes": 17, "internal": true}]}
	}`, &b)
	if status != http.StatusCreated {
		t.Fatalf("create batch status = %d", status)
	}

	var e model.Execution
	status = f.postJSON(t, "/v1/executions", fmt.Sprintf(`{
		"batch_id": %q,
		"inputs": [{"name": "in.txt", "checksum": "abc123", "bytes": 17, "internal": true}]
	}`, b.ID), &e)
	if status != http.StatusCreated {
		t.Fatalf("launch status = %d", status)
	}

	done := f.pollStatus(t, e.ID, model.StatusSuccess)

	// prepare, running, success in order.
	var seen []string
	for _, step := range done.Steps {
		seen = append(seen, step.Status)
	}
	want := []string{model.StatusPrepare, model.StatusRunning, model.StatusSuccess}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("steps = %v, want %v", seen, want)
	}

	// The produced file is in shared storage and recorded.
	var files []model.OutputFile
	if status := f.getJSON(t, "/v1/executions/"+e.ID+"/outputfiles", &files); status != http.StatusOK {
		t.Fatalf("list output files status = %d", status)
	}
	if len(files) != 1 {
		t.Fatalf("output files = %+v, want one", files)
	}
	out := files[0]
	if out.Name != "out.txt" || out.Downloaded || out.Deleted {
		t.Errorf("output = %+v", out)
	}

	obj, err := f.storage.Get(context.Background(), out.ObjectKey)
	if err != nil {
		t.Fatalf("Get stored object: %v", err)
	}
	stored, _ := io.ReadAll(obj)
	obj.Close()
	if got := string(stored); got != strings.ToUpper(content) {
		t.Errorf("stored object = %q, want uppercased input", got)
	}

	// Acknowledge the download, then sweep it out of storage.
	var ack struct {
		Acknowledged int `json:"acknowledged"`
	}
	if status := f.postJSON(t, "/v1/outputfiles/downloaded",
		`{"ids": [`+fmt.Sprintf("%q", out.ID)+`]}`, &ack); status != http.StatusOK {
		t.Fatalf("acknowledge status = %d", status)
	}
	if ack.Acknowledged != 1 {
		t.Errorf("acknowledged = %d, want 1", ack.Acknowledged)
	}

	f.outputs.DeleteDownloaded(context.Background())
	if keys := f.storage.keys(); len(keys) != 0 {
		t.Errorf("storage still holds %v after cleanup", keys)
	}

	f.getJSON(t, "/v1/executions/"+e.ID+"/outputfiles", &files)
	if len(files) != 1 || !files[0].Deleted {
		t.Errorf("output after cleanup = %+v, want deleted flag", files)
	}
}

func TestTimeoutSweepEndToEnd(t *testing.T) {
	f := newFlowServer(t, "x")
	ctx := context.Background()
	now := time.Now().UTC()

	// An execution whose engine never reported back and whose deadline
	// has long passed.
	stuck := &model.Execution{
		ID: model.NewID(), BatchID: "b1", CorrelationID: "c1", BatchCorrelationID: "bc1",
		Tenant: "tenant-a", User: "user@example.org",
		ProcessBusinessID: uuid.NewString(), ProcessName: "uppercase",
		CreatedAt: now.Add(-time.Hour), Deadline: now.Add(-30 * time.Minute),
		Steps:       []model.Step{{Status: model.StatusRunning, Time: now.Add(-time.Hour)}},
		LastUpdated: now,
	}
	if err := f.store.CreateExecution(ctx, stuck); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	runner := sweep.NewRunner("timeouts", 10*time.Millisecond, 0,
		f.execs.NotifyTimeouts, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	sweepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go runner.Run(sweepCtx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.store.GetExecution(ctx, stuck.ID)
		if err != nil {
			t.Fatalf("GetExecution: %v", err)
		}
		if got.CurrentStatus() == model.StatusTimeout {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweep never recorded the timeout")
}
