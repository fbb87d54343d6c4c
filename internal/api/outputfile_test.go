package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datalith/procflow/internal/model"
)

func TestOutputFilesDownloaded(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	f := &model.OutputFile{
		ID:          model.NewID(),
		ExecutionID: "exec-1",
		ObjectKey:   "tenant-a/exec-1/out.nc",
		Name:        "out.nc",
		Bytes:       10,
		CreatedAt:   time.Now().UTC(),
	}
	if err := env.store.CreateOutputFile(context.Background(), f); err != nil {
		t.Fatalf("CreateOutputFile: %v", err)
	}

	resp := postJSON(t, ts.URL+"/v1/outputfiles/downloaded",
		`{"ids": ["`+f.ID+`", "missing"]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body downloadedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Acknowledged != 1 {
		t.Errorf("Acknowledged = %d, want 1", body.Acknowledged)
	}
	if len(body.Unknown) != 1 || body.Unknown[0] != "missing" {
		t.Errorf("Unknown = %v, want [missing]", body.Unknown)
	}

	files, err := env.store.OutputFilesByID(context.Background(), []string{f.ID})
	if err != nil {
		t.Fatalf("OutputFilesByID: %v", err)
	}
	if len(files) != 1 || !files[0].Downloaded {
		t.Error("file not flagged downloaded through the API")
	}
}

func TestOutputFilesDownloadedValidation(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	for name, body := range map[string]string{
		"malformed json": "{",
		"empty ids":      `{"ids": []}`,
	} {
		resp := postJSON(t, ts.URL+"/v1/outputfiles/downloaded", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
}
