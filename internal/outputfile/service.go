// Package outputfile manages the lifecycle of files produced by
// executions after the engine has stored them: marking them downloaded
// on client acknowledgment and purging downloaded files from shared
// storage.
package outputfile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/process"
	"github.com/datalith/procflow/internal/store"
)

var filesDeleted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "procflow_outputfiles_deleted_total",
		Help: "Total number of output files purged from shared storage.",
	},
)

func init() {
	prometheus.MustRegister(filesDeleted)
}

// Service tracks output files after production.
type Service struct {
	store   store.OutputFileStore
	storage process.ObjectStorage
	logger  *slog.Logger
}

// NewService creates an output-file service.
func NewService(s store.OutputFileStore, storage process.ObjectStorage, logger *slog.Logger) *Service {
	return &Service{store: s, storage: storage, logger: logger}
}

// ByExecution returns every output file the execution produced.
func (s *Service) ByExecution(ctx context.Context, executionID string) ([]*model.OutputFile, error) {
	files, err := s.store.OutputFilesByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution output files: %w", err)
	}
	return files, nil
}

// MarkDownloaded flags the given output files as downloaded and returns
// them in their updated state. Files already flagged are left as they
// are, so acknowledging twice is harmless. Unknown IDs are reported back
// to the caller without failing the known ones.
func (s *Service) MarkDownloaded(ctx context.Context, ids []string) (updated []*model.OutputFile, unknown []string, err error) {
	files, err := s.store.OutputFilesByID(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load output files: %w", err)
	}

	found := make(map[string]bool, len(files))
	for _, f := range files {
		found[f.ID] = true
		if !f.Downloaded {
			f.Downloaded = true
			if err := s.store.SaveOutputFile(ctx, f); err != nil {
				return nil, nil, fmt.Errorf("mark %s downloaded: %w", f.ID, err)
			}
			s.logger.Info("output file downloaded",
				"output_file_id", f.ID,
				"execution_id", f.ExecutionID,
			)
		}
		updated = append(updated, f)
	}

	for _, id := range ids {
		if !found[id] {
			unknown = append(unknown, id)
		}
	}
	return updated, unknown, nil
}

// DeleteDownloaded purges every downloaded, not-yet-deleted output file
// from shared storage and flags it deleted. A failure on one file is
// logged and does not stop the sweep; the file stays eligible for the
// next run.
func (s *Service) DeleteDownloaded(ctx context.Context) {
	files, err := s.store.DownloadedNotDeleted(ctx)
	if err != nil {
		s.logger.Error("query downloaded output files", "error", err)
		return
	}

	deleted := 0
	for _, f := range files {
		if err := s.storage.Remove(ctx, f.ObjectKey); err != nil {
			s.logger.Error("remove output file from storage",
				"output_file_id", f.ID,
				"object_key", f.ObjectKey,
				"error", err,
			)
			continue
		}
		f.Deleted = true
		if err := s.store.SaveOutputFile(ctx, f); err != nil {
			s.logger.Error("flag output file deleted",
				"output_file_id", f.ID,
				"error", err,
			)
			continue
		}
		filesDeleted.Inc()
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("output file sweep complete", "deleted", deleted)
	}
}
