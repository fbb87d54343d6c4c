// Package shell provides a process engine that runs a configured command
// over the execution's workdir: inputs are downloaded into an input
// directory, the command runs with execution-scoped environment
// variables, and every file it leaves in the output directory is stored
// and recorded as an output file.
package shell

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/datalith/procflow/internal/model"
	"github.com/datalith/procflow/internal/process"
)

const (
	inputDirName     = "input"
	defaultOutputDir = "output"

	envPrefix      = "PROCFLOW_"
	paramEnvPrefix = "PROCFLOW_PARAM_"
)

// Compile-time interface satisfaction check.
var _ process.Engine = (*Engine)(nil)

// Engine runs one shell command per execution.
type Engine struct {
	command   []string
	outputDir string
	logger    *slog.Logger
}

// NewEngine creates a shell engine for the given command. outputDir is
// relative to the workdir and defaults to "output".
func NewEngine(command []string, outputDir string, logger *slog.Logger) (*Engine, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("shell engine requires a command")
	}
	if outputDir == "" {
		outputDir = defaultOutputDir
	}
	return &Engine{command: command, outputDir: outputDir, logger: logger}, nil
}

// Run executes the command for one execution. Progress is reported
// through the context's notifier; a failure at any stage is returned to
// the orchestrator, which records the error step.
func (e *Engine) Run(ctx context.Context, ec *process.Context) error {
	ex := ec.Execution

	if err := ec.Notifier.Notify(ctx, ex.ID, model.StatusPrepare, ""); err != nil {
		return err
	}

	inputDir := filepath.Join(ec.Workdir, inputDirName)
	outputDir := filepath.Join(ec.Workdir, e.outputDir)
	for _, dir := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if _, err := ec.Downloader.DownloadAll(ctx, ec, inputDir); err != nil {
		return fmt.Errorf("download inputs: %w", err)
	}

	if err := ec.Notifier.Notify(ctx, ex.ID, model.StatusRunning, ""); err != nil {
		return err
	}

	if err := e.runCommand(ctx, ec, inputDir, outputDir); err != nil {
		return err
	}

	if err := e.storeOutputs(ctx, ec, outputDir); err != nil {
		return err
	}

	return ec.Notifier.Notify(ctx, ex.ID, model.StatusSuccess, "")
}

// runCommand executes the configured command in the workdir with the
// execution-scoped environment.
func (e *Engine) runCommand(ctx context.Context, ec *process.Context, inputDir, outputDir string) error {
	cmd := exec.CommandContext(ctx, e.command[0], e.command[1:]...)
	cmd.Dir = ec.Workdir
	cmd.Env = e.environment(ec, inputDir, outputDir)

	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("command failed: %w", err)
	}

	e.logger.Debug("command complete",
		"execution_id", ec.Execution.ID,
		"command", e.command[0],
	)
	return nil
}

// environment builds the process environment: the parent environment plus
// execution identity, directory locations, and the batch's dynamic
// parameters.
func (e *Engine) environment(ec *process.Context, inputDir, outputDir string) []string {
	ex := ec.Execution
	env := append(os.Environ(),
		envPrefix+"EXECUTION_ID="+ex.ID,
		envPrefix+"CORRELATION_ID="+ex.CorrelationID,
		envPrefix+"TENANT="+ex.Tenant,
		envPrefix+"USER="+ex.User,
		envPrefix+"INPUT_DIR="+inputDir,
		envPrefix+"OUTPUT_DIR="+outputDir,
	)
	for k, v := range ec.Batch.Parameters {
		env = append(env, paramEnvPrefix+envKey(k)+"="+v)
	}
	return env
}

// envKey normalizes a parameter name into an environment variable suffix.
func envKey(name string) string {
	key := strings.ToUpper(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, key)
}

// storeOutputs uploads every regular file under outputDir to shared
// storage and records it, checksumming the content on the way up.
func (e *Engine) storeOutputs(ctx context.Context, ec *process.Context, outputDir string) error {
	ex := ec.Execution

	return filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open output %s: %w", rel, err)
		}
		defer f.Close()

		key := ex.Tenant + "/" + ex.ID + "/" + filepath.ToSlash(rel)
		hasher := sha256.New()
		if err := ec.Storage.Put(ctx, key, io.TeeReader(f, hasher), info.Size(), "application/octet-stream"); err != nil {
			return fmt.Errorf("store output %s: %w", rel, err)
		}

		out := &model.OutputFile{
			ExecutionID: ex.ID,
			ObjectKey:   key,
			Name:        filepath.ToSlash(rel),
			Bytes:       info.Size(),
			Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		}
		if err := ec.Outputs.Record(ctx, out); err != nil {
			return err
		}

		e.logger.Info("output file stored",
			"execution_id", ex.ID,
			"object_key", key,
			"bytes", info.Size(),
		)
		return nil
	})
}
