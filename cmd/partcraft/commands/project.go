package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/partcraft/partcraft/pkg/config"
	"github.com/partcraft/partcraft/pkg/telemetry"
)

// workspace bundles what every project command needs.
type workspace struct {
	settings  *config.Settings
	project   *config.Project
	telemetry *telemetry.Telemetry
}

// openProject loads settings and the manifest and starts telemetry.
// Callers must call close.
func openProject(ctx context.Context) (*workspace, error) {
	settings, err := config.LoadSettings(nil)
	if err != nil {
		return nil, err
	}

	path := manifestFile
	if path == "" {
		path, err = config.LocateManifest(projectDir)
		if err != nil {
			return nil, err
		}
	}

	m, err := config.NewLoader().LoadManifest(ctx, path)
	if err != nil {
		return nil, err
	}

	opts := config.ProjectOptions{ExtensionsDir: settings.ExtensionsDir}
	if manifestFile == "" || projectDir != "." {
		opts.ProjectDir = projectDir
	}
	project, err := config.NewProject(m, opts)
	if err != nil {
		return nil, err
	}

	tel, err := newTelemetry(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	return &workspace{settings: settings, project: project, telemetry: tel}, nil
}

func (w *workspace) close(ctx context.Context) {
	_ = w.telemetry.Flush(ctx)
	_ = w.telemetry.Shutdown(ctx)
}

func newTelemetry(settings *config.Settings) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	if settings.LogLevel != "" {
		cfg.Logging.Level = settings.LogLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	cfg.Metrics.ListenAddress = metricsAddr
	if traceExporter != "" && traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = traceEndpoint
	}
	return telemetry.NewTelemetry(cfg)
}

// journalPath returns the journal location for the current project
// without loading the manifest.
func journalPath(settings *config.Settings) (string, error) {
	dir := projectDir
	if manifestFile != "" && projectDir == "." {
		dir = filepath.Dir(manifestFile)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return settings.JournalFor(abs), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
