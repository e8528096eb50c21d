package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"volexport/pkg/catalog"
	"volexport/pkg/config"
	"volexport/pkg/export"
	"volexport/pkg/logging"
	"volexport/pkg/metrics"
	"volexport/pkg/remote"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup always happens.
func run(args []string) int {
	// Parse command line arguments; flags override the config file
	flags := flag.NewFlagSet("volexport", flag.ContinueOnError)
	configPath := flags.String("config", "volexport.yaml", "Configuration file (.yaml or .toml)")
	writeConfig := flags.Bool("write-config", false, "Write the effective configuration to -config and exit")
	inputDir := flags.String("input", "", "Project directory in the native annotation layout")
	dataset := flags.String("dataset", "", "Export only this dataset (full or simple name)")
	format := flags.String("format", "", "Export format: nifti or nrrd")
	mode := flags.String("mode", "", "Label encoding: semantic or instance")
	numCores := flags.Int("cores", 0, "Number of concurrent mask readers (default: all available)")
	catalogPath := flags.String("catalog", "", "YAML manifest of remote volume locations")
	noFetch := flags.Bool("no-fetch", false, "Always convert local volumes, never fetch remote ones")
	uploadBucket := flags.String("upload", "", "Bucket URL receiving the exported tree, e.g. s3://exports")
	projectFolder := flags.Bool("project-folder", false, "Upload a single dataset as <project>/<dataset>")
	continueOnError := flags.Bool("continue-on-error", false, "Log failed items and continue")
	previews := flags.Bool("previews", false, "Save PNG previews of every label volume")
	logLevel := flags.String("log-level", "", "Log level: debug, info, warn or error")
	logFile := flags.String("log-file", "", "Rotating log file (default: stderr)")
	metricsFile := flags.String("metrics", "", "Write run metrics in Prometheus text format to this file")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Input.ProjectDir = *inputDir
		case "dataset":
			cfg.Input.Dataset = *dataset
		case "format":
			cfg.Export.Format = *format
		case "mode":
			cfg.Export.Mode = *mode
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "catalog":
			cfg.Input.Catalog = *catalogPath
		case "no-fetch":
			cfg.Remote.Fetch = !*noFetch
		case "upload":
			cfg.Remote.UploadBucket = *uploadBucket
		case "project-folder":
			cfg.Remote.CreateProjectFolder = *projectFolder
		case "continue-on-error":
			cfg.Export.ContinueOnError = *continueOnError
		case "previews":
			cfg.Export.Previews = *previews
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "log-file":
			cfg.Logging.File = *logFile
		case "metrics":
			cfg.Metrics.Textfile = *metricsFile
		}
	})

	if *writeConfig {
		if err := config.SaveConfig(cfg, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
			return 1
		}
		fmt.Printf("Configuration written to %s\n", *configPath)
		return 0
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flags.Usage()
		return 2
	}
	exportFormat, _ := cfg.Format()
	exportMode, _ := cfg.Mode()

	logger, closer, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer closer.Close()

	env := export.Env{Catalog: catalog.None{}, Logger: logger, Metrics: metrics.New()}
	if cfg.Input.Catalog != "" {
		manifest, err := catalog.LoadManifest(cfg.Input.Catalog)
		if err != nil {
			logger.Error("failed to load catalog", "path", cfg.Input.Catalog, "error", err)
			return 1
		}
		env.Catalog = manifest
	}
	if cfg.Remote.Fetch {
		env.Fetcher = remote.NewBlobFetcher(logger)
	}

	fmt.Println("================================")
	fmt.Println("VOLUME PROJECT EXPORT")
	fmt.Printf("Project: %s\n", cfg.Input.ProjectDir)
	if cfg.Input.Dataset != "" {
		fmt.Printf("Dataset: %s\n", cfg.Input.Dataset)
	}
	fmt.Printf("Format: %s, mode: %s\n", exportFormat, exportMode)
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exporter := export.NewExporter(&export.Params{
		ProjectDir:      cfg.Input.ProjectDir,
		Dataset:         cfg.Input.Dataset,
		Format:          exportFormat,
		Mode:            exportMode,
		NumCores:        cfg.Processing.NumCores,
		ContinueOnError: cfg.Export.ContinueOnError,
		Previews:        cfg.Export.Previews,
	}, env)

	summary, err := exporter.Process(ctx)
	writeMetrics(cfg.Metrics.Textfile, env.Metrics, logger)
	if err != nil {
		logger.Error("export failed", "error", err)
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		return 1
	}

	fmt.Printf("\nExport completed: %s\n", summary)
	fmt.Printf("Output saved to: %s\n", summary.OutputDir)

	if cfg.Remote.UploadBucket != "" {
		fmt.Printf("Uploading to %s...\n", cfg.Remote.UploadBucket)
		folder, err := export.Upload(ctx, remote.NewUploader(logger), summary, export.UploadParams{
			BucketURL:     cfg.Remote.UploadBucket,
			ProjectFolder: cfg.Remote.CreateProjectFolder,
		})
		if err != nil {
			logger.Error("upload failed", "error", err)
			fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
			return 1
		}
		fmt.Printf("Uploaded as %s/%s\n", cfg.Remote.UploadBucket, folder)
	}
	return 0
}

func writeMetrics(path string, m *metrics.Metrics, logger *slog.Logger) {
	if path == "" {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		logger.Warn("failed to write metrics", "path", path, "error", err)
	}
}
