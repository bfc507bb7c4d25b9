package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/upstream/internal/checkpoint"
	"github.com/ternarybob/upstream/internal/common"
	"github.com/ternarybob/upstream/internal/progress"
	"github.com/ternarybob/upstream/internal/services/janitor"
	"github.com/ternarybob/upstream/internal/storage"
	"github.com/ternarybob/upstream/internal/transport"
	"github.com/ternarybob/upstream/internal/uploader"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	filePath     = flag.String("file", "", "Video file to upload (or re-select to resume)")
	doCancel     = flag.Bool("cancel", false, "Cancel the active job")
	keepOriginal = flag.Bool("keep-original", false, "On mismatch, keep the pending job and drop the new file")
	replaceJob   = flag.Bool("replace", false, "On mismatch, cancel the pending job and upload the new file")
	autoYes      = flag.Bool("yes", false, "Confirm destructive actions without prompting")
	chunkSize    = flag.Int64("chunk-size", 0, "Chunk size in bytes (overrides config)")
	dataDir      = flag.String("data", "", "Data directory for records and spooled payloads (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Upstream version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence:
	// 1. Load config (defaults -> files -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	if len(configFiles) == 0 {
		if _, err := os.Stat("upstream.toml"); err == nil {
			configFiles = append(configFiles, "upstream.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *chunkSize, *dataDir)

	if err := config.Validate(); err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	if err := run(); err != nil {
		logger.Error().Err(err).Msg("Exiting with error")
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT/SIGTERM exit without clearing the checkpoint: an
	// interrupted transfer is the crash path and resumes on the next run.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Interrupted, progress is saved")
		cancel()
	}()

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer storageManager.Close()

	protocol := checkpoint.NewProtocol(storageManager.Checkpoints(), storageManager.Blobs(), logger)
	client := transport.NewClient(&config.Transport, logger)
	supervisor := progress.NewSupervisor(progress.NewConfig(&config.WebSocket), protocol, logger)

	machine := uploader.NewMachine(
		protocol, client, supervisor, config.Upload.ChunkSize, logger,
		uploader.WithListener(printStatus),
	)

	if config.Janitor.Enabled {
		sweeper := janitor.NewService(protocol, &config.Janitor, logger)
		if err := sweeper.Start(config.Janitor.Schedule); err != nil {
			logger.Warn().Err(err).Msg("Failed to start janitor")
		} else {
			defer sweeper.Stop()
		}
	}

	if err := machine.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap from checkpoint: %w", err)
	}

	if *doCancel {
		return cancelActiveJob(ctx, machine)
	}

	if *filePath != "" {
		file, err := uploader.NewFileRef(*filePath)
		if err != nil {
			return err
		}
		machine.SelectFile(ctx, file)

		switch machine.Snapshot().State {
		case uploader.StateReadyToUploadNew, uploader.StateReadyToResume:
			if err := machine.Upload(ctx); err != nil {
				return err
			}
		case uploader.StateResumeMismatch:
			if err := resolveMismatch(ctx, machine); err != nil {
				return err
			}
		}
	}

	snapshot := machine.Snapshot()
	switch snapshot.State {
	case uploader.StateProcessing:
		// Wait for the progress watch to conclude
		select {
		case <-machine.Done():
		case <-ctx.Done():
			return nil
		}
	case uploader.StatePendingResumeSelect:
		fmt.Println(snapshot.StatusMessage)
	}

	return nil
}

// cancelActiveJob runs the two-phase cancellation with a confirmation prompt
func cancelActiveJob(ctx context.Context, machine *uploader.Machine) error {
	if err := machine.RequestCancel(); err != nil {
		fmt.Println("No active job to cancel.")
		return nil
	}
	if !confirm("Cancel the active job and discard saved progress?") {
		machine.Dismiss()
		fmt.Println("Kept the active job.")
		return nil
	}
	machine.ConfirmCancel(ctx)
	return nil
}

// resolveMismatch handles the keep-original / replace choice when the
// selected file does not continue the checkpoint
func resolveMismatch(ctx context.Context, machine *uploader.Machine) error {
	if *keepOriginal {
		return machine.KeepOriginal()
	}

	if !*replaceJob {
		snapshot := machine.Snapshot()
		fmt.Println(snapshot.StatusMessage)
		if !confirm("Cancel the pending job and upload the new file instead?") {
			return machine.KeepOriginal()
		}
	}

	if err := machine.RequestReplace(); err != nil {
		return err
	}
	return machine.ConfirmReplace(ctx)
}

// confirm prompts for a y/N answer, honoring -yes
func confirm(question string) bool {
	if *autoYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// printStatus renders machine snapshots to the console. Presentation
// only; all decisions live in the machine.
func printStatus(s uploader.Snapshot) {
	switch s.State {
	case uploader.StateUploading:
		fmt.Printf("\r[upload] %3.0f%% (%d/%d chunks)", s.UploadPercent, s.UploadedChunks, s.TotalChunks)
	case uploader.StateProcessing:
		fmt.Printf("\r[processing] %3.0f%% %s", s.ProcessingProgress, s.ProcessingStatus)
	case uploader.StateFinished:
		fmt.Printf("\n%s\n", s.StatusMessage)
	default:
		fmt.Printf("%s\n", s.StatusMessage)
	}
}
