package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"pdf-audiobook/internal/cache"
	"pdf-audiobook/internal/chunk"
	"pdf-audiobook/internal/config"
	"pdf-audiobook/internal/convert"
	"pdf-audiobook/internal/diagnostics"
	"pdf-audiobook/internal/domain"
	"pdf-audiobook/internal/extract"
	"pdf-audiobook/internal/jobs"
	"pdf-audiobook/internal/ocr"
	"pdf-audiobook/internal/synth"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var documentDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "PDF documents",
		Pattern:     "*.pdf",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, jobs, cache, pipeline, and UI runtime
// callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Cache       *cache.Manager
	Pipeline    conversionRunner
	Diagnostics domain.DiagnosticReport

	log     zerolog.Logger
	assets  fs.FS
	checker *diagnostics.Checker

	mu          sync.Mutex
	activeJobID string
	cancel      context.CancelFunc
	lastResult  *domain.ConversionResult
	voiceByDoc  map[string]string
	events      *jobs.EventBus
	runtimeCtx  context.Context
	sweeperStop context.CancelFunc
}

// conversionRunner isolates the conversion pipeline behind an interface.
type conversionRunner interface {
	Run(ctx context.Context, req convert.Request) (domain.ConversionResult, error)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures
// embedded frontend assets. Invalid persisted settings are fatal: a
// broken cache or chunk configuration must be fixed before any job.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".pdf-audiobook", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if err := config.Validate(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	log := newLogger()
	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	cacheManager, err := cache.NewManager(
		settings.CacheDir,
		time.Duration(settings.CacheTTLSeconds)*time.Second,
		settings.CacheMaxBytes,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("prepare audio cache: %w", err)
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	cacheManager.StartSweeper(sweepCtx, 0)

	return &App{
		Settings:    settings,
		Store:       store,
		Jobs:        jobs.NewManager(),
		Cache:       cacheManager,
		Diagnostics: report,
		log:         log,
		assets:      assets,
		checker:     checker,
		voiceByDoc:  make(map[string]string),
		events:      jobs.NewEventBus(1000),
		sweeperStop: sweepCancel,
	}, nil
}

// newLogger builds the console logger the backend logs through.
func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "pdf-audiobook").Logger()
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "PDF Audiobook",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.Shutdown()
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown stops the cache sweeper and honors clear-on-exit.
func (a *App) Shutdown() {
	a.mu.Lock()
	stopSweeper := a.sweeperStop
	a.sweeperStop = nil
	clearOnExit := a.Settings.ClearCacheOnExit
	store := a.Cache
	a.runtimeCtx = nil
	a.mu.Unlock()

	if stopSweeper != nil {
		stopSweeper()
	}
	if clearOnExit && store != nil {
		if _, err := store.Clear(); err != nil {
			a.log.Warn().Err(err).Msg("clear cache on exit failed")
		}
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	return a.Diagnostics, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// Defaults returns factory settings for the settings screen.
func (a *App) Defaults() domain.Settings {
	return config.DefaultSettings()
}

// SaveSettings validates and persists settings, refreshes diagnostics,
// and rebuilds the cache manager when cache configuration changed.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := config.Validate(normalized); err != nil {
		return domain.Settings{}, err
	}
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	previous := a.Settings
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	if cacheConfigChanged(previous, normalized) {
		if err := a.rebuildCache(normalized); err != nil {
			return domain.Settings{}, fmt.Errorf("apply cache settings: %w", err)
		}
	}

	return normalized, nil
}

// cacheConfigChanged reports whether cache manager inputs differ.
func cacheConfigChanged(previous, next domain.Settings) bool {
	return previous.CacheDir != next.CacheDir ||
		previous.CacheTTLSeconds != next.CacheTTLSeconds ||
		previous.CacheMaxBytes != next.CacheMaxBytes
}

// rebuildCache swaps the cache manager and restarts its sweeper.
func (a *App) rebuildCache(settings domain.Settings) error {
	manager, err := cache.NewManager(
		settings.CacheDir,
		time.Duration(settings.CacheTTLSeconds)*time.Second,
		settings.CacheMaxBytes,
		a.log,
	)
	if err != nil {
		return err
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	a.mu.Lock()
	stopOld := a.sweeperStop
	a.Cache = manager
	a.sweeperStop = sweepCancel
	a.mu.Unlock()

	if stopOld != nil {
		stopOld()
	}
	manager.StartSweeper(sweepCtx, 0)
	return nil
}

// ListVoices returns selectable voices: the live engine listing when
// available, otherwise the static catalog.
func (a *App) ListVoices() ([]domain.VoiceOption, error) {
	a.mu.Lock()
	settings := a.Settings
	a.mu.Unlock()

	engine := synth.NewEngine(settings)
	ctx, cancelProbe := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelProbe()

	listed, err := engine.Voices(ctx)
	if err != nil {
		a.log.Debug().Err(err).Msg("live voice listing unavailable, using catalog")
		return voiceCatalog(), nil
	}
	return mergeVoices(voiceCatalog(), listed), nil
}

// StartConversion creates a job and runs it asynchronously. An empty
// voice falls back to the configured defaults.
func (a *App) StartConversion(inputPath string, voice domain.VoiceSettings) (domain.Job, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Job{}, fmt.Errorf("load settings: %w", err)
	}
	if err := config.Validate(settings); err != nil {
		return domain.Job{}, err
	}

	if voice == (domain.VoiceSettings{}) {
		voice = config.DefaultVoiceSettings(settings)
	}
	if err := config.ValidateVoice(voice); err != nil {
		return domain.Job{}, err
	}

	jobID := uuid.NewString()
	if err := a.Jobs.Start(jobID, inputPath, ""); err != nil {
		return domain.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.activeJobID = jobID
	a.cancel = cancel
	a.Settings = settings
	a.mu.Unlock()

	a.publishStatus(jobID, domain.JobStatusPending, "Job started")

	go a.runConversionJob(ctx, jobID, inputPath, voice, settings)
	return a.Jobs.Current(), nil
}

// CancelConversion cancels the currently running job, if any.
func (a *App) CancelConversion() error {
	a.mu.Lock()
	cancel := a.cancel
	activeJobID := a.activeJobID
	a.mu.Unlock()

	if cancel == nil {
		return jobs.ErrNoRunningJob
	}

	cancel()
	if err := a.Jobs.Cancel(); err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
		return err
	}

	if activeJobID != "" {
		a.publishStatus(activeJobID, domain.JobStatusCancelled, "Cancellation requested")
	}
	return nil
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// LastResult returns the most recent completed conversion, or nil.
func (a *App) LastResult() *domain.ConversionResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastResult
}

// ClearCache removes every cached audio segment.
func (a *App) ClearCache() (int, error) {
	a.mu.Lock()
	store := a.Cache
	a.mu.Unlock()
	if store == nil {
		return 0, nil
	}
	return store.Clear()
}

// ClearDocumentCache removes cached segments of one document.
func (a *App) ClearDocumentCache(fingerprint string) (int, error) {
	a.mu.Lock()
	store := a.Cache
	a.mu.Unlock()
	if store == nil || strings.TrimSpace(fingerprint) == "" {
		return 0, nil
	}
	return store.InvalidateDocument(fingerprint)
}

// PickDocument opens a native file dialog for PDF selection.
func (a *App) PickDocument() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select PDF document",
		Filters: documentDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickOutputDirectory opens a native directory picker for audiobooks.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in
// the platform file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// runConversionJob executes the pipeline and maps outcomes to job events.
func (a *App) runConversionJob(ctx context.Context, jobID, inputPath string, voice domain.VoiceSettings, settings domain.Settings) {
	runner := a.Pipeline
	if runner == nil {
		built, err := a.buildPipeline(settings)
		if err != nil {
			_ = a.Jobs.Transition(domain.JobStatusFailed)
			a.publishStatus(jobID, domain.JobStatusFailed, "Job failed")
			a.publishEvent(jobs.Event{
				JobID:   jobID,
				Type:    jobs.EventTypeError,
				Status:  domain.JobStatusFailed,
				Message: err.Error(),
			})
			a.clearActiveJob(jobID)
			return
		}
		runner = built
	}

	req := convert.Request{
		InputPath: inputPath,
		OutputDir: settings.OutputDir,
		Voice:     voice,
		OnFingerprint: func(fingerprint string) {
			a.Jobs.SetFingerprint(fingerprint)
			a.invalidateStaleVoice(fingerprint, voice)
		},
		OnStage: func(stage string) {
			status, ok := mapStageToStatus(stage)
			if !ok {
				return
			}
			if err := a.Jobs.Transition(status); err == nil {
				a.publishStatus(jobID, status, "Running "+stage+" stage")
			}
		},
		OnProgress: func(progress domain.Progress) {
			a.Jobs.SetProgress(progress)
			a.publishEvent(jobs.Event{
				JobID:    jobID,
				Type:     jobs.EventTypeProgress,
				Progress: &progress,
			})
		},
		OnUnitError: func(unit domain.UnitError) {
			a.Jobs.AddError(unit)
			a.publishEvent(jobs.Event{
				JobID:   jobID,
				Type:    jobs.EventTypeError,
				Message: unit.Message,
				Page:    unit.Page,
				Chunk:   unit.Chunk,
			})
		},
	}

	result, err := runner.Run(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = a.Jobs.Transition(domain.JobStatusCancelled)
			a.publishStatus(jobID, domain.JobStatusCancelled, "Job cancelled")
			a.clearActiveJob(jobID)
			return
		}

		_ = a.Jobs.Transition(domain.JobStatusFailed)
		a.publishStatus(jobID, domain.JobStatusFailed, "Job failed")
		a.publishEvent(jobs.Event{
			JobID:   jobID,
			Type:    jobs.EventTypeError,
			Status:  domain.JobStatusFailed,
			Message: err.Error(),
		})

		var synthErr *synth.SynthesisError
		if errors.As(err, &synthErr) && synthErr.CommandLog.Command != "" {
			a.publishEvent(jobs.Event{
				JobID:    jobID,
				Type:     jobs.EventTypeLog,
				Message:  "Failed command",
				Command:  synthErr.CommandLog.Command,
				Args:     synthErr.CommandLog.Args,
				ExitCode: synthErr.CommandLog.ExitCode,
				Stderr:   synthErr.CommandLog.Stderr,
			})
		}

		a.clearActiveJob(jobID)
		return
	}

	a.mu.Lock()
	a.lastResult = &result
	a.mu.Unlock()

	if err := a.Jobs.Transition(domain.JobStatusReady); err == nil {
		a.publishStatus(jobID, domain.JobStatusReady, "Job completed")
	}
	a.publishEvent(jobs.Event{
		JobID:        jobID,
		Type:         jobs.EventTypeResult,
		Status:       domain.JobStatusReady,
		Message:      "Audiobook assembled",
		OutputDir:    result.OutputDir,
		ManifestPath: result.ManifestPath,
	})
	a.clearActiveJob(jobID)
}

// buildPipeline assembles a conversion pipeline from settings.
func (a *App) buildPipeline(settings domain.Settings) (conversionRunner, error) {
	splitter, err := chunk.NewSplitter(settings.ChunkMinChars, settings.ChunkMaxChars)
	if err != nil {
		return nil, fmt.Errorf("chunk bounds: %w", err)
	}

	var engine ocr.Engine
	if path := strings.TrimSpace(settings.OCREnginePath); path != "" {
		engine = ocr.NewCommandEngine(path, ocrLanguages(settings)...)
	} else {
		engine = ocr.NewTesseractEngine(ocrLanguages(settings)...)
	}

	adapter := extract.NewAdapter(engine, settings.OCRTextThreshold, a.log)
	speech := synth.NewEngine(settings)

	a.mu.Lock()
	store := a.Cache
	a.mu.Unlock()

	return convert.NewPipeline(
		adapter,
		splitter,
		store,
		speech,
		settings.MaxWorkers,
		settings.MaxFileSizeBytes,
		a.log,
	), nil
}

// ocrLanguages splits the configured tesseract language spec.
func ocrLanguages(settings domain.Settings) []string {
	raw := strings.TrimSpace(settings.OCRLanguage)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "+")
}

// invalidateStaleVoice drops a document's cached audio when it is
// reconverted with a different voice than last time.
func (a *App) invalidateStaleVoice(fingerprint string, voice domain.VoiceSettings) {
	hash := voice.Hash()

	a.mu.Lock()
	if a.voiceByDoc == nil {
		a.voiceByDoc = make(map[string]string)
	}
	previous, seen := a.voiceByDoc[fingerprint]
	a.voiceByDoc[fingerprint] = hash
	store := a.Cache
	a.mu.Unlock()

	if !seen || previous == hash || store == nil {
		return
	}
	removed, err := store.InvalidateDocument(fingerprint)
	if err != nil {
		a.log.Warn().Err(err).Msg("invalidate document cache failed")
		return
	}
	if removed > 0 {
		a.log.Info().Str("fingerprint", fingerprint[:8]).Int("removed", removed).
			Msg("dropped stale voice rendition")
	}
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// clearActiveJob clears cancellation handles for completed job IDs.
func (a *App) clearActiveJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeJobID == jobID {
		a.activeJobID = ""
		a.cancel = nil
	}
}

// mapStageToStatus maps pipeline stage names to job statuses.
func mapStageToStatus(stage string) (domain.JobStatus, bool) {
	switch stage {
	case convert.StageExtracting:
		return domain.JobStatusExtracting, true
	case convert.StageChunking:
		return domain.JobStatusChunking, true
	case convert.StageSynthesizing:
		return domain.JobStatusSynthesizing, true
	default:
		return "", false
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims path inputs and applies the default OCR
// language when empty.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.CacheDir = strings.TrimSpace(settings.CacheDir)
	settings.TTSEnginePath = strings.TrimSpace(settings.TTSEnginePath)
	settings.OCREnginePath = strings.TrimSpace(settings.OCREnginePath)
	settings.OCRLanguage = strings.TrimSpace(settings.OCRLanguage)
	if settings.OCRLanguage == "" {
		settings.OCRLanguage = "eng"
	}
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
