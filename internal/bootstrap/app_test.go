package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pdf-audiobook/internal/cache"
	"pdf-audiobook/internal/config"
	"pdf-audiobook/internal/convert"
	"pdf-audiobook/internal/domain"
	"pdf-audiobook/internal/jobs"
	"pdf-audiobook/internal/synth"
)

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	settings domain.Settings
	saved    []domain.Settings
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	return s.settings, nil
}

// Save records each persisted settings snapshot.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.settings = settings
	s.saved = append(s.saved, settings)
	return nil
}

// fakeConversion allows injecting custom pipeline behavior per test.
type fakeConversion struct {
	run func(ctx context.Context, req convert.Request) (domain.ConversionResult, error)
}

// Run delegates to injected function.
func (p *fakeConversion) Run(ctx context.Context, req convert.Request) (domain.ConversionResult, error) {
	if p.run == nil {
		return domain.ConversionResult{}, nil
	}
	return p.run(ctx, req)
}

// testSettings returns valid settings rooted in a temp directory.
func testSettings(t *testing.T) domain.Settings {
	t.Helper()
	settings := config.DefaultSettings()
	root := t.TempDir()
	settings.OutputDir = filepath.Join(root, "out")
	settings.CacheDir = filepath.Join(root, "cache")
	return settings
}

// testVoice returns valid voice parameters for conversion tests.
func testVoice() domain.VoiceSettings {
	return domain.VoiceSettings{VoiceID: "en-us", RateWPM: 175, Volume: 1.0}
}

// TestStartConversionEnforcesSingleRunningJob checks single-job guard.
func TestStartConversionEnforcesSingleRunningJob(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}

	app := &App{
		Store: store,
		Jobs:  jobs.NewManager(),
		Pipeline: &fakeConversion{run: func(ctx context.Context, req convert.Request) (domain.ConversionResult, error) {
			<-ctx.Done()
			return domain.ConversionResult{}, ctx.Err()
		}},
		events: jobs.NewEventBus(100),
	}

	if _, err := app.StartConversion("/tmp/book.pdf", testVoice()); err != nil {
		t.Fatalf("start first job: %v", err)
	}
	if _, err := app.StartConversion("/tmp/book-2.pdf", testVoice()); !errors.Is(err, jobs.ErrJobAlreadyRunning) {
		t.Fatalf("second start error = %v, want %v", err, jobs.ErrJobAlreadyRunning)
	}

	if err := app.CancelConversion(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForStatus(t, app, domain.JobStatusCancelled)
}

// TestStartConversionPublishesProgressAndResultEvents checks event flow
// from fingerprint through stages to the final result.
func TestStartConversionPublishesProgressAndResultEvents(t *testing.T) {
	settings := testSettings(t)
	store := &fakeStore{settings: settings}
	manifestPath := filepath.Join(settings.OutputDir, "audiobook-f00dfeed", "manifest.json")

	app := &App{
		Store: store,
		Jobs:  jobs.NewManager(),
		Pipeline: &fakeConversion{run: func(ctx context.Context, req convert.Request) (domain.ConversionResult, error) {
			if req.OnFingerprint != nil {
				req.OnFingerprint("f00dfeedbeef")
			}
			if req.OnStage != nil {
				req.OnStage("extracting")
				req.OnStage("chunking")
				req.OnStage("synthesizing")
			}
			if req.OnProgress != nil {
				req.OnProgress(domain.Progress{PagesDone: 2, PagesTotal: 2, ChunksDone: 5, ChunksTotal: 5})
			}
			return domain.ConversionResult{
				Fingerprint:  "f00dfeedbeef",
				Voice:        req.Voice,
				OutputDir:    filepath.Dir(manifestPath),
				ManifestPath: manifestPath,
				Segments:     []domain.AudioSegment{{Index: 0, Page: 1, Bytes: 4}},
			}, nil
		}},
		events: jobs.NewEventBus(100),
	}

	if _, err := app.StartConversion("/tmp/book.pdf", testVoice()); err != nil {
		t.Fatalf("start job: %v", err)
	}

	waitForStatus(t, app, domain.JobStatusReady)
	result := waitForEventType(t, app, jobs.EventTypeResult)
	if result.ManifestPath != manifestPath {
		t.Fatalf("result manifest = %q, want %q", result.ManifestPath, manifestPath)
	}

	events := app.JobEvents(0)
	assertEventTypeExists(t, events, jobs.EventTypeStatus)
	assertEventTypeExists(t, events, jobs.EventTypeProgress)

	if job := app.CurrentJob(); job.Fingerprint != "f00dfeedbeef" {
		t.Fatalf("job fingerprint = %q, want f00dfeedbeef", job.Fingerprint)
	}
	last := app.LastResult()
	if last == nil || last.Fingerprint != "f00dfeedbeef" {
		t.Fatalf("last result = %+v, want fingerprint f00dfeedbeef", last)
	}
}

// TestStartConversionPublishesFailureEvents checks error path emissions
// including the failed engine command transcript.
func TestStartConversionPublishesFailureEvents(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}

	app := &App{
		Store: store,
		Jobs:  jobs.NewManager(),
		Pipeline: &fakeConversion{run: func(ctx context.Context, req convert.Request) (domain.ConversionResult, error) {
			return domain.ConversionResult{}, &synth.SynthesisError{
				Engine:  "espeak-ng",
				Message: "speech synthesis failed",
				CommandLog: synth.CommandLog{
					Command:  "espeak-ng",
					Args:     []string{"-v", "en-us"},
					ExitCode: 1,
					Stderr:   "espeak: unknown voice",
				},
				Err: errors.New("exit status 1"),
			}
		}},
		events: jobs.NewEventBus(100),
	}

	if _, err := app.StartConversion("/tmp/book.pdf", testVoice()); err != nil {
		t.Fatalf("start job: %v", err)
	}

	waitForStatus(t, app, domain.JobStatusFailed)
	logEvent := waitForEventType(t, app, jobs.EventTypeLog)
	if logEvent.Command != "espeak-ng" || logEvent.ExitCode != 1 {
		t.Fatalf("log event = %+v, want espeak-ng exit 1", logEvent)
	}

	events := app.JobEvents(0)
	assertEventTypeExists(t, events, jobs.EventTypeStatus)
	assertEventTypeExists(t, events, jobs.EventTypeError)
}

// TestStartConversionAppliesDefaultVoice checks that a zero voice falls
// back to the configured defaults.
func TestStartConversionAppliesDefaultVoice(t *testing.T) {
	settings := testSettings(t)
	settings.DefaultVoice = "en-gb"
	settings.DefaultRateWPM = 150
	settings.DefaultVolume = 0.8
	store := &fakeStore{settings: settings}

	gotVoice := make(chan domain.VoiceSettings, 1)
	app := &App{
		Store: store,
		Jobs:  jobs.NewManager(),
		Pipeline: &fakeConversion{run: func(ctx context.Context, req convert.Request) (domain.ConversionResult, error) {
			gotVoice <- req.Voice
			if req.OnStage != nil {
				req.OnStage("extracting")
				req.OnStage("chunking")
				req.OnStage("synthesizing")
			}
			return domain.ConversionResult{Fingerprint: "cafe"}, nil
		}},
		events: jobs.NewEventBus(100),
	}

	if _, err := app.StartConversion("/tmp/book.pdf", domain.VoiceSettings{}); err != nil {
		t.Fatalf("start job: %v", err)
	}

	select {
	case voice := <-gotVoice:
		want := domain.VoiceSettings{VoiceID: "en-gb", RateWPM: 150, Volume: 0.8}
		if voice != want {
			t.Fatalf("voice = %+v, want %+v", voice, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not invoked")
	}
	waitForStatus(t, app, domain.JobStatusReady)
}

// TestStartConversionForwardsUnitErrors checks that recoverable page
// and chunk failures reach the job record and the event stream while
// the job still completes.
func TestStartConversionForwardsUnitErrors(t *testing.T) {
	store := &fakeStore{settings: testSettings(t)}

	app := &App{
		Store: store,
		Jobs:  jobs.NewManager(),
		Pipeline: &fakeConversion{run: func(ctx context.Context, req convert.Request) (domain.ConversionResult, error) {
			if req.OnStage != nil {
				req.OnStage("extracting")
			}
			if req.OnUnitError != nil {
				req.OnUnitError(domain.UnitError{Kind: domain.UnitErrorPage, Page: 3, Message: "render page: broken stream"})
			}
			if req.OnStage != nil {
				req.OnStage("chunking")
				req.OnStage("synthesizing")
			}
			if req.OnUnitError != nil {
				req.OnUnitError(domain.UnitError{Kind: domain.UnitErrorChunk, Page: 4, Chunk: 7, Message: "speech synthesis failed"})
			}
			return domain.ConversionResult{Fingerprint: "cafe"}, nil
		}},
		events: jobs.NewEventBus(100),
	}

	if _, err := app.StartConversion("/tmp/book.pdf", testVoice()); err != nil {
		t.Fatalf("start job: %v", err)
	}

	waitForStatus(t, app, domain.JobStatusReady)
	job := app.CurrentJob()
	if len(job.Errors) != 2 {
		t.Fatalf("job errors = %d, want 2", len(job.Errors))
	}

	var pageEvent, chunkEvent bool
	for _, event := range app.JobEvents(0) {
		if event.Type != jobs.EventTypeError {
			continue
		}
		if event.Page == 3 && event.Chunk == 0 {
			pageEvent = true
		}
		if event.Chunk == 7 {
			chunkEvent = true
		}
	}
	if !pageEvent || !chunkEvent {
		t.Fatalf("unit error events missing: page=%v chunk=%v", pageEvent, chunkEvent)
	}
}

// TestCancelConversionWithoutActiveJob checks the idle cancel error.
func TestCancelConversionWithoutActiveJob(t *testing.T) {
	app := &App{
		Store:  &fakeStore{settings: testSettings(t)},
		Jobs:   jobs.NewManager(),
		events: jobs.NewEventBus(100),
	}

	if err := app.CancelConversion(); !errors.Is(err, jobs.ErrNoRunningJob) {
		t.Fatalf("cancel error = %v, want %v", err, jobs.ErrNoRunningJob)
	}
}

// TestSaveSettingsRebuildsCacheManager checks that changing the cache
// directory swaps the manager and that invalid settings are rejected
// before persisting.
func TestSaveSettingsRebuildsCacheManager(t *testing.T) {
	root := t.TempDir()
	oldDir := filepath.Join(root, "cache-old")
	newDir := filepath.Join(root, "cache-new")

	manager, err := cache.NewManagerForTests(oldDir, time.Hour, 0, time.Now)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	store := &fakeStore{settings: testSettings(t)}
	app := &App{
		Store:  store,
		Jobs:   jobs.NewManager(),
		Cache:  manager,
		events: jobs.NewEventBus(100),
	}

	next := store.settings
	next.CacheDir = newDir
	saved, err := app.SaveSettings(next)
	if err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if saved.CacheDir != newDir {
		t.Fatalf("saved cache dir = %q, want %q", saved.CacheDir, newDir)
	}
	if app.Cache.Dir() != newDir {
		t.Fatalf("cache manager dir = %q, want %q", app.Cache.Dir(), newDir)
	}
	if len(store.saved) != 1 {
		t.Fatalf("persisted snapshots = %d, want 1", len(store.saved))
	}

	bad := next
	bad.ChunkMinChars = 500
	bad.ChunkMaxChars = 100
	_, err = app.SaveSettings(bad)
	var validationErr *config.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("save invalid settings error = %v, want ValidationError", err)
	}
	if len(store.saved) != 1 {
		t.Fatal("invalid settings must not be persisted")
	}
}

// TestListVoicesFallsBackToCatalog checks that an unreachable engine
// still yields the static voice catalog.
func TestListVoicesFallsBackToCatalog(t *testing.T) {
	settings := testSettings(t)
	settings.TTSEnginePath = filepath.Join(t.TempDir(), "missing-engine")
	app := &App{Settings: settings}

	voices, err := app.ListVoices()
	if err != nil {
		t.Fatalf("list voices: %v", err)
	}
	if len(voices) == 0 {
		t.Fatal("expected catalog voices")
	}
	for _, voice := range voices {
		if voice.Available {
			t.Fatalf("voice %s reported available without an engine", voice.ID)
		}
	}
}

// waitForStatus polls until job reaches desired status or times out.
func waitForStatus(t *testing.T, app *App, want domain.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if app.CurrentJob().Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", app.CurrentJob().Status, want)
}

// waitForEventType polls the event stream until an event of the given
// type appears or times out, and returns the first match.
func waitForEventType(t *testing.T, app *App, want jobs.EventType) jobs.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, event := range app.JobEvents(0) {
			if event.Type == want {
				return event
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("event type %s not found", want)
	return jobs.Event{}
}

// assertEventTypeExists verifies at least one event of given type exists.
func assertEventTypeExists(t *testing.T, events []jobs.Event, want jobs.EventType) {
	t.Helper()
	for _, event := range events {
		if event.Type == want {
			return
		}
	}
	t.Fatalf("event type %s not found", want)
}
