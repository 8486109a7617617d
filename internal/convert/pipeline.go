// Package convert orchestrates the document to audiobook pipeline:
// page extraction, sentence chunking, cached speech synthesis, and
// ordered segment assembly.
package convert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pdf-audiobook/internal/cache"
	"pdf-audiobook/internal/chunk"
	"pdf-audiobook/internal/domain"
	"pdf-audiobook/internal/extract"
	"pdf-audiobook/internal/synth"
)

// Stage names surfaced through OnStage callbacks.
const (
	StageExtracting   = "extracting"
	StageChunking     = "chunking"
	StageSynthesizing = "synthesizing"
)

// ErrAllPagesFailed means no page of the document produced any text.
// Typical for image-only scans converted without a working OCR engine.
var ErrAllPagesFailed = errors.New("no readable text in document")

// FileTooLargeError rejects oversized input before any parsing work.
type FileTooLargeError struct {
	Size  int64
	Limit int64
}

// Error formats the size rejection for logs and UI.
func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("document is %d bytes, limit is %d bytes", e.Size, e.Limit)
}

// Request contains input document, voice, and execution callbacks for
// one conversion run.
type Request struct {
	InputPath     string
	OutputDir     string
	Voice         domain.VoiceSettings
	OnFingerprint func(fingerprint string)
	OnStage       func(stage string)
	OnProgress    func(progress domain.Progress)
	OnUnitError   func(unitErr domain.UnitError)
}

// pagedDocument is the view of an open document the pipeline consumes.
type pagedDocument interface {
	PageCount() int
	Page(ctx context.Context, number int) domain.Page
	Close()
}

// documentOpener abstracts document access for testability.
type documentOpener interface {
	Open(ctx context.Context, path string) (pagedDocument, error)
}

// adapterOpener bridges the extract adapter onto the opener seam.
type adapterOpener struct {
	adapter *extract.Adapter
}

func (o adapterOpener) Open(ctx context.Context, path string) (pagedDocument, error) {
	doc, err := o.adapter.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Pipeline runs conversions. It is safe to build one per run; all
// heavyweight state lives in the cache manager and the engines.
type Pipeline struct {
	opener       documentOpener
	splitter     *chunk.Splitter
	cache        *cache.Manager
	engine       synth.Synthesizer
	workers      int
	maxFileBytes int64
	log          zerolog.Logger

	stat func(name string) (os.FileInfo, error)
	now  func() time.Time
}

// NewPipeline constructs the production pipeline.
func NewPipeline(
	adapter *extract.Adapter,
	splitter *chunk.Splitter,
	store *cache.Manager,
	engine synth.Synthesizer,
	workers int,
	maxFileBytes int64,
	log zerolog.Logger,
) *Pipeline {
	if workers < 1 {
		workers = 1
	}

	return &Pipeline{
		opener:       adapterOpener{adapter: adapter},
		splitter:     splitter,
		cache:        store,
		engine:       engine,
		workers:      workers,
		maxFileBytes: maxFileBytes,
		log:          log,
		stat:         os.Stat,
		now:          time.Now,
	}
}

// NewPipelineForTests constructs a pipeline with injectable document
// access and clock.
func NewPipelineForTests(
	opener documentOpener,
	splitter *chunk.Splitter,
	store *cache.Manager,
	engine synth.Synthesizer,
	workers int,
	maxFileBytes int64,
	stat func(name string) (os.FileInfo, error),
	now func() time.Time,
) *Pipeline {
	if workers < 1 {
		workers = 1
	}

	return &Pipeline{
		opener:       opener,
		splitter:     splitter,
		cache:        store,
		engine:       engine,
		workers:      workers,
		maxFileBytes: maxFileBytes,
		log:          zerolog.Nop(),
		stat:         stat,
		now:          now,
	}
}

// Run converts one document end to end and assembles the audiobook.
// Recoverable page and chunk failures are reported through callbacks
// and the result; only document-level faults abort the run.
func (p *Pipeline) Run(ctx context.Context, req Request) (domain.ConversionResult, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return domain.ConversionResult{}, errors.New("input document path is required")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return domain.ConversionResult{}, errors.New("output directory is required")
	}

	info, err := p.stat(req.InputPath)
	if err != nil {
		return domain.ConversionResult{}, fmt.Errorf("cannot access input document: %w", err)
	}
	if p.maxFileBytes > 0 && info.Size() > p.maxFileBytes {
		return domain.ConversionResult{}, &FileTooLargeError{Size: info.Size(), Limit: p.maxFileBytes}
	}

	fingerprint, err := Fingerprint(req.InputPath)
	if err != nil {
		return domain.ConversionResult{}, fmt.Errorf("fingerprint input document: %w", err)
	}
	if req.OnFingerprint != nil {
		req.OnFingerprint(fingerprint)
	}

	bookDir := filepath.Join(req.OutputDir, "audiobook-"+fingerprint[:8])
	if err := os.MkdirAll(bookDir, 0o755); err != nil {
		return domain.ConversionResult{}, fmt.Errorf("cannot create output directory: %w", err)
	}

	st := &runState{
		req:         req,
		fingerprint: fingerprint,
		voiceHash:   req.Voice.Hash(),
	}

	pages, err := p.extractPages(ctx, st)
	if err != nil {
		return domain.ConversionResult{}, err
	}

	chunks := p.splitPages(st, pages)
	if len(chunks) == 0 {
		return domain.ConversionResult{}, ErrAllPagesFailed
	}

	if err := p.synthesizeChunks(ctx, st, chunks); err != nil {
		return domain.ConversionResult{}, err
	}

	return p.assemble(ctx, st, chunks, bookDir)
}

// runState is the mutable bookkeeping of one Run call. The synthesis
// pool mutates it under mu; the sequential stages own it outright.
type runState struct {
	req         Request
	fingerprint string
	voiceHash   string

	mu         sync.Mutex
	progress   domain.Progress
	unitErrors []domain.UnitError
	outcomes   []chunkOutcome
	pagesTotal int
	pagesBad   int
	cacheHits  int
	synthCalls int
}

// chunkOutcome is the synthesis result of one chunk. A failed chunk
// carries the reason and no audio.
type chunkOutcome struct {
	audio  []byte
	reason string
}

// extractPages reads every page sequentially, isolating per-page
// failures. It fails the run only when the whole document is dark.
func (p *Pipeline) extractPages(ctx context.Context, st *runState) ([]domain.Page, error) {
	emitStage(st.req.OnStage, StageExtracting)

	doc, err := p.opener.Open(ctx, st.req.InputPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	total := doc.PageCount()
	st.pagesTotal = total
	st.progress.PagesTotal = total
	emitProgress(st.req.OnProgress, st.progress)
	if total == 0 {
		return nil, ErrAllPagesFailed
	}

	readable := 0
	pages := make([]domain.Page, 0, total)
	for number := 1; number <= total; number++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := doc.Page(ctx, number)
		if page.Err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			st.pagesBad++
			unit := domain.UnitError{
				Kind:    domain.UnitErrorPage,
				Page:    number,
				Message: page.Err.Error(),
			}
			var exErr *extract.ExtractionError
			if errors.As(page.Err, &exErr) {
				unit.OCRUsed = exErr.OCR
			}
			st.unitErrors = append(st.unitErrors, unit)
			emitUnitError(st.req.OnUnitError, unit)
			p.log.Warn().Int("page", number).Err(page.Err).Msg("page extraction failed")
		} else {
			if page.Text != "" {
				readable++
			}
			pages = append(pages, page)
		}

		st.progress.PagesDone = number
		emitProgress(st.req.OnProgress, st.progress)
	}

	if readable == 0 {
		return nil, ErrAllPagesFailed
	}
	return pages, nil
}

// splitPages turns readable pages into globally indexed chunks with
// page provenance preserved.
func (p *Pipeline) splitPages(st *runState, pages []domain.Page) []domain.Chunk {
	emitStage(st.req.OnStage, StageChunking)

	chunks := make([]domain.Chunk, 0, len(pages))
	for _, page := range pages {
		if page.Text == "" {
			continue
		}
		for _, text := range p.splitter.Split(page.Text) {
			chunks = append(chunks, domain.Chunk{
				Index: len(chunks),
				Page:  page.Number,
				Text:  text,
			})
		}
	}

	st.progress.ChunksTotal = len(chunks)
	emitProgress(st.req.OnProgress, st.progress)
	return chunks
}

// synthesizeChunks renders all chunks through the bounded worker pool.
// Each chunk is enqueued exactly once; per-chunk failures degrade to
// marker outcomes while an unavailable engine aborts the pool.
func (p *Pipeline) synthesizeChunks(ctx context.Context, st *runState, chunks []domain.Chunk) error {
	emitStage(st.req.OnStage, StageSynthesizing)
	st.outcomes = make([]chunkOutcome, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, ck := range chunks {
		g.Go(func() error {
			return p.synthesizeChunk(gctx, st, ck)
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// synthesizeChunk renders one chunk, consulting the cache first and
// committing fresh audio back unless the run was cancelled meanwhile.
func (p *Pipeline) synthesizeChunk(ctx context.Context, st *runState, ck domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := cache.Key{Fingerprint: st.fingerprint, VoiceHash: st.voiceHash, Index: ck.Index}
	audio, err := p.cache.Get(key)
	if err == nil {
		st.finishChunk(ck.Index, chunkOutcome{audio: audio}, true, false)
		return nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		// Degraded cache is not fatal; synthesize as if missed.
		p.log.Warn().Err(err).Int("chunk", ck.Index).Msg("cache read failed")
	}

	audio, synthErr := p.engine.Synthesize(ctx, ck.Text, st.req.Voice)
	if synthErr != nil {
		if errors.Is(synthErr, synth.ErrEngineUnavailable) {
			return synthErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		unit := domain.UnitError{
			Kind:    domain.UnitErrorChunk,
			Page:    ck.Page,
			Chunk:   ck.Index,
			Message: synthErr.Error(),
		}
		st.addUnitError(unit)
		emitUnitError(st.req.OnUnitError, unit)
		p.log.Warn().Int("chunk", ck.Index).Err(synthErr).Msg("chunk synthesis failed")
		st.finishChunk(ck.Index, chunkOutcome{reason: synthErr.Error()}, false, true)
		return nil
	}

	// Cancelled work is abandoned, never committed.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.cache.Put(key, audio); err != nil {
		p.log.Warn().Err(err).Int("chunk", ck.Index).Msg("cache write failed")
	}

	st.finishChunk(ck.Index, chunkOutcome{audio: audio}, false, true)
	return nil
}

// finishChunk records one chunk outcome and advances chunk progress.
func (st *runState) finishChunk(index int, outcome chunkOutcome, cacheHit, synthCall bool) {
	st.mu.Lock()
	st.outcomes[index] = outcome
	if cacheHit {
		st.cacheHits++
	}
	if synthCall {
		st.synthCalls++
	}
	st.progress.ChunksDone++
	progress := st.progress
	st.mu.Unlock()

	emitProgress(st.req.OnProgress, progress)
}

// addUnitError appends one recoverable failure under the state lock.
func (st *runState) addUnitError(unit domain.UnitError) {
	st.mu.Lock()
	st.unitErrors = append(st.unitErrors, unit)
	st.mu.Unlock()
}

// assemble writes ordered segment files and the manifest. Failed
// chunks become marker segments with no file.
func (p *Pipeline) assemble(ctx context.Context, st *runState, chunks []domain.Chunk, bookDir string) (domain.ConversionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConversionResult{}, err
	}

	segments := make([]domain.AudioSegment, len(chunks))
	for i, ck := range chunks {
		outcome := st.outcomes[i]
		segment := domain.AudioSegment{Index: i, Page: ck.Page}
		if outcome.reason != "" {
			segment.Marker = true
			segment.Reason = outcome.reason
		} else {
			path := filepath.Join(bookDir, fmt.Sprintf("segment-%04d.wav", i))
			if err := os.WriteFile(path, outcome.audio, 0o644); err != nil {
				return domain.ConversionResult{}, fmt.Errorf("write segment %d: %w", i, err)
			}
			segment.Path = path
			segment.Bytes = int64(len(outcome.audio))
		}
		segments[i] = segment
	}

	result := domain.ConversionResult{
		Fingerprint:  st.fingerprint,
		Voice:        st.req.Voice,
		OutputDir:    bookDir,
		ManifestPath: filepath.Join(bookDir, "manifest.json"),
		Segments:     segments,
		Errors:       st.unitErrors,
		PagesTotal:   st.pagesTotal,
		PagesFailed:  st.pagesBad,
		CacheHits:    st.cacheHits,
		SynthCalls:   st.synthCalls,
		CreatedAt:    p.now().UTC(),
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return domain.ConversionResult{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(result.ManifestPath, data, 0o644); err != nil {
		return domain.ConversionResult{}, fmt.Errorf("write manifest: %w", err)
	}

	p.log.Info().
		Str("fingerprint", st.fingerprint[:8]).
		Int("segments", len(segments)).
		Int("cacheHits", st.cacheHits).
		Int("synthCalls", st.synthCalls).
		Msg("audiobook assembled")
	return result, nil
}

// Fingerprint hashes the raw file bytes. Identical files share cache
// entries no matter where they live on disk.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// emitStage forwards stage updates when callback is configured.
func emitStage(cb func(stage string), stage string) {
	if cb != nil {
		cb(stage)
	}
}

// emitProgress forwards progress snapshots when callback is configured.
func emitProgress(cb func(progress domain.Progress), progress domain.Progress) {
	if cb != nil {
		cb(progress)
	}
}

// emitUnitError forwards recoverable failures when callback is configured.
func emitUnitError(cb func(unitErr domain.UnitError), unit domain.UnitError) {
	if cb != nil {
		cb(unit)
	}
}
