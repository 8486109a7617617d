package domain

import "time"

// JobStatus tracks each pipeline stage for a single conversion job.
type JobStatus string

const (
	JobStatusIdle         JobStatus = "idle"
	JobStatusPending      JobStatus = "pending"
	JobStatusExtracting   JobStatus = "extracting"
	JobStatusChunking     JobStatus = "chunking"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusReady        JobStatus = "ready"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// Terminal reports whether the status can no longer change on its own.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusReady, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	OutputDir        string  `json:"outputDir"`
	CacheDir         string  `json:"cacheDir"`
	CacheTTLSeconds  int     `json:"cacheTtlSeconds"`
	CacheMaxBytes    int64   `json:"cacheMaxBytes"`
	ClearCacheOnExit bool    `json:"clearCacheOnExit"`
	MaxFileSizeBytes int64   `json:"maxFileSizeBytes"`
	ChunkMinChars    int     `json:"chunkMinChars"`
	ChunkMaxChars    int     `json:"chunkMaxChars"`
	OCRTextThreshold int     `json:"ocrTextThreshold"`
	MaxWorkers       int     `json:"maxWorkers"`
	TTSEnginePath    string  `json:"ttsEnginePath"`
	OCREnginePath    string  `json:"ocrEnginePath"`
	OCRLanguage      string  `json:"ocrLanguage"`
	DefaultVoice     string  `json:"defaultVoice"`
	DefaultRateWPM   int     `json:"defaultRateWpm"`
	DefaultVolume    float64 `json:"defaultVolume"`
}

// Progress counts finished work units against expected totals.
type Progress struct {
	PagesDone   int `json:"pagesDone"`
	PagesTotal  int `json:"pagesTotal"`
	ChunksDone  int `json:"chunksDone"`
	ChunksTotal int `json:"chunksTotal"`
}

// UnitErrorKind distinguishes page-level from chunk-level failures.
type UnitErrorKind string

const (
	UnitErrorPage  UnitErrorKind = "page"
	UnitErrorChunk UnitErrorKind = "chunk"
)

// UnitError is one recoverable per-page or per-chunk failure. The job
// keeps going; the error is surfaced so the UI can list skipped units.
type UnitError struct {
	Kind    UnitErrorKind `json:"kind"`
	Page    int           `json:"page"`
	Chunk   int           `json:"chunk"`
	OCRUsed bool          `json:"ocrUsed,omitempty"`
	Message string        `json:"message"`
}

// Job stores identity, lifecycle status, and accumulated progress.
type Job struct {
	ID          string      `json:"id"`
	InputPath   string      `json:"inputPath,omitempty"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Status      JobStatus   `json:"status"`
	Progress    Progress    `json:"progress"`
	Errors      []UnitError `json:"errors,omitempty"`
	StartedAt   time.Time   `json:"startedAt"`
}

// Page is one extracted page of the source document. A failed page
// carries its cause in Err and empty Text.
type Page struct {
	Number  int
	Text    string
	OCRUsed bool
	Err     error
}

// Chunk is one synthesis unit with document provenance. Index is the
// global position in the assembled audiobook; Page is 1-based.
type Chunk struct {
	Index int
	Page  int
	Text  string
}

// AudioSegment is one ordered element of the assembled audiobook.
// Marker segments stand in for chunks whose synthesis failed.
type AudioSegment struct {
	Index  int    `json:"index"`
	Page   int    `json:"page"`
	Path   string `json:"path,omitempty"`
	Bytes  int64  `json:"bytes"`
	Marker bool   `json:"marker,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ConversionResult describes the assembled audiobook of a finished job.
type ConversionResult struct {
	Fingerprint  string         `json:"fingerprint"`
	Voice        VoiceSettings  `json:"voice"`
	OutputDir    string         `json:"outputDir"`
	ManifestPath string         `json:"manifestPath"`
	Segments     []AudioSegment `json:"segments"`
	Errors       []UnitError    `json:"errors,omitempty"`
	PagesTotal   int            `json:"pagesTotal"`
	PagesFailed  int            `json:"pagesFailed"`
	CacheHits    int            `json:"cacheHits"`
	SynthCalls   int            `json:"synthCalls"`
	CreatedAt    time.Time      `json:"createdAt"`
}
