package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"pdf-audiobook/internal/cache"
	"pdf-audiobook/internal/chunk"
	"pdf-audiobook/internal/config"
	"pdf-audiobook/internal/convert"
	"pdf-audiobook/internal/domain"
	"pdf-audiobook/internal/extract"
	"pdf-audiobook/internal/ocr"
	"pdf-audiobook/internal/synth"
)

var (
	convertInput   string
	convertOutDir  string
	convertVoice   string
	convertRate    int
	convertVolume  float64
	convertWorkers int
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a PDF into an audiobook",
	Long: `Convert extracts text from the PDF page by page (falling back to OCR
for scanned pages), splits it into chunks, synthesizes each chunk
through the speech engine, and writes ordered segment files plus a
manifest to the output directory. Previously synthesized chunks are
reused from the cache.`,
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertInput, "input", "i", "", "path to the PDF document (required)")
	convertCmd.Flags().StringVarP(&convertOutDir, "out", "o", "", "output directory (default from settings)")
	convertCmd.Flags().StringVar(&convertVoice, "voice", "", "voice identifier (default from settings)")
	convertCmd.Flags().IntVar(&convertRate, "rate", config.DefaultRateWPM, "speech rate in words per minute (50-400)")
	convertCmd.Flags().Float64Var(&convertVolume, "volume", config.DefaultVolume, "volume between 0.0 and 1.0")
	convertCmd.Flags().IntVar(&convertWorkers, "workers", 0, "synthesis worker count (default from settings)")
	convertCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if convertOutDir != "" {
		settings.OutputDir = convertOutDir
	}
	if cmd.Flags().Changed("workers") {
		settings.MaxWorkers = convertWorkers
	}
	if err := config.Validate(settings); err != nil {
		return err
	}

	voice := config.DefaultVoiceSettings(settings)
	if cmd.Flags().Changed("voice") {
		voice.VoiceID = convertVoice
	}
	if cmd.Flags().Changed("rate") {
		voice.RateWPM = convertRate
	}
	if cmd.Flags().Changed("volume") {
		voice.Volume = convertVolume
	}
	if err := config.ValidateVoice(voice); err != nil {
		return err
	}

	log := newLogger()
	pipeline, err := buildPipeline(settings, log)
	if err != nil {
		return err
	}

	fmt.Printf("Converting %s\n", convertInput)

	// Callbacks arrive from synthesis workers concurrently.
	var (
		mu           sync.Mutex
		bar          *progressbar.ProgressBar
		lastProgress domain.Progress
		unitErrors   []domain.UnitError
	)

	req := convert.Request{
		InputPath: convertInput,
		OutputDir: settings.OutputDir,
		Voice:     voice,
		OnStage: func(stage string) {
			mu.Lock()
			defer mu.Unlock()
			switch stage {
			case convert.StageExtracting:
				fmt.Println("Extracting pages...")
			case convert.StageChunking:
				fmt.Println("Splitting text into chunks...")
			case convert.StageSynthesizing:
				bar = newChunkBar(int64(lastProgress.ChunksTotal))
			}
		},
		OnProgress: func(progress domain.Progress) {
			mu.Lock()
			defer mu.Unlock()
			lastProgress = progress
			if bar != nil {
				_ = bar.Set64(int64(progress.ChunksDone))
			}
		},
		OnUnitError: func(unit domain.UnitError) {
			mu.Lock()
			defer mu.Unlock()
			unitErrors = append(unitErrors, unit)
		},
	}

	result, err := pipeline.Run(ctx, req)

	mu.Lock()
	if bar != nil {
		if err != nil {
			bar.Exit()
			fmt.Fprintln(os.Stderr)
		} else {
			_ = bar.Finish()
		}
	}
	mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("conversion cancelled")
		}
		return fmt.Errorf("conversion failed: %w", err)
	}

	printUnitErrors(unitErrors)
	fmt.Printf("✓ Audiobook assembled: %d segments (%d from cache, %d synthesized)\n",
		len(result.Segments), result.CacheHits, result.SynthCalls)
	fmt.Printf("  Output:   %s\n", result.OutputDir)
	fmt.Printf("  Manifest: %s\n", result.ManifestPath)
	return nil
}

// printUnitErrors lists skipped pages and chunks after the bar is done
// so warnings never tear its rendering.
func printUnitErrors(units []domain.UnitError) {
	if len(units) == 0 {
		return
	}

	fmt.Printf("⚠ %d unit(s) skipped and replaced by markers:\n", len(units))
	for _, unit := range units {
		switch unit.Kind {
		case domain.UnitErrorPage:
			fmt.Printf("  page %d: %s\n", unit.Page, unit.Message)
		default:
			fmt.Printf("  chunk %d (page %d): %s\n", unit.Chunk, unit.Page, unit.Message)
		}
	}
}

// buildPipeline wires the conversion pipeline from settings. The CLI
// assembles its own instance instead of reusing the desktop bootstrap
// so the binary never links the UI runtime.
func buildPipeline(settings domain.Settings, log zerolog.Logger) (*convert.Pipeline, error) {
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

	store, err := cache.NewManager(
		settings.CacheDir,
		time.Duration(settings.CacheTTLSeconds)*time.Second,
		settings.CacheMaxBytes,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("prepare audio cache: %w", err)
	}

	adapter := extract.NewAdapter(engine, settings.OCRTextThreshold, log)
	speech := synth.NewEngine(settings)

	return convert.NewPipeline(
		adapter,
		splitter,
		store,
		speech,
		settings.MaxWorkers,
		settings.MaxFileSizeBytes,
		log,
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

// newChunkBar renders synthesis progress over chunk counts.
func newChunkBar(total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription("synthesizing"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}
