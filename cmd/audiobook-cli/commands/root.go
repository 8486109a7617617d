package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pdf-audiobook/internal/config"
	"pdf-audiobook/internal/domain"
)

var (
	settingsPath string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "audiobook-cli",
	Short: "Convert PDF documents into spoken audiobooks",
	Long: `audiobook-cli drives the PDF audiobook pipeline from a terminal:
extract text (with OCR fallback for scanned pages), split it into
speakable chunks, synthesize each chunk through the configured speech
engine, and assemble the ordered audio segments into an output folder.

It shares settings and the audio cache with the desktop app.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", "", "settings file path (default ~/.pdf-audiobook/settings.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadSettings reads and validates the settings file every subcommand
// works from. A missing file yields defaults, same as the desktop app.
func loadSettings() (domain.Settings, error) {
	path := settingsPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return domain.Settings{}, fmt.Errorf("resolve user home: %w", err)
		}
		path = filepath.Join(homeDir, ".pdf-audiobook", "settings.json")
	}

	settings, err := config.NewJSONStore(path).Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if err := config.Validate(settings); err != nil {
		return domain.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

// newLogger builds the command logger. Non-verbose runs only surface
// warnings so pipeline internals stay off the terminal.
func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Str("service", "audiobook-cli").Logger()
}
