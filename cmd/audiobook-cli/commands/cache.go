package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pdf-audiobook/internal/cache"
	"pdf-audiobook/internal/convert"
	"pdf-audiobook/internal/domain"
)

var cacheDocument string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the synthesized audio cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached audio segments",
	Long: `Remove every cached segment, or only one document's segments when
--document names a PDF file or a fingerprint from a manifest.`,
	RunE: runCacheClear,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count and total size",
	RunE:  runCacheStats,
}

func init() {
	cacheClearCmd.Flags().StringVarP(&cacheDocument, "document", "d", "", "PDF path or document fingerprint to clear selectively")
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache(settings domain.Settings) (*cache.Manager, error) {
	manager, err := cache.NewManager(
		settings.CacheDir,
		time.Duration(settings.CacheTTLSeconds)*time.Second,
		settings.CacheMaxBytes,
		newLogger(),
	)
	if err != nil {
		return nil, fmt.Errorf("open audio cache: %w", err)
	}
	return manager, nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	manager, err := openCache(settings)
	if err != nil {
		return err
	}

	if cacheDocument == "" {
		removed, err := manager.Clear()
		if err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Printf("Removed %d cached segment(s) from %s.\n", removed, manager.Dir())
		return nil
	}

	fingerprint, err := resolveFingerprint(cacheDocument)
	if err != nil {
		return err
	}
	removed, err := manager.InvalidateDocument(fingerprint)
	if err != nil {
		return fmt.Errorf("clear document cache: %w", err)
	}
	fmt.Printf("Removed %d cached segment(s) for document %s.\n", removed, fingerprint[:16])
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	manager, err := openCache(settings)
	if err != nil {
		return err
	}

	count, totalBytes, err := manager.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Cache directory: %s\n", manager.Dir())
	fmt.Printf("Entries:         %d\n", count)
	fmt.Printf("Total size:      %.1f MiB\n", float64(totalBytes)/(1<<20))
	return nil
}

// resolveFingerprint accepts either a PDF path, which is hashed on the
// spot, or a fingerprint copied from a manifest. Entry names embed the
// first 16 fingerprint characters, so anything shorter cannot address
// a document.
func resolveFingerprint(value string) (string, error) {
	if _, err := os.Stat(value); err == nil {
		fingerprint, err := convert.Fingerprint(value)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", value, err)
		}
		return fingerprint, nil
	}

	if len(value) < 16 {
		return "", fmt.Errorf("%q is neither an existing file nor a document fingerprint", value)
	}
	return value, nil
}
