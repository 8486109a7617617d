package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pdf-audiobook/internal/domain"
)

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		CacheDir:  filepath.Join(root, "cache"),
		OutputDir: filepath.Join(root, "output"),
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	assertStatusByID(t, report, "tool_tts", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "tool_ocr", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "cache_dir", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusPass)
}

// TestCheckerRunMissingEnginesAndPaths validates failure reporting and
// that a missing OCR engine only warns.
func TestCheckerRunMissingEnginesAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		CacheDir:  "",
		OutputDir: "",
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "tool_tts", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_ocr", domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, "cache_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusFail)

	for _, item := range report.Items {
		if item.ID == "tool_tts" && !item.FixAvailable {
			t.Fatal("tool_tts should offer a fix")
		}
	}
}

// TestCheckerRunWarnOnlyReportHasNoFailures validates that warnings
// alone do not flag the report.
func TestCheckerRunWarnOnlyReportHasNoFailures(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) {
			if name == "tesseract" {
				return "", errors.New("not found")
			}
			return "/usr/bin/" + name, nil
		},
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		CacheDir:  filepath.Join(root, "cache"),
		OutputDir: filepath.Join(root, "output"),
	})

	if report.HasFailures {
		t.Fatalf("warn-only report flagged failures: %+v", report.Items)
	}
	assertStatusByID(t, report, "tool_ocr", domain.DiagnosticStatusWarn)
}

// TestCheckerRunHonorsConfiguredEnginePaths validates the probed names.
func TestCheckerRunHonorsConfiguredEnginePaths(t *testing.T) {
	root := t.TempDir()
	var probed []string
	checker := NewCheckerForTests(
		func(name string) (string, error) {
			probed = append(probed, name)
			return "/custom/" + name, nil
		},
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	checker.Run(domain.Settings{
		TTSEnginePath: "/opt/voices/espeak",
		OCREnginePath: "/opt/ocr/tesseract-5",
		CacheDir:      filepath.Join(root, "cache"),
		OutputDir:     filepath.Join(root, "output"),
	})

	if len(probed) != 2 {
		t.Fatalf("probed = %v, want 2 lookups", probed)
	}
	if probed[0] != "/opt/voices/espeak" {
		t.Fatalf("tts probe = %q", probed[0])
	}
	if probed[1] != "/opt/ocr/tesseract-5" {
		t.Fatalf("ocr probe = %q", probed[1])
	}
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
