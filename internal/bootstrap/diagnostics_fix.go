package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"pdf-audiobook/internal/config"
	"pdf-audiobook/internal/domain"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one
// failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case "tool_tts":
		settings, settingsChanged, fixErr = installSpeechEngine(settings)
	case "tool_ocr":
		fixErr = installOCREngine(settings)
	case "cache_dir":
		settings, settingsChanged, fixErr = fixDirectorySetting(settings, id)
	case "output_dir":
		settings, settingsChanged, fixErr = fixDirectorySetting(settings, id)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	entries := filepath.SplitList(current)
	for _, entry := range entries {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, ".pdf-audiobook", "bin")
}

// installSpeechEngine installs espeak-ng through the first available
// package manager. A pinned engine path is never overwritten; on macOS
// the fallback engine is pinned afterwards so the default probe (the
// built-in say command) stops masking it.
func installSpeechEngine(settings domain.Settings) (domain.Settings, bool, error) {
	if path := strings.TrimSpace(settings.TTSEnginePath); path != "" {
		return settings, false, fmt.Errorf(
			"speech engine is pinned to %s in settings; install it manually or clear the setting", path)
	}

	if err := runFirstSuccessfulInstall(espeakInstallOptions()); err != nil {
		return settings, false, fmt.Errorf("install espeak-ng: %w", err)
	}
	if err := requireToolsOnPath("espeak-ng"); err != nil {
		return settings, false, fmt.Errorf("verify espeak-ng on PATH: %w", err)
	}

	if goruntime.GOOS == "darwin" {
		settings.TTSEnginePath = "espeak-ng"
		return settings, true, nil
	}
	return settings, false, nil
}

// installOCREngine installs tesseract through the first available
// package manager.
func installOCREngine(settings domain.Settings) error {
	if path := strings.TrimSpace(settings.OCREnginePath); path != "" {
		return fmt.Errorf(
			"ocr engine is pinned to %s in settings; install it manually or clear the setting", path)
	}

	if err := runFirstSuccessfulInstall(tesseractInstallOptions()); err != nil {
		return fmt.Errorf("install tesseract: %w", err)
	}
	if err := requireToolsOnPath("tesseract"); err != nil {
		return fmt.Errorf("verify tesseract on PATH: %w", err)
	}
	return nil
}

func espeakInstallOptions() []installOption {
	switch goruntime.GOOS {
	case "windows":
		return []installOption{
			{
				manager: "winget",
				commands: [][]string{
					{"winget", "install", "--id", "eSpeak-NG.eSpeak-NG", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
				},
			},
			{
				manager: "choco",
				commands: [][]string{
					{"choco", "install", "espeak", "-y"},
				},
			},
		}
	case "darwin":
		return []installOption{
			{
				manager: "brew",
				commands: [][]string{
					{"brew", "install", "espeak-ng"},
				},
			},
		}
	default:
		return []installOption{
			{
				manager: "apt-get",
				commands: [][]string{
					{"apt-get", "update"},
					{"apt-get", "install", "-y", "espeak-ng"},
				},
			},
			{
				manager: "dnf",
				commands: [][]string{
					{"dnf", "install", "-y", "espeak-ng"},
				},
			},
			{
				manager: "pacman",
				commands: [][]string{
					{"pacman", "-Sy", "--noconfirm", "espeak-ng"},
				},
			},
			{
				manager: "zypper",
				commands: [][]string{
					{"zypper", "install", "-y", "espeak-ng"},
				},
			},
			{
				manager: "brew",
				commands: [][]string{
					{"brew", "install", "espeak-ng"},
				},
			},
		}
	}
}

func tesseractInstallOptions() []installOption {
	switch goruntime.GOOS {
	case "windows":
		return []installOption{
			{
				manager: "winget",
				commands: [][]string{
					{"winget", "install", "--id", "UB-Mannheim.TesseractOCR", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
				},
			},
			{
				manager: "choco",
				commands: [][]string{
					{"choco", "install", "tesseract", "-y"},
				},
			},
		}
	case "darwin":
		return []installOption{
			{
				manager: "brew",
				commands: [][]string{
					{"brew", "install", "tesseract"},
				},
			},
		}
	default:
		return []installOption{
			{
				manager: "apt-get",
				commands: [][]string{
					{"apt-get", "update"},
					{"apt-get", "install", "-y", "tesseract-ocr"},
				},
			},
			{
				manager: "dnf",
				commands: [][]string{
					{"dnf", "install", "-y", "tesseract"},
				},
			},
			{
				manager: "pacman",
				commands: [][]string{
					{"pacman", "-Sy", "--noconfirm", "tesseract"},
				},
			},
			{
				manager: "zypper",
				commands: [][]string{
					{"zypper", "install", "-y", "tesseract-ocr"},
				},
			},
			{
				manager: "brew",
				commands: [][]string{
					{"brew", "install", "tesseract"},
				},
			},
		}
	}
}

// fixDirectorySetting fills an empty cache or output directory with its
// factory default and creates it on disk.
func fixDirectorySetting(settings domain.Settings, id string) (domain.Settings, bool, error) {
	defaults := config.DefaultSettings()
	changed := false

	var dir string
	switch id {
	case "cache_dir":
		dir = strings.TrimSpace(settings.CacheDir)
		if dir == "" {
			dir = defaults.CacheDir
			settings.CacheDir = dir
			changed = true
		}
	case "output_dir":
		dir = strings.TrimSpace(settings.OutputDir)
		if dir == "" {
			dir = defaults.OutputDir
			settings.OutputDir = dir
			changed = true
		}
	default:
		return settings, false, fmt.Errorf("unsupported directory setting: %s", id)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create directory %s: %w", dir, err)
	}
	return settings, changed, nil
}

func runFirstSuccessfulInstall(options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", goruntime.GOOS)
	}

	errorsByManager := make([]string, 0, len(options))
	atLeastOneManager := false

	for _, option := range options {
		if !commandAvailable(option.manager) {
			continue
		}
		atLeastOneManager = true
		if err := runInstallCommands(option.commands); err == nil {
			return nil
		} else {
			errorsByManager = append(errorsByManager, fmt.Sprintf("%s: %v", option.manager, err))
		}
	}

	if !atLeastOneManager {
		return fmt.Errorf("no supported package manager found for %s", goruntime.GOOS)
	}
	return errors.New(strings.Join(errorsByManager, " | "))
}

func runInstallCommands(commands [][]string) error {
	for _, command := range commands {
		if err := runCommandWithPossibleElevation(command); err != nil {
			return err
		}
	}
	return nil
}

func runCommandWithPossibleElevation(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if goruntime.GOOS == "linux" && requiresElevation(command[0]) {
		if commandAvailable("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if commandAvailable("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if err := runCommand(candidate[0], candidate[1:]...); err == nil {
			return nil
		} else {
			attemptErrors = append(attemptErrors, err.Error())
		}
	}

	return errors.New(strings.Join(attemptErrors, " | "))
}

func runCommand(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), installCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", formatCommand(name, args), err, trimmed)
}

func formatCommand(name string, args []string) string {
	parts := append([]string{name}, args...)
	return strings.Join(parts, " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func requireToolsOnPath(names ...string) error {
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}
