package audio

import (
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// IsWSL checks if the current environment is Windows Subsystem for Linux
func IsWSL() bool {
	return detectWSLFromData(readProcVersion(), os.Getenv("WSL_DISTRO_NAME"))
}

// detectWSLFromData checks for WSL indicators in the provided data (for testing)
func detectWSLFromData(procVersion, wslEnv string) bool {
	slog.Debug("checking WSL detection", "proc_version_snippet", truncateString(procVersion, 50), "wsl_env", wslEnv)

	// Check WSL_DISTRO_NAME environment variable (WSL sets this)
	if wslEnv != "" {
		slog.Debug("WSL detected via environment variable", "distro", wslEnv)
		return true
	}

	// Check /proc/version for Microsoft or WSL indicators
	procLower := strings.ToLower(procVersion)
	if strings.Contains(procLower, "microsoft") || strings.Contains(procLower, "wsl") {
		slog.Debug("WSL detected via /proc/version", "indicators", "microsoft or wsl found")
		return true
	}

	slog.Debug("no WSL indicators found")
	return false
}

// readProcVersion reads /proc/version file content
func readProcVersion() string {
	content, err := os.ReadFile("/proc/version")
	if err != nil {
		slog.Debug("failed to read /proc/version", "error", err)
		return ""
	}
	return string(content)
}

// CommandExists checks if a command is available in the system's PATH using exec.LookPath
func CommandExists(command string) bool {
	if command == "" {
		return false
	}

	_, err := exec.LookPath(command)
	exists := err == nil
	slog.Debug("command existence check", "command", command, "exists", exists)
	return exists
}

// DetectOptimalBackend determines the best sink kind for the current system
func DetectOptimalBackend() string {
	return detectOptimalBackendWithChecker(IsWSL(), deviceSinksAvailable, CommandExists)
}

// detectOptimalBackendWithChecker allows dependency injection for testing.
// It returns "" when neither a device nor a player command is usable.
func detectOptimalBackendWithChecker(isWSL, devices bool, commandChecker func(string) bool) string {
	slog.Debug("detecting optimal audio backend", "is_wsl", isWSL, "device_sinks", devices)

	hasCommand := getPreferredSystemCommandWithChecker(commandChecker) != ""

	if isWSL {
		// WSL audio through miniaudio crackles; a PulseAudio pipe does not
		if hasCommand {
			slog.Debug("WSL detected, preferring pipe sink")
			return SinkPipe
		}
		if devices {
			slog.Warn("no system audio commands found in WSL, falling back to malgo (may have crackling)")
			return SinkMalgo
		}
		return ""
	}

	if devices {
		return SinkMalgo
	}
	if hasCommand {
		slog.Debug("built without device sinks, using pipe sink")
		return SinkPipe
	}
	return ""
}

// getPreferredSystemCommandWithChecker allows dependency injection for testing
func getPreferredSystemCommandWithChecker(commandChecker func(string) bool) string {
	// Priority order: pacat (PulseAudio) > aplay (ALSA) > ffplay (FFmpeg).
	// Each must accept raw PCM on stdin.
	preferredCommands := []string{
		"pacat",
		"aplay",
		"ffplay",
	}

	for _, cmd := range preferredCommands {
		if commandChecker(cmd) {
			slog.Debug("preferred system command found", "command", cmd)
			return cmd
		}
	}

	slog.Debug("no preferred system audio commands found")
	return ""
}

// truncateString truncates a string to maxLen characters for logging
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
