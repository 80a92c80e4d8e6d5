package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// LogDirectory returns the directory used for rotating log files.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\Dataverse\logs
//   - Unix: ~/.config/dataverse/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "dataverse-int-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "Dataverse", "logs")
	}

	if dir := getConfigDir(); dir != "" {
		return filepath.Join(dir, "logs")
	}
	return filepath.Join(os.TempDir(), "dataverse-int-logs")
}

// DefaultLogFile is the log file used when [logging] file is "default".
func DefaultLogFile() string {
	return filepath.Join(LogDirectory(), "dataverse-int.log")
}
