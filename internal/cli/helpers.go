package cli

import (
	"os"

	"github.com/streakforge/streakforge/internal/daemon"
	"github.com/streakforge/streakforge/internal/platform/logger"
)

// openDaemon wires the engine for a one-shot command. Logs go to stderr so
// command output stays clean.
func openDaemon() (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New("streakforge", logger.Options{
		Level:  "warn",
		Format: "console",
		Output: os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	return daemon.NewWithLogger(cfg, log)
}
