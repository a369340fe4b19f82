package cli

import (
	"log/slog"

	"github.com/aretw0/stash/internal/logging"
)

// NewLogger builds the command logger for a configured level.
func NewLogger(level string) (*slog.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.New(lvl), nil
}
