// File: internal/alerting/sound.go
package alerting

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/smartdevs17/mine-alert-notifier/internal/config"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// Sounder plays the audible alert for equipment-down notifications
type Sounder interface {
	Play(ctx context.Context) error
}

// CommandSounder runs an external player, e.g. "paplay /usr/share/sounds/alert.oga"
type CommandSounder struct {
	Command string
	Timeout time.Duration
}

// Play runs the command and waits for it under the timeout
func (s *CommandSounder) Play(ctx context.Context) error {
	fields := strings.Fields(s.Command)
	if len(fields) == 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Sound command is empty")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sound command %q failed: %w (%s)", fields[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// BellSounder writes the terminal bell character
type BellSounder struct {
	Out io.Writer
}

// Play rings the bell
func (s *BellSounder) Play(context.Context) error {
	out := s.Out
	if out == nil {
		out = os.Stderr
	}
	_, err := io.WriteString(out, "\a")
	return err
}

// NopSounder stays silent
type NopSounder struct{}

// Play does nothing
func (NopSounder) Play(context.Context) error { return nil }

// NewSounder picks the sounder for the notification settings
func NewSounder(cfg *config.NotificationConfig) Sounder {
	switch {
	case !cfg.SoundEnabled:
		return NopSounder{}
	case strings.TrimSpace(cfg.SoundCommand) != "":
		return &CommandSounder{Command: cfg.SoundCommand}
	default:
		return &BellSounder{}
	}
}
