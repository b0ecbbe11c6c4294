package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrUnreadable is returned when the duration of a file cannot be determined.
var ErrUnreadable = errors.New("unreadable audio")

// FFProbe reads container durations with the ffprobe binary.
type FFProbe struct {
	Bin string
}

func NewFFProbe() *FFProbe {
	return &FFProbe{Bin: "ffprobe"}
}

// Duration returns the length of the audio file at path.
func (p *FFProbe) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, p.Bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Warn("ffprobe failed", "path", path, "error", err, "stderr", strings.TrimSpace(stderr.String()))
		return 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return parseProbeOutput(stdout.String())
}

func parseProbeOutput(out string) (time.Duration, error) {
	trimmed := strings.TrimSpace(out)
	secs, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q", ErrUnreadable, trimmed)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("%w: zero duration", ErrUnreadable)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
