package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/streamly/streamly-services-uploads/apperror"
)

const (
	// MaxFileSize caps accepted files at roughly 1.65 GiB.
	MaxFileSize int64 = 1771673011

	// MinDurationSeconds rejects clips shorter than a minute.
	MinDurationSeconds = 60.0

	targetAspectRatio = 16.0 / 9.0
	aspectTolerance   = 0.05
)

// VideoInfo is the probed shape of a local media file.
type VideoInfo struct {
	Width    int
	Height   int
	Duration float64
	Format   string
}

type Probe interface {
	Probe(ctx context.Context, path string) (*VideoInfo, error)
}

// FFprobeImpl shells out to ffprobe for container and stream metadata.
type FFprobeImpl struct {
	// Path overrides the binary location; empty means $PATH lookup.
	Path string
}

func NewFFprobeImpl() *FFprobeImpl {
	return &FFprobeImpl{}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func (p *FFprobeImpl) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	bin := p.Path
	if bin == "" {
		bin = "ffprobe"
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	raw, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{Format: out.Format.FormatName}
	if out.Format.Duration != "" {
		info.Duration, err = strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse duration %q: %w", out.Format.Duration, err)
		}
	}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}

	return info, nil
}

// ValidateVideo enforces the intake rules before any network round trip.
func ValidateVideo(info *VideoInfo, size int64) error {
	if size > MaxFileSize {
		return apperror.NewValidationError("file exceeds the maximum upload size of %d bytes", MaxFileSize)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return apperror.NewValidationError("file does not contain a video stream")
	}
	if info.Duration < MinDurationSeconds {
		return apperror.NewValidationError("video must be at least 60 seconds long")
	}
	ratio := float64(info.Width) / float64(info.Height)
	if math.Abs(ratio-targetAspectRatio) > aspectTolerance {
		return apperror.NewValidationError("video must have a 16:9 aspect ratio")
	}
	// ffprobe reports the mp4 family as "mov,mp4,m4a,3gp,3g2,mj2"
	if !strings.Contains(info.Format, "mp4") {
		return apperror.NewValidationError("video must be an mp4 file")
	}
	return nil
}
