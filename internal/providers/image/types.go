package image

import (
	"context"
	"strconv"
	"strings"
)

// Request describes one image to produce.
type Request struct {
	Prompt       string
	ReferenceURL string
	Size         string
	RequestID    string
}

// Generator is the contract implemented by all image providers. It returns a
// URL for the produced asset.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// DefaultSize is the square DashScope size token.
const DefaultSize = "1328*1328"

// AspectRatioSize maps an aspect ratio string to the DashScope supported size token.
func AspectRatioSize(aspect string) string {
	switch strings.TrimSpace(aspect) {
	case "16:9":
		return "1664*928"
	case "4:3":
		return "1472*1104"
	case "3:4":
		return "1140*1472"
	case "9:16":
		return "928*1664"
	default:
		return DefaultSize
	}
}

// PlatformAspect picks the aspect ratio conventionally used by a publishing platform.
func PlatformAspect(platform string) string {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "instagram", "xiaohongshu", "rednote":
		return "3:4"
	case "tiktok", "douyin", "stories":
		return "9:16"
	case "blog", "wechat", "medium", "linkedin", "twitter", "x":
		return "16:9"
	default:
		return "1:1"
	}
}

// ParseSize converts a "W*H" token into pixel dimensions.
func ParseSize(size string) (int, int) {
	parts := strings.Split(strings.TrimSpace(size), "*")
	if len(parts) != 2 {
		return 1024, 1024
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 1024, 1024
	}
	return w, h
}
