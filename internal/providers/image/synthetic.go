package image

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"

	"contentfactory/internal/infra"
	"contentfactory/internal/storage"
)

// SyntheticGenerator renders a deterministic striped PNG for a prompt. It
// backs local development without provider keys and serves as the
// alternative source when the primary provider is exhausted.
type SyntheticGenerator struct {
	store   storage.Writer
	baseURL string
	logger  infra.Logger
}

// NewSyntheticGenerator wires the renderer to a store served from baseURL.
func NewSyntheticGenerator(store storage.Writer, baseURL string, logger *infra.Logger) *SyntheticGenerator {
	return &SyntheticGenerator{store: store, baseURL: baseURL, logger: infra.LoggerOrDiscard(logger)}
}

func (g *SyntheticGenerator) String() string { return "synthetic" }

// Generate renders, stores and returns the public URL of the image.
func (g *SyntheticGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g == nil || g.store == nil {
		return "", fmt.Errorf("synthetic generator not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	width, height := ParseSize(req.Size)
	width, height = scaleDown(width, height, 512)
	seed := deterministicHex(req.RequestID, req.Prompt, req.ReferenceURL)
	data, err := renderSyntheticImage(width, height, seed)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("synthetic/%s/%s.png", sanitizeSegment(req.RequestID), seed)
	stored, err := g.store.Write(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("synthetic: store image: %w", err)
	}
	g.logger.Debug().
		Str("provider", "synthetic").
		Str("request_id", req.RequestID).
		Str("key", stored).
		Msg("synthetic: rendered image")
	return storage.PublicURL(g.baseURL, stored), nil
}

func scaleDown(width, height, maxSide int) (int, int) {
	if width <= maxSide && height <= maxSide {
		return width, height
	}
	if width >= height {
		return maxSide, maxInt(1, height*maxSide/width)
	}
	return maxInt(1, width*maxSide/height), maxSide
}

func renderSyntheticImage(width, height int, seed string) ([]byte, error) {
	if width <= 0 {
		width = 512
	}
	if height <= 0 {
		height = 512
	}
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &stdimage.Uniform{base}, stdimage.Point{}, draw.Src)

	stripeHeight := maxInt(16, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := stdimage.Rect(0, y, width, minInt(height, y+stripeHeight))
		draw.Draw(img, stripe, &stdimage.Uniform{accent}, stdimage.Point{}, draw.Over)
	}

	diagonal := colorFromSeed(seed, 2)
	for x := 0; x < maxInt(width, height); x += maxInt(16, width/32) {
		for y := 0; y < height; y++ {
			xx := x + y
			if xx >= width {
				break
			}
			img.Set(xx, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("synthetic: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: parseHexByte(segment[0:2]), G: parseHexByte(segment[2:4]), B: parseHexByte(segment[4:6]), A: 255}
}

func parseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var _ Generator = (*SyntheticGenerator)(nil)
