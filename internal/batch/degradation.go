package batch

import (
	"context"
	"errors"
	"strings"

	"contentfactory/internal/providers/image"
)

// Degradation is one step of the fallback chain applied after a job
// exhausts its retries.
type Degradation interface {
	Name() string
	Apply(ctx context.Context, job Job, req image.Request, cause error) (string, error)
}

var errNoSubstitute = errors.New("no substitute available")

// AlternativeSource asks a secondary generator for the same prompt.
type AlternativeSource struct {
	Generator image.Generator
}

func (AlternativeSource) Name() string { return "alternative_source" }

func (a AlternativeSource) Apply(ctx context.Context, job Job, req image.Request, cause error) (string, error) {
	if a.Generator == nil {
		return "", errNoSubstitute
	}
	return a.Generator.Generate(ctx, req)
}

// Placeholder substitutes a static image URL.
type Placeholder struct {
	URL string
}

func (Placeholder) Name() string { return "placeholder" }

func (p Placeholder) Apply(ctx context.Context, job Job, req image.Request, cause error) (string, error) {
	if strings.TrimSpace(p.URL) == "" {
		return "", errNoSubstitute
	}
	return strings.TrimSpace(p.URL), nil
}

// PassThrough returns the job's reference asset unchanged.
type PassThrough struct{}

func (PassThrough) Name() string { return "pass_through" }

func (PassThrough) Apply(ctx context.Context, job Job, req image.Request, cause error) (string, error) {
	if strings.TrimSpace(job.ReferenceAsset) == "" {
		return "", errNoSubstitute
	}
	return strings.TrimSpace(job.ReferenceAsset), nil
}

// DefaultChain returns the standard ordered chain. Nil or empty inputs
// produce strategies that simply decline.
func DefaultChain(alternative image.Generator, placeholderURL string) []Degradation {
	return []Degradation{
		AlternativeSource{Generator: alternative},
		Placeholder{URL: placeholderURL},
		PassThrough{},
	}
}
