package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrUpstreamTimeout       = errors.New("upstream timeout")
	ErrUpstreamRateLimited   = errors.New("upstream rate limited")
	ErrUpstreamError         = errors.New("upstream error")
	ErrInvalidResponseFormat = errors.New("invalid response format")
	ErrPartialBatchFailure   = errors.New("partial batch failure")
	ErrFatalPipeline         = errors.New("fatal pipeline error")
)

// ClassifyUpstream maps a raw collaborator error onto the upstream sentinels.
// Errors that already carry a sentinel are returned unchanged.
func ClassifyUpstream(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrUpstreamTimeout),
		errors.Is(err, ErrUpstreamRateLimited),
		errors.Is(err, ErrUpstreamError),
		errors.Is(err, ErrInvalidResponseFormat),
		errors.Is(err, ErrInvalidInput):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return fmt.Errorf("%w: %w", ErrUpstreamRateLimited, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUpstreamError, err)
}

// IsRetryable reports whether an upstream failure may succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
