package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/batalabs/qoze/internal/domain"
	"github.com/batalabs/qoze/internal/provider"
)

const (
	maxRetries       = 5
	retryInitialWait = 2 * time.Second
	retryMaxWait     = 30 * time.Second
	retryMultiplier  = 2
)

// callProviderWithRetry wraps the provider call with exponential backoff for
// retryable errors (rate limits, overloads, dropped streams).
func (e *Engine) callProviderWithRetry(
	ctx context.Context,
	messages []domain.TranscriptMessage,
	toolSpecs []provider.ToolSpec,
	system string,
	cb provider.StreamCallbacks,
) ([]domain.ContentBlock, string, provider.Usage, error) {
	if e.cfg.Provider == nil {
		return nil, "", provider.Usage{}, fmt.Errorf("no provider configured; use --model <provider>/<model>")
	}

	wait := retryInitialWait

	for attempt := 0; attempt <= maxRetries; attempt++ {
		blocks, stopReason, usage, err := e.cfg.Provider.StreamMessage(
			e.cfg.APIKey, e.cfg.ModelID, messages, toolSpecs, system, cb,
		)
		if err == nil {
			return blocks, stopReason, usage, nil
		}
		if attempt >= maxRetries {
			return nil, "", provider.Usage{}, err
		}

		retryWait := wait
		var apiErr *provider.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.IsRetryable():
			// The server's Retry-After is not capped; it knows when the
			// next attempt can succeed.
			if apiErr.RetryAfterMs > 0 {
				retryWait = time.Duration(apiErr.RetryAfterMs) * time.Millisecond
			} else if retryWait > retryMaxWait {
				retryWait = retryMaxWait
			}
		case isStreamError(err):
			// Stream dropped mid-response. Flush stale pooled connections so
			// the next attempt gets a fresh TCP/TLS connection; Go's
			// Transport only auto-retries stale connections for idempotent
			// methods, not POST.
			provider.CloseIdleConnections()
			if retryWait > retryMaxWait {
				retryWait = retryMaxWait
			}
		default:
			// Auth failures, invalid requests and the like never recover.
			return nil, "", provider.Usage{}, err
		}

		e.log.WithError(err).Warnf("provider call failed, retrying in %s (attempt %d/%d)",
			retryWait.Round(time.Millisecond), attempt+1, maxRetries)

		if !sleepCtx(ctx, retryWait) {
			return nil, "", provider.Usage{}, ctx.Err()
		}

		wait *= retryMultiplier
		if wait > retryMaxWait {
			wait = retryMaxWait
		}
	}

	return nil, "", provider.Usage{}, fmt.Errorf("max retries exceeded")
}

// isStreamError reports whether err looks like a transient stream or
// connection failure worth retrying.
func isStreamError(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "HTTP/1.x transport connection broken") ||
		strings.Contains(msg, "malformed chunked encoding") ||
		strings.Contains(msg, "chunked line ends with bare LF") ||
		strings.Contains(msg, "invalid byte in chunk length") ||
		strings.Contains(msg, "reading stream:")
}

// sleepCtx waits for d or until ctx is cancelled. Reports whether the full
// wait completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
