package model

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"

	"evalgo/pkg/core"
)

// classify wraps a provider SDK failure as a transport error so the
// client pool can decide whether to retry it. Context errors pass
// through untouched for limit classification upstream.
func classify(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	status := 0
	var aerr *anthropic.Error
	var oerr *openai.Error
	switch {
	case errors.As(err, &aerr):
		status = aerr.StatusCode
	case errors.As(err, &oerr):
		status = oerr.StatusCode
	}
	return &core.TransportError{
		Provider:   provider,
		StatusCode: status,
		Temporary:  temporaryStatus(status),
		Err:        err,
	}
}

// temporaryStatus reports whether a status code is worth retrying. A
// zero status means the request never got an HTTP response (connection
// reset, DNS failure) and is treated as transient.
func temporaryStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == 408 || status == 429:
		return true
	case status >= 500:
		return true
	}
	return false
}
