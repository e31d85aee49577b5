// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"context"
	"errors"
	"strings"
)

// AI service errors
var (
	// ErrRateLimited indicates the service rejected the call for rate reasons.
	// Retried with backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable indicates a transient service failure. Retried with backoff.
	ErrUnavailable = errors.New("ai service unavailable")

	// ErrInputTooLong indicates the input exceeded the model's bound.
	// Not retried as-is; callers truncate and retry once.
	ErrInputTooLong = errors.New("input too long")

	// ErrMalformedResponse indicates the model output could not be parsed.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrEmptyResponse indicates the model returned no content.
	ErrEmptyResponse = errors.New("empty response")

	// ErrInvalidConfig indicates an AI configuration failed validation.
	ErrInvalidConfig = errors.New("invalid ai config")
)

// Retryable reports whether err is worth retrying within the same call.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// Classify maps a raw client error onto the package sentinels by inspecting
// its message. A per-call deadline counts as unavailable. Errors that match
// nothing are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrInputTooLong) || errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrEmptyResponse) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrUnavailable, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return errors.Join(ErrRateLimited, err)
	case strings.Contains(msg, "maximum context length"), strings.Contains(msg, "too many tokens"),
		strings.Contains(msg, "input length"), strings.Contains(msg, "context_length_exceeded"):
		return errors.Join(ErrInputTooLong, err)
	case serverStatus(msg), strings.Contains(msg, "overloaded"), strings.Contains(msg, "connection reset"):
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

var serverStatuses = []string{"500", "502", "503", "504"}

// serverStatus reports whether msg carries a 5xx HTTP status, as in
// "status code: 503" or "status 502".
func serverStatus(msg string) bool {
	for _, code := range serverStatuses {
		if strings.Contains(msg, "status code: "+code) || strings.Contains(msg, "status "+code) {
			return true
		}
	}
	return false
}
