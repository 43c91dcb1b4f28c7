// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"net/http"

	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/protocol"
)

// Classify maps a failure to the HTTP status used before streaming begins
// and the protocol code recorded on the failed message.
func Classify(err error) (int, protocol.Code) {
	var limit *RoundLimitError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case ollama.IsNotRunning(err):
		return http.StatusServiceUnavailable, protocol.CodeBackendUnavailable
	case ollama.IsModelNotFound(err):
		return http.StatusNotFound, protocol.CodeModelNotFound
	case ollama.IsTimeout(err):
		return http.StatusInternalServerError, protocol.CodeTimeout
	case ollama.IsStreamInterrupted(err):
		return http.StatusInternalServerError, protocol.CodeStreamingInterrupted
	case errors.As(err, &limit):
		return http.StatusInternalServerError, protocol.CodeToolExecutionFailed
	case errors.Is(err, ollama.ErrInvalidResponse):
		return http.StatusInternalServerError, protocol.CodeInferenceFailed
	}
	return http.StatusInternalServerError, protocol.CodeUnknown
}

// preStreamCode is the code of the JSON error body for a failure before
// the first chunk. Only the backend and model cases keep their own code.
func preStreamCode(code protocol.Code) protocol.Code {
	switch code {
	case protocol.CodeBackendUnavailable, protocol.CodeModelNotFound:
		return code
	}
	return protocol.CodeChatError
}

// errorText is the in-band error message for err.
func errorText(err error) string {
	var limit *RoundLimitError
	if errors.As(err, &limit) {
		return limit.Error()
	}
	var be *BackendError
	if errors.As(err, &be) {
		err = be.Err
	}
	_, code := Classify(err)
	if code == protocol.CodeUnknown || code == protocol.CodeInferenceFailed {
		return err.Error()
	}
	return protocol.Message(code) + " (" + err.Error() + ")"
}
