// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

// Code classifies a failed turn.
type Code string

const (
	CodeBackendUnavailable   Code = "BACKEND_UNAVAILABLE"
	CodeModelNotFound        Code = "MODEL_NOT_FOUND"
	CodeStreamingInterrupted Code = "STREAMING_INTERRUPTED"
	CodeInferenceFailed      Code = "INFERENCE_FAILED"
	CodeTimeout              Code = "TIMEOUT"
	CodeToolExecutionFailed  Code = "TOOL_EXECUTION_FAILED"
	CodeUnknown              Code = "UNKNOWN"

	// Transport-level codes used in non-streaming error bodies.
	CodeChatError      Code = "CHAT_ERROR"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeNotFound       Code = "NOT_FOUND"
)

// Retryable reports whether resubmitting the same turn can succeed.
func Retryable(code Code) bool {
	switch code {
	case CodeModelNotFound, CodeInvalidRequest, CodeNotFound:
		return false
	}
	return true
}

// Message returns the user-facing description of a code.
func Message(code Code) string {
	switch code {
	case CodeBackendUnavailable:
		return "The model backend is not reachable. Is Ollama running?"
	case CodeModelNotFound:
		return "The selected model is not installed."
	case CodeStreamingInterrupted:
		return "The response stream ended unexpectedly."
	case CodeInferenceFailed:
		return "The model failed to generate a response."
	case CodeTimeout:
		return "The request timed out."
	case CodeToolExecutionFailed:
		return "A tool failed while generating the response."
	case CodeInvalidRequest:
		return "The request was rejected as invalid."
	default:
		return "Something went wrong."
	}
}

// ErrorBody is the JSON body of a non-streaming failure response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  Code   `json:"code"`
}
