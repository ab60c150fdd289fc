// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api serves the node's admin HTTP surface: health, status and
// metrics. It is read-only; nothing here mutates consensus state.
package api

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope every admin endpoint replies with.
type Response struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error carries a failed request's status code and message.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteError writes a failure envelope.
func WriteError(w http.ResponseWriter, status int, err error) error {
	return WriteJSON(w, status, Response{
		Success: false,
		Error: &Error{
			Code:    status,
			Message: err.Error(),
		},
	})
}

// WriteSuccess writes a success envelope.
func WriteSuccess(w http.ResponseWriter, result interface{}) error {
	return WriteJSON(w, http.StatusOK, Response{
		Success: true,
		Result:  result,
	})
}
