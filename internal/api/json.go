// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/samber/oops"
)

const maxBodyBytes = 1 << 20

// readJSON decodes the request body into v. An empty body leaves v
// untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return oops.Code(CodeBadRequest).Errorf("request body is not valid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}
