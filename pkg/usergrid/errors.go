// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package usergrid

import (
	"errors"
	"fmt"
	"strings"
)

// Error signatures found in response bodies.
const (
	SignatureNotFound  = "service_resource_not_found"
	SignatureDuplicate = "duplicate_unique_property_exists"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrNoEntities       = errors.New("response contained no entities")
)

// Class groups a response outcome by how callers should react to it.
type Class int

const (
	ClassOK        Class = iota // 2xx
	ClassTransient              // 5xx or network error: retry with a fixed delay
	ClassNotFound               // 404, or a not-found signature
	ClassDuplicate              // 400 duplicate unique property: terminal
	ClassConflict               // other 400: candidates for conflict repair
	ClassClient                 // other 4xx: terminal
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassTransient:
		return "transient"
	case ClassNotFound:
		return "not-found"
	case ClassDuplicate:
		return "duplicate"
	case ClassConflict:
		return "conflict"
	case ClassClient:
		return "client"
	default:
		return "unknown"
	}
}

// Classify maps a status code and body to a Class.
func Classify(status int, body []byte) Class {
	switch {
	case status >= 200 && status < 300:
		return ClassOK
	case status >= 500 || status == 0:
		return ClassTransient
	case status == 404 || strings.Contains(string(body), SignatureNotFound):
		return ClassNotFound
	case status == 400 && strings.Contains(string(body), SignatureDuplicate):
		return ClassDuplicate
	case status == 400:
		return ClassConflict
	default:
		return ClassClient
	}
}

// StatusError reports a non-success response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("HTTP %d on %s: %s", e.StatusCode, Redact(e.URL), body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}
