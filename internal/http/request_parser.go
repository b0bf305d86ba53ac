// Package http provides the allocation API server and its handlers.
//
// This file implements utilities for parsing and validating HTTP request data.
// Bodies may be JSON or form-encoded; both are read through the same parser.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"allocator/internal/core"
	"allocator/internal/plans/file"
)

// maxBodyBytes caps request bodies. Plans are small.
const maxBodyBytes = 1 << 20

var errMalformedBody = errors.New("malformed request body")

// RequestBodyParser handles different content types for request body parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.err == nil && len(p.body) > maxBodyBytes {
		p.err = fmt.Errorf("%w: body exceeds %d bytes", errMalformedBody, maxBodyBytes)
	}
	return p
}

// Parse attempts to parse the body as a JSON object or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	body := bytes.TrimSpace(p.body)
	if len(body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if body[0] == '{' {
		p.jsonData = make(map[string]any)
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		return p.err
	}
	if body[0] == '[' {
		p.err = fmt.Errorf("%w: expected an object", errMalformedBody)
		return p.err
	}

	p.formData, p.err = url.ParseQuery(string(body))
	if p.err != nil {
		p.err = fmt.Errorf("%w: %v", errMalformedBody, p.err)
	}
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return strings.TrimSpace(sanitizeInput(stringValue(val)))
		}
		return ""
	}
	if p.formData != nil {
		return strings.TrimSpace(sanitizeInput(p.formData.Get(key)))
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts a decoded JSON value to string. Numbers keep the
// digits the client sent.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// allocationRequest is the body of an allocation POST.
type allocationRequest struct {
	Plan   string
	Amount string
	Format string
}

// ParseAllocationRequest reads {"amount": "100,000", "plan": "...", "format": "text"}
// or the equivalent form fields. The amount is returned unparsed; the plan and
// format may be empty.
func ParseAllocationRequest(r *http.Request) (allocationRequest, error) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		return allocationRequest{}, err
	}
	req := allocationRequest{
		Plan:   p.Get("plan"),
		Amount: p.Get("amount"),
		Format: p.Get("format"),
	}
	if req.Format == "" {
		req.Format = strings.TrimSpace(r.URL.Query().Get("format"))
	}
	return req, nil
}

// ParsePlanBody reads a plan document in the on-disk JSON format: an array of
// entries.
func ParsePlanBody(r *http.Request) (core.Plan, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("%w: empty body", errMalformedBody)
	}
	plan, err := file.ParseJSON(io.LimitReader(r.Body, maxBodyBytes))
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: %v", errMalformedBody, err)
	case err != nil:
		return nil, err
	}
	return plan, nil
}
