package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"taskboard/domain"
	"taskboard/view"
)

const maxResponseSize = 64 * 1024

// FieldMessages holds the validation messages for one form field.
type FieldMessages struct {
	Field    string
	Messages []string
}

// ValidationError is returned by the create endpoint when the form is
// rejected. Fields keep the order the server sent them in.
type ValidationError struct {
	Fields []FieldMessages
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+strings.Join(f.Messages, "; "))
	}
	return "task rejected: " + strings.Join(parts, ", ")
}

// FirstMessages returns the first message of every field with at least one.
func (e *ValidationError) FirstMessages() []view.FieldError {
	out := make([]view.FieldError, 0, len(e.Fields))
	for _, f := range e.Fields {
		if len(f.Messages) == 0 {
			continue
		}
		out = append(out, view.FieldError{Field: f.Field, Message: f.Messages[0]})
	}
	return out
}

// HTTPCreator posts form-encoded task fields to the create endpoint.
type HTTPCreator struct {
	URL    string
	Token  string
	Client *http.Client
}

func (c *HTTPCreator) CreateTask(ctx context.Context, fields url.Values) (domain.Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, strings.NewReader(fields.Encode()))
	if err != nil {
		return domain.Task{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out struct {
			Task domain.Task `json:"task"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return domain.Task{}, fmt.Errorf("create task: decode response: %w", err)
		}
		if out.Task.ID == "" {
			return domain.Task{}, fmt.Errorf("create task: response without task id")
		}
		return out.Task, nil
	case resp.StatusCode == http.StatusBadRequest:
		fields, err := decodeFieldErrors(body)
		if err != nil {
			return domain.Task{}, fmt.Errorf("create task: decode errors: %w", err)
		}
		return domain.Task{}, &ValidationError{Fields: fields}
	default:
		return domain.Task{}, fmt.Errorf("create task: unexpected status %d", resp.StatusCode)
	}
}

// decodeFieldErrors reads `{"errors": {"field": ["msg", ...]}}` keeping the
// field order of the document.
func decodeFieldErrors(body []byte) ([]FieldMessages, error) {
	var doc struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if len(doc.Errors) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(doc.Errors))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("errors is not an object")
	}
	var fields []FieldMessages
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)
		var msgs []string
		if err := dec.Decode(&msgs); err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		fields = append(fields, FieldMessages{Field: name, Messages: msgs})
	}
	return fields, nil
}
