// Package har parses HTTP Archive captures into the flat record shape the
// rest of the system works with.
package har

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Record is one captured request/response pair. ResponseBodyText holds the
// decoded body; Selected scopes the record into the active working subset.
type Record struct {
	Index            int    `json:"index"`
	ID               string `json:"id"`
	Method           string `json:"method"`
	URL              string `json:"url"`
	Status           int    `json:"status"`
	Size             int64  `json:"size"`
	MimeType         string `json:"mimeType"`
	ResponseBodyText string `json:"responseBodyText"`
	Selected         bool   `json:"selected"`
}

// harLog mirrors the subset of the HAR 1.2 format we consume.
type harLog struct {
	Log struct {
		Entries []harEntry `json:"entries"`
	} `json:"log"`
}

type harEntry struct {
	Request struct {
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"request"`
	Response struct {
		Status  int `json:"status"`
		Content struct {
			Size     int64  `json:"size"`
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
			Encoding string `json:"encoding"`
		} `json:"content"`
	} `json:"response"`
}

// Parse reads a HAR document and flattens its entries into records. Bodies
// marked base64 are decoded; undecodable bodies are kept as-is rather than
// failing the whole import.
func Parse(r io.Reader) ([]Record, error) {
	var doc harLog
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding HAR document: %w", err)
	}

	records := make([]Record, 0, len(doc.Log.Entries))
	for i, e := range doc.Log.Entries {
		body := e.Response.Content.Text
		if e.Response.Content.Encoding == "base64" {
			if decoded, err := base64.StdEncoding.DecodeString(body); err == nil {
				body = string(decoded)
			}
		}

		records = append(records, Record{
			Index:            i,
			ID:               uuid.New().String(),
			Method:           e.Request.Method,
			URL:              e.Request.URL,
			Status:           e.Response.Status,
			Size:             e.Response.Content.Size,
			MimeType:         e.Response.Content.MimeType,
			ResponseBodyText: body,
		})
	}
	return records, nil
}

// Active returns the selected subset of records when any record is selected,
// otherwise the full set. Tool implementations only ever see active records.
func Active(records []Record) []Record {
	var selected []Record
	for _, r := range records {
		if r.Selected {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return records
	}
	return selected
}

// SourceTypeKey groups records that reuse the same extraction logic:
// the HTTP method plus the URL path, query stripped. A URL that fails to
// parse falls back to the raw string.
func SourceTypeKey(method, rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return strings.ToUpper(method) + " " + rawURL
	}
	return strings.ToUpper(method) + " " + u.Path
}

// AsMap converts a record into the plain map shape injected into the sandbox
// and summarized for the model.
func (r Record) AsMap() map[string]any {
	return map[string]any{
		"index":            r.Index,
		"id":               r.ID,
		"method":           r.Method,
		"url":              r.URL,
		"status":           r.Status,
		"size":             r.Size,
		"mimeType":         r.MimeType,
		"responseBodyText": r.ResponseBodyText,
	}
}
