package analysis

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// parseRecords parses the model's raw text into product records. The model
// is constrained to emit a bare JSON array but is not 100% reliable about
// it, so surrounding code fences and chatty prose are stripped first.
// Malformed JSON or a record missing mandatory fields is an error, never
// silently coerced.
func parseRecords(text string) ([]ProductAnalysis, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// Tolerate leading/trailing prose around the array.
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array found in response: %s", text)
	}
	text = text[start : end+1]

	var records []ProductAnalysis
	if err := json.Unmarshal([]byte(text), &records); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w (response: %s)", err, text)
	}

	for i := range records {
		if err := records[i].validate(); err != nil {
			return nil, fmt.Errorf("record %d invalid: %w", i, err)
		}
	}
	return records, nil
}

// stripDataURI normalizes image input that arrives as a browser data URI
// (data:image/...;base64,...) back to raw encoded bytes. Anything else
// passes through untouched.
func stripDataURI(data []byte) []byte {
	if !bytes.HasPrefix(data, []byte("data:image/")) {
		return data
	}
	comma := bytes.IndexByte(data, ',')
	if comma == -1 {
		return data
	}
	decoded, err := base64.StdEncoding.DecodeString(string(data[comma+1:]))
	if err != nil {
		return data
	}
	return decoded
}
