package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ArrayOfObjectsSchema accepts a JSON array whose items are all objects
const ArrayOfObjectsSchema = `{
	"type": "array",
	"items": {"type": "object"}
}`

// PageSchema validates a provider page body before it is split into records
type PageSchema struct {
	schema *jsonschema.Schema
}

// MustCompileSchema compiles src or panics; schemas are package constants
func MustCompileSchema(name, src string) *PageSchema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return &PageSchema{schema: c.MustCompile(name)}
}

// Validate checks body against the schema. Errors describe the mismatch and are
// meant for PageResult.Detail.
func (s *PageSchema) Validate(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return fmt.Errorf("unexpected shape: %w", err)
	}
	return nil
}

// SplitRecords splits a JSON array into raw records
func SplitRecords(data []byte) ([]RawRecord, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	records := make([]RawRecord, len(items))
	for i, item := range items {
		records[i] = RawRecord(item)
	}
	return records, nil
}

// Malformed builds a malformed-page result from a validation error
func Malformed(status int, err error, secrets ...string) PageResult {
	return PageResult{
		Outcome: OutcomeMalformed,
		Status:  status,
		Detail:  Excerpt([]byte(err.Error()), secrets...),
	}
}
