package handler

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

const (
	provisionSchema = "schemas/provision_request.schema.json"
	statusSchema    = "schemas/status_request.schema.json"

	maxBodyBytes = 1 << 20
)

// validator holds the compiled request schemas.
type validator struct {
	schemas map[string]*jsonschema.Schema
}

func newValidator() (*validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	v := &validator{schemas: make(map[string]*jsonschema.Schema)}
	for _, name := range []string{provisionSchema, statusSchema} {
		raw, err := schemaFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("register schema %s: %w", name, err)
		}
		compiled, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

// bodyError is a request body that failed to decode or validate.
type bodyError struct {
	detail string
	fields map[string][]string
}

func (e *bodyError) Error() string { return e.detail }

// decode reads the request body, validates it against schema and decodes it into out.
func (v *validator) decode(w http.ResponseWriter, r *http.Request, schema string, out any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &bodyError{detail: "request body could not be read"}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return &bodyError{detail: "request body is required"}
	}

	var document any
	if err := json.Unmarshal(raw, &document); err != nil {
		return &bodyError{detail: fmt.Sprintf("decode payload: %v", err)}
	}

	if err := v.schemas[schema].Validate(document); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &bodyError{detail: "request body does not match schema", fields: fieldErrors(ve)}
		}
		return &bodyError{detail: err.Error()}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &bodyError{detail: fmt.Sprintf("decode payload: %v", err)}
	}
	return nil
}

// fieldErrors flattens a validation error into instance location -> messages.
func fieldErrors(ve *jsonschema.ValidationError) map[string][]string {
	out := make(map[string][]string)
	for _, e := range ve.BasicOutput().Errors {
		if e.Error == "" || e.KeywordLocation == "" {
			continue
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out[loc] = append(out[loc], e.Error)
	}
	for k := range out {
		sort.Strings(out[k])
	}
	return out
}
