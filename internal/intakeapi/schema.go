package intakeapi

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.schema.json
var schemaFiles embed.FS

const (
	schemaCallback         = "callback"
	schemaProfile          = "profile"
	schemaTransactionLimit = "transaction_limit"
	schemaApplication      = "application"
)

var errSchemaInvalid = errors.New("request body does not match schema")

type schemaViolation struct {
	details []string
}

func (violation *schemaViolation) Error() string {
	return errSchemaInvalid.Error() + ": " + strings.Join(violation.details, "; ")
}

func (violation *schemaViolation) Unwrap() error {
	return errSchemaInvalid
}

type requestSchemas struct {
	schemas map[string]*gojsonschema.Schema
}

func loadRequestSchemas() (*requestSchemas, error) {
	loaded := make(map[string]*gojsonschema.Schema)
	for _, name := range []string{schemaCallback, schemaProfile, schemaTransactionLimit, schemaApplication} {
		document, err := schemaFiles.ReadFile("schemas/" + name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(document))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		loaded[name] = schema
	}
	return &requestSchemas{schemas: loaded}, nil
}

func (schemas *requestSchemas) validate(name string, body []byte) error {
	schema, ok := schemas.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &schemaViolation{details: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		details = append(details, resultError.String())
	}
	return &schemaViolation{details: details}
}
