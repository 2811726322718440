package validator

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"dreamweaver-server/internal/models"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed contracts.yaml
var contractsYAML []byte

const contractBaseURL = "mem://contracts/"

// loadContracts compiles the JSON Schema of every generative stage.
func loadContracts() (map[models.StageKind]*jsonschema.Schema, error) {
	var defs map[string]interface{}
	if err := yaml.Unmarshal(contractsYAML, &defs); err != nil {
		return nil, fmt.Errorf("parse stage contracts: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	schemas := make(map[models.StageKind]*jsonschema.Schema, len(models.StageOrder))
	for _, kind := range models.StageOrder {
		def, ok := defs[string(kind)]
		if !ok {
			return nil, fmt.Errorf("no contract for stage %s", kind)
		}
		doc, err := json.Marshal(def)
		if err != nil {
			return nil, fmt.Errorf("encode contract for stage %s: %w", kind, err)
		}
		url := contractBaseURL + string(kind) + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("add contract for stage %s: %w", kind, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile contract for stage %s: %w", kind, err)
		}
		schemas[kind] = schema
	}
	return schemas, nil
}

// schemaProblems flattens a schema validation error into readable leaf messages.
func schemaProblems(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}
