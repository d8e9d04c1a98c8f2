package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://vanillaminimaps.ai/schemas/"

var schemaFiles = map[string]string{
	TypeHello:       "hello.schema.json",
	TypeMove:        "move.schema.json",
	TypeDeath:       "death.schema.json",
	TypeCommand:     "command.schema.json",
	TypeLayerUpdate: "layer_update.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		for _, name := range schemaFiles {
			b, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(schemaBase+name, bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(schemaFiles))
		for typ, name := range schemaFiles {
			s, err := c.Compile(schemaBase + name)
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Validate checks raw against the schema registered for msgType. Types without a schema pass.
func Validate(msgType string, raw []byte) error {
	all, err := compileSchemas()
	if err != nil {
		return err
	}
	s := all[msgType]
	if s == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
