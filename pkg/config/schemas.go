package config

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ManifestSchema is the name of the built-in manifest schema.
const ManifestSchema = "manifest"

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(ManifestSchema, "#Manifest", builtinManifestSchema); err != nil {
		panic(fmt.Sprintf("built-in schema: %v", err))
	}

	return sr
}

// RegisterSchema compiles schema and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}
	if err := def.Err(); err != nil {
		return fmt.Errorf("invalid definition %s in schema %s: %w", definition, name, err)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema. The returned
// error is a CUE error list when validation fails.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.Lock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}

	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

const builtinManifestSchema = `
import "strings"

#Name:     =~"^[a-z0-9]([a-z0-9-]*[a-z0-9])?$" & =~"[a-z]" & !~"--" & strings.MaxRunes(40)
#PartName: =~"^[a-z0-9][a-z0-9+-]*$"

#Part: {
	plugin?: string
	after?: [...#PartName]
	"build-environment"?: [...{[=~"^[A-Za-z_][A-Za-z0-9_]*$"]: string}]
	"source-subdir"?:  string
	"override-build"?: string
}

#Manifest: {
	name:         #Name
	version?:     string
	summary?:     string
	description?: string
	base:         string & !=""
	grade:        "stable" | "devel"
	confinement:  "strict" | "classic" | "devmode"
	architectures?: [...string]
	"content-dirs"?: [...(string & !="")]
	parts: {[=~"^[a-z0-9][a-z0-9+-]*$"]: #Part}
}
`
