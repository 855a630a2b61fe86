package routing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// tableSchemaJSON is the closed-world JSON Schema a candidate routing table
// must satisfy. Every optional substructure sets additionalProperties=false
// so unknown keys are rejected, per §4.1 ("optional substructures are
// rejected if they carry unknown keys").
const tableSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": { "$ref": "#/$defs/route" },
  "$defs": {
    "route": {
      "type": "object",
      "additionalProperties": false,
      "required": ["hostname", "targets"],
      "properties": {
        "hostname": { "type": "string", "minLength": 1 },
        "path": { "type": "string" },
        "timeout_ms": { "type": "integer", "minimum": 0 },
        "middlewares": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "pre": { "type": "array", "items": { "type": "string" } },
            "post": { "type": "array", "items": { "type": "string" } }
          }
        },
        "load_balancing": {
          "type": "object",
          "additionalProperties": false,
          "required": ["type"],
          "properties": {
            "type": { "type": "string" }
          }
        },
        "authentication": {
          "type": "object",
          "additionalProperties": false,
          "required": ["type"],
          "properties": {
            "type": { "enum": ["anonymous", "basic"] },
            "username": { "type": "string" },
            "password": { "type": "string" },
            "realm": { "type": "string" }
          },
          "if": { "properties": { "type": { "const": "basic" } } },
          "then": { "required": ["type", "username", "password"] }
        },
        "cache": {
          "type": "object",
          "additionalProperties": false,
          "required": ["type"],
          "properties": {
            "type": { "enum": ["no-cache", "basic"] },
            "ttl_ms": { "type": "integer", "minimum": 0 }
          },
          "if": { "properties": { "type": { "const": "basic" } } },
          "then": { "required": ["type", "ttl_ms"] }
        },
        "targets": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/target" }
        }
      }
    },
    "target": {
      "type": "object",
      "additionalProperties": false,
      "required": ["type"],
      "properties": {
        "type": { "enum": ["forward", "static", "redirect"] },
        "url": { "type": "string" },
        "directory": { "type": "string" },
        "index": { "type": "string" }
      },
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "forward" } } },
          "then": { "required": ["type", "url"], "properties": { "url": { "type": "string", "format": "uri", "minLength": 1 } } }
        },
        {
          "if": { "properties": { "type": { "const": "static" } } },
          "then": { "required": ["type", "directory"], "properties": { "directory": { "type": "string", "minLength": 1 } } }
        },
        {
          "if": { "properties": { "type": { "const": "redirect" } } },
          "then": { "required": ["type", "url"], "properties": { "url": { "type": "string", "format": "uri", "minLength": 1 } } }
        }
      ]
    }
  }
}`

// FieldError is one structured validation failure, returned in the flat
// list validate() produces (§4.1).
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

var compiledTableSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()

	var doc any
	if err := json.Unmarshal([]byte(tableSchemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("routing: invalid embedded schema: %v", err))
	}
	if err := compiler.AddResource("maegashira://routing-table.json", doc); err != nil {
		panic(fmt.Sprintf("routing: failed to register embedded schema: %v", err))
	}
	schema, err := compiler.Compile("maegashira://routing-table.json")
	if err != nil {
		panic(fmt.Sprintf("routing: failed to compile embedded schema: %v", err))
	}
	compiledTableSchema = schema
}

// Validate checks a candidate Table against the closed-world schema, which
// itself covers non-empty targets (minItems), non-empty hostname and
// directory (minLength) and URL well-formedness ("format": "uri"); no check
// beyond the schema is made. Returns an empty slice when the candidate is
// valid.
//
// candidate has already been through encoding/json's struct-tag decode,
// which silently drops any JSON object key that doesn't map to a Route/
// Target field — so this can never observe, and therefore never reject,
// the unknown-field case the schema's additionalProperties:false rules
// exist to catch. Callers holding the original request/file bytes of an
// externally-supplied table MUST call ValidateJSON on those bytes
// instead (or in addition); Validate remains for already-typed Tables
// built in-process (tests, control-plane broadcasts) where no raw JSON
// ever existed to check.
func Validate(candidate Table) []FieldError {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return []FieldError{{Field: "", Message: "failed to marshal candidate table: " + err.Error()}}
	}
	errs, decodeErr := validateRaw(raw)
	if decodeErr != nil {
		return []FieldError{{Field: "", Message: "failed to decode candidate table: " + decodeErr.Error()}}
	}
	return errs
}

// ValidateJSON checks raw JSON bytes against the closed-world schema
// directly, before any struct-tag decode has had a chance to drop unknown
// keys (§4.1: "optional substructures are rejected if they carry unknown
// keys"). This is the entry point every external source of a routing
// table (management API POST body, --file/check CLI) must validate
// against.
func ValidateJSON(raw []byte) []FieldError {
	errs, err := validateRaw(raw)
	if err != nil {
		return []FieldError{{Field: "", Message: "malformed routing table JSON: " + err.Error()}}
	}
	return errs
}

func validateRaw(raw []byte) ([]FieldError, error) {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	if err := compiledTableSchema.Validate(data); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return []FieldError{{Field: "", Message: err.Error()}}, nil
		}
		var out []FieldError
		collectSchemaErrors(verr, &out)
		return out, nil
	}
	return nil, nil
}

// collectSchemaErrors flattens a *jsonschema.ValidationError tree into leaf
// FieldErrors, mirroring the teacher validation package's recursive
// collectSchemaErrors helper.
func collectSchemaErrors(verr *jsonschema.ValidationError, out *[]FieldError) {
	if verr == nil {
		return
	}
	if len(verr.Causes) == 0 {
		field := strings.Join(verr.InstanceLocation, ".")
		*out = append(*out, FieldError{Field: field, Message: verr.Error()})
		return
	}
	for _, cause := range verr.Causes {
		collectSchemaErrors(cause, out)
	}
}
