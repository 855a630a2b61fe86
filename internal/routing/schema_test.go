package routing_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maegashira/maegashira/internal/routing"
)

func TestValidate_ValidTable(t *testing.T) {
	table := routing.Table{
		{
			Hostname: "localhost",
			Path:     "",
			Targets:  []routing.Target{{Type: routing.TargetForward, URL: "https://example.com"}},
		},
	}
	assert.Empty(t, routing.Validate(table))
}

func TestValidate_RejectsEmptyTargets(t *testing.T) {
	table := routing.Table{{Hostname: "localhost", Targets: nil}}
	errs := routing.Validate(table)
	assert.NotEmpty(t, errs)
}

func TestValidate_RejectsEmptyHostname(t *testing.T) {
	table := routing.Table{{Hostname: "", Targets: []routing.Target{{Type: routing.TargetStatic, Directory: "."}}}}
	assert.NotEmpty(t, routing.Validate(table))
}

func TestValidate_RejectsUnknownTargetVariant(t *testing.T) {
	table := routing.Table{{Hostname: "localhost", Targets: []routing.Target{{Type: "bogus"}}}}
	assert.NotEmpty(t, routing.Validate(table))
}

func TestValidate_ForwardRequiresURL(t *testing.T) {
	table := routing.Table{{Hostname: "localhost", Targets: []routing.Target{{Type: routing.TargetForward}}}}
	assert.NotEmpty(t, routing.Validate(table))
}

func TestValidate_StaticRequiresDirectory(t *testing.T) {
	table := routing.Table{{Hostname: "localhost", Targets: []routing.Target{{Type: routing.TargetStatic}}}}
	assert.NotEmpty(t, routing.Validate(table))
}

func TestValidateJSON_ValidTable(t *testing.T) {
	raw := []byte(`[{"hostname":"localhost","targets":[{"type":"static","directory":"."}]}]`)
	assert.Empty(t, routing.ValidateJSON(raw))
}

func TestValidateJSON_RejectsUnknownTopLevelField(t *testing.T) {
	raw := []byte(`[{"hostname":"localhost","targets":[{"type":"static","directory":"."}],"bogus":1}]`)
	assert.NotEmpty(t, routing.ValidateJSON(raw))
}

func TestValidateJSON_RejectsUnknownTargetField(t *testing.T) {
	raw := []byte(`[{"hostname":"localhost","targets":[{"type":"static","directory":".","bogus":1}]}]`)
	assert.NotEmpty(t, routing.ValidateJSON(raw))
}

func TestValidateJSON_RejectsMalformedJSON(t *testing.T) {
	assert.NotEmpty(t, routing.ValidateJSON([]byte(`not json`)))
}

// TestValidate_CannotSeeUnknownFieldsAfterStructDecode documents the
// struct-decode blind spot Validate has by design: encoding/json already
// dropped "bogus" before Validate ever saw the candidate, so round-tripping
// it back through json.Marshal cannot resurrect it. External JSON must be
// checked with ValidateJSON before being decoded into a Table.
func TestValidate_CannotSeeUnknownFieldsAfterStructDecode(t *testing.T) {
	raw := []byte(`[{"hostname":"localhost","targets":[{"type":"static","directory":"."}],"bogus":1}]`)
	require.NotEmpty(t, routing.ValidateJSON(raw))

	var table routing.Table
	require.NoError(t, json.Unmarshal(raw, &table))
	assert.Empty(t, routing.Validate(table))
}
