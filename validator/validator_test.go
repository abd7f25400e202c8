package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const pointSchema = `{
  "type": "object",
  "required": ["lat", "lon"],
  "properties": {
    "lat": {"type": "number"},
    "lon": {"type": "number"}
  }
}`

func TestSchemaValidatorAcceptsValidDocument(t *testing.T) {
	v, err := NewSchemaValidator("point.json", []byte(pointSchema))
	require.NoError(t, err)
	require.NoError(t, v.ValidateJSON([]byte(`{"lat": 1.5, "lon": -3}`)))
}

func TestSchemaValidatorReportsViolations(t *testing.T) {
	v := MustSchemaValidator("point.json", []byte(pointSchema))

	err := v.ValidateJSON([]byte(`{"lat": "north"}`))
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "point.json", verr.Schema)
	require.NotEmpty(t, verr.Violations)
}

func TestSchemaValidatorRejectsMalformedJSON(t *testing.T) {
	v := MustSchemaValidator("point.json", []byte(pointSchema))
	err := v.ValidateJSON([]byte(`{"lat":`))

	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Violations[0], "invalid JSON")
}

func TestNewSchemaValidatorRejectsBrokenSchema(t *testing.T) {
	_, err := NewSchemaValidator("broken.json", []byte(`{"type": 12}`))
	require.Error(t, err)
}
