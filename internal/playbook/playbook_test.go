package playbook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOutline(t *testing.T) {
	raw := Default()
	require.NoError(t, Validate(raw))
	o, err := ParseOutline(raw)
	require.NoError(t, err)
	assert.Equal(t, "EDA + Vector Personas Playbook", o.Title)
	keys := make([]string, 0, len(o.Sections))
	for _, s := range o.Sections {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"eda", "personas", "deploy", "appendix"}, keys)
	assert.Equal(t, "eda-cleaning", o.Sections[0].Steps[0].ID)
}

func TestDefaultIsACopy(t *testing.T) {
	a := Default()
	a[0] = 'x'
	assert.True(t, json.Valid(Default()))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(json.RawMessage(`{"meta":{}}`)))
	assert.Error(t, Validate(json.RawMessage(`[]`)))
	assert.Error(t, Validate(json.RawMessage(`null`)))
	assert.Error(t, Validate(json.RawMessage(`{"sections":{}}`)))
}
