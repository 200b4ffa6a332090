package configstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeepsScalarTypes(t *testing.T) {
	t.Parallel()

	values, err := Decode([]byte(`
feature_x: "yes"
retry_count: 5
ratio: 5.0
enabled: true
label: null
quoted_number: "5"
remote_flows:
  enabled: false
  onboarding_v2:
    enabled: true
tags: [a, b]
`))
	require.NoError(t, err)

	assert.Equal(t, map[string]Value{
		"feature_x":                     String("yes"),
		"retry_count":                   Int(5),
		"ratio":                         Double(5),
		"enabled":                       Bool(true),
		"label":                         Null(),
		"quoted_number":                 String("5"),
		"remote_flows.enabled":          Bool(false),
		"remote_flows.onboarding_v2.enabled": Bool(true),
	}, values)
}

func TestDecodeAcceptsJSON(t *testing.T) {
	t.Parallel()

	values, err := Decode([]byte(`{"a": 1, "b": 2.5, "c": "s", "d": {"e": false}}`))
	require.NoError(t, err)

	assert.Equal(t, Int(1), values["a"])
	assert.Equal(t, Double(2.5), values["b"])
	assert.Equal(t, String("s"), values["c"])
	assert.Equal(t, Bool(false), values["d.e"])
}

func TestDecodeEmptyDocument(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{"", "   \n", "null"} {
		values, err := Decode([]byte(doc))
		require.NoError(t, err, "doc %q", doc)
		assert.Empty(t, values)
	}
}

func TestDecodeRejectsNonMappingRoot(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{"[1, 2]", "42", "{unterminated"} {
		_, err := Decode([]byte(doc))
		require.ErrorIs(t, err, ErrInvalidDocument, "doc %q", doc)
	}
}
