package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerValueNormalizePrefersSelectionSet(t *testing.T) {
	v := AnswerValue{OptionID: "a", OptionIDs: []string{"a", "c"}}
	n := v.Normalize()
	assert.Empty(t, n.OptionID)
	assert.Equal(t, []string{"a", "c"}, n.OptionIDs)

	// A lone scalar survives untouched.
	scalar := AnswerValue{OptionID: "b"}.Normalize()
	assert.Equal(t, "b", scalar.OptionID)
}

func TestAnswerValueIsEmpty(t *testing.T) {
	assert.True(t, AnswerValue{}.IsEmpty())
	assert.False(t, AnswerValue{OptionID: "a"}.IsEmpty())
	assert.False(t, AnswerValue{OptionIDs: []string{"a"}}.IsEmpty())
	assert.False(t, AnswerValue{Text: "essay"}.IsEmpty())
}

func TestParseAnswerValue(t *testing.T) {
	v, err := ParseAnswerValue(`{"option_id":"a","option_ids":["a","b"]}`)
	require.NoError(t, err)
	// Stored payloads are normalized on the way in.
	assert.Empty(t, v.OptionID)
	assert.Equal(t, []string{"a", "b"}, v.OptionIDs)

	// A stale empty hash field is an empty answer, not an error.
	v, err = ParseAnswerValue("")
	require.NoError(t, err)
	assert.True(t, v.IsEmpty())

	_, err = ParseAnswerValue("{not json")
	assert.Error(t, err)
}

func TestAnswerValueEncodeRoundTrip(t *testing.T) {
	raw, err := AnswerValue{Text: "func main() {}"}.Encode()
	require.NoError(t, err)

	back, err := ParseAnswerValue(raw)
	require.NoError(t, err)
	assert.Equal(t, "func main() {}", back.Text)
}
