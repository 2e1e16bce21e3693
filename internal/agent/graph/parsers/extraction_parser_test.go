package parsers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtraction(t *testing.T) {
	content := "(variable<||>cabin<||>Business)##(variable<||>passengers<||>2)##" +
		"(variable<||>notes<||>likes <||> aisle seats)<|COMPLETE|>(variable<||>late<||>x)"

	got, err := ParseExtraction(content)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"cabin":      "Business",
		"passengers": "2",
		"notes":      "likes <||> aisle seats",
	}, got.Values)
	assert.Empty(t, got.Errors)
}

func TestParseExtractionSkipsBadRecords(t *testing.T) {
	content := "(variable<||>cabin<||>First)##garbage##(intent<||>book<||>0.9)##" +
		"(variable<||>cabin)##(variable<||> <||>x)##(variable<||>budget<||>null)"

	got, err := ParseExtraction(content)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cabin": "First"}, got.Values)
	require.Len(t, got.Errors, 4)
	assert.True(t, strings.HasPrefix(got.Errors[0], "bad_record"))
	assert.True(t, strings.HasPrefix(got.Errors[1], "unknown tuple type"))
}

func TestParseExtractionLastRecordWins(t *testing.T) {
	got, err := ParseExtraction("(variable<||>cabin<||>Economy)##(variable<||>cabin<||>First)")
	require.NoError(t, err)
	assert.Equal(t, "First", got.Values["cabin"])
}

func TestParseExtractionCodeFence(t *testing.T) {
	got, err := ParseExtraction("```text\n(variable<||>name<||>Ada)<|COMPLETE|>\n```")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Values["name"])
}

func TestParseExtractionTruncates(t *testing.T) {
	big := strings.Repeat("(variable<||>x<||>y)##", maxContentLen/10)
	got, err := ParseExtraction(big)
	require.NoError(t, err)
	assert.True(t, got.Truncated)
	assert.Contains(t, got.Errors, "records capped")
}

func TestParseExtractionEmpty(t *testing.T) {
	got, err := ParseExtraction("<|COMPLETE|>")
	require.NoError(t, err)
	assert.Empty(t, got.Values)
	assert.Empty(t, got.Errors)
}
