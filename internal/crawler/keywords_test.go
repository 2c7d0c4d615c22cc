package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchKeywords(t *testing.T) {
	text := "This is a test for Password and nik values. Also NIK-123."
	got := MatchKeywords(text, []string{"password", "NIK", "secret", "ktp"})
	require.Equal(t, []string{"password", "NIK"}, got)
}

func TestMatchKeywordsNoSubstringHits(t *testing.T) {
	require.Empty(t, MatchKeywords("Nonikname", []string{"NIK"}))
	require.Empty(t, MatchKeywords("repository", []string{"repo"}))
}

func TestMatchKeywordsPreservesInputCasing(t *testing.T) {
	got := MatchKeywords("PASSWORD leaked", []string{"Password"})
	require.Equal(t, []string{"Password"}, got)
}

func TestMatchKeywordsSpecialCharacters(t *testing.T) {
	got := MatchKeywords("find a.b here", []string{"a.b"})
	require.Equal(t, []string{"a.b"}, got)
	// The dot must not act as a regex wildcard.
	require.Empty(t, MatchKeywords("find aXb here", []string{"a.b"}))
}

func TestMatchKeywordsDeduplicates(t *testing.T) {
	got := MatchKeywords("token token token", []string{"token", "token"})
	require.Equal(t, []string{"token"}, got)
}

func TestMatchKeywordsEmptyInputs(t *testing.T) {
	require.Empty(t, MatchKeywords("", []string{"x"}))
	require.Empty(t, MatchKeywords("some text", nil))
	require.Empty(t, MatchKeywords("some text", []string{""}))
}
