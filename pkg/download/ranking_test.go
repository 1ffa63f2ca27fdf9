package download

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRankCountryPreference(t *testing.T) {
	req := Request{}
	order := []string{"p"}

	t.Run("WorldwideWins", func(t *testing.T) {
		candidates := []Candidate{
			{ID: "gb", Provider: "p", Official: true, Country: "GB"},
			{ID: "xw", Provider: "p", Official: true, Country: "XW"},
			{ID: "us", Provider: "p", Official: true, Country: "US"},
		}
		ranked := Rank(candidates, req, order)
		require.Equal(t, "xw", ranked[0].ID)
		require.Equal(t, "us", ranked[1].ID)
		require.Equal(t, "gb", ranked[2].ID)
	})

	t.Run("USBeatsGB", func(t *testing.T) {
		candidates := []Candidate{
			{ID: "gb", Provider: "p", Official: true, Country: "GB"},
			{ID: "us", Provider: "p", Official: true, Country: "US"},
		}
		ranked := Rank(candidates, req, order)
		require.Equal(t, "us", ranked[0].ID)
	})

	t.Run("OtherCountriesRankLast", func(t *testing.T) {
		candidates := []Candidate{
			{ID: "de", Provider: "p", Official: true, Country: "DE"},
			{ID: "gb", Provider: "p", Official: true, Country: "GB"},
		}
		ranked := Rank(candidates, req, order)
		require.Equal(t, "gb", ranked[0].ID)
	})
}

func TestRankOfficialBeatsCountry(t *testing.T) {
	candidates := []Candidate{
		{ID: "bootleg-xw", Provider: "p", Official: false, Country: "XW"},
		{ID: "official-de", Provider: "p", Official: true, Country: "DE"},
	}
	ranked := Rank(candidates, Request{}, []string{"p"})
	require.Equal(t, "official-de", ranked[0].ID)
}

func TestRankFormatAndBitrate(t *testing.T) {
	req := Request{Format: "flac", MinBitrateKbps: 900}
	candidates := []Candidate{
		{ID: "mp3", Provider: "p", Official: true, Country: "XW", Format: "mp3", BitrateKbps: 320},
		{ID: "flac", Provider: "p", Official: true, Country: "XW", Format: "FLAC", BitrateKbps: 1000},
	}
	ranked := Rank(candidates, req, []string{"p"})
	require.Equal(t, "flac", ranked[0].ID, "format match is case-insensitive and wins within a country tier")
}

func TestRankIsDeterministic(t *testing.T) {
	candidates := []Candidate{
		{ID: "b", Provider: "second", Official: true, Country: "US"},
		{ID: "a", Provider: "first", Official: true, Country: "US"},
		{ID: "c", Provider: "first", Official: true, Country: "US"},
	}
	order := []string{"first", "second"}

	first := Rank(candidates, Request{}, order)
	for i := 0; i < 10; i++ {
		again := Rank(candidates, Request{}, order)
		require.Equal(t, first, again, "same inputs always yield the same order")
	}

	// Provider registration order breaks the tie, then candidate id.
	require.Equal(t, "a", first[0].ID)
	require.Equal(t, "c", first[1].ID)
	require.Equal(t, "b", first[2].ID)
}

func TestRankDoesNotMutateInput(t *testing.T) {
	candidates := []Candidate{
		{ID: "z", Provider: "p", Official: true, Country: "GB"},
		{ID: "a", Provider: "p", Official: true, Country: "XW"},
	}
	_ = Rank(candidates, Request{}, []string{"p"})
	require.Equal(t, "z", candidates[0].ID)
}
