package download

import (
	"sort"
	"strings"
)

// countryRank orders release countries: worldwide releases beat US,
// which beats GB, which beats everything else.
func countryRank(country string) int {
	switch strings.ToUpper(country) {
	case "XW":
		return 0
	case "US":
		return 1
	case "GB":
		return 2
	default:
		return 3
	}
}

// matchesFormat reports whether the candidate satisfies the requested
// format. An empty request matches anything.
func matchesFormat(c Candidate, req Request) bool {
	if req.Format == "" {
		return true
	}
	return strings.EqualFold(c.Format, req.Format)
}

// matchesBitrate reports whether the candidate meets the requested
// minimum bitrate. Zero request or unknown candidate bitrate matches.
func matchesBitrate(c Candidate, req Request) bool {
	if req.MinBitrateKbps == 0 || c.BitrateKbps == 0 {
		return true
	}
	return c.BitrateKbps >= req.MinBitrateKbps
}

// Rank orders candidates best-first: official releases before
// unofficial, then by country preference, then candidates matching the
// requested format and bitrate before those that do not. Ties are
// broken by provider registration order and candidate id, so the same
// inputs always produce the same order. The input slice is not
// modified.
func Rank(candidates []Candidate, req Request, providerOrder []string) []Candidate {
	orderOf := make(map[string]int, len(providerOrder))
	for i, name := range providerOrder {
		orderOf[name] = i
	}
	providerRank := func(name string) int {
		if i, ok := orderOf[name]; ok {
			return i
		}
		return len(providerOrder)
	}

	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Official != b.Official {
			return a.Official
		}
		if ar, br := countryRank(a.Country), countryRank(b.Country); ar != br {
			return ar < br
		}
		if am, bm := matchesFormat(a, req), matchesFormat(b, req); am != bm {
			return am
		}
		if am, bm := matchesBitrate(a, req), matchesBitrate(b, req); am != bm {
			return am
		}
		if ar, br := providerRank(a.Provider), providerRank(b.Provider); ar != br {
			return ar < br
		}
		return a.ID < b.ID
	})
	return ranked
}
