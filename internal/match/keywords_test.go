package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

func TestExtractCities(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"nicknames", "Will the Thunder beat the Pistons?", []string{"detroit", "oklahoma city"}},
		{"city names", "Detroit at Oklahoma City Winner?", []string{"detroit", "oklahoma city"}},
		{"mixed forms", "Maple Leafs @ Montreal", []string{"montreal", "toronto"}},
		{"shared nickname", "Kings to win?", []string{"los angeles", "sacramento"}},
		{"multiword city", "Golden State vs New York", []string{"golden state", "new york"}},
		{"case insensitive", "OKLAHOMA CITY thunder", []string{"oklahoma city"}},
		{"no teams", "Will Bitcoin close above $100K?", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCities(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeywordCandidatesPairSameGame(t *testing.T) {
	poly := activeMarket("polymarket:okcdet", "Will the Thunder beat the Pistons?")
	kalshi := activeMarket("kalshi:okcdet", "Detroit at Oklahoma City Winner?")
	other := activeMarket("kalshi:bosmia", "Boston at Miami Winner?")

	cands := KeywordCandidates(
		[]domain.Market{poly},
		[]domain.Market{kalshi, other},
	)

	require.Len(t, cands, 1)
	assert.Equal(t, poly.ID, cands[0].PolyID)
	assert.Equal(t, kalshi.ID, cands[0].KalshiID)
	assert.Equal(t, keywordConfidence, cands[0].Confidence)
	assert.Equal(t, domain.SourceKeyword, cands[0].Source)
	assert.Contains(t, cands[0].Reasoning, "detroit")
	assert.Contains(t, cands[0].Reasoning, "oklahoma city")
}

func TestKeywordCandidatesNeedTwoCommonCities(t *testing.T) {
	poly := activeMarket("polymarket:okcdet", "Thunder vs Pistons")
	kalshi := activeMarket("kalshi:okcmia", "Oklahoma City at Miami Winner?")

	cands := KeywordCandidates([]domain.Market{poly}, []domain.Market{kalshi})
	assert.Empty(t, cands)
}

func TestKeywordCandidatesSkipNonSportsQuestions(t *testing.T) {
	poly := activeMarket("polymarket:btc", "Will Bitcoin close above $100K?")
	kalshi := activeMarket("kalshi:btc", "BTC above $100,000 at year end?")

	cands := KeywordCandidates([]domain.Market{poly}, []domain.Market{kalshi})
	assert.Empty(t, cands)
}

func TestMatchConfirmsKeywordOnlyCandidates(t *testing.T) {
	conf := &stubConfirmer{}
	m := newTestMatcher(conf, nil)

	// No slugs, no tickers, no synced embeddings: the keyword pass is the
	// only producer that can surface this pair.
	poly := activeMarket("polymarket:okcdet", "Will the Thunder beat the Pistons?")
	kalshi := activeMarket("kalshi:okcdet", "Detroit at Oklahoma City Winner?")

	result, err := m.Match(context.Background(), []domain.Market{poly}, []domain.Market{kalshi}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.KeywordCandidates)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, domain.SourceKeyword, result.Matches[0].Source)
	assert.Len(t, conf.calls, 1)
}
