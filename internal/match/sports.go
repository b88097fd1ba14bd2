package match

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// Deterministic sports matching. Both exchanges encode league, teams, and
// game date in their identifiers, so sports moneyline markets can be paired
// without embeddings or a confirmation call.
//
// Polymarket event slug:  {league}-{team1}-{team2}-{YYYY-MM-DD}[-suffix]
// Kalshi market ticker:   KX{LEAGUE}GAME-{YY}{MMM}{DD}[{HHMM}]{TEAMS}[-{YESTEAM}]
//
// Kalshi team codes are concatenated without a delimiter and vary in length
// (OKCDET, EDMLA, LIQUIDPARI), so the blob is matched by trying every split
// point against both team orderings.

// PolyGame is a parsed Polymarket sports slug.
type PolyGame struct {
	League string
	Team1  string
	Team2  string
	Date   time.Time // UTC midnight
}

// KalshiGame is a parsed Kalshi sports market ticker.
type KalshiGame struct {
	League string
	Teams  string // concatenated team codes, lowercased
	Suffix string // trailing YES-team segment, lowercased, "" if absent
	Date   time.Time
}

var (
	polySlugRE     = regexp.MustCompile(`^([a-z0-9]+)-([a-z][a-z0-9]{1,9})-([a-z][a-z0-9]{1,9})-(\d{4}-\d{2}-\d{2})`)
	kalshiSuffixRE = regexp.MustCompile(`^(\d{2})([A-Z]{3})(\d{2})(\d{4})?([A-Z0-9]{4,20})$`)
)

// stripDisambiguator removes the trailing digit Polymarket appends when a
// team plays twice in one day (rma1 -> rma). Codes that are digits by
// identity (c9) are left alone.
func stripDisambiguator(code string) string {
	trimmed := strings.TrimRight(code, "0123456789")
	if len(trimmed) >= 2 {
		return trimmed
	}
	return code
}

// ParsePolySlug parses a Polymarket event slug into a PolyGame.
func ParsePolySlug(slug string) (PolyGame, bool) {
	m := polySlugRE.FindStringSubmatch(strings.ToLower(strings.TrimSpace(slug)))
	if m == nil {
		return PolyGame{}, false
	}
	league, ok := polyLeagues[m[1]]
	if !ok {
		return PolyGame{}, false
	}
	date, err := time.Parse("2006-01-02", m[4])
	if err != nil {
		return PolyGame{}, false
	}
	return PolyGame{
		League: league,
		Team1:  stripDisambiguator(m[2]),
		Team2:  stripDisambiguator(m[3]),
		Date:   date,
	}, true
}

// ParseKalshiTicker parses a Kalshi market or event ticker into a KalshiGame.
// Both forms are accepted: the event ticker (series-datecode) and the market
// ticker carrying a trailing YES-team segment.
func ParseKalshiTicker(ticker string) (KalshiGame, bool) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(ticker)), "-")
	if len(parts) < 2 {
		return KalshiGame{}, false
	}
	league, ok := kalshiSeries[parts[0]]
	if !ok {
		return KalshiGame{}, false
	}
	m := kalshiSuffixRE.FindStringSubmatch(parts[1])
	if m == nil {
		return KalshiGame{}, false
	}
	month, ok := tickerMonths[m[2]]
	if !ok {
		return KalshiGame{}, false
	}
	year, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[3])
	date := time.Date(2000+year, month, day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day || date.Month() != month {
		return KalshiGame{}, false
	}
	g := KalshiGame{
		League: league,
		Teams:  strings.ToLower(m[5]),
		Date:   date,
	}
	if len(parts) >= 3 {
		g.Suffix = strings.ToLower(parts[len(parts)-1])
	}
	return g, true
}

// teamsMatch reports whether a Kalshi team code and a Polymarket team code
// identify the same team. Exchanges truncate names differently (TOW vs
// townsen), so after alias resolution either code may be a prefix of the
// other, with a 2-character minimum to avoid accidental hits.
func teamsMatch(kalshiCode, polyCode string) bool {
	a := resolveAlias(strings.ToLower(kalshiCode))
	b := resolveAlias(strings.ToLower(polyCode))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// blobMatchesOrdered reports whether the concatenated Kalshi team blob splits
// into codes matching (first, second) in that order.
func blobMatchesOrdered(blob, first, second string) bool {
	for i := 2; i <= len(blob)-2; i++ {
		if teamsMatch(blob[:i], first) && teamsMatch(blob[i:], second) {
			return true
		}
	}
	return false
}

func blobMatches(blob, team1, team2 string) bool {
	return blobMatchesOrdered(blob, team1, team2) || blobMatchesOrdered(blob, team2, team1)
}

// CanonicalKey builds the order-independent game key league:teamA-teamB:date.
func CanonicalKey(league, team1, team2 string, date time.Time) string {
	a, b := strings.ToLower(team1), strings.ToLower(team2)
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s-%s:%s", league, a, b, date.Format("2006-01-02"))
}

// Orientation decides which side of a Kalshi sports market is YES relative
// to the Polymarket slug's first team. Kalshi issues one market per team for
// the same game; the trailing ticker segment names the YES team.
func Orientation(kalshiMarketID, team1, team2 string) domain.Orientation {
	native, ok := strings.CutPrefix(kalshiMarketID, string(domain.ExchangeKalshi)+":")
	if !ok {
		return domain.OrientationUnknown
	}
	g, ok := ParseKalshiTicker(native)
	if !ok || g.Suffix == "" {
		return domain.OrientationUnknown
	}
	if teamsMatch(g.Suffix, team1) {
		return domain.OrientationAligned
	}
	if teamsMatch(g.Suffix, team2) {
		return domain.OrientationInverted
	}
	return domain.OrientationUnknown
}

type kalshiEntry struct {
	marketID string
	game     KalshiGame
}

// MatchSports pairs sports moneyline markets across the two exchanges by
// parsed identifiers alone. Every produced candidate has confidence 1.0 and
// never reaches the confirmation service.
//
// When the same game has both an aligned and an inverted Kalshi market, the
// aligned one wins; a game whose only Kalshi markets are inverted is dropped
// rather than flipped. If no Kalshi market exists on the exact date, the
// adjacent days are tried (venues disagree about "today" near midnight).
func MatchSports(polyMarkets, kalshiMarkets []domain.Market, logger *slog.Logger) []domain.MatchCandidate {
	index := make(map[string][]kalshiEntry)
	for _, km := range kalshiMarkets {
		g, ok := ParseKalshiTicker(km.MarketTicker)
		if !ok {
			continue
		}
		key := g.League + "|" + g.Date.Format("2006-01-02")
		index[key] = append(index[key], kalshiEntry{marketID: km.ID, game: g})
	}

	var out []domain.MatchCandidate
	polyParsed := 0
	for _, pm := range polyMarkets {
		if pm.MarketSubtype != "" && pm.MarketSubtype != "moneyline" {
			continue
		}
		g, ok := ParsePolySlug(pm.EventSlug)
		if !ok {
			continue
		}
		polyParsed++

		// Exact date first, then the one-day fallback on either side.
		var picked *kalshiEntry
		for _, offset := range []int{0, -1, 1} {
			date := g.Date.AddDate(0, 0, offset)
			picked = pickEntry(index[g.League+"|"+date.Format("2006-01-02")], g)
			if picked != nil {
				break
			}
		}
		if picked == nil {
			continue
		}

		out = append(out, domain.MatchCandidate{
			PolyID:     pm.ID,
			KalshiID:   picked.marketID,
			Confidence: 1.0,
			Reasoning:  "deterministic ticker match: " + CanonicalKey(g.League, g.Team1, g.Team2, g.Date),
			Source:     domain.SourceDeterministic,
		})
	}

	if logger != nil {
		logger.Debug("deterministic sports pass",
			slog.Int("poly_parseable", polyParsed),
			slog.Int("kalshi_indexed", len(index)),
			slog.Int("matched", len(out)),
		)
	}
	return out
}

// pickEntry selects the best Kalshi market for a game among same-date
// entries: aligned beats unknown, and a game with only inverted entries is
// rejected outright.
func pickEntry(entries []kalshiEntry, g PolyGame) *kalshiEntry {
	var unknown *kalshiEntry
	for i := range entries {
		e := &entries[i]
		if !blobMatches(e.game.Teams, g.Team1, g.Team2) {
			continue
		}
		switch {
		case e.game.Suffix == "":
			if unknown == nil {
				unknown = e
			}
		case teamsMatch(e.game.Suffix, g.Team1):
			return e
		case teamsMatch(e.game.Suffix, g.Team2):
			// Inverted sibling: skip, never flip.
		default:
			if unknown == nil {
				unknown = e
			}
		}
	}
	return unknown
}
