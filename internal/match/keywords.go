package match

import (
	"regexp"
	"sort"
	"strings"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// keywordConfidence is the prior for a city-keyword pair. High enough to pass
// the engine's threshold, low enough that confirmation is still required.
const keywordConfidence = 0.85

// usTeams lists NBA and NHL franchises by city and nickname. Both forms map
// to the canonical city, so "Thunder" in one question meets "Oklahoma City"
// in the other. Ticker abbreviations are deliberately absent: the
// deterministic pass already covers tickers, this pass scans question text.
var usTeams = []struct{ city, nick string }{
	// NBA
	{"atlanta", "hawks"},
	{"boston", "celtics"},
	{"brooklyn", "nets"},
	{"charlotte", "hornets"},
	{"chicago", "bulls"},
	{"cleveland", "cavaliers"},
	{"dallas", "mavericks"},
	{"denver", "nuggets"},
	{"detroit", "pistons"},
	{"golden state", "warriors"},
	{"houston", "rockets"},
	{"indiana", "pacers"},
	{"los angeles", "clippers"},
	{"los angeles", "lakers"},
	{"memphis", "grizzlies"},
	{"miami", "heat"},
	{"milwaukee", "bucks"},
	{"minnesota", "timberwolves"},
	{"new orleans", "pelicans"},
	{"new york", "knicks"},
	{"oklahoma city", "thunder"},
	{"orlando", "magic"},
	{"philadelphia", "76ers"},
	{"phoenix", "suns"},
	{"portland", "trail blazers"},
	{"sacramento", "kings"},
	{"san antonio", "spurs"},
	{"toronto", "raptors"},
	{"utah", "jazz"},
	{"washington", "wizards"},
	// NHL
	{"anaheim", "ducks"},
	{"boston", "bruins"},
	{"buffalo", "sabres"},
	{"calgary", "flames"},
	{"carolina", "hurricanes"},
	{"chicago", "blackhawks"},
	{"colorado", "avalanche"},
	{"columbus", "blue jackets"},
	{"dallas", "stars"},
	{"detroit", "red wings"},
	{"edmonton", "oilers"},
	{"florida", "panthers"},
	{"los angeles", "kings"},
	{"minnesota", "wild"},
	{"montreal", "canadiens"},
	{"nashville", "predators"},
	{"new jersey", "devils"},
	{"new york", "islanders"},
	{"new york", "rangers"},
	{"ottawa", "senators"},
	{"philadelphia", "flyers"},
	{"pittsburgh", "penguins"},
	{"san jose", "sharks"},
	{"seattle", "kraken"},
	{"st. louis", "blues"},
	{"tampa bay", "lightning"},
	{"toronto", "maple leafs"},
	{"utah", "mammoth"},
	{"vancouver", "canucks"},
	{"vegas", "golden knights"},
	{"washington", "capitals"},
	{"winnipeg", "jets"},
}

// cityLookup maps a lowercase city or nickname to its canonical cities. A
// nickname shared across leagues (Kings) maps to every city that uses it.
var cityLookup = buildCityLookup()

var cityPattern = buildCityPattern()

func buildCityLookup() map[string][]string {
	lookup := make(map[string][]string)
	add := func(name, city string) {
		for _, c := range lookup[name] {
			if c == city {
				return
			}
		}
		lookup[name] = append(lookup[name], city)
	}
	for _, t := range usTeams {
		add(t.city, t.city)
		add(t.nick, t.city)
	}
	return lookup
}

// buildCityPattern compiles one word-bounded alternation over every known
// name, longest first so multi-word names win over their components.
func buildCityPattern() *regexp.Regexp {
	names := make([]string, 0, len(cityLookup))
	for name := range cityLookup {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for i, n := range names {
		names[i] = regexp.QuoteMeta(n)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(names, "|") + `)\b`)
}

// ExtractCities returns the canonical team cities mentioned in text, sorted.
func ExtractCities(text string) []string {
	seen := make(map[string]struct{})
	for _, hit := range cityPattern.FindAllString(text, -1) {
		for _, city := range cityLookup[strings.ToLower(hit)] {
			seen[city] = struct{}{}
		}
	}
	cities := make([]string, 0, len(seen))
	for c := range seen {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	return cities
}

type marketCities struct {
	id     string
	cities []string
}

func citiesForMarkets(markets []domain.Market) []marketCities {
	var out []marketCities
	for _, m := range markets {
		cities := ExtractCities(m.Question)
		if len(cities) >= 2 {
			out = append(out, marketCities{id: m.ID, cities: cities})
		}
	}
	return out
}

// commonCities intersects two sorted city lists.
func commonCities(a, b []string) []string {
	var common []string
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			common = append(common, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return common
}

// KeywordCandidates pairs markets whose questions mention the same game, two
// or more shared team cities. Deterministic and zero embedding cost; every
// candidate still goes through confirmation.
func KeywordCandidates(polyMarkets, kalshiMarkets []domain.Market) []domain.MatchCandidate {
	polySide := citiesForMarkets(polyMarkets)
	kalshiSide := citiesForMarkets(kalshiMarkets)

	var candidates []domain.MatchCandidate
	for _, p := range polySide {
		for _, k := range kalshiSide {
			common := commonCities(p.cities, k.cities)
			if len(common) < 2 {
				continue
			}
			candidates = append(candidates, domain.MatchCandidate{
				PolyID:     p.id,
				KalshiID:   k.id,
				Confidence: keywordConfidence,
				Reasoning:  "team keyword match: " + strings.Join(common, ", "),
				Source:     domain.SourceKeyword,
			})
		}
	}
	return candidates
}
