package match

import "time"

// polyLeagues maps a Polymarket slug prefix to the canonical league name.
var polyLeagues = map[string]string{
	"nba":   "nba",
	"nhl":   "nhl",
	"ucl":   "ucl",
	"epl":   "epl",
	"es2":   "laliga2",
	"bun":   "bundesliga",
	"dota2": "dota2",
	"lol":   "lol",
	"cs2":   "cs2",
	"atp":   "atp",
	"wta":   "wta",
}

// kalshiSeries maps a Kalshi series prefix to the canonical league name.
// KXMVESPORTSMULTIGAME is deliberately absent: it is a multi-game parlay
// series, not a single event. Live Kalshi uses KXWTAMATCH for WTA; the
// retired KXWTAGAME series is kept for archived tickers.
var kalshiSeries = map[string]string{
	"KXNBAGAME":        "nba",
	"KXNHLGAME":        "nhl",
	"KXUCLGAME":        "ucl",
	"KXEPLGAME":        "epl",
	"KXLALIGA2GAME":    "laliga2",
	"KXBUNDESLIGAGAME": "bundesliga",
	"KXDOTA2GAME":      "dota2",
	"KXLOLGAME":        "lol",
	"KXCS2GAME":        "cs2",
	"KXATPGAME":        "atp",
	"KXWTAGAME":        "wta",
	"KXWTAMATCH":       "wta",
}

// teamAliases resolves team codes that differ between the two exchanges.
// Polymarket spells out some franchises that Kalshi abbreviates.
var teamAliases = map[string]string{
	"utah": "uta",
}

func resolveAlias(code string) string {
	if alias, ok := teamAliases[code]; ok {
		return alias
	}
	return code
}

var tickerMonths = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}
