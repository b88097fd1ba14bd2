package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// stringList unmarshals from a JSON array of strings or from a string
// containing a JSON-encoded array. Gamma sends fields like outcomePrices as
// "[\"0.4\",\"0.6\"]".
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return err
	}
	*l = arr
	return nil
}

// APIEvent is the event stub embedded in a Gamma market response.
type APIEvent struct {
	Slug string `json:"slug"`
}

// APIMarket is a market as returned by the Gamma API.
type APIMarket struct {
	ID               string     `json:"id"`
	Question         string     `json:"question"`
	Slug             string     `json:"slug"`
	Active           flexBool   `json:"active"`
	Closed           flexBool   `json:"closed"`
	Outcomes         stringList `json:"outcomes"`
	OutcomePrices    stringList `json:"outcomePrices"`
	ClobTokenIDs     stringList `json:"clobTokenIds"`
	Volume           flexFloat  `json:"volume"`
	Category         string     `json:"category"`
	EndDate          string     `json:"endDate"`
	SportsMarketType string     `json:"sportsMarketType"`
	Events           []APIEvent `json:"events"`
}

// ToDomain normalizes a Gamma market into the scanner's market record.
// Returns false for markets that are not usable binary YES/NO contracts.
func (m *APIMarket) ToDomain(raw json.RawMessage) (domain.Market, bool) {
	if m.ID == "" || m.Question == "" {
		return domain.Market{}, false
	}
	if len(m.OutcomePrices) < 2 {
		return domain.Market{}, false
	}

	yesIdx, noIdx := 0, 1
	if len(m.Outcomes) >= 2 && strings.EqualFold(m.Outcomes[0], "No") {
		yesIdx, noIdx = 1, 0
	}

	yes, errYes := strconv.ParseFloat(m.OutcomePrices[yesIdx], 64)
	no, errNo := strconv.ParseFloat(m.OutcomePrices[noIdx], 64)
	if errYes != nil || errNo != nil {
		return domain.Market{}, false
	}

	eventSlug := m.Slug
	if len(m.Events) > 0 && m.Events[0].Slug != "" {
		eventSlug = m.Events[0].Slug
	}

	dm := domain.Market{
		ID:            domain.MarketID(domain.ExchangePolymarket, m.ID),
		Exchange:      domain.ExchangePolymarket,
		Question:      m.Question,
		Category:      m.Category,
		YesPrice:      clamp01(yes),
		NoPrice:       clamp01(no),
		Volume:        float64(m.Volume),
		URL:           "https://polymarket.com/event/" + eventSlug,
		EventSlug:     eventSlug,
		MarketSubtype: m.SportsMarketType,
		Raw:           raw,
		UpdatedAt:     time.Now().UTC(),
	}
	if len(m.ClobTokenIDs) > yesIdx {
		dm.StreamKey = m.ClobTokenIDs[yesIdx]
	}
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			dm.EndDate = &t
		}
	}
	return dm, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// wsEvent is a single price event from the CLOB market channel. Frames
// usually carry an array of these.
type wsEvent struct {
	EventType string    `json:"event_type"`
	Type      string    `json:"type"`
	AssetID   string    `json:"asset_id"`
	Market    string    `json:"market"`
	Price     string    `json:"price"`
	Volume    flexFloat `json:"volume"`
}

// wsCommand is the CLOB market-channel subscription payload. Operation is
// empty on the initial subscribe and "subscribe"/"unsubscribe" for dynamic
// changes.
type wsCommand struct {
	AssetIDs  []string `json:"assets_ids"`
	Type      string   `json:"type"`
	Operation string   `json:"operation,omitempty"`
}
