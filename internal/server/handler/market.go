package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// MarketHandler serves normalized listings from both exchanges.
type MarketHandler struct {
	markets domain.MarketStore
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets domain.MarketStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// List returns one exchange's markets ordered by volume. The exchange query
// parameter is required ("polymarket" or "kalshi").
// GET /api/markets?exchange=kalshi
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	exchange := domain.Exchange(r.URL.Query().Get("exchange"))
	switch exchange {
	case domain.ExchangePolymarket, domain.ExchangeKalshi:
	default:
		writeError(w, http.StatusBadRequest, "exchange must be polymarket or kalshi")
		return
	}

	markets, err := h.markets.ListByExchange(r.Context(), exchange, parseListOpts(r))
	if err != nil {
		h.logger.Error("list markets", slog.String("exchange", string(exchange)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// Get returns one market by its composite id.
// GET /api/markets/{id}
func (h *MarketHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := h.markets.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.Error("get market", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load market")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
