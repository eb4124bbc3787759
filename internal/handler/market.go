package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iremturen/stofina-sub001/internal/domain"
	"github.com/iremturen/stofina-sub001/internal/service"
)

// MarketHandler handles HTTP requests for book, price and phase endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// priceResponse is the JSON response for GET /stocks/{symbol}/price.
type priceResponse struct {
	Symbol      string   `json:"symbol"`
	MarketPrice *float64 `json:"market_price"`
	QuotedAt    *string  `json:"quoted_at"`
	VWAP        *float64 `json:"vwap"`
	Window      string   `json:"window"`
	TradesInWin int      `json:"trades_in_window"`
	LastTradeAt *string  `json:"last_trade_at"`
}

// bookLevelResponse is a single price level in the book response.
type bookLevelResponse struct {
	Price         float64 `json:"price"`
	TotalQuantity int64   `json:"total_quantity"`
	OrderCount    int     `json:"order_count"`
}

// bookResponse is the JSON response for GET /stocks/{symbol}/book.
type bookResponse struct {
	Symbol     string              `json:"symbol"`
	Bids       []bookLevelResponse `json:"bids"`
	Asks       []bookLevelResponse `json:"asks"`
	BestBid    *float64            `json:"best_bid"`
	BestAsk    *float64            `json:"best_ask"`
	Spread     *float64            `json:"spread"`
	SnapshotAt string              `json:"snapshot_at"`
}

// phaseResponse is the JSON response for GET /market/phase.
type phaseResponse struct {
	Phase     string  `json:"phase"`
	Trading   bool    `json:"trading"`
	NextClose *string `json:"next_close"`
	At        string  `json:"at"`
}

// GetPrice handles GET /stocks/{symbol}/price.
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.marketSvc.GetPrice(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := priceResponse{
		Symbol:      price.Symbol,
		MarketPrice: dollarsOrNil(price.MarketPrice),
		QuotedAt:    optionalTime(price.QuotedAt),
		VWAP:        dollarsOrNil(price.VWAP),
		Window:      price.Window,
		TradesInWin: price.TradesInWindow,
		LastTradeAt: optionalTime(price.LastTradeAt),
	}

	WriteJSON(w, http.StatusOK, resp)
}

// GetBook handles GET /stocks/{symbol}/book.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	// Parse depth query param (default 10, max 50).
	depth := 10
	if d := r.URL.Query().Get("depth"); d != "" {
		var err error
		depth, err = strconv.Atoi(d)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "depth must be a valid integer")
			return
		}
	}

	book, err := h.marketSvc.GetBook(symbol, depth)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, bookResponse{
		Symbol:     book.Symbol,
		Bids:       buildLevels(book.Bids),
		Asks:       buildLevels(book.Asks),
		BestBid:    dollarsOrNil(book.BestBid),
		BestAsk:    dollarsOrNil(book.BestAsk),
		Spread:     dollarsOrNil(book.Spread),
		SnapshotAt: book.Timestamp.UTC().Format(timestampLayout),
	})
}

// GetPhase handles GET /market/phase.
func (h *MarketHandler) GetPhase(w http.ResponseWriter, r *http.Request) {
	phase := h.marketSvc.GetPhase()
	WriteJSON(w, http.StatusOK, phaseResponse{
		Phase:     string(phase.Phase),
		Trading:   phase.Trading,
		NextClose: optionalTime(phase.NextClose),
		At:        phase.At.UTC().Format(timestampLayout),
	})
}

func buildLevels(levels []domain.OrderLevel) []bookLevelResponse {
	out := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		out[i] = bookLevelResponse{
			Price:         domain.CentsToDollars(l.Price),
			TotalQuantity: l.TotalQuantity,
			OrderCount:    l.OrderCount,
		}
	}
	return out
}

func dollarsOrNil(c *int64) *float64 {
	if c == nil {
		return nil
	}
	v := domain.CentsToDollars(*c)
	return &v
}
