package domain

// MarketPhase is the coarse trading-calendar state.
type MarketPhase string

const (
	MarketPhasePreMarket   MarketPhase = "PRE_MARKET"
	MarketPhaseOpen        MarketPhase = "OPEN"
	MarketPhaseClosingSoon MarketPhase = "CLOSING_SOON"
	MarketPhaseClosed      MarketPhase = "CLOSED"
	MarketPhasePostMarket  MarketPhase = "POST_MARKET"
	MarketPhaseWeekend     MarketPhase = "WEEKEND"
)

// Trading reports whether continuous trading is in progress.
func (p MarketPhase) Trading() bool {
	return p == MarketPhaseOpen || p == MarketPhaseClosingSoon
}
