package usecase

import (
	"strings"

	"TickRelay/internal/domain/models"
)

// circulatingSupply maps base assets to an approximate circulating
// supply used for the market-cap estimate. The figures are static; a
// missing entry simply omits marketCap from the enriched update.
var circulatingSupply = map[string]float64{
	"BTC":   19_900_000,
	"ETH":   120_500_000,
	"SOL":   540_000_000,
	"XRP":   58_600_000_000,
	"DOGE":  148_000_000_000,
	"ADA":   36_100_000_000,
	"AVAX":  422_000_000,
	"DOT":   1_550_000_000,
	"LINK":  678_000_000,
	"LTC":   76_200_000,
	"MATIC": 10_400_000_000,
	"BNB":   139_000_000,
}

// baseAsset extracts the base asset from an instrument id such as
// "BTC-USDT".
func baseAsset(symbol string) string {
	if i := strings.IndexByte(symbol, '-'); i > 0 {
		return symbol[:i]
	}
	return symbol
}

// enrich derives the subscriber-facing view of a raw ticker: 24h change
// and percentage from the 24h open, a market-cap estimate when the
// supply is known, and a human-readable timestamp.
func enrich(t *models.Ticker) models.TickerUpdate {
	u := models.TickerUpdate{
		Symbol:    t.Symbol,
		Price:     t.Price,
		High24h:   t.High24h,
		Low24h:    t.Low24h,
		Volume24h: t.Volume24h,
		BestBid:   t.BestBid,
		BestAsk:   t.BestAsk,
		Timestamp: t.Timestamp,
		Time:      models.FormatTime(t.Timestamp),
	}
	if t.Open24h > 0 {
		u.Change24h = t.Price - t.Open24h
		u.ChangePct24h = u.Change24h / t.Open24h * 100
	}
	if supply, ok := circulatingSupply[baseAsset(t.Symbol)]; ok {
		u.MarketCap = t.Price * supply
	}
	return u
}
