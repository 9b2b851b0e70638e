package usecase

import (
	"context"
	"time"

	"TickRelay/internal/domain/models"
	drepo "TickRelay/internal/domain/repository"
	"TickRelay/internal/service/candles"
	xhttp "TickRelay/pkg/http"
	applogger "TickRelay/pkg/logger"
)

// CandlesUseCase serves candle pages, merging the in-memory series with
// the historical provider when the live window is shorter than the
// requested page.
type CandlesUseCase struct {
	agg    *candles.Aggregator
	source drepo.CandleSource
	log    *applogger.Logger
}

func NewCandlesUseCase(agg *candles.Aggregator, source drepo.CandleSource, log *applogger.Logger) *CandlesUseCase {
	return &CandlesUseCase{agg: agg, source: source, log: log.With("candles")}
}

type GetCandlesParams struct {
	Symbol   string
	Interval drepo.Interval
	Limit    int
	From     time.Time // zero means unbounded
	To       time.Time // zero means unbounded
}

type GetCandlesResult struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Count    int             `json:"count"`
	Candles  []models.Candle `json:"candles"`
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, xhttp.BadRequestError("symbol required")
	}
	if !drepo.IsValidInterval(p.Interval) {
		return nil, xhttp.BadRequestErrorf("unsupported interval %q", p.Interval)
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}

	live := uc.agg.Series(p.Symbol, p.Interval, p.Limit)
	if len(live) < p.Limit && uc.source != nil {
		live = uc.backfill(ctx, p, live)
	}
	live = filterRange(live, p.From, p.To)

	return &GetCandlesResult{
		Symbol:   p.Symbol,
		Interval: string(p.Interval),
		Count:    len(live),
		Candles:  live,
	}, nil
}

// backfill prepends historical candles older than the live window. The
// provider is best-effort: on error the live series is returned as-is.
func (uc *CandlesUseCase) backfill(ctx context.Context, p GetCandlesParams, live []models.Candle) []models.Candle {
	hist, err := uc.source.Candles(ctx, p.Symbol, p.Interval, p.Limit)
	if err != nil {
		uc.log.Warn("backfill unavailable",
			applogger.String("symbol", p.Symbol),
			applogger.Error(err),
		)
		return live
	}
	if len(live) == 0 {
		if len(hist) > p.Limit {
			hist = hist[len(hist)-p.Limit:]
		}
		return hist
	}

	// keep only history strictly older than the live window, then glue
	oldest := live[0].BucketStart
	cut := len(hist)
	for i, c := range hist {
		if c.BucketStart >= oldest {
			cut = i
			break
		}
	}
	hist = hist[:cut]

	merged := append(hist, live...)
	if len(merged) > p.Limit {
		merged = merged[len(merged)-p.Limit:]
	}
	return merged
}

// filterRange keeps candles whose bucket falls within [from, to). Zero
// bounds are open.
func filterRange(cs []models.Candle, from, to time.Time) []models.Candle {
	if from.IsZero() && to.IsZero() {
		return cs
	}
	out := cs[:0:0]
	for _, c := range cs {
		t := time.UnixMilli(c.BucketStart)
		if !from.IsZero() && t.Before(from) {
			continue
		}
		if !to.IsZero() && !t.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}
