package models

// Request models for the REST surface. Bound from path/query
// parameters and validated before use.

type CandlesRequest struct {
	Symbol   string `param:"symbol" json:"symbol" validate:"required"`
	Interval string `query:"interval" json:"interval" default:"1m" validate:"oneof=1m 5m 15m 1h"`
	Limit    int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
	From     string `query:"from" json:"from"` // RFC3339 or unix, optional
	To       string `query:"to" json:"to"`
}

type WhalesRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
	Limit  int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=200"`
}

type PriceRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required"`
}

type PredictRequest struct {
	Symbol  string `param:"symbol" json:"symbol" validate:"required"`
	Horizon int    `query:"horizon" json:"horizon" default:"7" validate:"oneof=1 7 30"`
}
