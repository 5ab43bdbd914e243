package okx

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/schema"
)

const instrumentsPath = "/api/v5/public/instruments?instType=SPOT"

type instrumentsResponse struct {
	Code string           `json:"code"`
	Msg  string           `json:"msg"`
	Data []instrumentInfo `json:"data"`
}

type instrumentInfo struct {
	InstID   string          `json:"instId"`
	BaseCcy  string          `json:"baseCcy"`
	QuoteCcy string          `json:"quoteCcy"`
	TickSz   decimal.Decimal `json:"tickSz"`
	LotSz    decimal.Decimal `json:"lotSz"`
	State    string          `json:"state"`
}

// Instruments lists live SPOT instruments.
func (a *Adapter) Instruments(ctx context.Context) ([]schema.Instrument, error) {
	var payload instrumentsResponse
	if err := a.fetcher.GetJSON(ctx, a.restBase+instrumentsPath, &payload); err != nil {
		return nil, err
	}
	if payload.Code != "0" {
		return nil, errs.New(schema.VenueOKX.Key(), errs.CodeExchange,
			errs.WithMessage("instrument discovery rejected"),
			errs.WithRawCode(payload.Code),
			errs.WithRawMessage(payload.Msg))
	}
	out := make([]schema.Instrument, 0, len(payload.Data))
	for _, info := range payload.Data {
		if info.State != "live" || strings.TrimSpace(info.InstID) == "" {
			continue
		}
		out = append(out, schema.Instrument{
			Venue:         schema.VenueOKX,
			ID:            info.InstID,
			BaseCurrency:  info.BaseCcy,
			QuoteCurrency: info.QuoteCcy,
			TickSize:      info.TickSz,
			LotSize:       info.LotSz,
		})
	}
	return out, nil
}
