package bybit

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/schema"
)

const instrumentsPath = "/v5/market/instruments-info?category=spot"

type instrumentsResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []instrumentInfo `json:"list"`
	} `json:"result"`
}

type instrumentInfo struct {
	Symbol      string `json:"symbol"`
	BaseCoin    string `json:"baseCoin"`
	QuoteCoin   string `json:"quoteCoin"`
	Status      string `json:"status"`
	PriceFilter struct {
		TickSize decimal.Decimal `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		MinOrderQty decimal.Decimal `json:"minOrderQty"`
	} `json:"lotSizeFilter"`
}

// Instruments lists spot symbols in Trading status.
func (a *Adapter) Instruments(ctx context.Context) ([]schema.Instrument, error) {
	var payload instrumentsResponse
	if err := a.fetcher.GetJSON(ctx, a.restBase+instrumentsPath, &payload); err != nil {
		return nil, err
	}
	if payload.RetCode != 0 {
		return nil, errs.New(schema.VenueBybit.Key(), errs.CodeExchange,
			errs.WithMessage("instrument discovery rejected"),
			errs.WithRawCode(strconv.Itoa(payload.RetCode)),
			errs.WithRawMessage(payload.RetMsg))
	}
	out := make([]schema.Instrument, 0, len(payload.Result.List))
	for _, info := range payload.Result.List {
		if info.Status != "Trading" || strings.TrimSpace(info.Symbol) == "" {
			continue
		}
		out = append(out, schema.Instrument{
			Venue:         schema.VenueBybit,
			ID:            info.Symbol,
			BaseCurrency:  info.BaseCoin,
			QuoteCurrency: info.QuoteCoin,
			TickSize:      info.PriceFilter.TickSize,
			LotSize:       info.LotSizeFilter.MinOrderQty,
		})
	}
	return out, nil
}
