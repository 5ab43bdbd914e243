package deribit

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/depthstream/errs"
	"github.com/coachpo/depthstream/internal/schema"
)

const instrumentsPath = "/api/v2/public/get_instruments"

// Currencies are the settlement currencies whose futures are listed.
var Currencies = []string{"BTC", "ETH"}

type instrumentsResponse struct {
	Result []instrumentInfo `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type instrumentInfo struct {
	InstrumentName string          `json:"instrument_name"`
	BaseCurrency   string          `json:"base_currency"`
	QuoteCurrency  string          `json:"quote_currency"`
	TickSize       decimal.Decimal `json:"tick_size"`
	MinTradeAmount decimal.Decimal `json:"min_trade_amount"`
	IsActive       bool            `json:"is_active"`
}

// Instruments lists active, unexpired futures for every currency in Currencies. Currencies are
// fetched concurrently and the first failure cancels the rest.
func (a *Adapter) Instruments(ctx context.Context) ([]schema.Instrument, error) {
	p := pool.NewWithResults[[]schema.Instrument]().WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, currency := range Currencies {
		p.Go(func(ctx context.Context) ([]schema.Instrument, error) {
			return a.futures(ctx, currency)
		})
	}
	batches, err := p.Wait()
	if err != nil {
		return nil, err
	}
	var out []schema.Instrument
	for _, batch := range batches {
		out = append(out, batch...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Adapter) futures(ctx context.Context, currency string) ([]schema.Instrument, error) {
	query := url.Values{}
	query.Set("currency", currency)
	query.Set("kind", "future")
	query.Set("expired", "false")

	var payload instrumentsResponse
	if err := a.fetcher.GetJSON(ctx, a.restBase+instrumentsPath+"?"+query.Encode(), &payload); err != nil {
		return nil, err
	}
	if payload.Error != nil {
		return nil, errs.New(schema.VenueDeribit.Key(), errs.CodeExchange,
			errs.WithMessage("instrument discovery rejected"),
			errs.WithRawCode(strconv.Itoa(payload.Error.Code)),
			errs.WithRawMessage(payload.Error.Message),
			errs.WithField("currency", currency))
	}
	out := make([]schema.Instrument, 0, len(payload.Result))
	for _, info := range payload.Result {
		if !info.IsActive || strings.TrimSpace(info.InstrumentName) == "" {
			continue
		}
		out = append(out, schema.Instrument{
			Venue:         schema.VenueDeribit,
			ID:            info.InstrumentName,
			BaseCurrency:  info.BaseCurrency,
			QuoteCurrency: info.QuoteCurrency,
			TickSize:      info.TickSize,
			LotSize:       info.MinTradeAmount,
		})
	}
	return out, nil
}
