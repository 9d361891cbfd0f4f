// Package configsrc reads the externally-curated trading universe and
// parameter profiles from a Google Sheet, and writes per-market stats back
// to it. The spreadsheet is the operator-facing control surface: which
// markets are enabled, their sizing/risk overrides, and the named
// hyperparameter profiles they reference.
package configsrc

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"polymarket-mm/pkg/types"
)

const (
	worksheetSelected   = "Selected Markets"
	worksheetParams     = "Hyperparameters"
	worksheetAllMarkets = "All Markets"
)

var spreadsheetIDPattern = regexp.MustCompile(`/d/([a-zA-Z0-9-_]+)`)

// Source wraps the Sheets API client for one spreadsheet.
type Source struct {
	svc           *sheets.Service
	spreadsheetID string
}

// New authenticates with a service-account key file and opens the
// spreadsheet identified by spreadsheetURL.
func New(ctx context.Context, spreadsheetURL, credentialsFile string) (*Source, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("build sheets service: %w", err)
	}

	id, err := extractSpreadsheetID(spreadsheetURL)
	if err != nil {
		return nil, err
	}

	return &Source{svc: svc, spreadsheetID: id}, nil
}

func extractSpreadsheetID(url string) (string, error) {
	m := spreadsheetIDPattern.FindStringSubmatch(url)
	if len(m) < 2 {
		return "", fmt.Errorf("could not extract spreadsheet id from url %q", url)
	}
	return m[1], nil
}

// readRows fetches a worksheet and zips every row after the first against
// the header row, skipping rows that are entirely blank.
func (s *Source) readRows(ctx context.Context, sheetName string) ([]map[string]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, sheetName).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read worksheet %q: %w", sheetName, err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}

	headers := make([]string, len(resp.Values[0]))
	for i, h := range resp.Values[0] {
		headers[i] = fmt.Sprint(h)
	}

	rows := make([]map[string]string, 0, len(resp.Values)-1)
	for _, raw := range resp.Values[1:] {
		row := make(map[string]string, len(headers))
		allEmpty := true
		for i, h := range headers {
			var v string
			if i < len(raw) {
				v = fmt.Sprint(raw[i])
			}
			row[h] = v
			if v != "" {
				allEmpty = false
			}
		}
		if allEmpty {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// SelectedMarkets loads the externally-curated trading universe.
func (s *Source) SelectedMarkets(ctx context.Context) ([]types.Market, error) {
	rows, err := s.readRows(ctx, worksheetSelected)
	if err != nil {
		return nil, err
	}

	markets := make([]types.Market, 0, len(rows))
	for _, row := range rows {
		markets = append(markets, types.Market{
			ConditionID: row["condition_id"],
			Token1:      row["token1"],
			Token2:      row["token2"],
			Question:    row["question"],
			Answer1:     row["answer1"],
			Answer2:     row["answer2"],
			Enabled:     parseBool(row["enabled"]),
			ParamType:   stringOr(row["param_type"], "default"),
			NegRisk:     parseBool(row["neg_risk"]),
			TickSize:    types.TickSize(stringOr(row["tick_size"], "0.01")),
			MinSize:     parseFloat(row["min_size"]),
			TradeSize:   parseFloat(row["trade_size"]),
			MaxSize:     parseFloat(row["max_size"]),
			MaxSpread:   parseFloat(row["max_spread"]),
			ThreeHour:   parseFloat(row["3_hour"]),
			BestBid:     parseFloat(row["best_bid"]),
			BestAsk:     parseFloat(row["best_ask"]),
		})
	}
	return markets, nil
}

// Hyperparameters loads the named parameter profiles.
func (s *Source) Hyperparameters(ctx context.Context) (map[string]types.ParamProfile, error) {
	rows, err := s.readRows(ctx, worksheetParams)
	if err != nil {
		return nil, err
	}

	params := make(map[string]types.ParamProfile, len(rows))
	for _, row := range rows {
		name := stringOr(row["param_type"], "default")
		params[name] = types.ParamProfile{
			Name:                name,
			TradeSize:           parseFloat(row["trade_size"]),
			MaxSize:             parseFloat(row["max_size"]),
			MinSize:             parseFloat(row["min_size"]),
			MaxSpread:           parseFloat(row["max_spread"]),
			StopLossThreshold:   parseFloat(row["stop_loss_threshold"]),
			TakeProfitThreshold: parseFloat(row["take_profit_threshold"]),
			VolatilityThreshold: parseFloat(row["volatility_threshold"]),
			SpreadThreshold:     parseFloat(row["spread_threshold"]),
			SleepPeriod:         parseFloat(row["sleep_period"]),
		}
	}
	return params, nil
}

// AllMarkets loads the full discovery catalog (informational only — this
// system does not decide which markets to trade from it).
func (s *Source) AllMarkets(ctx context.Context) ([]types.CatalogMarket, error) {
	rows, err := s.readRows(ctx, worksheetAllMarkets)
	if err != nil {
		return nil, err
	}

	out := make([]types.CatalogMarket, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.CatalogMarket{
			ConditionID: row["condition_id"],
			Question:    row["question"],
			Token1:      row["token1"],
			Token2:      row["token2"],
			Answer1:     row["answer1"],
			Answer2:     row["answer2"],
			NegRisk:     parseBool(row["neg_risk"]),
			Volume:      parseFloat(row["volume"]),
			Liquidity:   parseFloat(row["liquidity"]),
			EndDate:     parseTime(row["end_date"]),
			Active:      parseBool(row["active"]),
		})
	}
	return out, nil
}

// UpdateMarketStats writes per-market stat columns (e.g. 3_hour, best_bid,
// best_ask) for the Selected Markets row matching conditionID. It mutates
// the whole sheet in memory and rewrites it in full (clear, then set),
// rather than patching individual cells, so the worksheet never carries a
// stale row shape left over from a prior manual edit.
func (s *Source) UpdateMarketStats(ctx context.Context, conditionID string, stats map[string]float64) error {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, worksheetSelected).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read worksheet for stats update: %w", err)
	}
	if len(resp.Values) == 0 {
		return fmt.Errorf("worksheet %q is empty", worksheetSelected)
	}

	header := resp.Values[0]
	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[fmt.Sprint(h)] = i
	}
	condCol, ok := colIndex["condition_id"]
	if !ok {
		return fmt.Errorf("worksheet %q has no condition_id column", worksheetSelected)
	}

	rows := resp.Values[1:]
	found := false
	for i, row := range rows {
		if condCol >= len(row) || fmt.Sprint(row[condCol]) != conditionID {
			continue
		}
		found = true

		for col, val := range stats {
			idx, ok := colIndex[col]
			if !ok {
				continue
			}
			for len(row) <= idx {
				row = append(row, "")
			}
			row[idx] = strconv.FormatFloat(val, 'f', -1, 64)
		}
		rows[i] = row
	}
	if !found {
		return fmt.Errorf("market %s not found in %q", conditionID, worksheetSelected)
	}

	full := append([][]interface{}{header}, rows...)

	if _, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, worksheetSelected, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear worksheet %q: %w", worksheetSelected, err)
	}
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, worksheetSelected+"!A1", &sheets.ValueRange{Values: full}).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write worksheet %q: %w", worksheetSelected, err)
	}
	return nil
}

// Bootstrap creates the three worksheets with header rows and a default
// parameter profile on a blank spreadsheet already shared with the
// service account.
func (s *Source) Bootstrap(ctx context.Context) error {
	var addSheets []*sheets.Request
	for _, name := range []string{worksheetSelected, worksheetParams, worksheetAllMarkets} {
		addSheets = append(addSheets, &sheets.Request{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: name}},
		})
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: addSheets}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create worksheets: %w", err)
	}

	writes := []struct {
		sheetName string
		headers   []interface{}
	}{
		{worksheetSelected, toInterfaceSlice("condition_id", "token1", "token2", "question", "answer1", "answer2",
			"enabled", "param_type", "neg_risk", "min_size", "trade_size", "max_size", "max_spread", "tick_size",
			"3_hour", "best_bid", "best_ask")},
		{worksheetParams, toInterfaceSlice("param_type", "trade_size", "max_size", "min_size", "max_spread",
			"stop_loss_threshold", "take_profit_threshold", "volatility_threshold", "spread_threshold", "sleep_period")},
		{worksheetAllMarkets, toInterfaceSlice("condition_id", "question", "token1", "token2", "answer1", "answer2",
			"neg_risk", "volume", "liquidity", "end_date", "active")},
	}
	for _, w := range writes {
		_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, w.sheetName+"!A1",
			&sheets.ValueRange{Values: [][]interface{}{w.headers}}).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("write headers for %q: %w", w.sheetName, err)
		}
	}

	defaultProfile := [][]interface{}{{"default", 100, 250, 10, 5, -2, 1, 10, 3, 1}}
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, worksheetParams+"!A2",
		&sheets.ValueRange{Values: defaultProfile}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write default parameter profile: %w", err)
	}
	return nil
}

func toInterfaceSlice(vals ...string) []interface{} {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func columnLetter(idx int) string {
	letters := ""
	for idx >= 0 {
		letters = string(rune('A'+idx%26)) + letters
		idx = idx/26 - 1
	}
	return letters
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func stringOr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
