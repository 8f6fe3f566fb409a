package gather

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"trendline/internal/domain"
	"trendline/internal/store"
)

// Compile-time interface check.
var _ Gatherer = (*CSVImporter)(nil)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseYahooCSV reads Yahoo-style daily prices: a header naming Date, Open,
// High, Low, Close and Volume, with an optional Adj Close column. Rows with
// "null" values are skipped. With adjust set and Adj Close present, the open,
// high, low and close are scaled by adj_close/close. The result is ascending.
func ParseYahooCSV(r io.Reader, symbol string, adjust bool) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	adjCol, hasAdj := col["adj close"]

	symbol = strings.ToUpper(symbol)
	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		get := func(name string) string {
			if i := col[name]; i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		if isNull(get("open")) || isNull(get("close")) {
			continue
		}

		ts, err := parseDate(get("date"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [4]float64
		for i, name := range []string{"open", "high", "low", "close"} {
			if vals[i], err = strconv.ParseFloat(get(name), 64); err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, name, err)
			}
		}
		vol, err := strconv.ParseFloat(get("volume"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d volume: %w", line, err)
		}

		if adjust && hasAdj && adjCol < len(rec) && vals[3] != 0 {
			adj, err := strconv.ParseFloat(strings.TrimSpace(rec[adjCol]), 64)
			if err == nil {
				ratio := adj / vals[3]
				for i := range vals {
					vals[i] *= ratio
				}
			}
		}

		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    int64(math.Round(vol)),
		})
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

func isNull(s string) bool {
	return s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "nan")
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// SymbolFromPath derives a symbol from a file name such as
// "cba-2019-2024.csv" or "CBA.AX.csv".
func SymbolFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.IndexAny(name, "-._ "); i > 0 {
		name = name[:i]
	}
	return strings.ToUpper(name)
}

// CSVImporter loads Yahoo-format CSV files into the bar store.
type CSVImporter struct {
	Store  store.BarStore
	Market domain.Market
	Paths  []string
	Symbol string // overrides the file-name symbol when importing one file
	Adjust bool
	Log    *slog.Logger
}

// Name returns the gatherer identifier.
func (c *CSVImporter) Name() string { return "csv-import" }

// Run imports every configured path.
func (c *CSVImporter) Run(ctx context.Context) error {
	if len(c.Paths) == 0 {
		return fmt.Errorf("csv import: no files")
	}
	if c.Symbol != "" && len(c.Paths) > 1 {
		return fmt.Errorf("csv import: symbol override needs exactly one file, got %d", len(c.Paths))
	}
	for _, path := range c.Paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		symbol := c.Symbol
		if symbol == "" {
			symbol = SymbolFromPath(path)
		}
		n, err := c.ImportFile(ctx, path, symbol)
		if err != nil {
			return err
		}
		c.logger().Info("imported", "path", path, "symbol", symbol, "bars", n)
	}
	return nil
}

// ImportFile parses one file and writes its bars under symbol.
func (c *CSVImporter) ImportFile(ctx context.Context, path, symbol string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	bars, err := ParseYahooCSV(f, symbol, c.Adjust)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	market := c.Market
	if market == "" {
		market = domain.MarketUS
	}
	if err := c.Store.WriteBars(ctx, string(market), bars); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return len(bars), nil
}

func (c *CSVImporter) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}
