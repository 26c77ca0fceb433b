package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

var fillColumns = []string{
	"id", "origin", "market_slug", "token_label", "side", "league",
	"price", "size", "fill_value", "timestamp_ms", "implied_price",
	"price_before_max_individual", "order_submitted_at",
}

// FillArchiver uploads each raw trade-feed fetch as one CSV object.
type FillArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewFillArchiver creates a FillArchiver. prefix defaults to
// "tradefeed/fills".
func NewFillArchiver(writer domain.BlobWriter, prefix string) *FillArchiver {
	if prefix == "" {
		prefix = "tradefeed/fills"
	}
	return &FillArchiver{writer: writer, prefix: prefix}
}

// Archive writes fills under <prefix>/<YYYY-MM-DD>/<cursor>.csv and returns
// the object key. An empty batch is not uploaded.
func (a *FillArchiver) Archive(ctx context.Context, fills []domain.FillEvent, cursor *int64, at time.Time) (string, error) {
	if len(fills) == 0 {
		return "", nil
	}
	data, err := encodeFillsCSV(fills)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive fills encode: %w", err)
	}
	path := archivePath(a.prefix, cursor, at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "text/csv"); err != nil {
		return "", fmt.Errorf("s3blob: archive fills upload: %w", err)
	}
	return path, nil
}

// archivePath partitions archives by UTC day.
//
//	tradefeed/fills/2026-01-14/918273.csv
//	tradefeed/fills/2026-01-14/head-1768392000.csv
func archivePath(prefix string, cursor *int64, at time.Time) string {
	name := "head-" + strconv.FormatInt(at.Unix(), 10)
	if cursor != nil {
		name = strconv.FormatInt(*cursor, 10)
	}
	return fmt.Sprintf("%s/%s/%s.csv", prefix, at.UTC().Format("2006-01-02"), name)
}

func encodeFillsCSV(fills []domain.FillEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fillColumns); err != nil {
		return nil, err
	}
	for i := range fills {
		f := &fills[i]
		submitted := ""
		if f.OrderSubmittedAt != nil {
			submitted = f.OrderSubmittedAt.UTC().Format(time.RFC3339Nano)
		}
		row := []string{
			f.ID, string(f.Origin), f.InstrumentKey, f.OutcomeLabel, f.Side, f.League,
			formatFloat(f.Price), formatFloat(f.Size), formatFloat(f.Notional),
			strconv.FormatInt(f.EventTimestamp, 10),
			formatOptional(f.ImpliedPrice), formatOptional(f.PriceBeforeMax),
			submitted,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("csv row %d: %w", i, err)
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
