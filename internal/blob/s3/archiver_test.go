package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func TestArchiveWritesCSV(t *testing.T) {
	w := &memWriter{}
	a := NewFillArchiver(w, "")
	implied := 0.47
	cursor := int64(918273)
	at := time.Date(2026, 1, 14, 23, 59, 0, 0, time.UTC)

	path, err := a.Archive(context.Background(), []domain.FillEvent{
		{ID: "918273", Origin: domain.OriginTradeFeed, InstrumentKey: "nba-bos-lal", OutcomeLabel: "Celtics", Price: 0.45, Size: 100, Notional: 45, EventTimestamp: 1768435140000, ImpliedPrice: &implied},
		{ID: "918272", Origin: domain.OriginTradeFeed, InstrumentKey: "nhl-bos-tor", OutcomeLabel: "Bruins, Boston", Price: 0.5},
	}, &cursor, at)
	require.NoError(t, err)
	assert.Equal(t, "tradefeed/fills/2026-01-14/918273.csv", path)
	assert.Equal(t, "text/csv", w.types[path])

	rows, err := csv.NewReader(bytes.NewReader(w.objects[path])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, fillColumns, rows[0])
	assert.Equal(t, "0.45", rows[1][6])
	assert.Equal(t, "0.47", rows[1][10])
	assert.Equal(t, "", rows[1][11])
	assert.Equal(t, "Bruins, Boston", rows[2][3])
}

func TestArchivePathWithoutCursor(t *testing.T) {
	at := time.Date(2026, 1, 14, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "p/2026-01-14/head-1768392000.csv", archivePath("p", nil, at))
}

func TestArchiveSkipsEmptyAndWrapsErrors(t *testing.T) {
	w := &memWriter{err: errors.New("denied")}
	a := NewFillArchiver(w, "x")

	path, err := a.Archive(context.Background(), nil, nil, time.Now())
	assert.NoError(t, err)
	assert.Empty(t, path)

	_, err = a.Archive(context.Background(), []domain.FillEvent{{ID: "1"}}, nil, time.Now())
	assert.ErrorContains(t, err, "denied")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
