package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

type countingSink struct {
	n   int
	err error
}

func (c *countingSink) Publish(context.Context, domain.FillEvent) error {
	c.n++
	return c.err
}

type memBus struct {
	channel string
	payload []byte
}

func (m *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	m.channel, m.payload = channel, payload
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func TestFanoutReachesEverySink(t *testing.T) {
	bad := &countingSink{err: errors.New("closed")}
	good := &countingSink{}
	f := NewFanout(slog.New(slog.NewTextHandler(io.Discard, nil)), bad, nil, good)

	err := f.Publish(context.Background(), domain.FillEvent{ID: "a"})
	assert.ErrorContains(t, err, "closed")
	assert.Equal(t, 1, bad.n)
	assert.Equal(t, 1, good.n)
}

func TestBusPublishesJSON(t *testing.T) {
	mb := &memBus{}
	require.NoError(t, NewBus(mb, "").Publish(context.Background(), domain.FillEvent{ID: "0xabc_1", Price: 0.4}))

	assert.Equal(t, OrderUpdateChannel, mb.channel)
	var got domain.FillEvent
	require.NoError(t, json.Unmarshal(mb.payload, &got))
	assert.Equal(t, "0xabc_1", got.ID)
}
