package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testPoint() Point {
	return Point{
		Measurement: DefaultMeasurement,
		Source:      "rover",
		Payload:     []byte(`{"type":"battery","level":42}`),
		Time:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogSink_Write(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Write(context.Background(), testPoint()))
	require.NoError(t, sink.Close())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "telemetry_point", entry["msg"])
	assert.Equal(t, "ws_message", entry["measurement"])
	assert.Equal(t, "rover", entry[SourceTag])
	assert.Equal(t, `{"type":"battery","level":42}`, entry[PayloadField])
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	assert.NoError(t, s.Write(context.Background(), testPoint()))
	assert.NoError(t, s.Close())
}

func TestMultiSink_WritesToAll(t *testing.T) {
	a, b := new(mockSink), new(mockSink)
	p := testPoint()
	a.On("Write", mock.Anything, p).Return(errors.New("a down")).Once()
	b.On("Write", mock.Anything, p).Return(nil).Once()
	a.On("Close").Return(nil).Once()
	b.On("Close").Return(errors.New("b close")).Once()

	m := MultiSink{a, b}
	err := m.Write(context.Background(), p)
	assert.EqualError(t, err, "a down")
	assert.EqualError(t, m.Close(), "b close")

	a.AssertExpectations(t)
	b.AssertExpectations(t)
}
