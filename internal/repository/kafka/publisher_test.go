package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/laoweather/backend/internal/domain"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishAlert(t *testing.T) {
	w := &fakeWriter{}
	p := &AlertPublisher{writer: w, logger: zap.NewNop()}
	created := time.Date(2025, 7, 14, 6, 0, 0, 0, time.UTC)

	err := p.PublishAlert(context.Background(), domain.Alert{
		ID: "db_3", Type: "rain", Title: "Heavy rain - Pakse", Message: "85.0 mm/h",
		Priority: domain.PriorityHigh, CreatedAt: created,
		Metadata: domain.AlertMetadata{Location: "Pakse", AutoGenerated: true},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "rain|Heavy rain - Pakse", string(msg.Key))
	assert.Equal(t, created, msg.Time)
	assert.Equal(t, "alert_type", msg.Headers[0].Key)
	assert.Equal(t, "High", string(msg.Headers[1].Value))

	var ev alertEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "db_3", ev.ID)
	assert.Equal(t, "Pakse", ev.Metadata.Location)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishAlert_WriteError(t *testing.T) {
	p := &AlertPublisher{writer: &fakeWriter{err: errors.New("broker down")}, logger: zap.NewNop()}
	err := p.PublishAlert(context.Background(), domain.Alert{ID: "db_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka: failed to publish alert db_1")
}
