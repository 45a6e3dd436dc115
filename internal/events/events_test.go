package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	return m.Called().Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestKafkaPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	event := Event{Type: ShiftClosed, EntityID: "shift-1", ShiftID: "shift-1", At: time.Now().UTC()}

	t.Run("writes keyed json message", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		publisher := &KafkaPublisher{logger: newTestLogger(), writer: writer, topic: "kassza-events"}

		writer.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || string(msgs[0].Key) != "shift-1" {
				return false
			}
			var got Event
			if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
				return false
			}
			return got.Type == ShiftClosed
		})).Return(nil).Once()

		require.NoError(t, publisher.Publish(ctx, event))
		writer.AssertExpectations(t)
	})

	t.Run("wraps writer error", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		publisher := &KafkaPublisher{logger: newTestLogger(), writer: writer, topic: "kassza-events"}
		brokerDown := errors.New("broker down")
		writer.On("WriteMessages", ctx, mock.Anything).Return(brokerDown).Once()

		err := publisher.Publish(ctx, event)
		assert.ErrorIs(t, err, brokerDown)
		writer.AssertExpectations(t)
	})
}

func TestNewKafkaPublisherValidatesConfig(t *testing.T) {
	_, err := NewKafkaPublisher(newTestLogger(), "", "topic")
	assert.Error(t, err)
	_, err = NewKafkaPublisher(newTestLogger(), "localhost:9092", "")
	assert.Error(t, err)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestAsyncPublisherDeliversBeforeClose(t *testing.T) {
	next := &recordingPublisher{}
	publisher, err := NewAsyncPublisher(next, 2, newTestLogger())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, publisher.Publish(context.Background(), Event{Type: SaleRecorded}))
	}
	require.NoError(t, publisher.Close())

	next.mu.Lock()
	defer next.mu.Unlock()
	assert.Len(t, next.events, 10)
	assert.True(t, next.closed)
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "shift-1", Event{EntityID: "sale-1", ShiftID: "shift-1"}.Key())
	assert.Equal(t, "sale-1", Event{EntityID: "sale-1"}.Key())
}
