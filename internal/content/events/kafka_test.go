package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
	stalled bool
}

func (f *fakeProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	if f.stalled {
		<-ctx.Done()
		results := make(kgo.ProduceResults, 0, len(rs))
		for _, r := range rs {
			results = append(results, kgo.ProduceResult{Record: r, Err: ctx.Err()})
		}
		return results
	}
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func (f *fakeProducer) Close() { f.closed = true }

func TestKafkaPublisher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	event := Event{
		Type:       SubmissionReplaced,
		Kind:       "submission",
		DocumentID: "65f0c0ffee0000000000beef",
		RequestID:  "req-1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("keys records by document and tags the type", func(t *testing.T) {
		fake := &fakeProducer{}
		p := newKafka(fake, "lms.changes", WithLogger(logger))

		require.NoError(t, p.Publish(context.Background(), event))
		require.Len(t, fake.records, 1)

		record := fake.records[0]
		assert.Equal(t, "lms.changes", record.Topic)
		assert.Equal(t, []byte(event.DocumentID), record.Key)
		assert.Equal(t, []kgo.RecordHeader{{Key: eventTypeHeader, Value: []byte("submission.replaced")}}, record.Headers)

		var decoded Event
		require.NoError(t, json.Unmarshal(record.Value, &decoded))
		assert.Equal(t, event, decoded)
	})

	t.Run("broker failure is returned", func(t *testing.T) {
		fake := &fakeProducer{err: errors.New("not leader")}
		p := newKafka(fake, "lms.changes", WithLogger(logger))

		err := p.Publish(context.Background(), event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not leader")
	})

	t.Run("unreachable broker gives up when the context ends", func(t *testing.T) {
		fake := &fakeProducer{stalled: true}
		p := newKafka(fake, "lms.changes", WithLogger(logger))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := p.Publish(ctx, event)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Empty(t, fake.records)
	})

	t.Run("close releases the client", func(t *testing.T) {
		fake := &fakeProducer{}
		newKafka(fake, "lms.changes").Close()
		assert.True(t, fake.closed)
	})
}

func TestNewKafkaRequiresConfig(t *testing.T) {
	_, err := NewKafka(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafka([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), Event{Type: DocumentCreated}))
}
