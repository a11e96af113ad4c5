package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "parse-results", map[string]string{"currency": "GBP"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "parse-results", msgs[0].Topic)

	msgs[0].Topic = "mutated"
	require.Equal(t, "parse-results", p.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	p := New()
	p.FailWith(errors.New("topic not found"))
	_, err := p.Publish(context.Background(), "parse-results", nil)
	require.EqualError(t, err, "topic not found")
	require.Empty(t, p.Messages())

	p.FailWith(nil)
	_, err = p.Publish(context.Background(), "parse-results", nil)
	require.NoError(t, err)
}
