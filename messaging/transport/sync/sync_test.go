package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablecore/messaging"
)

func counter(name string, n *int, err error) *messaging.FuncHandler {
	return &messaging.FuncHandler{Name: name, Fn: func(context.Context, messaging.IMessage) error {
		*n++
		return err
	}}
}

func TestTransport_PublishFlow(t *testing.T) {
	tr := NewTransport()
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	var a, b int
	ha := counter("a", &a, nil)
	require.NoError(t, tr.Subscribe("T", ha))
	require.NoError(t, tr.Subscribe("T", counter("b", &b, errors.New("boom"))))

	err := tr.Publish(context.Background(), messaging.NewMessage("T", nil))
	assert.ErrorContains(t, err, "b: boom")
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)

	require.NoError(t, tr.Unsubscribe("T", ha))
	assert.Error(t, tr.Unsubscribe("T", ha))
	assert.Equal(t, 1, tr.Stats().HandlerCount)

	assert.NoError(t, tr.Publish(context.Background(), messaging.NewMessage("other", nil)))
}

func TestTransport_NotRunning(t *testing.T) {
	tr := NewTransport()
	assert.Error(t, tr.Publish(context.Background(), messaging.NewMessage("T", nil)))
	require.NoError(t, tr.Start(context.Background()))
	assert.Error(t, tr.Start(context.Background()))
}
