package notification_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidaflow/vidaflow/pkg/eventbus"
	"github.com/vidaflow/vidaflow/pkg/events"
	"github.com/vidaflow/vidaflow/pkg/notification"
)

type capturingPublisher struct {
	published []eventbus.Event
	keys      []string
	err       error
}

func (p *capturingPublisher) Publish(_ context.Context, key string, event eventbus.Event) error {
	if p.err != nil {
		return p.err
	}

	p.published = append(p.published, event)
	p.keys = append(p.keys, key)

	return nil
}

func TestEventBusDispatcher_Notify(t *testing.T) {
	publisher := &capturingPublisher{}
	dispatcher := notification.NewEventBusDispatcher(publisher, nil, slog.Default())

	result, err := dispatcher.Notify(context.Background(), "patient-1", "Retorno", "exec-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Retorno", result.FormName)

	require.Len(t, publisher.published, 1)
	assert.Equal(t, []string{"exec-1"}, publisher.keys)

	requested, ok := publisher.published[0].(events.NotificationRequested)
	require.True(t, ok)
	assert.Equal(t, "Retorno", requested.FormName)
	assert.Equal(t, "exec-1", requested.ExecutionID)
	assert.Equal(t, "patient-1", requested.PatientID)
	assert.Equal(t, events.NotificationRequestedEvent, requested.GetType())
}

func TestEventBusDispatcher_PublishFailure(t *testing.T) {
	publisher := &capturingPublisher{err: errors.New("broker unavailable")}
	dispatcher := notification.NewEventBusDispatcher(publisher, nil, slog.Default())

	result, err := dispatcher.Notify(context.Background(), "patient-1", "Retorno", "exec-1")
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestLogDispatcher_AlwaysSucceeds(t *testing.T) {
	dispatcher := notification.NewLogDispatcher(slog.Default())

	result, err := dispatcher.Notify(context.Background(), "patient-1", "Retorno", "exec-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
}
