package shell_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/shell"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

func Test_QueueEventFrom_Uses_The_Event_Name_And_Fixed_Payload(t *testing.T) {
	sceneID := core.NewID()
	aggregateID := core.NewID()
	occurredAt := time.Date(2022, 1, 1, 3, 0, 0, 0, time.UTC)

	event, err := shell.QueueEventFrom(core.BuildMeteorologyMinimized(sceneID, aggregateID, occurredAt))

	require.NoError(t, err)
	assert.Equal(t, core.MeteorologyMinimizedEventName, event.Name)
	assert.JSONEq(t,
		`{"scene_id":"`+sceneID.String()+`","aggregate_id":"`+aggregateID.String()+`","occurred_at":"2022-01-01T03:00:00Z"}`,
		string(event.PayloadJSON),
	)
}

func Test_QueueEventFrom_Rejects_Missing_References(t *testing.T) {
	_, err := shell.QueueEventFrom(core.BuildSceneCreated(uuid.Nil, time.Now()))

	assert.ErrorIs(t, err, shell.ErrMappingToQueueEventFailed)
	assert.ErrorIs(t, err, core.ErrInvalidDomainEvent)
}

func Test_DomainEventFrom_Decodes_Every_Event_Name(t *testing.T) {
	now := time.Now()
	domainEvents := core.DomainEvents{
		core.BuildSceneCreated(core.NewID(), now),
		core.BuildMeteorologyMinimized(core.NewID(), core.NewID(), now),
		core.BuildSimulationCreated(core.NewID(), core.NewID(), now),
	}

	for _, domainEvent := range domainEvents {
		t.Run(domainEvent.EventName(), func(t *testing.T) {
			event, err := shell.QueueEventFrom(domainEvent)
			require.NoError(t, err)

			decoded, err := shell.DomainEventFrom(queue.ClaimedEvent{Name: event.Name, PayloadJSON: event.PayloadJSON})

			require.NoError(t, err)
			assert.Equal(t, domainEvent, decoded)
		})
	}
}

func Test_DomainEventFrom_Rejects_Bad_Input(t *testing.T) {
	tests := []struct {
		name        string
		claimed     queue.ClaimedEvent
		expectedErr error
	}{
		{
			name:        "unknown name",
			claimed:     queue.ClaimedEvent{Name: "SomethingElse", PayloadJSON: []byte(`{}`)},
			expectedErr: shell.ErrUnknownEventName,
		},
		{
			name:        "missing scene id",
			claimed:     queue.ClaimedEvent{Name: core.SceneCreatedEventName, PayloadJSON: []byte(`{}`)},
			expectedErr: core.ErrInvalidDomainEvent,
		},
		{
			name:        "malformed payload",
			claimed:     queue.ClaimedEvent{Name: core.SceneCreatedEventName, PayloadJSON: []byte(`{"scene_id":42}`)},
			expectedErr: shell.ErrMappingToDomainEventFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := shell.DomainEventFrom(tc.claimed)

			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}
