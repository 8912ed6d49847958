package shell

import (
	"context"
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

var (
	// ErrMappingToQueueEventFailed is returned when domain event serialization fails.
	ErrMappingToQueueEventFailed = errors.New("mapping to queue event failed")

	// ErrMappingToDomainEventFailed is returned when a claimed event cannot be decoded.
	ErrMappingToDomainEventFailed = errors.New("mapping to domain event failed")

	// ErrUnknownEventName is returned for event names without a known payload shape.
	ErrUnknownEventName = errors.New("unknown event name")
)

// QueueEventFrom serializes a validated DomainEvent into a queue.Event.
func QueueEventFrom(event core.DomainEvent) (queue.Event, error) {
	if err := event.Validate(); err != nil {
		return queue.Event{}, errors.Join(ErrMappingToQueueEventFailed, err)
	}

	payloadJSON, err := jsoniter.ConfigFastest.Marshal(event)
	if err != nil {
		return queue.Event{}, errors.Join(ErrMappingToQueueEventFailed, err)
	}

	queueEvent, err := queue.BuildEvent(event.EventName(), payloadJSON)
	if err != nil {
		return queue.Event{}, errors.Join(ErrMappingToQueueEventFailed, err)
	}

	return queueEvent, nil
}

// AppendDomainEvent maps event and appends it to the transaction's event log.
func AppendDomainEvent(ctx context.Context, log store.EventLog, event core.DomainEvent) (queue.EventID, error) {
	queueEvent, err := QueueEventFrom(event)
	if err != nil {
		return 0, err
	}

	return log.Append(ctx, queueEvent)
}

// DomainEventFrom decodes a claimed event into its DomainEvent and validates it.
func DomainEventFrom(claimed queue.ClaimedEvent) (core.DomainEvent, error) {
	var event core.DomainEvent

	switch claimed.Name {
	case core.SceneCreatedEventName:
		payload := core.SceneCreated{}
		if err := jsoniter.ConfigFastest.Unmarshal(claimed.PayloadJSON, &payload); err != nil {
			return nil, errors.Join(ErrMappingToDomainEventFailed, err)
		}
		event = payload

	case core.MeteorologyMinimizedEventName:
		payload := core.MeteorologyMinimized{}
		if err := jsoniter.ConfigFastest.Unmarshal(claimed.PayloadJSON, &payload); err != nil {
			return nil, errors.Join(ErrMappingToDomainEventFailed, err)
		}
		event = payload

	case core.SimulationCreatedEventName:
		payload := core.SimulationCreated{}
		if err := jsoniter.ConfigFastest.Unmarshal(claimed.PayloadJSON, &payload); err != nil {
			return nil, errors.Join(ErrMappingToDomainEventFailed, err)
		}
		event = payload

	default:
		return nil, errors.Join(ErrMappingToDomainEventFailed, ErrUnknownEventName)
	}

	if err := event.Validate(); err != nil {
		return nil, errors.Join(ErrMappingToDomainEventFailed, err)
	}

	return event, nil
}
