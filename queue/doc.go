// Package queue provides the core types of a transactional job queue that lives
// inside a relational store next to the domain tables it coordinates.
//
// Events are appended in the same transaction as the state change that causes
// them (outbox semantics). Consumers claim pending events with an expiring lease,
// and acknowledge them once the effect of processing is committed. Events whose
// lease expired without an acknowledgement become claimable again, which gives
// at-least-once delivery. Consumers are expected to make their side effects
// idempotent, so redelivery never produces duplicate state.
//
// Key types:
//   - Event: a named payload to append
//   - ClaimedEvent: an event handed to exactly one claimant under a lease
//
// Common usage pattern:
//
//	claimed, err := q.Claim(ctx, "SceneCreated", 1, 5*time.Minute, workerID)
//	if err != nil {
//		// errors.Is(err, queue.ErrQueueUnavailable)
//	}
//
//	for _, ev := range claimed {
//		err = q.Transact(ctx, func(ctx context.Context, tx *postgresengine.Tx) error {
//			// mutate domain rows ...
//			if _, err := tx.Append(ctx, next); err != nil {
//				return err
//			}
//			return tx.Ack(ctx, ev.ID, workerID)
//		})
//	}
package queue
