/*
Package events provides the in-memory event broker behind the live
activity stream.

The events package implements a lightweight bus for broadcasting dispatch
state changes to interested subscribers. The API layer's websocket
endpoint is the main consumer; each connected dashboard session holds one
subscription and relays events to the browser.

# Architecture

Publish is non-blocking and delivery is best effort:

	Publisher ──► event channel (buffer 100)
	                    │
	              broadcast loop
	                    │
	      ┌─────────────┼─────────────┐
	      ▼             ▼             ▼
	 subscriber    subscriber    subscriber
	 (buffer 50)   (buffer 50)   (buffer 50)

A subscriber that stops draining loses events rather than stalling the
broadcast loop; the next snapshot reconciles its view. Events are
advisory by design: they are published after the storage commit, and
nothing in the dispatch path depends on their delivery.

# Event Types

Challenge lifecycle: challenge.queued, challenge.assigned,
challenge.completed, challenge.failed, challenge.expired,
challenge.enabled, challenge.disabled, challenge.triggered.

Runner lifecycle: runner.enrolled, runner.online, runner.offline,
runner.signed_out.

System: system.paused, system.resumed, config.reloaded, and the
per-connection snapshot event carrying aggregate state.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:        events.EventChallengeAssigned,
		ChallengeID: ch.ID,
		RunnerID:    runner.ID,
	})

	for event := range sub {
		// relay to the websocket client
	}

Publish fills in the event ID and timestamp when the caller leaves them
zero.

# See Also

  - pkg/api for the websocket endpoint that exposes the stream
  - pkg/dispatch and pkg/monitor for the publishers
*/
package events
