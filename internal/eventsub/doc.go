// Package eventsub implements the EventSub websocket transport and the
// per-subscription-type registrars that bind a session to the event types
// the service consumes.
package eventsub
