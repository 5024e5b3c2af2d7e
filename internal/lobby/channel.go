// Package lobby defines the per-session presence channel primitive: ephemeral
// presence tracking plus best-effort broadcast, scoped by channel name.
package lobby

import (
	"context"

	"livequiz-service/internal/domain"
)

// EventQuizStarted is the one-shot broadcast a host emits when manually
// starting a session. For sessions without a schedule it is the only way
// students ever leave the lobby.
const EventQuizStarted = "quiz-started"

// ChannelName derives the deterministic channel name for a session.
func ChannelName(sessionID string) string {
	return "live-quiz-session-" + sessionID
}

// Provider opens channels and publishes without subscribing (host side).
type Provider interface {
	// Subscribe opens a handle on the named channel. The handle is ready to
	// track presence once Subscribe returns.
	Subscribe(ctx context.Context, channel string) (Handle, error)
	// Broadcast publishes an event to current subscribers of the channel.
	// Best effort: no delivery guarantee, no acknowledgement.
	Broadcast(ctx context.Context, channel, event string, payload []byte) error
}

// Handle is one client's subscription to a channel. Presence is ephemeral
// and connection-scoped: Dispose (or Untrack) removes this client from the
// presence set, and every exit path must run it to avoid ghost participants.
type Handle interface {
	// Track announces this client's presence payload to the channel.
	Track(ctx context.Context, member domain.PresenceMember) error
	// Untrack revokes the presence announcement.
	Untrack(ctx context.Context) error
	// OnPresenceSync registers a callback receiving the full, de-duplicated
	// presence set whenever membership changes. Must be registered before
	// Track to observe the client's own arrival.
	OnPresenceSync(fn func(members []domain.PresenceMember))
	// OnBroadcast registers a callback for a named broadcast event.
	OnBroadcast(event string, fn func(payload []byte))
	// Broadcast publishes to the channel this handle is subscribed to.
	Broadcast(ctx context.Context, event string, payload []byte) error
	// Dispose untracks and releases the subscription. Idempotent.
	Dispose()
}
