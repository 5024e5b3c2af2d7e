package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/lobby"
)

// eventPresenceSync is the internal envelope event that tells subscribers to
// re-read the presence hash. Never exposed through OnBroadcast.
const eventPresenceSync = "__presence-sync"

// ChannelProvider is the redis-backed lobby.Provider: broadcasts ride redis
// pub/sub, presence lives in a per-channel hash keyed by userId so the set
// de-duplicates across connections and survives instance restarts up to the
// TTL. Presence writes are optimistic; they are not authoritative membership.
type ChannelProvider struct {
	client *redis.Client
	ttl    time.Duration
}

func NewChannelProvider(client *redis.Client, ttl time.Duration) *ChannelProvider {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ChannelProvider{client: client, ttl: ttl}
}

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func topicKey(channel string) string { return "lobby:" + channel }
func presenceKey(channel string) string { return "lobby:" + channel + ":presence" }

// Broadcast publishes without subscribing; the host-side path.
func (p *ChannelProvider) Broadcast(ctx context.Context, channel, event string, payload []byte) error {
	return p.publish(ctx, channel, event, payload)
}

func (p *ChannelProvider) publish(ctx context.Context, channel, event string, payload []byte) error {
	msg, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, topicKey(channel), msg).Err()
}

// Subscribe opens a handle and starts the receive loop. The returned handle
// is ready once go-redis confirms the subscription.
func (p *ChannelProvider) Subscribe(ctx context.Context, channel string) (lobby.Handle, error) {
	pubsub := p.client.Subscribe(ctx, topicKey(channel))
	// Wait for the subscription to be confirmed so Track cannot outrun it.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	h := &channelHandle{
		provider:   p,
		channel:    channel,
		pubsub:     pubsub,
		broadcasts: make(map[string]func([]byte)),
		done:       make(chan struct{}),
	}
	go h.receiveLoop()
	return h, nil
}

func (p *ChannelProvider) presenceSnapshot(ctx context.Context, channel string) ([]domain.PresenceMember, error) {
	fields, err := p.client.HGetAll(ctx, presenceKey(channel)).Result()
	if err != nil {
		return nil, err
	}
	members := make([]domain.PresenceMember, 0, len(fields))
	for _, raw := range fields {
		var m domain.PresenceMember
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

type channelHandle struct {
	provider *ChannelProvider
	channel  string
	pubsub   *redis.PubSub

	mu         sync.Mutex
	onPresence func([]domain.PresenceMember)
	broadcasts map[string]func([]byte)
	trackedAs  string
	disposed   bool

	done chan struct{}
}

func (h *channelHandle) Track(ctx context.Context, member domain.PresenceMember) error {
	raw, err := json.Marshal(member)
	if err != nil {
		return err
	}
	key := presenceKey(h.channel)
	pipe := h.provider.client.Pipeline()
	pipe.HSet(ctx, key, member.UserID, raw)
	pipe.Expire(ctx, key, h.provider.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.trackedAs = member.UserID
	h.mu.Unlock()

	return h.provider.publish(ctx, h.channel, eventPresenceSync, nil)
}

func (h *channelHandle) Untrack(ctx context.Context) error {
	h.mu.Lock()
	userID := h.trackedAs
	h.trackedAs = ""
	h.mu.Unlock()
	if userID == "" {
		return nil
	}
	if err := h.provider.client.HDel(ctx, presenceKey(h.channel), userID).Err(); err != nil {
		return err
	}
	return h.provider.publish(ctx, h.channel, eventPresenceSync, nil)
}

func (h *channelHandle) OnPresenceSync(fn func([]domain.PresenceMember)) {
	h.mu.Lock()
	h.onPresence = fn
	h.mu.Unlock()
}

func (h *channelHandle) OnBroadcast(event string, fn func([]byte)) {
	h.mu.Lock()
	h.broadcasts[event] = fn
	h.mu.Unlock()
}

func (h *channelHandle) Broadcast(ctx context.Context, event string, payload []byte) error {
	return h.provider.publish(ctx, h.channel, event, payload)
}

func (h *channelHandle) Dispose() {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return
	}
	h.disposed = true
	h.mu.Unlock()

	// Best-effort presence cleanup before the subscription drops.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Untrack(ctx); err != nil {
		log.Printf("lobby: redis untrack on dispose: %v", err)
	}
	_ = h.pubsub.Close()
	<-h.done
}

func (h *channelHandle) receiveLoop() {
	defer close(h.done)
	ch := h.pubsub.Channel()
	for msg := range ch {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("lobby: bad envelope on %s: %v", h.channel, err)
			continue
		}
		if env.Event == eventPresenceSync {
			h.firePresenceSync()
			continue
		}
		h.mu.Lock()
		fn := h.broadcasts[env.Event]
		h.mu.Unlock()
		if fn != nil {
			fn(env.Payload)
		}
	}
}

func (h *channelHandle) firePresenceSync() {
	h.mu.Lock()
	fn := h.onPresence
	h.mu.Unlock()
	if fn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	members, err := h.provider.presenceSnapshot(ctx, h.channel)
	if err != nil {
		log.Printf("lobby: presence snapshot for %s: %v", h.channel, err)
		return
	}
	fn(members)
}
