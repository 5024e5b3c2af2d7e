package lobby

import (
	"context"
	"sync"

	"livequiz-service/internal/domain"
)

// Hub is the in-process Provider: a map of channels, each holding its
// subscribers and their presence announcements. Used by tests and by the
// single-instance dev mode; the redis provider replaces it when fan-out must
// cross processes.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*hubChannel
}

type hubChannel struct {
	name string

	mu      sync.RWMutex
	subs    map[*hubHandle]struct{}
	present map[*hubHandle]domain.PresenceMember
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]*hubChannel)}
}

func (h *Hub) Subscribe(_ context.Context, channel string) (Handle, error) {
	ch := h.getOrCreate(channel)
	handle := &hubHandle{channel: ch, broadcasts: make(map[string]func([]byte))}

	ch.mu.Lock()
	ch.subs[handle] = struct{}{}
	ch.mu.Unlock()
	return handle, nil
}

func (h *Hub) Broadcast(_ context.Context, channel, event string, payload []byte) error {
	h.mu.RLock()
	ch, ok := h.channels[channel]
	h.mu.RUnlock()
	if !ok {
		// Nobody subscribed; best effort means this is not an error.
		return nil
	}
	ch.fanOut(event, payload)
	return nil
}

func (h *Hub) getOrCreate(name string) *hubChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[name]; ok {
		return ch
	}
	ch := &hubChannel{
		name:    name,
		subs:    make(map[*hubHandle]struct{}),
		present: make(map[*hubHandle]domain.PresenceMember),
	}
	h.channels[name] = ch
	return ch
}

func (c *hubChannel) fanOut(event string, payload []byte) {
	c.mu.RLock()
	handles := make([]*hubHandle, 0, len(c.subs))
	for handle := range c.subs {
		handles = append(handles, handle)
	}
	c.mu.RUnlock()

	for _, handle := range handles {
		handle.deliver(event, payload)
	}
}

// presenceSnapshot de-duplicates by userId so one student on two tabs shows
// once.
func (c *hubChannel) presenceSnapshot() []domain.PresenceMember {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{}, len(c.present))
	members := make([]domain.PresenceMember, 0, len(c.present))
	for _, m := range c.present {
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		seen[m.UserID] = struct{}{}
		members = append(members, m)
	}
	return members
}

func (c *hubChannel) syncPresence() {
	snapshot := c.presenceSnapshot()

	c.mu.RLock()
	handles := make([]*hubHandle, 0, len(c.subs))
	for handle := range c.subs {
		handles = append(handles, handle)
	}
	c.mu.RUnlock()

	for _, handle := range handles {
		handle.deliverPresence(snapshot)
	}
}

func (c *hubChannel) drop(handle *hubHandle) {
	c.mu.Lock()
	_, wasPresent := c.present[handle]
	delete(c.present, handle)
	delete(c.subs, handle)
	c.mu.Unlock()
	if wasPresent {
		c.syncPresence()
	}
}

type hubHandle struct {
	channel *hubChannel

	mu         sync.Mutex
	onPresence func([]domain.PresenceMember)
	broadcasts map[string]func([]byte)
	disposed   bool
}

func (h *hubHandle) Track(_ context.Context, member domain.PresenceMember) error {
	h.channel.mu.Lock()
	h.channel.present[h] = member
	h.channel.mu.Unlock()
	h.channel.syncPresence()
	return nil
}

func (h *hubHandle) Untrack(_ context.Context) error {
	h.channel.mu.Lock()
	_, wasPresent := h.channel.present[h]
	delete(h.channel.present, h)
	h.channel.mu.Unlock()
	if wasPresent {
		h.channel.syncPresence()
	}
	return nil
}

func (h *hubHandle) OnPresenceSync(fn func([]domain.PresenceMember)) {
	h.mu.Lock()
	h.onPresence = fn
	h.mu.Unlock()
}

func (h *hubHandle) OnBroadcast(event string, fn func([]byte)) {
	h.mu.Lock()
	h.broadcasts[event] = fn
	h.mu.Unlock()
}

func (h *hubHandle) Broadcast(ctx context.Context, event string, payload []byte) error {
	h.channel.fanOut(event, payload)
	return nil
}

func (h *hubHandle) Dispose() {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return
	}
	h.disposed = true
	h.mu.Unlock()
	h.channel.drop(h)
}

func (h *hubHandle) deliver(event string, payload []byte) {
	h.mu.Lock()
	fn := h.broadcasts[event]
	h.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (h *hubHandle) deliverPresence(members []domain.PresenceMember) {
	h.mu.Lock()
	fn := h.onPresence
	h.mu.Unlock()
	if fn != nil {
		fn(members)
	}
}
