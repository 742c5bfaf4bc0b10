package handlers

import (
	"log/slog"
	"sync"

	"communitychat/models"
)

// Hub maintains the set of live sessions of every connected identity.
// Each identity has its own lock; the hub-wide lock only guards the
// identity map itself and is never held while a session set is mutated.
type Hub struct {
	mu         sync.Mutex
	identities map[int64]*sessionSet

	// sendLocks serialize append+fan-out per sender so that a receiver
	// sees one identity's messages in the order they were stored, even
	// when the sender types from several tabs at once.
	sendLocks [64]sync.Mutex

	log *slog.Logger
}

type sessionSet struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	// retired is set once the set has been removed from the hub; a
	// concurrent Register that fetched it must retry with a fresh set.
	retired bool
}

// NewHub creates an empty hub
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		identities: make(map[int64]*sessionSet),
		log:        log,
	}
}

// Register adds a session and reports whether it is the identity's first
func (h *Hub) Register(c *Client) (first bool) {
	uid := c.identity.UserID
	for {
		h.mu.Lock()
		set, ok := h.identities[uid]
		if !ok {
			set = &sessionSet{clients: make(map[*Client]struct{})}
			h.identities[uid] = set
		}
		h.mu.Unlock()

		set.mu.Lock()
		if set.retired {
			set.mu.Unlock()
			continue
		}
		first = len(set.clients) == 0
		set.clients[c] = struct{}{}
		set.mu.Unlock()
		return first
	}
}

// Unregister removes a session and reports whether it was the last one
func (h *Hub) Unregister(c *Client) (last bool) {
	uid := c.identity.UserID

	h.mu.Lock()
	set, ok := h.identities[uid]
	h.mu.Unlock()
	if !ok {
		return false
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	if _, ok := set.clients[c]; !ok {
		return false
	}
	delete(set.clients, c)
	if len(set.clients) > 0 {
		return false
	}

	set.retired = true
	h.mu.Lock()
	if h.identities[uid] == set {
		delete(h.identities, uid)
	}
	h.mu.Unlock()
	return true
}

// IsUserOnline checks if a user has at least one live session
func (h *Hub) IsUserOnline(userID int64) bool {
	return h.SessionCount(userID) > 0
}

// SessionCount returns the number of live sessions of a user
func (h *Hub) SessionCount(userID int64) int {
	h.mu.Lock()
	set, ok := h.identities[userID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.clients)
}

// OnlineRole returns the role a connected user authenticated with
func (h *Hub) OnlineRole(userID int64) (models.Role, bool) {
	clients := h.snapshot(userID)
	if len(clients) == 0 {
		return "", false
	}
	return clients[0].identity.Role, true
}

// OnlineUsers returns the ids of every identity with a live session
func (h *Hub) OnlineUsers() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int64, 0, len(h.identities))
	for id := range h.identities {
		ids = append(ids, id)
	}
	return ids
}

// Push sends an encoded event to every session of userID except skip.
// Delivery is fire-and-forget: a user with no sessions receives nothing.
func (h *Hub) Push(userID int64, data []byte, skip *Client) int {
	delivered := 0
	for _, c := range h.snapshot(userID) {
		if c == skip {
			continue
		}
		if c.enqueue(data) {
			delivered++
		} else {
			h.log.Warn("dropped event for slow or closed session",
				"user_id", userID, "session", c.id)
		}
	}
	return delivered
}

// PushEvent encodes and pushes an event
func (h *Hub) PushEvent(userID int64, eventType string, payload interface{}, skip *Client) int {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.log.Error("encode event", "type", eventType, "err", err)
		return 0
	}
	return h.Push(userID, data, skip)
}

// BroadcastOnlineStatus notifies every other connected identity
func (h *Hub) BroadcastOnlineStatus(userID int64, online bool) {
	data, err := encodeEvent(models.EventOnlineStatus, models.OnlineStatus{UserID: userID, Online: online})
	if err != nil {
		return
	}
	for _, id := range h.OnlineUsers() {
		if id != userID {
			h.Push(id, data, nil)
		}
	}
}

// PushProfileUpdated tells a user's sessions their directory entry changed
func (h *Hub) PushProfileUpdated(before, after *models.User) {
	profile := after.ToProfile()
	profile.Online = h.IsUserOnline(after.ID)
	h.PushEvent(after.ID, models.EventProfileUpdated, profile, nil)
	if before != nil && before.Role != after.Role {
		h.PushEvent(after.ID, models.EventRoleChanged, models.RoleChange{
			UserID: after.ID,
			From:   before.Role,
			To:     after.Role,
		}, nil)
	}
}

// CloseAll closes every live session and returns how many there were.
// Each session's pumps then unregister it as they exit.
func (h *Hub) CloseAll() int {
	n := 0
	for _, id := range h.OnlineUsers() {
		for _, c := range h.snapshot(id) {
			c.close()
			n++
		}
	}
	return n
}

// lockSender serializes sends from one identity
func (h *Hub) lockSender(userID int64) func() {
	m := &h.sendLocks[uint64(userID)%uint64(len(h.sendLocks))]
	m.Lock()
	return m.Unlock
}

func (h *Hub) snapshot(userID int64) []*Client {
	h.mu.Lock()
	set, ok := h.identities[userID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	clients := make([]*Client, 0, len(set.clients))
	for c := range set.clients {
		clients = append(clients, c)
	}
	return clients
}
