package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/0rooe/chat/domain/event"
)

type Set map[string]struct{}

// Registry is the bidirectional user ↔ connection mapping. A connection
// belongs to at most one user; a user is online iff its connection set
// is non-empty. Presence flips are reported on the Signals channel so
// collaborators (persisted online flags, notifications) stay decoupled
// from the mutation path.
type Registry struct {
	mu         sync.RWMutex
	userConns  map[int64]Set
	connUsers  map[string]int64
	lastActive map[int64]time.Time
	signals    chan event.PresenceChanged
	log        *slog.Logger
	now        func() time.Time
}

func NewRegistry(log *slog.Logger, signalBuffer int) *Registry {
	return &Registry{
		userConns:  make(map[int64]Set),
		connUsers:  make(map[string]int64),
		lastActive: make(map[int64]time.Time),
		signals:    make(chan event.PresenceChanged, signalBuffer),
		log:        log,
		now:        time.Now,
	}
}

// Signals delivers presence flips. The channel is buffered; if nobody
// drains it the oldest flips are dropped rather than blocking writers.
func (r *Registry) Signals() <-chan event.PresenceChanged {
	return r.signals
}

// SetClock overrides the time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Register adds connectionID to the user's set. Registering the same
// connection twice is idempotent. If the connection was previously
// owned by another user, last write wins and the old mapping is
// removed first.
func (r *Registry) Register(userID int64, connectionID string) {
	r.mu.Lock()
	now := r.now()

	var previousOwner int64
	var previousOwnerOffline bool
	if owner, ok := r.connUsers[connectionID]; ok && owner != userID {
		previousOwner = owner
		previousOwnerOffline = r.detachLocked(owner, connectionID)
	}

	wasOnline := len(r.userConns[userID]) > 0
	if _, ok := r.userConns[userID]; !ok {
		r.userConns[userID] = make(Set)
	}
	r.userConns[userID][connectionID] = struct{}{}
	r.connUsers[connectionID] = userID
	r.lastActive[userID] = now
	r.mu.Unlock()

	if previousOwnerOffline {
		r.emit(event.PresenceChanged{UserID: previousOwner, Online: false, At: now})
	}
	if !wasOnline {
		r.emit(event.PresenceChanged{UserID: userID, Online: true, At: now})
	}
}

// Unregister removes the connection mapping. Unknown connections are a
// no-op, not an error.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	now := r.now()
	userID, ok := r.connUsers[connectionID]
	var wentOffline bool
	if ok {
		wentOffline = r.detachLocked(userID, connectionID)
	}
	r.mu.Unlock()

	if wentOffline {
		r.emit(event.PresenceChanged{UserID: userID, Online: false, At: now})
	}
}

// detachLocked removes one connection and reports whether the owning
// user's set became empty. Caller holds the write lock.
func (r *Registry) detachLocked(userID int64, connectionID string) bool {
	delete(r.connUsers, connectionID)
	conns, ok := r.userConns[userID]
	if !ok {
		return false
	}
	delete(conns, connectionID)
	if len(conns) > 0 {
		return false
	}
	delete(r.userConns, userID)
	delete(r.lastActive, userID)
	return true
}

// Touch refreshes the user's last-activity timestamp without touching
// membership. Heartbeats and message sends both land here. A heartbeat
// arriving after an eviction recreates the activity record, so the next
// sweep treats the user as freshly active.
func (r *Registry) Touch(userID int64) {
	r.mu.Lock()
	r.lastActive[userID] = r.now()
	r.mu.Unlock()
}

// ConnectionsFor returns a sorted snapshot of the user's live
// connections. The snapshot never blocks writers beyond the read lock.
func (r *Registry) ConnectionsFor(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns, ok := r.userConns[userID]
	if !ok {
		return nil
	}
	result := make([]string, 0, len(conns))
	for id := range conns {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID]) > 0
}

func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]int64, 0, len(r.userConns))
	for id := range r.userConns {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// EvictIdle removes every user whose last activity is strictly before
// cutoff, drops all their connections, and emits offline signals.
// Absence of traffic is the offline signal; an idle-but-alive client is
// indistinguishable from a dead one and gets evicted the same way.
func (r *Registry) EvictIdle(cutoff time.Time) []int64 {
	r.mu.Lock()
	now := r.now()
	var evicted []int64
	for userID, last := range r.lastActive {
		if !last.Before(cutoff) {
			continue
		}
		for conn := range r.userConns[userID] {
			delete(r.connUsers, conn)
		}
		delete(r.userConns, userID)
		delete(r.lastActive, userID)
		evicted = append(evicted, userID)
	}
	r.mu.Unlock()

	for _, userID := range evicted {
		r.emit(event.PresenceChanged{UserID: userID, Online: false, At: now})
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	return evicted
}

func (r *Registry) emit(sig event.PresenceChanged) {
	select {
	case r.signals <- sig:
	default:
		r.log.Debug("Presence signal dropped, channel full", "user_id", sig.UserID, "online", sig.Online)
	}
}
