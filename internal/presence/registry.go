// Package presence tracks which users have live connections on this process.
//
// A user is online while at least one of their connections is open. The
// Registry reports the two transition edges (first connection opened, last
// connection closed) so callers can announce them exactly once, however many
// tabs or devices a user has open.
//
// Presence is per-process knowledge: a Registry only sees connections attached
// to its own server instance.
package presence

import (
	"sort"
	"time"
)

// Registry maps user ids to their set of open connection ids.
//
// A Registry is not safe for concurrent use. It is owned by the hub's event
// loop, which serialises every call.
type Registry struct {
	users map[string]*userState
}

type userState struct {
	conns     map[string]struct{}
	firstSeen time.Time
}

// Entry is a snapshot of one online user.
type Entry struct {
	UserID      string    `json:"user_id"`
	Connections int       `json:"connections"`
	OnlineSince time.Time `json:"online_since"`
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{users: make(map[string]*userState)}
}

// Register adds connID to userID's connection set. It returns true when this
// is the user's first open connection, i.e. the user just came online.
// Registering the same connection twice is a no-op and returns false.
func (r *Registry) Register(userID, connID string) bool {
	state, ok := r.users[userID]
	if !ok {
		state = &userState{
			conns:     make(map[string]struct{}),
			firstSeen: time.Now(),
		}
		r.users[userID] = state
	}
	if _, dup := state.conns[connID]; dup {
		return false
	}
	state.conns[connID] = struct{}{}
	return len(state.conns) == 1
}

// Unregister removes connID from userID's set. It returns true when the set
// became empty, i.e. the user just went offline. Unknown users or connection
// ids are ignored and return false, so duplicate disconnect notifications are
// harmless.
func (r *Registry) Unregister(userID, connID string) bool {
	state, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := state.conns[connID]; !ok {
		return false
	}
	delete(state.conns, connID)
	if len(state.conns) > 0 {
		return false
	}
	delete(r.users, userID)
	return true
}

// IsOnline reports whether userID has at least one open connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.users[userID]
	return ok
}

// ConnectionCount returns the number of open connections for userID.
func (r *Registry) ConnectionCount(userID string) int {
	if state, ok := r.users[userID]; ok {
		return len(state.conns)
	}
	return 0
}

// OnlineUsers returns the ids of all users with an open connection, sorted.
func (r *Registry) OnlineUsers() []string {
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Roster returns a snapshot of every online user, most recently online first.
func (r *Registry) Roster() []Entry {
	entries := make([]Entry, 0, len(r.users))
	for id, state := range r.users {
		entries = append(entries, Entry{
			UserID:      id,
			Connections: len(state.conns),
			OnlineSince: state.firstSeen,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].OnlineSince.Equal(entries[j].OnlineSince) {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].OnlineSince.After(entries[j].OnlineSince)
	})
	return entries
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	return len(r.users)
}
