// Package presence classifies contacts as online or offline.
package presence

import (
	"cmp"
	"slices"
	"strings"
)

// Contact is a directory or roster entry.
type Contact struct {
	ID         string `json:"_id"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	FullName   string `json:"fullname,omitempty"`
	AvatarLink string `json:"avatarLink,omitempty"`
}

// DisplayName prefers the full name, then "first last", then "Unknown".
func (c Contact) DisplayName() string {
	if c.FullName != "" {
		return c.FullName
	}
	if n := strings.TrimSpace(c.FirstName + " " + c.LastName); n != "" {
		return n
	}
	return "Unknown"
}

// Tracker keeps the online and offline sets disjoint. The online roster
// always comes in whole; the directory is the set of every known contact.
type Tracker struct {
	self      string
	directory map[string]Contact
	online    map[string]Contact
	offline   map[string]Contact
}

// NewTracker returns an empty tracker for the given local user.
func NewTracker(self string) *Tracker {
	return &Tracker{
		self:      self,
		directory: make(map[string]Contact),
		online:    make(map[string]Contact),
		offline:   make(map[string]Contact),
	}
}

// SetSelf changes the local user and drops it from both sets.
func (t *Tracker) SetSelf(id string) {
	t.self = id
	delete(t.online, id)
	t.recompute()
}

// ApplyOnlineList replaces the online set with users, minus the local user.
func (t *Tracker) ApplyOnlineList(users []Contact) {
	t.online = make(map[string]Contact, len(users))
	for _, u := range users {
		if u.ID == "" || u.ID == t.self {
			continue
		}
		if known, ok := t.directory[u.ID]; ok {
			u = fill(u, known)
		}
		t.online[u.ID] = u
	}
	t.recompute()
}

// MergeContactList records the full directory and recomputes the offline set.
func (t *Tracker) MergeContactList(all []Contact) {
	t.directory = make(map[string]Contact, len(all))
	for _, c := range all {
		if c.ID == "" {
			continue
		}
		t.directory[c.ID] = c
	}
	for id, c := range t.online {
		if known, ok := t.directory[id]; ok {
			t.online[id] = fill(c, known)
		}
	}
	t.recompute()
}

func (t *Tracker) recompute() {
	t.offline = make(map[string]Contact, len(t.directory))
	for id, c := range t.directory {
		if id == t.self {
			continue
		}
		if _, on := t.online[id]; on {
			continue
		}
		t.offline[id] = c
	}
}

// fill copies directory fields the roster entry is missing.
func fill(c, known Contact) Contact {
	if c.FirstName == "" {
		c.FirstName = known.FirstName
	}
	if c.LastName == "" {
		c.LastName = known.LastName
	}
	if c.AvatarLink == "" {
		c.AvatarLink = known.AvatarLink
	}
	return c
}

// Online lists online contacts sorted by display name.
func (t *Tracker) Online() []Contact {
	return sorted(t.online)
}

// Offline lists offline contacts sorted by display name.
func (t *Tracker) Offline() []Contact {
	return sorted(t.offline)
}

// IsOnline reports whether id is in the online set.
func (t *Tracker) IsOnline(id string) bool {
	_, ok := t.online[id]
	return ok
}

// Lookup finds a contact in either set or the directory.
func (t *Tracker) Lookup(id string) (Contact, bool) {
	if c, ok := t.online[id]; ok {
		return c, true
	}
	if c, ok := t.offline[id]; ok {
		return c, true
	}
	c, ok := t.directory[id]
	return c, ok
}

func sorted(set map[string]Contact) []Contact {
	out := make([]Contact, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Contact) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.DisplayName()), strings.ToLower(b.DisplayName())),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}
