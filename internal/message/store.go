package message

import (
	"fmt"
	"time"
)

// MatchWindow bounds the createdAt distance between an optimistic entry and
// the echo that confirms it when no temp id is echoed back.
const MatchWindow = time.Second

// Outcome tells what Reconcile did with an incoming record.
type Outcome int

const (
	// Confirmed replaced an optimistic entry in place.
	Confirmed Outcome = iota
	// Merged filled in an entry that already carried the server id.
	Merged
	// Appended added a new entry.
	Appended
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Merged:
		return "merged"
	case Appended:
		return "appended"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// StatusUpdate is a server-side status change for one message.
type StatusUpdate struct {
	ID        string
	TempID    string
	Status    Status
	CreatedAt time.Time
	// Sender and Recipient seed a placeholder when the message is unknown.
	Sender    string
	Recipient string
}

// Store is the ordered, de-duplicated message collection. It is not safe for
// concurrent use; a single owner goroutine drives it.
type Store struct {
	msgs []Message
	now  func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// InsertOptimistic appends a locally created message in sending status.
func (s *Store) InsertOptimistic(text, sender, recipient string) Message {
	now := s.now()
	m := Message{
		ID:         NewTempID(now),
		Text:       text,
		Sender:     sender,
		Recipient:  recipient,
		CreatedAt:  now,
		Status:     StatusSending,
		Optimistic: true,
	}
	s.msgs = append(s.msgs, m)
	return m
}

// Reconcile folds a server record into the store. tempID, when the server
// echoes it, selects the optimistic entry directly; otherwise an unresolved
// optimistic entry from the same sender with equal text inside MatchWindow is
// taken as the match.
func (s *Store) Reconcile(in Message, tempID string) (Message, Outcome) {
	in.Optimistic = false

	idx := -1
	if tempID != "" {
		if i := s.index(tempID); i >= 0 && s.msgs[i].Optimistic {
			idx = i
		}
	}
	if idx < 0 {
		idx = s.matchOptimistic(in)
	}

	if idx >= 0 {
		opt := s.msgs[idx]
		if opt.Recipient != "" {
			in.Recipient = opt.Recipient
		}
		if in.Sender == "" {
			in.Sender = opt.Sender
		}
		in.Status = advance(StatusDelivered, in.Status)
		if dup := s.index(in.ID); dup >= 0 && dup != idx {
			in.Status = advance(in.Status, s.msgs[dup].Status)
			s.removeAt(dup)
			if dup < idx {
				idx--
			}
		}
		s.msgs[idx] = in
		return in, Confirmed
	}

	if i := s.index(in.ID); i >= 0 {
		cur := absorb(s.msgs[i], in)
		s.msgs[i] = cur
		return cur, Merged
	}

	if in.Status == "" {
		in.Status = StatusDelivered
	}
	s.msgs = append(s.msgs, in)
	return in, Appended
}

// absorb folds a server record into the entry already held under its id.
// The status only moves forward.
func absorb(cur, in Message) Message {
	if cur.Text == "" {
		cur.Text = in.Text
	}
	if in.Sender != "" {
		cur.Sender = in.Sender
	}
	if in.Recipient != "" {
		cur.Recipient = in.Recipient
	}
	if !in.CreatedAt.IsZero() {
		cur.CreatedAt = in.CreatedAt
	}
	cur.Status = advance(cur.Status, in.Status)
	cur.Optimistic = false
	return cur
}

func (s *Store) matchOptimistic(in Message) int {
	for i, m := range s.msgs {
		if !m.Optimistic || m.Text != in.Text {
			continue
		}
		if in.Sender != "" && m.Sender != in.Sender {
			continue
		}
		d := m.CreatedAt.Sub(in.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d < MatchWindow {
			return i
		}
	}
	return -1
}

// ApplyStatus moves a message forward to u.Status, looking it up by temp id
// first and server id second. Statuses never move backwards. An update for an
// unknown id creates an empty placeholder so the status survives until the
// message itself arrives; an update without any id is dropped.
func (s *Store) ApplyStatus(u StatusUpdate) (Message, bool) {
	if u.TempID != "" {
		if i := s.index(u.TempID); i >= 0 {
			m := s.msgs[i]
			if u.ID != "" && u.ID != m.ID {
				if j := s.index(u.ID); j >= 0 {
					s.msgs[j].Status = advance(advance(s.msgs[j].Status, m.Status), u.Status)
					merged := s.msgs[j]
					s.removeAt(i)
					return merged, true
				}
				m.ID = u.ID
				m.Optimistic = false
				if !u.CreatedAt.IsZero() {
					m.CreatedAt = u.CreatedAt
				}
			}
			m.Status = advance(m.Status, u.Status)
			s.msgs[i] = m
			return m, true
		}
	}

	if u.ID == "" {
		return Message{}, false
	}
	if i := s.index(u.ID); i >= 0 {
		s.msgs[i].Status = advance(s.msgs[i].Status, u.Status)
		return s.msgs[i], true
	}

	created := u.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	placeholder := Message{
		ID:        u.ID,
		Sender:    u.Sender,
		Recipient: u.Recipient,
		CreatedAt: created,
		Status:    u.Status,
	}
	s.msgs = append(s.msgs, placeholder)
	return placeholder, true
}

// SetStatus overwrites the status of the message with the given id.
func (s *Store) SetStatus(id string, st Status) (Message, bool) {
	i := s.index(id)
	if i < 0 {
		return Message{}, false
	}
	s.msgs[i].Status = st
	return s.msgs[i], true
}

// MergeHistoryPage merges a fetched page. With prepend the page goes before
// the current entries. An id already held absorbs the page record instead of
// being duplicated, and a status placeholder moves to its page position.
// Without prepend the page replaces everything except entries still in
// sending status.
func (s *Store) MergeHistoryPage(page []Message, prepend bool) {
	seen := make(map[string]struct{}, len(s.msgs)+len(page))
	if prepend {
		for _, m := range s.msgs {
			seen[m.ID] = struct{}{}
		}
	}

	fresh := make([]Message, 0, len(page))
	for _, m := range page {
		m.Optimistic = false
		if _, dup := seen[m.ID]; dup {
			if prepend {
				if placed, ok := s.absorbHeld(m); ok {
					fresh = append(fresh, placed)
				}
			}
			continue
		}
		seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}

	if prepend {
		s.msgs = append(fresh, s.msgs...)
		return
	}

	for _, m := range s.msgs {
		if m.Status != StatusSending {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		fresh = append(fresh, m)
	}
	s.msgs = fresh
}

// absorbHeld folds a page record into the held entry with the same id. A
// placeholder, which has no text of its own, is taken out of the store and
// returned so the caller can place it where the page puts it; any other
// entry is updated in place.
func (s *Store) absorbHeld(in Message) (Message, bool) {
	i := s.index(in.ID)
	if i < 0 {
		return Message{}, false
	}
	cur := s.msgs[i]
	if cur.Text != "" || cur.IsTemp() {
		s.msgs[i] = absorb(cur, in)
		return Message{}, false
	}
	cur = absorb(cur, in)
	s.removeAt(i)
	return cur, true
}

// Remove deletes the message with the given id.
func (s *Store) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.removeAt(i)
	return true
}

// RemoveConversation deletes every message exchanged between a and b and
// returns how many were removed.
func (s *Store) RemoveConversation(a, b string) int {
	kept := s.msgs[:0]
	removed := 0
	for _, m := range s.msgs {
		if m.Between(a, b) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	clear(s.msgs[len(kept):])
	s.msgs = kept
	return removed
}

// Clear drops every message.
func (s *Store) Clear() {
	s.msgs = nil
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (Message, bool) {
	i := s.index(id)
	if i < 0 {
		return Message{}, false
	}
	return s.msgs[i], true
}

// View returns a copy of the conversation between a and b in store order.
func (s *Store) View(a, b string) []Message {
	var out []Message
	for _, m := range s.msgs {
		if m.Between(a, b) {
			out = append(out, m)
		}
	}
	return out
}

// Oldest returns the earliest createdAt among confirmed messages between a
// and b.
func (s *Store) Oldest(a, b string) (time.Time, bool) {
	var (
		oldest time.Time
		found  bool
	)
	for _, m := range s.msgs {
		if !m.Between(a, b) || m.IsTemp() || m.CreatedAt.IsZero() {
			continue
		}
		if !found || m.CreatedAt.Before(oldest) {
			oldest = m.CreatedAt
			found = true
		}
	}
	return oldest, found
}

// All returns a copy of every message in store order.
func (s *Store) All() []Message {
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	return len(s.msgs)
}

func (s *Store) index(id string) int {
	if id == "" {
		return -1
	}
	for i, m := range s.msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeAt(i int) {
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
}
