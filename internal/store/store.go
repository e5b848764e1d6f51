// Package store keeps the server's authoritative meeting collection together
// with the organizer and invitee lookup indices derived from it.
package store

import (
	"github.com/evolvlabs/viewmymeetings/internal/meeting"
)

// Store holds every meeting once in the flat collection and once per index
// slot: under its organizer and under each invitee. Store is not safe for
// concurrent use; the application service serializes access together with the
// conflict buckets and persistence.
type Store struct {
	organizer map[string][]meeting.Meeting
	invitee   map[string][]meeting.Meeting
	flat      []meeting.Meeting
}

// New returns an empty store.
func New() *Store {
	return &Store{
		organizer: make(map[string][]meeting.Meeting),
		invitee:   make(map[string][]meeting.Meeting),
	}
}

// Load populates an empty store from a persisted snapshot.
func Load(meetings []meeting.Meeting) *Store {
	s := New()
	for _, m := range meetings {
		s.Insert(m)
	}
	return s
}

// Insert adds the meeting to the organizer index, to each invitee's index,
// and to the flat collection.
func (s *Store) Insert(m meeting.Meeting) {
	m = m.Clone()
	s.organizer[m.Organizer.ID] = append(s.organizer[m.Organizer.ID], m)
	for _, invitee := range m.Invitees {
		s.invitee[invitee.ID] = append(s.invitee[invitee.ID], m)
	}
	s.flat = append(s.flat, m)
}

// FindByIdentity scans the organizer's list for the meeting matching the
// (organizer, topic, place) identity.
func (s *Store) FindByIdentity(key meeting.Key) (meeting.Meeting, bool) {
	for _, m := range s.organizer[key.OrganizerID] {
		if m.Key() == key {
			return m.Clone(), true
		}
	}
	return meeting.Meeting{}, false
}

// Replace swaps the meeting identified by key for its updated version,
// preserving its position in the organizer's list, and relinks the invitee
// indices: the meeting is removed from every former invitee's list and added
// to every new invitee's list, deduplicating by identity. It reports whether
// the key was found.
func (s *Store) Replace(key meeting.Key, updated meeting.Meeting) bool {
	list := s.organizer[key.OrganizerID]
	var previous meeting.Meeting
	found := false
	for i, m := range list {
		if m.Key() == key {
			previous = m
			list[i] = updated.Clone()
			found = true
			break
		}
	}
	if !found {
		return false
	}

	for _, invitee := range previous.Invitees {
		s.removeFromInviteeIndex(invitee.ID, previous.Key())
	}
	for _, invitee := range updated.Invitees {
		if s.inviteeIndexed(invitee.ID, updated.Key()) {
			continue
		}
		s.invitee[invitee.ID] = append(s.invitee[invitee.ID], updated.Clone())
	}

	for i, m := range s.flat {
		if m.Key() == key {
			s.flat[i] = updated.Clone()
			break
		}
	}
	return true
}

// Remove deletes the meeting matching the (organizer, topic) deletion
// identity from the organizer index, from every former invitee's index, and
// from the flat collection, pruning index entries left empty. It returns the
// removed meeting.
func (s *Store) Remove(key meeting.DeletionKey) (meeting.Meeting, bool) {
	list := s.organizer[key.OrganizerID]
	var removed meeting.Meeting
	found := false
	for i, m := range list {
		if m.DeletionKey() == key {
			removed = m
			s.organizer[key.OrganizerID] = append(list[:i], list[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return meeting.Meeting{}, false
	}
	if len(s.organizer[key.OrganizerID]) == 0 {
		delete(s.organizer, key.OrganizerID)
	}

	for _, invitee := range removed.Invitees {
		s.removeFromInviteeIndex(invitee.ID, removed.Key())
	}

	for i, m := range s.flat {
		if m.DeletionKey() == key {
			s.flat = append(s.flat[:i], s.flat[i+1:]...)
			break
		}
	}
	return removed.Clone(), true
}

func (s *Store) removeFromInviteeIndex(inviteeID string, key meeting.Key) {
	list := s.invitee[inviteeID]
	for i, m := range list {
		if m.Key() == key {
			s.invitee[inviteeID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.invitee[inviteeID]) == 0 {
		delete(s.invitee, inviteeID)
	}
}

func (s *Store) inviteeIndexed(inviteeID string, key meeting.Key) bool {
	for _, m := range s.invitee[inviteeID] {
		if m.Key() == key {
			return true
		}
	}
	return false
}

// OrganizedBy returns the meetings the employee organizes.
func (s *Store) OrganizedBy(employeeID string) []meeting.Meeting {
	return meeting.CloneAll(s.organizer[employeeID])
}

// InvitedTo returns the meetings the employee is invited to.
func (s *Store) InvitedTo(employeeID string) []meeting.Meeting {
	return meeting.CloneAll(s.invitee[employeeID])
}

// MeetingsFor returns the employee's organized meetings followed by the
// invited meetings they actually appear in, deduplicated by full value.
func (s *Store) MeetingsFor(employeeID string) []meeting.Meeting {
	out := meeting.CloneAll(s.organizer[employeeID])
	for _, m := range s.invitee[employeeID] {
		if !m.HasInvitee(employeeID) {
			continue
		}
		duplicate := false
		for _, existing := range out {
			if existing.Equal(m) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Snapshot rebuilds the flat collection from the organizer index and returns
// it. Every stored meeting appears exactly once.
func (s *Store) Snapshot() []meeting.Meeting {
	rebuilt := make([]meeting.Meeting, 0, len(s.flat))
	for _, list := range s.organizer {
		for _, m := range list {
			duplicate := false
			for _, existing := range rebuilt {
				if existing.Equal(m) {
					duplicate = true
					break
				}
			}
			if !duplicate {
				rebuilt = append(rebuilt, m.Clone())
			}
		}
	}
	s.flat = meeting.CloneAll(rebuilt)
	return rebuilt
}

// Len reports the size of the flat collection.
func (s *Store) Len() int {
	return len(s.flat)
}
