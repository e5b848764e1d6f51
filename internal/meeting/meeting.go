// Package meeting holds the domain model shared by the server and the client:
// employees, meetings, the identity keys used to match meetings across
// operations, and the canonical JSON document representation used both on the
// wire and in snapshot files.
package meeting

import "time"

// Employee identifies a participant. The ID is the stable identity; the full
// name travels alongside it for display purposes only.
type Employee struct {
	ID       string
	FullName string
}

// Meeting is the authoritative record for a scheduled meeting. The organizer
// is never a member of Invitees.
type Meeting struct {
	Topic     string
	Organizer Employee
	Invitees  []Employee
	Place     string
	Start     time.Time
	End       time.Time
}

// Key is the identity tuple used to match a meeting on update and listing
// reconciliation.
type Key struct {
	OrganizerID string
	Topic       string
	Place       string
}

// DeletionKey is the narrower tuple used to match a meeting on deletion and
// on resolution/deletion pushes. It deliberately omits the place.
type DeletionKey struct {
	OrganizerID string
	Topic       string
}

// Key returns the meeting's update identity.
func (m Meeting) Key() Key {
	return Key{OrganizerID: m.Organizer.ID, Topic: m.Topic, Place: m.Place}
}

// DeletionKey returns the meeting's deletion identity.
func (m Meeting) DeletionKey() DeletionKey {
	return DeletionKey{OrganizerID: m.Organizer.ID, Topic: m.Topic}
}

// SameIdentity reports whether two meetings match by (organizer, topic, place).
func SameIdentity(a, b Meeting) bool {
	return a.Key() == b.Key()
}

// SameDeletionIdentity reports whether two meetings match by (organizer, topic).
func SameDeletionIdentity(a, b Meeting) bool {
	return a.DeletionKey() == b.DeletionKey()
}

// Equal reports full value equality: identity, invitee list in order, and
// start/end instants to millisecond precision.
func (m Meeting) Equal(other Meeting) bool {
	if m.Topic != other.Topic || m.Organizer != other.Organizer || m.Place != other.Place {
		return false
	}
	if m.Start.UnixMilli() != other.Start.UnixMilli() || m.End.UnixMilli() != other.End.UnixMilli() {
		return false
	}
	if len(m.Invitees) != len(other.Invitees) {
		return false
	}
	for i := range m.Invitees {
		if m.Invitees[i] != other.Invitees[i] {
			return false
		}
	}
	return true
}

// Duration returns the meeting length.
func (m Meeting) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

// Participants returns the organizer followed by every invitee.
func (m Meeting) Participants() []Employee {
	out := make([]Employee, 0, len(m.Invitees)+1)
	out = append(out, m.Organizer)
	out = append(out, m.Invitees...)
	return out
}

// ParticipantIDs returns the organizer ID followed by every invitee ID.
func (m Meeting) ParticipantIDs() []string {
	out := make([]string, 0, len(m.Invitees)+1)
	out = append(out, m.Organizer.ID)
	for _, invitee := range m.Invitees {
		out = append(out, invitee.ID)
	}
	return out
}

// HasInvitee reports whether the employee appears in the invitee list.
func (m Meeting) HasInvitee(employeeID string) bool {
	for _, invitee := range m.Invitees {
		if invitee.ID == employeeID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy; the invitee slice is never shared.
func (m Meeting) Clone() Meeting {
	out := m
	out.Invitees = append([]Employee(nil), m.Invitees...)
	return out
}

// CloneAll deep-copies a slice of meetings.
func CloneAll(meetings []Meeting) []Meeting {
	if len(meetings) == 0 {
		return nil
	}
	out := make([]Meeting, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, m.Clone())
	}
	return out
}
