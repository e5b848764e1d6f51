// Package conflict implements the overlap predicate and the per-employee
// conflict buckets that record which meeting caused a clash and which stored
// meetings it affects.
package conflict

import (
	"sort"

	"github.com/evolvlabs/viewmymeetings/internal/meeting"
)

// Overlaps reports whether other clashes with this. The predicate is kept
// exactly as the service has always computed it: it is not symmetric in its
// arguments and it does not cover the geometry where other starts before this
// and ends inside it. Callers pass the stored meeting first and the candidate
// second.
func Overlaps(this, other meeting.Meeting) bool {
	dStart := other.Start.UnixMilli() - this.Start.UnixMilli()
	dEnd := other.End.UnixMilli() - this.End.UnixMilli()
	dur := this.End.UnixMilli() - this.Start.UnixMilli()

	identical := dStart == 0 && dEnd == 0
	otherStartsInside := dStart > 0 && dStart < dur
	otherNestedOrTrailing := dStart > 0 && dEnd < 0

	return identical || otherStartsInside || otherNestedOrTrailing
}

// Entry groups the affected meetings recorded under one causing meeting in an
// owner's bucket. Affected meetings keep their insertion order.
type Entry struct {
	Causing  meeting.Meeting
	Affected []meeting.Meeting
}

// Clone deep-copies the entry.
func (e Entry) Clone() Entry {
	return Entry{
		Causing:  e.Causing.Clone(),
		Affected: meeting.CloneAll(e.Affected),
	}
}

// Buckets maps employee IDs to their conflict entries, keyed by the causing
// meeting's identity. Buckets is not safe for concurrent use; the owning
// service serializes access.
type Buckets struct {
	byOwner map[string]map[meeting.Key]*Entry
}

// NewBuckets returns an empty bucket structure.
func NewBuckets() *Buckets {
	return &Buckets{byOwner: make(map[string]map[meeting.Key]*Entry)}
}

// Add records that causing clashes with affected in the owner's bucket. A
// causing/affected pair appears at most once per owner; duplicates are
// compared by full value equality.
func (b *Buckets) Add(ownerID string, causing, affected meeting.Meeting) {
	owner, ok := b.byOwner[ownerID]
	if !ok {
		owner = make(map[meeting.Key]*Entry)
		b.byOwner[ownerID] = owner
	}

	entry, ok := owner[causing.Key()]
	if !ok {
		entry = &Entry{Causing: causing.Clone()}
		owner[causing.Key()] = entry
	}
	for _, existing := range entry.Affected {
		if existing.Equal(affected) {
			return
		}
	}
	entry.Affected = append(entry.Affected, affected.Clone())
}

// ForOwner returns the owner's non-empty entries ordered by causing-meeting
// identity so catch-up replay is deterministic.
func (b *Buckets) ForOwner(ownerID string) []Entry {
	owner, ok := b.byOwner[ownerID]
	if !ok {
		return nil
	}

	keys := make([]meeting.Key, 0, len(owner))
	for key, entry := range owner {
		if len(entry.Affected) == 0 {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.OrganizerID != b.OrganizerID {
			return a.OrganizerID < b.OrganizerID
		}
		if a.Topic != b.Topic {
			return a.Topic < b.Topic
		}
		return a.Place < b.Place
	})

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, owner[key].Clone())
	}
	return entries
}

// Entry returns the owner's entry for the causing meeting, if any.
func (b *Buckets) Entry(ownerID string, causing meeting.Key) (Entry, bool) {
	owner, ok := b.byOwner[ownerID]
	if !ok {
		return Entry{}, false
	}
	entry, ok := owner[causing]
	if !ok || len(entry.Affected) == 0 {
		return Entry{}, false
	}
	return entry.Clone(), true
}

// ClearMeeting removes every entry, in every owner's bucket, where m appears
// as the causing meeting or inside an affected list. Matching uses the
// (organizer, topic, place) identity. Emptied entries and emptied owners are
// pruned.
func (b *Buckets) ClearMeeting(m meeting.Meeting) {
	key := m.Key()
	for ownerID, owner := range b.byOwner {
		delete(owner, key)

		for causingKey, entry := range owner {
			kept := entry.Affected[:0]
			for _, affected := range entry.Affected {
				if affected.Key() == key {
					continue
				}
				kept = append(kept, affected)
			}
			entry.Affected = kept
			if len(entry.Affected) == 0 {
				delete(owner, causingKey)
			}
		}

		if len(owner) == 0 {
			delete(b.byOwner, ownerID)
		}
	}
}

// HasConflicts reports whether the owner currently has any non-empty entry.
func (b *Buckets) HasConflicts(ownerID string) bool {
	return len(b.ForOwner(ownerID)) > 0
}

// Owners returns the IDs of every employee with at least one non-empty entry.
func (b *Buckets) Owners() []string {
	owners := make([]string, 0, len(b.byOwner))
	for ownerID := range b.byOwner {
		if b.HasConflicts(ownerID) {
			owners = append(owners, ownerID)
		}
	}
	sort.Strings(owners)
	return owners
}

// MeetingSource exposes the per-employee meeting lists the detector tests a
// candidate against.
type MeetingSource interface {
	OrganizedBy(employeeID string) []meeting.Meeting
	InvitedTo(employeeID string) []meeting.Meeting
}

// DetectForCandidate tests the candidate against the organized and invited
// meetings of its organizer and of every invitee, excluding the candidate
// itself, recording a bucket entry per positive test with the candidate as the
// causing meeting. It reports whether any conflict was recorded.
func DetectForCandidate(src MeetingSource, b *Buckets, candidate meeting.Meeting) bool {
	found := false
	for _, employeeID := range candidate.ParticipantIDs() {
		for _, existing := range src.OrganizedBy(employeeID) {
			if existing.Equal(candidate) {
				continue
			}
			if Overlaps(existing, candidate) {
				b.Add(employeeID, candidate, existing)
				found = true
			}
		}
		for _, existing := range src.InvitedTo(employeeID) {
			if existing.Equal(candidate) {
				continue
			}
			if Overlaps(existing, candidate) {
				b.Add(employeeID, candidate, existing)
				found = true
			}
		}
	}
	return found
}

// DetectAll runs the pairwise sweep used when loading persisted state: for
// every ordered pair of distinct meetings where the second overlaps the first,
// a conflict is recorded for the causing meeting's organizer and invitees.
func DetectAll(meetings []meeting.Meeting, b *Buckets) {
	for i, causing := range meetings {
		for j, other := range meetings {
			if i == j {
				continue
			}
			if !Overlaps(other, causing) {
				continue
			}
			for _, employeeID := range causing.ParticipantIDs() {
				b.Add(employeeID, causing, other)
			}
		}
	}
}
