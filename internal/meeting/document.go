package meeting

import (
	"encoding/json"
	"fmt"
	"time"
)

// The wire and snapshot representation of a meeting. Instants are epoch
// milliseconds. Field names are part of the protocol contract and of the
// snapshot file format, so they never change with the Go structs.
type meetingDocument struct {
	Topic     *string       `json:"meetingTopic"`
	Organizer *organizerDoc `json:"meetingOrganizer"`
	Place     *string       `json:"meetingPlace"`
	Invitees  []inviteeDoc  `json:"meetingInviteeList"`
	StartTime *int64        `json:"meetingStartTime"`
	EndTime   *int64        `json:"meetingEndTime"`
}

type organizerDoc struct {
	ID       string `json:"meetingOrganizerID"`
	FullName string `json:"meetingOrganizerName"`
}

type inviteeDoc struct {
	ID       string `json:"meetingInviteeID"`
	FullName string `json:"meetingInviteeName"`
}

func toDocument(m Meeting) meetingDocument {
	invitees := make([]inviteeDoc, 0, len(m.Invitees))
	for _, invitee := range m.Invitees {
		invitees = append(invitees, inviteeDoc{ID: invitee.ID, FullName: invitee.FullName})
	}
	topic := m.Topic
	place := m.Place
	start := m.Start.UnixMilli()
	end := m.End.UnixMilli()
	return meetingDocument{
		Topic:     &topic,
		Organizer: &organizerDoc{ID: m.Organizer.ID, FullName: m.Organizer.FullName},
		Place:     &place,
		Invitees:  invitees,
		StartTime: &start,
		EndTime:   &end,
	}
}

func (d meetingDocument) toMeeting() (Meeting, error) {
	switch {
	case d.Topic == nil:
		return Meeting{}, fmt.Errorf("meeting document missing meetingTopic")
	case d.Organizer == nil:
		return Meeting{}, fmt.Errorf("meeting document missing meetingOrganizer")
	case d.Place == nil:
		return Meeting{}, fmt.Errorf("meeting document missing meetingPlace")
	case d.StartTime == nil:
		return Meeting{}, fmt.Errorf("meeting document missing meetingStartTime")
	case d.EndTime == nil:
		return Meeting{}, fmt.Errorf("meeting document missing meetingEndTime")
	}

	invitees := make([]Employee, 0, len(d.Invitees))
	for _, invitee := range d.Invitees {
		invitees = append(invitees, Employee{ID: invitee.ID, FullName: invitee.FullName})
	}
	return Meeting{
		Topic:     *d.Topic,
		Organizer: Employee{ID: d.Organizer.ID, FullName: d.Organizer.FullName},
		Invitees:  invitees,
		Place:     *d.Place,
		Start:     time.UnixMilli(*d.StartTime).UTC(),
		End:       time.UnixMilli(*d.EndTime).UTC(),
	}, nil
}

// Encode serializes a single meeting to its canonical JSON document.
func Encode(m Meeting) (string, error) {
	raw, err := json.Marshal(toDocument(m))
	if err != nil {
		return "", fmt.Errorf("encode meeting: %w", err)
	}
	return string(raw), nil
}

// Decode parses a single meeting document, rejecting documents with missing
// required fields.
func Decode(doc string) (Meeting, error) {
	var d meetingDocument
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return Meeting{}, fmt.Errorf("decode meeting: %w", err)
	}
	return d.toMeeting()
}

// EncodeList serializes meetings as a JSON array. An empty input yields "[]"
// so that list responses and snapshot files are always valid documents.
func EncodeList(meetings []Meeting) (string, error) {
	docs := make([]meetingDocument, 0, len(meetings))
	for _, m := range meetings {
		docs = append(docs, toDocument(m))
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("encode meeting list: %w", err)
	}
	return string(raw), nil
}

// DecodeList parses a JSON array of meeting documents.
func DecodeList(doc string) ([]Meeting, error) {
	var docs []meetingDocument
	if err := json.Unmarshal([]byte(doc), &docs); err != nil {
		return nil, fmt.Errorf("decode meeting list: %w", err)
	}
	meetings := make([]Meeting, 0, len(docs))
	for _, d := range docs {
		m, err := d.toMeeting()
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, nil
}
