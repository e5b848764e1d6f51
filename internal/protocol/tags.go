// Package protocol implements the framed message exchange both channels
// speak: a tag naming the message kind followed by a MessagePack-packed
// string payload.
package protocol

// Tag names a message kind on the wire.
type Tag string

const (
	TagAuthRequest  Tag = "AUTH_REQUEST"
	TagAuthResponse Tag = "AUTH_RESPONSE"

	TagMeetingCreateRequest  Tag = "MEETING_CREATE_REQUEST"
	TagMeetingCreateResponse Tag = "MEETING_CREATE_RESPONSE"
	TagMeetingUpdateRequest  Tag = "MEETING_UPDATE_REQUEST"
	TagMeetingUpdateResponse Tag = "MEETING_UPDATE_RESPONSE"
	TagMeetingDeleteRequest  Tag = "MEETING_DELETE_REQUEST"
	TagMeetingDeleteResponse Tag = "MEETING_DELETE_RESPONSE"
	TagMeetingListRequest    Tag = "MEETING_LIST_REQUEST"
	TagMeetingListResponse   Tag = "MEETING_LIST_RESPONSE"

	TagConflictNotice   Tag = "CONFLICT_NOTICE"
	TagConflictResolved Tag = "CONFLICT_RESOLVED"
	TagMeetingDeleted   Tag = "MEETING_DELETED"
)

var knownTags = map[Tag]struct{}{
	TagAuthRequest:           {},
	TagAuthResponse:          {},
	TagMeetingCreateRequest:  {},
	TagMeetingCreateResponse: {},
	TagMeetingUpdateRequest:  {},
	TagMeetingUpdateResponse: {},
	TagMeetingDeleteRequest:  {},
	TagMeetingDeleteResponse: {},
	TagMeetingListRequest:    {},
	TagMeetingListResponse:   {},
	TagConflictNotice:        {},
	TagConflictResolved:      {},
	TagMeetingDeleted:        {},
}

// Known reports whether the tag names a defined message kind.
func Known(tag Tag) bool {
	_, ok := knownTags[tag]
	return ok
}
