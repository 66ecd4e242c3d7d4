package models

// RelationField names one of the relationship sets embedded in a user document.
type RelationField string

const (
	FieldMyFriends      RelationField = "myFriends"
	FieldFriendRequests RelationField = "friendRequests"
	FieldSentRequests   RelationField = "sentRequests"
)

// RelationFields lists every relationship field.
var RelationFields = []RelationField{FieldMyFriends, FieldFriendRequests, FieldSentRequests}

// Valid reports whether f is one of the known relationship fields.
func (f RelationField) Valid() bool {
	switch f {
	case FieldMyFriends, FieldFriendRequests, FieldSentRequests:
		return true
	}
	return false
}

// Mirror returns the field that holds the other side of an edge stored in f.
func (f RelationField) Mirror() RelationField {
	switch f {
	case FieldFriendRequests:
		return FieldSentRequests
	case FieldSentRequests:
		return FieldFriendRequests
	}
	return f
}

// FriendStatus describes the relationship between two users as seen from the first.
type FriendStatus string

const (
	StatusFriends         FriendStatus = "friends"
	StatusRequestSent     FriendStatus = "request_sent"
	StatusRequestReceived FriendStatus = "request_received"
	StatusNone            FriendStatus = "none"
)
