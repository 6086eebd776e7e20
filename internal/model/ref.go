package model

import (
	"strconv"

	"github.com/google/uuid"
)

// RecordRef identifies a record inside an edit session. A record is either
// persisted, with a database id, or pending, with a temporary id that is only
// meaningful until the session commits.
type RecordRef struct {
	id   int64
	temp string
}

// Persisted references a stored record.
func Persisted(id int64) RecordRef {
	return RecordRef{id: id}
}

// Pending references a record that has not been stored yet.
func Pending(tempID string) RecordRef {
	return RecordRef{temp: tempID}
}

// NewPending returns a pending reference with a fresh temporary id.
func NewPending() RecordRef {
	return Pending(uuid.NewString())
}

// IsPending reports whether the record has not been stored yet.
func (r RecordRef) IsPending() bool {
	return r.temp != ""
}

// ID returns the database id and whether the reference is persisted.
func (r RecordRef) ID() (int64, bool) {
	return r.id, r.temp == ""
}

// TempID returns the temporary id of a pending reference.
func (r RecordRef) TempID() string {
	return r.temp
}

func (r RecordRef) String() string {
	if r.IsPending() {
		return "pending:" + r.temp
	}
	return strconv.FormatInt(r.id, 10)
}
