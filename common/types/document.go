package types

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DocumentIDSize in bytes.
const DocumentIDSize = 16

// DocumentID is a UUID of a replicated document.
type DocumentID [DocumentIDSize]byte

// EmptyDocumentID is the zero document id.
var EmptyDocumentID = DocumentID{}

// RandomDocumentID generates a new random (v4) document id.
func RandomDocumentID() DocumentID {
	return DocumentID(uuid.New())
}

// ParseDocumentID parses canonical UUID text form.
func ParseDocumentID(s string) (DocumentID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return EmptyDocumentID, fmt.Errorf("parse document id %q: %w", s, err)
	}
	return DocumentID(id), nil
}

// String returns canonical UUID form.
func (id DocumentID) String() string {
	return uuid.UUID(id).String()
}

// Empty is true for the zero id.
func (id DocumentID) Empty() bool {
	return id == EmptyDocumentID
}

// Field returns a zap field for the id.
func (id DocumentID) Field() zap.Field {
	return zap.Stringer("document_id", id)
}

// MarshalText implements encoding.TextMarshaler.
func (id DocumentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *DocumentID) UnmarshalText(buf []byte) error {
	parsed, err := ParseDocumentID(string(buf))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// UserID identifies an authenticated user.
type UserID string

// SessionID identifies a live transport connection.
type SessionID string

// DocumentSummary is the part of a document exposed to collaborators.
type DocumentSummary struct {
	ID            DocumentID
	Title         string
	Owner         UserID
	Collaborators []UserID
	Repository    string
	Created       time.Time
	Updated       time.Time
	Version       uint64
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *DocumentSummary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", s.ID.String())
	enc.AddString("title", s.Title)
	enc.AddString("owner", string(s.Owner))
	enc.AddInt("collaborators", len(s.Collaborators))
	enc.AddUint64("version", s.Version)
	return nil
}

// Equal is true if both summaries describe the same state of the document.
func (s *DocumentSummary) Equal(other DocumentSummary) bool {
	return s.ID == other.ID &&
		s.Version == other.Version &&
		s.Title == other.Title &&
		s.Owner == other.Owner &&
		s.Repository == other.Repository &&
		s.Created.Equal(other.Created) &&
		s.Updated.Equal(other.Updated) &&
		slices.Equal(s.Collaborators, other.Collaborators)
}

// AddCollaborator inserts user into a sorted set of collaborators.
func AddCollaborator(set []UserID, user UserID) []UserID {
	if user == "" {
		return set
	}
	i, found := slices.BinarySearch(set, user)
	if found {
		return set
	}
	return slices.Insert(set, i, user)
}

// Presence is a cursor/selection announcement of a user in a document.
type Presence struct {
	Document  DocumentID
	User      UserID
	Cursor    uint64
	Selection Range
}
