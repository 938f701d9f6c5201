package crdt

import (
	"cmp"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap/zapcore"

	"github.com/texmesh/go-texmesh/common/types"
)

//go:generate scalegen -types ElementID,Change,VersionEntry,SnapshotElement,Snapshot

const maxUserSize = 256

// ElementID uniquely identifies a single inserted rune across all replicas.
// The zero value is the document head.
type ElementID struct {
	Author string `scale:"max=128"`
	Seq    uint64
	Offset uint32
}

// Head is the virtual element every document starts with.
var Head = ElementID{}

// IsHead is true for the document head.
func (id ElementID) IsHead() bool {
	return id == Head
}

func (id ElementID) String() string {
	if id.IsHead() {
		return "head"
	}
	return fmt.Sprintf("%s/%d/%d", id.Author, id.Seq, id.Offset)
}

// precedes is true if an element with (clock, id) is placed before an element with
// (otherClock, other) when both are inserted after the same origin.
func precedes(clock uint64, id ElementID, otherClock uint64, other ElementID) bool {
	if c := cmp.Compare(clock, otherClock); c != 0 {
		return c > 0
	}
	if c := cmp.Compare(id.Author, other.Author); c != 0 {
		return c > 0
	}
	if c := cmp.Compare(id.Seq, other.Seq); c != 0 {
		return c > 0
	}
	return id.Offset > other.Offset
}

// Change is the replicated form of an Operation. It is identified by (Author, Seq),
// where Seq is contiguous per author, and ordered against concurrent inserts by the
// Lamport Clock. Replace is a single Change with both Deletes and Content, which
// keeps deletion and insertion under one timestamp.
type Change struct {
	Document types.DocumentID
	Author   string `scale:"max=128"`
	Seq      uint64
	Clock    uint64
	User     types.UserID `scale:"max=256"`
	// Origin is the element the Content is inserted after.
	Origin  ElementID
	Content string      `scale:"max=1048576"`
	Deletes []ElementID `scale:"max=1048576"`
}

// Kind of the operation this change was produced from.
func (c *Change) Kind() types.OpKind {
	switch {
	case len(c.Deletes) == 0:
		return types.OpInsert
	case len(c.Content) == 0:
		return types.OpDelete
	default:
		return types.OpReplace
	}
}

// Validate checks a change received from the network before it touches a replica.
func (c *Change) Validate() error {
	switch {
	case c.Author == "":
		return fmt.Errorf("%w: empty author", ErrMalformedChange)
	case c.Seq == 0:
		return fmt.Errorf("%w: zero seq", ErrMalformedChange)
	case c.Clock == 0:
		return fmt.Errorf("%w: zero clock", ErrMalformedChange)
	case len(c.Content) == 0 && len(c.Deletes) == 0:
		return fmt.Errorf("%w: empty change", ErrMalformedChange)
	case !utf8.ValidString(c.Content):
		return fmt.Errorf("%w: content is not valid utf-8", ErrMalformedChange)
	}
	for _, id := range c.Deletes {
		if id.IsHead() {
			return fmt.Errorf("%w: head can't be deleted", ErrMalformedChange)
		}
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c *Change) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("document_id", c.Document.String())
	enc.AddString("author", c.Author)
	enc.AddUint64("seq", c.Seq)
	enc.AddUint64("clock", c.Clock)
	enc.AddString("kind", c.Kind().String())
	enc.AddInt("deletes", len(c.Deletes))
	enc.AddInt("content_len", utf8.RuneCountInString(c.Content))
	return nil
}
