package p2p

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap/zapcore"

	"github.com/texmesh/go-texmesh/codec"
	"github.com/texmesh/go-texmesh/common/types"
)

//go:generate scalegen -types Envelope,Announcement

// ErrMalformedMessage is returned for payloads that can't be decoded or don't match
// the topic they were received on. Such messages are not relayed.
var ErrMalformedMessage = errors.New("malformed message")

// Kind of the document topic.
type Kind uint8

const (
	// KindOperations carries document changes.
	KindOperations Kind = iota + 1
	// KindPresence carries cursors and selections.
	KindPresence
	// KindMetadata carries title, owner and collaborators.
	KindMetadata
)

// Kinds lists every topic kind joined for a document.
var Kinds = [...]Kind{KindOperations, KindPresence, KindMetadata}

func (k Kind) String() string {
	switch k {
	case KindOperations:
		return "operations"
	case KindPresence:
		return "presence"
	case KindMetadata:
		return "metadata"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Valid is true for known kinds.
func (k Kind) Valid() bool {
	return k >= KindOperations && k <= KindMetadata
}

func parseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Topic returns the name of the topic of the given kind for the document,
// formatted as {kind}/{document id}.
func Topic(kind Kind, id types.DocumentID) string {
	return kind.String() + "/" + id.String()
}

// ParseTopic is the inverse of Topic.
func ParseTopic(name string) (Kind, types.DocumentID, error) {
	prefix, rest, found := strings.Cut(name, "/")
	if !found {
		return 0, types.EmptyDocumentID, fmt.Errorf("%w: topic %q", ErrMalformedMessage, name)
	}
	kind, ok := parseKind(prefix)
	if !ok {
		return 0, types.EmptyDocumentID, fmt.Errorf("%w: topic kind %q", ErrMalformedMessage, prefix)
	}
	id, err := types.ParseDocumentID(rest)
	if err != nil {
		return 0, types.EmptyDocumentID, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return kind, id, nil
}

// Envelope is the unit exchanged between peers, both over topics and direct streams.
type Envelope struct {
	Kind     Kind
	Document types.DocumentID
	Data     []byte `scale:"max=33554432"`
}

// Topic where the envelope is published.
func (e *Envelope) Topic() string {
	return Topic(e.Kind, e.Document)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e *Envelope) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", e.Kind.String())
	enc.AddString("document", e.Document.String())
	enc.AddInt("size", len(e.Data))
	return nil
}

// announcementTag opens an announcement payload. Presence updates start with the
// length of a non-empty user and never with a zero byte.
const announcementTag = 0

// Announcement is published on the presence topic of a document by a peer that
// just subscribed to it.
type Announcement struct {
	Peer  []byte `scale:"max=128"`
	Nonce uint64
}

// EncodeAnnouncement returns the presence payload announcing the subscriber.
// Payloads are unique per call, gossip doesn't drop a repeated announcement as a duplicate.
func EncodeAnnouncement(subscriber peer.ID) []byte {
	data := codec.MustEncode(&Announcement{Peer: []byte(subscriber), Nonce: rand.Uint64()})
	return append([]byte{announcementTag}, data...)
}

// IsAnnouncement is true if the presence payload announces a subscription.
func IsAnnouncement(data []byte) bool {
	return len(data) > 0 && data[0] == announcementTag
}

// DecodeAnnouncement returns the subscriber that published the announcement.
func DecodeAnnouncement(data []byte) (peer.ID, error) {
	if !IsAnnouncement(data) {
		return "", fmt.Errorf("%w: not an announcement", ErrMalformedMessage)
	}
	var announcement Announcement
	if err := codec.Decode(data[1:], &announcement); err != nil {
		return "", fmt.Errorf("%w: decode announcement: %w", ErrMalformedMessage, err)
	}
	subscriber := peer.ID(announcement.Peer)
	if err := subscriber.Validate(); err != nil {
		return "", fmt.Errorf("%w: announcement: %w", ErrMalformedMessage, err)
	}
	return subscriber, nil
}
