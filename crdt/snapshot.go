package crdt

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/spacemeshos/go-scale"

	"github.com/texmesh/go-texmesh/common/types"
)

const (
	maxTitleSize      = 1024
	maxRepositorySize = 2048
	maxCollaborators  = 1024
)

// Meta is document metadata replicated next to the content.
type Meta struct {
	Title         string
	Owner         types.UserID
	Collaborators []types.UserID
	Repository    string
	Created       time.Time
	Updated       time.Time
}

// Clone returns a deep copy.
func (m Meta) Clone() Meta {
	m.Collaborators = slices.Clone(m.Collaborators)
	return m
}

// merge combines two metadata states. Owner and creation time come from the
// earliest created state, title and repository from the latest updated one,
// collaborators are a union. States without an owner lose both comparisons. Ties are broken by comparing values, so the result
// doesn't depend on which side is local.
func (m Meta) merge(other Meta) Meta {
	rst := m.Clone()
	if createdBefore(other, m) {
		rst.Owner = other.Owner
		rst.Created = other.Created
	}
	if updatedAfter(other, m) {
		rst.Title = other.Title
		rst.Repository = other.Repository
		rst.Updated = other.Updated
	}
	for _, user := range other.Collaborators {
		rst.Collaborators = types.AddCollaborator(rst.Collaborators, user)
	}
	return rst
}

// updatedAfter orders states by the last update. A state with an owner is always
// newer than a placeholder without one, otherwise ties are broken by values.
func updatedAfter(a, b Meta) bool {
	if (a.Owner == "") != (b.Owner == "") {
		return a.Owner != ""
	}
	if c := a.Updated.Compare(b.Updated); c != 0 {
		return c > 0
	}
	if a.Title != b.Title {
		return cmp.Less(b.Title, a.Title)
	}
	return cmp.Less(b.Repository, a.Repository)
}

// createdBefore orders states by creation time. States without an owner, such as
// placeholders, and states with unset time go last.
func createdBefore(a, b Meta) bool {
	if (a.Owner == "") != (b.Owner == "") {
		return a.Owner != ""
	}
	if a.Created.IsZero() != b.Created.IsZero() {
		return !a.Created.IsZero()
	}
	if c := a.Created.Compare(b.Created); c != 0 {
		return c < 0
	}
	return a.Owner < b.Owner
}

// EncodeScale implements scale.Encodable. Times are encoded as unix nanoseconds,
// zero time as 0.
func (m *Meta) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeStringWithLimit(enc, m.Title, maxTitleSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeStringWithLimit(enc, string(m.Owner), maxUserSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		if len(m.Collaborators) > maxCollaborators {
			return total, fmt.Errorf("too many collaborators: %d", len(m.Collaborators))
		}
		n, err := scale.EncodeCompact32(enc, uint32(len(m.Collaborators)))
		if err != nil {
			return total, err
		}
		total += n
		for _, user := range m.Collaborators {
			n, err := scale.EncodeStringWithLimit(enc, string(user), maxUserSize)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	{
		n, err := scale.EncodeStringWithLimit(enc, m.Repository, maxRepositorySize)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, unixNano(m.Created))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, unixNano(m.Updated))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (m *Meta) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeStringWithLimit(dec, maxTitleSize)
		if err != nil {
			return total, err
		}
		total += n
		m.Title = field
	}
	{
		field, n, err := scale.DecodeStringWithLimit(dec, maxUserSize)
		if err != nil {
			return total, err
		}
		total += n
		m.Owner = types.UserID(field)
	}
	{
		length, n, err := scale.DecodeCompact32(dec)
		if err != nil {
			return total, err
		}
		total += n
		if length > maxCollaborators {
			return total, fmt.Errorf("too many collaborators: %d", length)
		}
		m.Collaborators = nil
		if length > 0 {
			m.Collaborators = make([]types.UserID, 0, length)
		}
		for range length {
			field, n, err := scale.DecodeStringWithLimit(dec, maxUserSize)
			if err != nil {
				return total, err
			}
			total += n
			m.Collaborators = append(m.Collaborators, types.UserID(field))
		}
	}
	{
		field, n, err := scale.DecodeStringWithLimit(dec, maxRepositorySize)
		if err != nil {
			return total, err
		}
		total += n
		m.Repository = field
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		m.Created = fromUnixNano(field)
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		m.Updated = fromUnixNano(field)
	}
	return total, nil
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func fromUnixNano(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}

// VersionEntry is a single version vector entry: the highest contiguous seq
// applied from the author.
type VersionEntry struct {
	Author string `scale:"max=128"`
	Seq    uint64
}

// SnapshotElement is an element of the sequence, including tombstones.
type SnapshotElement struct {
	ID      ElementID
	Origin  ElementID
	Clock   uint64
	Value   rune
	Deleted bool
}

// Snapshot is a full export of a replica. Elements are stored in document order,
// so the origin of every element appears before it.
type Snapshot struct {
	Document types.DocumentID
	Meta     Meta
	Clock    uint64
	Version  uint64
	Versions []VersionEntry    `scale:"max=65536"`
	Elements []SnapshotElement `scale:"max=16777216"`
}

// Content renders visible text of the snapshot.
func (s *Snapshot) Content() string {
	runes := make([]rune, 0, len(s.Elements))
	for _, e := range s.Elements {
		if !e.Deleted {
			runes = append(runes, e.Value)
		}
	}
	return string(runes)
}

// Summary returns the summary of the exported replica.
func (s *Snapshot) Summary() types.DocumentSummary {
	return types.DocumentSummary{
		ID:            s.Document,
		Title:         s.Meta.Title,
		Owner:         s.Meta.Owner,
		Collaborators: slices.Clone(s.Meta.Collaborators),
		Repository:    s.Meta.Repository,
		Created:       s.Meta.Created,
		Updated:       s.Meta.Updated,
		Version:       s.Version,
	}
}

// VersionVector returns versions as a map.
func (s *Snapshot) VersionVector() map[string]uint64 {
	vv := make(map[string]uint64, len(s.Versions))
	for _, entry := range s.Versions {
		vv[entry.Author] = entry.Seq
	}
	return vv
}

func sortedVersions(vv map[string]uint64) []VersionEntry {
	rst := make([]VersionEntry, 0, len(vv))
	for author, seq := range vv {
		rst = append(rst, VersionEntry{Author: author, Seq: seq})
	}
	slices.SortFunc(rst, func(a, b VersionEntry) int {
		return cmp.Compare(a.Author, b.Author)
	})
	return rst
}

// MergeOutcome describes the effect of merging a snapshot into a replica.
type MergeOutcome struct {
	Inserted int
	Deleted  int
	// Replayed is the number of buffered changes that became applicable.
	Replayed int
	Version  uint64
}

// Changed is true if merge modified the content.
func (o MergeOutcome) Changed() bool {
	return o.Inserted > 0 || o.Deleted > 0 || o.Replayed > 0
}

// ApplyResult describes the effect of a remote change.
type ApplyResult struct {
	// Applied is the number of changes integrated, including buffered ones that
	// became applicable.
	Applied   int
	Duplicate bool
	Buffered  bool
	Version   uint64
}
