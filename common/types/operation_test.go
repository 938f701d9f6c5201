package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperationValidate(t *testing.T) {
	for _, tc := range []struct {
		desc string
		op   Operation
		err  bool
	}{
		{desc: "insert", op: Insert(0, "x")},
		{desc: "empty insert", op: Insert(0, ""), err: true},
		{desc: "negative insert", op: Insert(-1, "x"), err: true},
		{desc: "delete", op: Delete(Range{Start: 1, End: 3})},
		{desc: "empty delete", op: Delete(Range{Start: 1, End: 1}), err: true},
		{desc: "inverted delete", op: Delete(Range{Start: 3, End: 1}), err: true},
		{desc: "replace empty range", op: Replace(Range{}, `\documentclass{article}`)},
		{desc: "replace with nothing", op: Replace(Range{Start: 0, End: 2}, "")},
		{desc: "empty replace", op: Replace(Range{Start: 1, End: 1}, ""), err: true},
		{desc: "replace negative", op: Replace(Range{Start: -1, End: 2}, "x"), err: true},
		{desc: "unknown kind", op: Operation{Kind: 42}, err: true},
		{desc: "invalid utf8", op: Insert(0, "\xff"), err: true},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.op.Validate()
			if tc.err {
				require.ErrorIs(t, err, ErrInvalidOperation)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDocumentIDText(t *testing.T) {
	id := RandomDocumentID()
	buf, err := id.MarshalText()
	require.NoError(t, err)

	var parsed DocumentID
	require.NoError(t, parsed.UnmarshalText(buf))
	require.Equal(t, id, parsed)

	_, err = ParseDocumentID("not-a-uuid")
	require.Error(t, err)
}

func TestAddCollaborator(t *testing.T) {
	var set []UserID
	for _, u := range []UserID{"carol", "alice", "bob", "alice", ""} {
		set = AddCollaborator(set, u)
	}
	require.Equal(t, []UserID{"alice", "bob", "carol"}, set)
}
