package sql

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func testURI(tb testing.TB) string {
	tb.Helper()
	return "file:" + filepath.Join(tb.TempDir(), "state.sql")
}

func TestTransactionIsolation(t *testing.T) {
	db := InMemory()
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	tx, err := db.Tx(context.TODO())
	require.NoError(t, err)

	id := []byte("0123456789abcdef")
	_, err = tx.Exec(`insert into collaborators (document, user) values (?1, ?2)`, func(stmt *Statement) {
		stmt.BindBytes(1, id)
		stmt.BindText(2, "alice")
	}, nil)
	require.NoError(t, err)

	rows, err := tx.Exec("select 1 from collaborators where document = ?1", func(stmt *Statement) {
		stmt.BindBytes(1, id)
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, rows)

	require.NoError(t, tx.Release())

	rows, err = db.Exec("select 1 from collaborators where document = ?1", func(stmt *Statement) {
		stmt.BindBytes(1, id)
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, rows)
}

func TestWithTxRollback(t *testing.T) {
	db, err := Open(testURI(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	id := []byte("0123456789abcdef")
	insert := func(tx *Tx, user string) error {
		_, err := tx.Exec(`insert into collaborators (document, user) values (?1, ?2)`, func(stmt *Statement) {
			stmt.BindBytes(1, id)
			stmt.BindText(2, user)
		}, nil)
		return err
	}
	failure := errors.New("test")
	err = db.WithTx(context.Background(), func(tx *Tx) error {
		require.NoError(t, insert(tx, "alice"))
		return failure
	})
	require.ErrorIs(t, err, failure)

	require.NoError(t, db.WithTx(context.Background(), func(tx *Tx) error {
		return insert(tx, "bob")
	}))
	var users []string
	_, err = db.Exec("select user from collaborators where document = ?1", func(stmt *Statement) {
		stmt.BindBytes(1, id)
	}, func(stmt *Statement) bool {
		users = append(users, stmt.ColumnText(0))
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, users)

	err = db.WithTx(context.Background(), func(tx *Tx) error {
		return insert(tx, "bob")
	})
	require.ErrorIs(t, err, ErrObjectExists)
}

func TestLoadBlob(t *testing.T) {
	db := InMemory()
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	id := []byte("0123456789abcdef")
	_, err := db.Exec(`insert into documents
		(id, title, owner, repository, created, updated, version, snapshot, persisted)
		values (?1, 'paper.tex', 'alice', '', 0, 0, 1, ?2, 0)`, func(stmt *Statement) {
		stmt.BindBytes(1, id)
		stmt.BindBytes(2, []byte{1, 2, 3})
	}, nil)
	require.NoError(t, err)

	var blob Blob
	require.NoError(t, LoadBlob(db, "select snapshot from documents where id = ?1", id, &blob))
	require.Equal(t, []byte{1, 2, 3}, blob.Bytes)

	err = LoadBlob(db, "select snapshot from documents where id = ?1", []byte("fedcba9876543210"), &blob)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVacuum(t *testing.T) {
	db, err := Open(testURI(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	require.NoError(t, Vacuum(db))
}

func TestClosedDatabase(t *testing.T) {
	db := InMemory()
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		query string
		op    string
		table string
	}{
		{"select 1 from collaborators where document = ?1", "select", "collaborators"},
		{"insert into documents\n\t\t(id, title) values (?1, ?2)", "insert", "documents"},
		{"delete from collaborators where document = ?1;", "delete", "collaborators"},
		{"select user from collaborators order by user;", "select", "collaborators"},
		{"CREATE INDEX documents_by_updated ON documents (updated DESC, id);", "create", "documents"},
		{"PRAGMA user_version;", "pragma", "none"},
		{"vacuum", "vacuum", "none"},
		{"COMMIT;", "other", "none"},
		{"", "other", "none"},
	} {
		t.Run(tc.query, func(t *testing.T) {
			require.Equal(t, statementLabels{op: tc.op, table: tc.table}, classify(tc.query))
		})
	}
}

func histogramCount(t *testing.T, op, table string) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, queryDuration.WithLabelValues(op, table).(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func counterValue(t *testing.T, table, kind string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, queryErrors.WithLabelValues(table, kind).Write(&m))
	return m.GetCounter().GetValue()
}

func TestQueryMetering(t *testing.T) {
	db := InMemory(WithLatencyMetering(true))
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	before := histogramCount(t, "insert", "collaborators")
	exists := counterValue(t, "collaborators", "exists")
	start := db.Stats()

	insert := func() error {
		_, err := db.Exec("insert into collaborators (document, user) values (?1, ?2)", func(stmt *Statement) {
			stmt.BindBytes(1, []byte("0123456789abcdef"))
			stmt.BindText(2, "alice")
		}, nil)
		return err
	}
	require.NoError(t, insert())
	require.ErrorIs(t, insert(), ErrObjectExists)

	require.Equal(t, before+2, histogramCount(t, "insert", "collaborators"))
	require.Equal(t, exists+1, counterValue(t, "collaborators", "exists"))
	stats := db.Stats()
	require.Equal(t, start.Queries+2, stats.Queries)
	require.Equal(t, start.Failed+1, stats.Failed)
	require.Zero(t, stats.InUse)
}

func TestConnectionsInUse(t *testing.T) {
	db, err := Open(testURI(t), WithConnections(2))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	tx, err := db.Tx(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, db.Stats().InUse)

	_, err = tx.Exec("select 1 from documents", nil, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Release())
	require.Zero(t, db.Stats().InUse)
}
