package documents

import (
	"fmt"
	"time"

	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/sql"
)

const columns = "id, title, owner, repository, created, updated, version"

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func decodeSummary(stmt *sql.Statement) types.DocumentSummary {
	var summary types.DocumentSummary
	stmt.ColumnBytes(0, summary.ID[:])
	summary.Title = stmt.ColumnText(1)
	summary.Owner = types.UserID(stmt.ColumnText(2))
	summary.Repository = stmt.ColumnText(3)
	summary.Created = fromUnixNano(stmt.ColumnInt64(4))
	summary.Updated = fromUnixNano(stmt.ColumnInt64(5))
	summary.Version = uint64(stmt.ColumnInt64(6))
	return summary
}

// Upsert stores the summary and the encoded snapshot of the document, replacing
// the previous state. It should be executed in a transaction, the document row
// and the collaborators are written separately.
func Upsert(db sql.Executor, summary *types.DocumentSummary, snapshot []byte, persisted time.Time) error {
	if _, err := db.Exec(`insert into documents
		(id, title, owner, repository, created, updated, version, snapshot, persisted)
		values (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9)
		on conflict (id) do update set
			title = ?2, owner = ?3, repository = ?4, created = ?5, updated = ?6,
			version = ?7, snapshot = ?8, persisted = ?9;`,
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, summary.ID[:])
			stmt.BindText(2, summary.Title)
			stmt.BindText(3, string(summary.Owner))
			stmt.BindText(4, summary.Repository)
			stmt.BindInt64(5, unixNano(summary.Created))
			stmt.BindInt64(6, unixNano(summary.Updated))
			stmt.BindInt64(7, int64(summary.Version))
			stmt.BindBytes(8, snapshot)
			stmt.BindInt64(9, persisted.UnixNano())
		}, nil); err != nil {
		return fmt.Errorf("upsert document %v: %w", summary.ID, err)
	}
	if _, err := db.Exec("delete from collaborators where document = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, summary.ID[:])
		}, nil); err != nil {
		return fmt.Errorf("clear collaborators %v: %w", summary.ID, err)
	}
	for _, user := range summary.Collaborators {
		if _, err := db.Exec("insert into collaborators (document, user) values (?1, ?2);",
			func(stmt *sql.Statement) {
				stmt.BindBytes(1, summary.ID[:])
				stmt.BindText(2, string(user))
			}, nil); err != nil {
			return fmt.Errorf("insert collaborator %s of %v: %w", user, summary.ID, err)
		}
	}
	return nil
}

func collaborators(db sql.Executor, id types.DocumentID) ([]types.UserID, error) {
	var rst []types.UserID
	if _, err := db.Exec("select user from collaborators where document = ?1 order by user;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id[:])
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, types.UserID(stmt.ColumnText(0)))
			return true
		}); err != nil {
		return nil, fmt.Errorf("collaborators %v: %w", id, err)
	}
	return rst, nil
}

// Get the persisted summary of the document.
func Get(db sql.Executor, id types.DocumentID) (types.DocumentSummary, error) {
	var summary types.DocumentSummary
	rows, err := db.Exec("select "+columns+" from documents where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id[:])
		}, func(stmt *sql.Statement) bool {
			summary = decodeSummary(stmt)
			return false
		})
	if err != nil {
		return types.DocumentSummary{}, fmt.Errorf("get %v: %w", id, err)
	}
	if rows == 0 {
		return types.DocumentSummary{}, fmt.Errorf("%w: document %v", sql.ErrNotFound, id)
	}
	summary.Collaborators, err = collaborators(db, id)
	if err != nil {
		return types.DocumentSummary{}, err
	}
	return summary, nil
}

// Snapshot loads the encoded snapshot of the document.
func Snapshot(db sql.Executor, id types.DocumentID) ([]byte, error) {
	var blob sql.Blob
	if err := sql.LoadBlob(db, "select snapshot from documents where id = ?1;", id[:], &blob); err != nil {
		return nil, err
	}
	return blob.Bytes, nil
}

// Version returns the version of the document at the time it was persisted.
func Version(db sql.Executor, id types.DocumentID) (uint64, error) {
	var version uint64
	rows, err := db.Exec("select version from documents where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindBytes(1, id[:])
		}, func(stmt *sql.Statement) bool {
			version = uint64(stmt.ColumnInt64(0))
			return false
		})
	if err != nil {
		return 0, fmt.Errorf("version %v: %w", id, err)
	}
	if rows == 0 {
		return 0, fmt.Errorf("%w: document %v", sql.ErrNotFound, id)
	}
	return version, nil
}

// Versions returns persisted versions of all documents.
func Versions(db sql.Executor) (map[types.DocumentID]uint64, error) {
	rst := map[types.DocumentID]uint64{}
	if _, err := db.Exec("select id, version from documents;", nil,
		func(stmt *sql.Statement) bool {
			var id types.DocumentID
			stmt.ColumnBytes(0, id[:])
			rst[id] = uint64(stmt.ColumnInt64(1))
			return true
		}); err != nil {
		return nil, fmt.Errorf("versions: %w", err)
	}
	return rst, nil
}

// List returns summaries of all persisted documents, recently updated first.
func List(db sql.Executor) ([]types.DocumentSummary, error) {
	var rst []types.DocumentSummary
	if _, err := db.Exec("select "+columns+" from documents order by updated desc, id;", nil,
		func(stmt *sql.Statement) bool {
			rst = append(rst, decodeSummary(stmt))
			return true
		}); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	users := map[types.DocumentID][]types.UserID{}
	if _, err := db.Exec("select document, user from collaborators order by document, user;", nil,
		func(stmt *sql.Statement) bool {
			var id types.DocumentID
			stmt.ColumnBytes(0, id[:])
			users[id] = append(users[id], types.UserID(stmt.ColumnText(1)))
			return true
		}); err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	for i := range rst {
		rst[i].Collaborators = users[rst[i].ID]
	}
	return rst, nil
}

// IterateSnapshots calls fn for every persisted snapshot until fn returns false.
func IterateSnapshots(db sql.Executor, fn func(id types.DocumentID, snapshot []byte) bool) error {
	if _, err := db.Exec("select id, snapshot from documents order by id;", nil,
		func(stmt *sql.Statement) bool {
			var id types.DocumentID
			stmt.ColumnBytes(0, id[:])
			snapshot := make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, snapshot)
			return fn(id, snapshot)
		}); err != nil {
		return fmt.Errorf("iterate snapshots: %w", err)
	}
	return nil
}

