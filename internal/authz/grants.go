package authz

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/estuary/flow-controller/internal/store"
)

// SQLGrantSource resolves a user's effective grants from the
// role_grants/user_grants tables (§6). A user's direct grants come
// from user_grants; role_grants then composes further capability by
// letting the holder of one role prefix inherit a capability over
// another role prefix, expanded transitively by breadth-first search
// so that a grant chain of arbitrary length resolves in one call.
type SQLGrantSource struct {
	db *sql.DB
}

// NewSQLGrantSource returns a SQLGrantSource backed by db.
func NewSQLGrantSource(db *sql.DB) *SQLGrantSource {
	return &SQLGrantSource{db: db}
}

// GrantsForUser implements GrantSource.
func (g *SQLGrantSource) GrantsForUser(ctx context.Context, userID string) ([]Grant, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT object_role, capability FROM user_grants WHERE user_id=?`, userID)
	if err != nil {
		return nil, fmt.Errorf("reading user grants for %s: %w", userID, err)
	}

	var out []Grant
	var frontier []string
	for rows.Next() {
		var objectRole, capability string
		if err := rows.Scan(&objectRole, &capability); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning user grant for %s: %w", userID, err)
		}
		out = append(out, Grant{Subject: "user:" + userID, ObjectRole: objectRole, Capability: store.Capability(capability)})
		frontier = append(frontier, objectRole)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var visited = make(map[string]bool, len(frontier))
	for len(frontier) > 0 {
		var next []string
		for _, subjectRole := range frontier {
			if visited[subjectRole] {
				continue
			}
			visited[subjectRole] = true

			rrows, err := g.db.QueryContext(ctx, `SELECT object_role, capability FROM role_grants WHERE subject_role=?`, subjectRole)
			if err != nil {
				return nil, fmt.Errorf("reading role grants for %s: %w", subjectRole, err)
			}
			for rrows.Next() {
				var objectRole, capability string
				if err := rrows.Scan(&objectRole, &capability); err != nil {
					rrows.Close()
					return nil, fmt.Errorf("scanning role grant for %s: %w", subjectRole, err)
				}
				out = append(out, Grant{Subject: subjectRole, ObjectRole: objectRole, Capability: store.Capability(capability)})
				next = append(next, objectRole)
			}
			if err := rrows.Err(); err != nil {
				rrows.Close()
				return nil, err
			}
			rrows.Close()
		}
		frontier = next
	}
	return out, nil
}
