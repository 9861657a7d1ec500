package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"rocket-cms/internal/authz"
	"rocket-cms/internal/metadata"
)

// ListContentTypes returns every stored content type definition.
func (s *Store) ListContentTypes(ctx context.Context) ([]*metadata.ContentType, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT uid, definition FROM _content_types ORDER BY uid")
	if err != nil {
		return nil, fmt.Errorf("query content types: %w", err)
	}
	defer rows.Close()

	var types []*metadata.ContentType
	for rows.Next() {
		var uid string
		var definition []byte
		if err := rows.Scan(&uid, &definition); err != nil {
			return nil, fmt.Errorf("scan content type: %w", err)
		}
		var ct metadata.ContentType
		if err := json.Unmarshal(definition, &ct); err != nil {
			return nil, fmt.Errorf("parse content type %s: %w", uid, err)
		}
		ct.UID = uid
		types = append(types, &ct)
	}
	return types, rows.Err()
}

// CreateContentType stores ct and appends grants to their roles in the
// same transaction.
func (s *Store) CreateContentType(ctx context.Context, ct *metadata.ContentType, grants []authz.Permission) error {
	definition, err := json.Marshal(ct)
	if err != nil {
		return fmt.Errorf("encode content type: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.Dialect.TimeParam(time.Now())
		_, err := tx.ExecContext(ctx,
			s.rebind("INSERT INTO _content_types (uid, definition, created_at, updated_at) VALUES ($1, $2, $3, $4)"),
			ct.UID, s.Dialect.JSONParam(definition), now, now)
		if err != nil {
			return MapError(s.Dialect, fmt.Errorf("insert content type: %w", err))
		}
		return s.appendPermissions(ctx, tx, grants)
	})
}

// DeleteContentType removes the content type, its entries and every
// permission whose subject it is.
func (s *Store) DeleteContentType(ctx context.Context, uid string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := Exec(ctx, tx, s.rebind("DELETE FROM _permissions WHERE subject = $1"), uid); err != nil {
			return err
		}
		if _, err := Exec(ctx, tx, s.rebind("DELETE FROM entries WHERE content_type = $1"), uid); err != nil {
			return err
		}
		n, err := Exec(ctx, tx, s.rebind("DELETE FROM _content_types WHERE uid = $1"), uid)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
