package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rocket-cms/internal/authz"
)

// Entry is a stored content entry. CreatedBy and CreatorRoles are the
// creator snapshot, written once at insert.
type Entry struct {
	DocumentID   string         `json:"documentId"`
	ContentType  string         `json:"contentType"`
	Data         map[string]any `json:"data"`
	CreatedBy    string         `json:"createdBy"`
	CreatorRoles []string       `json:"-"`
	UpdatedBy    string         `json:"updatedBy"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	PublishedAt  *time.Time     `json:"publishedAt"`
}

// Authz returns the view of the entry the decision engine evaluates.
func (e *Entry) Authz() authz.Entry {
	return authz.Entry{
		DocumentID:   e.DocumentID,
		ContentType:  e.ContentType,
		CreatedBy:    e.CreatedBy,
		CreatorRoles: e.CreatorRoles,
		Fields:       e.Data,
	}
}

// RecentOrder selects the timestamp recent entries are ordered by.
type RecentOrder string

const (
	RecentByUpdate  RecentOrder = "update"
	RecentByPublish RecentOrder = "publish"
)

const entryColumns = "document_id, content_type, data, created_by_id, created_by_roles, updated_by_id, created_at, updated_at, published_at"

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var e Entry
	var data, creatorRoles []byte
	var createdAt, updatedAt, publishedAt any
	if err := row.Scan(&e.DocumentID, &e.ContentType, &data, &e.CreatedBy, &creatorRoles,
		&e.UpdatedBy, &createdAt, &updatedAt, &publishedAt); err != nil {
		return nil, err
	}

	e.Data = map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("parse data of %s: %w", e.DocumentID, err)
		}
	}
	e.CreatorRoles = []string{}
	if len(creatorRoles) > 0 {
		if err := json.Unmarshal(creatorRoles, &e.CreatorRoles); err != nil {
			return nil, fmt.Errorf("parse creator roles of %s: %w", e.DocumentID, err)
		}
	}

	var err error
	if e.CreatedAt, err = scanTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = scanTime(updatedAt); err != nil {
		return nil, err
	}
	if e.PublishedAt, err = scanNullTime(publishedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertEntry stores a new entry, generating its document id. The creator
// snapshot is taken from e.CreatedBy and e.CreatorRoles.
func (s *Store) InsertEntry(ctx context.Context, e *Entry) error {
	if e.DocumentID == "" {
		e.DocumentID = uuid.New().String()
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	if e.CreatorRoles == nil {
		e.CreatorRoles = []string{}
	}
	if e.UpdatedBy == "" {
		e.UpdatedBy = e.CreatedBy
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode entry data: %w", err)
	}
	roles, err := json.Marshal(e.CreatorRoles)
	if err != nil {
		return fmt.Errorf("encode creator roles: %w", err)
	}

	_, err = s.DB.ExecContext(ctx,
		s.rebind(`INSERT INTO entries (document_id, content_type, data, created_by_id, created_by_roles, updated_by_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
		e.DocumentID, e.ContentType, s.Dialect.JSONParam(data), e.CreatedBy, s.Dialect.JSONParam(roles),
		e.UpdatedBy, s.Dialect.TimeParam(now), s.Dialect.TimeParam(now))
	if err != nil {
		return MapError(s.Dialect, fmt.Errorf("insert entry: %w", err))
	}
	return nil
}

// GetEntry returns one entry of the given content type.
func (s *Store) GetEntry(ctx context.Context, contentType, documentID string) (*Entry, error) {
	row := s.DB.QueryRowContext(ctx,
		s.rebind(fmt.Sprintf("SELECT %s FROM entries WHERE content_type = $1 AND document_id = $2", entryColumns)),
		contentType, documentID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// ListEntries returns every entry of a content type in insertion order.
func (s *Store) ListEntries(ctx context.Context, contentType string) ([]*Entry, error) {
	return s.queryEntries(ctx,
		s.rebind(fmt.Sprintf("SELECT %s FROM entries WHERE content_type = $1 ORDER BY seq", entryColumns)),
		contentType)
}

// RecentEntries returns up to limit entries of the given content types,
// most recently updated (or published) first. Unpublished entries are
// skipped when ordering by publish.
func (s *Store) RecentEntries(ctx context.Context, order RecentOrder, contentTypes []string, limit int) ([]*Entry, error) {
	pb := s.Dialect.NewParamBuilder()
	where := s.Dialect.InExpr("content_type", pb, contentTypes)
	orderBy := "updated_at DESC, seq DESC"
	if order == RecentByPublish {
		where += " AND published_at IS NOT NULL"
		orderBy = "published_at DESC, seq DESC"
	}
	query := fmt.Sprintf("SELECT %s FROM entries WHERE %s ORDER BY %s LIMIT %s",
		entryColumns, where, orderBy, pb.Add(limit))
	return s.queryEntries(ctx, query, pb.Params()...)
}

// UpdateEntry stores e.Data and e.UpdatedBy. The creator snapshot is
// never written.
func (s *Store) UpdateEntry(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode entry data: %w", err)
	}
	now := time.Now().UTC()

	n, err := Exec(ctx, s.DB,
		s.rebind("UPDATE entries SET data = $1, updated_by_id = $2, updated_at = $3 WHERE content_type = $4 AND document_id = $5"),
		s.Dialect.JSONParam(data), e.UpdatedBy, s.Dialect.TimeParam(now), e.ContentType, e.DocumentID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	e.UpdatedAt = now
	return nil
}

// PublishEntry stamps published_at on the entry.
func (s *Store) PublishEntry(ctx context.Context, e *Entry, by string) error {
	now := time.Now().UTC()
	n, err := Exec(ctx, s.DB,
		s.rebind("UPDATE entries SET published_at = $1, updated_by_id = $2, updated_at = $1 WHERE content_type = $3 AND document_id = $4"),
		s.Dialect.TimeParam(now), by, e.ContentType, e.DocumentID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	e.PublishedAt = &now
	e.UpdatedAt = now
	e.UpdatedBy = by
	return nil
}

// DeleteEntry removes an entry.
func (s *Store) DeleteEntry(ctx context.Context, contentType, documentID string) error {
	n, err := Exec(ctx, s.DB,
		s.rebind("DELETE FROM entries WHERE content_type = $1 AND document_id = $2"), contentType, documentID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
