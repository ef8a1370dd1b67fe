// Package db adapts the external document store: a Postgres table accessed
// through bun, or an in-memory store for offline runs.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"report-rag/internal/config"
	"report-rag/internal/models"
)

// Store is the document store the processor reads from and writes status to.
type Store interface {
	ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error
	UpsertDocument(ctx context.Context, doc models.Document) error
	// Purge deletes every document.
	Purge(ctx context.Context) error
	Close() error
}

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string    `bun:"id,pk"`
	Text          string    `bun:"text,notnull"`
	Filename      string    `bun:"filename"`
	Region        string    `bun:"region"`
	Organization  string    `bun:"organization"`
	Standard      string    `bun:"standard"`
	Fingerprint   string    `bun:"fingerprint"`
	Processed     bool      `bun:"processed,notnull,default:false"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func (d Document) toModel() models.Document {
	return models.Document{
		ID:   d.ID,
		Text: d.Text,
		Metadata: models.DocumentMetadata{
			Filename:     d.Filename,
			Region:       d.Region,
			Organization: d.Organization,
			Standard:     d.Standard,
		},
		Fingerprint: d.Fingerprint,
		Processed:   d.Processed,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func fromModel(doc models.Document) *Document {
	return &Document{
		ID:           doc.ID,
		Text:         doc.Text,
		Filename:     doc.Metadata.Filename,
		Region:       doc.Metadata.Region,
		Organization: doc.Metadata.Organization,
		Standard:     doc.Metadata.Standard,
		Fingerprint:  doc.Fingerprint,
		Processed:    doc.Processed,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a Postgres connection with bun's pgdriver, or with lib/pq
// when cfg.Driver is "pq".
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "pq":
		return sql.Open("postgres", cfg.DSN)
	case "pgdriver":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", models.ErrConfiguration, cfg.Driver)
	}
}

func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx)
	return err
}

func dropQuery(db *bun.DB) *bun.DropTableQuery {
	return db.NewDropTable().Model((*Document)(nil)).IfExists()
}

func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := dropQuery(db).Exec(ctx)
	return err
}

// PGStore reads documents from the documents table.
type PGStore struct {
	db *bun.DB
}

func NewPGStore(db *bun.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) listQuery(dest any, filter models.DocumentFilter) *bun.SelectQuery {
	q := s.db.NewSelect().Model(dest).OrderExpr("d.created_at ASC, d.id ASC")
	if len(filter.IDs) > 0 {
		q = q.Where("d.id IN (?)", bun.In(filter.IDs))
	}
	if filter.Region != "" {
		q = q.Where("d.region = ?", filter.Region)
	}
	if filter.Organization != "" {
		q = q.Where("d.organization = ?", filter.Organization)
	}
	if filter.Standard != "" {
		q = q.Where("d.standard = ?", filter.Standard)
	}
	return q
}

func (s *PGStore) ListDocuments(ctx context.Context, filter models.DocumentFilter) ([]models.Document, error) {
	var rows []Document
	if err := s.listQuery(&rows, filter).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]models.Document, len(rows))
	for i, row := range rows {
		docs[i] = row.toModel()
	}
	return docs, nil
}

func (s *PGStore) updateStatusQuery(id string, status models.DocumentStatus, now time.Time) *bun.UpdateQuery {
	return s.db.NewUpdate().
		Model((*Document)(nil)).
		Set("fingerprint = ?", status.Fingerprint).
		Set("processed = ?", status.Processed).
		Set("updated_at = ?", now).
		Where("id = ?", id)
}

func (s *PGStore) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	res, err := s.updateStatusQuery(id, status, time.Now().UTC()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// upsertQuery inserts doc or replaces its content. The processing status
// of an existing row is left alone so the fingerprint decides whether the
// new text is re-embedded.
func (s *PGStore) upsertQuery(doc models.Document, now time.Time) *bun.InsertQuery {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	return s.db.NewInsert().
		Model(fromModel(doc)).
		On("CONFLICT (id) DO UPDATE").
		Set("text = EXCLUDED.text").
		Set("filename = EXCLUDED.filename").
		Set("region = EXCLUDED.region").
		Set("organization = EXCLUDED.organization").
		Set("standard = EXCLUDED.standard").
		Set("updated_at = EXCLUDED.updated_at")
}

func (s *PGStore) UpsertDocument(ctx context.Context, doc models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is required", models.ErrValidation)
	}
	if _, err := s.upsertQuery(doc, time.Now().UTC()).Exec(ctx); err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// Purge drops the documents table and creates it again empty.
func (s *PGStore) Purge(ctx context.Context) error {
	if err := DropDocuments(ctx, s.db); err != nil {
		return fmt.Errorf("drop documents: %w", err)
	}
	if err := InitDB(ctx, s.db); err != nil {
		return fmt.Errorf("init documents table: %w", err)
	}
	return nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

// Open builds the store selected by cfg.Driver. Postgres stores get their
// table created on first use.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	if cfg.Driver == "" || cfg.Driver == "memory" {
		store := NewMemoryStore()
		if cfg.SeedFile != "" {
			if err := store.LoadSeed(cfg.SeedFile); err != nil {
				return nil, err
			}
		}
		return store, nil
	}

	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	bdb := NewDB(sqldb, cfg.Debug)
	if err := bdb.PingContext(ctx); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := InitDB(ctx, bdb); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("init documents table: %w", err)
	}
	log.Info().Str("driver", cfg.Driver).Msg("Connected to document store")
	return NewPGStore(bdb), nil
}
