package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"go.uber.org/zap"
)

// ErrBatchNotFound is returned when no snapshot exists for a batch
var ErrBatchNotFound = errors.New("batch not found")

const schema = `
CREATE TABLE IF NOT EXISTS review_batches (
	id         TEXT PRIMARY KEY,
	taken_at   TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS review_documents (
	id            TEXT PRIMARY KEY,
	batch_id      TEXT NOT NULL REFERENCES review_batches(id) ON DELETE CASCADE,
	position      INT NOT NULL,
	original_name TEXT NOT NULL,
	kind          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS review_blocks (
	id          TEXT PRIMARY KEY,
	batch_id    TEXT NOT NULL REFERENCES review_batches(id) ON DELETE CASCADE,
	document_id TEXT NOT NULL,
	position    INT NOT NULL,
	kind        TEXT NOT NULL,
	text        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS review_entities (
	id            TEXT PRIMARY KEY,
	batch_id      TEXT NOT NULL REFERENCES review_batches(id) ON DELETE CASCADE,
	document_id   TEXT NOT NULL,
	block_id      TEXT NOT NULL,
	token         TEXT NOT NULL,
	type          TEXT NOT NULL,
	start_offset  INT NOT NULL,
	length        INT NOT NULL,
	text_original TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS review_entities_batch_idx ON review_entities (batch_id);
`

type documentRow struct {
	ID           string `db:"id"`
	BatchID      string `db:"batch_id"`
	Position     int    `db:"position"`
	OriginalName string `db:"original_name"`
	Kind         string `db:"kind"`
}

type blockRow struct {
	ID         string `db:"id"`
	BatchID    string `db:"batch_id"`
	DocumentID string `db:"document_id"`
	Position   int    `db:"position"`
	Kind       string `db:"kind"`
	Text       string `db:"text"`
}

type entityRow struct {
	ID           string  `db:"id"`
	BatchID      string  `db:"batch_id"`
	DocumentID   string  `db:"document_id"`
	BlockID      string  `db:"block_id"`
	Token        string  `db:"token"`
	Type         string  `db:"type"`
	Start        int     `db:"start_offset"`
	Length       int     `db:"length"`
	TextOriginal string  `db:"text_original"`
	Confidence   float64 `db:"confidence"`
	Source       string  `db:"source"`
	Status       string  `db:"status"`
}

// Repository persists review snapshots in PostgreSQL so a review can survive
// a restart.
type Repository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewRepository connects, configures the pool and migrates the schema
func NewRepository(cfg config.DatabaseConfig, log *logger.Logger) (*Repository, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLife)

	repo := &Repository{db: db, logger: log.WithComponent("snapshot_repository")}
	if err := repo.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}

	repo.logger.Info("Snapshot repository initialized",
		zap.String("database_url", maskDatabaseURL(cfg.URL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return repo, nil
}

// initialize checks the connection and creates tables
func (r *Repository) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the stored state of snap.BatchID in one transaction
func (r *Repository) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	docs, blocks, entities := toRows(snap)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM review_batches WHERE id = $1`, snap.BatchID); err != nil {
		return fmt.Errorf("clear batch: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO review_batches (id, taken_at) VALUES ($1, $2)`, snap.BatchID, snap.TakenAt); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	if len(docs) > 0 {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO review_documents (id, batch_id, position, original_name, kind)
			VALUES (:id, :batch_id, :position, :original_name, :kind)`, docs); err != nil {
			return fmt.Errorf("insert documents: %w", err)
		}
	}
	if len(blocks) > 0 {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO review_blocks (id, batch_id, document_id, position, kind, text)
			VALUES (:id, :batch_id, :document_id, :position, :kind, :text)`, blocks); err != nil {
			return fmt.Errorf("insert blocks: %w", err)
		}
	}
	if len(entities) > 0 {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO review_entities (id, batch_id, document_id, block_id, token, type, start_offset, length,
				text_original, confidence, source, status)
			VALUES (:id, :batch_id, :document_id, :block_id, :token, :type, :start_offset, :length,
				:text_original, :confidence, :source, :status)`, entities); err != nil {
			return fmt.Errorf("insert entities: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	r.logger.Debug("Snapshot saved",
		zap.String("batch_id", snap.BatchID),
		zap.Int("documents", len(docs)),
		zap.Int("entities", len(entities)))
	return nil
}

// LoadSnapshot reads a stored batch
func (r *Repository) LoadSnapshot(ctx context.Context, batchID string) (*Snapshot, error) {
	var takenAt time.Time
	err := r.db.GetContext(ctx, &takenAt, `SELECT taken_at FROM review_batches WHERE id = $1`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}

	var docs []documentRow
	if err := r.db.SelectContext(ctx, &docs,
		`SELECT id, batch_id, position, original_name, kind FROM review_documents WHERE batch_id = $1 ORDER BY position`, batchID); err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	var blocks []blockRow
	if err := r.db.SelectContext(ctx, &blocks,
		`SELECT id, batch_id, document_id, position, kind, text FROM review_blocks WHERE batch_id = $1 ORDER BY document_id, position`, batchID); err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	var entities []entityRow
	if err := r.db.SelectContext(ctx, &entities,
		`SELECT * FROM review_entities WHERE batch_id = $1`, batchID); err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}

	snap := fromRows(batchID, docs, blocks, entities)
	snap.TakenAt = takenAt
	return snap, nil
}

// LatestBatch returns the most recently saved batch id
func (r *Repository) LatestBatch(ctx context.Context) (string, error) {
	var id string
	err := r.db.GetContext(ctx, &id, `SELECT id FROM review_batches ORDER BY updated_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrBatchNotFound
	}
	if err != nil {
		return "", fmt.Errorf("latest batch: %w", err)
	}
	return id, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func toRows(snap *Snapshot) ([]documentRow, []blockRow, []entityRow) {
	docs := make([]documentRow, 0, len(snap.Documents))
	blocks := make([]blockRow, 0)
	for i, d := range snap.Documents {
		docs = append(docs, documentRow{
			ID: d.ID, BatchID: snap.BatchID, Position: i,
			OriginalName: d.OriginalName, Kind: string(d.Kind),
		})
		for j, b := range d.Blocks {
			blocks = append(blocks, blockRow{
				ID: b.ID, BatchID: snap.BatchID, DocumentID: d.ID,
				Position: j, Kind: string(b.Kind), Text: b.Text,
			})
		}
	}

	entities := make([]entityRow, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		entities = append(entities, entityRow{
			ID: e.ID, BatchID: snap.BatchID, DocumentID: e.DocumentID, BlockID: e.BlockID,
			Token: e.Token, Type: string(e.Type), Start: e.Start, Length: e.Length,
			TextOriginal: e.TextOriginal, Confidence: e.Confidence,
			Source: string(e.Source), Status: string(e.Status),
		})
	}
	return docs, blocks, entities
}

// fromRows expects docs ordered by position and blocks by (document, position)
func fromRows(batchID string, docs []documentRow, blocks []blockRow, entities []entityRow) *Snapshot {
	snap := &Snapshot{BatchID: batchID}
	index := make(map[string]*model.Document, len(docs))
	for _, row := range docs {
		doc := &model.Document{
			ID: row.ID, OriginalName: row.OriginalName,
			Kind: model.DocumentKind(row.Kind), Blocks: make([]*model.Block, 0),
		}
		index[doc.ID] = doc
		snap.Documents = append(snap.Documents, doc)
	}
	for _, row := range blocks {
		doc, ok := index[row.DocumentID]
		if !ok {
			continue
		}
		doc.Blocks = append(doc.Blocks, &model.Block{
			ID: row.ID, DocumentID: row.DocumentID, Kind: model.BlockKind(row.Kind), Text: row.Text,
		})
	}
	for _, row := range entities {
		snap.Entities = append(snap.Entities, &model.PIIEntity{
			ID: row.ID, Token: row.Token, Type: model.PIIType(row.Type),
			DocumentID: row.DocumentID, BlockID: row.BlockID,
			Start: row.Start, Length: row.Length, TextOriginal: row.TextOriginal,
			Confidence: row.Confidence, Source: model.Source(row.Source), Status: model.Status(row.Status),
		})
	}
	return snap
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
