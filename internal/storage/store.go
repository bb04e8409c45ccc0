package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JSmith01/silence-detector/internal/session"
	"github.com/JSmith01/silence-detector/internal/spectral"
)

// ErrNotFound is returned when a recording is not in the catalog
var ErrNotFound = errors.New("recording not found")

const timestampLayout = "20060102-150405"

// Entry is one catalog row
type Entry struct {
	ID             string          `json:"id"`
	StreamID       uint32          `json:"stream_id"`
	Path           string          `json:"path"`
	SampleRate     int             `json:"sample_rate"`
	Channels       int             `json:"channels"`
	Samples        int             `json:"samples"`
	Bytes          int             `json:"bytes"`
	Duration       float64         `json:"duration_seconds"`
	Activations    uint64          `json:"activations"`
	Similarity     *float64        `json:"similarity,omitempty"`
	TopFrequencies []spectral.Peak `json:"top_frequencies,omitempty"`
	Tonal          bool            `json:"tonal"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Store writes recordings to outputDir and indexes them in a sqlite catalog
type Store struct {
	db        *sql.DB
	outputDir string
	logger    *slog.Logger
}

// Open creates outputDir if needed and opens (or creates) the catalog
func Open(outputDir, catalogPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}
	if dir := filepath.Dir(catalogPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", catalogPath)
	if err != nil {
		return nil, fmt.Errorf("error opening catalog: %w", err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &Store{db: db, outputDir: outputDir, logger: logger}, nil
}

// Close closes the catalog
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func createTables(db *sql.DB) error {
	createRecordingsTable := `
    CREATE TABLE IF NOT EXISTS recordings (
        id TEXT PRIMARY KEY,
        stream_id INTEGER NOT NULL,
        path TEXT NOT NULL,
        sample_rate INTEGER NOT NULL,
        channels INTEGER NOT NULL,
        samples INTEGER NOT NULL,
        bytes INTEGER NOT NULL,
        duration REAL NOT NULL,
        activations INTEGER NOT NULL,
        similarity REAL,
        top_frequencies TEXT,
        tonal INTEGER NOT NULL,
        created_at INTEGER NOT NULL
    );
    `

	createdAtIndex := `CREATE INDEX IF NOT EXISTS idx_recordings_created_at ON recordings (created_at);`

	if _, err := db.Exec(createRecordingsTable); err != nil {
		return fmt.Errorf("error creating recordings table: %w", err)
	}
	if _, err := db.Exec(createdAtIndex); err != nil {
		return fmt.Errorf("error creating index: %w", err)
	}
	return nil
}

// FileName returns the on-disk name for a recording
func FileName(rec *session.Recording) string {
	return fmt.Sprintf("recording-%s-%s.wav", rec.FinishedAt.UTC().Format(timestampLayout), rec.ID)
}

// Save writes the WAV file and inserts the catalog row. The file is removed
// again if the insert fails.
func (s *Store) Save(ctx context.Context, rec *session.Recording) (*Entry, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("recording has no ID")
	}

	path := filepath.Join(s.outputDir, FileName(rec))
	if err := os.WriteFile(path, rec.WAV, 0o644); err != nil {
		return nil, fmt.Errorf("error writing recording: %w", err)
	}

	entry := &Entry{
		ID:          rec.ID,
		StreamID:    rec.StreamID,
		Path:        path,
		SampleRate:  rec.Format.SampleRate,
		Channels:    rec.Format.Channels,
		Samples:     rec.Samples,
		Bytes:       rec.Size(),
		Duration:    rec.Duration.Seconds(),
		Activations: rec.Activations,
		Tonal:       rec.Tonal,
		CreatedAt:   rec.FinishedAt,
	}

	var similarity sql.NullFloat64
	var topFrequencies sql.NullString
	if rec.Spectral != nil {
		sim := rec.Spectral.Similarity
		entry.Similarity = &sim
		entry.TopFrequencies = rec.Spectral.TopFrequencies
		similarity = sql.NullFloat64{Float64: sim, Valid: true}

		encoded, err := json.Marshal(rec.Spectral.TopFrequencies)
		if err != nil {
			os.Remove(path)
			return nil, fmt.Errorf("error encoding top frequencies: %w", err)
		}
		topFrequencies = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (id, stream_id, path, sample_rate, channels, samples, bytes, duration,
            activations, similarity, top_frequencies, tonal, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.StreamID, entry.Path, entry.SampleRate, entry.Channels, entry.Samples, entry.Bytes,
		entry.Duration, entry.Activations, similarity, topFrequencies, entry.Tonal, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("error adding recording: %w", err)
	}

	s.logger.Info("Recording saved",
		slog.String("recording_id", entry.ID),
		slog.Uint64("stream_id", uint64(entry.StreamID)),
		slog.String("path", entry.Path),
		slog.Int("bytes", entry.Bytes),
	)

	return entry, nil
}

// Consume lets the store act as a session sink
func (s *Store) Consume(ctx context.Context, rec *session.Recording) error {
	_, err := s.Save(ctx, rec)
	return err
}

const selectColumns = `SELECT id, stream_id, path, sample_rate, channels, samples, bytes, duration,
    activations, similarity, top_frequencies, tonal, created_at FROM recordings`

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := selectColumns + ` ORDER BY created_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing recordings: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recordings: %w", err)
	}
	return entries, nil
}

// Get returns the catalog entry for id
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return entry, err
}

// OpenAudio opens the WAV file of a recording. The caller closes it.
func (s *Store) OpenAudio(ctx context.Context, id string) (*os.File, *Entry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening recording file: %w", err)
	}
	return f, entry, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry          Entry
		similarity     sql.NullFloat64
		topFrequencies sql.NullString
		createdAt      int64
	)

	err := row.Scan(&entry.ID, &entry.StreamID, &entry.Path, &entry.SampleRate, &entry.Channels,
		&entry.Samples, &entry.Bytes, &entry.Duration, &entry.Activations, &similarity,
		&topFrequencies, &entry.Tonal, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning recording: %w", err)
	}

	if similarity.Valid {
		sim := similarity.Float64
		entry.Similarity = &sim
	}
	if topFrequencies.Valid && topFrequencies.String != "" {
		if err := json.Unmarshal([]byte(topFrequencies.String), &entry.TopFrequencies); err != nil {
			return nil, fmt.Errorf("error decoding top frequencies: %w", err)
		}
	}
	entry.CreatedAt = time.UnixMilli(createdAt).UTC()

	return &entry, nil
}
