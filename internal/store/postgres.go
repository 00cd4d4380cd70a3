package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"studynotes/api/internal/media"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const noteColumns = `id, title, date, type, excerpt, content, audio_url, image_urls, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (Note, error) {
	var item Note
	var imageURLsRaw []byte
	if err := row.Scan(
		&item.ID, &item.Title, &item.Date, &item.Type, &item.Excerpt, &item.Content,
		&item.AudioURL, &imageURLsRaw, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return Note{}, err
	}
	if len(imageURLsRaw) > 0 {
		if err := json.Unmarshal(imageURLsRaw, &item.ImageURLs); err != nil {
			return Note{}, fmt.Errorf("decode image urls: %w", err)
		}
	}
	return item, nil
}

func encodeImageURLs(urls []string) ([]byte, error) {
	if urls == nil {
		urls = []string{}
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return nil, fmt.Errorf("encode image urls: %w", err)
	}
	return encoded, nil
}

func (s *PostgresStore) ListNotes(ctx context.Context, filter NoteFilter) ([]Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes`
	args := []any{}
	if filter.Type != "" {
		query += ` WHERE type = $1`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		item, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	item, err := scanNote(s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=$1`, noteID))
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("get note: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, item Note) error {
	imageURLs, err := encodeImageURLs(item.ImageURLs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, date, type, excerpt, content, audio_url, image_urls, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.Title, item.Date, item.Type, item.Excerpt, item.Content, item.AudioURL, imageURLs, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, noteID string, patch NotePatch) (Note, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Date != nil {
		add("date", *patch.Date)
	}
	if patch.Type != nil {
		add("type", *patch.Type)
	}
	if patch.Excerpt != nil {
		add("excerpt", *patch.Excerpt)
	}
	if patch.Content != nil {
		add("content", *patch.Content)
	}
	if patch.AudioURL != nil {
		add("audio_url", *patch.AudioURL)
	}
	if patch.ImageURLs != nil {
		encoded, err := encodeImageURLs(*patch.ImageURLs)
		if err != nil {
			return Note{}, err
		}
		add("image_urls", encoded)
	}
	add("updated_at", time.Now().UTC())

	args = append(args, noteID)
	query := fmt.Sprintf(`UPDATE notes SET %s WHERE id=$%d RETURNING %s`, strings.Join(sets, ", "), len(args), noteColumns)
	item, err := scanNote(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("update note: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete note rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UploadInUse reports whether any note or recording still references the
// stored object name.
func (s *PostgresStore) UploadInUse(ctx context.Context, name string) (bool, error) {
	var inUse bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notes WHERE audio_url=$1 OR image_urls @> jsonb_build_array($1::text)
		) OR EXISTS (
			SELECT 1 FROM audio_recordings WHERE filename=$2
		)
	`, media.URLFor(name), name).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("check upload references: %w", err)
	}
	return inUse, nil
}

const recordingColumns = `id, title, date, filename, duration, transcript, COALESCE(note_id, ''), checksum, created_at`

func scanRecording(row rowScanner) (AudioRecording, error) {
	var item AudioRecording
	err := row.Scan(&item.ID, &item.Title, &item.Date, &item.Filename, &item.Duration, &item.Transcript, &item.NoteID, &item.Checksum, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListRecordings(ctx context.Context) ([]AudioRecording, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordingColumns+` FROM audio_recordings ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()

	items := make([]AudioRecording, 0)
	for rows.Next() {
		item, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetRecording(ctx context.Context, recordingID string) (AudioRecording, error) {
	item, err := scanRecording(s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM audio_recordings WHERE id=$1`, recordingID))
	if errors.Is(err, sql.ErrNoRows) {
		return AudioRecording{}, ErrNotFound
	}
	if err != nil {
		return AudioRecording{}, fmt.Errorf("get recording: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) InsertRecording(ctx context.Context, item AudioRecording) error {
	var noteID any
	if item.NoteID != "" {
		noteID = item.NoteID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_recordings (id, title, date, filename, duration, transcript, note_id, checksum, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.Title, item.Date, item.Filename, item.Duration, item.Transcript, noteID, item.Checksum, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRecordingTranscript(ctx context.Context, recordingID, transcript string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE audio_recordings SET transcript=$1 WHERE id=$2`, transcript, recordingID)
	if err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transcript rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
