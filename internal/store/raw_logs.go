package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawLog is an archived lidar text log.
type RawLog struct {
	ID                int64
	IngestRunID       sql.NullInt64
	FetchedAt         time.Time
	Property          string
	FileName          string
	PayloadCompressed []byte
	PayloadHash       string
}

// HashLog returns the hex sha256 of a log payload, the archive dedupe key.
func HashLog(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ArchiveRawLog stores a gzip-compressed copy of a log file.
// Returns the archive ID, or 0 if identical content was already archived.
func (s *Store) ArchiveRawLog(runID *int64, property, fileName string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress log: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	var ingestRunID sql.NullInt64
	if runID != nil {
		ingestRunID = sql.NullInt64{Int64: *runID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_logs (ingest_run_id, fetched_at, property, file_name, payload_compressed, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, ingestRunID, time.Now().UTC(), property, fileName, buf.Bytes(), HashLog(payload))
	if err != nil {
		return 0, fmt.Errorf("insert raw log: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// Payload decompresses the archived log.
func (l *RawLog) Payload() ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(l.PayloadCompressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// GetRawLog retrieves an archived log by ID.
func (s *Store) GetRawLog(id int64) (*RawLog, error) {
	row := s.db.QueryRow(`
		SELECT id, ingest_run_id, fetched_at, property, file_name, payload_compressed, payload_hash
		FROM raw_logs WHERE id = ?
	`, id)

	var l RawLog
	err := row.Scan(&l.ID, &l.IngestRunID, &l.FetchedAt, &l.Property, &l.FileName, &l.PayloadCompressed, &l.PayloadHash)
	if err != nil {
		return nil, fmt.Errorf("get raw log %d: %w", id, err)
	}
	return &l, nil
}

// GetRawLogIDsForDay returns the IDs of every archived version of a
// property's logs for date, oldest first. Log file names start with the
// day as yyyymmdd.
func (s *Store) GetRawLogIDsForDay(property string, date time.Time) ([]int64, error) {
	rows, err := s.db.Query(`
		SELECT id FROM raw_logs
		WHERE property = ? AND file_name LIKE ?
		ORDER BY file_name, id
	`, property, date.Format("20060102")+"-%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type RawLogStats struct {
	TotalCount      int
	TotalSizeBytes  int64
	OldestFetchedAt time.Time
	NewestFetchedAt time.Time
	CountByProperty map[string]int
}

func (s *Store) GetRawLogStats() (*RawLogStats, error) {
	stats := &RawLogStats{CountByProperty: make(map[string]int)}

	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0) FROM raw_logs`)
	if err := row.Scan(&stats.TotalCount, &stats.TotalSizeBytes); err != nil {
		return nil, err
	}
	if stats.TotalCount == 0 {
		return stats, nil
	}

	// Aggregates lose the column type, so read the bounds as plain rows.
	if err := s.db.QueryRow(`SELECT fetched_at FROM raw_logs ORDER BY fetched_at ASC LIMIT 1`).
		Scan(&stats.OldestFetchedAt); err != nil {
		return nil, fmt.Errorf("oldest raw log: %w", err)
	}
	if err := s.db.QueryRow(`SELECT fetched_at FROM raw_logs ORDER BY fetched_at DESC LIMIT 1`).
		Scan(&stats.NewestFetchedAt); err != nil {
		return nil, fmt.Errorf("newest raw log: %w", err)
	}

	rows, err := s.db.Query(`SELECT property, COUNT(*) FROM raw_logs GROUP BY property`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var property string
		var count int
		if err := rows.Scan(&property, &count); err != nil {
			return nil, err
		}
		stats.CountByProperty[property] = count
	}
	return stats, rows.Err()
}

// CleanupOldRawLogs deletes archived logs older than retentionDays and
// returns the number removed.
func (s *Store) CleanupOldRawLogs(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM raw_logs
		WHERE fetched_at < DATE('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
