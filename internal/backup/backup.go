// Package backup snapshots the context database on a schedule so a corrupted
// or lost store can be rebuilt without regenerating every record from the
// collaborator services. Snapshots use VACUUM INTO, which is consistent even
// with WAL mode, and are verified with an integrity check before they count.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const snapshotPrefix = "contextengine-"

// Config holds snapshot service configuration.
type Config struct {
	// DBPath is the context database file to snapshot.
	DBPath string

	// Dir is where snapshots are written.
	Dir string

	// Interval is the time between snapshots (default: 6h).
	Interval time.Duration

	// Keep is how many recent snapshots to retain (default: 8). Snapshots
	// older than MaxAge are removed regardless of count.
	Keep   int
	MaxAge time.Duration
}

// Snapshot describes one stored snapshot file.
type Snapshot struct {
	Path      string
	CreatedAt time.Time
	Size      int64
}

// Service writes periodic snapshots of the context database.
type Service struct {
	cfg Config
}

// NewService validates the configuration and prepares the snapshot directory.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup: snapshot directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 8
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create snapshot directory: %w", err)
	}
	return &Service{cfg: cfg}, nil
}

// Run snapshots on the configured interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("backup: snapshotting %s every %v into %s", s.cfg.DBPath, s.cfg.Interval, s.cfg.Dir)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.SnapshotNow()
			if err != nil {
				log.Printf("WARNING: backup: scheduled snapshot failed: %v", err)
				continue
			}
			log.Printf("backup: wrote %s (%d bytes)", snap.Path, snap.Size)
		}
	}
}

// SnapshotNow writes and verifies one snapshot, then prunes old ones.
func (s *Service) SnapshotNow() (*Snapshot, error) {
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("backup: database not found: %w", err)
	}

	name := snapshotPrefix + time.Now().UTC().Format("20060102-150405.000000") + ".db"
	path := filepath.Join(s.cfg.Dir, name)

	if err := vacuumInto(s.cfg.DBPath, path); err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := verifySnapshot(path); err != nil {
		os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}

	if err := s.prune(); err != nil {
		log.Printf("WARNING: backup: pruning failed: %v", err)
	}

	return &Snapshot{Path: path, CreatedAt: info.ModTime(), Size: info.Size()}, nil
}

// List returns the stored snapshots, newest first.
func (s *Service) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read snapshot directory: %w", err)
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), snapshotPrefix) || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Path:      filepath.Join(s.cfg.Dir, entry.Name()),
			CreatedAt: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// Restore replaces the context database with a verified snapshot. The store
// must be closed first; a pre-restore copy of the current file is kept on
// failure so a bad snapshot cannot destroy the live database.
func (s *Service) Restore(snapshotPath string) error {
	if err := verifySnapshot(snapshotPath); err != nil {
		return fmt.Errorf("backup: refusing to restore: %w", err)
	}

	preRestore := s.cfg.DBPath + ".pre-restore"
	if _, err := os.Stat(s.cfg.DBPath); err == nil {
		if err := vacuumInto(s.cfg.DBPath, preRestore); err != nil {
			return fmt.Errorf("backup: failed to save current database: %w", err)
		}
	}

	if err := copyFile(snapshotPath, s.cfg.DBPath); err != nil {
		return err
	}
	if err := verifySnapshot(s.cfg.DBPath); err != nil {
		if _, statErr := os.Stat(preRestore); statErr == nil {
			if rbErr := copyFile(preRestore, s.cfg.DBPath); rbErr != nil {
				return fmt.Errorf("backup: restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
			}
			return fmt.Errorf("backup: restore failed, rolled back: %w", err)
		}
		return err
	}

	os.Remove(preRestore)
	log.Printf("backup: restored database from %s", snapshotPath)
	return nil
}

// prune keeps the newest Keep snapshots and drops anything past MaxAge.
func (s *Service) prune() error {
	snaps, err := s.List()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.cfg.MaxAge)
	var lastErr error
	for i, snap := range snaps {
		if i < s.cfg.Keep && snap.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(snap.Path); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func vacuumInto(sourcePath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("backup: failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("backup: vacuum into failed: %w", err)
	}
	return nil
}

func verifySnapshot(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed: %s", result)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("backup: failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("backup: failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("backup: copy failed: %w", err)
	}
	return out.Sync()
}
