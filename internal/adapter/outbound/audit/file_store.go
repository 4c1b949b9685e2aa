// Package audit persists decision and change records as JSON Lines with
// daily rotation, size caps and retention cleanup.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/accessgate/internal/domain/audit"
)

const dateLayout = "2006-01-02"

// logFilePattern matches decisions-YYYY-MM-DD.jsonl and decisions-YYYY-MM-DD-N.jsonl.
var logFilePattern = regexp.MustCompile(`^decisions-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

type logFile struct {
	name   string
	date   string
	suffix int
}

func parseLogFilename(name string) (logFile, bool) {
	m := logFilePattern.FindStringSubmatch(name)
	if m == nil {
		return logFile{}, false
	}
	lf := logFile{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return logFile{}, false
		}
		lf.suffix = n
	}
	return lf, true
}

func logFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("decisions-%s.jsonl", date)
	}
	return fmt.Sprintf("decisions-%s-%d.jsonl", date, suffix)
}

// FileConfig configures FileStore.
type FileConfig struct {
	// Dir holds the log files. Created with 0700 if missing.
	Dir string
	// RetentionDays is how long files are kept (default 30).
	RetentionDays int
	// MaxFileSizeMB triggers size rotation within a day (default 100).
	MaxFileSizeMB int
}

// FileStore implements audit.Store and audit.QueryStore on local files.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int

	mu            sync.Mutex
	current       *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool

	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewFileStore opens today's file, removes expired files and starts the
// hourly retention loop. Close stops the loop.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		now:           time.Now,
		cancel:        cancel,
		done:          make(chan struct{}),
		logger:        logger,
	}

	today := s.now().UTC().Format(dateLayout)
	if err := s.openLocked(today, s.highestSuffix(today)); err != nil {
		cancel()
		return nil, err
	}
	s.cleanup()

	go s.retentionLoop(ctx)
	return s, nil
}

// Dir returns the log directory.
func (s *FileStore) Dir() string { return s.dir }

// Append writes records as JSON lines, rotating by record date and file size.
func (s *FileStore) Append(_ context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit file store is closed")
	}

	for _, rec := range records {
		date := rec.Timestamp.UTC().Format(dateLayout)
		if date != s.currentDate {
			if err := s.openLocked(date, s.highestSuffix(date)); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.openLocked(s.currentDate, s.currentSuffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		n, err := s.current.Write(append(data, '\n'))
		s.currentSize += int64(n)
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
	}
	return nil
}

// Flush syncs the current file.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	return s.current.Sync()
}

// Close stops the retention loop and closes the current file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()

	var err error
	if s.current != nil {
		_ = s.current.Sync()
		err = s.current.Close()
		s.current = nil
	}
	s.mu.Unlock()

	<-s.done
	return err
}

// Query scans the log files newest first and returns matching records.
// Files whose date falls outside the filter window are skipped.
func (s *FileStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	files, err := s.listFiles()
	if err != nil {
		return nil, err
	}

	limit := filter.EffectiveLimit()
	result := make([]audit.Record, 0, limit)

	for i := len(files) - 1; i >= 0 && len(result) < limit; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !dateInWindow(files[i].date, filter) {
			continue
		}

		records, err := s.readFile(files[i].name)
		if err != nil {
			return nil, err
		}
		for j := len(records) - 1; j >= 0 && len(result) < limit; j-- {
			if filter.Matches(records[j]) {
				result = append(result, records[j])
			}
		}
	}
	return result, nil
}

func dateInWindow(date string, f audit.Filter) bool {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return false
	}
	if !f.StartTime.IsZero() && day.Add(24*time.Hour).Before(f.StartTime.UTC()) {
		return false
	}
	if !f.EndTime.IsZero() && day.After(f.EndTime.UTC()) {
		return false
	}
	return true
}

// readFile holds s.mu so a concurrent Append never exposes a half-written line.
func (s *FileStore) readFile(name string) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	var records []audit.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec audit.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("skipping malformed audit line", "file", name, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return records, nil
}

// listFiles returns the log files in chronological order.
func (s *FileStore) listFiles() ([]logFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read audit directory: %w", err)
	}
	var files []logFile
	for _, e := range entries {
		if lf, ok := parseLogFilename(e.Name()); ok {
			files = append(files, lf)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
	return files, nil
}

func (s *FileStore) highestSuffix(date string) int {
	files, err := s.listFiles()
	if err != nil {
		return 0
	}
	highest := 0
	for _, f := range files {
		if f.date == date && f.suffix > highest {
			highest = f.suffix
		}
	}
	return highest
}

// openLocked switches the current file. Must be called with s.mu held
// (or before the store is shared).
func (s *FileStore) openLocked(date string, suffix int) error {
	if s.current != nil {
		_ = s.current.Sync()
		_ = s.current.Close()
		s.current = nil
	}

	name := logFilename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", name, err)
	}

	s.current = f
	s.currentDate = date
	s.currentSuffix = suffix
	s.currentSize = info.Size()
	return nil
}

// cleanup deletes files older than the retention period.
// The file currently being written is never removed.
func (s *FileStore) cleanup() {
	files, err := s.listFiles()
	if err != nil {
		s.logger.Error("audit cleanup failed", "dir", s.dir, "error", err)
		return
	}

	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays).Format(dateLayout)
	s.mu.Lock()
	active := logFilename(s.currentDate, s.currentSuffix)
	s.mu.Unlock()

	deleted := 0
	for _, f := range files {
		if f.date >= cutoff || f.name == active {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.logger.Error("failed to delete expired audit file", "file", f.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("audit cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) retentionLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

var (
	_ audit.Store      = (*FileStore)(nil)
	_ audit.QueryStore = (*FileStore)(nil)
)
