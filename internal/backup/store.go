// Package backup implements the durable snapshot store: named, dated,
// human-readable YAML documents that double as the system's source of truth.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gopkg.in/yaml.v3"

	"taproom/internal/core"
	"taproom/internal/model"
	"taproom/internal/validate"
	"taproom/pkg/apperrors"
	"taproom/pkg/telemetry"
)

// Backup types recorded in the sidecar metadata.
const (
	TypeManual     = "manual"
	TypeAuto       = "auto"
	TypeSafety     = "safety"
	TypeCheckpoint = "checkpoint"
)

const (
	backupSuffix = "-backup.yaml"
	metaSuffix   = ".meta"
	tempSuffix   = ".tmp"
)

var backupNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*-backup\.yaml$`)

// Record describes one stored backup for listings.
type Record struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	CreatedBy    string    `json:"created_by,omitempty"`
	Description  string    `json:"description,omitempty"`
	BackupType   string    `json:"backup_type,omitempty"`
	FileChecksum string    `json:"file_checksum,omitempty"`
	LooksValid   bool      `json:"looks_valid"`
}

// sidecar is the companion metadata document written next to each backup.
type sidecar struct {
	ID                 string `json:"id"`
	BackupName         string `json:"backup_name"`
	CreatedAt          string `json:"created_at"`
	CreatedBy          string `json:"created_by"`
	Description        string `json:"description"`
	BackupType         string `json:"backup_type"`
	FileSize           int64  `json:"file_size"`
	FileChecksum       string `json:"file_checksum"`
	VerificationPassed bool   `json:"verification_passed"`
}

// Store persists and retrieves named snapshot documents in a single
// directory. Writes go through a temp-write, re-read-verify, atomic-rename
// sequence guarded by a per-name lock.
type Store struct {
	dir     string
	logger  core.ILogger
	metrics *telemetry.MetricsHolder
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the backup store, ensuring the directory exists.
func NewStore(dir string, logger core.ILogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &Store{
		dir:     dir,
		logger:  logger.WithField("component", "backup_store"),
		metrics: telemetry.GetGlobalMetrics(),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// SetNow overrides the clock, for tests.
func (s *Store) SetNow(now func() time.Time) { s.now = now }

// Dir returns the backup directory path.
func (s *Store) Dir() string { return s.dir }

// DailyName returns the dated slot name for a given day. Lexicographic order
// of these names is chronological order.
func DailyName(t time.Time) string {
	return t.Format("2006-01-02") + backupSuffix
}

// AutoName returns the name used by scheduled automatic backups.
func AutoName(t time.Time) string {
	return "auto-" + t.Format("2006-01-02") + backupSuffix
}

// ManualName returns the name used for operator-requested backups.
func ManualName(t time.Time) string {
	return "manual-" + t.Format("20060102-150405") + backupSuffix
}

// SafetyName returns the name used for pre-restore safety snapshots.
func SafetyName(t time.Time) string {
	return "safety-" + t.Format("20060102-150405") + backupSuffix
}

func (s *Store) nameLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) validName(name string) error {
	if !backupNameRe.MatchString(name) || name != filepath.Base(name) {
		return fmt.Errorf("invalid backup name %q: must match <label>%s", name, backupSuffix)
	}
	return nil
}

// Persist serializes the snapshot, writes it to a temp file, re-reads and
// structurally compares the written bytes against the candidate, and only
// then renames into the final slot. A round-trip mismatch is a
// PersistenceError: a verified-corrupt document must never become current.
func (s *Store) Persist(name string, snap *model.Snapshot, description, backupType string) (string, error) {
	if err := s.validName(name); err != nil {
		return "", &apperrors.PersistenceError{Name: name, Op: "naming", Err: err}
	}

	doc := newDocument(name, description, snap, s.now())
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", &apperrors.PersistenceError{Name: name, Op: "marshal", Err: err}
	}

	lock := s.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	final := filepath.Join(s.dir, name)
	temp := final + tempSuffix

	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return "", &apperrors.PersistenceError{Name: name, Op: "write", Err: err}
	}
	defer os.Remove(temp)

	// Round-trip verification: what landed on disk must parse back to
	// exactly the document we intended to write.
	written, err := os.ReadFile(temp)
	if err != nil {
		return "", &apperrors.PersistenceError{Name: name, Op: "verify-read", Err: err}
	}
	var reparsed document
	if err := yaml.Unmarshal(written, &reparsed); err != nil {
		return "", &apperrors.PersistenceError{Name: name, Op: "verify-parse", Err: err}
	}
	if !reflect.DeepEqual(doc, reparsed) {
		return "", &apperrors.PersistenceError{Name: name, Op: "verify-compare",
			Err: fmt.Errorf("round-trip comparison mismatch, write corruption detected")}
	}

	if err := os.Rename(temp, final); err != nil {
		return "", &apperrors.PersistenceError{Name: name, Op: "rename", Err: err}
	}

	s.writeSidecar(name, description, backupType, written)
	s.metrics.BackupsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", backupType)))

	s.logger.Info("Backup persisted", "name", name, "type", backupType, "bytes", len(written))
	return final, nil
}

// PersistCurrent writes the snapshot into today's dated slot. Every committed
// state change flows through here, which is what makes the backup directory
// the durable store rather than a copy of one.
func (s *Store) PersistCurrent(snap *model.Snapshot) error {
	_, err := s.Persist(DailyName(s.now()), snap, "state checkpoint", TypeCheckpoint)
	return err
}

// writeSidecar records display metadata next to the backup. The sidecar is
// informational only; failures are logged, never fatal.
func (s *Store) writeSidecar(name, description, backupType string, content []byte) {
	sum := sha256.Sum256(content)
	meta := sidecar{
		ID:                 uuid.NewString(),
		BackupName:         name,
		CreatedAt:          s.now().Format(time.RFC3339),
		CreatedBy:          CreatedBy,
		Description:        description,
		BackupType:         backupType,
		FileSize:           int64(len(content)),
		FileChecksum:       hex.EncodeToString(sum[:]),
		VerificationPassed: true,
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(s.dir, stem(name)+metaSuffix), data, 0o644)
	}
	if err != nil {
		s.logger.Warn("Failed to write backup sidecar metadata", "name", name, "error", err)
	}
}

func (s *Store) readSidecar(name string) *sidecar {
	data, err := os.ReadFile(filepath.Join(s.dir, stem(name)+metaSuffix))
	if err != nil {
		return nil
	}
	var meta sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil
	}
	return &meta
}

// Load reads, parses and fully validates a named backup. Parse and structure
// failures surface as CorruptedSnapshotError; rule violations as
// ValidationError. Legacy flat documents are transparently migrated.
func (s *Store) Load(name string) (*model.Snapshot, error) {
	if err := s.validName(name); err != nil {
		// Legacy documents may carry any name; only reject path escapes.
		if name != filepath.Base(name) || !strings.HasSuffix(name, ".yaml") {
			return nil, err
		}
	}

	lock := s.nameLock(name)
	lock.Lock()
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	lock.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrBackupNotFound, name)
		}
		return nil, fmt.Errorf("failed to read backup %q: %w", name, err)
	}

	snap, err := s.parse(name, data)
	if err != nil {
		return nil, err
	}

	if err := validate.Snapshot(snap); err != nil {
		return nil, err
	}

	// Backups are human-editable, so a checksum mismatch on an otherwise
	// valid document is noted and the snapshot re-sealed, not rejected.
	if snap.Metadata.Checksum != "" && !snap.VerifyChecksum() {
		s.logger.Warn("Backup content checksum mismatch, document was modified after creation", "name", name)
	}

	snap.Seal(s.now())
	return snap, nil
}

func (s *Store) parse(name string, data []byte) (*model.Snapshot, error) {
	if len(data) == 0 {
		return nil, &apperrors.CorruptedSnapshotError{Name: name, Reason: "file is empty"}
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &apperrors.CorruptedSnapshotError{Name: name, Reason: "unparsable document", Err: err}
	}
	if raw == nil {
		return nil, &apperrors.CorruptedSnapshotError{Name: name, Reason: "document is empty"}
	}

	if isLegacyFormat(raw) {
		s.logger.Info("Detected legacy backup format, migrating", "name", name)
		return migrateLegacy(name, data, s.now())
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &apperrors.CorruptedSnapshotError{Name: name, Reason: "malformed document structure", Err: err}
	}
	if err := doc.structuralCheck(name); err != nil {
		return nil, err
	}

	return doc.toSnapshot(name)
}

// LoadMostRecent loads the newest backup by name, or returns (nil, nil) when
// the directory holds none so the caller can seed defaults.
func (s *Store) LoadMostRecent() (*model.Snapshot, string, error) {
	names, err := s.backupNames()
	if err != nil {
		return nil, "", err
	}
	if len(names) == 0 {
		return nil, "", nil
	}

	// Newest first; the date-stamped naming makes this chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	name := names[0]
	snap, err := s.Load(name)
	if err != nil {
		return nil, name, err
	}
	return snap, name, nil
}

// List returns all backups newest-first. Each record carries a fast
// looks-valid check (non-empty and parses), deliberately cheaper than the
// full schema verification done by Verify.
func (s *Store) List() ([]Record, error) {
	names, err := s.backupNames()
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	records := make([]Record, 0, len(names))
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			s.logger.Warn("Failed to stat backup", "name", name, "error", err)
			continue
		}

		rec := Record{
			Name:       name,
			Path:       path,
			Size:       info.Size(),
			CreatedAt:  info.ModTime(),
			LooksValid: s.quickCheck(path, info.Size()),
		}
		if meta := s.readSidecar(name); meta != nil {
			rec.ID = meta.ID
			rec.CreatedBy = meta.CreatedBy
			rec.Description = meta.Description
			rec.BackupType = meta.BackupType
			rec.FileChecksum = meta.FileChecksum
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) quickCheck(path string, size int64) bool {
	if size == 0 {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var raw map[string]interface{}
	return yaml.Unmarshal(data, &raw) == nil && raw != nil
}

// PruneResult reports a retention cleanup pass.
type PruneResult struct {
	Deleted int      `json:"deleted"`
	Kept    int      `json:"kept"`
	Errors  []string `json:"errors,omitempty"`
}

// Prune deletes backups older than retentionDays or beyond maxCount, oldest
// first. Individual deletion failures are collected, not fatal to the batch.
func (s *Store) Prune(retentionDays, maxCount int) PruneResult {
	var result PruneResult

	names, err := s.backupNames()
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	// Oldest first so the count cap keeps the newest files.
	sort.Strings(names)
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	remaining := len(names)

	for _, name := range names {
		tooOld := false
		if stamp, ok := dateFromName(name); ok {
			tooOld = stamp.Before(cutoff)
		}
		overCap := maxCount > 0 && remaining > maxCount

		if !tooOld && !overCap {
			result.Kept++
			continue
		}

		if err := s.delete(name); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", name, err))
			result.Kept++
			continue
		}
		remaining--
		result.Deleted++
		s.logger.Info("Pruned old backup", "name", name, "too_old", tooOld, "over_cap", overCap)
	}

	return result
}

func (s *Store) delete(name string) error {
	lock := s.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		return err
	}
	// Sidecar removal is best effort.
	_ = os.Remove(filepath.Join(s.dir, stem(name)+metaSuffix))
	return nil
}

func (s *Store) backupNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), backupSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Healthy reports whether the backup directory is reachable and writable.
func (s *Store) Healthy() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("backup directory unreachable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup path %q is not a directory", s.dir)
	}
	return nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, ".yaml")
}

// dateFromName extracts the encoded date from a backup filename. Safety and
// manual backups carry a full timestamp; dated slots carry a day.
func dateFromName(name string) (time.Time, bool) {
	base := strings.TrimSuffix(name, backupSuffix)
	base = strings.TrimPrefix(base, "auto-")
	for _, prefix := range []string{"safety-", "manual-"} {
		if rest, ok := strings.CutPrefix(base, prefix); ok {
			if t, err := time.Parse("20060102-150405", rest); err == nil {
				return t, true
			}
			return time.Time{}, false
		}
	}
	if t, err := time.Parse("2006-01-02", base); err == nil {
		return t, true
	}
	return time.Time{}, false
}
