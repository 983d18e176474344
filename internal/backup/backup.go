// Package backup reads iPhone backup containers produced by Finder/iTunes.
//
// A backup directory holds Manifest.db, an SQLite index mapping a logical
// (domain, relativePath) pair to a fileID, and the files themselves stored
// as <fileID[:2]>/<fileID>. Encrypted backups are detected and gated on a
// password; decryption itself is not performed.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"howett.net/plist"
	_ "modernc.org/sqlite"

	"github.com/hurttlocker/chatlift/internal/snapshot"
)

const (
	// ManifestDB is the index file every backup must contain.
	ManifestDB = "Manifest.db"

	// DefaultLocation is where macOS keeps device backups.
	DefaultLocation = "~/Library/Application Support/MobileSync/Backup"

	HomeDomain  = "HomeDomain"
	MediaDomain = "MediaDomain"

	// SMSDBPath is the message database inside HomeDomain.
	SMSDBPath = "Library/SMS/sms.db"
)

var (
	// ErrManifestMissing is returned when a directory has no Manifest.db.
	ErrManifestMissing = errors.New("backup manifest not found")

	// ErrEncrypted is returned for an encrypted backup opened without a
	// password. It matches fs.ErrPermission with errors.Is.
	ErrEncrypted = fmt.Errorf("backup is encrypted: %w", fs.ErrPermission)

	// ErrNotFound is returned when a file is absent from the manifest or disk.
	ErrNotFound = errors.New("backup file not found")
)

// Backup is an opened backup container.
type Backup struct {
	Dir       string
	Encrypted bool

	mu sync.Mutex
	db *sql.DB
}

// ManifestError carries a remediation hint alongside the sentinel error.
type ManifestError struct {
	Dir  string
	Err  error
	Hint string
}

func (e *ManifestError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Dir, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ManifestError) Unwrap() error { return e.Err }

// EnsureAccessible validates that dir is a usable backup: Manifest.db must
// exist, and an encrypted backup needs a non-empty password.
func EnsureAccessible(dir, password string) (encrypted bool, err error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false, &ManifestError{Dir: dir, Err: ErrManifestMissing, Hint: manifestHint()}
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestDB)); err != nil {
		return false, &ManifestError{Dir: dir, Err: ErrManifestMissing, Hint: manifestHint()}
	}

	encrypted = IsEncrypted(dir)
	if encrypted && strings.TrimSpace(password) == "" {
		return true, &ManifestError{
			Dir:  dir,
			Err:  ErrEncrypted,
			Hint: "supply the backup password, or create an unencrypted backup in Finder by unchecking \"Encrypt local backup\"",
		}
	}
	return encrypted, nil
}

func manifestHint() string {
	return "point at a device folder inside " + DefaultLocation + "/<UDID>, which contains Manifest.db"
}

// IsEncrypted reports whether any of the backup's property lists carries
// IsEncrypted=true.
func IsEncrypted(dir string) bool {
	for _, name := range []string{"Manifest.plist", "Status.plist", "Info.plist"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var doc map[string]any
		if _, err := plist.Unmarshal(data, &doc); err != nil {
			continue
		}
		switch v := doc["IsEncrypted"].(type) {
		case bool:
			if v {
				return true
			}
		case uint64:
			if v != 0 {
				return true
			}
		case int64:
			if v != 0 {
				return true
			}
		}
	}
	return false
}

// Open validates dir and opens its manifest read-only.
func Open(dir, password string) (*Backup, error) {
	encrypted, err := EnsureAccessible(dir, password)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", snapshot.URI(filepath.Join(dir, ManifestDB), "mode=ro&_pragma=query_only(1)"))
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	return &Backup{Dir: dir, Encrypted: encrypted, db: db}, nil
}

// Close releases the manifest connection.
func (b *Backup) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// FileID returns the content identifier of (domain, relativePath).
func (b *Backup) FileID(ctx context.Context, domain, relativePath string) (string, error) {
	b.mu.Lock()
	db := b.db
	b.mu.Unlock()
	if db == nil {
		return "", errors.New("backup is closed")
	}

	var id string
	err := db.QueryRowContext(ctx,
		`SELECT fileID FROM Files WHERE domain = ? AND relativePath = ? LIMIT 1`,
		domain, relativePath,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s:%s: %w", domain, relativePath, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("querying manifest: %w", err)
	}
	return id, nil
}

// ResolveFile maps (domain, relativePath) to the physical file in the backup.
func (b *Backup) ResolveFile(ctx context.Context, domain, relativePath string) (string, error) {
	id, err := b.FileID(ctx, domain, relativePath)
	if err != nil {
		return "", err
	}
	if len(id) < 2 {
		return "", fmt.Errorf("%s:%s: malformed file id %q: %w", domain, relativePath, id, ErrNotFound)
	}
	path := filepath.Join(b.Dir, id[:2], id)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s:%s: %s missing on disk: %w", domain, relativePath, id, ErrNotFound)
	}
	return path, nil
}

// StageSMSDB copies sms.db and any present -wal/-shm companions into a
// private temporary directory. The caller must Close the snapshot.
func (b *Backup) StageSMSDB(ctx context.Context) (*snapshot.Snapshot, error) {
	main, err := b.ResolveFile(ctx, HomeDomain, SMSDBPath)
	if err != nil {
		return nil, err
	}
	files := map[string]string{"sms.db": main}
	for _, suffix := range snapshot.Companions {
		if p, err := b.ResolveFile(ctx, HomeDomain, SMSDBPath+suffix); err == nil {
			files["sms.db"+suffix] = p
		}
	}
	return snapshot.FromFiles("sms.db", files)
}

// Locate implements store.Locator for attachment paths recorded on the
// device ("~/Library/SMS/Attachments/..."), which live in MediaDomain.
func (b *Backup) Locate(ctx context.Context, filename string) (string, error) {
	rel := strings.TrimSpace(filename)
	rel = strings.TrimPrefix(rel, "~/")
	rel = strings.TrimPrefix(rel, "/var/mobile/")
	if rel == "" {
		return "", fmt.Errorf("empty filename: %w", ErrNotFound)
	}
	return b.ResolveFile(ctx, MediaDomain, rel)
}

// DomainCount is one row of ListDomains.
type DomainCount struct {
	Domain string `json:"domain"`
	Files  int    `json:"files"`
}

// ListDomains summarizes the manifest by domain, largest first.
func (b *Backup) ListDomains(ctx context.Context, limit int) ([]DomainCount, error) {
	if limit <= 0 {
		limit = 50
	}
	b.mu.Lock()
	db := b.db
	b.mu.Unlock()
	if db == nil {
		return nil, errors.New("backup is closed")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT domain, COUNT(*) FROM Files GROUP BY domain ORDER BY COUNT(*) DESC, domain ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing domains: %w", err)
	}
	defer rows.Close()

	var out []DomainCount
	for rows.Next() {
		var d DomainCount
		if err := rows.Scan(&d.Domain, &d.Files); err != nil {
			return nil, fmt.Errorf("scanning domain row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
