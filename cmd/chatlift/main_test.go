package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/chatlift/internal/backup"
	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/observe"
)

// isolate points HOME, the salt file and the config file at a temp dir so
// the tests never read or write the real ~/.chatlift.
func isolate(t *testing.T) (configFlag []string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CHATLIFT_SALT_FILE", filepath.Join(home, "salt"))
	for _, k := range []string{"CHATLIFT_OUT", "CHATLIFT_DB", "CHATLIFT_ATTACHMENTS", "CHATLIFT_BACKUP",
		"CHATLIFT_BACKUP_PASSWORD", "CHATLIFT_TRANSCRIBE", "CHATLIFT_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	return []string{"--config", filepath.Join(home, "absent.yaml"), "--log-level", "error"}
}

func execute(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errBuf bytes.Buffer
	code = run(context.Background(), args, &out, &errBuf)
	return code, out.String(), errBuf.String()
}

func writeChatDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, s := range []string{
		`CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT)`,
		`CREATE TABLE message (ROWID INTEGER PRIMARY KEY, guid TEXT, text TEXT, handle_id INTEGER, date INTEGER, is_from_me INTEGER)`,
		`CREATE TABLE attachment (ROWID INTEGER PRIMARY KEY, guid TEXT, filename TEXT, mime_type TEXT, uti TEXT, transfer_name TEXT)`,
		`CREATE TABLE message_attachment_join (message_id INTEGER, attachment_id INTEGER)`,
		`INSERT INTO handle VALUES (1, '+15550100001')`,
		`INSERT INTO message VALUES (1, 'C-1', 'are you there?', 1, 700000000000000000, 0)`,
		`INSERT INTO message VALUES (2, 'C-2', 'yes', 1, 700000030000000000, 1)`,
		`INSERT INTO message VALUES (3, 'C-3', NULL, 1, 700000090000000000, 0)`,
		`INSERT INTO attachment VALUES (1, 'A-1', '~/Library/Messages/Attachments/00/lost.jpg', 'image/jpeg', 'public.jpeg', 'lost.jpg')`,
		`INSERT INTO message_attachment_join VALUES (3, 1)`,
	} {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	return path
}

func TestExtractCommand(t *testing.T) {
	cfg := isolate(t)
	dbPath := writeChatDB(t)
	outDir := filepath.Join(t.TempDir(), "case")

	code, stdout, stderr := execute(t, append(cfg,
		"extract", "--db", dbPath, "--out", outDir, "--attachments")...)
	if code != 0 {
		t.Fatalf("exit %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Messages:      3") {
		t.Errorf("run summary missing message count:\n%s", stdout)
	}

	f, err := os.Open(filepath.Join(outDir, observe.MessagesFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	msgs, err := canonical.ReadJSONL(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].SenderID == "+15550100001" {
		t.Error("sender id should be pseudonymized by default")
	}
	if _, err := os.Stat(filepath.Join(os.Getenv("HOME"), "salt")); err != nil {
		t.Errorf("salt not created: %v", err)
	}
	for _, name := range []string{observe.ManifestFile, observe.RunReportFile, observe.MetricsFile, observe.MissingFile} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	// audit the same output
	code, stdout, stderr = execute(t, append(cfg, "audit", filepath.Join(outDir, observe.MessagesFile))...)
	if code != 0 {
		t.Fatalf("audit exit %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"Messages:       3", "1 missing", "imessage:handle:+15550100001"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("audit output missing %q:\n%s", want, stdout)
		}
	}
}

func TestExtractRawIDs(t *testing.T) {
	cfg := isolate(t)
	outDir := filepath.Join(t.TempDir(), "out")

	code, _, stderr := execute(t, append(cfg, "extract", "--db", writeChatDB(t), "--out", outDir, "--raw-ids")...)
	if code != 0 {
		t.Fatalf("exit %d, stderr: %s", code, stderr)
	}
	f, err := os.Open(filepath.Join(outDir, observe.MessagesFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	msgs, err := canonical.ReadJSONL(f)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].SenderID != "+15550100001" {
		t.Errorf("sender id = %q, want raw handle", msgs[0].SenderID)
	}
}

func TestAuditCatalogProvenance(t *testing.T) {
	cfg := isolate(t)
	dbPath := writeChatDB(t)
	outDir := filepath.Join(t.TempDir(), "case")

	att := filepath.Join(os.Getenv("HOME"), "Library", "Messages", "Attachments", "00", "lost.jpg")
	if err := os.MkdirAll(filepath.Dir(att), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(att, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	extract := append(cfg, "extract", "--db", dbPath, "--out", outDir, "--attachments")
	if code, _, stderr := execute(t, extract...); code != 0 {
		t.Fatalf("first extract exit %d, stderr: %s", code, stderr)
	}
	data, err := os.ReadFile(filepath.Join(outDir, observe.RunReportFile))
	if err != nil {
		t.Fatal(err)
	}
	var first struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(data, &first); err != nil || first.RunID == "" {
		t.Fatalf("run report: %v %s", err, data)
	}
	if code, _, stderr := execute(t, extract...); code != 0 {
		t.Fatalf("second extract exit %d, stderr: %s", code, stderr)
	}

	messages := filepath.Join(outDir, observe.MessagesFile)
	code, stdout, stderr := execute(t, append(cfg, "audit", messages, "--json", "--vacuum")...)
	if code != 0 {
		t.Fatalf("audit exit %d, stderr: %s", code, stderr)
	}
	var got struct {
		Catalog struct {
			Provenance map[string]string `json:"provenance"`
			Blobs      int               `json:"blobs"`
			Runs       int               `json:"runs"`
			Vacuumed   bool              `json:"vacuumed"`
		} `json:"catalog"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("audit output: %v\n%s", err, stdout)
	}
	if len(got.Catalog.Provenance) != 1 {
		t.Fatalf("provenance = %v", got.Catalog.Provenance)
	}
	for hash, run := range got.Catalog.Provenance {
		if run != first.RunID {
			t.Errorf("%s stored by %q, want first run %q", hash, run, first.RunID)
		}
	}
	if got.Catalog.Blobs != 1 || got.Catalog.Runs != 2 || !got.Catalog.Vacuumed {
		t.Errorf("catalog = %+v", got.Catalog)
	}

	code, stdout, stderr = execute(t, append(cfg, "audit", messages, "--catalog", outDir)...)
	if code != 0 {
		t.Fatalf("audit exit %d, stderr: %s", code, stderr)
	}
	for _, want := range []string{"Catalog:        1 blobs", "stored by " + first.RunID} {
		if !strings.Contains(stdout, want) {
			t.Errorf("audit output missing %q:\n%s", want, stdout)
		}
	}
}

func TestExitCodes(t *testing.T) {
	cfg := isolate(t)
	dir := t.TempDir()

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing database",
			args:     []string{"extract", "--db", filepath.Join(dir, "nope.db"), "--out", filepath.Join(dir, "o1")},
			wantCode: 5,
			wantErr:  `"code": "database_unavailable"`,
		},
		{
			name:     "backup without manifest",
			args:     []string{"extract", "--backup", dir, "--out", filepath.Join(dir, "o2")},
			wantCode: 3,
			wantErr:  `"code": "backup_manifest_missing"`,
		},
		{
			name:     "unknown engine",
			args:     []string{"extract", "--db", filepath.Join(dir, "nope.db"), "--engine", "bogus"},
			wantCode: 1,
			wantErr:  "unknown transcription engine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, append(cfg, tt.args...)...)
			if code != tt.wantCode {
				t.Errorf("exit = %d, want %d (stderr: %s)", code, tt.wantCode, stderr)
			}
			if !strings.Contains(stderr, tt.wantErr) {
				t.Errorf("stderr missing %q:\n%s", tt.wantErr, stderr)
			}
		})
	}
}

func TestBackupCommands(t *testing.T) {
	cfg := isolate(t)
	dir := t.TempDir()

	db, err := sql.Open("sqlite", filepath.Join(dir, backup.ManifestDB))
	if err != nil {
		t.Fatal(err)
	}
	const fileID = "3d0d7e5fb2ce288813306e4d4636395e047a3d28"
	for _, s := range []string{
		`CREATE TABLE Files (fileID TEXT PRIMARY KEY, domain TEXT, relativePath TEXT, flags INTEGER, file BLOB)`,
		`INSERT INTO Files (fileID, domain, relativePath, flags) VALUES ('` + fileID + `', 'HomeDomain', 'Library/SMS/sms.db', 1)`,
	} {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	db.Close()
	if err := os.MkdirAll(filepath.Join(dir, fileID[:2]), 0o755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, fileID[:2], fileID)
	if err := os.WriteFile(want, []byte("sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := execute(t, append(cfg, "backup", "resolve", dir, "Library/SMS/sms.db")...)
	if code != 0 {
		t.Fatalf("resolve exit %d: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != want {
		t.Errorf("resolve printed %q, want %q", stdout, want)
	}

	code, _, stderr = execute(t, append(cfg, "backup", "resolve", dir, "Library/SMS/none.db")...)
	if code != 3 || !strings.Contains(stderr, "backup_file_not_found") {
		t.Errorf("unknown path: exit %d, stderr %s", code, stderr)
	}

	code, stdout, stderr = execute(t, append(cfg, "backup", "info", dir, "--json")...)
	if code != 0 {
		t.Fatalf("info exit %d: %s", code, stderr)
	}
	var info struct {
		Encrypted bool `json:"encrypted"`
		HasSMSDB  bool `json:"has_sms_db"`
	}
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("info output is not JSON: %v\n%s", err, stdout)
	}
	if info.Encrypted || !info.HasSMSDB {
		t.Errorf("info = %+v", info)
	}
}

func TestConfigCommand(t *testing.T) {
	cfg := isolate(t)
	t.Setenv("CHATLIFT_OUT", "/tmp/from-env")
	t.Setenv("CHATLIFT_BACKUP_PASSWORD", "hunter2")

	code, stdout, stderr := execute(t, append(cfg, "config", "--json")...)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if strings.Contains(stdout, "hunter2") {
		t.Error("backup password leaked into config output")
	}
	var resolved struct {
		OutDir struct {
			Value  string `json:"value"`
			Source string `json:"source"`
		} `json:"out_dir"`
	}
	if err := json.Unmarshal([]byte(stdout), &resolved); err != nil {
		t.Fatalf("config output is not JSON: %v", err)
	}
	if resolved.OutDir.Value != "/tmp/from-env" || resolved.OutDir.Source != "env" {
		t.Errorf("out_dir = %+v", resolved.OutDir)
	}
}

func TestSchemaAndVersion(t *testing.T) {
	cfg := isolate(t)

	code, stdout, _ := execute(t, append(cfg, "schema")...)
	if code != 0 || !json.Valid([]byte(stdout)) {
		t.Errorf("schema: exit %d, valid JSON %v", code, json.Valid([]byte(stdout)))
	}

	code, stdout, _ = execute(t, "version")
	if code != 0 || !strings.HasPrefix(stdout, "chatlift dev") {
		t.Errorf("version: exit %d, output %q", code, stdout)
	}
}
