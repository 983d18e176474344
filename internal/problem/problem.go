// Package problem converts errors into structured problem objects for the
// CLI and MCP boundaries.
package problem

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"

	"github.com/hurttlocker/chatlift/internal/backup"
	"github.com/hurttlocker/chatlift/internal/imessage"
)

// Stable problem codes.
const (
	CodeManifestMissing = "backup_manifest_missing"
	CodeEncrypted       = "backup_encrypted"
	CodeBackupFile      = "backup_file_not_found"
	CodeOpenDatabase    = "database_unavailable"
	CodeConsumed        = "stream_consumed"
	CodeNotFound        = "not_found"
	CodePermission      = "permission_denied"
	CodeCanceled        = "canceled"
	CodeInternal        = "internal"
)

// Problem is a machine-readable error description.
type Problem struct {
	Code     string `json:"code"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (p *Problem) Error() string {
	if p.Detail == "" {
		return p.Title
	}
	return p.Title + ": " + p.Detail
}

// JSON renders the problem as indented JSON.
func (p *Problem) JSON() string {
	b, _ := json.MarshalIndent(p, "", "  ")
	return string(b)
}

// ExitCode maps the problem to a process exit status.
func (p *Problem) ExitCode() int {
	switch p.Code {
	case CodeManifestMissing, CodeBackupFile, CodeNotFound:
		return 3
	case CodeEncrypted, CodePermission:
		return 4
	case CodeOpenDatabase:
		return 5
	case CodeCanceled:
		return 130
	default:
		return 1
	}
}

// From classifies err. It returns nil for a nil error; a *Problem is
// returned unchanged.
func From(err error, instance string) *Problem {
	if err == nil {
		return nil
	}
	var p *Problem
	if errors.As(err, &p) {
		return p
	}

	out := &Problem{Detail: err.Error(), Instance: instance}
	switch {
	case errors.Is(err, backup.ErrManifestMissing):
		out.Code, out.Title, out.Status = CodeManifestMissing, "Backup manifest not found", 404
	case errors.Is(err, backup.ErrEncrypted):
		out.Code, out.Title, out.Status = CodeEncrypted, "Backup is encrypted", 403
	case errors.Is(err, backup.ErrNotFound):
		out.Code, out.Title, out.Status = CodeBackupFile, "File not present in backup", 404
	case errors.Is(err, imessage.ErrOpenDatabase):
		out.Code, out.Title, out.Status = CodeOpenDatabase, "Message database could not be opened", 503
	case errors.Is(err, imessage.ErrConsumed):
		out.Code, out.Title, out.Status = CodeConsumed, "Message stream already consumed", 409
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.Code, out.Title, out.Status = CodeCanceled, "Operation canceled", 499
	case errors.Is(err, fs.ErrPermission):
		out.Code, out.Title, out.Status = CodePermission, "Permission denied", 403
	case errors.Is(err, fs.ErrNotExist):
		out.Code, out.Title, out.Status = CodeNotFound, "File not found", 404
	default:
		out.Code, out.Title, out.Status = CodeInternal, "Extraction failed", 500
	}
	return out
}
