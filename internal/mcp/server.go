// Package mcp provides a Model Context Protocol server for chatlift.
//
// It exposes extraction, the missing-attachment audit and backup lookups as
// MCP tools, and the canonical message schema as an MCP resource. The server
// is meant for stdio transport; every tool reads local files only.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/chatlift/internal/backup"
	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/imessage"
	"github.com/hurttlocker/chatlift/internal/observe"
	"github.com/hurttlocker/chatlift/internal/problem"
	"github.com/hurttlocker/chatlift/internal/telemetry"
)

// ServerConfig holds configuration for the MCP server. The path fields are
// defaults for tool calls that leave them empty.
type ServerConfig struct {
	Version         string // version string for MCP server info
	DBPath          string
	AttachmentRoots []string
	BackupPassword  string
	Pseudonymizer   *canonical.Pseudonymizer
	Logger          *slog.Logger
	Metrics         *telemetry.Metrics
}

// runMu serializes tool calls. The mcp-go library dispatches handlers
// concurrently via goroutines, and runs sharing an output directory write
// the same content store without locking.
var runMu sync.Mutex

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// NewServer creates a configured MCP server with all chatlift tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	s := server.NewMCPServer(
		"chatlift",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerExtractTool(s, cfg)
	registerMissingTool(s, cfg)
	registerBackupResolveTool(s, cfg)
	registerBackupInfoTool(s, cfg)

	registerSchemaResource(s)

	return s
}

// --- Tools ---

func registerExtractTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("imessage_extract",
		mcp.WithDescription("Extract iMessage conversations from a local chat.db or an iPhone backup into canonical messages. Returns the run report and the first messages. With out_dir, also writes messages.jsonl, manifest.json, run_report.json, metrics.jsonl and missing_attachments.json there."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("contact",
			mcp.Description("Phone number, email address or chat name. Empty = all conversations."),
		),
		mcp.WithString("db_path",
			mcp.Description("Path to chat.db. Defaults to the configured database."),
		),
		mcp.WithString("backup_dir",
			mcp.Description("iPhone backup directory to read sms.db and attachments from instead of chat.db."),
		),
		mcp.WithBoolean("include_attachments",
			mcp.Description("Resolve attachment metadata and files (default: true)"),
		),
		mcp.WithString("out_dir",
			mcp.Description("Output directory. When set, attachment binaries are copied and run artifacts written."),
		),
		mcp.WithBoolean("thumbnails",
			mcp.Description("Generate image thumbnails under out_dir (default: false)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages returned inline (default: 50, max: 500)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runMu.Lock()
		defer runMu.Unlock()

		opts := baseOptions(cfg, req)
		opts.IncludeAttachments = true
		if v, err := req.RequireBool("include_attachments"); err == nil {
			opts.IncludeAttachments = v
		}
		outDir := optionalString(req, "out_dir")
		if outDir != "" {
			opts.OutDir = outDir
			opts.CopyBinaries = opts.IncludeAttachments
			if v, err := req.RequireBool("thumbnails"); err == nil {
				opts.Thumbnails = v && opts.IncludeAttachments
			}
		}

		limit := defaultMessageLimit
		if limitVal, err := req.RequireFloat("limit"); err == nil {
			limit = int(limitVal)
			if limit > maxMessageLimit {
				limit = maxMessageLimit
			}
			if limit < 0 {
				limit = 0
			}
		}

		e, err := imessage.ExtractMessages(ctx, opts)
		if err != nil {
			return problemResult(err, "imessage_extract"), nil
		}
		defer e.Close()

		result := extractResult{Messages: make([]*canonical.Message, 0, min(limit, e.Len()))}
		keep := func(m *canonical.Message) {
			if len(result.Messages) < limit {
				result.Messages = append(result.Messages, m)
			}
		}

		if outDir != "" {
			report, err := observe.Export(ctx, e, observe.NewRun(outDir, cfg.Version), observe.ExportOptions{OnMessage: keep})
			if err != nil {
				return problemResult(err, "imessage_extract"), nil
			}
			result.Artifacts = report.Artifacts
			result.RunID = report.RunID
		} else {
			for m, err := range e.Messages(ctx) {
				if err != nil {
					return problemResult(err, "imessage_extract"), nil
				}
				keep(m)
			}
		}

		result.Report = e.Report()
		result.Returned = len(result.Messages)
		result.Truncated = result.Report.MessagesExtracted > result.Returned

		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

type extractResult struct {
	RunID     string               `json:"run_id,omitempty"`
	Report    *imessage.Report     `json:"report"`
	Returned  int                  `json:"returned"`
	Truncated bool                 `json:"truncated"`
	Messages  []*canonical.Message `json:"messages"`
	Artifacts map[string]string    `json:"artifacts,omitempty"`
}

func registerMissingTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("imessage_missing_attachments",
		mcp.WithDescription("List attachments whose files are not on disk, grouped by conversation, with steps to re-download them. Audits an existing messages.jsonl, or extracts from chat.db / a backup when no messages_path is given."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("messages_path",
			mcp.Description("messages.jsonl produced by an earlier extraction"),
		),
		mcp.WithString("contact",
			mcp.Description("Phone number, email address or chat name when extracting. Empty = all conversations."),
		),
		mcp.WithString("db_path",
			mcp.Description("Path to chat.db. Defaults to the configured database."),
		),
		mcp.WithString("backup_dir",
			mcp.Description("iPhone backup directory to audit instead of chat.db."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runMu.Lock()
		defer runMu.Unlock()

		audit := observe.NewMissingAudit()
		if path := optionalString(req, "messages_path"); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return problemResult(err, "imessage_missing_attachments"), nil
			}
			msgs, err := canonical.ReadJSONL(f)
			f.Close()
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("reading %s: %v", path, err)), nil
			}
			for _, m := range msgs {
				audit.Add(m)
			}
		} else {
			opts := baseOptions(cfg, req)
			opts.IncludeAttachments = true
			e, err := imessage.ExtractMessages(ctx, opts)
			if err != nil {
				return problemResult(err, "imessage_missing_attachments"), nil
			}
			defer e.Close()
			for m, err := range e.Messages(ctx) {
				if err != nil {
					return problemResult(err, "imessage_missing_attachments"), nil
				}
				audit.Add(m)
			}
		}

		data, _ := json.MarshalIndent(audit.Report(time.Now()), "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerBackupResolveTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("backup_resolve_file",
		mcp.WithDescription("Map a (domain, relative path) pair inside an iPhone backup to the physical file that stores it."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("backup_dir",
			mcp.Required(),
			mcp.Description("iPhone backup directory containing Manifest.db"),
		),
		mcp.WithString("relative_path",
			mcp.Required(),
			mcp.Description("Path inside the domain, e.g. Library/SMS/sms.db"),
		),
		mcp.WithString("domain",
			mcp.Description("Backup domain (default: HomeDomain)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dir, err := req.RequireString("backup_dir")
		if err != nil || strings.TrimSpace(dir) == "" {
			return mcp.NewToolResultError("backup_dir is required"), nil
		}
		rel, err := req.RequireString("relative_path")
		if err != nil || strings.TrimSpace(rel) == "" {
			return mcp.NewToolResultError("relative_path is required"), nil
		}
		domain := optionalString(req, "domain")
		if domain == "" {
			domain = backup.HomeDomain
		}

		bk, err := backup.Open(dir, cfg.BackupPassword)
		if err != nil {
			return problemResult(err, "backup_resolve_file"), nil
		}
		defer bk.Close()

		path, err := bk.ResolveFile(ctx, domain, rel)
		if err != nil {
			return problemResult(err, "backup_resolve_file"), nil
		}
		fileID, _ := bk.FileID(ctx, domain, rel)

		data, _ := json.MarshalIndent(map[string]any{
			"domain":        domain,
			"relative_path": rel,
			"file_id":       fileID,
			"path":          path,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerBackupInfoTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("backup_info",
		mcp.WithDescription("Report whether an iPhone backup is encrypted and summarize its manifest by domain."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("backup_dir",
			mcp.Required(),
			mcp.Description("iPhone backup directory containing Manifest.db"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of domains listed (default: 20)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dir, err := req.RequireString("backup_dir")
		if err != nil || strings.TrimSpace(dir) == "" {
			return mcp.NewToolResultError("backup_dir is required"), nil
		}
		limit := 20
		if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
			limit = int(v)
		}

		bk, err := backup.Open(dir, cfg.BackupPassword)
		if err != nil {
			return problemResult(err, "backup_info"), nil
		}
		defer bk.Close()

		domains, err := bk.ListDomains(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing domains: %v", err)), nil
		}
		_, smsErr := bk.FileID(ctx, backup.HomeDomain, backup.SMSDBPath)

		data, _ := json.MarshalIndent(map[string]any{
			"dir":        bk.Dir,
			"encrypted":  bk.Encrypted,
			"has_sms_db": smsErr == nil,
			"domains":    domains,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Helpers ---

func baseOptions(cfg ServerConfig, req mcp.CallToolRequest) imessage.Options {
	opts := imessage.Options{
		DBPath:          cfg.DBPath,
		AttachmentRoots: cfg.AttachmentRoots,
		BackupPassword:  cfg.BackupPassword,
		Pseudonymizer:   cfg.Pseudonymizer,
		Logger:          cfg.Logger,
		Metrics:         cfg.Metrics,
		ValidateOutput:  true,
	}
	if v := optionalString(req, "db_path"); v != "" {
		opts.DBPath = v
	}
	opts.BackupDir = optionalString(req, "backup_dir")
	opts.Contact = optionalString(req, "contact")
	return opts
}

func optionalString(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

func problemResult(err error, tool string) *mcp.CallToolResult {
	return mcp.NewToolResultError(problem.From(err, "mcp:"+tool).JSON())
}
