package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Built-in defaults.
const (
	DefaultDBPath         = "~/Library/Messages/chat.db"
	DefaultAttachmentRoot = "~/Library/Messages/Attachments"
	DefaultOutDir         = "./chatlift-out"
	DefaultTranscribe     = "none"
	DefaultWhisperModel   = "small"
	DefaultLogLevel       = "info"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath string

	CLIOut            string
	CLIDBPath         string
	CLIAttachments    string
	CLIBackup         string
	CLIBackupPassword string
	CLITranscribe     string
	CLIWhisperModels  string
	CLILogLevel       string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	OutDir         ResolvedValue `json:"out_dir"`
	DBPath         ResolvedValue `json:"db_path"`
	AttachmentRoot ResolvedValue `json:"attachment_root"`
	BackupDir      ResolvedValue `json:"backup_dir"`
	BackupPassword ResolvedValue `json:"-"`

	Transcribe    ResolvedValue `json:"transcribe"`
	WhisperModels ResolvedValue `json:"whisper_models"`
	WhisperModel  ResolvedValue `json:"whisper_model"`

	LogLevel ResolvedValue `json:"log_level"`
	SaltFile ResolvedValue `json:"salt_file"`
}

type fileConfig struct {
	OutDir         string `yaml:"out_dir"`
	DBPath         string `yaml:"db_path"`
	AttachmentRoot string `yaml:"attachments_dir"`
	Backup         struct {
		Dir string `yaml:"dir"`
	} `yaml:"backup"`
	Transcribe struct {
		Engine   string `yaml:"engine"`
		ModelDir string `yaml:"model_dir"`
		Model    string `yaml:"model"`
	} `yaml:"transcribe"`
	LogLevel string `yaml:"log_level"`
	SaltFile string `yaml:"salt_file"`
}

// Dir is the per-user chatlift directory.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatlift")
}

func DefaultConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// ResolveConfig layers the config file, environment and CLI flags, in that
// order of increasing precedence, over the built-in defaults.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	applyDefault(&out.OutDir, DefaultOutDir)
	applyDefault(&out.DBPath, DefaultDBPath)
	applyDefault(&out.AttachmentRoot, DefaultAttachmentRoot)
	applyDefault(&out.Transcribe, DefaultTranscribe)
	applyDefault(&out.WhisperModels, filepath.Join(Dir(), "models"))
	applyDefault(&out.WhisperModel, DefaultWhisperModel)
	applyDefault(&out.LogLevel, DefaultLogLevel)
	applyDefault(&out.SaltFile, filepath.Join(Dir(), "salt"))

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.OutDir, cfg.OutDir, SourceConfig, path)
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.AttachmentRoot, cfg.AttachmentRoot, SourceConfig, path)
		apply(&out.BackupDir, cfg.Backup.Dir, SourceConfig, path)
		apply(&out.Transcribe, cfg.Transcribe.Engine, SourceConfig, path)
		apply(&out.WhisperModels, cfg.Transcribe.ModelDir, SourceConfig, path)
		apply(&out.WhisperModel, cfg.Transcribe.Model, SourceConfig, path)
		apply(&out.LogLevel, cfg.LogLevel, SourceConfig, path)
		apply(&out.SaltFile, cfg.SaltFile, SourceConfig, path)
	}

	applyEnv(&out.OutDir, "CHATLIFT_OUT")
	applyEnv(&out.DBPath, "CHATLIFT_DB")
	applyEnv(&out.AttachmentRoot, "CHATLIFT_ATTACHMENTS")
	applyEnv(&out.BackupDir, "CHATLIFT_BACKUP")
	applyEnv(&out.BackupPassword, "CHATLIFT_BACKUP_PASSWORD")
	applyEnv(&out.Transcribe, "CHATLIFT_TRANSCRIBE")
	applyEnv(&out.WhisperModels, "CHATLIFT_WHISPER_MODELS")
	applyEnv(&out.WhisperModel, "CHATLIFT_WHISPER_MODEL")
	applyEnv(&out.LogLevel, "CHATLIFT_LOG_LEVEL")
	applyEnv(&out.SaltFile, "CHATLIFT_SALT_FILE")

	apply(&out.OutDir, opts.CLIOut, SourceCLI, "--out")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.AttachmentRoot, opts.CLIAttachments, SourceCLI, "--attachments-dir")
	apply(&out.BackupDir, opts.CLIBackup, SourceCLI, "--backup")
	apply(&out.BackupPassword, opts.CLIBackupPassword, SourceCLI, "--backup-password")
	apply(&out.Transcribe, opts.CLITranscribe, SourceCLI, "--transcribe")
	apply(&out.WhisperModels, opts.CLIWhisperModels, SourceCLI, "--whisper-models")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")

	for _, v := range []*ResolvedValue{&out.OutDir, &out.DBPath, &out.AttachmentRoot, &out.BackupDir, &out.WhisperModels, &out.SaltFile} {
		if v.Value != "" {
			v.Value = ExpandUserPath(v.Value)
		}
	}

	return out, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyDefault(dst *ResolvedValue, v string) {
	apply(dst, v, SourceDefault, "built-in default")
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// ExpandUserPath replaces a leading "~/" with the home directory.
func ExpandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
