// Package config loads the YAML configuration of the uow command.
//
// A file is decoded with yaml.v3, unified with the embedded CUE schema and
// required to be concrete. The schema is closed, so unknown keys are
// errors, and it supplies every default. Environment variables override
// selected keys after validation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// EnvStoreDSN overrides store.dsn when set.
const EnvStoreDSN = "UOW_STORE_DSN"

// Config is the validated configuration.
type Config struct {
	Store      StoreConfig      `json:"store" yaml:"store"`
	Tracking   TrackingConfig   `json:"tracking" yaml:"tracking"`
	Migrations MigrationsConfig `json:"migrations" yaml:"migrations"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// StoreConfig selects and addresses the document store.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, mongo.
	Driver string `json:"driver" yaml:"driver"`

	// DSN is a file path for sqlite, a connection string for postgres and
	// a URI for mongo. Unused for memory.
	DSN string `json:"dsn" yaml:"dsn"`

	// Database names the MongoDB database.
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
}

// TrackingConfig tunes the unit of work.
type TrackingConfig struct {
	Limit           int    `json:"limit" yaml:"limit"`
	Overflow        string `json:"overflow" yaml:"overflow"`
	ParallelSave    bool   `json:"parallel_save" yaml:"parallel_save"`
	MaxCompareDepth int    `json:"max_compare_depth" yaml:"max_compare_depth"`
}

// MigrationsConfig tunes the migration runner.
type MigrationsConfig struct {
	CommitTimeout string `json:"commit_timeout" yaml:"commit_timeout"`
}

// Timeout returns CommitTimeout as a duration.
func (m MigrationsConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(m.CommitTimeout)
	if err != nil {
		return 0
	}
	return d
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Error codes carried by LoadError.
const (
	ErrCodeNotFound = "E005" // Config file not found
	ErrCodeSyntax   = "E201" // YAML syntax error
	ErrCodeSchema   = "E202" // Schema violation
	ErrCodeInternal = "E203" // Embedded schema broken
)

// LoadError is a configuration error with its source position when known.
type LoadError struct {
	Code    string
	Message string
	File    string
	Line    int
	Column  int
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.File, e.Line, e.Column, e.Code, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsLoadError reports whether err is a *LoadError with the given code.
func IsLoadError(err error, code string) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Code == code
}

// Default returns the schema defaults.
func Default() *Config {
	cfg, err := Parse("", nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema has no valid default: %v", err))
	}
	return cfg
}

// Load reads, validates and decodes the file at path, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: "config file not found", File: path}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: err.Error(), File: path}
	}
	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// Parse validates YAML data against the schema. filename is only used in
// error messages.
func Parse(filename string, data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &LoadError{Code: ErrCodeSyntax, Message: err.Error(), File: filename}
	}
	raw := map[string]any{}
	if len(root.Content) > 0 {
		if err := root.Decode(&raw); err != nil {
			return nil, &LoadError{Code: ErrCodeSyntax, Message: err.Error(), File: filename}
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeInternal, Message: err.Error()}
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, schemaError(err, filename, &root)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, Message: err.Error(), File: filename}
	}
	if cfg.Store.Driver == "mongo" && cfg.Store.Database == "" {
		le := &LoadError{Code: ErrCodeSchema, Message: "store.database: required for the mongo driver", File: filename}
		if n := locate(&root, []string{"store", "driver"}); n != nil {
			le.Line, le.Column = n.Line, n.Column
		}
		return nil, le
	}
	return &cfg, nil
}

// ApplyEnv overrides keys from the environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if dsn, ok := lookup(EnvStoreDSN); ok && dsn != "" {
		cfg.Store.DSN = dsn
	}
}

// schemaError converts the first CUE error into a LoadError positioned at
// the closest YAML node on its path.
func schemaError(err error, filename string, root *yaml.Node) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: ErrCodeSchema, Message: err.Error(), File: filename}
	}
	first := errs[0]
	path := first.Path()
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)
	if len(path) > 0 {
		msg = strings.Join(path, ".") + ": " + msg
	}
	le := &LoadError{Code: ErrCodeSchema, Message: msg, File: filename}
	if n := locate(root, path); n != nil {
		le.Line, le.Column = n.Line, n.Column
	}
	return le
}

// locate walks mapping nodes along path and returns the deepest node
// found, or nil when the document is empty.
func locate(root *yaml.Node, path []string) *yaml.Node {
	if root == nil || len(root.Content) == 0 {
		return nil
	}
	node := root.Content[0]
	for _, key := range path {
		if node.Kind != yaml.MappingNode {
			break
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
				if next.Kind != yaml.MappingNode {
					// Point at the key for scalar values.
					next = node.Content[i]
				}
				break
			}
		}
		if next == nil {
			break
		}
		node = next
	}
	return node
}
