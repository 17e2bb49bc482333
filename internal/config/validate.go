package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema constrains the shape and ranges of the configuration.
// Secret length is checked at startup, after env expansion, not here.
const configSchema = `{
  "type": "object",
  "properties": {
    "listen_addr": {"type": "string", "minLength": 1},
    "blob_root": {"type": "string", "minLength": 1},
    "store_dsn": {"type": "string", "minLength": 1},
    "queue_dsn": {"type": "string", "minLength": 1},
    "signing_secret": {"type": "string"},
    "signed_url_ttl_s": {"type": "integer", "minimum": 1},
    "max_upload_bytes": {"type": "integer", "minimum": 1},
    "target_segment_duration_s": {"type": "number", "exclusiveMinimum": 0},
    "worker_lease_s": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 1}
    },
    "worker_max_attempts": {"type": "integer", "minimum": 1},
    "log_level": {"enum": ["debug", "info", "warn", "error"]},
    "stage_workers": {
      "type": ["array", "null"],
      "items": {"enum": ["extract", "segment", "synthesize", "package"]}
    },
    "synth": {
      "type": "object",
      "properties": {
        "provider": {"enum": ["openai", "mock"]},
        "speed": {"type": "number", "exclusiveMinimum": 0}
      }
    },
    "packager": {"enum": ["ffmpeg", "mock"]}
  },
  "required": ["listen_addr", "blob_root", "store_dsn", "queue_dsn"]
}`

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.json", strings.NewReader(configSchema)); err != nil {
		return nil, fmt.Errorf("failed to load config schema: %w", err)
	}
	return compiler.Compile("config.json")
})

// Validate checks a Config against the schema. Round-tripping through
// JSON gives the generic document shape the validator wants.
func Validate(cfg *Config) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode config for validation: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
