package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Intent envelope schema. Every client -> server frame must match one
// of these shapes; anything else is rejected before it reaches a shard.
const intentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "oneOf": [
    {
      "type": "object",
      "properties": {
        "type": {"const": "hello"},
        "name": {"type": "string", "maxLength": 32},
        "auth_token": {"type": "string"},
        "player_id": {"type": "string"},
        "shard_id": {"type": "string"},
        "resume_token": {"type": "string"}
      },
      "required": ["type", "name"]
    },
    {
      "type": "object",
      "properties": {
        "type": {"const": "move"},
        "x": {"type": "number"},
        "y": {"type": "number"}
      },
      "required": ["type", "x", "y"]
    },
    {
      "type": "object",
      "properties": {
        "type": {"const": "dig"},
        "x": {"type": "integer"},
        "y": {"type": "integer", "minimum": 0},
        "seq": {"type": "integer", "minimum": 0}
      },
      "required": ["type", "x", "y"]
    },
    {
      "type": "object",
      "properties": {"type": {"const": "join_quick_play"}},
      "required": ["type"]
    },
    {
      "type": "object",
      "properties": {
        "type": {"const": "create_party"},
        "max_players": {"type": "integer", "minimum": 1, "maximum": 16}
      },
      "required": ["type"]
    },
    {
      "type": "object",
      "properties": {
        "type": {"const": "join_party"},
        "room_code": {"type": "string", "minLength": 4, "maxLength": 8, "pattern": "^[A-Za-z0-9]+$"}
      },
      "required": ["type", "room_code"]
    },
    {
      "type": "object",
      "properties": {"type": {"const": "play_solo"}},
      "required": ["type"]
    },
    {
      "type": "object",
      "properties": {"type": {"const": "list_matches"}},
      "required": ["type"]
    }
  ]
}`

var intentSchema = jsonschema.MustCompileString("intents.schema.json", intentSchemaJSON)

// ValidateIntent checks a raw client frame against the intent schema.
// Unknown or malformed frames return an error; the caller answers with
// an E_PROTO_BAD_REQUEST event and keeps the connection open.
func ValidateIntent(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode intent: %w", err)
	}
	if err := intentSchema.Validate(v); err != nil {
		return fmt.Errorf("invalid intent: %w", err)
	}
	return nil
}
