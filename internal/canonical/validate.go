package canonical

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed canonical_message.schema.json
var schemaJSON []byte

const schemaURL = "canonical_message.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal schema JSON: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// SchemaJSON returns the raw embedded schema.
func SchemaJSON() json.RawMessage {
	return json.RawMessage(schemaJSON)
}

// Validate checks the JSON encoding of m against the canonical message schema.
func Validate(m *Message) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	// jsonschema needs json.Number rather than float64.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("message %s failed schema validation: %w", m.MsgID, err)
	}
	if m.ReplyToMsgID != nil && *m.ReplyToMsgID == m.MsgID {
		return fmt.Errorf("message %s replies to itself", m.MsgID)
	}
	return nil
}
