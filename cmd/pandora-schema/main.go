package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/pixil98/go-pandora/internal/protocol"
)

// messageSchema holds the JSON schemas of one message type. Response is
// absent for oneshots.
type messageSchema struct {
	Request  *jsonschema.Schema `json:"request"`
	Response *jsonschema.Schema `json:"response,omitempty"`
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schemas")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	if err := writeDocument(outPath, buildDocument(protocol.All())); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schemas: %v\n", err)
		os.Exit(1)
	}
}

// buildDocument maps protocol name to message type to payload schemas.
func buildDocument(schemas []*protocol.Schema) map[string]map[string]messageSchema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	doc := make(map[string]map[string]messageSchema, len(schemas))
	for _, s := range schemas {
		messages := map[string]messageSchema{}
		for _, msgType := range s.MessageTypes() {
			c, _ := s.Contract(msgType)
			m := messageSchema{Request: reflector.Reflect(c.Request())}
			if !c.IsOneshot() {
				m.Response = reflector.Reflect(c.Response())
			}
			messages[msgType] = m
		}
		doc[s.Name()] = messages
	}
	return doc
}

func writeDocument(outPath string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schemas: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schemas: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schemas: %w", err)
	}

	return nil
}
