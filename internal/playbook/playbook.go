// Package playbook holds the persona data playbook document. The document is
// stored opaquely; only its outline is interpreted, for listings.
package playbook

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
)

// DocumentKey is the documents row the playbook is stored under.
const DocumentKey = "playbook"

//go:embed default.json
var defaultJSON []byte

// Default returns a copy of the built-in playbook.
func Default() json.RawMessage {
	return append(json.RawMessage(nil), defaultJSON...)
}

type Outline struct {
	Title    string    `json:"title"`
	Version  string    `json:"version"`
	Sections []Section `json:"sections"`
}

type Section struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Steps []Step `json:"steps"`
}

type Step struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Purpose string `json:"purpose,omitempty"`
	Output  string `json:"output,omitempty"`
}

// Validate accepts any JSON object whose optional sections field is a list.
func Validate(raw json.RawMessage) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("playbook must be a JSON object: %w", err)
	}
	if doc == nil {
		return errors.New("playbook must be a JSON object")
	}
	if s, ok := doc["sections"]; ok {
		var sections []json.RawMessage
		if err := json.Unmarshal(s, &sections); err != nil {
			return fmt.Errorf("playbook sections must be a list: %w", err)
		}
	}
	return nil
}

// ParseOutline extracts the section and step titles from a playbook.
func ParseOutline(raw json.RawMessage) (Outline, error) {
	var doc struct {
		Meta struct {
			Breadcrumb string `json:"breadcrumb"`
			Version    string `json:"version"`
		} `json:"meta"`
		Sections []Section `json:"sections"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Outline{}, err
	}
	return Outline{Title: doc.Meta.Breadcrumb, Version: doc.Meta.Version, Sections: doc.Sections}, nil
}
