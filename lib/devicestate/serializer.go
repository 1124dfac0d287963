// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicestate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Serializer turns the raw bytes of a state file into structured data
// (maps, slices and scalars as produced by encoding/json or yaml.v3).
type Serializer struct {
	// Name is the value of a device's serializer binding.
	Name string

	// Extensions are tried in order when looking up an item's file.
	Extensions []string

	Decode func(raw []byte) (any, error)
}

var serializers = map[string]*Serializer{
	"json": {Name: "json", Extensions: []string{".json", ".jsonc"}, Decode: decodeJSON},
	"yaml": {Name: "yaml", Extensions: []string{".yaml", ".yml"}, Decode: decodeYAML},
}

// LookupSerializer returns the serializer registered under name.
func LookupSerializer(name string) (*Serializer, bool) {
	s, ok := serializers[name]
	return s, ok
}

// SerializerNames lists the registered serializers in sorted order.
func SerializerNames() []string {
	names := make([]string, 0, len(serializers))
	for name := range serializers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeJSON accepts JSONC: comments and trailing commas are stripped
// before decoding. Numbers keep their integer-ness.
func decodeJSON(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(raw)))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("invalid JSON: trailing data after the top-level value")
	}
	return out, nil
}

func decodeYAML(raw []byte) (any, error) {
	var out any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return out, nil
}
