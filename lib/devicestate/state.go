// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devicestate loads the per-device state that compliance tests
// inspect and exposes devices to expressions.
//
// A device's state is a directory of files inside its data source,
// one file per item:
//
//	<data source path>/<device name>/config.yaml
//	<data source path>/<device name>/bgp.yaml
//
// Items are read and decoded on first use and memoized. A decoding
// failure is reported for that item only; the other items stay
// readable. A device whose state directory cannot be located at all
// fails with [*SerializationError] when the state is resolved, and the
// executor skips every test for it.
package devicestate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/expr"
)

// ConfigItem is the state item holding the device configuration.
const ConfigItem = "config"

// SerializationError reports state that cannot be produced. Item is
// empty when the device's state as a whole is unavailable.
type SerializationError struct {
	Device string
	Item   string
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("cannot load state of %s: %v", e.Device, e.Err)
	}
	return fmt.Sprintf("cannot load state item %q of %s: %v", e.Item, e.Device, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ErrNoItem is wrapped by [State.Get] when the item has no file.
var ErrNoItem = errors.New("no such state item")

// State is the lazily loaded state of one device. It is safe for
// concurrent use.
type State struct {
	device     string
	dir        string
	serializer *Serializer

	mu    sync.Mutex
	items map[string]stateItem
}

type stateItem struct {
	value expr.Value
	err   error
}

// Get returns the decoded item, loading it on first use. The value is
// frozen: expressions cannot mutate it.
func (s *State) Get(item string) (expr.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.items[item]; ok {
		return cached.value, cached.err
	}
	value, err := s.load(item)
	s.items[item] = stateItem{value: value, err: err}
	return value, err
}

func (s *State) load(item string) (expr.Value, error) {
	if item == "" || strings.ContainsAny(item, `/\`) || item == "." || item == ".." {
		return nil, &SerializationError{Device: s.device, Item: item, Err: ErrNoItem}
	}
	for _, ext := range s.serializer.Extensions {
		raw, err := os.ReadFile(filepath.Join(s.dir, item+ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &SerializationError{Device: s.device, Item: item, Err: err}
		}
		data, err := s.serializer.Decode(raw)
		if err != nil {
			return nil, &SerializationError{Device: s.device, Item: item, Err: err}
		}
		return expr.FromGo(data, true), nil
	}
	return nil, &SerializationError{Device: s.device, Item: item, Err: ErrNoItem}
}

// Items lists the item names present in the state directory.
func (s *State) Items() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &SerializationError{Device: s.device, Err: err}
	}
	seen := make(map[string]bool)
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		for _, known := range s.serializer.Extensions {
			name := strings.TrimSuffix(entry.Name(), ext)
			if ext == known && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// TypeName implements expr.Object.
func (s *State) TypeName() string { return "State" }

func (s *State) String() string { return "<State of " + s.device + ">" }

// Attr reads an item: state.bgp is state["bgp"]. state.get(item,
// default=None) returns default instead of failing on a missing item.
func (s *State) Attr(name string) (expr.Value, error) {
	if name == "get" {
		return expr.NewBuiltin("get", s.getMethod), nil
	}
	value, err := s.Get(name)
	if errors.Is(err, ErrNoItem) {
		return nil, expr.ErrNoAttribute
	}
	return value, itemError(err)
}

// Index implements expr.Indexable.
func (s *State) Index(key expr.Value) (expr.Value, error) {
	name, ok := key.(string)
	if !ok {
		return nil, &expr.EvalError{Type: "TypeError", Message: "state items are named by str, not " + expr.TypeName(key)}
	}
	value, err := s.Get(name)
	if errors.Is(err, ErrNoItem) {
		return nil, &expr.EvalError{Type: "KeyError", Message: expr.Repr(name)}
	}
	return value, itemError(err)
}

// Contains implements the "in" operator over item names.
func (s *State) Contains(item expr.Value) (bool, error) {
	name, ok := item.(string)
	if !ok {
		return false, nil
	}
	_, err := s.Get(name)
	if errors.Is(err, ErrNoItem) {
		return false, nil
	}
	return true, nil
}

func (s *State) getMethod(th *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
	var fallback expr.Value
	for _, kw := range kwargs {
		if kw.Name != "default" {
			return nil, &expr.EvalError{Type: "TypeError", Message: "get() got an unexpected keyword argument '" + kw.Name + "'"}
		}
		fallback = kw.Value
	}
	if len(args) == 2 {
		fallback = args[1]
	} else if len(args) != 1 {
		return nil, &expr.EvalError{Type: "TypeError", Message: fmt.Sprintf("get() takes 1 or 2 arguments (%d given)", len(args))}
	}
	name, ok := args[0].(string)
	if !ok {
		return fallback, nil
	}
	value, err := s.Get(name)
	if errors.Is(err, ErrNoItem) {
		return fallback, nil
	}
	return value, itemError(err)
}

// itemError surfaces a failed item as a SerializationError inside the
// expression, where it fails the test that read it.
func itemError(err error) error {
	if err == nil {
		return nil
	}
	return &expr.EvalError{Type: "SerializationError", Message: err.Error()}
}

// Resolver locates the state of devices.
type Resolver struct {
	sources map[string]*compliance.DataSource

	// override, when set, replaces every device's own data source.
	override *compliance.DataSource
}

// NewResolver returns a Resolver over the named data sources. A
// non-nil override is used for every device instead of its binding.
func NewResolver(sources []*compliance.DataSource, override *compliance.DataSource) *Resolver {
	byName := make(map[string]*compliance.DataSource, len(sources))
	for _, ds := range sources {
		byName[ds.Name] = ds
	}
	return &Resolver{sources: byName, override: override}
}

// State resolves the state directory and serializer of d. Failures are
// *SerializationError.
func (r *Resolver) State(d *compliance.Device) (*State, error) {
	fail := func(format string, args ...any) error {
		return &SerializationError{Device: d.Name, Err: fmt.Errorf(format, args...)}
	}
	source := r.override
	if source == nil {
		if d.DataSource == "" {
			return nil, fail("no data source is bound to the device")
		}
		var ok bool
		if source, ok = r.sources[d.DataSource]; !ok {
			return nil, fail("unknown data source %q", d.DataSource)
		}
	}
	if d.Serializer == "" {
		return nil, fail("no serializer is bound to the device")
	}
	serializer, ok := LookupSerializer(d.Serializer)
	if !ok {
		return nil, fail("unknown serializer %q, have %s", d.Serializer, strings.Join(SerializerNames(), ", "))
	}
	dir := filepath.Join(source.Path, d.Name)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fail("data source %s has no state for the device: %w", source.Name, err)
	}
	if !info.IsDir() {
		return nil, fail("%s is not a directory", dir)
	}
	return &State{
		device:     d.Name,
		dir:        dir,
		serializer: serializer,
		items:      make(map[string]stateItem),
	}, nil
}
