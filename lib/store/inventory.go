// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/fleetcheck/lib/codec"
	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/nameset"
)

// Inventory is the import document: everything a run reads besides
// device state. Rows are matched by name; ids are assigned on first
// import unless given.
type Inventory struct {
	DataSources []compliance.DataSource `json:"data_sources" yaml:"data_sources"`
	Devices     []compliance.Device     `json:"devices" yaml:"devices"`
	Namesets    []compliance.Nameset    `json:"namesets" yaml:"namesets"`
	Tests       []compliance.Test       `json:"tests" yaml:"tests"`
	Selectors   []InventorySelector     `json:"selectors" yaml:"selectors"`
}

// InventorySelector is a selector whose tests are named.
type InventorySelector struct {
	compliance.Selector `yaml:",inline"`

	Tests []string `json:"tests" yaml:"tests"`
}

// ReadInventory reads a YAML or JSONC inventory file, chosen by
// extension.
func ReadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var inv Inventory
	switch filepath.Ext(path) {
	case ".json", ".jsonc":
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		err = decoder.Decode(&inv)
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		err = decoder.Decode(&inv)
	default:
		return nil, fmt.Errorf("%s: unsupported inventory format %q", path, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &inv, nil
}

// ImportSummary counts the rows an import wrote.
type ImportSummary struct {
	DataSources, Devices, Namesets, Tests, Selectors int
}

// Import validates inv and upserts it in one transaction: either every
// row is written or none. Namesets must pass nameset.Validate, test
// expressions must compile, and every referenced nameset, data source
// and test must exist in inv or in the store.
func (s *Store) Import(ctx context.Context, inv *Inventory) (summary ImportSummary, err error) {
	if err := validateInventory(inv); err != nil {
		return summary, fmt.Errorf("store: import: %w", err)
	}
	err = s.write(ctx, "import", func(conn *sqlite.Conn) error {
		for i := range inv.DataSources {
			if err := upsertDataSource(conn, &inv.DataSources[i]); err != nil {
				return err
			}
			summary.DataSources++
		}
		for i := range inv.Devices {
			if err := upsertDevice(conn, &inv.Devices[i]); err != nil {
				return err
			}
			summary.Devices++
		}
		for i := range inv.Namesets {
			if err := upsertNameset(conn, &inv.Namesets[i]); err != nil {
				return err
			}
			summary.Namesets++
		}
		for i := range inv.Tests {
			if err := upsertTest(conn, &inv.Tests[i]); err != nil {
				return err
			}
			summary.Tests++
		}
		for i := range inv.Selectors {
			if err := upsertSelector(conn, &inv.Selectors[i]); err != nil {
				return err
			}
			summary.Selectors++
		}
		return nil
	})
	if err == nil {
		s.logger.Info("inventory imported",
			"data_sources", summary.DataSources,
			"devices", summary.Devices,
			"namesets", summary.Namesets,
			"tests", summary.Tests,
			"selectors", summary.Selectors,
		)
	}
	return summary, err
}

func validateInventory(inv *Inventory) error {
	for i := range inv.DataSources {
		if err := inv.DataSources[i].Validate(); err != nil {
			return err
		}
	}
	for _, d := range inv.Devices {
		if d.Name == "" {
			return fmt.Errorf("device: name is required")
		}
	}
	for _, ns := range inv.Namesets {
		if ns.Name == "" {
			return fmt.Errorf("nameset: name is required")
		}
		if err := nameset.Validate(ns.Definitions); err != nil {
			return fmt.Errorf("nameset %s: %w", ns.Name, err)
		}
	}
	for i := range inv.Tests {
		if err := inv.Tests[i].Validate(); err != nil {
			return err
		}
	}
	for i := range inv.Selectors {
		if err := inv.Selectors[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// lookupID returns the id of the row named name, or 0.
func lookupID(conn *sqlite.Conn, table, name string) (int64, error) {
	var id int64
	err := sqlitex.Execute(conn, "SELECT id FROM "+table+" WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			return nil
		},
	})
	return id, err
}

// upsert inserts or updates the row named name and returns its id.
// A zero id keeps the existing id or lets SQLite assign one.
func upsert(conn *sqlite.Conn, table string, id int64, name string, columns []string, values []any) (int64, error) {
	existing, err := lookupID(conn, table, name)
	if err != nil {
		return 0, err
	}
	if existing != 0 && id != 0 && existing != id {
		return 0, fmt.Errorf("%s %q already has id %d, not %d", table, name, existing, id)
	}
	if existing != 0 {
		err := sqlitex.Execute(conn, "UPDATE "+table+" SET "+strings.Join(columns, " = ?, ")+" = ? WHERE id = ?", &sqlitex.ExecOptions{
			Args: append(values, existing),
		})
		return existing, err
	}
	query := fmt.Sprintf("INSERT INTO %s (name, %s) VALUES (?, %s)",
		table, strings.Join(columns, ", "), placeholders(len(columns)))
	args := append([]any{name}, values...)
	if id != 0 {
		query = fmt.Sprintf("INSERT INTO %s (id, name, %s) VALUES (?, ?, %s)",
			table, strings.Join(columns, ", "), placeholders(len(columns)))
		args = append([]any{id}, args...)
	}
	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return 0, err
	}
	return conn.LastInsertRowID(), nil
}

func upsertDataSource(conn *sqlite.Conn, ds *compliance.DataSource) error {
	id, err := upsert(conn, "data_sources", ds.ID, ds.Name,
		[]string{"type", "path", "origin"},
		[]any{string(ds.Type), ds.Path, ds.Origin})
	if err != nil {
		return fmt.Errorf("data source %s: %w", ds.Name, err)
	}
	ds.ID = id
	return nil
}

func upsertDevice(conn *sqlite.Conn, d *compliance.Device) error {
	if d.DataSource != "" {
		id, err := lookupID(conn, "data_sources", d.DataSource)
		if err != nil {
			return err
		}
		if id == 0 {
			return fmt.Errorf("device %s: unknown data source %q", d.Name, d.DataSource)
		}
	}
	body, err := codec.Marshal(d)
	if err != nil {
		return fmt.Errorf("device %s: %w", d.Name, err)
	}
	id, err := upsert(conn, "devices", d.ID, d.Name,
		[]string{"data_source", "body"},
		[]any{d.DataSource, body})
	if err != nil {
		return fmt.Errorf("device %s: %w", d.Name, err)
	}
	d.ID = id
	return nil
}

func upsertNameset(conn *sqlite.Conn, ns *compliance.Nameset) error {
	id, err := upsert(conn, "namesets", ns.ID, ns.Name,
		[]string{"description", "global", "definitions"},
		[]any{ns.Description, boolInt(ns.Global), ns.Definitions})
	if err != nil {
		return fmt.Errorf("nameset %s: %w", ns.Name, err)
	}
	ns.ID = id
	return nil
}

func upsertTest(conn *sqlite.Conn, t *compliance.Test) error {
	id, err := upsert(conn, "tests", t.ID, t.Name,
		[]string{"description", "expression", "severity"},
		[]any{t.Description, t.Expression, string(t.Severity)})
	if err != nil {
		return fmt.Errorf("test %s: %w", t.Name, err)
	}
	t.ID = id
	if err := sqlitex.Execute(conn, "DELETE FROM test_namesets WHERE test_id = ?", &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return err
	}
	for _, name := range t.Namesets {
		known, err := lookupID(conn, "namesets", name)
		if err != nil {
			return err
		}
		if known == 0 {
			return fmt.Errorf("test %s: unknown nameset %q", t.Name, name)
		}
		if err := sqlitex.Execute(conn, "INSERT OR IGNORE INTO test_namesets (test_id, nameset) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{id, name}}); err != nil {
			return err
		}
	}
	if err := sqlitex.Execute(conn, "DELETE FROM test_tags WHERE test_id = ?", &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return err
	}
	for _, tag := range t.Tags {
		if err := sqlitex.Execute(conn, "INSERT OR IGNORE INTO test_tags (test_id, tag) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{id, tag}}); err != nil {
			return err
		}
	}
	return nil
}

func upsertSelector(conn *sqlite.Conn, sel *InventorySelector) error {
	testIDs := make([]int64, 0, len(sel.Tests))
	for _, name := range sel.Tests {
		id, err := lookupID(conn, "tests", name)
		if err != nil {
			return err
		}
		if id == 0 {
			return fmt.Errorf("selector %s: unknown test %q", sel.Name, name)
		}
		testIDs = append(testIDs, id)
	}
	sel.TestIDs = nil
	body, err := codec.Marshal(&sel.Selector)
	if err != nil {
		return fmt.Errorf("selector %s: %w", sel.Name, err)
	}
	id, err := upsert(conn, "selectors", sel.ID, sel.Name, []string{"body"}, []any{body})
	if err != nil {
		return fmt.Errorf("selector %s: %w", sel.Name, err)
	}
	sel.ID = id
	sel.TestIDs = testIDs
	if err := sqlitex.Execute(conn, "DELETE FROM selector_tests WHERE selector_id = ?", &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return err
	}
	for position, testID := range testIDs {
		if err := sqlitex.Execute(conn, "INSERT OR IGNORE INTO selector_tests (selector_id, test_id, position) VALUES (?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{id, testID, position}}); err != nil {
			return err
		}
	}
	return nil
}

// DataSources returns every data source ordered by id.
func (s *Store) DataSources(ctx context.Context) ([]*compliance.DataSource, error) {
	var sources []*compliance.DataSource
	err := s.read(ctx, "data sources", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT id, name, type, path, origin FROM data_sources ORDER BY id", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sources = append(sources, &compliance.DataSource{
					ID:     stmt.ColumnInt64(0),
					Name:   stmt.ColumnText(1),
					Type:   compliance.DataSourceType(stmt.ColumnText(2)),
					Path:   stmt.ColumnText(3),
					Origin: stmt.ColumnText(4),
				})
				return nil
			},
		})
	})
	return sources, err
}

// DataSource returns the data source named name.
func (s *Store) DataSource(ctx context.Context, name string) (*compliance.DataSource, error) {
	sources, err := s.DataSources(ctx)
	if err != nil {
		return nil, err
	}
	for _, ds := range sources {
		if ds.Name == name {
			return ds, nil
		}
	}
	return nil, fmt.Errorf("store: data source %q: %w", name, ErrNotFound)
}

// SyncDigest returns the digest recorded by the last successful sync
// of the named data source, or "".
func (s *Store) SyncDigest(ctx context.Context, name string) (string, error) {
	var digest string
	err := s.read(ctx, "sync digest", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT digest FROM data_sources WHERE name = ?", &sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				digest = stmt.ColumnText(0)
				return nil
			},
		})
	})
	return digest, err
}

// MarkSynced records a successful sync of the named data source.
func (s *Store) MarkSynced(ctx context.Context, name, digest string) error {
	return s.write(ctx, "mark synced", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "UPDATE data_sources SET digest = ?, synced_at = ? WHERE name = ?", &sqlitex.ExecOptions{
			Args: []any{digest, s.now(), name},
		})
	})
}

// Devices returns every device ordered by id.
func (s *Store) Devices(ctx context.Context) ([]*compliance.Device, error) {
	return s.queryDevices(ctx, "SELECT id, body FROM devices ORDER BY id")
}

// DevicesByID returns the devices with the given ids ordered by id.
// Unknown ids are skipped.
func (s *Store) DevicesByID(ctx context.Context, ids []int64) ([]*compliance.Device, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryDevices(ctx, "SELECT id, body FROM devices WHERE id IN ("+placeholders(len(ids))+") ORDER BY id", int64Args(ids)...)
}

func (s *Store) queryDevices(ctx context.Context, query string, args ...any) ([]*compliance.Device, error) {
	var devices []*compliance.Device
	err := s.read(ctx, "devices", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var d compliance.Device
				if err := codec.Unmarshal(columnBytes(stmt, 1), &d); err != nil {
					return fmt.Errorf("decoding device %d: %w", stmt.ColumnInt64(0), err)
				}
				d.ID = stmt.ColumnInt64(0)
				devices = append(devices, &d)
				return nil
			},
		})
	})
	return devices, err
}

// MatchingDevices returns the devices filter matches, ordered by id.
// A nil filter matches every device.
func (s *Store) MatchingDevices(ctx context.Context, filter *compliance.Filter) ([]*compliance.Device, error) {
	devices, err := s.Devices(ctx)
	if err != nil || filter == nil {
		return devices, err
	}
	matched := devices[:0]
	for _, d := range devices {
		ok, err := filter.Matches(d)
		if err != nil {
			return nil, fmt.Errorf("store: matching %s: %w", d.Name, err)
		}
		if ok {
			matched = append(matched, d)
		}
	}
	return matched, nil
}

// Selectors returns every selector ordered by id, with its test ids in
// binding order.
func (s *Store) Selectors(ctx context.Context) ([]*compliance.Selector, error) {
	var selectors []*compliance.Selector
	byID := make(map[int64]*compliance.Selector)
	err := s.read(ctx, "selectors", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "SELECT id, body FROM selectors ORDER BY id", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var sel compliance.Selector
				if err := codec.Unmarshal(columnBytes(stmt, 1), &sel); err != nil {
					return fmt.Errorf("decoding selector %d: %w", stmt.ColumnInt64(0), err)
				}
				sel.ID = stmt.ColumnInt64(0)
				selectors = append(selectors, &sel)
				byID[sel.ID] = &sel
				return nil
			},
		})
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn, "SELECT selector_id, test_id FROM selector_tests ORDER BY selector_id, position", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if sel := byID[stmt.ColumnInt64(0)]; sel != nil {
					sel.TestIDs = append(sel.TestIDs, stmt.ColumnInt64(1))
				}
				return nil
			},
		})
	})
	return selectors, err
}

// Tests returns tests by id. With tags non-empty only tests carrying
// one of them are returned.
func (s *Store) Tests(ctx context.Context, ids []int64, tags []string) (map[int64]*compliance.Test, error) {
	tests := make(map[int64]*compliance.Test)
	if len(ids) == 0 {
		return tests, nil
	}
	err := s.read(ctx, "tests", func(conn *sqlite.Conn) error {
		in := "(" + placeholders(len(ids)) + ")"
		err := sqlitex.Execute(conn, "SELECT id, name, description, expression, severity FROM tests WHERE id IN "+in, &sqlitex.ExecOptions{
			Args: int64Args(ids),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				t := &compliance.Test{
					ID:          stmt.ColumnInt64(0),
					Name:        stmt.ColumnText(1),
					Description: stmt.ColumnText(2),
					Expression:  stmt.ColumnText(3),
					Severity:    compliance.Severity(stmt.ColumnText(4)),
				}
				tests[t.ID] = t
				return nil
			},
		})
		if err != nil {
			return err
		}
		err = sqlitex.Execute(conn, "SELECT test_id, nameset FROM test_namesets WHERE test_id IN "+in+" ORDER BY test_id, nameset", &sqlitex.ExecOptions{
			Args: int64Args(ids),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				t := tests[stmt.ColumnInt64(0)]
				t.Namesets = append(t.Namesets, stmt.ColumnText(1))
				return nil
			},
		})
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn, "SELECT test_id, tag FROM test_tags WHERE test_id IN "+in+" ORDER BY test_id, tag", &sqlitex.ExecOptions{
			Args: int64Args(ids),
			ResultFunc: func(stmt *sqlite.Stmt) error {
				t := tests[stmt.ColumnInt64(0)]
				t.Tags = append(t.Tags, stmt.ColumnText(1))
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	for id, t := range tests {
		if !t.HasAnyTag(tags) {
			delete(tests, id)
		}
	}
	return tests, nil
}

// SelectorTests returns the selector's tests in binding order, keeping
// only those that carry one of tags when tags is non-empty.
func (s *Store) SelectorTests(ctx context.Context, sel *compliance.Selector, tags []string) ([]*compliance.Test, error) {
	byID, err := s.Tests(ctx, sel.TestIDs, tags)
	if err != nil {
		return nil, err
	}
	tests := make([]*compliance.Test, 0, len(byID))
	for _, id := range sel.TestIDs {
		if t, ok := byID[id]; ok {
			tests = append(tests, t)
		}
	}
	return tests, nil
}

// Namesets returns every nameset ordered by name.
func (s *Store) Namesets(ctx context.Context) ([]*compliance.Nameset, error) {
	var namesets []*compliance.Nameset
	err := s.read(ctx, "namesets", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT id, name, description, global, definitions FROM namesets ORDER BY name", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				namesets = append(namesets, &compliance.Nameset{
					ID:          stmt.ColumnInt64(0),
					Name:        stmt.ColumnText(1),
					Description: stmt.ColumnText(2),
					Global:      stmt.ColumnInt64(3) != 0,
					Definitions: stmt.ColumnText(4),
				})
				return nil
			},
		})
	})
	return namesets, err
}

// TestNames maps test ids to names for rendering reports.
func (s *Store) TestNames(ctx context.Context) (map[int64]string, error) {
	names := make(map[int64]string)
	err := s.read(ctx, "test names", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT id, name FROM tests", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				names[stmt.ColumnInt64(0)] = stmt.ColumnText(1)
				return nil
			},
		})
	})
	return names, err
}

// ImplicatedDataSources returns the names of the data sources bound to
// devices, sorted.
func ImplicatedDataSources(devices []*compliance.Device) []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range devices {
		if d.DataSource != "" && !seen[d.DataSource] {
			seen[d.DataSource] = true
			names = append(names, d.DataSource)
		}
	}
	sort.Strings(names)
	return names
}
