// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicestate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/fleetcheck/lib/compliance"
	"github.com/bureau-foundation/fleetcheck/lib/expr"
	"github.com/bureau-foundation/fleetcheck/lib/testutil"
)

func newFixture(t *testing.T) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFiles(t, root, map[string]string{
		"spine-1/config.yaml": "hostname: spine-1\ninterfaces:\n  - name: eth0\n    mtu: 9000\n  - name: eth1\n    mtu: 1500\n",
		"spine-1/bgp.yaml":    "neighbors: [unclosed\n",
		"spine-1/ntp.yml":     "servers:\n  - 10.0.0.1\n",
		"spine-2/config.yaml": "hostname: spine-2\ninterfaces: []\n",
		"leaf-1/config.json":  "{\n  // generated\n  \"hostname\": \"leaf-1\",\n  \"asn\": 65001,\n}\n",
	})
	source := &compliance.DataSource{Name: "lab", Type: compliance.DataSourceLocal, Path: root}
	return NewResolver([]*compliance.DataSource{source}, nil), root
}

func evaluate(t *testing.T, device *Device, expression string) (bool, error) {
	t.Helper()
	passed, _, err := expr.Evaluate(context.Background(), expression,
		map[string]expr.Value{"device": device}, DefaultFunctions(), 0)
	return passed, err
}

func TestDeviceExpressions(t *testing.T) {
	resolver, _ := newFixture(t)
	spine := resolver.Device(&compliance.Device{
		ID: 1, Name: "spine-1", DataSource: "lab", Serializer: "yaml",
		Platform: "eos", Tags: []string{"prod"}, CustomFields: map[string]any{"rack": "r1"},
	})
	leaf := resolver.Device(&compliance.Device{ID: 2, Name: "leaf-1", DataSource: "lab", Serializer: "json"})

	passing := []string{
		"device.config['interfaces'][0]['mtu'] == 9000",
		"config(device).interfaces[1].mtu == 1500",
		"[i['name'] for i in device.config['interfaces'] if i['mtu'] > 1500] == ['eth0']",
		"device.state.ntp['servers'] == ['10.0.0.1']",
		"state(device)['config']['hostname'] == device.name",
		"'ntp' in device.state and 'snmp' not in device.state",
		"device.state.get('snmp', 'absent') == 'absent'",
		"device.platform == 'eos' and device.site is None",
		"'prod' in device.tags and device.custom_fields['rack'] == 'r1'",
		"device.id == 1 and device.dynamic_pair is None",
		"jq.first('.interfaces | map(.mtu) | max', device.config) == 9000",
	}
	for _, expression := range passing {
		passed, err := evaluate(t, spine, expression)
		if err != nil {
			t.Errorf("%s: %v", expression, err)
			continue
		}
		if !passed {
			t.Errorf("%s: got False", expression)
		}
	}

	if passed, err := evaluate(t, leaf, "device.config['asn'] == 65001"); err != nil || !passed {
		t.Errorf("JSONC config: passed=%v err=%v", passed, err)
	}
}

func TestItemErrorsAreIsolated(t *testing.T) {
	resolver, _ := newFixture(t)
	spine := resolver.Device(&compliance.Device{ID: 1, Name: "spine-1", DataSource: "lab", Serializer: "yaml"})

	_, err := evaluate(t, spine, "len(device.state.bgp['neighbors']) > 0")
	var evalErr *expr.EvalError
	if !errors.As(err, &evalErr) || evalErr.Type != "SerializationError" {
		t.Fatalf("broken item: got %v, want a SerializationError EvalError", err)
	}
	if passed, err := evaluate(t, spine, "device.config['hostname'] == 'spine-1'"); err != nil || !passed {
		t.Fatalf("config after broken item: passed=%v err=%v", passed, err)
	}

	_, err = evaluate(t, spine, "device.state['snmp']")
	if !errors.As(err, &evalErr) || evalErr.Type != "KeyError" {
		t.Fatalf("missing item: got %v, want KeyError", err)
	}
}

func TestStateMemoizesItems(t *testing.T) {
	resolver, root := newFixture(t)
	state, err := resolver.State(&compliance.Device{Name: "spine-2", DataSource: "lab", Serializer: "yaml"})
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	first, err := state.Get(ConfigItem)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := os.Remove(filepath.Join(root, "spine-2", "config.yaml")); err != nil {
		t.Fatal(err)
	}
	second, err := state.Get(ConfigItem)
	if err != nil {
		t.Fatalf("Get after removal: %v", err)
	}
	if first != second {
		t.Fatal("Get reloaded a memoized item")
	}
	if _, err := state.Get("../spine-1/config"); !errors.Is(err, ErrNoItem) {
		t.Fatalf("path traversal: got %v, want ErrNoItem", err)
	}
}

func TestStateItems(t *testing.T) {
	resolver, _ := newFixture(t)
	state, err := resolver.State(&compliance.Device{Name: "spine-1", DataSource: "lab", Serializer: "yaml"})
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	items, err := state.Items()
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if diff := cmp.Diff([]string{"bgp", "config", "ntp"}, items); diff != "" {
		t.Errorf("Items mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveFailures(t *testing.T) {
	resolver, _ := newFixture(t)
	devices := map[string]*compliance.Device{
		"no data source":     {Name: "spine-1", Serializer: "yaml"},
		"unknown source":     {Name: "spine-1", DataSource: "prod", Serializer: "yaml"},
		"no serializer":      {Name: "spine-1", DataSource: "lab"},
		"unknown serializer": {Name: "spine-1", DataSource: "lab", Serializer: "textfsm"},
		"no directory":       {Name: "spine-9", DataSource: "lab", Serializer: "yaml"},
	}
	for name, d := range devices {
		_, err := resolver.Device(d).State()
		var serr *SerializationError
		if !errors.As(err, &serr) {
			t.Errorf("%s: got %v, want *SerializationError", name, err)
			continue
		}
		if serr.Device != d.Name || serr.Item != "" {
			t.Errorf("%s: error = %+v", name, serr)
		}
	}
}

func TestOverridingDataSource(t *testing.T) {
	_, root := newFixture(t)
	override := &compliance.DataSource{Name: "override", Type: compliance.DataSourceLocal, Path: root}
	resolver := NewResolver(nil, override)
	device := resolver.Device(&compliance.Device{Name: "spine-2", DataSource: "gone", Serializer: "yaml"})
	if passed, err := evaluate(t, device, "device.config['hostname'] == 'spine-2'"); err != nil || !passed {
		t.Fatalf("passed=%v err=%v", passed, err)
	}
}

func TestDynamicPair(t *testing.T) {
	resolver, _ := newFixture(t)
	one := resolver.Device(&compliance.Device{ID: 1, Name: "spine-1", DataSource: "lab", Serializer: "yaml"})
	two := resolver.Device(&compliance.Device{ID: 2, Name: "spine-2", DataSource: "lab", Serializer: "yaml"})
	one.SetPair(two)
	expression := "len(device.config['interfaces']) > len(device.dynamic_pair.config['interfaces'])"
	if passed, err := evaluate(t, one, expression); err != nil || !passed {
		t.Fatalf("passed=%v err=%v", passed, err)
	}
}

func TestDefaultFunctionsRejectNonDevices(t *testing.T) {
	_, _, err := expr.Evaluate(context.Background(), "config('spine-1')", nil, DefaultFunctions(), 0)
	var evalErr *expr.EvalError
	if !errors.As(err, &evalErr) || evalErr.Type != "TypeError" {
		t.Fatalf("got %v, want TypeError", err)
	}
}
