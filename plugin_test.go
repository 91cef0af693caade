package sessionkit

import (
	"errors"
	"testing"
)

func pluginIDs(plugins []Plugin) []string {
	ids := make([]string, len(plugins))
	for i, p := range plugins {
		ids[i] = p.ID
	}
	return ids
}

func TestSortPluginsKeepsRegistrationOrder(t *testing.T) {
	ordered, err := sortPlugins([]Plugin{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	if err != nil {
		t.Fatalf("sortPlugins: %v", err)
	}
	got := pluginIDs(ordered)
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("order = %v", got)
	}
}

func TestSortPluginsHonorsDependencies(t *testing.T) {
	ordered, err := sortPlugins([]Plugin{
		{ID: "metrics", DependsOn: []string{"config"}},
		{ID: "audit", DependsOn: []string{"config", "metrics"}},
		{ID: "config"},
	})
	if err != nil {
		t.Fatalf("sortPlugins: %v", err)
	}

	pos := map[string]int{}
	for i, p := range ordered {
		pos[p.ID] = i
	}
	if pos["config"] > pos["metrics"] || pos["metrics"] > pos["audit"] {
		t.Fatalf("order = %v", pluginIDs(ordered))
	}
}

func TestSortPluginsRejectsCycle(t *testing.T) {
	_, err := sortPlugins([]Plugin{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	if !errors.Is(err, ErrPluginCycle) {
		t.Fatalf("err = %v, want ErrPluginCycle", err)
	}
}

func TestSortPluginsRejectsDuplicateAndMissing(t *testing.T) {
	if _, err := sortPlugins([]Plugin{{ID: "a"}, {ID: "a"}}); !errors.Is(err, ErrPluginDuplicate) {
		t.Fatalf("duplicate err = %v, want ErrPluginDuplicate", err)
	}
	if _, err := sortPlugins([]Plugin{{ID: "a", DependsOn: []string{"ghost"}}}); !errors.Is(err, ErrPluginMissingDep) {
		t.Fatalf("missing dep err = %v, want ErrPluginMissingDep", err)
	}
	if _, err := sortPlugins([]Plugin{{}}); err == nil {
		t.Fatal("sortPlugins accepted an empty plugin id")
	}
}

func TestBuildRunsPluginsInDependencyOrder(t *testing.T) {
	var ran []string
	builder := New().WithConnection("http://localhost:3567", "")

	builder.WithPlugin(Plugin{
		ID:        "second",
		DependsOn: []string{"first"},
		Init: func(*Builder) error {
			ran = append(ran, "second")
			return nil
		},
	})
	builder.WithPlugin(Plugin{
		ID: "first",
		Init: func(b *Builder) error {
			ran = append(ran, "first")
			// plugins may mutate config before validation
			b.WithMetricsEnabled(true)
			return nil
		},
	})

	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Fatalf("plugins ran in order %v", ran)
	}
	if !engine.metrics.Enabled() {
		t.Fatal("plugin config mutation was lost")
	}
}

func TestBuildFailsOnPluginError(t *testing.T) {
	wantErr := errors.New("plugin init boom")
	_, err := New().
		WithConnection("http://localhost:3567", "").
		WithPlugin(Plugin{ID: "bad", Init: func(*Builder) error { return wantErr }}).
		Build()
	if !errors.Is(err, wantErr) {
		t.Fatalf("Build err = %v, want %v", err, wantErr)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	builder := New().WithConnection("http://localhost:3567", "")
	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	if _, err := builder.Build(); err == nil {
		t.Fatal("second Build on the same builder succeeded")
	}
}

func TestBuildRequiresStoreWhenLinkingEnabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.Core.ConnectionURI = "http://localhost:3567"
	cfg.Linking.Enabled = true

	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("Build succeeded with linking enabled and no identity store")
	}
}
