package main

import (
	"os"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		schema string
		want   string
	}{
		{"plain", "CREATE SCHEMA IF NOT EXISTS {{schema}};", "mobility", `CREATE SCHEMA IF NOT EXISTS "mobility";`},
		{"repeated", "{{schema}}.a, {{schema}}.b", "m", `"m".a, "m".b`},
		{"quote in name", "{{schema}}.t", `we"ird`, `"we""ird".t`},
		{"no placeholder", "SELECT 1", "m", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(tt.in, tt.schema); got != tt.want {
				t.Errorf("render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMigrationFilesFullyRendered(t *testing.T) {
	for _, name := range []string{"001_create_schema.up.sql", "001_create_schema.down.sql"} {
		b, err := os.ReadFile("../../migrations/" + name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(b), schemaPlaceholder) {
			t.Errorf("%s has no schema placeholder", name)
		}
		if out := render(string(b), "mobility"); strings.Contains(out, "{{") {
			t.Errorf("%s still has a template marker after render", name)
		}
	}
}
