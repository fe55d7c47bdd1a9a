package template

import (
	"strings"
	"testing"
)

func TestRender_SimpleInterpolation(t *testing.T) {
	got, err := Render("Hello, {{name}}!", map[string]any{"name": "Ada"}, Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Hello, Ada!" {
		t.Errorf("Render() = %q, want %q", got, "Hello, Ada!")
	}
}

func TestRender_NestedPath(t *testing.T) {
	ctx := map[string]any{"event": map[string]any{"id": "evt_123"}}
	got, err := Render("id={{event.id}}", ctx, Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "id=evt_123" {
		t.Errorf("Render() = %q, want %q", got, "id=evt_123")
	}
}

func TestRender_IfBlock(t *testing.T) {
	tpl := "{{#if active}}ON{{/if}}{{#if inactive}}OFF{{/if}}"

	got, err := Render(tpl, map[string]any{"active": true, "inactive": false}, Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "ON" {
		t.Errorf("Render() = %q, want %q", got, "ON")
	}
}

func TestRender_EachBlock(t *testing.T) {
	tpl := "{{#each items}}[{{@index}}:{{this}}]{{/each}}"
	ctx := map[string]any{"items": []any{"a", "b", "c"}}

	got, err := Render(tpl, ctx, Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "[0:a][1:b][2:c]" {
		t.Errorf("Render() = %q, want %q", got, "[0:a][1:b][2:c]")
	}
}

func TestRender_ExceedsMaxSize(t *testing.T) {
	tpl := strings.Repeat("a", 100)
	_, err := Render(tpl, nil, Options{MaxTemplateSize: 10})
	if err == nil {
		t.Error("expected error for template exceeding MaxTemplateSize, got nil")
	}
}

func TestRender_MissingPathRendersEmpty(t *testing.T) {
	got, err := Render("[{{missing.path}}]", map[string]any{}, Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "[]" {
		t.Errorf("Render() = %q, want %q", got, "[]")
	}
}
