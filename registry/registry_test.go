package registry

import (
	"testing"

	"github.com/gomcp/corekit/mcp"
)

func TestResourceRegistry_ResolvesLiteralOverVariable(t *testing.T) {
	reg := NewResourceRegistry()
	mustRegister(t, reg, "latest", mcp.ResourceTemplate{URITemplate: "repo://acme/widgets/contents/latest"})
	mustRegister(t, reg, "byPath", mcp.ResourceTemplate{URITemplate: "repo://acme/widgets/contents/{+path}"})

	entry, _, ok := reg.Resolve("repo://acme/widgets/contents/latest")
	if !ok {
		t.Fatal("expected a match")
	}
	if entry.Name != "latest" {
		t.Fatalf("expected the literal template to win, got %q", entry.Name)
	}
}

func TestResourceRegistry_ResolvesLongerPrefix(t *testing.T) {
	reg := NewResourceRegistry()
	mustRegister(t, reg, "byOwner", mcp.ResourceTemplate{URITemplate: "repo://{owner}/{repo}/contents/{+path}"})
	mustRegister(t, reg, "byAcme", mcp.ResourceTemplate{URITemplate: "repo://acme/{repo}/contents/{+path}"})

	entry, vars, ok := reg.Resolve("repo://acme/widgets/contents/src/main.go")
	if !ok {
		t.Fatal("expected a match")
	}
	if entry.Name != "byAcme" {
		t.Fatalf("expected the longer literal prefix to win, got %q", entry.Name)
	}
	if vars["repo"] != "widgets" || vars["path"] != "src/main.go" {
		t.Fatalf("unexpected extracted vars: %+v", vars)
	}
}

func TestResourceRegistry_TiesBreakByEarliestRegistration(t *testing.T) {
	reg := NewResourceRegistry()
	mustRegister(t, reg, "first", mcp.ResourceTemplate{URITemplate: "db://{table}/{id}"})
	mustRegister(t, reg, "second", mcp.ResourceTemplate{URITemplate: "db://{table}/{id}"})

	entry, _, ok := reg.Resolve("db://users/42")
	if !ok {
		t.Fatal("expected a match")
	}
	if entry.Name != "first" {
		t.Fatalf("expected the earliest-registered template to win a tie, got %q", entry.Name)
	}
}

func TestResourceRegistry_ReRegisterPreservesOriginalOrder(t *testing.T) {
	reg := NewResourceRegistry()
	mustRegister(t, reg, "first", mcp.ResourceTemplate{URITemplate: "db://{table}/{id}"})
	mustRegister(t, reg, "second", mcp.ResourceTemplate{URITemplate: "db://{table}/{id}"})
	mustRegister(t, reg, "first", mcp.ResourceTemplate{URITemplate: "db://{table}/{id}", Description: "updated"})

	entry, _, ok := reg.Resolve("db://users/42")
	if !ok {
		t.Fatal("expected a match")
	}
	if entry.Name != "first" {
		t.Fatalf("re-registering should not lose tie-break priority, got %q", entry.Name)
	}
	if entry.Template.Description != "updated" {
		t.Fatalf("expected the updated template body, got %+v", entry.Template)
	}
}

func TestResourceRegistry_NoMatch(t *testing.T) {
	reg := NewResourceRegistry()
	mustRegister(t, reg, "byOwner", mcp.ResourceTemplate{URITemplate: "repo://{owner}/{repo}"})

	if _, _, ok := reg.Resolve("db://users/42"); ok {
		t.Fatal("expected no match for an unrelated scheme")
	}
}

func TestResourceRegistry_Unregister(t *testing.T) {
	reg := NewResourceRegistry()
	mustRegister(t, reg, "byOwner", mcp.ResourceTemplate{URITemplate: "repo://{owner}/{repo}"})

	if !reg.Unregister("byOwner") {
		t.Fatal("expected Unregister to report removal")
	}
	if reg.Unregister("byOwner") {
		t.Fatal("expected a second Unregister to report no-op")
	}
	if _, _, ok := reg.Resolve("repo://acme/widgets"); ok {
		t.Fatal("expected no match after unregistering the only template")
	}
}

func TestResourceRegistry_Templates_PreservesRegistrationOrder(t *testing.T) {
	reg := NewResourceRegistry()
	mustRegister(t, reg, "a", mcp.ResourceTemplate{URITemplate: "a://{x}"})
	mustRegister(t, reg, "b", mcp.ResourceTemplate{URITemplate: "b://{x}"})
	mustRegister(t, reg, "c", mcp.ResourceTemplate{URITemplate: "c://{x}"})

	got := reg.Templates()
	if len(got) != 3 {
		t.Fatalf("expected 3 templates, got %d", len(got))
	}
	want := []string{"a://{x}", "b://{x}", "c://{x}"}
	for i, tmpl := range got {
		if tmpl.URITemplate != want[i] {
			t.Fatalf("expected templates in registration order, got %+v", got)
		}
	}
}

func TestEntry_Expand(t *testing.T) {
	reg := NewResourceRegistry()
	mustRegister(t, reg, "byOwner", mcp.ResourceTemplate{URITemplate: "repo://{owner}/{repo}"})

	entry, _, ok := reg.Resolve("repo://acme/widgets")
	if !ok {
		t.Fatal("expected a match")
	}
	uri, err := entry.Expand(map[string]string{"owner": "acme", "repo": "widgets"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uri != "repo://acme/widgets" {
		t.Fatalf("expected round-tripped URI, got %q", uri)
	}
}

func mustRegister(t *testing.T, reg *ResourceRegistry, name string, tmpl mcp.ResourceTemplate) {
	t.Helper()
	if err := reg.Register(name, tmpl); err != nil {
		t.Fatalf("Register(%q): %v", name, err)
	}
}
