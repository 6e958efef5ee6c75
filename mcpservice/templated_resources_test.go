package mcpservice

import (
	"context"
	"testing"

	"github.com/gomcp/corekit/mcp"
	"github.com/gomcp/corekit/sessions"
)

func TestTemplatedResources_ResolvesMostSpecificTemplate(t *testing.T) {
	tr, err := NewTemplatedResources(
		TemplateBinding{
			Name:     "byOwnerRepo",
			Template: mcp.ResourceTemplate{URITemplate: "repo://{owner}/{repo}/contents/{+path}", Name: "repo-contents"},
			Read: func(ctx context.Context, session sessions.Session, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
				return []mcp.ResourceContents{{URI: uri, Text: "generic:" + vars["owner"] + "/" + vars["repo"] + "/" + vars["path"]}}, nil
			},
		},
		TemplateBinding{
			Name:     "acmeOnly",
			Template: mcp.ResourceTemplate{URITemplate: "repo://acme/{repo}/contents/{+path}", Name: "acme-contents"},
			Read: func(ctx context.Context, session sessions.Session, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
				return []mcp.ResourceContents{{URI: uri, Text: "acme:" + vars["repo"] + "/" + vars["path"]}}, nil
			},
		},
	)
	if err != nil {
		t.Fatalf("NewTemplatedResources: %v", err)
	}

	contents, err := tr.ReadResource(context.Background(), nil, "repo://acme/widgets/contents/src/main.go")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(contents) != 1 || contents[0].Text != "acme:widgets/src/main.go" {
		t.Fatalf("expected the more specific acme-only template to win, got %+v", contents)
	}
}

func TestTemplatedResources_UnmatchedURI(t *testing.T) {
	tr, err := NewTemplatedResources(TemplateBinding{
		Name:     "byOwnerRepo",
		Template: mcp.ResourceTemplate{URITemplate: "repo://{owner}/{repo}"},
		Read: func(ctx context.Context, session sessions.Session, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("NewTemplatedResources: %v", err)
	}

	if _, err := tr.ReadResource(context.Background(), nil, "db://users/42"); err == nil {
		t.Fatal("expected an error for a URI matching no registered template")
	}
}

func TestTemplatedResources_ListResourceTemplates(t *testing.T) {
	tr, err := NewTemplatedResources(TemplateBinding{
		Name:     "byOwnerRepo",
		Template: mcp.ResourceTemplate{URITemplate: "repo://{owner}/{repo}", Name: "repo"},
		Read: func(ctx context.Context, session sessions.Session, uri string, vars map[string]string) ([]mcp.ResourceContents, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("NewTemplatedResources: %v", err)
	}

	page, err := tr.ListResourceTemplates(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("ListResourceTemplates: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "repo" {
		t.Fatalf("unexpected templates page: %+v", page)
	}
}

func TestTemplatedResources_RegisterRejectsNilRead(t *testing.T) {
	tr, err := NewTemplatedResources()
	if err != nil {
		t.Fatalf("NewTemplatedResources: %v", err)
	}
	if err := tr.Register("bad", mcp.ResourceTemplate{URITemplate: "x://{y}"}, nil); err == nil {
		t.Fatal("expected an error registering a binding with no read function")
	}
}
