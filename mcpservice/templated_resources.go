package mcpservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/gomcp/corekit/mcp"
	"github.com/gomcp/corekit/registry"
	"github.com/gomcp/corekit/sessions"
)

// TemplatedReadFunc reads the contents a resource URI resolves to once its
// template variables have been extracted, e.g. for "repo://{owner}/{repo}"
// vars would contain {"owner": "acme", "repo": "widgets"}.
type TemplatedReadFunc func(ctx context.Context, session sessions.Session, uri string, vars map[string]string) ([]mcp.ResourceContents, error)

// TemplatedResources is a ResourcesCapability backed by a registry.ResourceRegistry,
// for servers exposing several families of resource URIs (e.g. a VCS
// provider's "repo://{owner}/{repo}/contents/{+path}" alongside a database
// provider's "db://{table}/{id}") that need the most-specific-template-wins
// resolution the registry package implements, rather than
// mcpservice.FSResources's single-root or mcpservice.ResourcesContainer's
// flat, fully-enumerated resource set.
type TemplatedResources struct {
	mu   sync.RWMutex
	reg  *registry.ResourceRegistry
	read map[string]TemplatedReadFunc
}

// NewTemplatedResources constructs a TemplatedResources from a set of
// bindings. Binding names must be unique; duplicates overwrite earlier
// ones but, per registry.ResourceRegistry.Register, keep their original
// specificity tie-break order.
func NewTemplatedResources(bindings ...TemplateBinding) (*TemplatedResources, error) {
	tr := &TemplatedResources{
		reg:  registry.NewResourceRegistry(),
		read: make(map[string]TemplatedReadFunc, len(bindings)),
	}
	for _, b := range bindings {
		if err := tr.Register(b.Name, b.Template, b.Read); err != nil {
			return nil, err
		}
	}
	return tr, nil
}

// TemplateBinding is a named resource template plus the function that reads
// URIs matching it. It is the constructor argument type for
// NewTemplatedResources.
type TemplateBinding struct {
	Name     string
	Template mcp.ResourceTemplate
	Read     TemplatedReadFunc
}

// Register adds or replaces a named template binding.
func (tr *TemplatedResources) Register(name string, tmpl mcp.ResourceTemplate, read TemplatedReadFunc) error {
	if read == nil {
		return fmt.Errorf("registry: binding %q has no read function", name)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if err := tr.reg.Register(name, tmpl); err != nil {
		return err
	}
	tr.read[name] = read
	return nil
}

// Unregister removes a named template binding.
func (tr *TemplatedResources) Unregister(name string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.read, name)
	return tr.reg.Unregister(name)
}

// ListResources implements ResourcesCapability. TemplatedResources exposes
// only templates, not an enumerable set of concrete resources; a client
// resolves concrete URIs by filling in a template and calling ReadResource.
func (tr *TemplatedResources) ListResources(ctx context.Context, _ sessions.Session, _ *string) (Page[mcp.Resource], error) {
	return NewPage[mcp.Resource](nil), nil
}

// ListResourceTemplates implements ResourcesCapability.
func (tr *TemplatedResources) ListResourceTemplates(ctx context.Context, _ sessions.Session, _ *string) (Page[mcp.ResourceTemplate], error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return NewPage(tr.reg.Templates()), nil
}

// ReadResource implements ResourcesCapability by resolving uri against the
// registered templates, ranked by specificity, and dispatching to the
// matched binding's read function.
func (tr *TemplatedResources) ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	tr.mu.RLock()
	entry, vars, ok := tr.reg.Resolve(uri)
	var read TemplatedReadFunc
	if ok {
		read = tr.read[entry.Name]
	}
	tr.mu.RUnlock()
	if !ok || read == nil {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	return read(ctx, session, uri, vars)
}

// GetSubscriptionCapability implements ResourcesCapability. Templated
// resources are resolved dynamically per read; there is no fixed
// enumeration of URIs to track subscriptions against.
func (tr *TemplatedResources) GetSubscriptionCapability(ctx context.Context, _ sessions.Session) (ResourceSubscriptionCapability, bool, error) {
	return nil, false, nil
}

// GetListChangedCapability implements ResourcesCapability. The set of
// templates this server exposes is expected to be fixed at startup.
func (tr *TemplatedResources) GetListChangedCapability(ctx context.Context, _ sessions.Session) (ResourceListChangedCapability, bool, error) {
	return nil, false, nil
}

var _ ResourcesCapability = (*TemplatedResources)(nil)
