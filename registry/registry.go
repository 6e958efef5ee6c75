// Package registry resolves an incoming resource URI against a set of
// registered RFC 6570 URI templates, the way a router resolves a request
// path against a set of route patterns. It exists because
// mcpservice.FSResources and mcpservice.ResourcesContainer each serve a
// single flat namespace; a server that exposes several resource template
// families (e.g. "repo://{owner}/{repo}/contents/{+path}" alongside
// "db://{table}/{id}") needs a way to pick the most specific template a
// URI matches, not just the first one that happens to match.
//
// Specificity ranking follows the same intuition as path routers like
// net/http's ServeMux or Rust's matchit (used by the turbomcp router this
// package is modeled on): a template with no variables at all beats one
// with variables, and among templates that both have variables, the one
// with the longer literal prefix before its first variable wins. Ties
// (identical prefixes) resolve to whichever template was registered
// first.
package registry

import (
	"fmt"
	"regexp"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/yosida95/uritemplate/v3"

	"github.com/gomcp/corekit/mcp"
)

// Entry is a single registered resource template plus the compiled matcher
// derived from it.
type Entry struct {
	Name     string
	Template mcp.ResourceTemplate

	tmpl       *uritemplate.Template
	matcher    *regexp.Regexp
	varNames   []string
	literalLen int
	seq        int
}

// Variables reports the template's variable names, in template order.
func (e *Entry) Variables() []string {
	out := make([]string, len(e.varNames))
	copy(out, e.varNames)
	return out
}

// Match reports whether uri satisfies e's template and, if so, the values
// bound to each template variable.
func (e *Entry) Match(uri string) (map[string]string, bool) {
	m := e.matcher.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	vars := make(map[string]string, len(e.varNames))
	for i, name := range e.varNames {
		vars[name] = m[i+1]
	}
	return vars, true
}

// Expand fills e's template with vars, producing a concrete URI. It is
// primarily useful for tests and for servers that want to hand a client a
// resolved example URI alongside the template.
func (e *Entry) Expand(vars map[string]string) (string, error) {
	values := uritemplate.Values{}
	for k, v := range vars {
		values.Set(k, uritemplate.String(v))
	}
	return e.tmpl.Expand(values)
}

// ResourceRegistry holds a set of resource templates and resolves incoming
// URIs to the most specific match, per RFC 6570 resolution semantics:
// literal-over-variable, then longer literal prefix, then earliest
// registration. It is safe for concurrent reads once construction (Register
// calls) has finished; like mcpservice.ResourcesContainer's static
// counterparts, callers are expected to build the registry up front rather
// than mutate it under concurrent traffic.
type ResourceRegistry struct {
	entries *orderedmap.OrderedMap[string, *Entry]
	nextSeq int
}

// NewResourceRegistry constructs an empty registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{entries: orderedmap.New[string, *Entry]()}
}

// Register compiles tmpl's URI template and adds it to the registry under
// name. Re-registering an existing name replaces its template but keeps its
// original registration order for specificity tie-breaking, matching how a
// router reloading one route shouldn't let that route jump the queue ahead
// of routes it was already losing ties to.
func (reg *ResourceRegistry) Register(name string, tmpl mcp.ResourceTemplate) error {
	entry, err := compile(tmpl)
	if err != nil {
		return fmt.Errorf("registry: compile template %q: %w", name, err)
	}
	entry.Name = name
	if existing, ok := reg.entries.Get(name); ok {
		entry.seq = existing.seq
	} else {
		entry.seq = reg.nextSeq
		reg.nextSeq++
	}
	reg.entries.Set(name, entry)
	return nil
}

// Unregister removes a template by name. It reports whether a template was
// removed.
func (reg *ResourceRegistry) Unregister(name string) bool {
	_, removed := reg.entries.Delete(name)
	return removed
}

// Templates returns the registered resource templates in registration
// order, suitable for ResourcesCapability.ListResourceTemplates.
func (reg *ResourceRegistry) Templates() []mcp.ResourceTemplate {
	out := make([]mcp.ResourceTemplate, 0, reg.entries.Len())
	for pair := reg.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Template)
	}
	return out
}

// Resolve finds the most specific registered template matching uri. ok is
// false if no template matches.
func (reg *ResourceRegistry) Resolve(uri string) (entry *Entry, vars map[string]string, ok bool) {
	var best *Entry
	var bestVars map[string]string
	for pair := reg.entries.Oldest(); pair != nil; pair = pair.Next() {
		e := pair.Value
		m, matched := e.Match(uri)
		if !matched {
			continue
		}
		if best == nil || moreSpecific(e, best) {
			best, bestVars = e, m
		}
	}
	if best == nil {
		return nil, nil, false
	}
	return best, bestVars, true
}

// moreSpecific reports whether candidate should win over current under
// literal-over-variable, longer-prefix, earliest-registered ranking.
func moreSpecific(candidate, current *Entry) bool {
	candidateLiteral := len(candidate.varNames) == 0
	currentLiteral := len(current.varNames) == 0
	if candidateLiteral != currentLiteral {
		return candidateLiteral
	}
	if candidate.literalLen != current.literalLen {
		return candidate.literalLen > current.literalLen
	}
	return candidate.seq < current.seq
}

// variablePattern matches a single RFC 6570 level-1/reserved expression,
// e.g. "{owner}" or "{+path}". This package only needs to recognize where
// variables sit in the raw template string to build a matching regexp and
// a literal-prefix length; uritemplate.Template itself handles the full
// RFC 6570 expansion grammar for Expand.
var variablePattern = regexp.MustCompile(`\{(\+?)([A-Za-z0-9_]+)\}`)

// compile builds an Entry's matcher from its raw URI template string.
// Reserved-expansion variables ("{+name}", used for multi-segment values
// like a file path) match greedily across slashes; plain variables
// ("{name}") match a single path segment, consistent with RFC 6570 simple
// string expansion excluding reserved characters.
func compile(tmpl mcp.ResourceTemplate) (*Entry, error) {
	parsed, err := uritemplate.New(tmpl.URITemplate)
	if err != nil {
		return nil, err
	}

	raw := tmpl.URITemplate
	var pattern strings.Builder
	var varNames []string
	literalLen := -1
	last := 0

	for _, loc := range variablePattern.FindAllStringSubmatchIndex(raw, -1) {
		start, end := loc[0], loc[1]
		reserved := raw[loc[2]:loc[3]] == "+"
		name := raw[loc[4]:loc[5]]

		literal := raw[last:start]
		if literalLen == -1 {
			literalLen = len(literal)
		}
		pattern.WriteString(regexp.QuoteMeta(literal))
		if reserved {
			pattern.WriteString("(.+)")
		} else {
			pattern.WriteString("([^/]+)")
		}
		varNames = append(varNames, name)
		last = end
	}
	if literalLen == -1 {
		literalLen = len(raw)
	}
	pattern.WriteString(regexp.QuoteMeta(raw[last:]))

	matcher, err := regexp.Compile("^" + pattern.String() + "$")
	if err != nil {
		return nil, fmt.Errorf("compile matcher: %w", err)
	}

	return &Entry{
		Template:   tmpl,
		tmpl:       parsed,
		matcher:    matcher,
		varNames:   varNames,
		literalLen: literalLen,
	}, nil
}
