package engine

import (
	"fmt"
	"strings"

	"github.com/ortelius/vulnlsp/model"
)

// Hover renders the finding of the dependency declared on line as markdown. Dependencies
// without findings get a short clean notice.
func (e *Engine) Hover(uri string, line uint32) (string, model.Range, bool) {
	direct, rng, ok := e.DependencyAt(uri, line)
	if !ok {
		return "", model.Range{}, false
	}

	content, _ := e.parsed.Get(uri)
	findings, _ := e.findings.Get(uri)

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n", direct)

	for _, f := range findings {
		if f.Direct != direct {
			continue
		}

		v := f.Vulnerability
		fmt.Fprintf(&b, "%s: %s\n\n", v.Severity, v.Summary)
		if v.ID != "" {
			fmt.Fprintf(&b, "`%s`", v.ID)
			if v.Reference != "" {
				fmt.Fprintf(&b, " %s", v.Reference)
			}
			b.WriteString("\n\n")
		}
		if v.Detail != "" {
			b.WriteString(v.Detail)
			b.WriteString("\n\n")
		}
		if f.Transitive() {
			fmt.Fprintf(&b, "Introduced through %s\n\n", f.Source)
		}
		if f.Total > 1 {
			fmt.Fprintf(&b, "%d vulnerabilities found in this dependency tree\n", f.Total)
		}
		return strings.TrimSpace(b.String()), rng, true
	}

	b.WriteString("No known vulnerabilities")
	if !content.TransitivesResolved() {
		fmt.Fprintf(&b, " (%s: transitive dependencies not checked)", content.Resolution)
	}
	return b.String(), rng, true
}
