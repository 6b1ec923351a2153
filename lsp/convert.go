package lsp

import (
	"fmt"

	"github.com/ortelius/vulnlsp/engine"
	"github.com/ortelius/vulnlsp/model"
	"github.com/ortelius/vulnlsp/security"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// diagnosticSeverity maps a vulnerability severity; None is not reported
func diagnosticSeverity(s model.Severity) (protocol.DiagnosticSeverity, bool) {
	switch s {
	case model.SeverityCritical, model.SeverityHigh:
		return protocol.DiagnosticSeverityError, true
	case model.SeverityMedium:
		return protocol.DiagnosticSeverityWarning, true
	case model.SeverityLow:
		return protocol.DiagnosticSeverityInformation, true
	}
	return 0, false
}

func toRange(r model.Range) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: r.Start.Row, Character: r.Start.Col},
		End:   protocol.Position{Line: r.End.Row, Character: r.End.Col},
	}
}

func toDiagnostics(findings []security.Finding) []protocol.Diagnostic {
	diagnostics := make([]protocol.Diagnostic, 0, len(findings))
	source := serverName

	for _, f := range findings {
		severity, ok := diagnosticSeverity(f.Vulnerability.Severity)
		if !ok {
			continue
		}

		message := fmt.Sprintf("%s: %s", f.Vulnerability.Severity, f.Vulnerability.Summary)
		if f.Transitive() {
			message += fmt.Sprintf(" (via %s)", f.Source)
		}

		diagnostic := protocol.Diagnostic{
			Range:    toRange(f.Range),
			Severity: &severity,
			Source:   &source,
			Message:  message,
		}
		if f.Vulnerability.ID != "" {
			diagnostic.Code = &protocol.IntegerOrString{Value: f.Vulnerability.ID}
		}
		diagnostics = append(diagnostics, diagnostic)
	}
	return diagnostics
}

func toCompletionItems(suggestions []engine.VersionSuggestion) []protocol.CompletionItem {
	items := make([]protocol.CompletionItem, 0, len(suggestions))
	kind := protocol.CompletionItemKindValue

	for i, s := range suggestions {
		detail := "No known vulnerabilities"
		if s.Vulnerabilities > 0 {
			detail = fmt.Sprintf("%s, %d known vulnerabilities", s.Severity, s.Vulnerabilities)
		}
		version := s.Purl.Version
		sortText := fmt.Sprintf("%04d", i)

		items = append(items, protocol.CompletionItem{
			Label:      version,
			Kind:       &kind,
			Detail:     &detail,
			SortText:   &sortText,
			InsertText: &version,
		})
	}
	return items
}
