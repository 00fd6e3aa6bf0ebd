package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Persona Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Results: %d | Addresses: %d\n\n", r.TotalResults, len(r.Addresses)))

	sb.WriteString("## Persona Distribution\n\n")
	if len(r.Distribution) > 0 {
		sb.WriteString("| Persona | Count | Share |\n")
		sb.WriteString("|---------|-------|-------|\n")
		for _, d := range r.Distribution {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.2f%% |\n", d.Persona, d.Count, d.Share*100))
		}
	} else {
		sb.WriteString("No results stored.\n")
	}
	sb.WriteString("\n")

	// Address sections only appear when addresses were requested.
	if len(r.Addresses) == 0 {
		return sb.String()
	}

	sb.WriteString("## Address History\n\n")
	if len(r.History) > 0 {
		sb.WriteString("| Address | Job | Persona | Cluster | Confidence | Account | Model | Completed |\n")
		sb.WriteString("|---------|-----|---------|---------|------------|---------|-------|-----------|\n")
		for _, h := range r.History {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %.4f | %s | %s | %s |\n",
				h.Address, h.JobID, h.Persona, h.ClusterIndex, h.Confidence,
				h.AccountKind, h.ModelVersion, time.UnixMilli(h.CompletedAt).UTC().Format(time.RFC3339)))
		}
	} else {
		sb.WriteString("No results for the requested addresses.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Persona Changes\n\n")
	if len(r.Changes) > 0 {
		sb.WriteString("| Address | First | Latest | Runs |\n")
		sb.WriteString("|---------|-------|--------|------|\n")
		for _, c := range r.Changes {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d |\n", c.Address, c.FirstPersona, c.LastPersona, c.Runs))
		}
	} else {
		sb.WriteString("No persona changes.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
