package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders the persona distribution as CSV string.
func RenderCSV(rows []PersonaCountRow) string {
	var sb strings.Builder

	sb.WriteString("persona,count,share\n")
	for _, d := range rows {
		sb.WriteString(fmt.Sprintf("%s,%d,%.6f\n", d.Persona, d.Count, d.Share))
	}

	return sb.String()
}

// RenderHistoryCSV renders address history rows as CSV string.
func RenderHistoryCSV(rows []HistoryRow) string {
	var sb strings.Builder

	sb.WriteString("address,job_id,persona,cluster_index,confidence,account_kind,model_version,completed_at\n")
	for _, h := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%d,%.6f,%s,%s,%d\n",
			h.Address, h.JobID, h.Persona, h.ClusterIndex, h.Confidence,
			h.AccountKind, h.ModelVersion, h.CompletedAt))
	}

	return sb.String()
}
