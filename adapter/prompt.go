package adapter

import (
	"fmt"
	"strings"

	"github.com/hupe1980/govmesh/core"
)

// RenderReports formats violation reports as the block appended to a
// governance retry prompt. At most maxReports entries are rendered (0 means
// no bound).
func RenderReports(reports []core.ViolationReport, maxReports int) string {
	if maxReports > 0 && len(reports) > maxReports {
		reports = reports[:maxReports]
	}

	var b strings.Builder

	b.WriteString("Your previous decision was rejected by governance rules:\n")

	for i, r := range reports {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, r.RuleID, strings.Join(r.Messages, "; "))

		if r.Suggestion != "" {
			fmt.Fprintf(&b, "   Suggestion: %s\n", r.Suggestion)
		}
	}

	b.WriteString("Please reconsider and respond with a decision that satisfies these rules.")

	return b.String()
}
