package retry

import "github.com/hupe1980/govmesh/core"

// BuildReports groups blocking verdicts into one report per distinct rule id,
// in first-seen order, keeping at most maxReports entries (0 means no bound).
func BuildReports(verdicts []core.Verdict, maxReports int) []core.ViolationReport {
	var (
		reports []core.ViolationReport
		index   = map[string]int{}
	)

	for _, v := range verdicts {
		if v.Valid {
			continue
		}

		for _, id := range v.Metadata.RuleIDs {
			if i, ok := index[id]; ok {
				reports[i].Messages = append(reports[i].Messages, v.Errors...)
				if reports[i].Suggestion == "" {
					reports[i].Suggestion = v.Metadata.Suggestion
				}

				reports[i].Deterministic = reports[i].Deterministic && v.Metadata.Deterministic

				continue
			}

			if maxReports > 0 && len(reports) >= maxReports {
				continue
			}

			index[id] = len(reports)
			reports = append(reports, core.ViolationReport{
				RuleID:        id,
				Messages:      append([]string(nil), v.Errors...),
				Suggestion:    v.Metadata.Suggestion,
				Deterministic: v.Metadata.Deterministic,
			})
		}
	}

	return reports
}

func formatRepairPrompt(base string, cause error) string {
	return base + "\n\nYour previous response could not be parsed (" + cause.Error() +
		"). Respond only with a JSON object containing \"decision\" and \"reasoning\" fields."
}
