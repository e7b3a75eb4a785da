package report

// Engagement status labels shown next to averages
const (
	StatusFocused = "Focused"
	StatusNeutral = "Neutral"
	StatusAtRisk  = "At Risk"
	StatusNoData  = "No data"
)

// Label maps an average score onto a status
func Label(avg int) string {
	switch {
	case avg >= 75:
		return StatusFocused
	case avg >= 50:
		return StatusNeutral
	default:
		return StatusAtRisk
	}
}

// sessionLabel is Label with "No data" for an empty session.
// Student-level summaries use Label, so an empty student reads At Risk.
func sessionLabel(count, avg int) string {
	if count == 0 {
		return StatusNoData
	}
	return Label(avg)
}
