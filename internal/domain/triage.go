package domain

// TriageResult is the structured classifier output for one ticket. It is folded
// into the ticket record and never stored on its own.
type TriageResult struct {
	Summary       string   `json:"summary"`
	Priority      string   `json:"priority"`
	HelpfulNotes  string   `json:"helpfulNotes"`
	RelatedSkills []string `json:"relatedSkills"`
}
