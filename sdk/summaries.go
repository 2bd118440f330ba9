package sdk

// Summary records one flag exposure: which experience, config and
// variation the caller saw. Summaries are deduplicated per experience for
// the lifetime of the queue, so repeated reads of the same flag produce a
// single exposure record.
type Summary struct {
	// ExperienceID identifies the experience the flag belongs to
	ExperienceID string `json:"experience_id"`
	// ConfigID identifies the config within the experience
	ConfigID string `json:"config_id"`
	// VariationID identifies the variation served
	VariationID string `json:"variation_id"`
	// Version is the config version served
	Version string `json:"version"`
	// Key is the flag key that was read
	Key string `json:"key"`
	// RequestedAt is when the flag was read, in epoch milliseconds
	RequestedAt int64 `json:"requested_time"`
}

// validateSummary rejects summaries missing identifying fields. Reads of
// entries without full metadata never reach the queue, so a failure here
// indicates a caller-constructed summary.
func validateSummary(s Summary) error {
	if s.ConfigID == "" || s.VariationID == "" || s.Version == "" {
		return NewError(ErrorTypeValidation, "summary requires config_id, variation_id and version", ErrValidation)
	}
	return nil
}

// summaryDedupKey deduplicates exposures per experience.
func summaryDedupKey(s Summary) string {
	return s.ExperienceID
}
