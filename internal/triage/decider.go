package triage

// confirmConfidence is the mean-confidence cutoff above which a council
// result confirms an emergency even without a HIGH majority.
const confirmConfidence = 0.85

// Confirms applies the council confirmation rule. With votes present, a
// strict majority of HIGH urgencies confirms, as does a mean confidence
// above the fixed cutoff. With no votes the top-level urgency decides.
// The rule is deterministic; callers handle council failures separately.
func Confirms(cr *CouncilResult) bool {
	if len(cr.Votes) == 0 {
		return cr.Urgency == UrgencyHigh
	}

	high := 0
	sum := 0.0
	for _, v := range cr.Votes {
		if v.Urgency == UrgencyHigh {
			high++
		}
		sum += v.Confidence
	}

	total := len(cr.Votes)
	if high > total/2 {
		return true
	}
	return sum/float64(total) > confirmConfidence
}
