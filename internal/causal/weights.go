package causal

// Weight model constants. Node and edge weights express causal strength and
// always pass through ClampWeight before publication.
const (
	weightFloor = 0.1
	weightCeil  = 1.9

	agentWeight = 0.8

	rootBase          = 0.56
	rootPerAnchor     = 0.1
	rootAnchorCap     = 4
	rootContextWeight = 0.62

	activationBase       = 0.54
	activationRecencyMax = 0.18
	activationRecencyStep = 0.02

	decisionEvidenceStep = 0.07
	decisionEvidenceCap  = 4
	decisionRootStep     = 0.05
	decisionRootCap      = 4
	decisionRecencyMax   = 0.2
	decisionRecencyStep  = 0.016
	decidesFloor         = 0.52
	decidesPenalty       = 0.15

	reasonBase  = 0.84
	reasonStep  = 0.08
	signalScale = 0.78

	actionBase        = 0.52
	actionOKBonus     = 0.18
	actionBadBonus    = 0.32
	actionRecencyMax  = 0.24
	actionRecencyStep = 0.012

	outcomeOKScale  = 0.92
	outcomeBadScale = 1.06
)

// Activation cap bounds.
const (
	minActivationCap = 1
	maxActivationCap = 24
	// DefaultMaxActivations is used when no cap is configured.
	DefaultMaxActivations = 5
)

// ClampWeight bounds a causal weight to the renderable range.
func ClampWeight(v float64) float64 {
	if v < weightFloor {
		return weightFloor
	}
	if v > weightCeil {
		return weightCeil
	}
	return v
}

// ClampActivationCap bounds the configured activation cap.
func ClampActivationCap(v int) int {
	if v < minActivationCap {
		return minActivationCap
	}
	if v > maxActivationCap {
		return maxActivationCap
	}
	return v
}

// ConfidenceWeight maps a decision confidence label to its base weight.
func ConfidenceWeight(confidence string) float64 {
	switch confidence {
	case "high":
		return 0.68
	case "medium":
		return 0.48
	case "low":
		return 0.34
	}
	return 0.44
}

// RootWeight scores a context root by its matched-anchor count.
func RootWeight(matchedAnchors int) float64 {
	if matchedAnchors > rootAnchorCap {
		matchedAnchors = rootAnchorCap
	}
	return ClampWeight(rootBase + float64(matchedAnchors)*rootPerAnchor)
}

// ActivationWeight scores an activation by recency rank (0 = newest).
func ActivationWeight(rank int) float64 {
	boost := activationRecencyMax - float64(rank)*activationRecencyStep
	if boost < 0 {
		boost = 0
	}
	return ClampWeight(activationBase + boost)
}

// DecisionWeight combines confidence, evidence volume, root-cause links,
// and recency rank into one decision score.
func DecisionWeight(confidence string, evidenceCount, rootCount, rank int) float64 {
	if evidenceCount > decisionEvidenceCap {
		evidenceCount = decisionEvidenceCap
	}
	if rootCount > decisionRootCap {
		rootCount = decisionRootCap
	}
	recency := decisionRecencyMax - float64(rank)*decisionRecencyStep
	if recency < 0 {
		recency = 0
	}
	return ClampWeight(ConfidenceWeight(confidence) +
		float64(evidenceCount)*decisionEvidenceStep +
		float64(rootCount)*decisionRootStep +
		recency)
}

// ActionWeight scores a cron action: failures weigh more than successes
// because they demand attention, and newer actions outrank older ones.
func ActionWeight(statusOK bool, distanceFromEnd int) float64 {
	bonus := actionBadBonus
	if statusOK {
		bonus = actionOKBonus
	}
	recency := actionRecencyMax - float64(distanceFromEnd)*actionRecencyStep
	if recency < 0 {
		recency = 0
	}
	return ClampWeight(actionBase + bonus + recency)
}

// OutcomeWeight derives an outcome score from its action: bad outcomes are
// amplified above their action, good ones slightly damped.
func OutcomeWeight(actionWeight float64, statusOK bool) float64 {
	if statusOK {
		return ClampWeight(actionWeight * outcomeOKScale)
	}
	return ClampWeight(actionWeight * outcomeBadScale)
}

// statusIsOK groups statuses the platform treats as healthy.
func statusIsOK(status string) bool {
	switch status {
	case "ok", "success", "scheduled":
		return true
	}
	return false
}

func avgWeight(a, b float64) float64 {
	return ClampWeight((a + b) / 2)
}
