package seatguard

// RiskLevel is an ordered severity: low < medium < high < critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank returns the position of r in the severity order. Unknown levels rank
// below low.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// Max returns the more severe of r and other.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Rank() > r.Rank() {
		return other
	}
	return r
}

// EnforcementAction is the response recommended for a risk level.
type EnforcementAction string

const (
	ActionNone     EnforcementAction = "none"
	ActionWarn     EnforcementAction = "warn"
	ActionThrottle EnforcementAction = "throttle"
	ActionSuspend  EnforcementAction = "suspend"
)

// AggregateRisk combines a signal set into one risk level.
//
//   - critical: any critical signal, or a high signal among two or more signals
//   - high: any high signal, or two or more medium signals
//   - medium: at least one medium signal
//   - low: otherwise, including no signals
func AggregateRisk(signals []AbuseSignal) RiskLevel {
	if len(signals) == 0 {
		return RiskLow
	}

	var critical, high, medium int
	for _, s := range signals {
		switch s.RiskLevel {
		case RiskCritical:
			critical++
		case RiskHigh:
			high++
		case RiskMedium:
			medium++
		}
	}

	switch {
	case critical > 0 || (high > 0 && len(signals) >= 2):
		return RiskCritical
	case high > 0 || medium >= 2:
		return RiskHigh
	case medium > 0:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ActionForRisk maps a risk level directly to an action.
func ActionForRisk(risk RiskLevel) EnforcementAction {
	switch risk {
	case RiskCritical:
		return ActionSuspend
	case RiskHigh:
		return ActionThrottle
	case RiskMedium:
		return ActionWarn
	default:
		return ActionNone
	}
}

// RecommendAction maps a risk level to an action, capping anything above
// low at warn while a grace period is running.
func RecommendAction(risk RiskLevel, inGracePeriod bool) EnforcementAction {
	if !inGracePeriod {
		return ActionForRisk(risk)
	}
	if risk.Rank() <= RiskLow.Rank() {
		return ActionNone
	}
	return ActionWarn
}
