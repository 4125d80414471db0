package models

// SubscriptionTier represents the subscription level of a user
type SubscriptionTier string

const (
	TierFree SubscriptionTier = "FREE"
	TierPro  SubscriptionTier = "PRO"
)

// TierLimit holds the usage caps for one tier. A nil limit means unlimited.
type TierLimit struct {
	Repositories         *int
	ReviewsPerRepository *int
}

var TierLimits = map[SubscriptionTier]TierLimit{
	TierFree: {
		Repositories:         intPtr(5),
		ReviewsPerRepository: intPtr(5),
	},
	TierPro: {
		Repositories:         nil,
		ReviewsPerRepository: nil,
	},
}

// LimitsFor returns the limits for a tier, defaulting unknown tiers to FREE
func LimitsFor(tier SubscriptionTier) TierLimit {
	if limit, ok := TierLimits[tier]; ok {
		return limit
	}
	return TierLimits[TierFree]
}

func intPtr(v int) *int {
	return &v
}
