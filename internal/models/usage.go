package models

// UsageLimit is one counter measured against its tier limit.
// A nil Limit means unlimited.
type UsageLimit struct {
	Current int  `json:"current"`
	Limit   *int `json:"limit"`
	CanAdd  bool `json:"can_add"`
}

// UserLimits is the full usage snapshot for one user
type UserLimits struct {
	Tier         SubscriptionTier      `json:"tier"`
	Repositories UsageLimit            `json:"repositories"`
	Reviews      map[string]UsageLimit `json:"reviews"`
}
