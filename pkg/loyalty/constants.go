package loyalty

const (
	operationAward         = "award"
	operationRedeem        = "redeem"
	operationCancelRedeem  = "cancel_redeem"
	operationReferralBonus = "referral_bonus"
	operationQuote         = "quote"
	operationSettings      = "settings"

	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusFallback = "fallback"

	idempotencyKeyDelimiter   = ":"
	idempotencySuffixSpend    = "spend"
	idempotencySuffixReferrer = "referrer"
	idempotencySuffixReferred = "referred"
)
