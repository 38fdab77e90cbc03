package loyalty

// ComputeRedemption floors the available balance to the redemption increment
// and prices the result. The minimum-redemption policy is a submission
// boundary, not a display one: a floored value below the minimum is still
// reported, with MeetsMinimum false, so pages can show it while blocking the
// redeem action.
//
// A non-positive increment yields a zero quote; Settings.Validate rejects such
// configurations before they reach this function.
func ComputeRedemption(availablePoints Points, pointValue float64, minRedemption Points, redemptionIncrement Points) RedemptionQuote {
	quote := RedemptionQuote{AvailablePoints: availablePoints}
	if redemptionIncrement <= 0 || availablePoints <= 0 {
		return quote
	}
	usable := (availablePoints / redemptionIncrement) * redemptionIncrement
	quote.UsablePoints = usable
	quote.DiscountAmount = float64(usable) * pointValue
	quote.MeetsMinimum = usable >= minRedemption && usable > 0
	return quote
}

// ComputeMilestone reports the next redeemable step and progress toward it.
// Below the minimum the milestone is the minimum itself; beyond it milestones
// advance in redemption increments. Progress is clamped to [0, 100] here so
// every caller renders the same bar width.
func ComputeMilestone(currentPoints Points, redemptionIncrement Points, minRedemptionPoints Points) Milestone {
	if redemptionIncrement <= 0 {
		return Milestone{}
	}
	if currentPoints < 0 {
		currentPoints = 0
	}
	var milestone Milestone
	if currentPoints < minRedemptionPoints {
		milestone.NextMilestone = minRedemptionPoints
		milestone.ProgressPercentage = float64(currentPoints) / float64(minRedemptionPoints) * 100
	} else {
		currentLevel := currentPoints / redemptionIncrement
		milestone.NextMilestone = (currentLevel + 1) * redemptionIncrement
		milestone.ProgressPercentage = float64(currentPoints%redemptionIncrement) / float64(redemptionIncrement) * 100
	}
	milestone.PointsToNext = milestone.NextMilestone - currentPoints
	milestone.ProgressPercentage = clampPercentage(milestone.ProgressPercentage)
	return milestone
}

func clampPercentage(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
