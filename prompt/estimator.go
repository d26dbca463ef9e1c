package prompt

// EstimateTokens approximates the token count of a string as
// ceil(len/4). Coarse, but stable and cheap, which is all the budget
// enforcement needs: the same estimator is used when building and when
// verifying, so budgets are self-consistent.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}
