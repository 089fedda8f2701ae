package craftbot

// EstimateTokens approximates how many model tokens text costs: four ASCII
// characters per token, one token per other rune.
func EstimateTokens(text string) int {
	ascii, other := 0, 0
	for _, r := range text {
		if r < 128 {
			ascii++
		} else {
			other++
		}
	}
	return (ascii+3)/4 + other
}
