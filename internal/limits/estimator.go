package limits

import "unicode/utf8"

// messageOverhead accounts for role and formatting metadata added per
// message, matching what the frontend meter assumes.
const messageOverhead = 10

// EstimateTokens approximates the token cost of a message from its
// character length: roughly four characters per token plus a fixed
// overhead. The count is runes, not bytes, so multi-byte text is not
// charged extra. Role ceilings are tuned against exactly this formula;
// keep it stable.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text)/4 + messageOverhead
}
