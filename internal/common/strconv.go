package common

import "strconv"

// ParseOrderID converts a path or query parameter into an order id. Order ids
// are positive database keys, so zero, negatives and malformed input all
// return false.
func ParseOrderID(value string) (int64, bool) {
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}
