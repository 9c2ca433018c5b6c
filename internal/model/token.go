package model

import "fmt"

// FormatToken renders the placeholder for a (type, index) pair, e.g. EMAIL_0001
func FormatToken(t PIIType, index int) string {
	return fmt.Sprintf("%s_%04d", t, index)
}

// TokenCounter hands out monotonically increasing token indexes for one
// detection run. Counters are never shared between detectors.
type TokenCounter struct {
	next int
}

// NewTokenCounter creates a counter whose first index is start
func NewTokenCounter(start int) *TokenCounter {
	return &TokenCounter{next: start}
}

// Next returns the token for t and advances the counter
func (c *TokenCounter) Next(t PIIType) string {
	token := FormatToken(t, c.next)
	c.next++
	return token
}
