package cache

import (
	"fmt"
	"strings"
)

// Key joins parts with ":" after formatting each one.
func Key(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// KeyOffers is the cache key for the published offer list.
func KeyOffers() string { return "bookshop:offers" }

// KeyBranches is the cache key for the branch list.
func KeyBranches() string { return "bookshop:branches" }

// KeyQuote addresses the quote snapshot for a user's checkout generation.
func KeyQuote(userID string, generation int64) string {
	return Key("checkout", "quote", userID, generation)
}

// KeyGeneration addresses a user's checkout generation counter.
func KeyGeneration(userID string) string {
	return Key("checkout", "gen", userID)
}
