package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// PlaceKey is the case-insensitive identity of a real-world place used to deduplicate locations.
func PlaceKey(city string, state *string, country string) string {
	parts := []string{normalisePlacePart(city), "", normalisePlacePart(country)}
	if state != nil {
		parts[1] = normalisePlacePart(*state)
	}
	return strings.Join(parts, "|")
}

func normalisePlacePart(value string) string {
	return cases.Fold().String(strings.Join(strings.Fields(value), " "))
}
