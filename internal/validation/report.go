// report.go validates the mileage and ZIP code fields carried by a valuation report.
package validation

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// MinMileage and MaxMileage bound an odometer reading, in miles.
	MinMileage = 0
	MaxMileage = 999999
)

var zipRx = regexp.MustCompile(`^[0-9]{5}$`)

// IsValidMileage reports whether miles is within [MinMileage, MaxMileage].
func IsValidMileage(miles int) bool {
	return miles >= MinMileage && miles <= MaxMileage
}

// ParseMileage parses a decimal integer mileage and checks its range.
func ParseMileage(s string) (int, bool) {
	miles, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !IsValidMileage(miles) {
		return 0, false
	}
	return miles, true
}

// IsValidZIP reports whether zip is exactly five ASCII digits.
func IsValidZIP(zip string) bool {
	return zipRx.MatchString(zip)
}
