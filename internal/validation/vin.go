// Package validation holds the pure input validators used in front of report creation and
// the paid valuation lookup: VIN format and ISO 3779 check digit, email addresses, and the
// mileage / ZIP fields stored on a report.
//
// Every function in this package is total: malformed input yields false, "" or nil, never
// a panic.
package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// VINLength is the length of a post-1981 Vehicle Identification Number.
const VINLength = 17

// checkDigitIndex is the 0-based position of the check digit (9th character).
const checkDigitIndex = 8

var vinWeights = [VINLength]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// vinTransliteration maps VIN letters to their numeric value. I, O and Q are absent.
var vinTransliteration = map[byte]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5, 'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
}

// VINInfo is the structured decomposition of a VIN.
type VINInfo struct {
	VIN       string `json:"vin"`
	WMI       string `json:"wmi"`
	VDS       string `json:"vds"`
	VIS       string `json:"vis"`
	ModelYear string `json:"model_year"`
	PlantCode string `json:"plant_code"`
	IsValid   bool   `json:"is_valid"`
}

// SanitizeVIN removes all whitespace and uppercases the result.
func SanitizeVIN(vin string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, vin))
}

// vinCharValue returns the transliterated value of an uppercase VIN character.
func vinCharValue(c byte) (int, bool) {
	if c >= '0' && c <= '9' {
		return int(c - '0'), true
	}
	v, ok := vinTransliteration[c]
	return v, ok
}

// IsValidVINFormat reports whether vin is 17 characters from the VIN alphabet after
// sanitization. Case is ignored.
func IsValidVINFormat(vin string) bool {
	s := SanitizeVIN(vin)
	if len(s) != VINLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if _, ok := vinCharValue(s[i]); !ok {
			return false
		}
	}
	return true
}

// VINChecksum computes the expected check digit: "0".."9", or "X" for a remainder of 10.
// It returns "" when vin is not 17 characters or contains a character with no
// transliteration value.
func VINChecksum(vin string) string {
	s := SanitizeVIN(vin)
	if len(s) != VINLength {
		return ""
	}

	sum := 0
	for i := 0; i < VINLength; i++ {
		v, ok := vinCharValue(s[i])
		if !ok {
			return ""
		}
		sum += v * vinWeights[i]
	}

	rem := sum % 11
	if rem == 10 {
		return "X"
	}
	return string(rune('0' + rem))
}

// IsValidVINChecksum reports whether the format is valid and the 9th character matches
// the computed check digit.
func IsValidVINChecksum(vin string) bool {
	if !IsValidVINFormat(vin) {
		return false
	}
	s := SanitizeVIN(vin)
	expected := VINChecksum(s)
	return expected != "" && s[checkDigitIndex:checkDigitIndex+1] == expected
}

// IsValidVIN reports whether vin passes both the format and checksum checks.
func IsValidVIN(vin string) bool {
	return IsValidVINFormat(vin) && IsValidVINChecksum(vin)
}

// VINValidationError returns a user-facing message describing the first problem with vin,
// or "" when it is valid.
func VINValidationError(vin string) string {
	s := SanitizeVIN(vin)
	switch {
	case s == "":
		return "VIN is required"
	case utf8.RuneCountInString(s) != VINLength:
		return "VIN must be exactly 17 characters"
	case !IsValidVINFormat(s):
		return "VIN contains invalid characters (I, O, Q not allowed)"
	case !IsValidVINChecksum(s):
		return "Invalid VIN checksum - please verify the VIN"
	}
	return ""
}

// ExtractVINInfo splits a VIN into its WMI, VDS and VIS sections. It returns nil when the
// format is invalid.
func ExtractVINInfo(vin string) *VINInfo {
	if !IsValidVINFormat(vin) {
		return nil
	}
	s := SanitizeVIN(vin)
	return &VINInfo{
		VIN:       s,
		WMI:       s[0:3],
		VDS:       s[3:9],
		VIS:       s[9:17],
		ModelYear: s[9:10],
		PlantCode: s[10:11],
		IsValid:   IsValidVINChecksum(s),
	}
}

// modelYearCodes lists the 10th-character year codes for 1980..2009; the sequence repeats
// every 30 years.
const modelYearCodes = "ABCDEFGHJKLMNPRSTVWXY123456789"

// ModelYearCandidates returns the model years a 10th-character code may denote, oldest
// first, for the 1980 cycle and every later cycle up to maxYear. Unknown codes (including
// I, O, Q, U, Z and 0) yield nil.
func ModelYearCandidates(code byte, maxYear int) []int {
	idx := strings.IndexByte(modelYearCodes, byte(unicode.ToUpper(rune(code))))
	if idx < 0 {
		return nil
	}
	var years []int
	for y := 1980 + idx; y <= maxYear; y += len(modelYearCodes) {
		years = append(years, y)
	}
	return years
}
