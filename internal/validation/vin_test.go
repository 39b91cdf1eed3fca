package validation

import (
	"reflect"
	"strings"
	"testing"
)

const (
	validVIN      = "1HGBH41JXMN109186"
	validVINCheck = "1M8GDM9AXKP042788"
)

func TestSanitizeVIN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already canonical", validVIN, validVIN},
		{"lowercase", "1hgbh41jxmn109186", validVIN},
		{"surrounding spaces", "  1HGBH41JXMN109186  ", validVIN},
		{"inner whitespace", "1HG BH41\tJXMN\n109186", validVIN},
		{"empty", "", ""},
		{"only whitespace", " \t\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeVIN(tt.in); got != tt.want {
				t.Errorf("SanitizeVIN(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeVIN_Idempotent(t *testing.T) {
	inputs := []string{validVIN, " abc def ", "1hgbh41jxmn109186", "", "ÄÖ ü"}
	for _, in := range inputs {
		once := SanitizeVIN(in)
		if twice := SanitizeVIN(once); twice != once {
			t.Errorf("SanitizeVIN not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestIsValidVINFormat(t *testing.T) {
	tests := []struct {
		name string
		vin  string
		want bool
	}{
		{"valid", validVIN, true},
		{"valid lowercase", strings.ToLower(validVIN), true},
		{"valid with spaces", " 1HGBH41JX MN109186 ", true},
		{"bad checksum still good format", "1HGBH41JXMN109187", true},
		{"too short", "1HGBH41JXMN10918", false},
		{"too long", "1HGBH41JXMN1091867", false},
		{"empty", "", false},
		{"contains I", "1HGBH41JIMN109186", false},
		{"contains O", "1HGBH41JOMN109186", false},
		{"contains Q", "1HGBH41JQMN109186", false},
		{"lowercase q", "1hgbh41jqmn109186", false},
		{"punctuation", "1HGBH41JX-N109186", false},
		{"non-ascii", "1HGBH41JXMN10918É", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidVINFormat(tt.vin); got != tt.want {
				t.Errorf("IsValidVINFormat(%q) = %v, want %v", tt.vin, got, tt.want)
			}
		})
	}
}

func TestIsValidVINFormat_WrongLengthAlwaysFalse(t *testing.T) {
	for n := 0; n <= 40; n++ {
		if n == VINLength {
			continue
		}
		s := strings.Repeat("1", n)
		if IsValidVINFormat(s) {
			t.Errorf("IsValidVINFormat(len=%d) = true, want false", n)
		}
	}
}

func TestIsValidVINFormat_ExcludedLettersAlwaysFail(t *testing.T) {
	base := []byte("11111111111111111")
	for _, bad := range []byte("IOQioq") {
		for pos := 0; pos < VINLength; pos++ {
			vin := make([]byte, len(base))
			copy(vin, base)
			vin[pos] = bad
			if IsValidVINFormat(string(vin)) {
				t.Errorf("IsValidVINFormat(%q) = true, want false (contains %c)", vin, bad)
			}
		}
	}
}

func TestVINChecksum(t *testing.T) {
	tests := []struct {
		name string
		vin  string
		want string
	}{
		{"honda fixture resolves to X", validVIN, "X"},
		{"second fixture resolves to X", validVINCheck, "X"},
		{"all ones", "11111111111111111", "1"},
		{"accord", "1HGCM82633A004352", "3"},
		{"lowercase input", strings.ToLower(validVINCheck), "X"},
		{"wrong length", "1HGBH41", ""},
		{"undefined character", "1HGBH41JXMN10918O", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VINChecksum(tt.vin); got != tt.want {
				t.Errorf("VINChecksum(%q) = %q, want %q", tt.vin, got, tt.want)
			}
		})
	}
}

func TestVINChecksum_Deterministic(t *testing.T) {
	for _, vin := range []string{validVIN, validVINCheck, "5YJSA1E14HF000000", "JH4KA7561PC008269"} {
		first := VINChecksum(vin)
		if second := VINChecksum(vin); first != second {
			t.Errorf("VINChecksum(%q) not deterministic: %q vs %q", vin, first, second)
		}
	}
}

func TestIsValidVINChecksum(t *testing.T) {
	tests := []struct {
		name string
		vin  string
		want bool
	}{
		{"honda fixture", validVIN, true},
		{"X check digit fixture", validVINCheck, true},
		{"lowercase x check digit", strings.ToLower(validVINCheck), true},
		{"mutated last char", "1HGBH41JXMN109187", false},
		{"invalid format", "1HGBH41JQMN109186", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidVINChecksum(tt.vin); got != tt.want {
				t.Errorf("IsValidVINChecksum(%q) = %v, want %v", tt.vin, got, tt.want)
			}
		})
	}
}

func TestIsValidVINChecksum_SanitizeInvariant(t *testing.T) {
	inputs := []string{validVIN, "1hgbh41jxmn109186", " 1HGBH41JXMN109187 ", "1m8gdm9axkp042788", "11111111111111112"}
	for _, vin := range inputs {
		if IsValidVINChecksum(vin) != IsValidVINChecksum(SanitizeVIN(vin)) {
			t.Errorf("IsValidVINChecksum(%q) differs from sanitized form", vin)
		}
	}
}

func TestIsValidVIN(t *testing.T) {
	if !IsValidVIN(validVIN) {
		t.Errorf("IsValidVIN(%q) = false, want true", validVIN)
	}
	if IsValidVIN("1HGBH41JXMN109187") {
		t.Error("IsValidVIN with mutated last character = true, want false")
	}
	if IsValidVIN("not a vin") {
		t.Error("IsValidVIN(\"not a vin\") = true, want false")
	}
}

func TestVINValidationError(t *testing.T) {
	tests := []struct {
		name string
		vin  string
		want string
	}{
		{"empty", "", "VIN is required"},
		{"whitespace only", "   ", "VIN is required"},
		{"too short", "1HGBH41", "VIN must be exactly 17 characters"},
		{"too long with excluded letter", "1HGBH41JXMN109186OQ", "VIN must be exactly 17 characters"},
		{"excluded letter", "1HGBH41JXMN1O9186", "VIN contains invalid characters (I, O, Q not allowed)"},
		{"punctuation", "1HGBH41JXMN1-9186", "VIN contains invalid characters (I, O, Q not allowed)"},
		{"non-ascii letter counted as one character", "1HGBH41JXMN1\u00e99186", "VIN contains invalid characters (I, O, Q not allowed)"},
		{"non-ascii too short", "1HGBH41JXMN\u00e99186", "VIN must be exactly 17 characters"},
		{"bad checksum", "1HGBH41JXMN109187", "Invalid VIN checksum - please verify the VIN"},
		{"valid", validVIN, ""},
		{"valid needs sanitizing", " 1hgbh41jxmn109186 ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VINValidationError(tt.vin); got != tt.want {
				t.Errorf("VINValidationError(%q) = %q, want %q", tt.vin, got, tt.want)
			}
		})
	}
}

func TestExtractVINInfo(t *testing.T) {
	got := ExtractVINInfo(" 1hgbh41jxmn109186 ")
	want := &VINInfo{
		VIN:       validVIN,
		WMI:       "1HG",
		VDS:       "BH41JX",
		VIS:       "MN109186",
		ModelYear: "M",
		PlantCode: "N",
		IsValid:   true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractVINInfo() = %+v, want %+v", got, want)
	}
}

func TestExtractVINInfo_BadChecksumStillDecomposes(t *testing.T) {
	info := ExtractVINInfo("1HGBH41JXMN109187")
	if info == nil {
		t.Fatal("ExtractVINInfo() = nil for valid format")
	}
	if info.IsValid {
		t.Error("IsValid = true for checksum mismatch")
	}
}

func TestExtractVINInfo_InvalidFormat(t *testing.T) {
	for _, vin := range []string{"", "short", "1HGBH41JQMN109186"} {
		if info := ExtractVINInfo(vin); info != nil {
			t.Errorf("ExtractVINInfo(%q) = %+v, want nil", vin, info)
		}
	}
}

func TestModelYearCandidates(t *testing.T) {
	tests := []struct {
		name    string
		code    byte
		maxYear int
		want    []int
	}{
		{"A", 'A', 2026, []int{1980, 2010}},
		{"M", 'M', 2026, []int{1991, 2021}},
		{"lowercase m", 'm', 2026, []int{1991, 2021}},
		{"digit 9", '9', 2026, []int{2009}},
		{"capped by max year", 'M', 2000, []int{1991}},
		{"U is unused", 'U', 2026, nil},
		{"zero is unused", '0', 2026, nil},
		{"excluded letter", 'Q', 2026, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ModelYearCandidates(tt.code, tt.maxYear)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ModelYearCandidates(%q, %d) = %v, want %v", tt.code, tt.maxYear, got, tt.want)
			}
		})
	}
}
