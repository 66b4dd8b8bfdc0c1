package payment

import (
	"strings"
	"unicode/utf8"
)

const (
	// MaxFieldLength is the gateway's limit for names, item ids and order ids.
	MaxFieldLength = 50

	PlaceholderName  = "Customer"
	PlaceholderPhone = "+6281234567890"

	countryCallingCode = "62"
	nationalTrunk      = '0'
)

// SanitizeCustomer converts a raw payer profile into gateway-safe fields.
func SanitizeCustomer(p *Payer) Customer {
	if p == nil {
		return Customer{FirstName: PlaceholderName, Phone: PlaceholderPhone}
	}
	return Customer{
		FirstName: SanitizeName(p.Name),
		Email:     strings.TrimSpace(p.Email),
		Phone:     SanitizePhone(p.Phone),
	}
}

// SanitizeName keeps ASCII letters, digits and spaces, trims the ends,
// truncates to MaxFieldLength and falls back to PlaceholderName when nothing
// is left. Inner spacing is kept as written.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == ' ' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(truncate(strings.TrimSpace(b.String()), MaxFieldLength))
	if cleaned == "" {
		return PlaceholderName
	}
	return cleaned
}

// SanitizePhone normalizes phone to international form. A number already
// written as +<country code><digits> is returned unchanged; a leading national trunk digit
// becomes the country calling code; input without digits yields
// PlaceholderPhone.
func SanitizePhone(phone string) string {
	trimmed := strings.TrimSpace(phone)
	if isInternational(trimmed) {
		return trimmed
	}

	digits := make([]byte, 0, len(trimmed))
	for i := 0; i < len(trimmed); i++ {
		if c := trimmed[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) == 0 {
		return PlaceholderPhone
	}

	normalized := string(digits)
	if normalized[0] == nationalTrunk {
		normalized = countryCallingCode + normalized[1:]
	}
	return "+" + normalized
}

// isInternational reports whether s is + followed by digits, the first of
// which is non-zero. "+0812" is a national number with a stray plus.
func isInternational(s string) bool {
	if len(s) < 2 || s[0] != '+' || s[1] == '0' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
