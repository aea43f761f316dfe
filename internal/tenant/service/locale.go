package service

import "strings"

type localeDefaults struct {
	Timezone string
	Currency string
}

// Country defaults applied when a new tenant does not pick its own settings.
var countryDefaults = map[string]localeDefaults{
	"US": {Timezone: "America/New_York", Currency: "USD"},
	"CA": {Timezone: "America/Toronto", Currency: "CAD"},
	"GB": {Timezone: "Europe/London", Currency: "GBP"},
	"DE": {Timezone: "Europe/Berlin", Currency: "EUR"},
	"FR": {Timezone: "Europe/Paris", Currency: "EUR"},
	"NL": {Timezone: "Europe/Amsterdam", Currency: "EUR"},
	"ES": {Timezone: "Europe/Madrid", Currency: "EUR"},
	"IT": {Timezone: "Europe/Rome", Currency: "EUR"},
	"AU": {Timezone: "Australia/Sydney", Currency: "AUD"},
	"NZ": {Timezone: "Pacific/Auckland", Currency: "NZD"},
	"SG": {Timezone: "Asia/Singapore", Currency: "SGD"},
	"MY": {Timezone: "Asia/Kuala_Lumpur", Currency: "MYR"},
	"ID": {Timezone: "Asia/Jakarta", Currency: "IDR"},
	"PH": {Timezone: "Asia/Manila", Currency: "PHP"},
	"TH": {Timezone: "Asia/Bangkok", Currency: "THB"},
	"VN": {Timezone: "Asia/Ho_Chi_Minh", Currency: "VND"},
	"JP": {Timezone: "Asia/Tokyo", Currency: "JPY"},
	"KR": {Timezone: "Asia/Seoul", Currency: "KRW"},
	"IN": {Timezone: "Asia/Kolkata", Currency: "INR"},
	"BR": {Timezone: "America/Sao_Paulo", Currency: "BRL"},
	"MX": {Timezone: "America/Mexico_City", Currency: "MXN"},
}

// DefaultsForCountry resolves timezone and currency for an ISO country code.
// Unknown countries fall back to UTC and USD.
func DefaultsForCountry(country string) (timezone, currency string) {
	code := strings.ToUpper(strings.TrimSpace(country))
	if defaults, ok := countryDefaults[code]; ok {
		return defaults.Timezone, defaults.Currency
	}
	return "UTC", "USD"
}
