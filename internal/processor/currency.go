package processor

import "strings"

// zeroDecimalCurrencies are charged in whole units by Stripe; every other
// currency is expressed in hundredths.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true,
	"JPY": true, "KMF": true, "KRW": true, "MGA": true,
	"PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorUnitFactor is the number of Stripe minor units in one unit of currency.
func MinorUnitFactor(currency string) float64 {
	if zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))] {
		return 1
	}
	return 100
}
