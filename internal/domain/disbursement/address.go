package disbursement

import "strings"

type addressRule struct {
	prefix string
	length int // 0 means any length
}

// Prefix heuristics for networks where no node is available to ask.
var staticAddressRules = []addressRule{
	{prefix: "Az"},
	{prefix: "lq1"},
	{prefix: "VJL"},
	{prefix: "VT"},
	{prefix: "XR"},
	{prefix: "XC"},
	{prefix: "H", length: 34},
	{prefix: "G", length: 34},
	{prefix: "Q", length: 34},
	{prefix: "ert1q", length: 43},
	{prefix: "ex1q", length: 42},
	{prefix: "el1qq"},
	{prefix: "lq1qq"},
}

// MatchesStaticAddressRules reports whether address looks like a network address.
// It is a plausibility check only, not a checksum validation.
func MatchesStaticAddressRules(address string) bool {
	if address == "" {
		return false
	}
	for _, r := range staticAddressRules {
		if !strings.HasPrefix(address, r.prefix) {
			continue
		}
		if r.length == 0 || len(address) == r.length {
			return true
		}
	}
	return false
}
