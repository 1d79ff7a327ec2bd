package bbl

import "strings"

// Borough codes as used in the first BBL digit.
const (
	Manhattan    = 1
	Bronx        = 2
	Brooklyn     = 3
	Queens       = 4
	StatenIsland = 5
)

var boroughNames = map[int]string{
	Manhattan:    "Manhattan",
	Bronx:        "Bronx",
	Brooklyn:     "Brooklyn",
	Queens:       "Queens",
	StatenIsland: "Staten Island",
}

// boroughAliases is keyed by upper-cased name with spaces collapsed.
var boroughAliases = map[string]int{
	"MANHATTAN":     Manhattan,
	"MN":            Manhattan,
	"NEW YORK":      Manhattan,
	"BRONX":         Bronx,
	"THE BRONX":     Bronx,
	"BX":            Bronx,
	"BROOKLYN":      Brooklyn,
	"BK":            Brooklyn,
	"KINGS":         Brooklyn,
	"QUEENS":        Queens,
	"QN":            Queens,
	"STATEN ISLAND": StatenIsland,
	"STATENISLAND":  StatenIsland,
	"SI":            StatenIsland,
	"RICHMOND":      StatenIsland,
}

// BoroughName returns the display name for a borough code.
func BoroughName(code int) (string, bool) {
	name, ok := boroughNames[code]
	return name, ok
}

// BoroughCode resolves a borough name, alias or digit to its code.
// Matching is case-insensitive.
func BoroughCode(name string) (int, bool) {
	key := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	if len(key) == 1 && key[0] >= '1' && key[0] <= '5' {
		return int(key[0] - '0'), true
	}
	code, ok := boroughAliases[key]
	return code, ok
}
