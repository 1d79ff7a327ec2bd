package property

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360studio/propscout/bbl"
)

// zoningDescriptions is keyed by district prefix. Longer prefixes are
// tried first so R10 is not read as R1.
var zoningDescriptions = map[string]string{
	"R1":  "Single-Family Detached Residences",
	"R2":  "Single-Family Detached Residences",
	"R3":  "Low-Rise Attached & Detached Residences",
	"R4":  "Low-Rise Attached Residences",
	"R5":  "Low-Rise Apartments",
	"R6":  "Medium-Density Apartments",
	"R7":  "Medium-High Density Apartments",
	"R8":  "High-Density Apartments",
	"R9":  "High-Density Apartments (Towers)",
	"R10": "Highest Density Residential",
	"C1":  "Local Retail (Overlay)",
	"C2":  "Local Service (Overlay)",
	"C3":  "Waterfront Recreation",
	"C4":  "General Commercial",
	"C5":  "Central Commercial",
	"C6":  "General Central Commercial",
	"C7":  "Commercial Amusement",
	"C8":  "Heavy Commercial Services",
	"M1":  "Light Manufacturing",
	"M2":  "Medium Manufacturing",
	"M3":  "Heavy Manufacturing",
	"PA":  "Park",
	"BPC": "Battery Park City",
}

const fallbackZoningDescription = "Mixed Use / Special District"

// ZoningDescription describes a zoning district such as "R7A" or "C6-4".
// It returns "" for an empty zone.
func ZoningDescription(zone string) string {
	zone = strings.ToUpper(strings.TrimSpace(zone))
	if zone == "" {
		return ""
	}
	for n := 3; n >= 1; n-- {
		if len(zone) < n {
			continue
		}
		if d, ok := zoningDescriptions[zone[:n]]; ok {
			return d
		}
	}
	return fallbackZoningDescription
}

// PermittedUses returns the use groups allowed in a zoning district.
func PermittedUses(zone string) []string {
	zone = strings.ToUpper(strings.TrimSpace(zone))
	switch {
	case zone == "":
		return []string{}
	case strings.HasPrefix(zone, "R10"):
		return []string{"Use Groups 1-4: All Residential"}
	case strings.HasPrefix(zone, "R1"), strings.HasPrefix(zone, "R2"):
		return []string{"Use Group 1: Single-Family Detached"}
	case strings.HasPrefix(zone, "R3"), strings.HasPrefix(zone, "R4"), strings.HasPrefix(zone, "R5"):
		return []string{"Use Group 1: Single-Family", "Use Group 2: Multi-Family"}
	case hasAnyPrefix(zone, "R6", "R7", "R8", "R9"):
		return []string{"Use Groups 1-4: All Residential"}
	case hasAnyPrefix(zone, "C1", "C2"):
		return []string{"Use Groups 1-6: Residential + Local Retail"}
	case hasAnyPrefix(zone, "C4", "C5", "C6"):
		return []string{"Use Groups 1-12: Residential + Commercial"}
	case strings.HasPrefix(zone, "M1"):
		return []string{"Use Groups 4-14: Light Manufacturing + Commercial"}
	case hasAnyPrefix(zone, "M2", "M3"):
		return []string{"Use Groups 6-18: Heavy Manufacturing"}
	default:
		return []string{"Check NYC Zoning Resolution"}
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

var landUseCategories = map[string]string{
	"01": "One & Two Family Buildings",
	"02": "Multi-Family Walk-Up",
	"03": "Multi-Family Elevator",
	"04": "Mixed Residential & Commercial",
	"05": "Commercial & Office",
	"06": "Industrial & Manufacturing",
	"07": "Transportation & Utility",
	"08": "Public Facilities & Institutions",
	"09": "Open Space & Recreation",
	"10": "Parking Facilities",
	"11": "Vacant Land",
}

// LandUseCategory maps a PLUTO land use code ("1" or "01") to its category.
func LandUseCategory(code string) string {
	code = strings.TrimSpace(code)
	if len(code) == 1 {
		code = "0" + code
	}
	if c, ok := landUseCategories[code]; ok {
		return c
	}
	return "Unknown"
}

var buildingClasses = map[byte]string{
	'A': "One Family Dwellings",
	'B': "Two Family Dwellings",
	'C': "Walk-Up Apartments",
	'D': "Elevator Apartments",
	'E': "Warehouses",
	'F': "Factory & Industrial",
	'G': "Garages & Gas Stations",
	'H': "Hotels",
	'I': "Hospitals & Health",
	'J': "Theatres",
	'K': "Stores",
	'L': "Lofts",
	'M': "Churches & Religious",
	'N': "Asylums & Homes",
	'O': "Office Buildings",
	'P': "Indoor Recreation",
	'Q': "Outdoor Recreation",
	'R': "Condos",
	'S': "Mixed Use",
	'T': "Transportation",
	'U': "Utility",
	'V': "Vacant Land",
	'W': "Schools",
	'Y': "Government",
	'Z': "Miscellaneous",
}

// BuildingClassDescription describes a building class by its first letter.
func BuildingClassDescription(class string) string {
	class = strings.ToUpper(strings.TrimSpace(class))
	if class == "" {
		return ""
	}
	if d, ok := buildingClasses[class[0]]; ok {
		return d
	}
	return "Unknown"
}

// OwnershipType maps the PLUTO owner type code.
func OwnershipType(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "C":
		return "City"
	case "M":
		return "Mixed (City & Private)"
	case "O":
		return "Other (Public Authority)"
	case "X":
		return "Fully Tax Exempt"
	default:
		return "Private"
	}
}

// CommunityBoard labels a PLUTO community district such as "105" as
// "Manhattan CB5". Unparseable input is returned trimmed.
func CommunityBoard(cd string) string {
	cd = strings.TrimSpace(cd)
	if len(cd) < 2 {
		return cd
	}
	borough, err := strconv.Atoi(cd[:1])
	if err != nil {
		return cd
	}
	n, err := strconv.Atoi(cd[1:])
	if err != nil {
		return cd
	}
	name, ok := bbl.BoroughName(borough)
	if !ok {
		return cd
	}
	return fmt.Sprintf("%s CB%d", name, n)
}
