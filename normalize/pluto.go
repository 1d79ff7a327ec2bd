package normalize

import (
	"strings"

	"github.com/c360studio/propscout/bbl"
	"github.com/c360studio/propscout/geosearch"
	"github.com/c360studio/propscout/property"
	"github.com/c360studio/propscout/soql"
)

// Pluto normalizes the first PLUTO row for parcel. It returns nil when
// rows is empty.
func Pluto(parcel bbl.BBL, rows []soql.Row) *property.Pluto {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil
	}
	r := record(rows[0])

	p := &property.Pluto{
		BBL:           parcel,
		Address:       r.str("address"),
		Zoning:        plutoZoning(parcel, r),
		FAR:           plutoFAR(r),
		LandUse:       plutoLandUse(r),
		Building:      plutoBuilding(r),
		Tax:           plutoTax(r),
		Environmental: plutoEnvironmental(r),
		Community:     plutoCommunity(r),
	}
	p.MaxAllowableFAR = p.FAR.MaxFAR

	lat, lng := r.optNum("latitude"), r.optNum("longitude")
	if lat != nil && lng != nil {
		p.Coordinates = &geosearch.Coordinates{Lat: *lat, Lng: *lng}
	}
	return p
}

func plutoZoning(parcel bbl.BBL, r record) *property.Zoning {
	z := &property.Zoning{
		AllZones:              r.collect("zonedist1", "zonedist2", "zonedist3", "zonedist4"),
		Overlays:              r.collect("overlay1", "overlay2"),
		SpecialDistricts:      r.collect("spdist1", "spdist2", "spdist3"),
		CommercialOverlay:     r.str("overlay1"),
		LimitedHeightDistrict: r.str("ltdheight"),
		ZoningMap:             r.str("zonemap", "zmcode"),
		ZolaLink:              parcel.ZolaLink(),
	}
	deriveZoning(z)
	return z
}

// deriveZoning recomputes the fields that depend on the primary zone.
func deriveZoning(z *property.Zoning) {
	z.PrimaryZone = ""
	if len(z.AllZones) > 0 {
		z.PrimaryZone = z.AllZones[0]
	}
	z.ZoningDescription = property.ZoningDescription(z.PrimaryZone)
	z.PermittedUses = property.PermittedUses(z.PrimaryZone)
}

func plutoFAR(r record) *property.FAR {
	f := &property.FAR{
		LotAreaSF:      r.area("lotarea"),
		BuiltFAR:       r.num("builtfar"),
		ResidentialFAR: r.num("residfar"),
		CommercialFAR:  r.num("commfar"),
		FacilityFAR:    r.num("facilfar"),
		LotFrontage:    r.positive("lotfront"),
		LotDepth:       r.positive("lotdepth"),
		LotType:        r.str("lottype"),
		IrregularLot:   strings.EqualFold(r.str("irrlotcode"), "Y"),
	}
	property.ComputeFAR(f)
	return f
}

// PLUTO lot type codes.
const (
	lotTypeCorner   = "3"
	lotTypeInterior = "5"
)

func plutoLandUse(r record) *property.LandUse {
	landUse := r.str("landuse")
	class := r.str("bldgclass")
	condo := r.str("condono")
	lotType := r.str("lottype")

	return &property.LandUse{
		LandUseCode:              landUse,
		LandUseCategory:          property.LandUseCategory(landUse),
		BuildingClass:            class,
		BuildingClassDescription: property.BuildingClassDescription(class),
		OwnershipType:            property.OwnershipType(r.str("ownertype")),
		OwnerName:                r.str("ownername"),
		Condo:                    condo != "" && condo != "0",
		Landmark:                 r.str("landmark"),
		HistoricDistrict:         r.str("histdist"),
		InteriorLot:              lotType == lotTypeInterior,
		CornerLot:                strings.EqualFold(r.str("corner"), "Y") || lotType == lotTypeCorner,
	}
}

func plutoBuilding(r record) *property.Building {
	return &property.Building{
		YearBuilt:        r.positiveInt("yearbuilt"),
		YearAltered1:     r.positiveInt("yearalter1"),
		YearAltered2:     r.positiveInt("yearalter2"),
		NumBuildings:     r.integer("numbldgs"),
		NumFloors:        r.num("numfloors"),
		UnitsTotal:       r.integer("unitstotal"),
		UnitsResidential: r.integer("unitsres"),
		GrossSF:          r.area("bldgarea"),
		ResidentialSF:    r.area("resarea"),
		CommercialSF:     r.area("comarea"),
		OfficeSF:         r.area("officearea"),
		RetailSF:         r.area("retailarea"),
		GarageSF:         r.area("garagearea"),
		StorageSF:        r.area("strgearea"),
		FactorySF:        r.area("factryarea"),
		OtherSF:          r.area("otherarea"),
		BuildingFrontage: r.positive("bldgfront"),
		BuildingDepth:    r.positive("bldgdepth"),
	}
}

func plutoTax(r record) *property.Tax {
	return &property.Tax{
		AssessedLand:      r.num("assessland"),
		AssessedTotal:     r.num("assesstot"),
		ExemptLand:        r.num("exemptland", "exmptland"),
		ExemptTotal:       r.num("exempttot"),
		TaxClass:          r.str("taxclass"),
		TaxClassAtPresent: r.str("taxclassp"),
		TaxMap:            r.str("taxmap"),
		ApportionmentBBL:  trimDecimal(r.str("appbbl")),
		ApportionmentDate: r.date("appdate"),
	}
}

func plutoEnvironmental(r record) *property.Environmental {
	return &property.Environmental{
		CoastalZone:               r.flag("coastalzn"),
		Floodplain:                r.str("pfirm15_flag") == "1",
		EnvironmentalRestrictions: r.str("edesignum"),
		SanbornMap:                r.str("sanborn"),
		FireCompany:               r.str("firecomp"),
		HealthArea:                r.str("healtharea"),
		PolicePrecinct:            r.str("policeprct"),
		HealthCenterDistrict:      r.str("healthcenterdistrict"),
	}
}

func plutoCommunity(r record) *property.Community {
	cd := r.str("cd")
	return &property.Community{
		CommunityDistrict: cd,
		CommunityBoard:    property.CommunityBoard(cd),
		CouncilDistrict:   r.str("council"),
		CensusTract:       r.str("ct2010", "ct2020", "bct2020"),
		CensusBlock:       r.str("cb2010", "cb2020", "bctcb2020"),
		NTA:               r.str("ntacode", "nta2020"),
		NTAName:           r.str("ntaname"),
		SchoolDistrict:    r.str("schooldist"),
		ZipCode:           r.str("zipcode"),
	}
}

// ZoningTaxLot normalizes the first zoning-by-tax-lot row. Both the current
// column names and the PLUTO-style aliases are accepted.
func ZoningTaxLot(rows []soql.Row) *property.ZoningTaxLot {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil
	}
	r := record(rows[0])

	districts := []string{}
	for i := 1; i <= 4; i++ {
		n := string(rune('0' + i))
		if s := r.str("zoningdistrict"+n, "zonedist"+n); s != "" {
			districts = append(districts, s)
		}
	}
	overlays := []string{}
	for i := 1; i <= 2; i++ {
		n := string(rune('0' + i))
		if s := r.str("commercialoverlay"+n, "overlay"+n); s != "" {
			overlays = append(overlays, s)
		}
	}
	special := []string{}
	for i := 1; i <= 3; i++ {
		n := string(rune('0' + i))
		if s := r.str("specialdistrict"+n, "spdist"+n); s != "" {
			special = append(special, s)
		}
	}

	return &property.ZoningTaxLot{
		Districts:             districts,
		Overlays:              overlays,
		SpecialDistricts:      special,
		LimitedHeightDistrict: r.str("limitedheightdistrict", "ltdheight"),
		ZoningMap:             r.str("zoningmapnumber", "zonemap", "zoningmapcode"),
	}
}

// MergeZoning fills fields of z that PLUTO left empty from the tax lot
// record. Fields PLUTO populated are never overwritten. z is modified in
// place and returned; a nil z yields a new zoning built from lot alone.
func MergeZoning(z *property.Zoning, lot *property.ZoningTaxLot, parcel bbl.BBL) *property.Zoning {
	if lot == nil {
		return z
	}
	if z == nil {
		z = &property.Zoning{
			AllZones:         []string{},
			Overlays:         []string{},
			SpecialDistricts: []string{},
			ZolaLink:         parcel.ZolaLink(),
		}
	}

	if len(z.AllZones) == 0 && len(lot.Districts) > 0 {
		z.AllZones = append([]string{}, lot.Districts...)
		deriveZoning(z)
	}
	if len(z.Overlays) == 0 && len(lot.Overlays) > 0 {
		z.Overlays = append([]string{}, lot.Overlays...)
		if z.CommercialOverlay == "" {
			z.CommercialOverlay = lot.Overlays[0]
		}
	}
	if len(z.SpecialDistricts) == 0 && len(lot.SpecialDistricts) > 0 {
		z.SpecialDistricts = append([]string{}, lot.SpecialDistricts...)
	}
	if z.LimitedHeightDistrict == "" {
		z.LimitedHeightDistrict = lot.LimitedHeightDistrict
	}
	if z.ZoningMap == "" {
		z.ZoningMap = lot.ZoningMap
	}
	if z.PermittedUses == nil {
		deriveZoning(z)
	}
	return z
}

// trimDecimal drops a zero fractional part, as PLUTO renders BBL-like
// numbers ("1008350041.00000000").
func trimDecimal(s string) string {
	if i := strings.IndexByte(s, '.'); i > 0 && strings.Trim(s[i+1:], "0") == "" {
		return s[:i]
	}
	return s
}
