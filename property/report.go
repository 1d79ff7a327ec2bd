// Package property defines the normalized values that make up a Property
// Report, the zoning and land-use lookup tables, and the derived quantities
// computed from them.
//
// Values in this package are immutable once produced. They round-trip through
// JSON unchanged so a report served from cache is identical to a fresh one.
package property

import (
	"time"

	"github.com/c360studio/propscout/bbl"
	"github.com/c360studio/propscout/geosearch"
)

// Report is the assembled view of one tax lot.
type Report struct {
	BBL      bbl.BBL               `json:"bbl"`
	Address  *geosearch.Resolution `json:"address"`
	ZolaLink string                `json:"zola_link"`
	// AsOf is when the underlying PLUTO record was fetched.
	AsOf time.Time `json:"as_of"`

	Zoning        *Zoning        `json:"zoning"`
	FAR           *FAR           `json:"far"`
	LandUse       *LandUse       `json:"land_use"`
	Building      *Building      `json:"building"`
	Tax           *Tax           `json:"tax"`
	Environmental *Environmental `json:"environmental"`
	Community     *Community     `json:"community"`
	Actions       *Actions       `json:"actions"`

	ACRIS      *ACRIS      `json:"acris"`
	Violations *Violations `json:"violations"`
	Permits    *Permits    `json:"permits"`

	PropertyScout *RapidInsights `json:"propertyscout,omitempty"`

	PartialFailures []PartialFailure `json:"partial_failures"`
}

// Complete reports whether the zoning and FAR sub-reports are present.
func (r *Report) Complete() bool {
	return r != nil && r.Zoning != nil && r.FAR != nil
}

// Degraded reports whether any sub-fetch failed.
func (r *Report) Degraded() bool {
	return !r.Complete() || len(r.PartialFailures) > 0
}

// PartialFailure records a sub-report that could not be produced.
type PartialFailure struct {
	Component string `json:"component"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// Pluto is everything derived from one PLUTO row.
type Pluto struct {
	BBL             bbl.BBL                `json:"bbl"`
	Address         string                 `json:"address"`
	Coordinates     *geosearch.Coordinates `json:"coordinates"`
	MaxAllowableFAR float64                `json:"max_allowable_far"`

	Zoning        *Zoning        `json:"zoning"`
	FAR           *FAR           `json:"far"`
	LandUse       *LandUse       `json:"land_use"`
	Building      *Building      `json:"building"`
	Tax           *Tax           `json:"tax"`
	Environmental *Environmental `json:"environmental"`
	Community     *Community     `json:"community"`
}

// Zoning describes the lot's zoning districts.
type Zoning struct {
	PrimaryZone           string   `json:"primary_zone"`
	AllZones              []string `json:"all_zones"`
	Overlays              []string `json:"overlays"`
	SpecialDistricts      []string `json:"special_districts"`
	CommercialOverlay     string   `json:"commercial_overlay"`
	LimitedHeightDistrict string   `json:"limited_height_district"`
	ZoningMap             string   `json:"zoning_map"`
	ZoningDescription     string   `json:"zoning_description"`
	PermittedUses         []string `json:"permitted_uses"`
	ZolaLink              string   `json:"zola_link"`
}

// ZoningTaxLot is the zoning-by-tax-lot record used to fill gaps in PLUTO.
type ZoningTaxLot struct {
	Districts             []string `json:"districts"`
	Overlays              []string `json:"overlays"`
	SpecialDistricts      []string `json:"special_districts"`
	LimitedHeightDistrict string   `json:"limited_height_district"`
	ZoningMap             string   `json:"zoning_map"`
}

// FAR is the floor-area envelope. Square foot quantities are whole numbers.
type FAR struct {
	LotAreaSF            int64    `json:"lot_area_sf"`
	BuiltFAR             float64  `json:"built_far"`
	ResidentialFAR       float64  `json:"residential_far"`
	CommercialFAR        float64  `json:"commercial_far"`
	FacilityFAR          float64  `json:"facility_far"`
	MaxFAR               float64  `json:"max_far"`
	CurrentBuiltSF       int64    `json:"current_built_sf"`
	MaxBuildableSF       int64    `json:"max_buildable_sf"`
	RemainingBuildableSF int64    `json:"remaining_buildable_sf"`
	UtilizationPct       int      `json:"utilization_pct"`
	LotFrontage          *float64 `json:"lot_frontage"`
	LotDepth             *float64 `json:"lot_depth"`
	LotType              string   `json:"lot_type"`
	IrregularLot         bool     `json:"irregular_lot"`
}

// LandUse carries classification and ownership.
type LandUse struct {
	LandUseCode              string `json:"land_use_code"`
	LandUseCategory          string `json:"land_use_category"`
	BuildingClass            string `json:"building_class"`
	BuildingClassDescription string `json:"building_class_description"`
	OwnershipType            string `json:"ownership_type"`
	OwnerName                string `json:"owner_name"`
	Condo                    bool   `json:"condo"`
	Landmark                 string `json:"landmark"`
	HistoricDistrict         string `json:"historic_district"`
	InteriorLot              bool   `json:"interior_lot"`
	CornerLot                bool   `json:"corner_lot"`
}

// Building carries the physical structure.
type Building struct {
	YearBuilt        *int     `json:"year_built"`
	YearAltered1     *int     `json:"year_altered_1"`
	YearAltered2     *int     `json:"year_altered_2"`
	NumBuildings     int      `json:"num_buildings"`
	NumFloors        float64  `json:"num_floors"`
	UnitsTotal       int      `json:"units_total"`
	UnitsResidential int      `json:"units_residential"`
	GrossSF          int64    `json:"gross_sf"`
	ResidentialSF    int64    `json:"residential_sf"`
	CommercialSF     int64    `json:"commercial_sf"`
	OfficeSF         int64    `json:"office_sf"`
	RetailSF         int64    `json:"retail_sf"`
	GarageSF         int64    `json:"garage_sf"`
	StorageSF        int64    `json:"storage_sf"`
	FactorySF        int64    `json:"factory_sf"`
	OtherSF          int64    `json:"other_sf"`
	BuildingFrontage *float64 `json:"building_frontage"`
	BuildingDepth    *float64 `json:"building_depth"`
}

// Tax carries assessment values.
type Tax struct {
	AssessedLand      float64 `json:"assessed_land"`
	AssessedTotal     float64 `json:"assessed_total"`
	ExemptLand        float64 `json:"exempt_land"`
	ExemptTotal       float64 `json:"exempt_total"`
	TaxClass          string  `json:"tax_class"`
	TaxClassAtPresent string  `json:"tax_class_at_present"`
	TaxMap            string  `json:"tax_map"`
	ApportionmentBBL  string  `json:"appbbl"`
	ApportionmentDate string  `json:"appdate"`
}

// Environmental carries flood and environmental constraints.
type Environmental struct {
	FloodZone                 string `json:"flood_zone"`
	CoastalZone               bool   `json:"coastal_zone"`
	Floodplain                bool   `json:"floodplain"`
	EnvironmentalRestrictions string `json:"environmental_restrictions"`
	SanbornMap                string `json:"sanborn_map"`
	FireCompany               string `json:"fire_company"`
	HealthArea                string `json:"health_area"`
	PolicePrecinct            string `json:"police_precinct"`
	HealthCenterDistrict      string `json:"health_center_district"`
}

// Community carries political and statistical geography.
type Community struct {
	CommunityDistrict string `json:"community_district"`
	CommunityBoard    string `json:"community_board"`
	CouncilDistrict   string `json:"council_district"`
	CensusTract       string `json:"census_tract"`
	CensusBlock       string `json:"census_block"`
	NTA               string `json:"nta"`
	NTAName           string `json:"nta_name"`
	SchoolDistrict    string `json:"school_district"`
	ZipCode           string `json:"zip_code"`
}

// Actions lists ULURP zoning actions on the lot.
type Actions struct {
	Items []ZoningAction `json:"items"`
}

// ZoningAction is one ULURP application.
type ZoningAction struct {
	ULURPNumber   string `json:"ulurp_number"`
	ProjectName   string `json:"project_name"`
	ActionType    string `json:"action_type"`
	Status        string `json:"status"`
	CertifiedDate string `json:"certified_date"`
	ApprovedDate  string `json:"approved_date"`
	Description   string `json:"description"`
}

// Rezoning is a zoning map amendment near a point.
type Rezoning struct {
	ProjectName   string `json:"project_name"`
	Status        string `json:"status"`
	EffectiveDate string `json:"effective_date"`
	FromZone      string `json:"from_zone"`
	ToZone        string `json:"to_zone"`
	Description   string `json:"description"`
}

// Permits lists DOB permits.
type Permits struct {
	Items []Permit `json:"items"`
}

// Permit is one DOB permit issuance.
type Permit struct {
	JobNumber      string  `json:"job_number"`
	PermitNumber   string  `json:"permit_number"`
	JobType        string  `json:"job_type"`
	WorkType       string  `json:"work_type"`
	PermitStatus   string  `json:"permit_status"`
	FilingStatus   string  `json:"filing_status"`
	IssuanceDate   string  `json:"issuance_date"`
	ExpirationDate string  `json:"expiration_date"`
	JobDescription string  `json:"job_description"`
	EstimatedCost  float64 `json:"estimated_cost"`
	OwnerName      string  `json:"owner_name"`
	OwnerPhone     string  `json:"owner_phone"`
}
