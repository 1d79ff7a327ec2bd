package property

// RapidInsights is the normalized PropertyScout bundled report. A group the
// provider omitted entirely is nil.
type RapidInsights struct {
	Parcel          *Parcel          `json:"parcel"`
	Address         *PostalAddress   `json:"address"`
	Owner           *OwnerSummary    `json:"owner"`
	Property        *Characteristics `json:"property"`
	Tax             *Assessment      `json:"tax"`
	Valuation       *Valuation       `json:"valuation"`
	SalesHistory    []Sale           `json:"sales_history"`
	MortgageHistory []Mortgage       `json:"mortgage_history"`
}

// Parcel identifies the assessor parcel.
type Parcel struct {
	APN    string `json:"apn"`
	FIPS   string `json:"fips"`
	County string `json:"county"`
	State  string `json:"state"`
}

// PostalAddress is a mailing or situs address.
type PostalAddress struct {
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Formatted string `json:"formatted,omitempty"`
}

// OwnerSummary is the owner group of a Rapid Insights report.
type OwnerSummary struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	MailingAddress string `json:"mailing_address"`
	OwnerOccupied  bool   `json:"owner_occupied"`
}

// Characteristics describes the improvement.
type Characteristics struct {
	PropertyType string   `json:"property_type"`
	YearBuilt    *int     `json:"year_built"`
	Bedrooms     *float64 `json:"bedrooms"`
	Bathrooms    *float64 `json:"bathrooms"`
	SquareFeet   *float64 `json:"square_feet"`
	LotSize      *float64 `json:"lot_size"`
	Stories      *float64 `json:"stories"`
	Units        *float64 `json:"units"`
	Zoning       string   `json:"zoning"`
}

// Assessment is the tax group.
type Assessment struct {
	AssessedValue       *float64 `json:"assessed_value"`
	AssessedLand        *float64 `json:"assessed_land"`
	AssessedImprovement *float64 `json:"assessed_improvement"`
	TaxAmount           *float64 `json:"tax_amount"`
	TaxYear             *int     `json:"tax_year"`
}

// Valuation is the automated value estimate.
type Valuation struct {
	EstimatedValue  *float64 `json:"estimated_value"`
	EstimatedEquity *float64 `json:"estimated_equity"`
	PricePerSqft    *float64 `json:"price_per_sqft"`
}

// Sale is one recorded transfer.
type Sale struct {
	Date           string   `json:"date"`
	Price          *float64 `json:"price"`
	PricePerSqft   *float64 `json:"price_per_sqft,omitempty"`
	Buyer          string   `json:"buyer"`
	Seller         string   `json:"seller"`
	DocumentType   string   `json:"document_type"`
	DocumentNumber string   `json:"document_number,omitempty"`
	TitleCompany   string   `json:"title_company,omitempty"`
}

// Mortgage is one recorded loan.
type Mortgage struct {
	Lender           string   `json:"lender"`
	Amount           *float64 `json:"amount"`
	Date             string   `json:"date"`
	Type             string   `json:"type"`
	Rate             *float64 `json:"rate,omitempty"`
	Term             *int     `json:"term,omitempty"`
	MaturityDate     string   `json:"maturity_date,omitempty"`
	EstimatedBalance *float64 `json:"estimated_balance,omitempty"`
	Status           string   `json:"status,omitempty"`
}

// SalesHistory is the normalized sales-history endpoint.
type SalesHistory struct {
	Sales []Sale `json:"sales"`
}

// Lien is one recorded lien.
type Lien struct {
	Type           string   `json:"type"`
	Amount         *float64 `json:"amount"`
	Date           string   `json:"date"`
	Creditor       string   `json:"creditor"`
	Status         string   `json:"status"`
	ReleaseDate    string   `json:"release_date"`
	DocumentNumber string   `json:"document_number"`
}

// Liens is the normalized liens endpoint.
type Liens struct {
	Items []Lien `json:"items"`
}

// MortgageSummary is the normalized mortgage endpoint.
type MortgageSummary struct {
	Current         *Mortgage  `json:"current_mortgage"`
	History         []Mortgage `json:"mortgage_history"`
	EstimatedEquity *float64   `json:"estimated_equity"`
	LTV             *float64   `json:"ltv"`
	CLTV            *float64   `json:"cltv"`
}

// OwnerDetails is the normalized owner endpoint.
type OwnerDetails struct {
	Name            string         `json:"owner_name"`
	Type            string         `json:"owner_type"`
	MailingAddress  *PostalAddress `json:"mailing_address"`
	OwnerOccupied   bool           `json:"owner_occupied"`
	AcquisitionDate string         `json:"acquisition_date"`
	OtherProperties []string       `json:"other_properties"`
}

// PropertyScoutBundle collects the four per-address PropertyScout reports.
// Any member may be nil when its call failed; Errors lists those failures.
type PropertyScoutBundle struct {
	RapidInsights *RapidInsights   `json:"rapid_insights"`
	SalesHistory  *SalesHistory    `json:"sales_history"`
	Liens         *Liens           `json:"liens"`
	Mortgage      *MortgageSummary `json:"mortgage"`
	Errors        []PartialFailure `json:"errors"`
}
