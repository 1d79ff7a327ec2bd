package normalize

import (
	"strings"

	"github.com/c360studio/propscout/property"
)

// RapidInsights normalizes a Rapid Insights payload. The API has shipped
// both snake_case and camelCase field names; snake_case wins when a payload
// carries both. A group with none of its fields present is left nil.
func RapidInsights(payload map[string]any) *property.RapidInsights {
	if payload == nil {
		return nil
	}
	r := record(payload)

	return &property.RapidInsights{
		Parcel:          rapidParcel(r),
		Address:         rapidAddress(r),
		Owner:           rapidOwner(r),
		Property:        rapidProperty(r),
		Tax:             rapidTax(r),
		Valuation:       rapidValuation(r),
		SalesHistory:    sales(r.list("sales_history", "salesHistory")),
		MortgageHistory: mortgages(r.list("mortgage_history", "mortgageHistory")),
	}
}

func rapidParcel(r record) *property.Parcel {
	if !r.has("apn", "fips", "county", "state") {
		return nil
	}
	return &property.Parcel{
		APN:    r.str("apn"),
		FIPS:   r.str("fips"),
		County: r.str("county"),
		State:  r.str("state"),
	}
}

func rapidAddress(r record) *property.PostalAddress {
	nested := r.obj("address")
	formatted := r.str("formatted_address", "formattedAddress")
	if formatted == "" {
		formatted = r.str("address")
	}
	if nested == nil && formatted == "" && !r.has("street", "city", "zip") {
		return nil
	}
	return &property.PostalAddress{
		Street:    firstOf(nested.str("street"), r.str("street")),
		City:      firstOf(nested.str("city"), r.str("city")),
		State:     firstOf(nested.str("state"), r.str("state")),
		Zip:       firstOf(nested.str("zip"), r.str("zip")),
		Formatted: formatted,
	}
}

func rapidOwner(r record) *property.OwnerSummary {
	keys := []string{"owner_name", "ownerName", "owner_type", "ownerType", "mailing_address", "mailingAddress", "owner_occupied", "ownerOccupied"}
	if !r.has(keys...) {
		return nil
	}
	mailing := r.str("mailing_address", "mailingAddress")
	if mailing == "" {
		mailing = formatAddress(postalAddress(r.obj("mailing_address", "mailingAddress")))
	}
	return &property.OwnerSummary{
		Name:           r.str("owner_name", "ownerName"),
		Type:           r.str("owner_type", "ownerType"),
		MailingAddress: mailing,
		OwnerOccupied:  r.flag("owner_occupied", "ownerOccupied"),
	}
}

func rapidProperty(r record) *property.Characteristics {
	keys := []string{"property_type", "propertyType", "year_built", "yearBuilt", "bedrooms", "bathrooms",
		"square_feet", "squareFeet", "lot_size", "lotSize", "stories", "units", "zoning"}
	if !r.has(keys...) {
		return nil
	}
	return &property.Characteristics{
		PropertyType: r.str("property_type", "propertyType"),
		YearBuilt:    r.positiveInt("year_built", "yearBuilt"),
		Bedrooms:     r.optNum("bedrooms"),
		Bathrooms:    r.optNum("bathrooms"),
		SquareFeet:   r.optNum("square_feet", "squareFeet"),
		LotSize:      r.optNum("lot_size", "lotSize"),
		Stories:      r.optNum("stories"),
		Units:        r.optNum("units"),
		Zoning:       r.str("zoning"),
	}
}

func rapidTax(r record) *property.Assessment {
	keys := []string{"assessed_value", "assessedValue", "assessed_land", "assessedLand",
		"assessed_improvement", "assessedImprovement", "tax_amount", "taxAmount", "tax_year", "taxYear"}
	if !r.has(keys...) {
		return nil
	}
	return &property.Assessment{
		AssessedValue:       r.optNum("assessed_value", "assessedValue"),
		AssessedLand:        r.optNum("assessed_land", "assessedLand"),
		AssessedImprovement: r.optNum("assessed_improvement", "assessedImprovement"),
		TaxAmount:           r.optNum("tax_amount", "taxAmount"),
		TaxYear:             r.positiveInt("tax_year", "taxYear"),
	}
}

func rapidValuation(r record) *property.Valuation {
	keys := []string{"estimated_value", "estimatedValue", "avm", "estimated_equity", "estimatedEquity",
		"price_per_sqft", "pricePerSqFt"}
	if !r.has(keys...) {
		return nil
	}
	return &property.Valuation{
		EstimatedValue:  r.optNum("estimated_value", "estimatedValue", "avm"),
		EstimatedEquity: r.optNum("estimated_equity", "estimatedEquity"),
		PricePerSqft:    r.optNum("price_per_sqft", "pricePerSqFt"),
	}
}

// SalesHistory normalizes the sales-history endpoint. A payload without a
// sales list yields an empty history.
func SalesHistory(payload map[string]any) *property.SalesHistory {
	return &property.SalesHistory{Sales: sales(record(payload).list("sales"))}
}

// Liens normalizes the liens endpoint.
func Liens(payload map[string]any) *property.Liens {
	rows := record(payload).list("liens")
	out := &property.Liens{Items: make([]property.Lien, 0, len(rows))}
	for _, l := range rows {
		out.Items = append(out.Items, property.Lien{
			Type:           l.str("type", "lien_type"),
			Amount:         l.optNum("amount"),
			Date:           l.date("date", "filed_date"),
			Creditor:       l.str("creditor", "lienor"),
			Status:         l.str("status"),
			ReleaseDate:    l.date("release_date"),
			DocumentNumber: l.str("document_number"),
		})
	}
	return out
}

// Mortgage normalizes the mortgage endpoint. It returns nil for a nil
// payload.
func Mortgage(payload map[string]any) *property.MortgageSummary {
	if payload == nil {
		return nil
	}
	r := record(payload)
	out := &property.MortgageSummary{
		History:         mortgages(r.list("mortgage_history", "mortgageHistory")),
		EstimatedEquity: r.optNum("estimated_equity", "estimatedEquity"),
		LTV:             r.optNum("ltv"),
		CLTV:            r.optNum("cltv"),
	}
	if cur := r.obj("current_mortgage", "currentMortgage"); cur != nil {
		m := mortgage(cur)
		out.Current = &m
	}
	return out
}

// Owner normalizes the owner endpoint. It returns nil for a nil payload.
func Owner(payload map[string]any) *property.OwnerDetails {
	if payload == nil {
		return nil
	}
	r := record(payload)

	mailing := postalAddress(r.obj("mailing_address", "mailingAddress"))
	if mailing == nil && r.has("mailingStreet", "mailingCity", "mailingState", "mailingZip") {
		mailing = &property.PostalAddress{
			Street: r.str("mailingStreet"),
			City:   r.str("mailingCity"),
			State:  r.str("mailingState"),
			Zip:    r.str("mailingZip"),
		}
	}

	return &property.OwnerDetails{
		Name:            r.str("owner_name", "ownerName"),
		Type:            r.str("owner_type", "ownerType"),
		MailingAddress:  mailing,
		OwnerOccupied:   r.flag("owner_occupied", "ownerOccupied"),
		AcquisitionDate: r.date("acquisition_date", "acquisitionDate"),
		OtherProperties: r.stringList("other_properties", "otherProperties"),
	}
}

func sales(rows []record) []property.Sale {
	out := make([]property.Sale, 0, len(rows))
	for _, s := range rows {
		out = append(out, property.Sale{
			Date:           s.date("date", "sale_date", "saleDate"),
			Price:          s.optNum("price", "sale_price", "salePrice"),
			PricePerSqft:   s.optNum("price_per_sqft", "pricePerSqFt"),
			Buyer:          s.str("buyer", "grantee"),
			Seller:         s.str("seller", "grantor"),
			DocumentType:   s.str("document_type", "documentType"),
			DocumentNumber: s.str("document_number", "documentNumber"),
			TitleCompany:   s.str("title_company", "titleCompany"),
		})
	}
	return out
}

func mortgages(rows []record) []property.Mortgage {
	out := make([]property.Mortgage, 0, len(rows))
	for _, m := range rows {
		out = append(out, mortgage(m))
	}
	return out
}

func mortgage(m record) property.Mortgage {
	return property.Mortgage{
		Lender:           m.str("lender"),
		Amount:           m.optNum("amount"),
		Date:             m.date("date"),
		Type:             m.str("type"),
		Rate:             m.optNum("rate"),
		Term:             m.optInt("term"),
		MaturityDate:     m.date("maturity_date", "maturityDate"),
		EstimatedBalance: m.optNum("estimated_balance", "estimatedBalance"),
		Status:           m.str("status"),
	}
}

func postalAddress(r record) *property.PostalAddress {
	if r == nil {
		return nil
	}
	return &property.PostalAddress{
		Street: r.str("street"),
		City:   r.str("city"),
		State:  r.str("state"),
		Zip:    r.str("zip"),
	}
}

func formatAddress(a *property.PostalAddress) string {
	if a == nil {
		return ""
	}
	return joinNonEmpty(", ", a.Street, a.City, strings.TrimSpace(a.State+" "+a.Zip))
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
