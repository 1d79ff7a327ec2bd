package normalize

import (
	"github.com/c360studio/propscout/property"
	"github.com/c360studio/propscout/soql"
)

// Permits normalizes DOB permit issuance rows.
func Permits(rows []soql.Row) *property.Permits {
	out := &property.Permits{Items: make([]property.Permit, 0, len(rows))}
	for _, row := range rows {
		r := record(row)
		out.Items = append(out.Items, property.Permit{
			JobNumber:      r.str("job__", "job_number"),
			PermitNumber:   r.str("permit_si_no", "permit_number"),
			JobType:        r.str("job_type"),
			WorkType:       r.str("work_type"),
			PermitStatus:   r.str("permit_status"),
			FilingStatus:   r.str("filing_status"),
			IssuanceDate:   r.date("issuance_date"),
			ExpirationDate: r.date("expiration_date"),
			JobDescription: r.str("job_description"),
			EstimatedCost:  r.num("estimated_job_cost"),
			OwnerName:      joinNonEmpty(" ", r.str("owner_s_first_name"), r.str("owner_s_last_name")),
			OwnerPhone:     r.str("owner_s_phone__"),
		})
	}
	return out
}

// Actions normalizes ULURP zoning application rows.
func Actions(rows []soql.Row) *property.Actions {
	out := &property.Actions{Items: make([]property.ZoningAction, 0, len(rows))}
	for _, row := range rows {
		r := record(row)
		out.Items = append(out.Items, property.ZoningAction{
			ULURPNumber:   r.str("ulurpno"),
			ProjectName:   r.str("projectname"),
			ActionType:    r.str("ulurptype"),
			Status:        r.str("dcpstatus"),
			CertifiedDate: r.date("certifieddate"),
			ApprovedDate:  r.date("approveddate"),
			Description:   r.str("projectdesc"),
		})
	}
	return out
}

// Rezonings normalizes zoning map amendments.
func Rezonings(rows []soql.Row) []property.Rezoning {
	out := make([]property.Rezoning, 0, len(rows))
	for _, row := range rows {
		r := record(row)
		out = append(out, property.Rezoning{
			ProjectName:   r.str("projectname"),
			Status:        r.str("dcpstatus", "status"),
			EffectiveDate: r.date("effective"),
			FromZone:      r.str("zoningmapf"),
			ToZone:        r.str("zoningmapt"),
			Description:   r.str("projectdesc"),
		})
	}
	return out
}

// FloodZone returns the FEMA flood zone from the first flood hazard row.
func FloodZone(rows []soql.Row) string {
	if len(rows) == 0 {
		return ""
	}
	return record(rows[0]).str("flood_zone", "fld_zone")
}
