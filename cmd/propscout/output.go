package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/c360studio/propscout/cache"
	"github.com/c360studio/propscout/property"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeReport prints the headline facts of a report. Use --json for the
// full document.
func writeReport(w io.Writer, r *property.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	row := func(label, format string, args ...any) {
		fmt.Fprintf(tw, "%s\t%s\n", label, fmt.Sprintf(format, args...))
	}

	if r.Address != nil {
		row("Address", "%s", r.Address.FormattedAddress)
	}
	row("BBL", "%s", r.BBL)
	if z := r.Zoning; z != nil {
		row("Zoning", "%s (%s)", z.PrimaryZone, z.ZoningDescription)
		if len(z.Overlays) > 0 {
			row("Overlays", "%s", strings.Join(z.Overlays, ", "))
		}
		if len(z.SpecialDistricts) > 0 {
			row("Special districts", "%s", strings.Join(z.SpecialDistricts, ", "))
		}
	}
	if f := r.FAR; f != nil {
		row("Lot area", "%d sf", f.LotAreaSF)
		row("FAR", "%.2f built / %.2f max (%d%% used)", f.BuiltFAR, f.MaxFAR, f.UtilizationPct)
		row("Buildable", "%d sf remaining of %d sf", f.RemainingBuildableSF, f.MaxBuildableSF)
	}
	if lu := r.LandUse; lu != nil {
		row("Land use", "%s", lu.LandUseCategory)
		row("Building class", "%s", lu.BuildingClassDescription)
		row("Owner", "%s", lu.OwnerName)
	}
	if a := r.ACRIS; a != nil {
		row("ACRIS documents", "%d (%d deeds, %d mortgages, %d liens shown)", a.Total, len(a.Deeds), len(a.Mortgages), len(a.Liens))
		if d, ok := a.LatestDeed(); ok {
			row("Latest deed", "%s %s $%.0f", d.RecordedDatetime, d.DocType, d.Amount)
		}
	}
	if v := r.Violations; v != nil {
		row("Open violations", "%d", v.TotalOpen)
	}
	if p := r.Permits; p != nil {
		row("Permits", "%d", len(p.Items))
	}
	if r.PropertyScout != nil {
		row("PropertyScout", "included (use --json)")
	}
	row("ZoLa", "%s", r.ZolaLink)
	row("As of", "%s", r.AsOf.Format("2006-01-02 15:04 MST"))
	for _, pf := range r.PartialFailures {
		row("Unavailable", "%s: %s", pf.Component, pf.Message)
	}
}

func writeRezonings(w io.Writer, rezonings []property.Rezoning) {
	if len(rezonings) == 0 {
		fmt.Fprintln(w, "No rezonings found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "PROJECT\tSTATUS\tEFFECTIVE\tCHANGE")
	for _, rz := range rezonings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s -> %s\n", rz.ProjectName, rz.Status, rz.EffectiveDate, rz.FromZone, rz.ToZone)
	}
}

func writeUsage(w io.Writer, s *cache.Summary, q cache.Quota) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "Month\t%s\n", s.Month)
	if q.MonthlyLimit > 0 {
		fmt.Fprintf(tw, "Calls\t%d of %d\n", s.TotalCalls, q.MonthlyLimit)
	} else {
		fmt.Fprintf(tw, "Calls\t%d\n", s.TotalCalls)
	}
	fmt.Fprintf(tw, "Cache hits\t%d (%d%% saved)\n", s.CacheHits, s.SavingsPercent)
	fmt.Fprintf(tw, "Today\t%d calls, %d cached\n", s.TodayCalls, s.TodayCached)

	if len(s.ByEndpoint) == 0 {
		return
	}
	fmt.Fprintln(tw, "\nENDPOINT\tCALLS\tCACHED\tLIMIT")
	for _, name := range sortedKeys(s.ByEndpoint) {
		c := s.ByEndpoint[name]
		limit := "-"
		if n := q.Limits[name]; n > 0 {
			limit = fmt.Sprint(n)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", name, c.Calls, c.Cached, limit)
	}
}

func writeStats(w io.Writer, s *cache.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "Entries\t%d\n", s.TotalEntries)
	fmt.Fprintf(tw, "Size\t%d KB\n", s.TotalSizeKB)
	for _, name := range sortedKeys(s.ByType) {
		fmt.Fprintf(tw, "  %s\t%d\n", name, s.ByType[name])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
