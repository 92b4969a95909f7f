package audit

import (
	"fmt"
	"io"
	"sort"
)

// Render prints the shutdown audit report: one section per client IP,
// sorted for deterministic output, listing every vector tested against
// that client with "Vulnerable!" beside any record whose Result is
// Vulnerable, and a blank marker otherwise — the same grouping the
// original's get_results_by_clients() produces before printing.
func Render(w io.Writer, byClient map[string][]Record) {
	clientIPs := make([]string, 0, len(byClient))
	for ip := range byClient {
		clientIPs = append(clientIPs, ip)
	}
	sort.Strings(clientIPs)

	for _, ip := range clientIPs {
		fmt.Fprintf(w, "%s:\n", ip)
		records := byClient[ip]
		sort.Slice(records, func(i, j int) bool {
			if records[i].Protocol != records[j].Protocol {
				return records[i].Protocol < records[j].Protocol
			}
			return records[i].VectorName < records[j].VectorName
		})
		for _, rec := range records {
			marker := ""
			if rec.Result == Vulnerable {
				marker = "Vulnerable!"
			}
			fmt.Fprintf(w, "  %s.%s %s\n", rec.Protocol, rec.VectorName, marker)
		}
	}
}
