package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	matchesClassified atomic.Int64
	matchesSuggested  atomic.Int64
	matchesConfirmed  atomic.Int64
	linksConfirmed    atomic.Int64
	linksRejected     atomic.Int64
	linksPromoted     atomic.Int64
	eventLinksAdopted atomic.Int64
	resolveNotFound   atomic.Int64
	resolveFailures   atomic.Int64
)

func IncClassified() { matchesClassified.Add(1) }

func IncSuggested() { matchesSuggested.Add(1) }

func IncConfirmedMatch() { matchesConfirmed.Add(1) }

func IncLinkConfirmed() { linksConfirmed.Add(1) }

func IncLinkRejected() { linksRejected.Add(1) }

func IncPromoted() { linksPromoted.Add(1) }

func AddAdopted(n int64) { eventLinksAdopted.Add(n) }

func IncResolveNotFound() { resolveNotFound.Add(1) }

func IncResolveFailure() { resolveFailures.Add(1) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP racegraph_matcher_classified_total Number of candidate pairs classified.\n")
	fmt.Fprintf(w, "# TYPE racegraph_matcher_classified_total counter\n")
	fmt.Fprintf(w, "racegraph_matcher_classified_total %d\n", matchesClassified.Load())

	fmt.Fprintf(w, "# HELP racegraph_matcher_suggested_total Number of matches recorded as suggested.\n")
	fmt.Fprintf(w, "# TYPE racegraph_matcher_suggested_total counter\n")
	fmt.Fprintf(w, "racegraph_matcher_suggested_total %d\n", matchesSuggested.Load())

	fmt.Fprintf(w, "# HELP racegraph_matcher_confirmed_total Number of matches recorded as confirmed.\n")
	fmt.Fprintf(w, "# TYPE racegraph_matcher_confirmed_total counter\n")
	fmt.Fprintf(w, "racegraph_matcher_confirmed_total %d\n", matchesConfirmed.Load())

	fmt.Fprintf(w, "# HELP racegraph_links_confirmed_total Number of user confirm actions applied.\n")
	fmt.Fprintf(w, "# TYPE racegraph_links_confirmed_total counter\n")
	fmt.Fprintf(w, "racegraph_links_confirmed_total %d\n", linksConfirmed.Load())

	fmt.Fprintf(w, "# HELP racegraph_links_rejected_total Number of user reject actions applied.\n")
	fmt.Fprintf(w, "# TYPE racegraph_links_rejected_total counter\n")
	fmt.Fprintf(w, "racegraph_links_rejected_total %d\n", linksRejected.Load())

	fmt.Fprintf(w, "# HELP racegraph_links_promoted_total Number of suggested links promoted by corroboration.\n")
	fmt.Fprintf(w, "# TYPE racegraph_links_promoted_total counter\n")
	fmt.Fprintf(w, "racegraph_links_promoted_total %d\n", linksPromoted.Load())

	fmt.Fprintf(w, "# HELP racegraph_event_links_adopted_total Number of orphaned event links re-pointed at an aggregate.\n")
	fmt.Fprintf(w, "# TYPE racegraph_event_links_adopted_total counter\n")
	fmt.Fprintf(w, "racegraph_event_links_adopted_total %d\n", eventLinksAdopted.Load())

	fmt.Fprintf(w, "# HELP racegraph_resolve_not_found_total Number of resolve calls rejected for missing evidence.\n")
	fmt.Fprintf(w, "# TYPE racegraph_resolve_not_found_total counter\n")
	fmt.Fprintf(w, "racegraph_resolve_not_found_total %d\n", resolveNotFound.Load())

	fmt.Fprintf(w, "# HELP racegraph_resolve_failures_total Number of resolve calls failed on storage errors.\n")
	fmt.Fprintf(w, "# TYPE racegraph_resolve_failures_total counter\n")
	fmt.Fprintf(w, "racegraph_resolve_failures_total %d\n", resolveFailures.Load())
}
