package access

// Metrics receives counters from the service. observability.AccessMetrics
// is the Prometheus implementation.
type Metrics interface {
	CacheLookup(hit bool)
	Decision(allowed bool)
	Mutation(action, outcome string)
}

// Mutation outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

type nopMetrics struct{}

func (nopMetrics) CacheLookup(bool)        {}
func (nopMetrics) Decision(bool)           {}
func (nopMetrics) Mutation(string, string) {}
