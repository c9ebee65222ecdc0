package inference

// LedgerEntry is one evidence term's contribution to the posterior (spec
// §3 "Evidence Ledger Entry"). The ledger as a whole is sum-decomposable:
// posterior log-odds between any two classes equal the sum of per-entry
// log-likelihood differences plus the log prior odds, exactly.
type LedgerEntry struct {
	Factor string `json:"factor"`

	// LogLikelihood[class] is this term's log P(x_j | class) contribution.
	LogLikelihood map[Class]float64 `json:"log_likelihood"`

	// LogBF is log P(x_j | MAP class) - log P(x_j | runner-up class).
	LogBF    float64  `json:"log_bf"`
	Bucket   BFBucket `json:"bucket"`
	Detail   string   `json:"detail"`

	// Degraded marks a term computed from degraded-provenance evidence
	// (spec §4.2 invariant): the term still fires but at reduced strength,
	// and consumers must not treat it as ordinary-quality evidence.
	Degraded bool `json:"degraded,omitempty"`
}

// Ledger is the full set of evidence terms for one candidate plus the log
// prior odds they were added to.
type Ledger struct {
	Entries []LedgerEntry `json:"entries"`
}

// Add appends an entry, computing its Bayes factor against the given
// runner-up class relative to the given MAP class.
func (l *Ledger) Add(factor string, logLik map[Class]float64, mapClass, altClass Class, detail string, degraded bool) {
	logBF := logLik[mapClass] - logLik[altClass]
	l.Entries = append(l.Entries, LedgerEntry{
		Factor:        factor,
		LogLikelihood: logLik,
		LogBF:         logBF,
		Bucket:        jeffreysBucket(logBF),
		Detail:        detail,
		Degraded:      degraded,
	})
}

// SumLogLikelihood returns, for each class, the sum of every entry's
// contribution — the quantity the posterior is reconstructed from
// (spec §8 "Ledger decomposition").
func (l Ledger) SumLogLikelihood() map[Class]float64 {
	sum := make(map[Class]float64, len(Classes))
	for _, c := range Classes {
		sum[c] = 0
	}
	for _, e := range l.Entries {
		for c, v := range e.LogLikelihood {
			sum[c] += v
		}
	}
	return sum
}

// LogOddsBetween reconstructs log P(a|x)/P(b|x) from the ledger plus the
// supplied log prior odds, for the round-trip invariant in spec §8.
func (l Ledger) LogOddsBetween(a, b Class, logPrior map[Class]float64) float64 {
	sum := l.SumLogLikelihood()
	return (logPrior[a] + sum[a]) - (logPrior[b] + sum[b])
}
