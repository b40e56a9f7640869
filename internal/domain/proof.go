package domain

import "time"

// Proof failure reason codes, machine-readable.
const (
	ProofMissingPromise    = "MISSING_PROMISE"
	ProofSlippageExceeded  = "SLIPPAGE_EXCEEDED"
	ProofPartialFill       = "PARTIAL_FILL_BELOW_MIN"
	ProofNetDebitMismatch  = "NET_DEBIT_MISMATCH"
	ProofCreditExecuted    = "CREDIT_EXECUTED"
	ProofStructureMismatch = "STRUCTURE_TYPE_MISMATCH"
	ProofCostDeviation     = "COST_DEVIATION"
	ProofNegativeCash      = "NEGATIVE_CASH"
	ProofHeadroomEroded    = "GREEKS_HEADROOM_ERODED"
	ProofDriftExceeded     = "GREEKS_DRIFT_EXCEEDED"
	ProofSellToOpen        = "SELL_TO_OPEN_FORBIDDEN"
	ProofNoOpeningLeg      = "NO_OPENING_LEG"
	ProofRealSlippage      = "REAL_SLIPPAGE_EXCEEDED"
	ProofOutsideNBBO       = "PRICE_OUTSIDE_NBBO"
	ProofDeltaCap          = "DELTA_CAP_EXCEEDED"
	ProofThetaCap          = "THETA_CAP_EXCEEDED"
)

// SubProof is one independent postcondition check.
type SubProof struct {
	Passed  bool
	Reasons []string
}

// Fail appends a reason and marks the sub-proof failed.
func (sp *SubProof) Fail(reason string) {
	sp.Passed = false
	sp.Reasons = append(sp.Reasons, reason)
}

// PassedSubProof is the zero-reason passing check.
func PassedSubProof() SubProof {
	return SubProof{Passed: true}
}

// FailedSubProof builds a failing check from reasons.
func FailedSubProof(reasons ...string) SubProof {
	return SubProof{Passed: false, Reasons: reasons}
}

// Proof is the itemized verification of one execution against its promise.
// Overall passes iff every sub-proof passes; its reasons are the
// concatenation of all failing sub-proof reasons.
type Proof struct {
	PlanID            string
	Symbol            string
	Execution         SubProof // slippage and fill-percentage bounds
	Structure         SubProof // net debit, cash-only policy, structure type
	Cash              SubProof // cost deviation and post-trade cash
	Greeks            SubProof // headroom erosion and drift
	NetDebitOnly      SubProof
	SidesOK           SubProof
	SlippageWithin    SubProof // against real NBBO data
	GreeksCapsWithin  SubProof
	UsingFallback     bool // no NBBO within tolerance, self-reported slippage used
	CriticalEscalated bool // repeated headroom breach within the session
	VerifiedAt        time.Time
	Overall           SubProof
}

// Aggregate recomputes Overall from the sub-proofs.
func (p *Proof) Aggregate() {
	p.Overall = SubProof{Passed: true}
	for _, sp := range []SubProof{
		p.Execution, p.Structure, p.Cash, p.Greeks,
		p.NetDebitOnly, p.SidesOK, p.SlippageWithin, p.GreeksCapsWithin,
	} {
		if !sp.Passed {
			p.Overall.Passed = false
			p.Overall.Reasons = append(p.Overall.Reasons, sp.Reasons...)
		}
	}
}

// ProofRecord is the persisted projection of a Proof, reduced by the
// temporal summarizer.
type ProofRecord struct {
	PlanID        string
	Symbol        string
	Route         string
	Passed        bool
	UsingFallback bool
	Reasons       []string
	VerifiedAt    time.Time
}
