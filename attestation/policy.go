package attestation

import (
	"encoding/hex"
	"slices"
	"strings"
)

// Policy is the set of verification outcomes a verifier accepts.
// The zero value accepts only Ok.
type Policy struct {
	accepted map[Outcome]struct{}
}

// NewPolicy returns a policy accepting exactly the given outcomes.
// An empty list yields the strict default {Ok}, never a policy that accepts nothing.
func NewPolicy(outcomes ...Outcome) Policy {
	if len(outcomes) == 0 {
		return Policy{}
	}
	accepted := make(map[Outcome]struct{}, len(outcomes))
	for _, o := range outcomes {
		accepted[o] = struct{}{}
	}
	return Policy{accepted: accepted}
}

// Accepts reports whether o is part of the policy.
func (p Policy) Accepts(o Outcome) bool {
	if len(p.accepted) == 0 {
		return o == Ok
	}
	_, ok := p.accepted[o]
	return ok
}

// Outcomes returns the accepted outcomes in ascending order.
func (p Policy) Outcomes() []Outcome {
	if len(p.accepted) == 0 {
		return []Outcome{Ok}
	}
	outcomes := make([]Outcome, 0, len(p.accepted))
	for o := range p.accepted {
		outcomes = append(outcomes, o)
	}
	slices.Sort(outcomes)
	return outcomes
}

// String returns the accepted outcome names separated by commas.
func (p Policy) String() string {
	outcomes := p.Outcomes()
	names := make([]string, len(outcomes))
	for i, o := range outcomes {
		names[i] = o.String()
	}
	return strings.Join(names, ",")
}

// CodeIdentity is the measurement of the code that produced a quote.
// It is MRENCLAVE (32 bytes) for SGX quotes and MRTD (48 bytes) for TDX quotes.
type CodeIdentity []byte

// String returns the hex encoding of the identity.
func (c CodeIdentity) String() string {
	return hex.EncodeToString(c)
}
