package attestation

import (
	"fmt"
	"slices"
)

// Outcome is the result reported by a quote verification service.
// The values match sgx_ql_qv_result_t of the Intel DCAP libraries.
type Outcome uint32

const (
	// Ok means the quote verified and the platform is up to date.
	Ok Outcome = 0x0000
	// ConfigNeeded means the quote verified but additional platform configuration is required.
	ConfigNeeded Outcome = 0xA001
	// OutOfDate means the platform TCB level is out of date.
	OutOfDate Outcome = 0xA002
	// OutOfDateConfigNeeded means the TCB level is out of date and additional configuration is required.
	OutOfDateConfigNeeded Outcome = 0xA003
	// InvalidSignature means the quote signature or its certification chain is invalid.
	InvalidSignature Outcome = 0xA004
	// Revoked means the attestation key or platform was revoked.
	Revoked Outcome = 0xA005
	// Unspecified means verification failed for an unspecified reason.
	Unspecified Outcome = 0xA006
	// SwHardeningNeeded means the platform is up to date but software mitigations are required.
	SwHardeningNeeded Outcome = 0xA007
	// ConfigAndSwHardeningNeeded combines ConfigNeeded and SwHardeningNeeded.
	ConfigAndSwHardeningNeeded Outcome = 0xA008
	// TDRelaunchAdvised means a TDX guest should be relaunched to pick up a newer TDX module.
	TDRelaunchAdvised Outcome = 0xA009
	// TDRelaunchAdvisedConfigNeeded combines TDRelaunchAdvised and ConfigNeeded.
	TDRelaunchAdvisedConfigNeeded Outcome = 0xA00A
)

var (
	outcomeFwdMap = map[Outcome]string{
		Ok:                            "Ok",
		ConfigNeeded:                  "ConfigNeeded",
		OutOfDate:                     "OutOfDate",
		OutOfDateConfigNeeded:         "OutOfDateConfigNeeded",
		InvalidSignature:              "InvalidSignature",
		Revoked:                       "Revoked",
		Unspecified:                   "Unspecified",
		SwHardeningNeeded:             "SwHardeningNeeded",
		ConfigAndSwHardeningNeeded:    "ConfigAndSwHardeningNeeded",
		TDRelaunchAdvised:             "TDRelaunchAdvised",
		TDRelaunchAdvisedConfigNeeded: "TDRelaunchAdvisedConfigNeeded",
	}
	outcomeRevMap = func() map[string]Outcome {
		m := make(map[string]Outcome, len(outcomeFwdMap))
		for k, v := range outcomeFwdMap {
			m[v] = k
		}
		return m
	}()
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	_, ok := outcomeFwdMap[o]
	return ok
}

// Verified reports whether the quote passed cryptographic verification.
// InvalidSignature, Unspecified, and unknown outcomes mean it did not, and no policy can accept them.
func (o Outcome) Verified() bool {
	switch o {
	case InvalidSignature, Unspecified:
		return false
	}
	return o.Valid()
}

// String returns the name of the outcome.
func (o Outcome) String() string {
	if name, ok := outcomeFwdMap[o]; ok {
		return name
	}
	return fmt.Sprintf("[unknown outcome: 0x%04x]", uint32(o))
}

// MarshalText encodes the outcome as its name.
func (o Outcome) MarshalText() ([]byte, error) {
	name, ok := outcomeFwdMap[o]
	if !ok {
		return nil, fmt.Errorf("invalid outcome: 0x%04x", uint32(o))
	}
	return []byte(name), nil
}

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOutcome returns the outcome with the given name.
func ParseOutcome(name string) (Outcome, error) {
	o, ok := outcomeRevMap[name]
	if !ok {
		return 0, fmt.Errorf("invalid outcome: %q", name)
	}
	return o, nil
}

// Outcomes returns all known outcomes in ascending order.
func Outcomes() []Outcome {
	all := make([]Outcome, 0, len(outcomeFwdMap))
	for o := range outcomeFwdMap {
		all = append(all, o)
	}
	slices.Sort(all)
	return all
}
