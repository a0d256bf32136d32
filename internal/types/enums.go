package types

// Provider identifies one of the two external reporting APIs the platform
// ingests from.
type Provider string

const (
	// ProviderSearch is the search performance reporting API (query/page
	// statistics per site).
	ProviderSearch Provider = "search"

	// ProviderTraffic is the web analytics reporting API (session/conversion
	// statistics per property).
	ProviderTraffic Provider = "traffic"
)

// Valid reports whether the provider is one of the two supported values.
func (p Provider) Valid() bool {
	return p == ProviderSearch || p == ProviderTraffic
}

// ParseProvider converts a raw string into a Provider.
// Returns an error for anything other than the two supported providers.
func ParseProvider(raw string) (Provider, error) {
	p := Provider(raw)
	if !p.Valid() {
		return "", NewAppError(ErrCodeValidationInvalidProvider,
			"unknown provider: "+raw, nil)
	}
	return p, nil
}

// RunStatus is the terminal state of a single tenant sync run.
type RunStatus string

const (
	// RunStatusComplete means every chunk of both passes was fetched and written.
	RunStatusComplete RunStatus = "complete"

	// RunStatusPartial means the run finished but one or more chunks failed;
	// the gaps are left for the next scheduled run or a manual backfill.
	RunStatusPartial RunStatus = "partial"

	// RunStatusSkipped means the run never reached the fetch phase
	// (no credential, invalid credential, or no binding discoverable).
	RunStatusSkipped RunStatus = "skipped"
)

// SkipReason explains why a tenant run terminated in RunStatusSkipped.
type SkipReason string

const (
	SkipReasonNoCredential      SkipReason = "no_credential"
	SkipReasonCredentialInvalid SkipReason = "credential_invalid"
	SkipReasonNoBinding         SkipReason = "no_binding"
	SkipReasonEmptyResult       SkipReason = "empty_result"
)
