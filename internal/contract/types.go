// Package contract defines the launch contract — the fully resolved
// description of how to spawn an installed application — and its
// deterministic wire form. Identical composition inputs serialize to
// byte-identical output: fixed top-level key order, sorted keys inside
// every map, arrays in construction order.
package contract

import "github.com/nah-dev/nah/internal/warnings"

// Schema tags the serialized envelope.
const Schema = "nah.launch.contract.v1"

// CriticalError aborts composition; the envelope carries at most one.
type CriticalError string

const (
	// NoCriticalError is the zero value of the critical channel.
	NoCriticalError CriticalError = ""

	ErrManifestMissing      CriticalError = "MANIFEST_MISSING"
	ErrEntrypointNotFound   CriticalError = "ENTRYPOINT_NOT_FOUND"
	ErrPathTraversal        CriticalError = "PATH_TRAVERSAL"
	ErrInstallRecordInvalid CriticalError = "INSTALL_RECORD_INVALID"
	ErrNakLoaderInvalid     CriticalError = "NAK_LOADER_INVALID"
)

// App identifies the application being launched.
type App struct {
	ID         string
	Version    string
	Root       string
	Entrypoint string // absolute, under Root
}

// Nak identifies the resolved runtime. All fields are empty when the app
// runs standalone or resolution failed.
type Nak struct {
	ID           string
	Version      string
	Root         string
	ResourceRoot string
	RecordRef    string
}

// Execution is everything the spawn layer needs.
type Execution struct {
	Binary            string
	Arguments         []string
	Cwd               string
	LibraryPathEnvKey string
	LibraryPaths      []string
}

// Enforcement carries the opaque enforcement ids derived from the app's
// declared permissions through the profile's capability map.
type Enforcement struct {
	Filesystem []string
	Network    []string
}

// Trust mirrors the install record's trust assessment.
type Trust struct {
	State       string
	Source      string
	EvaluatedAt string
	ExpiresAt   string
	InputsHash  string
	Details     map[string]string
}

// Export is one resolved asset export.
type Export struct {
	ID   string
	Path string // absolute, under app root
	Type string
}

// CapabilityUsage summarizes the app's declared capability surface.
type CapabilityUsage struct {
	Present              bool
	RequiredCapabilities []string
	OptionalCapabilities []string
	CriticalCapabilities []string
}

// Contract is the composer's output.
type Contract struct {
	App             App
	Nak             Nak
	Execution       Execution
	Environment     map[string]string
	Enforcement     Enforcement
	Trust           Trust
	Exports         map[string]Export
	CapabilityUsage CapabilityUsage
}

// TraceContribution records one attempt to contribute to a traced key.
type TraceContribution struct {
	Value          string
	SourceKind     string
	SourcePath     string
	PrecedenceRank int
	Operation      string
	Accepted       bool
}

// TraceEntry is the per-key trace: the winning contribution plus the full
// history in layer order.
type TraceEntry struct {
	Value          string
	SourceKind     string
	SourcePath     string
	PrecedenceRank int
	History        []TraceContribution
}

// Trace maps section name ("environment", ...) to per-key entries.
type Trace map[string]map[string]TraceEntry

// Envelope is a contract plus its diagnostics.
type Envelope struct {
	Contract      Contract
	Warnings      []warnings.Warning
	CriticalError CriticalError
	Trace         Trace // nil unless tracing was enabled
}

// Failed reports whether composition aborted on a critical error.
func (e *Envelope) Failed() bool {
	return e.CriticalError != NoCriticalError
}
