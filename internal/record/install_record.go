package record

import (
	"strings"

	"github.com/nah-dev/nah/internal/warnings"
)

// AppInstallSchema tags app install records.
const AppInstallSchema = "nah.app.install.v1"

// TrustState is the opaque four-valued trust tag carried through
// composition untouched.
type TrustState string

const (
	TrustVerified   TrustState = "verified"
	TrustUnverified TrustState = "unverified"
	TrustFailed     TrustState = "failed"
	TrustUnknown    TrustState = "unknown"
)

// ParseTrustState maps a string (case-insensitive) onto a TrustState.
func ParseTrustState(s string) (TrustState, bool) {
	switch TrustState(strings.ToLower(s)) {
	case TrustVerified:
		return TrustVerified, true
	case TrustUnverified:
		return TrustUnverified, true
	case TrustFailed:
		return TrustFailed, true
	case TrustUnknown:
		return TrustUnknown, true
	}
	return "", false
}

// Trust is the trust assessment snapshot of an install record.
type Trust struct {
	State       TrustState
	Source      string
	EvaluatedAt string
	ExpiresAt   string
	InputsHash  string
	Details     map[string]string
}

// Absent reports whether the trust section is effectively missing (no
// source and no evaluation timestamp); composition then treats the state
// as Unknown regardless of the tag.
func (t Trust) Absent() bool {
	return t.Source == "" && t.EvaluatedAt == ""
}

// Provenance records where an installed artifact came from.
type Provenance struct {
	PackageHash string
	InstalledAt string
	InstalledBy string
	Source      string
}

// InstallOverrides are the per-install adjustments an operator recorded.
type InstallOverrides struct {
	Environment map[string]EnvValue
	Arguments   struct {
		Prepend []string
		Append  []string
	}
	Paths struct {
		LibraryPrepend []string
	}
}

// AppInstallRecord describes one installed instance of an application.
type AppInstallRecord struct {
	Schema     string
	SourcePath string

	Install struct {
		InstanceID string
	}
	App struct {
		ID            string
		Version       string
		NakID         string
		NakVersionReq string
	}
	Nak struct {
		ID              string
		Version         string
		RecordRef       string
		Loader          string
		SelectionReason string
	}
	Paths struct {
		InstallRoot string
	}
	Provenance Provenance
	Trust      Trust
	Overrides  InstallOverrides
}

// ParseWarning is a parser-level diagnostic the caller feeds into its
// warning collector.
type ParseWarning struct {
	Key    warnings.Key
	Fields map[string]string
}

// AppInstallResult is the outcome of parsing an app install record.
// Critical marks structural failure in required fields: the record is
// unusable and composition must fail with INSTALL_RECORD_INVALID.
type AppInstallResult struct {
	OK       bool
	Critical bool
	Err      string
	Record   AppInstallRecord
	Warnings []ParseWarning
}

func emptyAfterTrim(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ParseAppInstallRecord parses an app install record from JSON or TOML.
func ParseAppInstallRecord(src, sourcePath string) AppInstallResult {
	var res AppInstallResult
	res.Record.SourcePath = sourcePath
	res.Record.Trust.State = TrustUnknown

	tree, err := DecodeTree(src)
	if err != nil {
		res.Critical = true
		res.Err = err.Error()
		return res
	}

	schema, ok := tree.Str("schema")
	if !ok || emptyAfterTrim(schema) {
		res.Critical = true
		res.Err = "schema missing"
		return res
	}
	res.Record.Schema = strings.TrimSpace(schema)
	if res.Record.Schema != AppInstallSchema {
		res.Critical = true
		res.Err = "schema mismatch: expected " + AppInstallSchema
		return res
	}

	install, ok := tree.Table("install")
	if !ok {
		res.Critical = true
		res.Err = "install section missing"
		return res
	}
	id, ok := install.Str("instance_id")
	if !ok || emptyAfterTrim(id) {
		res.Critical = true
		res.Err = "install.instance_id missing or empty"
		return res
	}
	res.Record.Install.InstanceID = id

	if app, ok := tree.Table("app"); ok {
		res.Record.App.ID, _ = app.Str("id")
		res.Record.App.Version, _ = app.Str("version")
		res.Record.App.NakID, _ = app.Str("nak_id")
		res.Record.App.NakVersionReq, _ = app.Str("nak_version_req")
	}

	if nak, ok := tree.Table("nak"); ok {
		res.Record.Nak.ID, _ = nak.Str("id")
		res.Record.Nak.Version, _ = nak.Str("version")
		res.Record.Nak.RecordRef, _ = nak.Str("record_ref")
		res.Record.Nak.Loader, _ = nak.Str("loader")
		res.Record.Nak.SelectionReason, _ = nak.Str("selection_reason")
	}

	paths, ok := tree.Table("paths")
	if !ok {
		res.Critical = true
		res.Err = "paths section missing"
		return res
	}
	root, ok := paths.PathStr("install_root")
	if !ok || emptyAfterTrim(root) {
		res.Critical = true
		res.Err = "paths.install_root missing or empty"
		return res
	}
	res.Record.Paths.InstallRoot = root

	if prov, ok := tree.Table("provenance"); ok {
		res.Record.Provenance.PackageHash, _ = prov.Str("package_hash")
		res.Record.Provenance.InstalledAt, _ = prov.Str("installed_at")
		res.Record.Provenance.InstalledBy, _ = prov.Str("installed_by")
		res.Record.Provenance.Source, _ = prov.Str("source")
	}

	if trust, ok := tree.Table("trust"); ok {
		if state, ok := trust.Str("state"); ok {
			parsed, ok := ParseTrustState(state)
			if ok {
				res.Record.Trust.State = parsed
			} else {
				res.Warnings = append(res.Warnings, ParseWarning{
					Key:    warnings.InvalidTrustState,
					Fields: map[string]string{"state": state},
				})
				res.Record.Trust.State = TrustUnknown
			}
		}
		res.Record.Trust.Source, _ = trust.Str("source")
		res.Record.Trust.EvaluatedAt, _ = trust.Str("evaluated_at")
		res.Record.Trust.ExpiresAt, _ = trust.Str("expires_at")
		res.Record.Trust.InputsHash, _ = trust.Str("inputs_hash")
		res.Record.Trust.Details = trust.StringMap("details")
	}

	if ovr, ok := tree.Table("overrides"); ok {
		res.Record.Overrides.Environment = ovr.EnvMap("environment")
		if args, ok := ovr.Table("arguments"); ok {
			res.Record.Overrides.Arguments.Prepend = args.StrArray("prepend")
			res.Record.Overrides.Arguments.Append = args.StrArray("append")
		}
		if p, ok := ovr.Table("paths"); ok {
			res.Record.Overrides.Paths.LibraryPrepend = p.StrArray("library_prepend")
		}
	}

	res.OK = true
	return res
}
