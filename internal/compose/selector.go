// Package compose implements contract composition: runtime selection
// against the inventory, the layered environment algebra, placeholder
// expansion, path and argument resolution, capability derivation, and
// trust assessment. Compose is a pure function over its inputs except for
// one filesystem probe — the existence check on the resolved entrypoint.
package compose

import (
	"sort"

	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/record"
	"github.com/nah-dev/nah/internal/semver"
	"github.com/nah-dev/nah/internal/warnings"
)

// Inventory maps record_ref (an opaque, stable identifier — typically the
// registry filename) to the parsed runtime descriptor.
type Inventory = map[string]*record.NakRecord

// Selection is the outcome of choosing a runtime for a manifest.
type Selection struct {
	Resolved  bool
	RecordRef string
	Record    *record.NakRecord
	Reason    string
}

// SelectNak picks a runtime from the inventory satisfying the manifest's
// version requirement, honoring the profile's allow/deny patterns and
// binding mode. Install uses it to pin; composition re-validates the pin
// with LoadPinnedNak.
func SelectNak(m *manifest.Manifest, profile *record.HostProfile, inv Inventory, wc *warnings.Collector) Selection {
	if m.NakVersionReq == nil {
		wc.Emit(warnings.InvalidManifest, map[string]string{"reason": "nak_version_req_invalid"})
		return Selection{}
	}

	refs := make([]string, 0, len(inv))
	for ref := range inv {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	type candidate struct {
		ref     string
		rec     *record.NakRecord
		version *semver.Version
	}

	var idMatches []candidate
	for _, ref := range refs {
		rec := inv[ref]
		if rec.Nak.ID == m.NakID {
			idMatches = append(idMatches, candidate{ref: ref, rec: rec})
		}
	}
	if len(idMatches) == 0 {
		wc.Emit(warnings.NakNotFound, map[string]string{"nak_id": m.NakID})
		return Selection{}
	}

	var valid []candidate
	for _, c := range idMatches {
		if !profile.VersionAllowed(c.rec.Nak.Version) {
			continue
		}
		v, err := semver.ParseVersion(c.rec.Nak.Version)
		if err != nil {
			continue
		}
		if !m.NakVersionReq.Satisfies(v) {
			continue
		}
		c.version = v
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		wc.Emit(warnings.NakVersionUnsupported, map[string]string{
			"nak_id":          m.NakID,
			"nak_version_req": m.NakVersionReq.String(),
		})
		return Selection{}
	}

	if profile.Nak.BindingMode == record.BindingMapped {
		key := m.NakVersionReq.SelectionKey()
		ref, ok := profile.Nak.Map[key]
		if !ok {
			wc.Emit(warnings.NakVersionUnsupported, map[string]string{
				"nak_id":        m.NakID,
				"selection_key": key,
			})
			return Selection{}
		}
		for _, c := range valid {
			if c.ref == ref {
				return Selection{
					Resolved:  true,
					RecordRef: c.ref,
					Record:    c.rec,
					Reason:    "mapped " + key + " -> " + ref,
				}
			}
		}
		wc.Emit(warnings.NakVersionUnsupported, map[string]string{
			"nak_id": m.NakID,
			"reason": "mapped_record_not_found",
		})
		return Selection{}
	}

	// Canonical mode: highest satisfying version wins; equal versions
	// break the tie on record_ref so selection stays deterministic.
	best := valid[0]
	for _, c := range valid[1:] {
		if c.version.Compare(best.version) > 0 {
			best = c
		}
	}
	return Selection{
		Resolved:  true,
		RecordRef: best.ref,
		Record:    best.rec,
		Reason:    "highest satisfying " + m.NakVersionReq.String() + ", allowed by profile",
	}
}

// LoadPinnedNak validates an install record's pin against the inventory:
// the referenced descriptor must exist, agree with the pin and the
// manifest on identity and version, still satisfy the manifest's range,
// and pass the profile's version policy.
func LoadPinnedNak(pin *record.AppInstallRecord, m *manifest.Manifest, profile *record.HostProfile, inv Inventory, wc *warnings.Collector) (*record.NakRecord, bool) {
	ref := pin.Nak.RecordRef
	if ref == "" {
		wc.Emit(warnings.NakPinInvalid, map[string]string{"reason": "record_ref_empty"})
		return nil, false
	}

	rec, ok := inv[ref]
	if !ok {
		wc.Emit(warnings.NakPinInvalid, map[string]string{
			"reason":     "record_not_found",
			"record_ref": ref,
		})
		return nil, false
	}

	if rec.Schema != "" && rec.Schema != record.NakInstallSchema {
		wc.Emit(warnings.NakPinInvalid, map[string]string{
			"reason": "schema_mismatch",
			"schema": rec.Schema,
		})
		return nil, false
	}
	if errStr := record.ValidateNakRecord(rec); errStr != "" {
		wc.Emit(warnings.NakPinInvalid, map[string]string{
			"reason": "validation_failed",
			"error":  errStr,
		})
		return nil, false
	}

	if pin.Nak.ID != rec.Nak.ID || rec.Nak.ID != m.NakID {
		wc.Emit(warnings.NakPinInvalid, map[string]string{
			"reason":          "id_mismatch",
			"pin_id":          pin.Nak.ID,
			"record_id":       rec.Nak.ID,
			"manifest_nak_id": m.NakID,
		})
		return nil, false
	}
	if pin.Nak.Version != rec.Nak.Version {
		wc.Emit(warnings.NakPinInvalid, map[string]string{
			"reason":         "version_mismatch",
			"pin_version":    pin.Nak.Version,
			"record_version": rec.Nak.Version,
		})
		return nil, false
	}

	ver, err := semver.ParseVersion(rec.Nak.Version)
	if err != nil {
		wc.Emit(warnings.NakPinInvalid, map[string]string{
			"reason":  "invalid_version",
			"version": rec.Nak.Version,
		})
		return nil, false
	}

	if m.NakVersionReq == nil {
		wc.Emit(warnings.InvalidManifest, map[string]string{"reason": "nak_version_req_invalid"})
		return nil, false
	}
	if !m.NakVersionReq.Satisfies(ver) {
		wc.Emit(warnings.NakPinInvalid, map[string]string{
			"reason":      "requirement_not_satisfied",
			"version":     rec.Nak.Version,
			"requirement": m.NakVersionReq.String(),
		})
		return nil, false
	}

	if !profile.VersionAllowed(rec.Nak.Version) {
		wc.Emit(warnings.NakVersionUnsupported, map[string]string{
			"reason":  "denied_by_profile",
			"version": rec.Nak.Version,
		})
		return nil, false
	}

	return rec, true
}
