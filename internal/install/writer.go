package install

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nah-dev/nah/internal/record"
)

// appRecordTOML renders an app install record in its canonical TOML form.
// Sections and keys are emitted in a fixed order so records diff cleanly
// across reinstalls.
func appRecordTOML(r *record.AppInstallRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "schema = %q\n\n", record.AppInstallSchema)

	b.WriteString("[install]\n")
	fmt.Fprintf(&b, "instance_id = %q\n\n", r.Install.InstanceID)

	b.WriteString("[app]\n")
	fmt.Fprintf(&b, "id = %q\n", r.App.ID)
	fmt.Fprintf(&b, "version = %q\n", r.App.Version)
	if r.App.NakID != "" {
		fmt.Fprintf(&b, "nak_id = %q\n", r.App.NakID)
	}
	if r.App.NakVersionReq != "" {
		fmt.Fprintf(&b, "nak_version_req = %q\n", r.App.NakVersionReq)
	}
	b.WriteString("\n")

	if r.Nak.ID != "" {
		b.WriteString("[nak]\n")
		fmt.Fprintf(&b, "id = %q\n", r.Nak.ID)
		fmt.Fprintf(&b, "version = %q\n", r.Nak.Version)
		fmt.Fprintf(&b, "record_ref = %q\n", r.Nak.RecordRef)
		if r.Nak.Loader != "" {
			fmt.Fprintf(&b, "loader = %q\n", r.Nak.Loader)
		}
		if r.Nak.SelectionReason != "" {
			fmt.Fprintf(&b, "selection_reason = %q\n", r.Nak.SelectionReason)
		}
		b.WriteString("\n")
	}

	b.WriteString("[paths]\n")
	fmt.Fprintf(&b, "install_root = %q\n\n", r.Paths.InstallRoot)

	b.WriteString("[provenance]\n")
	fmt.Fprintf(&b, "package_hash = %q\n", r.Provenance.PackageHash)
	fmt.Fprintf(&b, "installed_at = %q\n", r.Provenance.InstalledAt)
	fmt.Fprintf(&b, "installed_by = %q\n", r.Provenance.InstalledBy)
	fmt.Fprintf(&b, "source = %q\n\n", r.Provenance.Source)

	b.WriteString("[trust]\n")
	fmt.Fprintf(&b, "state = %q\n", string(r.Trust.State))
	if r.Trust.Source != "" {
		fmt.Fprintf(&b, "source = %q\n", r.Trust.Source)
	}
	if r.Trust.EvaluatedAt != "" {
		fmt.Fprintf(&b, "evaluated_at = %q\n", r.Trust.EvaluatedAt)
	}
	if r.Trust.ExpiresAt != "" {
		fmt.Fprintf(&b, "expires_at = %q\n", r.Trust.ExpiresAt)
	}
	if r.Trust.InputsHash != "" {
		fmt.Fprintf(&b, "inputs_hash = %q\n", r.Trust.InputsHash)
	}
	if len(r.Trust.Details) > 0 {
		b.WriteString("\n[trust.details]\n")
		keys := make([]string, 0, len(r.Trust.Details))
		for k := range r.Trust.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%q = %q\n", k, r.Trust.Details[k])
		}
	}

	return b.String()
}

// writeFileAtomic writes via a temp file in the target directory and
// renames into place, so readers never observe a half-written record.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
