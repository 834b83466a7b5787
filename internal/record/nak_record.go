package record

import "strings"

// NakInstallSchema tags installed runtime descriptors.
const NakInstallSchema = "nah.nak.install.v1"

// Loader is one entry binary a NAK provides. ExecPath may carry
// placeholders but must expand to an absolute path under the NAK root.
type Loader struct {
	ExecPath     string
	ArgsTemplate []string
}

// NakRecord is an installed runtime descriptor ("NAK record").
type NakRecord struct {
	Schema     string
	SourcePath string

	Nak struct {
		ID      string
		Version string
	}

	Paths struct {
		Root         string
		ResourceRoot string
		LibDirs      []string
	}

	Environment map[string]EnvValue
	Loaders     map[string]Loader

	Execution struct {
		Present bool
		Cwd     string
	}

	Provenance Provenance
}

// HasLoaders reports whether the NAK provides entry binaries (libs-only
// NAKs do not).
func (r *NakRecord) HasLoaders() bool {
	return len(r.Loaders) > 0
}

// NakRecordResult is the outcome of parsing a runtime descriptor.
type NakRecordResult struct {
	OK     bool
	Err    string
	Record NakRecord
}

func decodeLoader(tbl Tree, name string) (Loader, string) {
	exec, ok := tbl.PathStr("exec_path")
	if !ok || emptyAfterTrim(exec) {
		return Loader{}, "loaders." + name + ".exec_path missing or empty"
	}
	return Loader{ExecPath: exec, ArgsTemplate: tbl.StrArray("args_template")}, ""
}

// ParseNakRecord parses a runtime descriptor from JSON or TOML. Either a
// "loaders" map or a singular "loader" table (auto-named "default") is
// accepted; when both are present the map wins.
func ParseNakRecord(src, sourcePath string) NakRecordResult {
	var res NakRecordResult
	res.Record.SourcePath = sourcePath

	tree, err := DecodeTree(src)
	if err != nil {
		res.Err = err.Error()
		return res
	}

	if schema, ok := tree.Str("schema"); ok {
		res.Record.Schema = strings.TrimSpace(schema)
	}

	nak, ok := tree.Table("nak")
	if !ok {
		res.Err = "nak section missing"
		return res
	}
	id, ok := nak.Str("id")
	if !ok || emptyAfterTrim(id) {
		res.Err = "nak.id missing or empty"
		return res
	}
	res.Record.Nak.ID = id
	ver, ok := nak.Str("version")
	if !ok || emptyAfterTrim(ver) {
		res.Err = "nak.version missing or empty"
		return res
	}
	res.Record.Nak.Version = ver

	paths, ok := tree.Table("paths")
	if !ok {
		res.Err = "paths section missing"
		return res
	}
	root, ok := paths.PathStr("root")
	if !ok || emptyAfterTrim(root) {
		res.Err = "paths.root missing or empty"
		return res
	}
	res.Record.Paths.Root = root
	if rr, ok := paths.PathStr("resource_root"); ok {
		res.Record.Paths.ResourceRoot = rr
	} else {
		res.Record.Paths.ResourceRoot = root
	}
	res.Record.Paths.LibDirs = paths.PathArray("lib_dirs")

	res.Record.Environment = tree.EnvMap("environment")

	if loaders, ok := tree.Table("loaders"); ok {
		res.Record.Loaders = make(map[string]Loader, len(loaders))
		for name, v := range loaders {
			tbl, ok := v.(map[string]any)
			if !ok {
				continue
			}
			loader, errStr := decodeLoader(Tree(tbl), name)
			if errStr != "" {
				res.Err = errStr
				return res
			}
			res.Record.Loaders[name] = loader
		}
	} else if loader, ok := tree.Table("loader"); ok {
		l, errStr := decodeLoader(loader, "default")
		if errStr != "" {
			res.Err = strings.Replace(errStr, "loaders.default.", "loader.", 1)
			return res
		}
		res.Record.Loaders = map[string]Loader{"default": l}
	}

	if exec, ok := tree.Table("execution"); ok {
		res.Record.Execution.Present = true
		res.Record.Execution.Cwd, _ = exec.Str("cwd")
	}

	if prov, ok := tree.Table("provenance"); ok {
		res.Record.Provenance.PackageHash, _ = prov.Str("package_hash")
		res.Record.Provenance.InstalledAt, _ = prov.Str("installed_at")
		res.Record.Provenance.InstalledBy, _ = prov.Str("installed_by")
		res.Record.Provenance.Source, _ = prov.Str("source")
	}

	res.OK = true
	return res
}

// ValidateNakRecord re-checks the required fields of an already-parsed
// descriptor; pinned-NAK loading uses it before trusting a record.
func ValidateNakRecord(r *NakRecord) string {
	if emptyAfterTrim(r.Nak.ID) {
		return "nak.id empty or missing"
	}
	if emptyAfterTrim(r.Nak.Version) {
		return "nak.version empty or missing"
	}
	if emptyAfterTrim(r.Paths.Root) {
		return "paths.root empty or missing"
	}
	return ""
}
