// Package inventory loads the host's installed-runtime registry: a
// directory of NAK descriptor files whose basenames serve as the opaque,
// stable record_refs the rest of the system pins against.
package inventory

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/record"
)

// Scan reads every descriptor in dir (.json and .toml) into a record_ref
// -> descriptor map. Unreadable or unparsable files are skipped; a missing
// directory yields an empty inventory.
func Scan(dir string, logger log.Logger) map[string]*record.NakRecord {
	if logger == nil {
		logger = log.Default()
	}
	inv := make(map[string]*record.NakRecord)

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Debug("NAK registry not readable", "dir", dir, "error", err)
		return inv
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".json" && ext != ".toml" {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable NAK record", "path", path, "error", err)
			continue
		}

		res := record.ParseNakRecord(string(data), path)
		if !res.OK {
			logger.Warn("skipping invalid NAK record", "path", path, "error", res.Err)
			continue
		}
		inv[name] = &res.Record
	}

	logger.Debug("scanned NAK inventory", "dir", dir, "records", len(inv))
	return inv
}
