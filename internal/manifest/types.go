// Package manifest decodes and encodes the binary application manifest: a
// fixed 16-byte header (magic, format version, total size, CRC32 over the
// payload) followed by a tag/length/value stream in strictly ascending tag
// order. Decoding is forgiving at the entry level — a bad entry is dropped
// with a reason, the rest of the manifest survives — and unforgiving about
// the header: bad magic or a CRC mismatch means the manifest is unusable.
package manifest

import "github.com/nah-dev/nah/internal/semver"

// Manifest tags. Values are part of the wire format and stable forever.
const (
	TagEnd                  uint16 = 0
	TagID                   uint16 = 10
	TagVersion              uint16 = 11
	TagNakID                uint16 = 12
	TagNakVersionReq        uint16 = 13
	TagNakLoader            uint16 = 14
	TagEntrypointPath       uint16 = 20
	TagEntrypointArg        uint16 = 21
	TagEnvVar               uint16 = 30
	TagLibDir               uint16 = 40
	TagAssetDir             uint16 = 41
	TagAssetExport          uint16 = 42
	TagPermissionFilesystem uint16 = 50
	TagPermissionNetwork    uint16 = 51
	TagDescription          uint16 = 60
	TagAuthor               uint16 = 61
	TagLicense              uint16 = 62
	TagHomepage             uint16 = 63
)

// Wire limits.
const (
	// HeaderSize is the fixed manifest header length.
	HeaderSize = 16
	// Magic is "NAHM" read as a little-endian uint32.
	Magic uint32 = 0x4D48414E
	// FormatVersion is the supported manifest format version.
	FormatVersion uint16 = 1

	// MaxPayloadSize caps the TLV payload.
	MaxPayloadSize = 64 * 1024
	// MaxEntries caps total TLV records in one manifest.
	MaxEntries = 512
	// MaxValueSize caps a single TLV value.
	MaxValueSize = 4096
	// MaxRepeats caps occurrences of one repeatable tag.
	MaxRepeats = 128
)

// Entry is one decoded TLV record.
type Entry struct {
	Tag   uint16
	Value string
}

// AssetExport is a parsed ASSET_EXPORT entry (id:relpath[:type]).
type AssetExport struct {
	ID   string
	Path string
	Type string
}

// Manifest is the decoded, typed form of an application manifest.
type Manifest struct {
	ID            string
	Version       string
	NakID         string
	NakVersionReq *semver.Range // nil when absent or unparsable
	NakLoader     string

	EntrypointPath string
	EntrypointArgs []string

	EnvVars []string // KEY=VALUE manifest defaults, fill-only

	LibDirs      []string
	AssetDirs    []string
	AssetExports []AssetExport

	PermissionsFilesystem []string // op:resource, op in {read,write,execute}
	PermissionsNetwork    []string // op:resource, op in {connect,listen,bind}

	Description string
	Author      string
	License     string
	Homepage    string
}

// Standalone reports whether the app declares no runtime dependency.
func (m *Manifest) Standalone() bool {
	return m.NakID == ""
}

func isRepeatable(tag uint16) bool {
	switch tag {
	case TagEntrypointArg, TagEnvVar, TagLibDir, TagAssetDir,
		TagAssetExport, TagPermissionFilesystem, TagPermissionNetwork:
		return true
	}
	return false
}
