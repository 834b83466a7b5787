package manifest

import (
	"encoding/binary"
	"hash/crc32"
	"strings"

	"github.com/nah-dev/nah/internal/pathutil"
	"github.com/nah-dev/nah/internal/semver"
)

// DecodeResult is the outcome of decoding a manifest blob.
//
// CriticalMissing marks the manifest unusable (bad magic, short header,
// CRC mismatch): composition must fail with MANIFEST_MISSING. Everything
// else is reported through Reasons — per-entry drop reasons the composer
// turns into invalid_manifest warnings.
type DecodeResult struct {
	OK              bool
	CriticalMissing bool
	Err             string
	Manifest        Manifest
	Entries         []Entry
	Reasons         []string
}

// header is the parsed fixed-size manifest header.
type header struct {
	magic     uint32
	version   uint16
	totalSize uint32
	crc32     uint32
}

func parseHeader(b []byte) header {
	return header{
		magic:     binary.LittleEndian.Uint32(b[0:4]),
		version:   binary.LittleEndian.Uint16(b[4:6]),
		totalSize: binary.LittleEndian.Uint32(b[8:12]),
		crc32:     binary.LittleEndian.Uint32(b[12:16]),
	}
}

// payloadCRC computes the reflected-IEEE CRC32 the header carries.
func payloadCRC(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

func validEnvVar(v string) bool {
	eq := strings.IndexByte(v, '=')
	return eq > 0
}

func relative(v string) bool {
	return v != "" && !pathutil.IsAbsolute(v)
}

// ParseAssetExport splits an ASSET_EXPORT value of the form
// id:relpath[:type]. The id must be non-empty and the path relative.
func ParseAssetExport(v string) (AssetExport, bool) {
	id, rest, ok := strings.Cut(v, ":")
	if !ok || id == "" {
		return AssetExport{}, false
	}
	path, typ, _ := strings.Cut(rest, ":")
	if !relative(path) {
		return AssetExport{}, false
	}
	return AssetExport{ID: id, Path: path, Type: typ}, true
}

// validValue applies per-tag value rules. All values must be NUL-free.
func validValue(tag uint16, v string) bool {
	if strings.ContainsRune(v, 0) {
		return false
	}
	switch tag {
	case TagEntrypointPath, TagLibDir, TagAssetDir:
		return relative(v)
	case TagEnvVar:
		return validEnvVar(v)
	case TagAssetExport:
		_, ok := ParseAssetExport(v)
		return ok
	}
	return true
}

// decodePayload walks the TLV stream, enforcing ordering and limits.
// Violations drop the offending entry and append a reason. Reaching
// MaxEntries stops the walk and keeps the entries read so far. Two cases
// discard all entries: a payload larger than MaxPayloadSize is rejected
// before the walk, and a length running past the payload aborts it (the
// stream is unframed beyond that point).
func decodePayload(payload []byte) ([]Entry, []string) {
	var entries []Entry
	var reasons []string

	offset := 0
	seen := 0
	var lastTag uint16
	repeats := make(map[uint16]int)

	if len(payload) > MaxPayloadSize {
		return nil, []string{"total_size_exceeded"}
	}

	for offset+4 <= len(payload) {
		if seen >= MaxEntries {
			reasons = append(reasons, "entry_limit_exceeded")
			break
		}
		tag := binary.LittleEndian.Uint16(payload[offset : offset+2])
		length := int(binary.LittleEndian.Uint16(payload[offset+2 : offset+4]))
		offset += 4
		seen++

		if offset+length > len(payload) {
			return nil, append(reasons, "length_out_of_bounds")
		}
		value := string(payload[offset : offset+length])
		offset += length

		if tag == TagEnd {
			if length != 0 {
				reasons = append(reasons, "end_length_nonzero")
				continue
			}
			if offset != len(payload) {
				reasons = append(reasons, "end_not_final")
				continue
			}
			break
		}

		if len(entries) > 0 && tag < lastTag {
			reasons = append(reasons, "tag_order")
			continue
		}
		lastTag = tag

		if isRepeatable(tag) {
			repeats[tag]++
			if repeats[tag] > MaxRepeats {
				reasons = append(reasons, "repeat_limit")
				continue
			}
		} else {
			if repeats[tag] > 0 {
				reasons = append(reasons, "duplicate_nonrepeatable")
				continue
			}
			repeats[tag] = 1
		}

		if len(value) > MaxValueSize {
			reasons = append(reasons, "string_too_long")
			continue
		}

		if !validValue(tag, value) {
			reasons = append(reasons, "invalid_value")
			continue
		}

		entries = append(entries, Entry{Tag: tag, Value: value})
	}

	return entries, reasons
}

// Decode parses a complete manifest blob (header + payload) into typed
// fields.
func Decode(blob []byte) DecodeResult {
	var res DecodeResult

	if len(blob) < HeaderSize {
		res.CriticalMissing = true
		res.Err = "header_too_small"
		return res
	}

	h := parseHeader(blob)
	if h.magic != Magic {
		res.CriticalMissing = true
		res.Err = "bad_magic"
		return res
	}
	if h.version != FormatVersion {
		res.Reasons = append(res.Reasons, "version")
	}
	if int(h.totalSize) != len(blob) {
		// Structurally invalid but recoverable: all fields read as absent.
		res.OK = true
		res.Reasons = append(res.Reasons, "total_size_mismatch")
		return res
	}

	payload := blob[HeaderSize:]
	if payloadCRC(payload) != h.crc32 {
		res.CriticalMissing = true
		res.Err = "crc_mismatch"
		return res
	}

	entries, reasons := decodePayload(payload)
	res.OK = true
	res.Entries = entries
	res.Reasons = append(res.Reasons, reasons...)

	res.Manifest, res.Reasons = mapFields(entries, res.Reasons)
	return res
}

// mapFields projects the entry list onto the Manifest struct with
// field-level validation. First occurrence wins for scalar tags.
func mapFields(entries []Entry, reasons []string) (Manifest, []string) {
	var m Manifest

	for _, e := range entries {
		switch e.Tag {
		case TagID:
			if m.ID == "" {
				m.ID = e.Value
			}
		case TagVersion:
			if m.Version == "" {
				m.Version = e.Value
			}
		case TagNakID:
			if m.NakID == "" {
				m.NakID = e.Value
			}
		case TagNakVersionReq:
			if m.NakVersionReq == nil {
				r, err := semver.ParseRange(e.Value)
				if err != nil {
					reasons = append(reasons, "nak_version_req")
				} else {
					m.NakVersionReq = r
				}
			}
		case TagNakLoader:
			if m.NakLoader == "" {
				m.NakLoader = e.Value
			}
		case TagEntrypointPath:
			if m.EntrypointPath == "" {
				m.EntrypointPath = e.Value
			}
		case TagEntrypointArg:
			m.EntrypointArgs = append(m.EntrypointArgs, e.Value)
		case TagEnvVar:
			m.EnvVars = append(m.EnvVars, e.Value)
		case TagLibDir:
			m.LibDirs = append(m.LibDirs, e.Value)
		case TagAssetDir:
			m.AssetDirs = append(m.AssetDirs, e.Value)
		case TagAssetExport:
			exp, ok := ParseAssetExport(e.Value)
			if ok {
				m.AssetExports = append(m.AssetExports, exp)
			} else {
				reasons = append(reasons, "asset_export")
			}
		case TagPermissionFilesystem:
			m.PermissionsFilesystem = append(m.PermissionsFilesystem, e.Value)
		case TagPermissionNetwork:
			m.PermissionsNetwork = append(m.PermissionsNetwork, e.Value)
		case TagDescription:
			if m.Description == "" {
				m.Description = e.Value
			}
		case TagAuthor:
			if m.Author == "" {
				m.Author = e.Value
			}
		case TagLicense:
			if m.License == "" {
				m.License = e.Value
			}
		case TagHomepage:
			if m.Homepage == "" {
				m.Homepage = e.Value
			}
		}
	}

	if m.ID == "" {
		reasons = append(reasons, "id_missing")
	}
	if m.Version == "" {
		reasons = append(reasons, "version_missing")
	} else if _, err := semver.ParseVersion(m.Version); err != nil {
		reasons = append(reasons, "version_invalid")
		m.Version = ""
	}
	if m.NakID != "" && m.NakVersionReq == nil {
		reasons = append(reasons, "nak_version_req_missing")
	}
	if m.EntrypointPath == "" {
		reasons = append(reasons, "entrypoint_missing")
	}

	return m, reasons
}
