package manifest

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// EncodeEntries serializes TLV entries into a canonical manifest blob:
// tags ascending (repeatable tags keep their relative order), END record
// last, CRC computed over the full payload, total_size covering header and
// payload. Canonical bytes round-trip: Decode(EncodeEntries(e)) yields e
// and re-encoding a canonical blob reproduces it.
func EncodeEntries(entries []Entry) ([]byte, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tag < sorted[j].Tag })

	var payload []byte
	for _, e := range sorted {
		if e.Tag == TagEnd {
			return nil, fmt.Errorf("explicit END entry not allowed")
		}
		if len(e.Value) > MaxValueSize {
			return nil, fmt.Errorf("tag %d value exceeds %d bytes", e.Tag, MaxValueSize)
		}
		if strings.ContainsRune(e.Value, 0) {
			return nil, fmt.Errorf("tag %d value contains NUL", e.Tag)
		}
		payload = binary.LittleEndian.AppendUint16(payload, e.Tag)
		payload = binary.LittleEndian.AppendUint16(payload, uint16(len(e.Value)))
		payload = append(payload, e.Value...)
	}
	// END terminator.
	payload = binary.LittleEndian.AppendUint16(payload, TagEnd)
	payload = binary.LittleEndian.AppendUint16(payload, 0)

	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds %d bytes", len(payload), MaxPayloadSize)
	}
	if len(entries) >= MaxEntries {
		return nil, fmt.Errorf("entry count %d exceeds %d", len(entries), MaxEntries)
	}

	blob := make([]byte, 0, HeaderSize+len(payload))
	blob = binary.LittleEndian.AppendUint32(blob, Magic)
	blob = binary.LittleEndian.AppendUint16(blob, FormatVersion)
	blob = binary.LittleEndian.AppendUint16(blob, 0) // reserved
	blob = binary.LittleEndian.AppendUint32(blob, uint32(HeaderSize+len(payload)))
	blob = binary.LittleEndian.AppendUint32(blob, payloadCRC(payload))
	blob = append(blob, payload...)
	return blob, nil
}

// TLVEntries flattens a Manifest back into its TLV entry list.
func (m *Manifest) TLVEntries() []Entry {
	var entries []Entry
	add := func(tag uint16, value string) {
		if value != "" {
			entries = append(entries, Entry{Tag: tag, Value: value})
		}
	}

	add(TagID, m.ID)
	add(TagVersion, m.Version)
	add(TagNakID, m.NakID)
	if m.NakVersionReq != nil {
		add(TagNakVersionReq, m.NakVersionReq.String())
	}
	add(TagNakLoader, m.NakLoader)
	add(TagEntrypointPath, m.EntrypointPath)
	for _, a := range m.EntrypointArgs {
		entries = append(entries, Entry{Tag: TagEntrypointArg, Value: a})
	}
	for _, v := range m.EnvVars {
		entries = append(entries, Entry{Tag: TagEnvVar, Value: v})
	}
	for _, d := range m.LibDirs {
		entries = append(entries, Entry{Tag: TagLibDir, Value: d})
	}
	for _, d := range m.AssetDirs {
		entries = append(entries, Entry{Tag: TagAssetDir, Value: d})
	}
	for _, e := range m.AssetExports {
		v := e.ID + ":" + e.Path
		if e.Type != "" {
			v += ":" + e.Type
		}
		entries = append(entries, Entry{Tag: TagAssetExport, Value: v})
	}
	for _, p := range m.PermissionsFilesystem {
		entries = append(entries, Entry{Tag: TagPermissionFilesystem, Value: p})
	}
	for _, p := range m.PermissionsNetwork {
		entries = append(entries, Entry{Tag: TagPermissionNetwork, Value: p})
	}
	add(TagDescription, m.Description)
	add(TagAuthor, m.Author)
	add(TagLicense, m.License)
	add(TagHomepage, m.Homepage)
	return entries
}

// Encode serializes a Manifest into canonical blob form.
func (m *Manifest) Encode() ([]byte, error) {
	return EncodeEntries(m.TLVEntries())
}
