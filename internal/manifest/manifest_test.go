package manifest

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func buildManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := ParseInput(`
schema = "nah.manifest.input.v1"

[app]
id = "com.example.app"
version = "1.0.0"
nak_id = "lua"
nak_version_req = ">=5.4"
entrypoint = "main.lua"
args = ["--flag", "{NAH_APP_ROOT}/data"]

[env]
APP_MODE = "production"

[paths]
lib_dirs = ["lib"]
asset_dirs = ["assets"]

[[exports]]
id = "icons"
path = "assets/icons"
type = "directory"

[permissions]
filesystem = ["read:assets"]
network = ["connect:api.example.com"]

[metadata]
description = "Example app"
author = "Example Inc"
license = "MIT"
homepage = "https://example.com"
`)
	if err != nil {
		t.Fatalf("ParseInput: %v", err)
	}
	return m
}

func TestRoundTrip(t *testing.T) {
	m := buildManifest(t)

	blob, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	res := Decode(blob)
	if !res.OK || res.CriticalMissing {
		t.Fatalf("Decode failed: %+v", res)
	}
	if len(res.Reasons) != 0 {
		t.Errorf("unexpected reasons: %v", res.Reasons)
	}

	got := res.Manifest
	if got.ID != m.ID || got.Version != m.Version || got.NakID != m.NakID {
		t.Errorf("identity fields: %+v", got)
	}
	if got.NakVersionReq == nil || got.NakVersionReq.String() != ">=5.4" {
		t.Errorf("NakVersionReq = %v", got.NakVersionReq)
	}
	if got.EntrypointPath != "main.lua" {
		t.Errorf("EntrypointPath = %q", got.EntrypointPath)
	}
	if diff := cmp.Diff(m.EntrypointArgs, got.EntrypointArgs); diff != "" {
		t.Errorf("EntrypointArgs diff:\n%s", diff)
	}
	if diff := cmp.Diff(m.AssetExports, got.AssetExports); diff != "" {
		t.Errorf("AssetExports diff:\n%s", diff)
	}
	if diff := cmp.Diff(m.EnvVars, got.EnvVars); diff != "" {
		t.Errorf("EnvVars diff:\n%s", diff)
	}

	// Canonical bytes: re-encoding the decoded manifest reproduces the blob.
	blob2, err := got.Encode()
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if diff := cmp.Diff(blob, blob2); diff != "" {
		t.Errorf("canonical round-trip diff:\n%s", diff)
	}
}

func TestDecode_BadMagic(t *testing.T) {
	m := buildManifest(t)
	blob, _ := m.Encode()
	blob[0] = 'X'

	res := Decode(blob)
	if !res.CriticalMissing || res.Err != "bad_magic" {
		t.Fatalf("res = %+v", res)
	}
}

func TestDecode_ShortHeader(t *testing.T) {
	res := Decode([]byte("NAHM"))
	if !res.CriticalMissing || res.Err != "header_too_small" {
		t.Fatalf("res = %+v", res)
	}
}

func TestDecode_CRCMismatch(t *testing.T) {
	m := buildManifest(t)
	blob, _ := m.Encode()
	blob[len(blob)-1] ^= 0xFF

	res := Decode(blob)
	if !res.CriticalMissing || res.Err != "crc_mismatch" {
		t.Fatalf("res = %+v", res)
	}
}

func TestDecode_TotalSizeMismatch(t *testing.T) {
	m := buildManifest(t)
	blob, _ := m.Encode()
	binary.LittleEndian.PutUint32(blob[8:12], uint32(len(blob)+5))

	res := Decode(blob)
	if res.CriticalMissing {
		t.Fatal("total_size mismatch must not be critical")
	}
	if len(res.Entries) != 0 {
		t.Errorf("entries = %v, want none", res.Entries)
	}
	found := false
	for _, r := range res.Reasons {
		if r == "total_size_mismatch" {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v", res.Reasons)
	}
}

func TestDecode_TagOrderViolationDropsEntry(t *testing.T) {
	// Hand-build a payload with a tag out of order: VERSION then ID.
	var raw []byte
	app := func(tag uint16, v string) {
		raw = binary.LittleEndian.AppendUint16(raw, tag)
		raw = binary.LittleEndian.AppendUint16(raw, uint16(len(v)))
		raw = append(raw, v...)
	}
	app(TagVersion, "1.0.0")
	app(TagID, "com.example.app")
	app(TagEntrypointPath, "run.sh")
	raw = binary.LittleEndian.AppendUint16(raw, TagEnd)
	raw = binary.LittleEndian.AppendUint16(raw, 0)

	var blob2 []byte
	blob2 = binary.LittleEndian.AppendUint32(blob2, Magic)
	blob2 = binary.LittleEndian.AppendUint16(blob2, FormatVersion)
	blob2 = binary.LittleEndian.AppendUint16(blob2, 0)
	blob2 = binary.LittleEndian.AppendUint32(blob2, uint32(HeaderSize+len(raw)))
	blob2 = binary.LittleEndian.AppendUint32(blob2, payloadCRC(raw))
	blob2 = append(blob2, raw...)

	res := Decode(blob2)
	if res.CriticalMissing {
		t.Fatalf("res = %+v", res)
	}
	if res.Manifest.ID != "" {
		t.Errorf("out-of-order ID should be dropped, got %q", res.Manifest.ID)
	}
	if res.Manifest.Version != "1.0.0" {
		t.Errorf("Version = %q", res.Manifest.Version)
	}
	hasOrder := false
	for _, r := range res.Reasons {
		if r == "tag_order" {
			hasOrder = true
		}
	}
	if !hasOrder {
		t.Errorf("reasons = %v", res.Reasons)
	}
}

func TestDecode_DuplicateNonRepeatable(t *testing.T) {
	var raw []byte
	app := func(tag uint16, v string) {
		raw = binary.LittleEndian.AppendUint16(raw, tag)
		raw = binary.LittleEndian.AppendUint16(raw, uint16(len(v)))
		raw = append(raw, v...)
	}
	app(TagID, "first.id")
	app(TagID, "second.id")
	app(TagVersion, "1.0.0")
	app(TagEntrypointPath, "run.sh")
	raw = binary.LittleEndian.AppendUint16(raw, TagEnd)
	raw = binary.LittleEndian.AppendUint16(raw, 0)

	var blob []byte
	blob = binary.LittleEndian.AppendUint32(blob, Magic)
	blob = binary.LittleEndian.AppendUint16(blob, FormatVersion)
	blob = binary.LittleEndian.AppendUint16(blob, 0)
	blob = binary.LittleEndian.AppendUint32(blob, uint32(HeaderSize+len(raw)))
	blob = binary.LittleEndian.AppendUint32(blob, payloadCRC(raw))
	blob = append(blob, raw...)

	res := Decode(blob)
	if res.Manifest.ID != "first.id" {
		t.Errorf("ID = %q, want first occurrence", res.Manifest.ID)
	}
	found := false
	for _, r := range res.Reasons {
		if r == "duplicate_nonrepeatable" {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v", res.Reasons)
	}
}

func TestDecode_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		tag   uint16
		value string
	}{
		{"absolute entrypoint", TagEntrypointPath, "/etc/passwd"},
		{"absolute lib dir", TagLibDir, "/usr/lib"},
		{"env without equals", TagEnvVar, "NOEQUALS"},
		{"env empty key", TagEnvVar, "=value"},
		{"asset export no path", TagAssetExport, "id"},
		{"asset export absolute", TagAssetExport, "id:/abs/path"},
		{"nul byte", TagDescription, "has\x00nul"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if validValue(tt.tag, tt.value) {
				t.Errorf("validValue(%d, %q) = true, want false", tt.tag, tt.value)
			}
		})
	}
}

func TestParseAssetExport(t *testing.T) {
	exp, ok := ParseAssetExport("icons:assets/icons:directory")
	if !ok || exp.ID != "icons" || exp.Path != "assets/icons" || exp.Type != "directory" {
		t.Errorf("exp = %+v, ok = %v", exp, ok)
	}
	exp, ok = ParseAssetExport("data:share/data")
	if !ok || exp.Type != "" {
		t.Errorf("exp = %+v, ok = %v", exp, ok)
	}
	for _, bad := range []string{"", "noseparator", ":path", "id:", "id:/abs"} {
		if _, ok := ParseAssetExport(bad); ok {
			t.Errorf("ParseAssetExport(%q) accepted", bad)
		}
	}
}

func TestParseInput_Validation(t *testing.T) {
	base := `
schema = "nah.manifest.input.v1"
[app]
id = "com.example.app"
version = "1.0.0"
entrypoint = "run.sh"
`
	if _, err := ParseInput(base); err != nil {
		t.Errorf("standalone manifest rejected: %v", err)
	}

	if _, err := ParseInput(strings.Replace(base, InputSchema, "wrong.schema", 1)); err == nil {
		t.Error("wrong schema accepted")
	}

	withNak := base + "\n"
	withNak = strings.Replace(withNak, `id = "com.example.app"`, "id = \"com.example.app\"\nnak_id = \"lua\"", 1)
	if _, err := ParseInput(withNak); err == nil {
		t.Error("nak_id without nak_version_req accepted")
	}
}

func TestDecode_StandaloneNeedsNoNakReq(t *testing.T) {
	m := &Manifest{ID: "a.b", Version: "1.0.0", EntrypointPath: "x"}
	blob, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	res := Decode(blob)
	if !res.OK {
		t.Fatalf("res = %+v", res)
	}
	if !res.Manifest.Standalone() {
		t.Error("expected standalone manifest")
	}
	for _, r := range res.Reasons {
		if r == "nak_version_req_missing" {
			t.Error("standalone manifest should not require nak_version_req")
		}
	}
}
