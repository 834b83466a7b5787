package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nah-dev/nah/internal/record"
	"github.com/nah-dev/nah/internal/warnings"
)

func TestCompose_ProcessEnvironmentOverride(t *testing.T) {
	in := baseInputs(t)
	in.ProcessEnv = map[string]string{
		"NAH_OVERRIDE_ENVIRONMENT": `{"DEBUG": "1", "MODE": "test"}`,
		"UNRELATED":                "x",
	}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.Equal(t, "1", env.Contract.Environment["DEBUG"])
	assert.Equal(t, "test", env.Contract.Environment["MODE"])
	assert.NotContains(t, env.Contract.Environment, "UNRELATED")
}

func TestCompose_ProcessWarningOverride(t *testing.T) {
	in := baseInputs(t)
	in.Inventory = Inventory{}
	in.ProcessEnv = map[string]string{
		"NAH_OVERRIDE_WARNINGS_NAK_NOT_FOUND": "ignore",
	}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.False(t, hasWarning(env, warnings.NakNotFound),
		"ignore override should drop the warning from the envelope")
}

func TestCompose_WarningOverrideToError(t *testing.T) {
	in := baseInputs(t)
	in.Inventory = Inventory{}
	in.ProcessEnv = map[string]string{
		"NAH_OVERRIDE_WARNINGS_NAK_NOT_FOUND": "error",
	}

	env := Compose(in)

	require.False(t, env.Failed())
	for _, w := range env.Warnings {
		if w.Key == warnings.NakNotFound {
			assert.Equal(t, warnings.ActionError, w.Action)
			return
		}
	}
	t.Fatal("nak_not_found not present")
}

func TestCompose_OverrideDeniedByProfile(t *testing.T) {
	in := baseInputs(t)
	profile := record.BuiltinEmptyProfile()
	profile.Overrides.Mode = record.OverrideDeny
	in.Profile = profile
	in.ProcessEnv = map[string]string{
		"NAH_OVERRIDE_ENVIRONMENT": `{"DEBUG": "1"}`,
	}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.NotContains(t, env.Contract.Environment, "DEBUG")
	assert.True(t, hasWarning(env, warnings.OverrideDenied))
}

func TestCompose_OverrideAllowlist(t *testing.T) {
	in := baseInputs(t)
	in.Inventory = Inventory{}
	profile := record.BuiltinEmptyProfile()
	profile.Overrides.Mode = record.OverrideAllowlist
	profile.Overrides.AllowKeys = []string{"WARNINGS_*"}
	in.Profile = profile
	in.ProcessEnv = map[string]string{
		"NAH_OVERRIDE_ENVIRONMENT":            `{"DEBUG": "1"}`,
		"NAH_OVERRIDE_WARNINGS_NAK_NOT_FOUND": "ignore",
	}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.NotContains(t, env.Contract.Environment, "DEBUG", "ENVIRONMENT not on allowlist")
	assert.True(t, hasWarning(env, warnings.OverrideDenied))
	assert.False(t, hasWarning(env, warnings.NakNotFound), "WARNINGS_* allowlisted")
}

func TestCompose_MalformedEnvironmentOverride(t *testing.T) {
	in := baseInputs(t)
	in.ProcessEnv = map[string]string{
		"NAH_OVERRIDE_ENVIRONMENT": `not json`,
	}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.True(t, hasWarning(env, warnings.OverrideInvalid))
}

func TestCompose_UnknownOverrideTargetDenied(t *testing.T) {
	in := baseInputs(t)
	in.ProcessEnv = map[string]string{
		"NAH_OVERRIDE_BINARY": "/bin/sh",
	}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.True(t, hasWarning(env, warnings.OverrideDenied))
}

func TestCompose_UnknownWarningKeyOverride(t *testing.T) {
	in := baseInputs(t)
	in.ProcessEnv = map[string]string{
		"NAH_OVERRIDE_WARNINGS_NOT_A_KEY": "ignore",
	}

	env := Compose(in)

	require.False(t, env.Failed())
	assert.True(t, hasWarning(env, warnings.OverrideInvalid))
}

func TestCompose_OverridesFile(t *testing.T) {
	in := baseInputs(t)
	in.Inventory = Inventory{}
	in.HasOverridesFile = true
	in.OverridesFilePath = "/tmp/overrides.json"
	in.OverridesFileContent = `{
	  "environment": {"EXTRA": "from-file"},
	  "warnings": {"nak_not_found": "ignore"}
	}`

	env := Compose(in)

	require.False(t, env.Failed())
	assert.Equal(t, "from-file", env.Contract.Environment["EXTRA"])
	assert.False(t, hasWarning(env, warnings.NakNotFound))
}

func TestCompose_OverridesFileBadShape(t *testing.T) {
	in := baseInputs(t)
	in.HasOverridesFile = true
	in.OverridesFilePath = "/tmp/overrides.json"
	in.OverridesFileContent = `{"environment": {"X": "1"}, "unexpected": {}}`

	env := Compose(in)

	require.False(t, env.Failed())
	assert.True(t, hasWarning(env, warnings.OverrideInvalid))
	assert.NotContains(t, env.Contract.Environment, "X")
}

func TestCompose_FileOverrideBeatsProcessOverride(t *testing.T) {
	in := baseInputs(t)
	in.ProcessEnv = map[string]string{
		"NAH_OVERRIDE_ENVIRONMENT": `{"LAYER": "process"}`,
	}
	in.HasOverridesFile = true
	in.OverridesFilePath = "/tmp/overrides.json"
	in.OverridesFileContent = `{"environment": {"LAYER": "file"}}`

	env := Compose(in)

	require.False(t, env.Failed())
	assert.Equal(t, "file", env.Contract.Environment["LAYER"], "rank 7 applies after rank 6")
}

func TestParseOverridesFile(t *testing.T) {
	ovr, errReason := parseOverridesFile(`{"environment": {"A": "1"}, "warnings": {"nak_not_found": "error"}}`)
	require.Empty(t, errReason)
	assert.Equal(t, "1", ovr.Environment["A"])
	assert.Equal(t, "error", ovr.Warnings["nak_not_found"])

	_, errReason = parseOverridesFile(`[1,2,3]`)
	assert.Equal(t, "parse_failure", errReason)

	_, errReason = parseOverridesFile(`{"environment": "not an object"}`)
	assert.Equal(t, "invalid_shape", errReason)

	_, errReason = parseOverridesFile(`{"other": {}}`)
	assert.Equal(t, "invalid_shape", errReason)
}
