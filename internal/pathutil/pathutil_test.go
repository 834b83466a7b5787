package pathutil

import "testing"

func TestNormalizeUnderRoot(t *testing.T) {
	tests := []struct {
		name          string
		root          string
		candidate     string
		allowAbsolute bool
		wantOK        bool
		wantPath      string
		wantErr       Error
	}{
		{"simple", "/apps/a", "main.lua", false, true, "/apps/a/main.lua", ErrNone},
		{"nested", "/apps/a", "bin/tool", false, true, "/apps/a/bin/tool", ErrNone},
		{"dot segments", "/apps/a", "./lib/./x", false, true, "/apps/a/lib/x", ErrNone},
		{"dotdot folds", "/apps/a", "lib/../bin/tool", false, true, "/apps/a/bin/tool", ErrNone},
		{"empty segments", "/apps/a", "lib//x", false, true, "/apps/a/lib/x", ErrNone},
		{"escape", "/apps/a", "../../etc/passwd", false, false, "", ErrEscapesRoot},
		{"escape after descent", "/apps/a", "lib/../../x", false, false, "", ErrEscapesRoot},
		{"absolute rejected", "/apps/a", "/etc/passwd", false, false, "", ErrAbsoluteNotAllowed},
		{"absolute allowed", "/apps/a", "/bin/x", true, true, "/apps/a/bin/x", ErrNone},
		{"nul in candidate", "/apps/a", "bad\x00name", false, false, "", ErrContainsNul},
		{"nul in root", "/ap\x00ps", "x", false, false, "", ErrContainsNul},
		{"backslashes normalized", "/apps/a", `lib\x`, false, true, "/apps/a/lib/x", ErrNone},
		{"empty candidate", "/apps/a", "", false, true, "/apps/a", ErrNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeUnderRoot(tt.root, tt.candidate, tt.allowAbsolute)
			if got.OK != tt.wantOK || got.Err != tt.wantErr {
				t.Fatalf("NormalizeUnderRoot(%q, %q, %v) = {%v %q %v}, want ok=%v err=%v",
					tt.root, tt.candidate, tt.allowAbsolute, got.OK, got.Path, got.Err, tt.wantOK, tt.wantErr)
			}
			if got.OK && got.Path != tt.wantPath {
				t.Errorf("path = %q, want %q", got.Path, tt.wantPath)
			}
		})
	}
}

func TestIsAbsolute(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"/usr/bin", true},
		{`\windows`, true},
		{"C:/nah", true},
		{"c:\\nah", true},
		{"relative/path", false},
		{"", false},
		{"x:y", false}, // drive-relative, not absolute
	}
	for _, tt := range tests {
		if got := IsAbsolute(tt.in); got != tt.want {
			t.Errorf("IsAbsolute(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsUnderRoot(t *testing.T) {
	tests := []struct {
		root, path string
		want       bool
	}{
		{"/nah/naks/lua", "/nah/naks/lua/bin/lua", true},
		{"/nah/naks/lua", "/nah/naks/lua", true},
		{"/nah/naks/lua/", "/nah/naks/lua/lib", true},
		{"/nah/naks/lua", "/nah/naks/luajit/bin", false},
		{"/nah/naks/lua", "/etc/passwd", false},
		{"/nah", "/nah/./apps/x", true},
		{"/nah", "relative/path", false},
	}
	for _, tt := range tests {
		if got := IsUnderRoot(tt.root, tt.path); got != tt.want {
			t.Errorf("IsUnderRoot(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}
