package tools

import (
	"reflect"
	"regexp"
	"testing"
)

func TestBuildArgv(t *testing.T) {
	yes, no := true, false
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"pattern": map[string]any{"type": "string"},
			"count":   map[string]any{"type": "number"},
		},
	}

	tests := []struct {
		name       string
		args       []string
		values     map[string]any
		resolved   map[string]string
		doubleDash *bool
		want       []string
		wantErr    bool
	}{
		{
			name:     "dash before path",
			args:     []string{"-la", "{{path}}"},
			values:   map[string]any{"path": "x"},
			resolved: map[string]string{"path": "/b/x"},
			want:     []string{"-la", "--", "/b/x"},
		},
		{
			name:     "template already ends options",
			args:     []string{"--", "{{path}}"},
			values:   map[string]any{"path": "x"},
			resolved: map[string]string{"path": "/b/x"},
			want:     []string{"--", "/b/x"},
		},
		{
			name:     "dash goes before the first path element only",
			args:     []string{"{{pattern}}", "{{path}}"},
			values:   map[string]any{"pattern": "foo", "path": "x"},
			resolved: map[string]string{"path": "/b/x"},
			want:     []string{"foo", "--", "/b/x"},
		},
		{
			name:     "absent optional placeholder dropped",
			args:     []string{"-n", "{{count}}", "{{path}}"},
			values:   map[string]any{"path": "x"},
			resolved: map[string]string{"path": "/b/x"},
			want:     []string{"-n", "--", "/b/x"},
		},
		{
			name:   "absent value inside a larger element",
			args:   []string{"--limit={{count}}"},
			values: map[string]any{},
			want:   []string{"--limit="},
		},
		{
			name:   "number value",
			args:   []string{"-n", "{{ count }}"},
			values: map[string]any{"count": float64(3)},
			want:   []string{"-n", "3"},
		},
		{
			name:       "double dash disabled",
			args:       []string{"{{path}}"},
			values:     map[string]any{"path": "x"},
			resolved:   map[string]string{"path": "/b/x"},
			doubleDash: &no,
			want:       []string{"/b/x"},
		},
		{
			name:       "double dash forced without a path",
			args:       []string{"-i", "{{pattern}}"},
			values:     map[string]any{"pattern": "foo"},
			doubleDash: &yes,
			want:       []string{"-i", "--", "foo"},
		},
		{
			name:    "unknown placeholder",
			args:    []string{"{{nope}}"},
			values:  map[string]any{},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inv := &Invocation{
				Spec:          &ToolSpec{Args: tc.args, Schema: schema, InsertDoubleDash: tc.doubleDash},
				Args:          tc.values,
				ResolvedPaths: tc.resolved,
			}
			got, err := buildArgv(inv)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("buildArgv = %q, want error", got)
				}
				if typ := toolErrorType(t, err); typ != ErrInvalidParams {
					t.Fatalf("error type = %s, want INVALID_PARAMS", typ)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildArgv: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("buildArgv = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCheckValue(t *testing.T) {
	lower := Validation{Kind: ValidateString, Allow: []*regexp.Regexp{regexp.MustCompile(`^[a-z]+$`)}}
	noStar := Validation{Kind: ValidateString, Deny: []*regexp.Regexp{regexp.MustCompile(`\*`)}}
	number := Validation{Kind: ValidateNumber}

	tests := []struct {
		name  string
		value string
		v     Validation
		ok    bool
	}{
		{"allowed", "abc", lower, true},
		{"not allowed", "ABC", lower, false},
		{"denied", "a*", noStar, false},
		{"not denied", "ab", noStar, true},
		{"number", "42.5", number, true},
		{"not a number", "4two", number, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := checkValue("arg", tc.value, tc.v)
			if tc.ok && err != nil {
				t.Fatalf("checkValue(%q): %v", tc.value, err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("checkValue(%q) succeeded, want error", tc.value)
			}
		})
	}
}

func TestStdinPayload_UsesResolvedPaths(t *testing.T) {
	inv := &Invocation{
		Args:          map[string]any{"path": "notes.txt", "n": float64(2)},
		ResolvedPaths: map[string]string{"path": "/base/notes.txt"},
	}
	got, err := stdinPayload(inv)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"n":2,"path":"/base/notes.txt"}` {
		t.Errorf("stdinPayload = %s", got)
	}
	if inv.Args["path"] != "notes.txt" {
		t.Error("stdinPayload modified the original arguments")
	}
}
