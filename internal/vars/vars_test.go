package vars

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected map[string]interface{}
		wantErr  bool
	}{
		{
			name:     "json",
			input:    `{"title": "Hi", "count": 3, "tags": ["a", "b"]}`,
			expected: map[string]interface{}{"title": "Hi", "count": 3, "tags": []interface{}{"a", "b"}},
		},
		{
			name:     "yaml",
			input:    "title: Hi\nuser:\n  admin: true\n",
			expected: map[string]interface{}{"title": "Hi", "user": map[string]interface{}{"admin": true}},
		},
		{
			name:     "non-string keys",
			input:    "codes:\n  200: ok\n",
			expected: map[string]interface{}{"codes": map[string]interface{}{"200": "ok"}},
		},
		{
			name:     "empty",
			input:    "",
			expected: map[string]interface{}{},
		},
		{
			name:    "not a mapping",
			input:   "- a\n- b\n",
			wantErr: true,
		},
		{
			name:    "malformed",
			input:   `{"title": `,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse([]byte(tc.input))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestParseRejectsOversizedInput(t *testing.T) {
	_, err := Parse([]byte(strings.Repeat("a", MaxSize+1)))
	assert.ErrorContains(t, err, "too large")
}

func TestLoadFileAndArgument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vars.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "Ada"}`), 0644))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got["name"])

	got, err = Argument("@" + path)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got["name"])

	got, err = Argument(path)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got["name"])

	got, err = Argument(`{"inline": 1}`)
	require.NoError(t, err)
	assert.Equal(t, 1, got["inline"])

	got, err = Argument("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestDataFileFor(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(page, []byte("x"), 0644))

	assert.Empty(t, DataFileFor(page))

	jsonPath := filepath.Join(dir, "page.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}"), 0644))
	assert.Equal(t, jsonPath, DataFileFor(page))

	ymlPath := filepath.Join(dir, "page.yml")
	require.NoError(t, os.WriteFile(ymlPath, []byte("a: 1"), 0644))
	assert.Equal(t, ymlPath, DataFileFor(page), "yml takes precedence")
}

func TestParseAssignments(t *testing.T) {
	got, err := ParseAssignments([]string{
		"title=Hello world",
		"count=3",
		"admin=true",
		"user.name=Ada",
		"user.role=owner",
		"empty=",
		"list=[1,2]",
		"nothing=null",
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello world", got["title"])
	assert.Equal(t, 3, got["count"])
	assert.Equal(t, true, got["admin"])
	assert.Equal(t, map[string]interface{}{"name": "Ada", "role": "owner"}, got["user"])
	assert.Equal(t, "", got["empty"])
	assert.Equal(t, "[1,2]", got["list"], "collections stay literal strings")
	assert.Nil(t, got["nothing"])
	assert.Contains(t, got, "nothing")
}

func TestParseAssignmentsErrors(t *testing.T) {
	for _, input := range []string{"novalue", "=x", "a..b=1", "a=1"} {
		t.Run(input, func(t *testing.T) {
			assignments := []string{input}
			if input == "a=1" {
				assignments = append(assignments, "a.b=2")
			}
			_, err := ParseAssignments(assignments)
			assert.Error(t, err)
		})
	}
}

func TestMerge(t *testing.T) {
	dst := map[string]interface{}{
		"title": "file",
		"user":  map[string]interface{}{"name": "Ada", "role": "viewer"},
	}
	src := map[string]interface{}{
		"user":  map[string]interface{}{"role": "owner"},
		"extra": 1,
	}

	got := Merge(dst, src)
	assert.Equal(t, map[string]interface{}{
		"title": "file",
		"user":  map[string]interface{}{"name": "Ada", "role": "owner"},
		"extra": 1,
	}, got)

	assert.Equal(t, src, Merge(nil, src))
}
