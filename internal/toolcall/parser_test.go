package toolcall

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseInputEmpty(t *testing.T) {
	assert.Nil(t, ParseInput(""))
	assert.Nil(t, ParseInput("   "))
}

func TestParseInputJSON(t *testing.T) {
	parsed := ParseInput(`{"owner": "octocat", "repo": "hello-world"}`)
	args, ok := parsed.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "octocat", args["owner"])
	assert.Equal(t, "hello-world", args["repo"])

	parsed = ParseInput(`["a", "b"]`)
	list, ok := parsed.([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"a", "b"}, list)
}

func TestParseInputFunctional(t *testing.T) {
	parsed := ParseInput("searchRepositories('react')")
	call, ok := parsed.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "searchRepositories", call["method"])
	assert.Equal(t, []interface{}{"react"}, call["args"])
}

func TestParseInputFunctionalMultipleArgs(t *testing.T) {
	parsed := ParseInput("getRepositoryContents('octocat', 'hello-world', 'src/main.go')")
	call, ok := parsed.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "getRepositoryContents", call["method"])
	assert.Equal(t, []interface{}{"octocat", "hello-world", "src/main.go"}, call["args"])
}

func TestParseInputFunctionalMultilineArg(t *testing.T) {
	parsed := ParseInput("createRepository('notes', 'line one\nline two')")
	call, ok := parsed.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "createRepository", call["method"])
	assert.Equal(t, []interface{}{"notes", "line one\nline two"}, call["args"])
}

func TestParseInputFunctionalJSONArg(t *testing.T) {
	parsed := ParseInput(`createRepository('my-repo', {"private": true})`)
	call, ok := parsed.(map[string]interface{})
	require.True(t, ok)

	args, ok := call["args"].([]interface{})
	require.True(t, ok)
	require.Len(t, args, 2)
	assert.Equal(t, "my-repo", args[0])

	opts, ok := args[1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, opts["private"])
}

func TestParseInputFunctionalNumericArgs(t *testing.T) {
	parsed := ParseInput("listRepositories(50, true)")
	call, ok := parsed.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{float64(50), true}, call["args"])
}

func TestParseInputBareMethod(t *testing.T) {
	parsed := ParseInput("getUser")
	call, ok := parsed.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "getUser", call["method"])
	assert.NotContains(t, call, "args")
}

func TestParseInputEmptyArgList(t *testing.T) {
	parsed := ParseInput("getUser()")
	call, ok := parsed.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "getUser", call["method"])
	assert.Equal(t, []interface{}{}, call["args"])
}

func TestParseInputRawFallthrough(t *testing.T) {
	assert.Equal(t, "just some words", ParseInput("just some words"))
	// Malformed JSON degrades to the raw string, never an error.
	assert.Equal(t, `{"unclosed": `, ParseInput(`{"unclosed": `))
}

// Functional calls with arbitrary quoted string arguments always round-trip
// through the parser.
func TestParseInputFunctionalRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		method := rapid.StringMatching(`[A-Za-z_][A-Za-z0-9_]{0,15}`).Draw(t, "method")
		count := rapid.IntRange(0, 4).Draw(t, "count")

		args := make([]string, count)
		for i := range args {
			args[i] = rapid.StringMatching(`[^'"\\(),]{1,12}`).Draw(t, fmt.Sprintf("arg%d", i))
		}

		quoted := make([]string, count)
		for i, arg := range args {
			quoted[i] = "'" + arg + "'"
		}
		input := fmt.Sprintf("%s(%s)", method, strings.Join(quoted, ", "))

		parsed := ParseInput(input)
		call, ok := parsed.(map[string]interface{})
		require.True(t, ok, "input %q must parse as a functional call", input)
		require.Equal(t, method, call["method"])

		got, ok := call["args"].([]interface{})
		require.True(t, ok)
		require.Len(t, got, count)
		for i, arg := range args {
			require.Equal(t, arg, got[i])
		}
	})
}
