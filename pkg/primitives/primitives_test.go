package primitives

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values(t *testing.T, cands []Candidate) []string {
	t.Helper()
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Value()
	}
	return out
}

func TestCandidatesOrder(t *testing.T) {
	pool := NewPool(nil)

	cands, err := pool.Candidates(FuzzableValue{Kind: KindString, Examples: []string{"ex"}, Default: "def"}, "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"ex", "fuzzstring"}, values(t, cands))

	cands, err = pool.Candidates(FuzzableValue{Kind: KindInt, Quoted: true}, "r")
	require.NoError(t, err)
	assert.Equal(t, []string{`"0"`, `"1"`}, values(t, cands))
}

func TestCandidatesDefaultFallback(t *testing.T) {
	pool := NewPool(&Dictionary{Values: *newValues()})

	cands, err := pool.Candidates(FuzzableValue{Kind: KindString, Default: "def"}, "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"def"}, values(t, cands))

	_, err = pool.Candidates(FuzzableValue{Kind: KindString}, "r")
	var cve *CandidateValueError
	require.True(t, errors.As(err, &cve))
	assert.Equal(t, KindString, cve.Kind)
	assert.Equal(t, "r", cve.RequestID)
}

func TestCandidatesStaticAndReader(t *testing.T) {
	pool := NewPool(nil)

	cands, err := pool.Candidates(StaticString{Text: "abc", Quoted: true}, "r")
	require.NoError(t, err)
	assert.Equal(t, []string{`"abc"`}, values(t, cands))

	cands, err = pool.Candidates(Reader("cityName"), "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"_READER_DELIMcityName_READER_DELIM"}, values(t, cands))
}

func TestCandidatesEnum(t *testing.T) {
	pool := NewPool(nil)
	cands, err := pool.Candidates(FuzzableValue{Kind: KindGroup, EnumValues: []string{"a", "b", "c"}}, "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, values(t, cands))
}

func TestCandidatesUUID4IsGenerated(t *testing.T) {
	pool := NewPool(nil)
	cands, err := pool.Candidates(FuzzableValue{Kind: KindUUID4}, "r")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.True(t, cands[0].IsGenerated())
	assert.NotEqual(t, cands[0].Value(), cands[0].Value())
}

func TestLoadDictionary(t *testing.T) {
	doc := `{
		"restler_fuzzable_string": ["a", "b"],
		"restler_custom_payload": {"city": ["seattle"]},
		"restler_custom_payload_uuid4_suffix": {"name": "city-"},
		"per_request": {
			"put_city": {"restler_fuzzable_string": ["override"]}
		}
	}`
	d, err := LoadDictionary(strings.NewReader(doc))
	require.NoError(t, err)
	pool := NewPool(d)

	cands, err := pool.Candidates(FuzzableValue{Kind: KindString}, "get_city")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, values(t, cands))

	cands, err = pool.Candidates(FuzzableValue{Kind: KindString}, "put_city")
	require.NoError(t, err)
	assert.Equal(t, []string{"override"}, values(t, cands))

	cands, err = pool.Candidates(CustomPayload{Kind: KindCustomPayload, Tag: "city", Quoted: true}, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{`"seattle"`}, values(t, cands))

	cands, err = pool.Candidates(CustomPayload{Kind: KindCustomUUID4Suffix, Tag: "name"}, "x")
	require.NoError(t, err)
	v := cands[0].Value()
	assert.True(t, strings.HasPrefix(v, "city-"))
	assert.Len(t, v, len("city-")+10)

	_, err = pool.Candidates(CustomPayload{Kind: KindCustomPayload, Tag: "missing"}, "x")
	var cve *CandidateValueError
	assert.True(t, errors.As(err, &cve))
}

func TestLoadDictionaryUnknownKey(t *testing.T) {
	_, err := LoadDictionary(strings.NewReader(`{"fuzzable_string": []}`))
	assert.Error(t, err)
}

func TestAuthToken(t *testing.T) {
	pool := NewPool(nil)
	cands, err := pool.Candidates(RefreshableAuthToken{}, "r")
	require.NoError(t, err)
	assert.Equal(t, "", cands[0].Value())

	pool.SetAuthToken("Authorization: Bearer abc")
	cands, err = pool.Candidates(RefreshableAuthToken{}, "r")
	require.NoError(t, err)
	assert.Equal(t, "Authorization: Bearer abc\r\n", cands[0].Value())
}
