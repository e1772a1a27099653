package model

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJSON(t *testing.T) {
	assert.Equal(t, `{"raw":"not json"}`, EncodeJSON([]byte("not json")))
	assert.Equal(t, `{"a":1}`, EncodeJSON([]byte(`{"a":1}`)))
	assert.Equal(t, "{}", EncodeJSON(nil))
	assert.Equal(t, "{}", EncodeJSON([]byte("   ")))
	assert.Equal(t, `[1,2]`, EncodeJSON([]byte(`[1,2]`)))
	assert.Equal(t, `{"raw":"{\"a\":"}`, EncodeJSON([]byte(`{"a":`)))
}

func TestDescribeHTTPStatus(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Equal(t, "OK", DescribeHTTPStatus(200))
	}
	assert.Equal(t, "999", DescribeHTTPStatus(999))
	assert.Equal(t, "UnprocessableEntity", DescribeHTTPStatus(422))
	assert.Equal(t, "GatewayTimeout", DescribeHTTPStatus(504))
	assert.Equal(t, "NoContent", DescribeHTTPStatus(204))
}

func TestJobStatus(t *testing.T) {
	cases := []struct {
		code    int
		desc    string
		isError bool
	}{
		{JobSuccess, "Success", false},
		{JobFailed, "Failed", true},
		{JobCancelled, "Cancelled", true},
		{JobTimeout, "Timeout", true},
		{JobPartialSuccess, "PartialSuccess", false},
		{42, "42", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.desc, DescribeJobStatus(tc.code))
		assert.Equal(t, tc.isError, IsJobError(tc.code), "code %d", tc.code)
	}
}

func TestParseCategory(t *testing.T) {
	for _, c := range Categories() {
		parsed, err := ParseCategory(string(c))
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	_, err := ParseCategory("Cron")
	assert.Error(t, err)
	_, err = ParseCategory("http")
	assert.Error(t, err, "categories are case sensitive")
}

func TestTruncated(t *testing.T) {
	long := strings.Repeat("x", 600)
	ip := strings.Repeat("1", 80)
	rec := AuditRecord{
		TraceID:   long,
		Operation: long,
		IPAddress: &ip,
	}
	out := rec.Truncated()
	assert.Len(t, out.TraceID, MaxTraceIDLen)
	assert.Len(t, out.Operation, MaxOperationLen)
	require.NotNil(t, out.IPAddress)
	assert.Len(t, *out.IPAddress, MaxIPAddressLen)
	assert.Len(t, rec.Operation, 600, "receiver must not change")
	assert.Len(t, *rec.IPAddress, 80)
	assert.Nil(t, out.UserID)
}

func TestTruncatedKeepsWholeCharacters(t *testing.T) {
	op := "/" + strings.Repeat("é", 600)
	user := strings.Repeat("用户", 80)
	rec := AuditRecord{Operation: op, UserID: &user}

	out := rec.Truncated()
	assert.True(t, utf8.ValidString(out.Operation))
	assert.Equal(t, MaxOperationLen, utf8.RuneCountInString(out.Operation))
	assert.True(t, strings.HasPrefix(op, out.Operation))
	require.NotNil(t, out.UserID)
	assert.True(t, utf8.ValidString(*out.UserID))
	assert.Equal(t, MaxUserIDLen, utf8.RuneCountInString(*out.UserID))

	short := "é" + strings.Repeat("x", 10)
	assert.Equal(t, short, AuditRecord{Operation: short}.Truncated().Operation)
}

func TestTruncatedRepairsInvalidUTF8(t *testing.T) {
	bad := "ab\xffcd"
	out := AuditRecord{Operation: bad, Method: &bad}.Truncated()
	assert.Equal(t, "ab\uFFFDcd", out.Operation)
	require.NotNil(t, out.Method)
	assert.True(t, utf8.ValidString(*out.Method))
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	require.NotNil(t, StringPtr("x"))
	assert.Equal(t, "x", *StringPtr("x"))
}
