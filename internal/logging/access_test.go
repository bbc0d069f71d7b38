package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	ts := time.Date(2023, time.October, 10, 13, 55, 36, 0, time.FixedZone("", -7*3600))
	return Record{
		ClientAddr:   "203.0.113.9",
		RequestLine:  "GET /foo HTTP/1.1",
		Status:       200,
		ResponseSize: 1234,
		User:         "alice",
		Service:      "svc1",
		Backend:      "127.0.0.1:9001",
		Duration:     125 * time.Millisecond,
		Timestamp:    ts,
		Header: func(name string) (string, bool) {
			switch name {
			case "Host":
				return "example.com", true
			case "Referer":
				return "", false
			}
			return "", false
		},
	}
}

func TestCompile_RegularFormat(t *testing.T) {
	f, err := Compile(CannedFormats["regular"])
	require.NoError(t, err)
	out := f.Render(sampleRecord())
	assert.Equal(t, `203.0.113.9 alice [10/Oct/2023:13:55:36 -0700] "GET /foo HTTP/1.1" 200 1234`, out)
}

func TestCompile_NamedHeaderTokens(t *testing.T) {
	f, err := Compile(`%{Host}i %{Host}I %{Missing}i %{Missing}I`)
	require.NoError(t, err)
	assert.Equal(t, "example.com example.com  -", f.Render(sampleRecord()))
}

func TestCompile_ServiceBackendDuration(t *testing.T) {
	f, err := Compile(`%{service}N %{backend}N %{f}T`)
	require.NoError(t, err)
	assert.Equal(t, "svc1 127.0.0.1:9001 0.125", f.Render(sampleRecord()))
}

func TestCompile_FinalStatusToken(t *testing.T) {
	f, err := Compile(`%>s/%s`)
	require.NoError(t, err)
	assert.Equal(t, "200/200", f.Render(sampleRecord()))
}

func TestCompile_EmptyFormatRendersEmptyString(t *testing.T) {
	f, err := Compile("")
	require.NoError(t, err)
	assert.Empty(t, f.Render(sampleRecord()))
}

func TestCompile_RejectsUnknownVerb(t *testing.T) {
	_, err := Compile("%z")
	assert.Error(t, err)
}

func TestCompile_RejectsUnterminatedBrace(t *testing.T) {
	_, err := Compile("%{Host")
	assert.Error(t, err)
}

func TestCompile_RejectsBareGreaterThan(t *testing.T) {
	_, err := Compile("%>b")
	assert.Error(t, err)
}

func TestCompile_LiteralPercent(t *testing.T) {
	f, err := Compile("100%%")
	require.NoError(t, err)
	assert.Equal(t, "100%", f.Render(sampleRecord()))
}

func TestFormatForLevel_MapsCannedNamesInOrder(t *testing.T) {
	assert.Equal(t, CannedFormats["null"], FormatForLevel(0))
	assert.Equal(t, CannedFormats["regular"], FormatForLevel(1))
	assert.Equal(t, CannedFormats["detailed"], FormatForLevel(5))
	assert.Equal(t, CannedFormats["detailed"], FormatForLevel(99))
	assert.Equal(t, CannedFormats["null"], FormatForLevel(-1))
}

func TestFormat_NilRendersEmpty(t *testing.T) {
	var f *Format
	assert.Empty(t, f.Render(sampleRecord()))
}
