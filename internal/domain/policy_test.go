package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, path string) ResizeRequest {
	t.Helper()
	req, err := ParsePath(path, "")
	require.NoError(t, err)
	return req
}

func TestPolicyValidateAcceptsKnownFits(t *testing.T) {
	p := DefaultPolicy()
	for _, fit := range Fits {
		assert.Nil(t, p.Validate(mustParse(t, "300x200_"+string(fit)+"/photo.jpg")), fit)
	}
	assert.Nil(t, p.Validate(mustParse(t, "300x200/photo.jpg")))
}

func TestPolicyValidateUnknownFitListsModes(t *testing.T) {
	rej := DefaultPolicy().Validate(mustParse(t, "300x200_zoom/photo.jpg"))
	require.NotNil(t, rej)

	assert.Equal(t, RejectUnknownFit, rej.Kind)
	assert.Contains(t, rej.Detail, `"zoom"`)
	for _, fit := range Fits {
		assert.Contains(t, rej.Detail, string(fit))
	}
}

func TestPolicyValidateRejectsTrailingFitSegments(t *testing.T) {
	rej := DefaultPolicy().Validate(mustParse(t, "300x200_cover_x/photo.jpg"))
	require.NotNil(t, rej)
	assert.Equal(t, RejectUnknownFit, rej.Kind)
	assert.Contains(t, rej.Detail, `"cover_x"`)
}

func TestPolicyValidateWhitelistHidesAllowedSizes(t *testing.T) {
	p := DefaultPolicy()
	p.Whitelist = ParseWhitelist("300x200")

	rej := p.Validate(mustParse(t, "400x400/photo.jpg"))
	require.NotNil(t, rej)
	assert.Equal(t, RejectDimensionNotWhitelisted, rej.Kind)
	assert.Contains(t, rej.Detail, "400x400")
	assert.NotContains(t, rej.Detail, "300x200")

	assert.Nil(t, p.Validate(mustParse(t, "300x200/photo.jpg")))
}

func TestPolicyValidateWhitelistRunsBeforeFit(t *testing.T) {
	p := DefaultPolicy()
	p.Whitelist = ParseWhitelist("300x200")

	rej := p.Validate(mustParse(t, "400x400_zoom/photo.jpg"))
	require.NotNil(t, rej)
	assert.Equal(t, RejectDimensionNotWhitelisted, rej.Kind)
}

func TestPolicyWhitelistMatchesRawToken(t *testing.T) {
	p := DefaultPolicy()
	p.Whitelist = ParseWhitelist("  300x200   autox100 ")
	assert.Len(t, p.Whitelist, 2)

	assert.Nil(t, p.Validate(mustParse(t, "autox100_inside/photo.jpg")))
	assert.NotNil(t, p.Validate(mustParse(t, "100xauto/photo.jpg")))
}

func TestParseWhitelistBlankDisables(t *testing.T) {
	assert.Nil(t, ParseWhitelist(""))
	assert.Nil(t, ParseWhitelist("   "))
}

func TestPolicyPassThrough(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.IsPassThrough("image/bmp"))
	assert.True(t, p.IsPassThrough("IMAGE/BMP"))
	assert.False(t, p.IsPassThrough("image/jpeg"))
}

func TestOriginAllowedTypesExtendDirectSet(t *testing.T) {
	assert.False(t, HasType(DefaultAllowedTypes, "application/octet-stream"))
	assert.True(t, HasType(DefaultOriginAllowedTypes, "application/octet-stream"))
	assert.True(t, HasType(DefaultOriginAllowedTypes, "binary/octet-stream"))
	for _, typ := range DefaultAllowedTypes {
		assert.True(t, HasType(DefaultOriginAllowedTypes, typ))
	}
}
