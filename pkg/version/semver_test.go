package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsed(t *testing.T) {
	tests := []struct {
		version string
		wantOK  bool
	}{
		{"v1.2.3", true},
		{"1.2.3", true},
		{"v1.0.0-beta.1", true},
		{"dev", false},
		{"unknown", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			resetParsedVersion()
			Version = tt.version

			v := Parsed()
			if tt.wantOK {
				assert.NotNil(t, v)
			} else {
				assert.Nil(t, v)
			}
		})
	}
}

func TestIsPrerelease(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"v1.0.0", false},
		{"v1.0.0-beta.1", true},
		{"v1.0.0-rc.2", true},
		{"v1.0.0+build123", false},
		{"dev", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			resetParsedVersion()
			Version = tt.version

			assert.Equal(t, tt.want, IsPrerelease())
		})
	}
}

func TestIsDevBuild(t *testing.T) {
	resetParsedVersion()
	Version = "dev"
	assert.True(t, IsDevBuild())

	resetParsedVersion()
	Version = "v1.0.0"
	assert.False(t, IsDevBuild())
}
