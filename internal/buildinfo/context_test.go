package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextVersion(t *testing.T) {
	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{name: "nil context", ctx: nil, want: UnknownValue},
		{name: "empty version", ctx: NewContext("", "2026-01-01"), want: UnknownValue},
		{name: "release", ctx: NewContext("1.2.0", "2026-01-01"), want: "1.2.0"},
		{name: "pre-release", ctx: NewContext("1.2.0-rc.1", ""), want: "1.2.0-rc.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ctx.Version())
		})
	}
}

func TestContextBuildDateAndRelease(t *testing.T) {
	var nilCtx *Context
	assert.Equal(t, UnknownValue, nilCtx.BuildDate())
	assert.Equal(t, "dermascan@unknown", nilCtx.Release())

	ctx := NewContext("1.2.0", "2026-03-04T10:00:00Z")
	assert.Equal(t, "2026-03-04T10:00:00Z", ctx.BuildDate())
	assert.Equal(t, "dermascan@1.2.0", ctx.Release())
	assert.Equal(t, "dermascan 1.2.0 (built 2026-03-04T10:00:00Z)", ctx.String())
}
