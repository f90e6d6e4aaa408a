package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Version(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{name: "nil context", ctx: nil, want: UnknownValue},
		{name: "empty version", ctx: NewContext("", "2026-01-01"), want: UnknownValue},
		{name: "valid version", ctx: NewContext("1.0.0", "2026-01-01"), want: "1.0.0"},
		{name: "pre-release tag", ctx: NewContext("1.0.0-beta.1", ""), want: "1.0.0-beta.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.Version())
		})
	}
}

func TestContext_BuildDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{name: "nil context", ctx: nil, want: UnknownValue},
		{name: "empty build date", ctx: NewContext("1.0.0", ""), want: UnknownValue},
		{name: "valid build date", ctx: NewContext("1.0.0", "2026-01-01T12:00:00Z"), want: "2026-01-01T12:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.BuildDate())
		})
	}
}

func TestContext_Release(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "birdsed@2.1.0", NewContext("2.1.0", "").Release())
	assert.Equal(t, "birdsed@unknown", (*Context)(nil).Release())
	assert.Equal(t, "birdsed 2.1.0 (built unknown)", NewContext("2.1.0", "").String())
}
