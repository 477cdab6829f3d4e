package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModuleContains(t *testing.T) {
	m := Module{Name: "game.exe", Start: 0x1000, End: 0x2000}

	assert.True(t, m.Valid())
	assert.True(t, m.Contains(0x1000))
	assert.True(t, m.Contains(0x1fff))
	assert.False(t, m.Contains(0x2000))
	assert.False(t, m.Contains(0xfff))
	assert.Equal(t, "game.exe [0x1000-0x2000)", m.String())
}

func TestAddressRangeSize(t *testing.T) {
	assert.Equal(t, ProcessMemorySize(0x10), AddressRange{Start: 0x10, End: 0x20}.Size())
	assert.Equal(t, ProcessMemorySize(0), AddressRange{Start: 0x20, End: 0x10}.Size())
	assert.False(t, Module{Start: 0x2000, End: 0x2000}.Valid())
}

func TestProcessStateReadable(t *testing.T) {
	assert.True(t, ProcessSleeping.Readable())
	assert.False(t, ProcessZombie.Readable())
}
