package msi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameSplitting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantLong  string
		wantShort string
		hasShort  bool
	}{
		{"no separator", "TARGETDIR", "TARGETDIR", "", false},
		{"short and long", "PROGRA~1|Program Files (x86)", "Program Files (x86)", "PROGRA~1", true},
		{"empty", "", "", "", false},
		{"separator only", "|", "", "", true},
		{"leading separator", "|Program Files", "Program Files", "", true},
		{"trailing separator", "PROGRA~1|", "", "PROGRA~1", true},
		{"multiple separators", "a|b|c", "b|c", "a", true},
		{"dot", ".", ".", "", false},
		{"spaces preserved", " x | y ", " y ", " x ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := ParseName(tt.input)
			assert.Equal(t, tt.wantLong, n.Long())
			short, ok := n.Short()
			assert.Equal(t, tt.hasShort, ok)
			assert.Equal(t, tt.wantShort, short)
			assert.Equal(t, tt.input, n.Combined())
		})
	}
}

func TestNameIsLocatedAtParent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"dot long", ".", true},
		{"dot short only", ".|Alpha", true},
		{"dot long with short", "SHORT|.", true},
		{"both dots", ".|.", true},
		{"plain name", "Alpha", false},
		{"empty", "", false},
		{"separator only", "|", false},
		{"dot inside long", "a|b.c", false},
		{"dotted file name", "README.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseName(tt.input).IsLocatedAtParent())
		})
	}
}

func TestNameString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Program Files (x86)", ParseName("Program Files (x86)").String())
	assert.Equal(t, "short = PROGRA~1, long = Program Files (x86)",
		ParseName("PROGRA~1|Program Files (x86)").String())
	assert.Equal(t, "short = , long = ", ParseName("|").String())
	assert.Equal(t, "", ParseName("").String())
}

func TestDirectoryNameSplitting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		wantTarget string
		wantSource string
		hasSource  bool
	}{
		{"no separator", "TARGETDIR", "TARGETDIR", "", false},
		{"source and target", ".:Alpha", "Alpha", ".", true},
		{"empty", "", "", "", false},
		{"separator only", ":", "", "", true},
		{"multiple separators", "a:b:c", "b:c", "a", true},
		{"pipes in both parts", "SRCDIR|SourceDir:T|Target", "T|Target", "SRCDIR|SourceDir", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDirectoryName(tt.input)
			assert.Equal(t, tt.wantTarget, d.Target().Combined())
			source, ok := d.Source()
			assert.Equal(t, tt.hasSource, ok)
			assert.Equal(t, tt.wantSource, source.Combined())
			assert.Equal(t, tt.input, d.Combined())
		})
	}
}

func TestDirectoryNameScenarios(t *testing.T) {
	t.Parallel()

	t.Run("dot source with plain target", func(t *testing.T) {
		d := ParseDirectoryName(".:Alpha")
		source, ok := d.Source()
		require.True(t, ok)
		assert.Equal(t, ".", source.Long())
		_, hasShort := source.Short()
		assert.False(t, hasShort)
		assert.True(t, source.IsLocatedAtParent())

		target := d.Target()
		assert.Equal(t, "Alpha", target.Long())
		_, hasShort = target.Short()
		assert.False(t, hasShort)
		assert.False(t, target.IsLocatedAtParent())
	})

	t.Run("dot source with short and long target", func(t *testing.T) {
		d := ParseDirectoryName(".:PROGRA~1|Program Files (x86)")
		source, ok := d.Source()
		require.True(t, ok)
		assert.Equal(t, ".", source.Long())
		assert.True(t, source.IsLocatedAtParent())

		target := d.Target()
		short, hasShort := target.Short()
		require.True(t, hasShort)
		assert.Equal(t, "PROGRA~1", short)
		assert.Equal(t, "Program Files (x86)", target.Long())
		assert.False(t, target.IsLocatedAtParent())
	})

	t.Run("combined source with plain target", func(t *testing.T) {
		d := ParseDirectoryName("SRCDIR|SourceDir:Alpha")
		source, ok := d.Source()
		require.True(t, ok)
		short, hasShort := source.Short()
		require.True(t, hasShort)
		assert.Equal(t, "SRCDIR", short)
		assert.Equal(t, "SourceDir", source.Long())
		assert.False(t, source.IsLocatedAtParent())

		target := d.Target()
		assert.Equal(t, "Alpha", target.Long())
		_, hasShort = target.Short()
		assert.False(t, hasShort)
	})

	t.Run("target only", func(t *testing.T) {
		d := ParseDirectoryName("TARGETDIR")
		_, ok := d.Source()
		assert.False(t, ok)
		target := d.Target()
		assert.Equal(t, "TARGETDIR", target.Long())
		_, hasShort := target.Short()
		assert.False(t, hasShort)
		assert.False(t, target.IsLocatedAtParent())
	})

	t.Run("empty", func(t *testing.T) {
		d := ParseDirectoryName("")
		_, ok := d.Source()
		assert.False(t, ok)
		target := d.Target()
		assert.Equal(t, "", target.Long())
		_, hasShort := target.Short()
		assert.False(t, hasShort)
		assert.False(t, target.IsLocatedAtParent())
	})
}

func TestDirectoryNameString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "TARGETDIR", ParseDirectoryName("TARGETDIR").String())
	assert.Equal(t, "source = [.], target = [Alpha]", ParseDirectoryName(".:Alpha").String())
	assert.Equal(t,
		"source = [short = SRCDIR, long = SourceDir], target = [Alpha]",
		ParseDirectoryName("SRCDIR|SourceDir:Alpha").String())
	assert.Equal(t,
		"source = [.], target = [short = PROGRA~1, long = Program Files (x86)]",
		ParseDirectoryName(".:PROGRA~1|Program Files (x86)").String())
}

func TestDirectoryNameAccessorsAreStable(t *testing.T) {
	t.Parallel()

	d := ParseDirectoryName("SRCDIR|SourceDir:Alpha")
	for range 3 {
		assert.Equal(t, "SRCDIR|SourceDir:Alpha", d.Combined())
		target := d.Target()
		assert.Equal(t, "Alpha", target.Long())
		source, ok := d.Source()
		require.True(t, ok)
		assert.Equal(t, "SourceDir", source.Long())
	}
}
