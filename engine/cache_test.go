package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/godla/godla/types/shapes"
)

func TestEngineCacheRoundTrip(t *testing.T) {
	cacheDir := t.TempDir()

	comp := newDetectorComp(t)
	defer comp.Destroy()
	require.NoError(t, comp.SetItem(ItemEnableEngineCache, true))
	require.NoError(t, comp.SetItem(ItemCacheDir, cacheDir))

	path, err := comp.SaveEngine()
	require.NoError(t, err)
	require.Equal(t, cacheDir, filepath.Dir(path))
	require.Equal(t, engineCacheExtension, filepath.Ext(path))

	// Saving again is stable: content-hashed key, same file.
	again, err := comp.SaveEngine()
	require.NoError(t, err)
	require.Equal(t, path, again)

	loaded, err := LoadEngine(path)
	require.NoError(t, err)
	defer loaded.Destroy()
	require.Equal(t, "detector", loaded.Name())

	// Ranges are not part of the cached program; register and execute.
	require.NoError(t, loaded.SetArgumentRange(0, detectorRange()))

	input := f32b(ramp(3*16*16, 0.02))
	run := func(c *Computation) []byte {
		ctx, err := NewContext(c)
		require.NoError(t, err)
		defer ctx.Destroy()
		require.NoError(t, ctx.SetRuntimeShape(0, shapes.Make(dtypes.Float32, 1, 3, 16, 16)))
		require.NoError(t, ctx.BindInput(0, input))
		out, err := ctx.AllocateOutput(0)
		require.NoError(t, err)
		require.NoError(t, NewExecutor().Execute(c, ctx))
		return out.Bytes()
	}
	require.True(t, bytes.Equal(run(comp), run(loaded)),
		"cached computation must reproduce the original's outputs")
}

func TestEngineCacheDisabled(t *testing.T) {
	comp := newDetectorComp(t)
	defer comp.Destroy()

	_, err := comp.SaveEngine()
	require.ErrorIs(t, err, ErrUnsupportedOption)

	require.NoError(t, comp.SetItem(ItemEnableEngineCache, true))
	_, err = comp.SaveEngine() // CACHE_DIR still missing.
	require.ErrorIs(t, err, ErrUnsupportedOption)
}

func TestEngineCacheCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus"+engineCacheExtension)
	require.NoError(t, os.WriteFile(path, []byte("not a program"), 0o644))
	_, err := LoadEngine(path)
	require.ErrorIs(t, err, ErrBuild)

	_, err = LoadEngine(filepath.Join(t.TempDir(), "missing.godla"))
	require.ErrorIs(t, err, ErrBuild)
}
