package engine

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/godla/godla/graph"
)

// Engine cache: the compiled program is gob-encoded under CACHE_DIR, keyed by
// a content hash, so a later run with LOAD_ENGINE_MODE can rebuild the
// Computation without going through a graph Builder.

const engineCacheExtension = ".godla"

// cacheKey is the hex-encoded content hash of the encoded program.
func cacheKey(encoded []byte) string {
	digest := sha256.Sum256(encoded)
	return hex.EncodeToString(digest[:8])
}

// SaveEngine writes the compiled program to the cache directory configured
// with the ENABLE_ENGINE_CACHE and CACHE_DIR items, returning the cache file
// path. It fails when the cache is not enabled or the directory cannot be
// written.
func (c *Computation) SaveEngine() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAlive(); err != nil {
		return "", err
	}
	if !c.settings.enableEngineCache {
		return "", errors.Wrap(ErrUnsupportedOption, "engine cache not enabled, set ENABLE_ENGINE_CACHE first")
	}
	if c.settings.cacheDir == "" {
		return "", errors.Wrap(ErrUnsupportedOption, "engine cache enabled but CACHE_DIR is not set")
	}
	encoded, err := c.prog.Bytes()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.settings.cacheDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create cache directory %q", c.settings.cacheDir)
	}
	path := filepath.Join(c.settings.cacheDir, cacheKey(encoded)+engineCacheExtension)
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write engine cache file %q", path)
	}
	klog.V(1).Infof("cached computation %q to %s (%s)", c.prog.Name, path, humanize.IBytes(uint64(len(encoded))))
	return path, nil
}

// LoadEngine rebuilds a Computation from an engine cache file previously
// written by SaveEngine. The decoded program is validated before the
// Computation is built; a corrupt or truncated file fails with ErrBuild.
func LoadEngine(path string) (*Computation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrBuild, "failed to open engine cache file %q: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	prog, err := graph.GobDeserialize(gob.NewDecoder(f))
	if err != nil {
		return nil, errors.Wrapf(ErrBuild, "failed to decode engine cache file %q: %v", path, err)
	}
	comp, err := Build(prog)
	if err != nil {
		return nil, err
	}
	comp.settings.loadEngineMode = true
	klog.V(1).Infof("loaded computation %q from engine cache %s", prog.Name, path)
	return comp, nil
}
