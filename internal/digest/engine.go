// SPDX-License-Identifier: MPL-2.0

package digest

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
)

// DefaultMaxArtifactBytes is the largest artifact the engine will read into
// memory (200 MiB).
const DefaultMaxArtifactBytes int64 = 200 << 20

// ErrTooLarge indicates the file exceeds the engine's size ceiling.
var ErrTooLarge = errors.New("artifact too large to digest")

type (
	// TooLargeError reports the size that tripped the guard.
	// It wraps ErrTooLarge so callers can use errors.Is for classification.
	TooLargeError struct {
		Path  string
		Size  int64
		Limit int64
	}

	// Engine digests files on a filesystem with a single strategy.
	Engine struct {
		fs       afero.Fs
		strategy Strategy
		maxBytes int64
	}

	// EngineOption configures an Engine.
	EngineOption func(*Engine)
)

// Error reports the file size and the limit it exceeded.
func (e *TooLargeError) Error() string {
	return fmt.Sprintf("%s is %d bytes, above the %d byte limit", e.Path, e.Size, e.Limit)
}

// Unwrap returns ErrTooLarge so callers can use errors.Is.
func (e *TooLargeError) Unwrap() error { return ErrTooLarge }

// WithFs sets the filesystem files are read from. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) EngineOption {
	return func(e *Engine) { e.fs = fs }
}

// WithStrategy sets the digest strategy. Defaults to Select(StrategyAuto).
func WithStrategy(s Strategy) EngineOption {
	return func(e *Engine) { e.strategy = s }
}

// WithMaxBytes sets the size ceiling. Non-positive values keep the default.
func WithMaxBytes(n int64) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// NewEngine creates an Engine. It fails with ErrUnsupported only when no
// strategy was given and none can be selected.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		fs:       afero.NewOsFs(),
		maxBytes: DefaultMaxArtifactBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.strategy == nil {
		s, err := Select(StrategyAuto)
		if err != nil {
			return nil, err
		}
		e.strategy = s
	}
	return e, nil
}

// Strategy returns the strategy in use.
func (e *Engine) Strategy() Strategy { return e.strategy }

// MaxBytes returns the size ceiling.
func (e *Engine) MaxBytes() int64 { return e.maxBytes }

// FileDigest returns the lowercase hex SHA-256 of the file at path. The size
// is checked before any content is read.
func (e *Engine) FileDigest(path string) (string, error) {
	info, err := e.fs.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > e.maxBytes {
		return "", &TooLargeError{Path: path, Size: info.Size(), Limit: e.maxBytes}
	}

	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	// The file may have grown between stat and read.
	if int64(len(data)) > e.maxBytes {
		return "", &TooLargeError{Path: path, Size: int64(len(data)), Limit: e.maxBytes}
	}

	return e.strategy.Sum(data), nil
}
