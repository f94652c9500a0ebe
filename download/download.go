package download

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	VideoFilename = "video.mp4"
	AudioFilename = "audio.mp3"
)

type workspaceConfig struct {
	baseTargetDir string
	baseTempDir   string
	pattern       string
	logger        *zap.Logger
}

type WorkspaceOption func(*workspaceConfig)

// WithTargetDir sets the directory final output is written to, creating it if necessary.
func WithTargetDir(dir string) WorkspaceOption {
	return func(c *workspaceConfig) {
		c.baseTargetDir = dir
	}
}

// WithTempDir sets the parent of the per-run temporary directory.
func WithTempDir(dir string) WorkspaceOption {
	return func(c *workspaceConfig) {
		c.baseTempDir = dir
	}
}

// WithPattern sets the os.MkdirTemp pattern for the per-run temporary directory.
func WithPattern(pattern string) WorkspaceOption {
	return func(c *workspaceConfig) {
		c.pattern = pattern
	}
}

// WithLogger sets the logger workspace events are logged to.
func WithLogger(logger *zap.Logger) WorkspaceOption {
	return func(c *workspaceConfig) {
		c.logger = logger
	}
}

// Workspace is the per-run set of directories a pipeline works in. Temporary stream files live in a directory
// unique to the run, so concurrent runs never touch each other's files.
type Workspace struct {
	config  workspaceConfig
	tempDir string
}

func newWorkspace(config workspaceConfig) (*Workspace, error) {
	if len(config.baseTargetDir) > 0 {
		if err := os.MkdirAll(config.baseTargetDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create target dir: %w", err)
		}
	}
	tempDir, err := os.MkdirTemp(config.baseTempDir, config.pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	w := &Workspace{config: config, tempDir: tempDir}
	w.log().Debugf("Created temp dir %s", tempDir)
	return w, nil
}

func (w *Workspace) log() *zap.SugaredLogger {
	return w.config.logger.Named("workspace").Sugar()
}

func (w *Workspace) close() {
	if err := os.RemoveAll(w.tempDir); err != nil {
		w.log().Warnf("Failed to clean up temp dir %s: %v", w.tempDir, err)
	}
}

// TempDir is the unique temporary directory of this run.
func (w *Workspace) TempDir() string {
	return w.tempDir
}

// TempPath joins filename onto TempDir.
func (w *Workspace) TempPath(filename string) string {
	return filepath.Join(w.tempDir, filename)
}

// TargetPath joins filename onto the target directory.
func (w *Workspace) TargetPath(filename string) string {
	return filepath.Join(w.config.baseTargetDir, filename)
}

// WriteTemp writes data to the named temporary file, replacing any existing file.
func (w *Workspace) WriteTemp(filename string, data []byte) (string, error) {
	path := w.TempPath(filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveTemp deletes the named temporary file. The returned bool is false if the file was already absent, which is
// not an error.
func (w *Workspace) RemoveTemp(filename string) (bool, error) {
	if err := os.Remove(w.TempPath(filename)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// WithWorkspace runs f with a fresh Workspace, removing its temporary directory however f returns.
func WithWorkspace(f func(ws *Workspace) error, opts ...WorkspaceOption) error {
	config := workspaceConfig{
		baseTargetDir: "",
		baseTempDir:   os.TempDir(),
		pattern:       "dash-archiver-*",
		logger:        zap.L(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.logger == nil {
		config.logger = zap.L()
	}
	if ws, err := newWorkspace(config); err != nil {
		return err
	} else {
		defer ws.close()
		return f(ws)
	}
}
