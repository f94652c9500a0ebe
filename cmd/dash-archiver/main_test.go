package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/dash-archiver"
	"github.com/alanbriolat/dash-archiver/internal/boltdb"
)

func TestPromptURL(t *testing.T) {
	assert := assert_.New(t)
	var out bytes.Buffer

	url, err := promptURL(strings.NewReader("  https://example.com/video?bvid=X&p=1 \nignored\n"), &out)
	assert.NoError(err)
	assert.Equal("https://example.com/video?bvid=X&p=1", url)
	assert.Contains(out.String(), "URL")

	url, err = promptURL(strings.NewReader("https://example.com/no-newline"), &out)
	assert.NoError(err)
	assert.Equal("https://example.com/no-newline", url)

	_, err = promptURL(strings.NewReader(""), &out)
	assert.Error(err)
}

func TestHistoryCommands(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	db, err := openHistory(path)
	require.NoError(err)
	started := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	require.NoError(db.WriteRun(&dash_archiver.RunRecord{
		ID:        "run-1",
		URL:       "https://example.com/video?bvid=X",
		Title:     "My Clip",
		StartedAt: started,
		Steps: []dash_archiver.StepRecord{
			{Step: dash_archiver.StepResolve},
			{Step: dash_archiver.StepFetch, Error: "fetch failure: audio: unexpected status 500"},
			{Step: dash_archiver.StepPersist, Skipped: true},
		},
	}))
	require.NoError(db.Close())

	config := zap.NewDevelopmentConfig()
	app := newApp(context.Background(), &config)
	var out bytes.Buffer
	app.Writer = &out

	require.NoError(app.Run([]string{appName, "--history", path, "history"}))
	assert.Contains(out.String(), "run-1")
	assert.Contains(out.String(), "2026-10-15 09:30:00")
	assert.Contains(out.String(), "failed")
	assert.Contains(out.String(), "My Clip")

	out.Reset()
	require.NoError(app.Run([]string{appName, "--history", path, "history", "show", "run-1"}))
	assert.Contains(out.String(), "fetch failure: audio")
	assert.Contains(out.String(), "skipped")

	var db2 boltdb.Database
	db2, err = openHistory(path)
	require.NoError(err)
	defer db2.Close()
	runs, err := db2.ListRuns()
	require.NoError(err)
	assert.Len(runs, 1)
}

func TestPipelineConfigFromFlags(t *testing.T) {
	assert := assert_.New(t)
	config := zap.NewDevelopmentConfig()
	app := newApp(context.Background(), &config)

	var cfg dash_archiver.Config
	app.Action = func(c *cli.Context) error {
		var err error
		cfg, err = pipelineConfig(c)
		return err
	}
	err := app.Run([]string{appName, "--target", "/srv/videos", "--stop-on-error", "--timeout", "30s",
		"--output-template", "{{.Title}}-{{.ID}}"})
	assert.NoError(err)
	assert.Equal("/srv/videos", cfg.TargetDir)
	assert.Equal(dash_archiver.StopOnError, cfg.Policy)
	assert.Equal(30*time.Second, cfg.Timeout)
	name, err := cfg.OutputFilename("abc", "My Clip")
	assert.NoError(err)
	assert.Equal("My Clip-abc.mp4", name)

	app.Action = func(c *cli.Context) error {
		_, err := pipelineConfig(c)
		return err
	}
	assert.Error(app.Run([]string{appName, "--output-template", "{{.Title"}))
}
