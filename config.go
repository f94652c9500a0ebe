package dash_archiver

import (
	"strings"
	"text/template"
	"time"

	"github.com/alanbriolat/dash-archiver/mux"
	"github.com/alanbriolat/dash-archiver/util"
)

// Policy decides what a pipeline run does after a step fails.
type Policy int

const (
	// ContinueOnError runs every step regardless of earlier failures.
	ContinueOnError Policy = iota
	// StopOnError skips the remaining steps after the first failure, apart from cleanup.
	StopOnError
)

func (p Policy) String() string {
	switch p {
	case ContinueOnError:
		return "continue"
	case StopOnError:
		return "stop"
	default:
		return "unknown"
	}
}

const outputExt = "mp4"

var DefaultOutputTemplate = template.Must(template.New("output_file").Parse("{{.Title}}"))

type Config struct {
	// Directory the muxed file is written to.
	TargetDir string
	// Parent of the per-run temporary directories; empty means os.TempDir().
	TempDir string
	// Template for the output filename, without extension. Executed with outputTemplateArgs.
	OutputTemplate *template.Template
	Policy         Policy
	// Timeout for each HTTP request, including reading the body; zero means no timeout.
	Timeout time.Duration
	Muxer   mux.Muxer
	History History
}

var DefaultConfig = Config{
	TargetDir:      ".",
	OutputTemplate: DefaultOutputTemplate,
	Policy:         ContinueOnError,
	Muxer:          mux.NewFFmpeg("ffmpeg"),
	History:        NilHistory{},
}

type outputTemplateArgs struct {
	ID    string
	Title string
}

// OutputFilename renders the output template for a run and makes it safe to use as a filename.
func (c *Config) OutputFilename(id string, title string) (string, error) {
	tmpl := c.OutputTemplate
	if tmpl == nil {
		tmpl = DefaultOutputTemplate
	}
	builder := strings.Builder{}
	if err := tmpl.Execute(&builder, &outputTemplateArgs{ID: id, Title: title}); err != nil {
		return "", err
	}
	return util.SafeFilename(builder.String(), outputExt), nil
}
