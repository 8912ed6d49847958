// Package simulation runs one STILT simulation for a receptor and config against minimized meteorology.
package simulation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
)

const (
	meteorologyFile = "meteorology.arl"
	argDigits       = 8
	defaultGrace    = 10 * time.Second
	logTailBytes    = 4096
)

var (
	// ErrNoFootprint is returned when the process exits without writing a footprint.
	ErrNoFootprint = errors.New("simulation produced no footprint")

	// ErrDeadlineExceeded is returned when the process is stopped because the run deadline passed.
	ErrDeadlineExceeded = errors.New("simulation deadline exceeded")
)

// Inputs is everything a single simulation needs.
type Inputs struct {
	SimulationID uuid.UUID
	Receptor     core.Receptor
	Config       core.SimulationConfig
	Meteorology  []byte
}

// Outputs are the artifacts of a successful simulation.
type Outputs struct {
	Trajectories []byte
	Footprint    []byte
}

// Runner executes a simulation. Implementations must stop when ctx is done.
type Runner interface {
	Run(ctx context.Context, in Inputs) (Outputs, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, in Inputs) (Outputs, error)

func (f RunnerFunc) Run(ctx context.Context, in Inputs) (Outputs, error) {
	return f(ctx, in)
}

// ProcessRunner runs STILT's command line interface as a child process.
type ProcessRunner struct {
	stiltPath string
	program   string
	tempDir   string
	grace     time.Duration
}

// ProcessRunnerOption configures a ProcessRunner.
type ProcessRunnerOption func(*ProcessRunner)

// WithProgram overrides the executable, which defaults to stiltPath/r/stilt_cli.r.
func WithProgram(program string) ProcessRunnerOption {
	return func(r *ProcessRunner) {
		r.program = program
	}
}

// WithTempDir sets the parent directory for per-run meteorology copies.
func WithTempDir(dir string) ProcessRunnerOption {
	return func(r *ProcessRunner) {
		r.tempDir = dir
	}
}

// WithGracePeriod sets how long a cancelled process may take to exit after SIGTERM before it is killed.
func WithGracePeriod(grace time.Duration) ProcessRunnerOption {
	return func(r *ProcessRunner) {
		r.grace = grace
	}
}

// NewProcessRunner creates a runner for the STILT installation at stiltPath.
func NewProcessRunner(stiltPath string, opts ...ProcessRunnerOption) *ProcessRunner {
	r := &ProcessRunner{
		stiltPath: stiltPath,
		program:   filepath.Join(stiltPath, "r", "stilt_cli.r"),
		grace:     defaultGrace,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *ProcessRunner) Run(ctx context.Context, in Inputs) (Outputs, error) {
	metDir, err := os.MkdirTemp(r.tempDir, "stilt-met-")
	if err != nil {
		return Outputs{}, err
	}
	defer os.RemoveAll(metDir)

	//nolint:gosec // G306: the process may run as a different user
	if err := os.WriteFile(filepath.Join(metDir, meteorologyFile), in.Meteorology, 0644); err != nil {
		return Outputs{}, err
	}

	runID := in.SimulationID.String()
	outDir := filepath.Join(r.stiltPath, "out", "by-id", runID)
	defer os.RemoveAll(outDir)

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, r.program, Arguments(in, metDir, r.stiltPath)...)
	cmd.Dir = r.stiltPath
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = r.grace

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Outputs{}, errors.Join(ErrDeadlineExceeded, ctx.Err())
	}
	if ctx.Err() != nil {
		return Outputs{}, ctx.Err()
	}

	footprint, err := os.ReadFile(filepath.Join(outDir, runID+"_foot.nc"))
	if err != nil {
		stiltLog, _ := os.ReadFile(filepath.Join(outDir, "stilt.log"))
		return Outputs{}, fmt.Errorf("%w: exit: %v\nstdout:\n%s\nstderr:\n%s\nstilt.log:\n%s",
			ErrNoFootprint, runErr, tail(stdout.Bytes()), tail(stderr.Bytes()), tail(stiltLog))
	}

	trajectories, err := os.ReadFile(filepath.Join(outDir, runID+"_traj.rds"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Outputs{}, err
	}

	return Outputs{Trajectories: trajectories, Footprint: footprint}, nil
}

// Arguments returns the key=value command line for a simulation, sorted by key.
func Arguments(in Inputs, metDir, stiltPath string) []string {
	params := in.Config.Parameters
	args := map[string]string{}

	for k, v := range params.Options {
		args[k] = v
	}

	args["n_hours"] = strconv.Itoa(params.NHours)
	args["xmn"] = formatFloat(params.Footprint.XMin)
	args["xmx"] = formatFloat(params.Footprint.XMax)
	args["xres"] = formatFloat(params.Footprint.XRes)
	args["ymn"] = formatFloat(params.Footprint.YMin)
	args["ymx"] = formatFloat(params.Footprint.YMax)
	args["yres"] = formatFloat(params.Footprint.YRes)
	args["r_run_time"] = in.Receptor.T.UTC().Format(time.RFC3339)
	args["r_long"] = formatFloat(in.Receptor.X)
	args["r_lati"] = formatFloat(in.Receptor.Y)
	args["r_zagl"] = formatFloat(in.Receptor.Z)
	args["met_file_format"] = meteorologyFile
	args["met_path"] = metDir
	args["stilt_wd"] = stiltPath
	args["simulation_id"] = in.SimulationID.String()

	out := make([]string, 0, len(args))
	for _, k := range slices.Sorted(maps.Keys(args)) {
		out = append(out, k+"="+args[k])
	}

	return out
}

func formatFloat(v float64) string {
	scale := math.Pow(10, argDigits)
	return strconv.FormatFloat(math.Round(v*scale)/scale, 'f', -1, 64)
}

func tail(b []byte) []byte {
	if len(b) > logTailBytes {
		return b[len(b)-logTailBytes:]
	}

	return b
}
