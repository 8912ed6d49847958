package meteorology

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
)

const (
	extractFile  = "extract.bin"
	headerLength = 166
)

var (
	// ErrCropFailed is returned when an extraction program fails or produces no usable output.
	ErrCropFailed = errors.New("meteorology crop failed")

	// ErrNoInputs is returned when Crop is called without input files.
	ErrNoInputs = errors.New("no meteorology inputs")
)

// Cropper reduces a set of raw meteorology files to one file covering env.
type Cropper interface {
	Crop(ctx context.Context, inputs []string, output string, env core.Envelope) error
}

// ConcatCropper concatenates inputs without subsetting them.
// It is meant for local runs where the extraction programs are not installed.
type ConcatCropper struct{}

func (ConcatCropper) Crop(_ context.Context, inputs []string, output string, _ core.Envelope) error {
	if len(inputs) == 0 {
		return ErrNoInputs
	}

	return concatFiles(inputs, output)
}

// ProcessCropper runs xtrct_grid on every input, merges the results and runs xtrct_time on the merged file.
type ProcessCropper struct {
	GridProgram string
	TimeProgram string
}

// NewProcessCropper expects the extraction programs in stiltPath/exe.
func NewProcessCropper(stiltPath string) ProcessCropper {
	return ProcessCropper{
		GridProgram: filepath.Join(stiltPath, "exe", "xtrct_grid"),
		TimeProgram: filepath.Join(stiltPath, "exe", "xtrct_time"),
	}
}

func (c ProcessCropper) Crop(ctx context.Context, inputs []string, output string, env core.Envelope) error {
	if len(inputs) == 0 {
		return ErrNoInputs
	}

	chunks := make([]string, 0, len(inputs))
	for _, input := range inputs {
		chunk := input + ".grid"
		if err := c.cropGrid(ctx, input, chunk, env.Extent); err != nil {
			return err
		}
		chunks = append(chunks, chunk)
	}

	merged := output + ".merged"
	if err := concatFiles(chunks, merged); err != nil {
		return err
	}

	return c.cropTime(ctx, merged, output, env)
}

func (c ProcessCropper) cropGrid(ctx context.Context, input, output string, extent core.Extent) error {
	levels, err := verticalLevels(input)
	if err != nil {
		return err
	}

	stdin := strings.Join([]string{
		filepath.Dir(input) + "/",
		filepath.Base(input),
		fmt.Sprintf("%s %s", formatCoordinate(extent.YMin), formatCoordinate(extent.XMin)),
		fmt.Sprintf("%s %s", formatCoordinate(extent.YMax), formatCoordinate(extent.XMax)),
		strconv.Itoa(levels),
		"",
	}, "\n")

	return runExtraction(ctx, c.GridProgram, stdin, output)
}

func (c ProcessCropper) cropTime(ctx context.Context, input, output string, env core.Envelope) error {
	stdin := strings.Join([]string{
		filepath.Dir(input) + "/",
		filepath.Base(input),
		env.Start.UTC().Format("02 15 04"),
		env.End.UTC().Format("02 15 04"),
		"0",
		"",
	}, "\n")

	// The first pass only reports the record numbers of the requested range.
	workDir, err := os.MkdirTemp("", "xtrct-time-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	stdout, err := execIn(ctx, workDir, c.TimeProgram, stdin)
	if err != nil {
		return err
	}

	first, last, err := parseRecordRange(stdout)
	if err != nil {
		return err
	}

	return runExtraction(ctx, c.TimeProgram, stdin+fmt.Sprintf("%d %d\n", first, last), output)
}

// verticalLevels reads the level count from the ARL index record header.
func verticalLevels(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, headerLength)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, fmt.Errorf("%w: read header of %s: %w", ErrCropFailed, path, err)
	}

	levels, err := strconv.Atoi(strings.TrimSpace(string(header[149:152])))
	if err != nil {
		return 0, fmt.Errorf("%w: level count in %s: %w", ErrCropFailed, path, err)
	}

	return levels, nil
}

func parseRecordRange(stdout []byte) (int, int, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("%w: unexpected xtrct_time output %q", ErrCropFailed, lines[len(lines)-1])
	}

	first, err1 := strconv.Atoi(fields[len(fields)-2])
	last, err2 := strconv.Atoi(fields[len(fields)-1])
	if err1 != nil || err2 != nil || first <= 0 || last <= 0 {
		return 0, 0, fmt.Errorf("%w: no records in time range: %q", ErrCropFailed, lines[len(lines)-1])
	}

	return first, last, nil
}

// runExtraction runs program in a scratch directory and moves its extract.bin to output.
func runExtraction(ctx context.Context, program, stdin, output string) error {
	workDir, err := os.MkdirTemp("", "xtrct-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	if _, err := execIn(ctx, workDir, program, stdin); err != nil {
		return err
	}

	if err := os.Rename(filepath.Join(workDir, extractFile), output); err != nil {
		return fmt.Errorf("%w: %s produced no output: %w", ErrCropFailed, filepath.Base(program), err)
	}

	return nil
}

func execIn(ctx context.Context, dir, program, stdin string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, program)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w: %s", ErrCropFailed, filepath.Base(program), err, stderr.String())
	}

	return stdout.Bytes(), nil
}

func concatFiles(inputs []string, output string) error {
	out, err := os.Create(output)
	if err != nil {
		return err
	}

	for _, input := range inputs {
		if err := appendFile(out, input); err != nil {
			_ = out.Close()
			return err
		}
	}

	return out.Close()
}

func appendFile(w io.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	_, err = io.Copy(w, in)

	return err
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
