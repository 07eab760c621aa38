package generator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Formatter reformats rendered artifact text. Implementations are
// best-effort: the generator falls back to unformatted output on any error.
type Formatter interface {
	Format(ctx context.Context, src string) (string, error)
}

// ExecFormatter formats Terraform text by piping it through
// `terraform fmt -`.
type ExecFormatter struct {
	// Binary is the formatter executable, "terraform" by default.
	Binary string
	// Timeout bounds a single format invocation.
	Timeout time.Duration
}

// NewExecFormatter creates a formatter using the given binary.
func NewExecFormatter(binary string) *ExecFormatter {
	if binary == "" {
		binary = "terraform"
	}
	return &ExecFormatter{Binary: binary, Timeout: 10 * time.Second}
}

// Format implements Formatter.
func (f *ExecFormatter) Format(ctx context.Context, src string) (string, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.Binary, "fmt", "-")
	cmd.Stdin = strings.NewReader(src)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%s fmt: %w: %s", f.Binary, err, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%s fmt: %w", f.Binary, err)
	}

	return stdout.String(), nil
}
