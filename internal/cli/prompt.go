package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/cbout22/skills-sync/internal/logging"
)

// prompter asks yes/no questions on a terminal. When stdin is not a
// terminal every question is answered "no".
type prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool

	// pending is a read still blocked on stdin after its question was
	// cancelled. The next question takes its answer rather than starting a
	// second read on the same reader.
	pending chan answer
}

type answer struct {
	line string
	err  error
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &prompter{in: bufio.NewReader(in), out: out, interactive: interactive}
}

func (p *prompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !p.interactive {
		logging.Ctx(ctx).Warn("stdin is not a terminal, keeping local edits (rerun with --yes to overwrite)")
		return false, nil
	}
	fmt.Fprintf(p.out, "%s [y/N] ", prompt)

	if p.pending == nil {
		ch := make(chan answer, 1)
		go func() {
			line, err := p.in.ReadString('\n')
			ch <- answer{line, err}
		}()
		p.pending = ch
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case a := <-p.pending:
		p.pending = nil
		if a.err != nil && a.line == "" {
			if errors.Is(a.err, io.EOF) {
				return false, nil
			}
			return false, fmt.Errorf("reading answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
