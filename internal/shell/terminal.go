package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	appLog "calen/internal/log"
)

// LineReader reads one command line at a time.
// *term.Terminal satisfies it directly.
type LineReader interface {
	ReadLine() (string, error)
	SetPrompt(prompt string)
}

// Console is the shell's input and output pair plus a restore hook for the
// terminal state.
type Console struct {
	In      LineReader
	Out     io.Writer
	restore func() error
}

// Close restores the terminal when it was put into raw mode.
func (c *Console) Close() error {
	if c.restore == nil {
		return nil
	}
	return c.restore()
}

// OpenConsole uses a raw-mode term.Terminal when in is a TTY and a plain
// line scanner otherwise (pipes, scripts, tests).
func OpenConsole(in *os.File, out io.Writer) (*Console, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return &Console{In: NewScanner(in, out), Out: out}, nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("enter raw mode: %w", err)
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, "")
	if w, h, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(w, h)
	}
	return rawConsole(t, func() error { return term.Restore(fd, state) }), nil
}

// rawConsole sends log lines through t while it is open; raw mode does
// not turn a bare newline into CRLF.
func rawConsole(t *term.Terminal, restore func() error) *Console {
	appLog.SetOutput(t)
	return &Console{
		In:  t,
		Out: t,
		restore: func() error {
			appLog.SetOutput(os.Stderr)
			return restore()
		},
	}
}

// Scanner adapts a plain reader to LineReader, echoing prompts to out.
type Scanner struct {
	sc     *bufio.Scanner
	out    io.Writer
	prompt string
}

// NewScanner returns a LineReader over r.
func NewScanner(r io.Reader, out io.Writer) *Scanner {
	return &Scanner{sc: bufio.NewScanner(r), out: out}
}

// SetPrompt sets the text written before each read.
func (s *Scanner) SetPrompt(prompt string) { s.prompt = prompt }

// ReadLine returns the next line without its terminator, or io.EOF.
func (s *Scanner) ReadLine() (string, error) {
	if s.prompt != "" && s.out != nil {
		_, _ = io.WriteString(s.out, s.prompt)
	}
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(s.sc.Text(), "\r"), nil
}
