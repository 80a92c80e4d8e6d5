package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// prompter reads interactive answers. Secrets are read without echo when
// the input is a terminal.
type prompter struct {
	in         *bufio.Reader
	out        io.Writer
	readSecret func() (string, error)
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.readSecret = func() (string, error) {
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(out)
			return string(b), err
		}
	}
	return p
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// line asks for a value, returning def on an empty answer.
func (p *prompter) line(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	answer, err := p.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// required asks until a non-empty answer is given.
func (p *prompter) required(label string) (string, error) {
	for {
		answer, err := p.line(label+" (required)", "")
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		fmt.Fprintf(p.out, "  Error: %s is required\n", strings.ToLower(label))
	}
}

// secret is like required, without echo on a terminal.
func (p *prompter) secret(label string) (string, error) {
	if p.readSecret == nil {
		return p.required(label)
	}
	for {
		fmt.Fprintf(p.out, "%s (required, input hidden): ", label)
		answer, err := p.readSecret()
		if err != nil {
			return "", err
		}
		if answer = strings.TrimSpace(answer); answer != "" {
			return answer, nil
		}
		fmt.Fprintf(p.out, "  Error: %s is required\n", strings.ToLower(label))
	}
}

// yesNo asks a y/n question.
func (p *prompter) yesNo(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(p.out, "%s [%s]: ", label, hint)
		answer, err := p.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "  Please answer y or n.")
	}
}

// intInRange asks for an integer in [lo, hi].
func (p *prompter) intInRange(label string, def, lo, hi int) (int, error) {
	for {
		answer, err := p.line(label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		v, convErr := strconv.Atoi(answer)
		if convErr == nil && v >= lo && v <= hi {
			return v, nil
		}
		fmt.Fprintf(p.out, "  Please enter a number between %d and %d.\n", lo, hi)
	}
}

// choice asks for one of options.
func (p *prompter) choice(label string, options []string, def string) (string, error) {
	for {
		answer, err := p.line(fmt.Sprintf("%s (%s)", label, strings.Join(options, ", ")), def)
		if err != nil {
			return "", err
		}
		for _, o := range options {
			if strings.EqualFold(answer, o) {
				return o, nil
			}
		}
		fmt.Fprintf(p.out, "  Please choose one of: %s\n", strings.Join(options, ", "))
	}
}
