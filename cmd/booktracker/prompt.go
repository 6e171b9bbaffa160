package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/booktracker/booktracker/internal/session"
)

var errNoTerminal = errors.New("stdin is not a terminal: pass --username and --password-stdin")

// prompter asks for whatever the flags left out.
type prompter interface {
	Credentials(username, password *string) error
	Registration(in *session.RegisterInput) error
}

// newPrompter returns an interactive prompter when stdin is a terminal.
func newPrompter() prompter {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return huhPrompter{}
	}
	return noPrompter{}
}

type huhPrompter struct{}

func required(label string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", label)
		}
		return nil
	}
}

func (huhPrompter) Credentials(username, password *string) error {
	var fields []huh.Field
	if *username == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Value(username).
			Validate(required("username")))
	}
	if *password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(password).
			Validate(required("password")))
	}
	if len(fields) == 0 {
		return nil
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

func (huhPrompter) Registration(in *session.RegisterInput) error {
	var fields []huh.Field
	if in.Username == "" {
		fields = append(fields, huh.NewInput().
			Title("Username").
			Value(&in.Username).
			Validate(required("username")))
	}
	if in.Email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Value(&in.Email).
			Validate(required("email")))
	}
	if in.Password == "" {
		fields = append(fields,
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&in.Password).
				Validate(required("password")),
			huh.NewInput().
				Title("Confirm password").
				EchoMode(huh.EchoModePassword).
				Value(&in.ConfirmPassword).
				Validate(required("password confirmation")),
		)
	}
	if len(fields) == 0 {
		return nil
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

// noPrompter is used when nothing can be asked.
type noPrompter struct{}

func (noPrompter) Credentials(username, password *string) error {
	if *username == "" || *password == "" {
		return errNoTerminal
	}
	return nil
}

func (noPrompter) Registration(in *session.RegisterInput) error {
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return errNoTerminal
	}
	return nil
}

// readPassword reads a single line from r, as for --password-stdin.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
