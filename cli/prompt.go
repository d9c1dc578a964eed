// Package cli holds the terminal helpers of catalogctl: promptui prompts and banners.
package cli

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/text/unicode/norm"
)

// ErrEmptyInput is returned by NotBlank.
var ErrEmptyInput = errors.New("you must enter something")

// Prompter asks questions on a terminal.
type Prompter struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

// Terminal prompts on the process's standard streams.
func Terminal() *Prompter {
	return &Prompter{Stdin: os.Stdin, Stdout: os.Stdout}
}

// NotBlank rejects input that is empty once normalized and trimmed.
func NotBlank(s string) error {
	if strings.TrimSpace(norm.NFKC.String(s)) == "" {
		return ErrEmptyInput
	}

	return nil
}

// NoSlash rejects input containing "/", which separates user id and token in a login fragment.
func NoSlash(s string) error {
	if err := NotBlank(s); err != nil {
		return err
	}

	if strings.Contains(s, "/") {
		return errors.New(`"/" is not allowed`)
	}

	return nil
}

// String asks for a value accepted by validate, if given.
func (p *Prompter) String(label string, validate promptui.ValidateFunc) (string, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Validate: validate,
		Stdin:    p.Stdin,
		Stdout:   p.Stdout,
	}

	return prompt.Run()
}

// Secret asks for a value without echoing it.
func (p *Prompter) Secret(label string) (string, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Mask:     '*',
		Validate: NoSlash,
		Stdin:    p.Stdin,
		Stdout:   p.Stdout,
	}

	return prompt.Run()
}

// Confirm asks a yes/no question. Answering no is not an error.
func (p *Prompter) Confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Stdin:     p.Stdin,
		Stdout:    p.Stdout,
	}

	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Select asks for one of choices, searchable by prefix.
func (p *Prompter) Select(label string, choices []string) (string, error) {
	sel := &promptui.Select{
		Label:  label,
		Items:  choices,
		Stdin:  p.Stdin,
		Stdout: p.Stdout,
		Searcher: func(input string, index int) bool {
			return strings.HasPrefix(strings.ToLower(choices[index]), strings.ToLower(input))
		},
	}

	_, value, err := sel.Run()

	return value, err
}
