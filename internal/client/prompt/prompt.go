// Package prompt wraps manifoldco/promptui for the dfs-client REPL: a
// plain prompt for commands, a required-text prompt for the login username,
// and a masked prompt for the login password.
package prompt

import (
	"errors"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C/Ctrl+D).
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err indicates the user aborted a prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Input prompts for a line of text.
func Input(label string) (string, error) {
	p := promptui.Prompt{Label: label}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputRequired prompts for a non-empty line of text.
func InputRequired(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if input == "" {
				return promptui.ErrAbort
			}
			return nil
		},
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// Password prompts for a masked password.
func Password(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*'}
	result, err := p.Run()
	return result, wrapError(err)
}
