package cli

import (
	"bufio"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"golang.org/x/term"

	"github.com/dyike/DFUChat/internal/chat"
)

// stdinIsTerminal decides between survey prompts and plain line reads, so
// the commands also work with piped input.
func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func validateEmail(val interface{}) error {
	str, _ := val.(string)
	if _, err := mail.ParseAddress(strings.TrimSpace(str)); err != nil {
		return fmt.Errorf("enter a valid email address")
	}
	return nil
}

func validatePassword(val interface{}) error {
	str, _ := val.(string)
	if len(str) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	return nil
}

// PromptForCredentials asks for an email (unless given) and a password.
func PromptForCredentials(reader *bufio.Reader, email string) (string, string, error) {
	if email == "" {
		var err error
		email, err = askInput(reader, "Email:", "The address you registered with", validateEmail)
		if err != nil {
			return "", "", err
		}
	}
	password, err := askPassword(reader, "Password:", nil)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(email), password, nil
}

type registration struct {
	Name     string
	Email    string
	Password string
}

func PromptForRegistration(reader *bufio.Reader) (registration, error) {
	var r registration
	var err error

	r.Name, err = askInput(reader, "Full name:", "", func(val interface{}) error {
		if s, _ := val.(string); strings.TrimSpace(s) == "" {
			return fmt.Errorf("name cannot be empty")
		}
		return nil
	})
	if err != nil {
		return r, err
	}
	if r.Email, err = askInput(reader, "Email:", "", validateEmail); err != nil {
		return r, err
	}
	if r.Password, err = askPassword(reader, "Password:", validatePassword); err != nil {
		return r, err
	}
	confirm, err := askPassword(reader, "Confirm password:", nil)
	if err != nil {
		return r, err
	}
	if confirm != r.Password {
		return r, errors.New("passwords do not match")
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	return r, nil
}

// PromptForThread lets the user pick a saved chat.
func PromptForThread(entries []chat.HistoryEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, errors.New("no saved chats")
	}
	options := make([]string, len(entries))
	for i, h := range entries {
		title := h.Title
		if title == "" {
			title = "Untitled chat"
		}
		options[i] = fmt.Sprintf("%d  %s", h.ThreadID, title)
	}

	var choice int
	prompt := &survey.Select{
		Message: "Open which chat?",
		Options: options,
		Help:    "Most recent first",
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		return 0, err
	}
	return entries[choice].ThreadID, nil
}

// ConfirmDelete asks before deleting a saved chat. Without a terminal it
// refuses; pass --yes instead.
func ConfirmDelete(id int64) (bool, error) {
	if !stdinIsTerminal() {
		return false, errors.New("refusing to delete without confirmation; pass --yes")
	}
	ok := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Delete chat %d? This cannot be undone.", id),
		Default: false,
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func askInput(reader *bufio.Reader, message, help string, validate survey.Validator) (string, error) {
	if !stdinIsTerminal() {
		fmt.Print(message + " ")
		line, err := readLine(reader)
		if err != nil {
			return "", err
		}
		if validate != nil {
			if err := validate(line); err != nil {
				return "", err
			}
		}
		return line, nil
	}

	var out string
	opts := []survey.AskOpt{}
	if validate != nil {
		opts = append(opts, survey.WithValidator(validate))
	}
	if err := survey.AskOne(&survey.Input{Message: message, Help: help}, &out, opts...); err != nil {
		return "", err
	}
	return out, nil
}

func askPassword(reader *bufio.Reader, message string, validate survey.Validator) (string, error) {
	if !stdinIsTerminal() {
		fmt.Print(message + " ")
		line, err := readLine(reader)
		if err != nil {
			return "", err
		}
		if validate != nil {
			if err := validate(line); err != nil {
				return "", err
			}
		}
		return line, nil
	}

	var out string
	opts := []survey.AskOpt{}
	if validate != nil {
		opts = append(opts, survey.WithValidator(validate))
	}
	if err := survey.AskOne(&survey.Password{Message: message}, &out, opts...); err != nil {
		return "", err
	}
	return out, nil
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parseThreadID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chat id %q", s)
	}
	return id, nil
}
