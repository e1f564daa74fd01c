package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrTokenRequired is returned when no token is configured and towerlink may
// not ask for one.
var ErrTokenRequired = errors.New("token must be present when started by the game")

const maxTokenAttempts = 3

// PromptToken asks for the game token until a valid one is entered, then
// saves it. Unattended runs never prompt.
func PromptToken(in io.Reader, out io.Writer, cfg *Config) error {
	if cfg.Unattended {
		return ErrTokenRequired
	}

	reader := bufio.NewReader(in)
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := promptString(reader, out, "Enter the token required for connection", "")
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		if ValidToken(token) {
			cfg.SetToken(token)
			if err := cfg.Save(); err != nil {
				log.Warn().Err(err).Msg("failed to save token")
			}
			return nil
		}
		fmt.Fprintln(out, "    token must be a 8-digit hexadecimal number")
	}
	return fmt.Errorf("no valid token after %d attempts", maxTokenAttempts)
}

// RunSetupWizard walks through the game connection settings on first run.
func RunSetupWizard(in io.Reader, out io.Writer, cfg *Config) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "── Game Connection ──")

	host, err := promptString(reader, out, "Game host", cfg.Game.Host)
	if err != nil {
		return err
	}
	port, err := promptInt(reader, out, "Game port", cfg.Game.Port)
	if err != nil {
		return err
	}
	token, err := promptString(reader, out, "Token (8 hex digits)", cfg.Game.Token)
	if err != nil {
		return err
	}
	enableAPI, err := promptBool(reader, out, "Enable local REST API", cfg.API.Enabled)
	if err != nil {
		return err
	}

	cfg.mu.Lock()
	cfg.Game.Host = host
	cfg.Game.Port = port
	cfg.Game.Token = strings.ToLower(token)
	cfg.API.Enabled = enableAPI
	cfg.mu.Unlock()

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}
	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Fprintln(out, "Configuration saved.")
	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt, defaultVal string) (string, error) {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal, nil
	}
	return input, nil
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) (int, error) {
	input, err := promptString(reader, out, prompt, strconv.Itoa(defaultVal))
	if err != nil {
		return 0, err
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal, nil
	}
	return val, nil
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) (bool, error) {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	input, err := promptString(reader, out, prompt, defaultStr)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(input) {
	case "yes", "y", "true", "1":
		return true, nil
	}
	return false, nil
}
