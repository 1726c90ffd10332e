package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks through first-time configuration on in/out and
// saves the result.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	return runSetupWizard(cfg, bufio.NewReader(in), out)
}

func runSetupWizard(cfg *Config, reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║            phxd - First Run Setup            ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "── Server Identity ──")
	cfg.Server.Name = promptString(reader, out, "Server name", cfg.Server.Name)
	cfg.Server.Description = promptString(reader, out, "Description", cfg.Server.Description)
	cfg.Server.Agreement = promptString(reader, out, "Agreement text (blank for none)", cfg.Server.Agreement)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Network ──")
	cfg.Server.Bind = promptString(reader, out, "Bind address (blank for all)", cfg.Server.Bind)
	port := DefaultPort
	if len(cfg.Server.Ports) > 0 {
		port = cfg.Server.Ports[0]
	}
	cfg.Server.Ports = []int{promptInt(reader, out, "Server port (transfers use port+1)", port)}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Files ──")
	cfg.Files.Root = promptString(reader, out, "Shared file root", cfg.Files.Root)
	cfg.Database.Path = promptString(reader, out, "Account database", cfg.Database.Path)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Services ──")
	cfg.Tracker.Enabled = promptBool(reader, out, "Register with trackers", cfg.Tracker.Enabled)
	if cfg.Tracker.Enabled {
		addrs := promptString(reader, out, "Tracker addresses (comma separated)", strings.Join(cfg.Tracker.Addresses, ","))
		cfg.Tracker.Addresses = splitList(addrs)
	}
	cfg.API.Enabled = promptBool(reader, out, "Enable admin API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = promptInt(reader, out, "Admin API port", cfg.API.Port)
	}

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return runSetupWizard(cfg, reader, out)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved to", cfg.Path())
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

// PromptPassword reads one line as a password.
func PromptPassword(in *bufio.Reader, out io.Writer, prompt string) string {
	fmt.Fprintf(out, "  %s: ", prompt)
	input, _ := in.ReadString('\n')
	return strings.TrimSpace(input)
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
