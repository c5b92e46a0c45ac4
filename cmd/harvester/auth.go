package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"harvester/pkg/auth"
	"harvester/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage source credentials",
	Long: `Manage stored credentials for sources that need them (reddit, instagram).

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (HARVESTER_<SOURCE>_<FIELD>, read-only)

Never share your credentials or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login <source> [name]",
	Short: "Store credentials for a source",
	Long: `Store credentials for a source under an account name (default "default").

Reference the account from the source's "account" setting to pick it;
without one the most recently stored account is used.`,
	Example: `  # Reddit app credentials
  harvester auth login reddit

  # Instagram session cookies under a named account
  harvester auth login instagram alt`,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: auth.SupportedSources(),
	RunE:      runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout <source> <name>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(2),
	RunE:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list [source]",
	Short: "List stored accounts",
	Long:  `List stored accounts with sanitized credential information.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

func supportedSource(source string) ([]auth.Field, error) {
	fields, ok := auth.Fields(source)
	if !ok {
		return nil, fmt.Errorf("%s does not use credentials (supported: %s)",
			source, strings.Join(auth.SupportedSources(), ", "))
	}
	return fields, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	source := strings.ToLower(args[0])
	fields, err := supportedSource(source)
	if err != nil {
		return err
	}
	name := "default"
	if len(args) > 1 {
		name = args[1]
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	out := cmd.OutOrStdout()
	auth.ShowLoginGuide(out, source)

	reader := bufio.NewReader(cmd.InOrStdin())
	account := &auth.Account{Source: source, Name: name, Secrets: make(map[string]string)}
	for _, f := range fields {
		label := f.Label
		if !f.Required {
			label += " (optional)"
		}
		fmt.Fprintf(out, "%s: ", label)

		value, err := readValue(reader, out, f.Hidden)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", f.Key, err)
		}
		if value != "" {
			account.Secrets[f.Key] = value
		}
	}

	if err := manager.Store(account); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Credentials stored for %s account %q", source, name))
	return nil
}

// readValue reads one line, without echo for hidden fields on a terminal.
func readValue(reader *bufio.Reader, out io.Writer, hidden bool) (string, error) {
	if hidden && term.IsTerminal(int(os.Stdin.Fd())) {
		value, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(out)
		if err == nil {
			return strings.TrimSpace(string(value)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	source := strings.ToLower(args[0])
	if _, err := supportedSource(source); err != nil {
		return err
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(source, args[1]); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Account removed: %s/%s", source, args[1]))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	srcs := auth.SupportedSources()
	if len(args) == 1 {
		source := strings.ToLower(args[0])
		if _, err := supportedSource(source); err != nil {
			return err
		}
		srcs = []string{source}
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	out := cmd.OutOrStdout()
	found := 0
	for _, source := range srcs {
		accounts, err := manager.List(source)
		if err != nil {
			return fmt.Errorf("failed to list %s accounts: %w", source, err)
		}
		if len(accounts) == 0 {
			continue
		}

		ui.PrintHighlight(source)
		for _, account := range accounts {
			found++
			safe := auth.SanitizeAccount(account)
			fmt.Fprintf(out, "  %s %s\n", ui.Cyan(safe.Name), ui.Dim("updated "+safe.LastModified.Format("2006-01-02 15:04")))

			keys := make([]string, 0, len(safe.Secrets))
			for k := range safe.Secrets {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "    %s: %s\n", k, safe.Secrets[k])
			}
		}
	}

	if found == 0 {
		ui.PrintInfo("No stored accounts", "Use 'harvester auth login <source>' to add one")
	}
	return nil
}
