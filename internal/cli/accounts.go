package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/db"
	"github.com/phxd-project/phxd/internal/server"
)

func accountsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		Short:   "Manage user accounts",
	}
	cmd.AddCommand(
		accountsListCmd(opts),
		accountsCreateCmd(opts),
		accountsDeleteCmd(opts),
		accountsPasswdCmd(opts),
	)
	return cmd
}

func accountsListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			accounts, err := store.ListAccounts()
			if err != nil {
				return err
			}

			tw := tablewriter.NewWriter(cmd.OutOrStdout())
			tw.SetHeader([]string{"Login", "Name", "Privileges", "Last Login"})
			tw.SetBorder(true)
			tw.SetAutoWrapText(false)
			for _, a := range accounts {
				last := "-"
				if !a.LastLogin.IsZero() {
					last = a.LastLogin.Format("2006-01-02 15:04")
				}
				tw.Append([]string{a.Login, a.Name, describePrivs(a.Privs), last})
			}
			tw.Render()
			return nil
		},
	}
}

func accountsCreateCmd(opts *options) *cobra.Command {
	var (
		name     string
		privs    string
		password string
	)
	cmd := &cobra.Command{
		Use:   "create <login>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePrivs(privs)
			if err != nil {
				return err
			}
			_, store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			login := args[0]
			if _, err := store.LoadAccount(login); err == nil {
				return fmt.Errorf("account %s already exists", login)
			}
			if !cmd.Flags().Changed("password") {
				password = config.PromptPassword(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(), "Password")
			}
			if name == "" {
				name = login
			}
			acct := &db.Account{Login: login, Password: db.HashPassword(password), Name: name, Privs: p}
			if err := store.SaveAccount(acct); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Account %s created\n", login)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name (defaults to the login)")
	cmd.Flags().StringVar(&privs, "privs", "guest", "privileges: admin, guest, none or a numeric mask")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

func accountsDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <login>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteAccount(args[0]); err != nil {
				return fmt.Errorf("delete %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Account %s deleted\n", args[0])
			return nil
		},
	}
}

func accountsPasswdCmd(opts *options) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "passwd <login>",
		Short: "Change an account password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			acct, err := store.LoadAccount(args[0])
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}
			if !cmd.Flags().Changed("password") {
				password = readNewPassword(cmd.InOrStdin(), cmd.OutOrStdout())
			}
			acct.Password = db.HashPassword(password)
			if err := store.SaveAccount(acct); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Password of %s changed\n", acct.Login)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "new password (prompted when omitted)")
	return cmd
}

func readNewPassword(in io.Reader, out io.Writer) string {
	return config.PromptPassword(bufio.NewReader(in), out, "New password")
}

// parsePrivs accepts a preset name or a decimal or 0x hex mask.
func parsePrivs(s string) (uint64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "all":
		return server.AllPrivs(), nil
	case "guest", "":
		return server.GuestPrivs, nil
	case "none":
		return 0, nil
	}
	p, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid privileges %q", s)
	}
	return p, nil
}

func describePrivs(p uint64) string {
	switch p {
	case server.AllPrivs():
		return "admin"
	case server.GuestPrivs:
		return "guest"
	}
	return fmt.Sprintf("%#016x", p)
}
