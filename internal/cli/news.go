package cli

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "news",
		Short: "Inspect the news board",
	}
	cmd.AddCommand(newsListCmd(opts))
	return cmd
}

func newsListCmd(opts *options) *cobra.Command {
	var (
		limit  int
		offset int
		search string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List news posts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			posts, total, err := store.LoadNewsPosts(limit, offset, search)
			if err != nil {
				return err
			}

			tw := tablewriter.NewWriter(cmd.OutOrStdout())
			tw.SetHeader([]string{"ID", "Date", "Nick", "Login", "Post"})
			tw.SetBorder(true)
			tw.SetAutoWrapText(false)
			for _, p := range posts {
				tw.Append([]string{
					fmt.Sprint(p.ID),
					p.Date.Format("2006-01-02 15:04"),
					p.Nick,
					p.Login,
					summarize(p.Body, 60),
				})
			}
			tw.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d posts\n", len(posts), total)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "posts to show (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "posts to skip")
	cmd.Flags().StringVarP(&search, "search", "s", "", "only posts containing this text")
	return cmd
}

// summarize flattens body to one line of at most n runes.
func summarize(body string, n int) string {
	body = strings.Join(strings.Fields(body), " ")
	r := []rune(body)
	if len(r) <= n {
		return body
	}
	return string(r[:n-1]) + "…"
}
