package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/skillhub/internal/search"
)

// NewSearchCommand returns the one-shot search subcommand.
func NewSearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the skill catalog",
		ArgsUsage: "[query text]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "domain",
				Usage: "Restrict to one domain",
			},
			&cli.StringSliceFlag{
				Name:  "tag",
				Usage: "Require a tag (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "all-tags",
				Usage: "Require every given tag instead of any",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results",
				Value: -1,
			},
		},
		Action: runSearch,
	}
}

func runSearch(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	q := search.Query{
		Text:         strings.Join(cmd.Args().Slice(), " "),
		Domain:       cmd.String("domain"),
		Tags:         cmd.StringSlice("tag"),
		MatchAllTags: cmd.Bool("all-tags"),
		Limit:        cmd.Int("limit"),
	}

	results, err := a.router.Search(ctx, q)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no skills matched")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%-40s %-12s %.2f  %s\n", r.SkillID, r.Domain, r.Score, r.ShortDescription)
	}
	return nil
}
