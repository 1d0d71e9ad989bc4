package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/skillhub/internal/jobs"
)

// NewJobsCommand returns the jobs subcommand group.
func NewJobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Run and inspect administrative jobs",
		Commands: []*cli.Command{
			{
				Name:   "setup",
				Usage:  "Initialize the deployment and ingest every skill",
				Action: jobAction(jobs.TypeSetup),
			},
			{
				Name:   "teardown",
				Usage:  "Wipe the record stores and the semantic index",
				Action: jobAction(jobs.TypeTeardown),
			},
			{
				Name:  "update",
				Usage: "Merge one skill folder into the stores",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "folder",
						Usage: "Sub-folder of the skill root to refresh (default: whole root)",
					},
				},
				Action: jobAction(jobs.TypeUpdateSkills),
			},
			{
				Name:   "status",
				Usage:  "List known jobs",
				Action: runJobStatus,
			},
		},
	}
}

// jobAction submits one job and waits for it, so the CLI verb behaves
// synchronously even though the orchestrator is asynchronous.
func jobAction(jobType jobs.Type) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := newApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.orch.Submit(jobType, cmd.String("folder"))
		if err != nil {
			return err
		}
		fmt.Printf("submitted %s (%s)\n", job.ID, job.Type)

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			job, err = a.orch.Poll(job.ID)
			if err != nil {
				return err
			}
			switch job.Status {
			case jobs.StatusCompleted:
				fmt.Printf("%s completed\n", job.ID)
				return printJSON(job.Result)
			case jobs.StatusFailed:
				return fmt.Errorf("%s failed: %s", job.ID, job.Error)
			}
		}
	}
}

func runJobStatus(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	list := a.orch.List()
	if len(list) == 0 {
		fmt.Println("no jobs")
		return nil
	}
	for _, job := range list {
		fmt.Printf("%-14s %-14s %-10s %s\n", job.ID, job.Type, job.Status, job.SubmittedAt.Format(time.RFC3339))
	}
	return nil
}
