package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/skillhub/internal/exec"
)

// NewSkillsCommand returns the skills subcommand group.
func NewSkillsCommand() *cli.Command {
	return &cli.Command{
		Name:  "skills",
		Usage: "Inspect and run skills",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show a skill's metadata",
				ArgsUsage: "<skill-id>",
				Action:    runSkillShow,
			},
			{
				Name:      "files",
				Usage:     "List a skill's file records",
				ArgsUsage: "<skill-id>",
				Action:    runSkillFiles,
			},
			{
				Name:      "exec",
				Usage:     "Execute a skill's entry point",
				ArgsUsage: "<skill-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "fields",
						Aliases: []string{"f"},
						Usage:   "Input fields as a JSON object",
						Value:   "{}",
					},
				},
				Action: runSkillExec,
			},
		},
	}
}

func requireSkillID(cmd *cli.Command) (string, error) {
	id := cmd.Args().First()
	if id == "" {
		return "", fmt.Errorf("skill id required")
	}
	return id, nil
}

func runSkillShow(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := requireSkillID(cmd)
	if err != nil {
		return err
	}
	meta, err := a.assembler.MetadataOnly(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(meta)
}

func runSkillFiles(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := requireSkillID(cmd)
	if err != nil {
		return err
	}
	b, err := a.assembler.Assemble(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range b.Files {
		fmt.Printf("%-40s %-8s %6d bytes\n", f.FileName, f.FileType, f.SizeBytes)
	}
	return nil
}

func runSkillExec(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := requireSkillID(cmd)
	if err != nil {
		return err
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(cmd.String("fields")), &fields); err != nil {
		return fmt.Errorf("parse --fields: %w", err)
	}

	b, err := a.assembler.Assemble(ctx, id)
	if err != nil {
		return err
	}
	result, err := a.adapter.Execute(ctx, b, fields)
	if err != nil {
		// Faults that reached the runtime still count as usage.
		if errors.Is(err, exec.ErrRuntimeFault) || errors.Is(err, exec.ErrOutputAdapterMismatch) {
			recordExecution(ctx, a, id, false)
		}
		return err
	}
	recordExecution(ctx, a, id, true)
	return printJSON(result)
}

// recordExecution folds one invocation into the usage counters. Accounting
// failures never mask the execution result.
func recordExecution(ctx context.Context, a *app, id string, success bool) {
	if err := a.store.RecordExecution(ctx, id, success); err != nil {
		slog.Warn("usage accounting failed", "skill", id, "error", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
