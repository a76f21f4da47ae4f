package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ner-balancer/internal/database"
	"ner-balancer/pkg/api"
	"ner-balancer/pkg/client"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

var serverFlag = &cli.StringFlag{
	Name:    "server",
	Usage:   "base url of the balancer api",
	Value:   "http://localhost:5000",
	EnvVars: []string{"NER_BALANCER_SERVER"},
}

// remoteTargets returns the target frequencies as sent in the form. Target files
// are parsed locally and sent as json.
func remoteTargets(cCtx *cli.Context) (string, error) {
	if expr := cCtx.String("targets"); expr != "" && cCtx.String("targets-file") == "" {
		return expr, nil
	}
	targets, err := readTargets(cCtx, false)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(targets)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func printTagFrequencies(ui UI, formatted []string, summary api.Summary, badness, iterations int, converged bool) {
	for _, line := range formatted {
		fmt.Fprintln(ui.Out, line)
	}
	fmt.Fprintf(ui.Out, "sentences: %d\n", summary.TotalSentences)
	fmt.Fprintf(ui.Out, "tags: %d\n", summary.TotalTags)
	fmt.Fprintf(ui.Out, "badness: %d\n", badness)
	fmt.Fprintf(ui.Out, "iterations: %d (converged: %t)\n", iterations, converged)
}

func jobFormatted(job *api.Job) []string {
	tags := make([]string, 0, len(job.TagFrequencies))
	for tag := range job.TagFrequencies {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	lines := make([]string, 0, len(tags))
	for _, tag := range tags {
		f := job.TagFrequencies[tag]
		lines = append(lines, fmt.Sprintf("%s: %d (target: %d, diff: %d)", tag, f.Count, f.Target, f.Diff))
	}
	return lines
}

func submitCommand(ui UI) *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "balance a dataset on a remote server",
		Flags: []cli.Flag{
			serverFlag,
			inputFlag,
			targetsFlag,
			targetsFileFlag,
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "download the balanced dataset to this file"},
			&cli.IntFlag{Name: "max-iterations", Usage: "refinement iteration cap, server default when unset"},
			&cli.StringSliceFlag{Name: "ignore", Usage: "tags excluded from counting, server default when unset"},
			tagColumnFlag,
			&cli.BoolFlag{Name: "strict", Usage: "fail on a dataset without sentences"},
			&cli.BoolFlag{Name: "async", Usage: "queue a job and poll until it finishes"},
			&cli.DurationFlag{Name: "poll-interval", Value: time.Second},
		},
		Action: func(cCtx *cli.Context) error {
			targets, err := remoteTargets(cCtx)
			if err != nil {
				return err
			}

			input := cCtx.String("input")
			data, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("error reading dataset: %w", err)
			}

			req := api.BalanceRequest{
				TargetFrequencies: targets,
				MaxIterations:     cCtx.Int("max-iterations"),
				IgnoreTags:        strings.Join(cCtx.StringSlice("ignore"), ","),
				TagColumn:         cCtx.Int("tag-column"),
				Strict:            cCtx.Bool("strict"),
			}
			if output := cCtx.String("output"); output != "" {
				req.OutputFilename = filepath.Base(output)
			}

			c := client.New(cCtx.String("server"))
			ctx := cCtx.Context
			filename := filepath.Base(input)

			var jobId uuid.UUID
			if cCtx.Bool("async") {
				id, err := c.SubmitJob(ctx, filename, data, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(ui.Err, "submitted job %s\n", id)

				job, err := c.WaitForJob(ctx, id, cCtx.Duration("poll-interval"))
				if err != nil {
					return err
				}
				if job.Status == database.JobFailed {
					return fmt.Errorf("job %s failed: %s", job.Id, strings.Join(job.Errors, "; "))
				}
				printTagFrequencies(ui, jobFormatted(job), api.Summary{TotalSentences: job.SelectedSentences, TotalTags: job.TotalTags}, job.Badness, job.Iterations, job.Converged)
				jobId = job.Id
			} else {
				res, err := c.Balance(ctx, filename, data, req)
				if err != nil {
					return err
				}
				printTagFrequencies(ui, res.FormattedFrequencies, res.Summary, res.Badness, res.Iterations, res.Converged)
				jobId = res.JobId
			}

			output := cCtx.String("output")
			if output == "" {
				return nil
			}

			buf := new(bytes.Buffer)
			if err := c.DownloadOutput(ctx, jobId, buf); err != nil {
				return err
			}
			if err := os.WriteFile(output, buf.Bytes(), 0644); err != nil {
				return fmt.Errorf("error writing output: %w", err)
			}
			return nil
		},
	}
}

func jobsCommand(ui UI) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "list balance jobs on a remote server",
		Flags: []cli.Flag{
			serverFlag,
			&cli.StringFlag{Name: "status", Usage: "QUEUED, RUNNING, COMPLETED or FAILED"},
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(cCtx *cli.Context) error {
			jobs, err := client.New(cCtx.String("server")).ListJobs(cCtx.Context, api.ListJobsParams{
				Status: cCtx.String("status"),
				Limit:  cCtx.Int("limit"),
			})
			if err != nil {
				return err
			}

			for _, job := range jobs {
				fmt.Fprintf(ui.Out, "%s\t%s\t%s\t%s\tbadness=%d\n", job.Id, job.Status, job.CreationTime.Format(time.RFC3339), job.Name, job.Badness)
			}
			return nil
		},
	}
}
