package api

import (
	"log/slog"

	"ner-balancer/internal/core/balancer"
	"ner-balancer/internal/database"
	"ner-balancer/pkg/api"
)

func convertTagStats(stats []balancer.TagStat) map[string]api.TagFrequency {
	freqs := make(map[string]api.TagFrequency, len(stats))
	for _, t := range stats {
		freqs[t.Tag] = api.TagFrequency{Count: t.Count, Target: t.Target, Diff: t.Diff}
	}
	return freqs
}

func convertJobTags(tags []database.BalanceJobTag) map[string]api.TagFrequency {
	if len(tags) == 0 {
		return nil
	}
	freqs := make(map[string]api.TagFrequency, len(tags))
	for _, t := range tags {
		freqs[t.Tag] = api.TagFrequency{Count: t.Count, Target: t.Target, Diff: t.Diff}
	}
	return freqs
}

func convertJob(j database.BalanceJob) api.Job {
	job := api.Job{
		Id:                j.Id,
		Name:              j.Name,
		Status:            j.Status,
		MaxIterations:     j.MaxIterations,
		TagColumn:         j.TagColumn,
		Strict:            j.Strict,
		CreationTime:      j.CreationTime,
		TotalSentences:    j.TotalSentences,
		SelectedSentences: j.SelectedSentences,
		TotalTags:         j.TotalTags,
		Badness:           j.Badness,
		Iterations:        j.Iterations,
		Converged:         j.Converged,
		TagFrequencies:    convertJobTags(j.Tags),
	}

	if j.Status == database.JobCompleted {
		job.OutputFile = j.OutputKey
	}

	if j.CompletionTime.Valid {
		completion := j.CompletionTime.Time
		job.CompletionTime = &completion
	}

	targets, err := j.GetTargets()
	if err != nil {
		slog.Error("error decoding job targets", "job_id", j.Id, "error", err)
	}
	job.Targets = targets

	ignoreTags, err := j.GetIgnoreTags()
	if err != nil {
		slog.Error("error decoding job ignore tags", "job_id", j.Id, "error", err)
	}
	job.IgnoreTags = ignoreTags

	for _, e := range j.Errors {
		job.Errors = append(job.Errors, e.Error)
	}

	return job
}

func convertJobs(js []database.BalanceJob) []api.Job {
	jobs := make([]api.Job, 0, len(js))
	for _, j := range js {
		jobs = append(jobs, convertJob(j))
	}
	return jobs
}
