package api

import (
	"time"

	"github.com/google/uuid"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type TagFrequency struct {
	Count  int `json:"count"`
	Target int `json:"target"`
	Diff   int `json:"diff"`
}

type Summary struct {
	TotalSentences int `json:"total_sentences"`
	TotalTags      int `json:"total_tags"`
}

// BalanceRequest holds the multipart form fields of POST /balance and POST /jobs.
// The dataset itself is sent as the "file" part.
type BalanceRequest struct {
	TargetFrequencies string `schema:"target_frequencies"`
	OutputFilename    string `schema:"output_filename"`
	MaxIterations     int    `schema:"max_iterations"`
	IgnoreTags        string `schema:"ignore_tags"`
	TagColumn         int    `schema:"tag_column"`
	Strict            bool   `schema:"strict"`
}

type BalanceResponse struct {
	Message              string                  `json:"message"`
	JobId                uuid.UUID               `json:"job_id"`
	OutputFile           string                  `json:"output_file"`
	TagFrequencies       map[string]TagFrequency `json:"tag_frequencies"`
	FormattedFrequencies []string                `json:"formatted_frequencies"`
	Summary              Summary                 `json:"summary"`
	Badness              int                     `json:"badness"`
	Iterations           int                     `json:"iterations"`
	Converged            bool                    `json:"converged"`
}

type SubmitJobResponse struct {
	JobId uuid.UUID `json:"job_id"`
}

type ListJobsParams struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

type Job struct {
	Id         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	OutputFile string    `json:"output_file,omitempty"`

	Targets       map[string]int `json:"targets"`
	IgnoreTags    []string       `json:"ignore_tags,omitempty"`
	MaxIterations int            `json:"max_iterations"`
	TagColumn     int            `json:"tag_column"`
	Strict        bool           `json:"strict"`

	CreationTime   time.Time  `json:"creation_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`

	TotalSentences    int  `json:"total_sentences"`
	SelectedSentences int  `json:"selected_sentences"`
	TotalTags         int  `json:"total_tags"`
	Badness           int  `json:"badness"`
	Iterations        int  `json:"iterations"`
	Converged         bool `json:"converged"`

	TagFrequencies map[string]TagFrequency `json:"tag_frequencies,omitempty"`
	Errors         []string                `json:"errors,omitempty"`
}
