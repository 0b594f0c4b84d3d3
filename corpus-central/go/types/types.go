package types

import (
	"encoding/json"
	"time"
)

const (
	// All discussion sources will be standardized to these record types.
	GithubIssueSource     Source = "github_issue"
	GithubPRSource        Source = "github_pr"
	StackOverflowQuestion Source = "stackoverflow_question"
	StackOverflowAnswer   Source = "stackoverflow_answer"
	RedditPost            Source = "reddit_post"
	HackerNewsStory       Source = "hn_story"
	HackerNewsComment     Source = "hn_comment"
	GoogleGroupsThread    Source = "googlegroups_thread"

	// Source families group record types by the site they came from.
	GithubFamily        SourceFamily = "github"
	StackOverflowFamily SourceFamily = "stackoverflow"
	RedditFamily        SourceFamily = "reddit"
	HackerNewsFamily    SourceFamily = "hackernews"
	GoogleGroupsFamily  SourceFamily = "googlegroups"

	// Per-source collection outcomes.
	CollectionOK      CollectionStatus = "ok"
	CollectionFailed  CollectionStatus = "failed"
	CollectionSkipped CollectionStatus = "skipped"

	// AnonymousAuthor is the sentinel used when a record has no author.
	AnonymousAuthor = "anonymous"
)

// Source types will be all the recognized record types (eg: github_issue,
// stackoverflow_question, reddit_post).
type Source string

// SourceFamily types will be all the recognized sites records are collected
// from (eg: github, reddit, hackernews).
type SourceFamily string

// CollectionStatus describes how collection ended for one source family.
type CollectionStatus string

// Family returns the site family a record type belongs to.
func (s Source) Family() SourceFamily {
	switch s {
	case GithubIssueSource, GithubPRSource:
		return GithubFamily
	case StackOverflowQuestion, StackOverflowAnswer:
		return StackOverflowFamily
	case RedditPost:
		return RedditFamily
	case HackerNewsStory, HackerNewsComment:
		return HackerNewsFamily
	case GoogleGroupsThread:
		return GoogleGroupsFamily
	}
	return ""
}

// AllFamilies lists the source families in collection order.
var AllFamilies = []SourceFamily{
	GithubFamily,
	StackOverflowFamily,
	RedditFamily,
	HackerNewsFamily,
	GoogleGroupsFamily,
}

// All records from the different discussion sources will be standardized to
// this struct.
type Record struct {
	Source    Source `json:"source"`
	DataID    string `json:"data_id"`
	Timestamp string `json:"timestamp"`
	RawText   string `json:"raw_text"`
	AuthorID  string `json:"author_id"`
	URL       string `json:"url"`

	// Source-specific fields (labels, scores, comment counts, ...). Opaque
	// here, consumed by the tag layering heuristics.
	Metadata map[string]interface{} `json:"metadata"`
}

// CoderColumns holds one coder's judgement of a record.
type CoderColumns struct {
	PrimaryCode   string `json:"primary_code"`
	SecondaryCode string `json:"secondary_code"`
	Confidence    string `json:"confidence"`
	Notes         string `json:"notes"`
}

// CodedRecord is a Record plus both coders' columns. Coding columns are blank
// until the coders (an external, human process) fill them in.
type CodedRecord struct {
	Record
	Coder1 CoderColumns `json:"coder1"`
	Coder2 CoderColumns `json:"coder2"`
}

// TaggedRecord is a CodedRecord plus the four derived tag columns.
type TaggedRecord struct {
	CodedRecord
	TemporalPeriod    string `json:"temporal_period"`
	ResolutionStatus  string `json:"resolution_status"`
	RootCauseCategory string `json:"root_cause_category"`
	TagReasoning      string `json:"tag_reasoning"`
}

// PilotRecord is one row of a pilot coding extract: the shared identifying
// columns plus both coders' columns. The same shape is reused for the merged
// file the agreement scorer writes.
type PilotRecord struct {
	Source    Source `json:"source"`
	DataID    string `json:"data_id"`
	Timestamp string `json:"timestamp"`
	RawText   string `json:"raw_text"`
	URL       string `json:"url"`

	Coder1 CoderColumns `json:"coder1"`
	Coder2 CoderColumns `json:"coder2"`
}

// CoderRow is one row of a single coder's extract: the shared identifying
// columns plus that coder's unprefixed coding columns.
type CoderRow struct {
	Source    Source `json:"source"`
	DataID    string `json:"data_id"`
	Timestamp string `json:"timestamp"`
	RawText   string `json:"raw_text"`
	URL       string `json:"url"`

	Coding CoderColumns `json:"coding"`
}

// ErrorEntry is one structured fetch-failure. Failures are recorded and the
// query abandoned; they never abort a whole collection run.
type ErrorEntry struct {
	Endpoint  string `json:"endpoint"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// NewErrorEntry records a failure against an endpoint at the given time.
func NewErrorEntry(endpoint string, err error, now time.Time) ErrorEntry {
	return ErrorEntry{
		Endpoint:  endpoint,
		Error:     err.Error(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// SourceStats summarizes how collection went for one source family.
type SourceStats struct {
	Source         SourceFamily     `json:"source"`
	Status         CollectionStatus `json:"status"`
	Records        int              `json:"records"`
	Errors         int              `json:"errors"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`

	// First few error details, enough for the collection report without
	// flooding it.
	ErrorDetails []ErrorEntry `json:"error_details,omitempty"`
}

// CollectionStats is the machine-readable summary of a whole collection run.
type CollectionStats struct {
	RunID          string        `json:"run_id"`
	Started        string        `json:"started"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	Sources        []SourceStats `json:"sources"`
	TotalRecords   int           `json:"total_records"`
	TotalErrors    int           `json:"total_errors"`
}

// EncodeMetadata renders a metadata mapping as the JSON text stored in the
// metadata CSV column.
func EncodeMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMetadata parses the metadata CSV column back into a mapping. Blank
// cells decode to an empty mapping.
func DecodeMetadata(s string) (map[string]interface{}, error) {
	m := map[string]interface{}{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
