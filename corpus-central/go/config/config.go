// Package config loads and validates the JSON5 configuration that drives a
// collection and analysis run for one studied project.
package config

import (
	"encoding/json"
	"io"
	"reflect"
	"time"

	"github.com/flynn/json5"

	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/util"
)

// Duration allows us to supply a duration as a human readable string, e.g. "2s".
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return skerr.Wrap(err)
	}
	var err error
	d.Duration, err = time.ParseDuration(s)
	return skerr.Wrap(err)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// InstanceConfig is the full configuration for studying one project. Exactly
// one InstanceConfig is loaded per run.
type InstanceConfig struct {
	// Short name of the studied project, used in report titles and queries.
	Project string `json:"project"`

	Sources       SourcesConfig       `json:"sources"`
	Anonymization AnonymizationConfig `json:"anonymization"`

	// Allow-list of ISO 639-3 language codes (e.g. "eng"). Records whose
	// detected language is not in the list are dropped. Empty means no
	// language filtering.
	Languages []string `json:"languages" optional:"true"`

	Output    OutputConfig    `json:"output"`
	Tagging   TaggingConfig   `json:"tagging"`
	DateRange DateRangeConfig `json:"date_range"`
}

// SourcesConfig holds one block per discussion source.
type SourcesConfig struct {
	Github        GithubConfig        `json:"github"`
	StackExchange StackExchangeConfig `json:"stackexchange"`
	Reddit        RedditConfig        `json:"reddit"`
	HackerNews    HackerNewsConfig    `json:"hackernews"`
	GoogleGroups  GoogleGroupsConfig  `json:"googlegroups"`
}

type GithubConfig struct {
	Enabled bool `json:"enabled"`

	// Name of the environment variable holding the API token.
	TokenEnvVar string `json:"token_env_var" optional:"true"`

	// Repositories to scrape, as "owner/name".
	Repos []string `json:"repos" optional:"true"`

	MaxItems  int      `json:"max_items" optional:"true"`
	PerPage   int      `json:"per_page" optional:"true"`
	PageDelay Duration `json:"page_delay" optional:"true"`

	// Append top issue comments to each record's text.
	IncludeComments bool `json:"include_comments"`
}

type StackExchangeConfig struct {
	Enabled bool `json:"enabled"`

	// Name of the environment variable holding the API key. The API works
	// without a key at a reduced quota.
	KeyEnvVar string `json:"key_env_var" optional:"true"`

	// Site parameter of the API, e.g. "stackoverflow".
	Site string `json:"site" optional:"true"`

	// Tags to query, one query per tag.
	Tags []string `json:"tags" optional:"true"`

	MaxItems  int      `json:"max_items" optional:"true"`
	PerPage   int      `json:"per_page" optional:"true"`
	PageDelay Duration `json:"page_delay" optional:"true"`

	// Collect top answers of each question as separate records.
	IncludeAnswers bool `json:"include_answers"`
}

type RedditConfig struct {
	Enabled bool `json:"enabled"`

	// Names of the environment variables holding the OAuth app credentials.
	ClientIDEnvVar     string `json:"client_id_env_var" optional:"true"`
	ClientSecretEnvVar string `json:"client_secret_env_var" optional:"true"`

	Subreddits []string `json:"subreddits" optional:"true"`
	Keywords   []string `json:"keywords" optional:"true"`

	MaxItems  int      `json:"max_items" optional:"true"`
	PerPage   int      `json:"per_page" optional:"true"`
	PageDelay Duration `json:"page_delay" optional:"true"`

	// Append top-level comments to each record's text.
	IncludeComments bool `json:"include_comments"`
}

type HackerNewsConfig struct {
	Enabled bool `json:"enabled"`

	// Search queries, one Algolia search per query.
	Queries []string `json:"queries" optional:"true"`

	MaxItems  int      `json:"max_items" optional:"true"`
	PerPage   int      `json:"per_page" optional:"true"`
	PageDelay Duration `json:"page_delay" optional:"true"`

	// Collect comments of each story as separate records.
	IncludeComments bool `json:"include_comments"`
}

type GoogleGroupsConfig struct {
	Enabled bool `json:"enabled"`

	// Group names, e.g. "fermata-users".
	Groups []string `json:"groups" optional:"true"`

	MaxItems  int      `json:"max_items" optional:"true"`
	PageDelay Duration `json:"page_delay" optional:"true"`
}

type AnonymizationConfig struct {
	// Name of the environment variable holding the hashing salt.
	SaltEnvVar string `json:"salt_env_var" optional:"true"`
}

type OutputConfig struct {
	// Root directory all artifacts are written under.
	Dir string `json:"dir"`
}

// TaggingConfig drives the tag layering heuristics.
type TaggingConfig struct {
	// Project lifecycle boundaries as "YYYY-MM-DD" dates, in increasing
	// order. A record is bucketed into the first period whose end boundary
	// its timestamp precedes; past all four it is post-discontinuation.
	PreLaunchEnd     string `json:"pre_launch_end"`
	EarlyAdoptionEnd string `json:"early_adoption_end"`
	PlateauEnd       string `json:"plateau_end"`
	DeclineEnd       string `json:"decline_end"`

	// Days after which an open issue counts as abandoned.
	AbandonedThresholdDays int `json:"abandoned_threshold_days" optional:"true"`
}

// DateRangeConfig restricts collection to a window, where the upstream API
// supports it.
type DateRangeConfig struct {
	Start string `json:"start" optional:"true"`
	End   string `json:"end" optional:"true"`
}

// StartTime returns the parsed start of the range, or the zero time if unset.
func (d DateRangeConfig) StartTime() (time.Time, error) {
	return parseDay(d.Start)
}

// EndTime returns the parsed end of the range, or the zero time if unset.
func (d DateRangeConfig) EndTime() (time.Time, error) {
	return parseDay(d.End)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, skerr.Wrapf(err, "parsing date %q", s)
	}
	return t, nil
}

const (
	defaultSaltEnvVar            = "CORPUS_SALT"
	defaultMaxItems              = 200
	defaultPerPage               = 100
	defaultHackerNewsPerPage     = 50
	defaultPageDelay             = 2 * time.Second
	defaultAbandonedThresholdDay = 90
)

// LoadFromJSON5 reads the contents of path and tries to decode the JSON5
// there into an InstanceConfig. Defaults are applied before validation. An
// error will be returned if any non-struct, non-bool field is its zero value
// *unless* it is tagged with `optional:"true"`.
func LoadFromJSON5(path string) (*InstanceConfig, error) {
	var c InstanceConfig
	err := util.WithReadFile(path, func(r io.Reader) error {
		return json5.NewDecoder(r).Decode(&c)
	})
	if err != nil {
		return nil, skerr.Wrapf(err, "reading config at %s", path)
	}
	c.applyDefaults()
	if err := checkRequired(reflect.Indirect(reflect.ValueOf(&c))); err != nil {
		return nil, skerr.Wrapf(err, "validating config at %s", path)
	}
	return &c, nil
}

func (c *InstanceConfig) applyDefaults() {
	if c.Anonymization.SaltEnvVar == "" {
		c.Anonymization.SaltEnvVar = defaultSaltEnvVar
	}
	if c.Sources.Github.TokenEnvVar == "" {
		c.Sources.Github.TokenEnvVar = "GITHUB_TOKEN"
	}
	if c.Sources.StackExchange.KeyEnvVar == "" {
		c.Sources.StackExchange.KeyEnvVar = "STACKEXCHANGE_KEY"
	}
	if c.Sources.StackExchange.Site == "" {
		c.Sources.StackExchange.Site = "stackoverflow"
	}
	if c.Sources.Reddit.ClientIDEnvVar == "" {
		c.Sources.Reddit.ClientIDEnvVar = "REDDIT_CLIENT_ID"
	}
	if c.Sources.Reddit.ClientSecretEnvVar == "" {
		c.Sources.Reddit.ClientSecretEnvVar = "REDDIT_CLIENT_SECRET"
	}
	if c.Tagging.AbandonedThresholdDays == 0 {
		c.Tagging.AbandonedThresholdDays = defaultAbandonedThresholdDay
	}

	s := &c.Sources
	for _, maxItems := range []*int{&s.Github.MaxItems, &s.StackExchange.MaxItems, &s.Reddit.MaxItems, &s.HackerNews.MaxItems, &s.GoogleGroups.MaxItems} {
		if *maxItems == 0 {
			*maxItems = defaultMaxItems
		}
	}
	for _, delay := range []*Duration{&s.Github.PageDelay, &s.StackExchange.PageDelay, &s.Reddit.PageDelay, &s.HackerNews.PageDelay, &s.GoogleGroups.PageDelay} {
		if delay.Duration == 0 {
			delay.Duration = defaultPageDelay
		}
	}
	for _, perPage := range []*int{&s.Github.PerPage, &s.StackExchange.PerPage, &s.Reddit.PerPage} {
		if *perPage == 0 {
			*perPage = defaultPerPage
		}
	}
	if s.HackerNews.PerPage == 0 {
		s.HackerNews.PerPage = defaultHackerNewsPerPage
	}
}

// checkRequired returns an error if any non-struct, non-bool fields of the
// given value have a zero value *unless* they have an optional tag with value
// true.
func checkRequired(rValue reflect.Value) error {
	rType := rValue.Type()
	for i := 0; i < rValue.NumField(); i++ {
		field := rType.Field(i)
		if field.Type.Kind() == reflect.Struct {
			if err := checkRequired(rValue.Field(i)); err != nil {
				return err
			}
			continue
		}
		if field.Type.Kind() == reflect.Bool {
			// For ease of use, booleans aren't compared against their zero
			// value, since that would effectively make them required to be
			// true always.
			continue
		}
		isJSON := field.Tag.Get("json")
		if isJSON == "" {
			// don't validate struct values w/o json tags (e.g. Duration.Duration).
			continue
		}
		isOptional := field.Tag.Get("optional")
		if isOptional == "true" {
			continue
		}
		// defaults to being required
		if rValue.Field(i).IsZero() {
			return skerr.Fmt("Required %s to be non-zero", field.Name)
		}
	}
	return nil
}
