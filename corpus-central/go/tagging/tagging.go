// Package tagging derives the temporal period, resolution status and root
// cause category for coded records, with one reasoning sentence per rule.
package tagging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.afterglow.org/research/corpus-central/go/config"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/now"
	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/sklog"
)

// Temporal periods, named after the studied project's lifecycle.
const (
	PeriodPreLaunch           = "pre_launch"
	PeriodEarlyAdoption       = "early_adoption"
	PeriodPlateau             = "plateau"
	PeriodDecline             = "decline"
	PeriodPostDiscontinuation = "post_discontinuation"
)

// Resolution statuses.
const (
	StatusFixed                = "fixed"
	StatusWontfixExplicit      = "wontfix_explicit"
	StatusDuplicate            = "duplicate"
	StatusAcknowledgedNotFixed = "acknowledged_not_fixed"
	StatusAbandoned            = "abandoned"
	StatusUnknown              = "unknown"
)

// Root cause categories.
const (
	CauseArchitecturalLimitation = "architectural_limitation"
	CauseCommunityMismatch       = "community_mismatch"
	CauseTechnicalDebt           = "technical_debt"
	CauseResourceConstraint      = "resource_constraint"
	CauseUnclear                 = "unclear"
)

// DefaultAbandonedThresholdDays is the age past which an open item counts as
// abandoned when the config does not say otherwise.
const DefaultAbandonedThresholdDays = 90

// TaggedFile is the artifact Run writes under the output directory.
const TaggedFile = "tagged_records.csv"

// Timestamp layouts accepted, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a record timestamp through the accepted layouts. On
// failure it returns the current time and ok=false so the caller can count
// the substitution instead of silently mis-bucketing the record.
func ParseTimestamp(ctx context.Context, ts string) (time.Time, bool) {
	trimmed := strings.TrimSpace(ts)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, true
		}
	}
	return now.Now(ctx), false
}

type boundary struct {
	period string
	end    time.Time
}

type tagger struct {
	boundaries   []boundary
	abandonedAge time.Duration
	unparsed     int
}

func newTagger(cfg config.TaggingConfig) (*tagger, error) {
	ends := []struct {
		period string
		date   string
	}{
		{PeriodPreLaunch, cfg.PreLaunchEnd},
		{PeriodEarlyAdoption, cfg.EarlyAdoptionEnd},
		{PeriodPlateau, cfg.PlateauEnd},
		{PeriodDecline, cfg.DeclineEnd},
	}
	t := &tagger{}
	prev := time.Time{}
	for _, e := range ends {
		if e.date == "" {
			return nil, skerr.Fmt("tagging config is missing the %s end boundary", e.period)
		}
		end, err := time.Parse("2006-01-02", e.date)
		if err != nil {
			return nil, skerr.Wrapf(err, "parsing the %s end boundary", e.period)
		}
		if !prev.IsZero() && !end.After(prev) {
			return nil, skerr.Fmt("tagging boundaries must increase; the %s end %s does not follow %s", e.period, e.date, prev.Format("2006-01-02"))
		}
		t.boundaries = append(t.boundaries, boundary{period: e.period, end: end})
		prev = end
	}
	days := cfg.AbandonedThresholdDays
	if days <= 0 {
		days = DefaultAbandonedThresholdDays
	}
	t.abandonedAge = time.Duration(days) * 24 * time.Hour
	return t, nil
}

// Apply derives the four tag columns for every coded record. Unparseable
// timestamps fall back to the current time, are flagged in the reasoning and
// counted in the log.
func Apply(ctx context.Context, cfg config.TaggingConfig, coded []types.CodedRecord) ([]types.TaggedRecord, error) {
	tg, err := newTagger(cfg)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	tagged := make([]types.TaggedRecord, 0, len(coded))
	for _, r := range coded {
		tagged = append(tagged, tg.tag(ctx, r))
	}
	if tg.unparsed > 0 {
		sklog.Warningf("Substituted the current time for %d unparseable timestamps.", tg.unparsed)
	}
	return tagged, nil
}

// Run reads a coded CSV, applies the tag rules, and writes the tagged CSV
// under outDir.
func Run(ctx context.Context, cfg config.TaggingConfig, inputPath, outDir string) ([]types.TaggedRecord, error) {
	coded, err := types.ReadCodedRecords(inputPath)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading %s", inputPath)
	}
	tagged, err := Apply(ctx, cfg, coded)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, skerr.Wrap(err)
	}
	outPath := filepath.Join(outDir, TaggedFile)
	if err := types.WriteTaggedRecords(outPath, tagged); err != nil {
		return nil, skerr.Wrap(err)
	}
	sklog.Infof("Tagged %d records to %s.", len(tagged), outPath)
	return tagged, nil
}

func (t *tagger) tag(ctx context.Context, r types.CodedRecord) types.TaggedRecord {
	created, ok := ParseTimestamp(ctx, r.Timestamp)
	if !ok {
		t.unparsed++
		sklog.Warningf("Record %s has unparseable timestamp %q; using the current time.", r.DataID, r.Timestamp)
	}
	period := t.temporalPeriod(created)
	status, evidence := t.resolutionStatus(ctx, r, created)
	primary, secondary := EffectiveCoding(r)
	cause := rootCause(primary, secondary)
	reasoning := fmt.Sprintf("Temporal: %s based on %s. Resolution: %s (%s). Root cause: %s (code=%s).",
		period, created.Format("2006-01-02"), status, evidence, cause, primary)
	return types.TaggedRecord{
		CodedRecord:       r,
		TemporalPeriod:    period,
		ResolutionStatus:  status,
		RootCauseCategory: cause,
		TagReasoning:      reasoning,
	}
}

// temporalPeriod buckets a timestamp into the first period whose end boundary
// it precedes.
func (t *tagger) temporalPeriod(ts time.Time) string {
	for _, b := range t.boundaries {
		if ts.Before(b.end) {
			return b.period
		}
	}
	return PeriodPostDiscontinuation
}

func (t *tagger) resolutionStatus(ctx context.Context, r types.CodedRecord, created time.Time) (string, string) {
	switch r.Source.Family() {
	case types.GithubFamily:
		return t.resolutionGithub(ctx, r, created)
	case types.StackOverflowFamily:
		return t.resolutionStackOverflow(ctx, r, created)
	}
	return t.resolutionDefault(r)
}

func (t *tagger) resolutionGithub(ctx context.Context, r types.CodedRecord, created time.Time) (string, string) {
	if labels, ok := metaStrings(r, "labels"); ok {
		if hasLabel(labels, "wontfix") || hasLabel(labels, "won't fix") {
			return StatusWontfixExplicit, "wontfix label"
		}
		if hasLabel(labels, "duplicate") {
			return StatusDuplicate, "duplicate label"
		}
	}
	// The merged key only exists on pull-request records; absence is not a
	// metadata problem.
	if v, ok := r.Metadata["merged"]; ok {
		merged, isBool := v.(bool)
		if !isBool {
			sklog.Warningf("Record %s metadata \"merged\" is not a bool; skipping that rule.", r.DataID)
		} else if merged {
			return StatusFixed, "merged"
		}
	}
	state, ok := metaString(r, "state")
	if !ok {
		return StatusUnknown, "no resolution signal"
	}
	if state == "closed" {
		if _, ok := r.Metadata["closed_at"]; ok {
			return StatusAcknowledgedNotFixed, "closed unmerged"
		}
	}
	if state == "open" {
		if age := now.Now(ctx).Sub(created); age > t.abandonedAge {
			return StatusAbandoned, fmt.Sprintf("open %d days", int(age.Hours()/24))
		}
	}
	return StatusUnknown, "no resolution signal"
}

func (t *tagger) resolutionStackOverflow(ctx context.Context, r types.CodedRecord, created time.Time) (string, string) {
	if answered, ok := metaBool(r, "is_answered"); ok && answered {
		return StatusFixed, "answered"
	}
	if age := now.Now(ctx).Sub(created); age > t.abandonedAge {
		return StatusAbandoned, fmt.Sprintf("unanswered %d days", int(age.Hours()/24))
	}
	return StatusUnknown, "no resolution signal"
}

func (t *tagger) resolutionDefault(r types.CodedRecord) (string, string) {
	count, ok := metaCommentCount(r)
	if ok && count > 5 {
		return StatusAcknowledgedNotFixed, fmt.Sprintf("%d comments", count)
	}
	return StatusUnknown, "no resolution signal"
}

// rootCause maps the human primary code onto a coarse category by
// case-insensitive substring. An empty primary short-circuits to unclear.
func rootCause(primary, secondary string) string {
	p := strings.ToUpper(primary)
	if p == "" {
		return CauseUnclear
	}
	switch {
	case strings.Contains(p, "DESIGN_ARCHITECTURE"):
		return CauseArchitecturalLimitation
	case strings.Contains(p, "COMMUNITY_ADOPTION"):
		return CauseCommunityMismatch
	case strings.Contains(p, "PERFORMANCE_SCALE"):
		return CauseTechnicalDebt
	case strings.Contains(p, "ECOSYSTEM_INTEROP"):
		return CauseTechnicalDebt
	case strings.Contains(p, "USABILITY_DX"):
		return CauseResourceConstraint
	}
	if strings.Contains(strings.ToUpper(secondary), "ECOSYSTEM") {
		return CauseTechnicalDebt
	}
	return CauseUnclear
}

// EffectiveCoding picks the coding the downstream rules and reports run on:
// coder1's columns are treated as the reconciled coding, coder2's fill in
// when coder1 left the record blank.
func EffectiveCoding(r types.CodedRecord) (string, string) {
	if p := strings.TrimSpace(r.Coder1.PrimaryCode); p != "" {
		return p, r.Coder1.SecondaryCode
	}
	return strings.TrimSpace(r.Coder2.PrimaryCode), r.Coder2.SecondaryCode
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, want) {
			return true
		}
	}
	return false
}

// Comment-count metadata keys, varying by source family.
var commentCountKeys = []string{"num_comments", "comments_count"}

// The meta helpers validate presence and type. A missing or mistyped value
// warns and reports ok=false so the rule is skipped, never silently fed a
// zero value.

func metaStrings(r types.CodedRecord, key string) ([]string, bool) {
	v, ok := r.Metadata[key]
	if !ok {
		sklog.Warningf("Record %s metadata is missing %q; skipping that rule.", r.DataID, key)
		return nil, false
	}
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []interface{}:
		// JSON-decoded metadata arrives as []interface{}.
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			s, isString := e.(string)
			if !isString {
				sklog.Warningf("Record %s metadata %q has a non-string element; skipping that rule.", r.DataID, key)
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	sklog.Warningf("Record %s metadata %q is not a string list; skipping that rule.", r.DataID, key)
	return nil, false
}

func metaString(r types.CodedRecord, key string) (string, bool) {
	v, ok := r.Metadata[key]
	if !ok {
		sklog.Warningf("Record %s metadata is missing %q; skipping that rule.", r.DataID, key)
		return "", false
	}
	s, isString := v.(string)
	if !isString {
		sklog.Warningf("Record %s metadata %q is not a string; skipping that rule.", r.DataID, key)
		return "", false
	}
	return s, true
}

func metaBool(r types.CodedRecord, key string) (bool, bool) {
	v, ok := r.Metadata[key]
	if !ok {
		sklog.Warningf("Record %s metadata is missing %q; skipping that rule.", r.DataID, key)
		return false, false
	}
	b, isBool := v.(bool)
	if !isBool {
		sklog.Warningf("Record %s metadata %q is not a bool; skipping that rule.", r.DataID, key)
		return false, false
	}
	return b, true
}

func metaCommentCount(r types.CodedRecord) (int, bool) {
	for _, key := range commentCountKeys {
		v, ok := r.Metadata[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n, true
		case float64:
			return int(n), true
		}
		sklog.Warningf("Record %s metadata %q is not a number; skipping that rule.", r.DataID, key)
		return 0, false
	}
	sklog.Warningf("Record %s has no comment-count metadata; skipping that rule.", r.DataID)
	return 0, false
}
