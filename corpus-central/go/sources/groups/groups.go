// Package groups collects discussion threads from Google Groups topic pages.
// There is no API; topic links are scraped from the rendered HTML, gated on
// the site's robots.txt.
package groups

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/net/html"

	"go.afterglow.org/research/corpus-central/go/anonymize"
	"go.afterglow.org/research/corpus-central/go/config"
	"go.afterglow.org/research/corpus-central/go/sources"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/httputils"
	"go.afterglow.org/research/go/now"
	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/sklog"
	"go.afterglow.org/research/go/util"
)

const (
	baseURL = "https://groups.google.com"

	// Agent name matched against robots.txt User-agent groups.
	robotsAgent = "corpus-central"
)

// groupsSource implements sources.DiscussionSource by scraping Google Groups
// topic listings.
type groupsSource struct {
	cfg        config.GoogleGroupsConfig
	anon       *anonymize.Anonymizer
	httpClient *http.Client
	dryRun     bool
}

type topic struct {
	id    string
	url   string
	title string
}

// New returns a DiscussionSource that scrapes topic listings of the
// configured groups.
func New(ctx context.Context, cfg config.GoogleGroupsConfig, anon *anonymize.Anonymizer, dryRun bool) (sources.DiscussionSource, error) {
	if len(cfg.Groups) == 0 {
		return nil, skerr.Fmt("googlegroups source is enabled but no groups are configured")
	}
	g := &groupsSource{
		cfg:    cfg,
		anon:   anon,
		dryRun: dryRun,
	}
	if !dryRun {
		// No With2xxOnly here: a robots.txt 404 means "no restrictions"
		// and must reach the parser as a status code.
		g.httpClient = httputils.DefaultClientConfig().Client()
	}
	return g, nil
}

// Name implements sources.DiscussionSource.
func (g *groupsSource) Name() types.SourceFamily {
	return types.GoogleGroupsFamily
}

// Search implements sources.DiscussionSource. When robots.txt disallows every
// configured group it returns sources.ErrBlocked.
func (g *groupsSource) Search(ctx context.Context) ([]types.Record, []types.ErrorEntry, error) {
	if g.dryRun {
		return g.mockSearch()
	}
	robots, err := g.fetchRobots(ctx)
	if err != nil {
		return nil, nil, skerr.Wrap(err)
	}
	agent := robots.FindGroup(robotsAgent)
	allowed := []string{}
	for _, group := range g.cfg.Groups {
		if !agent.Test(groupPath(group)) {
			sklog.Warningf("robots.txt disallows %s; skipping group %s.", groupPath(group), group)
			continue
		}
		allowed = append(allowed, group)
	}
	if len(allowed) == 0 {
		return nil, nil, sources.ErrBlocked
	}
	records := []types.Record{}
	errorLog := []types.ErrorEntry{}
	for i, group := range allowed {
		if i > 0 && g.cfg.PageDelay.Duration > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(g.cfg.PageDelay.Duration):
			}
		}
		if ctx.Err() != nil {
			break
		}
		groupRecords, err := g.collectGroup(ctx, group)
		if err != nil {
			sklog.Warningf("Giving up on group %s: %s", group, err)
			errorLog = append(errorLog, types.NewErrorEntry(groupPath(group), err, now.Now(ctx)))
			continue
		}
		records = append(records, groupRecords...)
	}
	sklog.Infof("Google Groups: %d records from %d groups, %d errors.", len(records), len(allowed), len(errorLog))
	return records, errorLog, nil
}

func (g *groupsSource) fetchRobots(ctx context.Context) (*robotstxt.RobotsData, error) {
	resp, err := httputils.GetWithContext(ctx, g.httpClient, baseURL+"/robots.txt")
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer util.Close(resp.Body)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	robots, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, skerr.Wrapf(err, "parsing robots.txt")
	}
	return robots, nil
}

func (g *groupsSource) collectGroup(ctx context.Context, group string) ([]types.Record, error) {
	groupURL := fmt.Sprintf("%s%s?hl=en", baseURL, groupPath(group))
	resp, err := httputils.GetWithContext(ctx, g.httpClient, groupURL)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer util.Close(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, skerr.Fmt("fetching %s: status %d", groupURL, resp.StatusCode)
	}
	topics, err := parseTopics(resp.Body, group)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if len(topics) > g.cfg.MaxItems {
		topics = topics[:g.cfg.MaxItems]
	}
	records := make([]types.Record, 0, len(topics))
	for _, t := range topics {
		records = append(records, g.topicRecord(group, t))
	}
	return records, nil
}

func (g *groupsSource) topicRecord(group string, t topic) types.Record {
	return types.Record{
		Source: types.GoogleGroupsThread,
		DataID: dataID(t.url),
		// Topic listings carry no parseable timestamp; the tag layer
		// substitutes the run time and marks the record.
		Timestamp: "",
		RawText:   t.title,
		AuthorID:  g.anon.Token(""),
		URL:       t.url,
		Metadata: map[string]interface{}{
			"group":       group,
			"topic_id":    t.id,
			"has_snippet": t.title != "",
		},
	}
}

// mockSearch produces a deterministic synthetic topic feed for dry runs.
func (g *groupsSource) mockSearch() ([]types.Record, []types.ErrorEntry, error) {
	records := make([]types.Record, 0, g.cfg.MaxItems)
	for n := 0; n < g.cfg.MaxItems; n++ {
		group := g.cfg.Groups[n%len(g.cfg.Groups)]
		id := fmt.Sprintf("mock-topic-%03d", n)
		records = append(records, g.topicRecord(group, topic{
			id:    id,
			url:   fmt.Sprintf("%s/g/%s/c/%s", baseURL, group, id),
			title: fmt.Sprintf("Synthetic topic %d in %s", n, group),
		}))
	}
	return records, []types.ErrorEntry{}, nil
}

// parseTopics extracts topic links (/g/<group>/c/<id>) from a group page.
// Google Groups renders most content client side, so this is best effort and
// may legitimately find nothing.
func parseTopics(r io.Reader, group string) ([]topic, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, skerr.Wrapf(err, "parsing page of group %s", group)
	}
	prefix := fmt.Sprintf("/g/%s/c/", group)
	seen := map[string]bool{}
	topics := []topic{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href, ok := findAttr(n, "href"); ok {
				if t, ok := topicFromHref(href, prefix, group); ok && !seen[t.id] {
					seen[t.id] = true
					t.title = strings.TrimSpace(textContent(n))
					topics = append(topics, t)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return topics, nil
}

func topicFromHref(href, prefix, group string) (topic, bool) {
	idx := strings.Index(href, prefix)
	if idx < 0 {
		return topic{}, false
	}
	rest := href[idx+len(prefix):]
	// Drop query strings, fragments and deeper path segments.
	if i := strings.IndexAny(rest, "?#/"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return topic{}, false
	}
	return topic{
		id:  rest,
		url: fmt.Sprintf("%s/g/%s/c/%s", baseURL, group, rest),
	}, true
}

func findAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func groupPath(group string) string {
	return "/g/" + url.PathEscape(group)
}

// dataID derives a stable id from a topic URL.
func dataID(topicURL string) string {
	sum := md5.Sum([]byte(topicURL))
	return "gg_" + hex.EncodeToString(sum[:])[:12]
}
