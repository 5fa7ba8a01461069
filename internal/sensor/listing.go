package sensor

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/autosupper/autosupper/internal/mission"
)

// Listing is a mission post discovered on a Reddit feed page. Record only
// carries what the markup exposes; difficulty and levels are usually filled
// later by the network sensor.
type Listing struct {
	MissionID string
	Permalink string
	Record    mission.Record
}

var (
	starsPattern  = regexp.MustCompile(`(?i)(\d)\s*(?:★|stars?)`)
	levelsPattern = regexp.MustCompile(`(?i)(?:lvl|level)s?\s*(\d+)\s*[-–]\s*(\d+)`)
)

// ScanListing extracts mission posts from listing HTML. A post counts when it
// embeds a game (devvit loader) or belongs to subreddit, when one is given.
func ScanListing(r io.Reader, base, subreddit string) ([]Listing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("error parsing listing: %w", err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("error parsing base url %q: %w", base, err)
	}

	var out []Listing
	seen := make(map[string]bool)
	doc.Find("shreddit-post").Each(func(_ int, post *goquery.Selection) {
		id, _ := post.Attr("id")
		permalink, _ := post.Attr("permalink")
		if id == "" {
			id = mission.PostIDFromPermalink(permalink)
		}
		if id == "" || permalink == "" || seen[id] {
			return
		}
		if !isGamePost(post, subreddit) {
			return
		}
		seen[id] = true

		if ref, err := url.Parse(permalink); err == nil {
			permalink = baseURL.ResolveReference(ref).String()
		}
		title := strings.TrimSpace(post.AttrOr("post-title", ""))
		rec := mission.Record{
			PostID:       id,
			Permalink:    permalink,
			MissionTitle: title,
		}
		if ts, err := time.Parse(time.RFC3339, post.AttrOr("created-timestamp", "")); err == nil {
			rec.Timestamp = ts.UnixMilli()
		}

		label := title + " " + post.Find("shreddit-post-flair").Text()
		if m := starsPattern.FindStringSubmatch(label); m != nil {
			if stars, _ := strconv.Atoi(m[1]); stars >= 1 && stars <= 5 {
				rec.Difficulty = stars
			}
		}
		if m := levelsPattern.FindStringSubmatch(label); m != nil {
			lo, _ := strconv.Atoi(m[1])
			hi, _ := strconv.Atoi(m[2])
			if lo <= hi {
				rec.MinLevel, rec.MaxLevel = mission.IntPtr(lo), mission.IntPtr(hi)
			}
		}

		out = append(out, Listing{MissionID: id, Permalink: permalink, Record: rec})
	})
	return out, nil
}

func isGamePost(post *goquery.Selection, subreddit string) bool {
	if post.Find("shreddit-devvit-ui-loader").Length() > 0 {
		return true
	}
	if subreddit == "" {
		return false
	}
	name := strings.TrimPrefix(strings.ToLower(post.AttrOr("subreddit-prefixed-name", "")), "r/")
	return name == strings.ToLower(strings.TrimPrefix(subreddit, "r/"))
}
