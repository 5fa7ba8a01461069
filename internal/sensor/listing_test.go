package sensor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><body>
<shreddit-post id="t3_aaa" permalink="/r/SwordAndSupperGame/comments/aaa/goblin_supper/"
  post-title="Goblin Supper [2 stars] Lvl 1-15" created-timestamp="2025-08-01T10:00:00+00:00"
  subreddit-prefixed-name="r/SwordAndSupperGame">
  <shreddit-devvit-ui-loader></shreddit-devvit-ui-loader>
</shreddit-post>
<shreddit-post id="t3_bbb" permalink="/r/SwordAndSupperGame/comments/bbb/ice_tea/"
  post-title="Ice Tea" subreddit-prefixed-name="r/SwordAndSupperGame">
  <shreddit-post-flair>3★ Level 5 - 40</shreddit-post-flair>
</shreddit-post>
<shreddit-post id="t3_ccc" permalink="/r/golang/comments/ccc/not_a_game/" post-title="Generics"
  subreddit-prefixed-name="r/golang"></shreddit-post>
<shreddit-post id="t3_aaa" permalink="/r/SwordAndSupperGame/comments/aaa/goblin_supper/"></shreddit-post>
</body></html>`

func TestScanListing(t *testing.T) {
	got, err := ScanListing(strings.NewReader(listingHTML), "https://www.reddit.com/r/SwordAndSupperGame/", "SwordAndSupperGame")
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "t3_aaa", first.MissionID)
	assert.Equal(t, "https://www.reddit.com/r/SwordAndSupperGame/comments/aaa/goblin_supper/", first.Permalink)
	assert.Equal(t, 2, first.Record.Difficulty)
	require.NotNil(t, first.Record.MinLevel)
	assert.Equal(t, 1, *first.Record.MinLevel)
	assert.Equal(t, 15, *first.Record.MaxLevel)
	assert.Equal(t, int64(1754042400000), first.Record.Timestamp)

	second := got[1]
	assert.Equal(t, "t3_bbb", second.MissionID)
	assert.Equal(t, 3, second.Record.Difficulty)
	assert.Equal(t, 40, *second.Record.MaxLevel)
}

func TestScanListingWithoutSubredditNeedsEmbed(t *testing.T) {
	got, err := ScanListing(strings.NewReader(listingHTML), "https://www.reddit.com/", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t3_aaa", got[0].MissionID)
}

func TestScanListingTakesIDFromPermalink(t *testing.T) {
	html := `<shreddit-post permalink="/r/SwordAndSupperGame/comments/ddd/stew/" post-title="Stew">
  <shreddit-devvit-ui-loader></shreddit-devvit-ui-loader>
</shreddit-post>`
	got, err := ScanListing(strings.NewReader(html), "https://www.reddit.com/", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t3_ddd", got[0].MissionID)
	assert.Equal(t, "t3_ddd", got[0].Record.PostID)
}
