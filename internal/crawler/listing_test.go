package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingFixture = `<html><body>
<table class="wikitable"><tbody>
<tr><th>#</th><th>Name</th><th>Episode</th><th>Chapter</th><th>Year</th><th>Note</th></tr>
<tr><td>1</td><td><a href="/wiki/Monkey_D._Luffy" title="Monkey D. Luffy">Monkey D. Luffy</a></td><td>007</td><td>012</td><td> 1997 </td><td> Captain </td></tr>
<tr><td>2</td><td><a class="new">Unwritten</a></td><td>0</td><td></td><td>2001</td><td></td></tr>
</tbody></table>
<table class="wikitable"><tbody>
<tr><td>9</td><td><a href="/wiki/Other">Other</a></td><td>1</td><td>1</td><td>1999</td><td></td></tr>
</tbody></table>
</body></html>`

func TestParseListing(t *testing.T) {
	t.Parallel()

	records, err := ParseListing([]byte(listingFixture))
	require.NoError(t, err)
	require.Len(t, records, 2)

	luffy := records[0]
	assert.Equal(t, "Monkey D. Luffy", luffy.Name)
	assert.Equal(t, "/wiki/Monkey_D._Luffy", luffy.Href)
	assert.Equal(t, "Episode 7", luffy.Episode)
	assert.Equal(t, "Chapter 12", luffy.Chapter)
	assert.Equal(t, "1997", luffy.Year)
	require.NotNil(t, luffy.Note)
	assert.Equal(t, "Captain", *luffy.Note)
	assert.Nil(t, luffy.Appearance)

	unwritten := records[1]
	assert.Equal(t, "Unwritten", unwritten.Name)
	assert.Empty(t, unwritten.Href)
	assert.Equal(t, "Episode ", unwritten.Episode)
	assert.Empty(t, unwritten.Chapter)
	assert.Nil(t, unwritten.Note)
}

func TestParseListingWithoutTable(t *testing.T) {
	t.Parallel()

	_, err := ParseListing([]byte("<html><body><p>maintenance</p></body></html>"))
	require.ErrorContains(t, err, "no wikitable")
}

func TestTrimLeadingZeros(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"007":  "7",
		"012":  "12",
		"100":  "100",
		"0":    "",
		"0000": "",
		"":     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, trimLeadingZeros(in), "input %q", in)
	}
}

func TestDetailURL(t *testing.T) {
	t.Parallel()

	got, err := DetailURL("https://wiki.test", "/wiki/Nami")
	require.NoError(t, err)
	assert.Equal(t, "https://wiki.test/wiki/Nami", got)

	got, err = DetailURL("https://wiki.test/wiki/List", "https://other.test/wiki/Zoro")
	require.NoError(t, err)
	assert.Equal(t, "https://other.test/wiki/Zoro", got)

	_, err = DetailURL("https://wiki.test", "  ")
	assert.True(t, errors.Is(err, ErrNoLink))
}

func TestSubPageURL(t *testing.T) {
	t.Parallel()

	got, ok := SubPageURL("https://wiki.test/wiki/Nami/", SectionPersonality)
	require.True(t, ok)
	assert.Equal(t, "https://wiki.test/wiki/Nami/Personality_and_Relationships", got)

	got, ok = SubPageURL("https://wiki.test/wiki/Nami", SectionAbilitiesAndPowers)
	require.True(t, ok)
	assert.Equal(t, "https://wiki.test/wiki/Nami/Abilities_and_Powers", got)

	_, ok = SubPageURL("https://wiki.test/wiki/Nami", SectionAppearance)
	assert.False(t, ok)
}
