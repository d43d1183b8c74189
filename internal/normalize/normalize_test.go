package normalize

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "citations newlines backslashes", in: "Tall. [3]\nStrong\\ arms   here", want: "Tall. Strong arms here"},
		{name: "surrounding whitespace", in: "  \n Luffy wears a straw hat. \n", want: "Luffy wears a straw hat."},
		{name: "multi digit citation", in: "Rubber body[12][104] stretches.", want: "Rubber body stretches."},
		{name: "non numeric brackets kept", in: "Known as [citation needed].", want: "Known as [citation needed]."},
		{name: "non ascii stripped", in: "Café owner — chef", want: "Caf owner  chef"},
		{name: "tabs are non printable", in: "a\tb", want: "ab"},
		{name: "empty", in: "", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Text(tc.in))
		})
	}
}

func TestYear(t *testing.T) {
	t.Parallel()

	year, err := Year("1999")
	require.NoError(t, err)
	assert.Equal(t, 1999, year)

	year, err = Year(" 2004 \n")
	require.NoError(t, err)
	assert.Equal(t, 2004, year)
}

func TestYearRejectsNonInteger(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"unknown", "", "19.99", "1999?"} {
		_, err := Year(raw)
		require.Error(t, err, raw)

		var nerr *Error
		require.True(t, errors.As(err, &nerr))
		assert.Equal(t, FieldYear, nerr.Field)
		assert.Equal(t, raw, nerr.Raw)

		var numErr *strconv.NumError
		assert.True(t, errors.As(err, &numErr))
	}
}

func TestField(t *testing.T) {
	t.Parallel()

	got, err := Field(FieldPersonality, " Brave [1] ")
	require.NoError(t, err)
	assert.Equal(t, "Brave", got)

	got, err = Field(FieldYear, "1997")
	require.NoError(t, err)
	assert.Equal(t, 1997, got)

	got, err = Field("note", "  untouched [1] ")
	require.NoError(t, err)
	assert.Equal(t, "  untouched [1] ", got)

	_, err = Field(FieldYear, "n/a")
	require.Error(t, err)
}
