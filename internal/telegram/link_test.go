package telegram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLink(t *testing.T) {
	tests := []struct {
		name string
		link string
		want Reference
	}{
		{
			name: "private channel",
			link: "t.me/c/2342349151/1200",
			want: Reference{Chat: ChatByID(-1002342349151), MessageID: 1200, Visibility: VisibilityPrivate},
		},
		{
			name: "public channel",
			link: "t.me/mychannel/55",
			want: Reference{Chat: ChatByUsername("mychannel"), MessageID: 55, Visibility: VisibilityPublic},
		},
		{
			name: "https scheme",
			link: "https://t.me/mychannel/55",
			want: Reference{Chat: ChatByUsername("mychannel"), MessageID: 55, Visibility: VisibilityPublic},
		},
		{
			name: "telegram.me with www and trailing slash",
			link: "http://www.telegram.me/c/1234/7/",
			want: Reference{Chat: ChatByID(-1000000001234), MessageID: 7, Visibility: VisibilityPrivate},
		},
		{
			name: "query string is ignored",
			link: "https://t.me/mychannel/55?single",
			want: Reference{Chat: ChatByUsername("mychannel"), MessageID: 55, Visibility: VisibilityPublic},
		},
		{
			name: "surrounding whitespace",
			link: "  t.me/mychannel/55 \n",
			want: Reference{Chat: ChatByUsername("mychannel"), MessageID: 55, Visibility: VisibilityPublic},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLink(tt.link)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLink_Invalid(t *testing.T) {
	links := []string{
		"not-a-link",
		"",
		"t.me/mychannel",
		"t.me/c/12345",
		"t.me/mychannel/0",
		"t.me/c/0/5",
		"t.me/mychannel/55/extra",
		"example.com/mychannel/55",
		"xt.me/mychannel/55",
		"t.me/my-channel/55",
		"t.me/mychannel/abc",
	}

	for _, link := range links {
		t.Run(link, func(t *testing.T) {
			_, err := ParseLink(link)
			assert.True(t, errors.Is(err, ErrInvalidReference), "got %v", err)
		})
	}
}

func TestParseChatRef(t *testing.T) {
	ref, err := ParseChatRef("-1002342349151")
	require.NoError(t, err)
	assert.Equal(t, ChatByID(-1002342349151), ref)

	id, ok := ref.ChannelID()
	assert.True(t, ok)
	assert.Equal(t, int64(2342349151), id)

	ref, err = ParseChatRef("@golang_news")
	require.NoError(t, err)
	assert.Equal(t, "golang_news", ref.Username)
	assert.Equal(t, "@golang_news", ref.String())

	ref, err = ParseChatRef("12345")
	require.NoError(t, err)
	_, ok = ref.ChannelID()
	assert.False(t, ok)

	for _, bad := range []string{"", "0", "@", "bad name"} {
		_, err := ParseChatRef(bad)
		assert.ErrorIs(t, err, ErrInvalidReference, bad)
	}
}
