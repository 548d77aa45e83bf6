package bot

import (
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		cmd  string
		args []string
	}{
		{"/buy \"Summer Cup\"", "buy", []string{"Summer Cup"}},
		{"/BUY@SweepBot summer", "buy", []string{"summer"}},
		{"/newlottery “Big One” 123 5 winners=2", "newlottery", []string{"Big One", "123", "5", "winners=2"}},
		{"/wallet", "wallet", []string{}},
		{"hello there", "", nil},
		{"", "", nil},
	}
	for _, tt := range tests {
		cmd, args := parseCommand(tt.text)
		assert.Equal(t, tt.cmd, cmd, tt.text)
		if tt.args == nil {
			assert.Nil(t, args, tt.text)
		} else {
			assert.Equal(t, tt.args, append([]string{}, args...), tt.text)
		}
	}
}

func TestSplitArgsKeepsEmptyQuotedArgument(t *testing.T) {
	assert.Equal(t, []string{"/view", ""}, splitArgs(`/view ""`))
	assert.Equal(t, []string{"a", "b c", "d"}, splitArgs("a  \"b c\"\td"))
}

func TestMentionsFromCountsUTF16(t *testing.T) {
	// The emoji takes two UTF-16 code units, shifting the mention offset.
	text := "🎁 /grant x @alice"
	entities := []telego.MessageEntity{
		{Type: telego.EntityTypeMention, Offset: 12, Length: 6},
		{Type: telego.EntityTypeTextMention, Offset: 0, Length: 2, User: &telego.User{ID: 42, Username: "bob"}},
		{Type: telego.EntityTypeBold, Offset: 0, Length: 2},
		{Type: telego.EntityTypeMention, Offset: 40, Length: 3},
	}

	got := mentionsFrom(text, entities)
	assert.Equal(t, []Mention{{Username: "alice"}, {UserID: 42, Username: "bob"}}, got)
	assert.Nil(t, mentionsFrom(text, nil))
}

func TestWithoutMentions(t *testing.T) {
	args := []string{"Summer", "@alice", "Cup", "@bob"}
	assert.Equal(t, []string{"Summer", "Cup"}, withoutMentions(args))
	assert.Equal(t, []string{"Summer", "@alice", "Cup", "@bob"}, args)
}
