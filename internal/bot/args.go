package bot

import (
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/mymmrac/telego"
)

// parseCommand splits "/cmd@BotName arg "quoted arg"" into the lowercase command
// name and its arguments. Double quotes group words; typographic quotes count too.
func parseCommand(text string) (string, []string) {
	tokens := splitArgs(text)
	if len(tokens) == 0 || !strings.HasPrefix(tokens[0], "/") {
		return "", nil
	}
	cmd := strings.TrimPrefix(tokens[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), tokens[1:]
}

func splitArgs(text string) []string {
	var (
		out     []string
		current strings.Builder
		quoted  bool
		started bool
	)
	flush := func() {
		if started {
			out = append(out, current.String())
		}
		current.Reset()
		started = false
	}
	for _, r := range text {
		switch {
		case r == '"' || r == '“' || r == '”':
			if quoted {
				quoted = false
				flush()
			} else {
				flush()
				quoted = true
				started = true
			}
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			current.WriteRune(r)
			started = true
		}
	}
	flush()
	return out
}

// Mention is a user referenced in a message, either by id (text_mention) or by
// @username.
type Mention struct {
	UserID   int64
	Username string
}

// mentionsFrom extracts mentions from message entities. Entity offsets count
// UTF-16 code units.
func mentionsFrom(text string, entities []telego.MessageEntity) []Mention {
	if len(entities) == 0 {
		return nil
	}
	units := utf16.Encode([]rune(text))
	var out []Mention
	for _, e := range entities {
		switch e.Type {
		case telego.EntityTypeTextMention:
			if e.User != nil {
				out = append(out, Mention{UserID: e.User.ID, Username: e.User.Username})
			}
		case telego.EntityTypeMention:
			if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
				continue
			}
			name := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
			out = append(out, Mention{Username: strings.TrimPrefix(name, "@")})
		}
	}
	return out
}

// withoutMentions drops @username tokens from args.
func withoutMentions(args []string) []string {
	out := args[:0:0]
	for _, a := range args {
		if !strings.HasPrefix(a, "@") {
			out = append(out, a)
		}
	}
	return out
}
