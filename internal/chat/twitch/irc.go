package twitch

import (
	"strings"

	"github.com/yegors/clipgremlin/internal/chat"
)

// message is one parsed IRC line with IRCv3 tags
type message struct {
	Tags     map[string]string
	Prefix   string
	Command  string
	Params   []string
	Trailing string
}

func splitLines(data []byte) []string {
	var lines []string
	for _, l := range strings.Split(string(data), "\r\n") {
		if l = strings.TrimRight(l, "\r\n"); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// parseMessage parses "@tags :prefix COMMAND params :trailing"
func parseMessage(line string) message {
	var m message
	rest := line

	if strings.HasPrefix(rest, "@") {
		var tags string
		tags, rest, _ = strings.Cut(rest[1:], " ")
		m.Tags = make(map[string]string)
		for _, kv := range strings.Split(tags, ";") {
			k, v, _ := strings.Cut(kv, "=")
			m.Tags[k] = unescapeTag(v)
		}
	}
	rest = strings.TrimLeft(rest, " ")

	if strings.HasPrefix(rest, ":") {
		m.Prefix, rest, _ = strings.Cut(rest[1:], " ")
	}

	var trailing string
	var hasTrailing bool
	if i := strings.Index(rest, " :"); i >= 0 {
		trailing, hasTrailing = rest[i+2:], true
		rest = rest[:i]
	} else if strings.HasPrefix(rest, ":") {
		trailing, hasTrailing = rest[1:], true
		rest = ""
	}

	fields := strings.Fields(rest)
	if len(fields) > 0 {
		m.Command = strings.ToUpper(fields[0])
		m.Params = fields[1:]
	}
	if hasTrailing {
		m.Trailing = trailing
	}
	return m
}

// nick extracts the nickname from a nick!user@host prefix
func (m message) nick() string {
	n, _, _ := strings.Cut(m.Prefix, "!")
	return n
}

func (m message) event() chat.Event {
	user := m.Tags["display-name"]
	if user == "" {
		user = m.nick()
	}
	badges := m.Tags["badges"]
	return chat.Event{
		User:        user,
		Text:        m.Trailing,
		Moderator:   m.Tags["mod"] == "1" || strings.Contains(badges, "moderator/"),
		Broadcaster: strings.Contains(badges, "broadcaster/"),
	}
}

var tagUnescaper = strings.NewReplacer(`\:`, ";", `\s`, " ", `\\`, `\`, `\r`, "\r", `\n`, "\n")

func unescapeTag(v string) string {
	return tagUnescaper.Replace(v)
}
