package bot

import (
	"regexp"
	"strings"

	"campusbot/internal/broadcast"
)

// Broadcast command grammar, kept close to the chat conventions admins
// already use:
//
//	broadcast: 1 2 Physics Mathematics. message text
//	broadcast: everyone. message text
//
// Course tokens come first (digits or "admin"), then optional faculty
// names, then a period, then the message body.
var (
	broadcastRe    = regexp.MustCompile(`(?is)^\s*broadcast:\s*((?:-?\d+|admin)(?:\s+(?:-?\d+|admin))*)([^.]*)\.\s*(.*)$`)
	broadcastAllRe = regexp.MustCompile(`(?is)^\s*broadcast:\s*everyone\s*\.\s*(.*)$`)
)

// Command is a parsed broadcast command. The scope is already tokenized;
// the engine never sees raw command text.
type Command struct {
	Scope        broadcast.Scope
	FacultyNames []string
	Text         string
}

// ParseBroadcast matches text against the broadcast grammar. The second
// return value reports whether the text was a broadcast command at all.
func ParseBroadcast(text string) (Command, bool) {
	if m := broadcastAllRe.FindStringSubmatch(text); m != nil {
		return Command{
			Scope: broadcast.Scope{Everyone: true},
			Text:  strings.TrimSpace(m[1]),
		}, true
	}
	m := broadcastRe.FindStringSubmatch(text)
	if m == nil {
		return Command{}, false
	}

	var courses []broadcast.Course
	for _, tok := range strings.Fields(m[1]) {
		courses = append(courses, broadcast.ParseCourse(tok))
	}

	return Command{
		Scope:        broadcast.Scope{Courses: courses},
		FacultyNames: strings.Fields(m[2]),
		Text:         strings.TrimSpace(m[3]),
	}, true
}
