package bot

import (
	"context"
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"

	"campusbot/internal/broadcast"
	"campusbot/internal/storage"
	"campusbot/pkg/logx"
)

// broadcastTimeout caps one whole fan-out. The engine itself is not
// cancellable mid-flight by contract; the command layer owns the deadline.
const broadcastTimeout = 5 * time.Minute

// Router wires Telegram updates to the broadcast engine and to the
// provisioning commands.
type Router struct {
	engine *broadcast.Service
	store  *storage.Store
	log    logx.Logger
}

func New(engine *broadcast.Service, store *storage.Store, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{engine: engine, store: store, log: log}
}

// Attach registers all handlers. Call before the bot starts polling.
func (r *Router) Attach(b *tele.Bot) {
	b.Handle(tele.OnText, r.onText)

	b.Handle("/register", r.cmdRegister)
	b.Handle("/setcourse", r.cmdSetCourse)
	b.Handle("/unregister", r.cmdUnregister)

	b.Handle("/addfaculty", r.cmdAddFaculty)
	b.Handle("/faculties", r.cmdFaculties)

	b.Handle("/addadmin", r.cmdAddAdmin)
	b.Handle("/admins", r.cmdAdmins)
	b.Handle("/archiveadmin", r.cmdArchiveAdmin)
	b.Handle("/restoreadmin", r.cmdRestoreAdmin)
}

func (r *Router) onText(c tele.Context) error {
	cmd, ok := ParseBroadcast(c.Text())
	if !ok {
		return nil
	}
	return r.handleBroadcast(c, cmd)
}

func (r *Router) handleBroadcast(c tele.Context, cmd Command) error {
	msg := c.Message()
	if msg == nil || msg.Sender == nil {
		return nil
	}

	text := cmd.Text
	var attachments []string
	// A broadcast can carry its body by replying to the message to forward.
	if text == "" && msg.ReplyTo != nil {
		text = replyText(msg.ReplyTo)
		if msg.ReplyTo.Photo != nil {
			attachments = append(attachments, msg.ReplyTo.Photo.FileID)
		}
	}
	if msg.Photo != nil {
		attachments = append(attachments, msg.Photo.FileID)
	}
	if text == "" && len(attachments) == 0 {
		return c.Reply("Nothing to broadcast.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()

	rep, err := r.engine.Broadcast(ctx, broadcast.Request{
		Scope:        cmd.Scope,
		FacultyNames: cmd.FacultyNames,
		SenderID:     msg.Sender.ID,
		Text:         text,
		Attachments:  attachments,
	})
	switch {
	case errors.Is(err, broadcast.ErrNotAuthorized):
		// Unknown senders get silence, same as any other unrecognized text.
		return nil
	case errors.Is(err, broadcast.ErrInvalidScope):
		return c.Reply("No valid courses in the broadcast scope.")
	case err != nil:
		r.log.Error("broadcast failed", logx.Int64("sender", msg.Sender.ID), logx.Err(err))
		return c.Reply("Broadcast failed, try again later.")
	}

	return c.Reply(formatReport(rep))
}

func replyText(m *tele.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}
