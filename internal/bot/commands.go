package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"campusbot/internal/broadcast"
	"campusbot/internal/storage"
	"campusbot/pkg/logx"
)

const storeTimeout = 10 * time.Second

func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// isSuperuser resolves the sender against the admin table. Lookup failures
// read as "no": provisioning stays closed when storage is unhappy.
func (r *Router) isSuperuser(c tele.Context) bool {
	if c.Sender() == nil {
		return false
	}
	ctx, cancel := storeCtx()
	defer cancel()
	a, ok, err := r.store.AdminByID(ctx, c.Sender().ID)
	if err != nil {
		r.log.Error("admin lookup failed", logx.Int64("sender", c.Sender().ID), logx.Err(err))
		return false
	}
	return ok && !a.Archived && a.Superuser
}

// ---- group registration ----

func (r *Router) cmdRegister(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("Usage: /register <course> [faculty]")
	}
	course := broadcast.ParseCourse(strings.ToLower(args[0]))
	if !course.Valid() {
		return c.Reply("Invalid course. Use 1-5 or \"admin\".")
	}

	ctx, cancel := storeCtx()
	defer cancel()

	var facultyID int64
	if len(args) > 1 {
		name := strings.Join(args[1:], " ")
		id, ok, err := r.store.FacultyIDByName(ctx, name)
		if err != nil {
			r.log.Error("faculty lookup failed", logx.Err(err))
			return c.Reply("Something went wrong, try again later.")
		}
		if !ok {
			return c.Reply(fmt.Sprintf("Unknown faculty %q. See /faculties.", name))
		}
		facultyID = id
	}

	if _, ok, err := r.store.GroupByID(ctx, c.Chat().ID); err != nil {
		r.log.Error("group lookup failed", logx.Err(err))
		return c.Reply("Something went wrong, try again later.")
	} else if ok {
		return c.Reply("This chat is already registered.")
	}

	g := storage.Group{ID: c.Chat().ID, Course: int(course), FacultyID: facultyID}
	if err := r.store.AddGroup(ctx, g); err != nil {
		r.log.Error("group register failed", logx.Int64("group", g.ID), logx.Err(err))
		return c.Reply("Something went wrong, try again later.")
	}
	r.log.Info("group registered", logx.Int64("group", g.ID), logx.Int("course", g.Course), logx.Int64("faculty", g.FacultyID))
	return c.Reply(fmt.Sprintf("Registered for course %s broadcasts.", course))
}

func (r *Router) cmdSetCourse(c tele.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /setcourse <course>")
	}
	course := broadcast.ParseCourse(strings.ToLower(args[0]))
	if !course.Valid() {
		return c.Reply("Invalid course. Use 1-5 or \"admin\".")
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := r.store.SetGroupCourse(ctx, c.Chat().ID, int(course)); err != nil {
		return c.Reply("This chat is not registered. Use /register first.")
	}
	return c.Reply(fmt.Sprintf("Course changed to %s.", course))
}

func (r *Router) cmdUnregister(c tele.Context) error {
	ctx, cancel := storeCtx()
	defer cancel()
	if err := r.store.DeleteGroup(ctx, c.Chat().ID); err != nil {
		r.log.Error("group unregister failed", logx.Int64("group", c.Chat().ID), logx.Err(err))
		return c.Reply("Something went wrong, try again later.")
	}
	return c.Reply("This chat will no longer receive broadcasts.")
}

// ---- faculty provisioning ----

func (r *Router) cmdAddFaculty(c tele.Context) error {
	if !r.isSuperuser(c) {
		return nil
	}
	name := strings.TrimSpace(strings.Join(c.Args(), " "))
	if name == "" {
		return c.Reply("Usage: /addfaculty <name>")
	}

	ctx, cancel := storeCtx()
	defer cancel()
	id, err := r.store.AddFaculty(ctx, name)
	if err != nil {
		r.log.Error("faculty add failed", logx.String("name", name), logx.Err(err))
		return c.Reply("Could not add faculty (duplicate name?).")
	}
	return c.Reply(fmt.Sprintf("Faculty %q added (id %d).", name, id))
}

func (r *Router) cmdFaculties(c tele.Context) error {
	ctx, cancel := storeCtx()
	defer cancel()
	fs, err := r.store.Faculties(ctx)
	if err != nil {
		r.log.Error("faculty list failed", logx.Err(err))
		return c.Reply("Something went wrong, try again later.")
	}
	if len(fs) == 0 {
		return c.Reply("No faculties yet.")
	}
	var b strings.Builder
	b.WriteString("Faculties:")
	for _, f := range fs {
		fmt.Fprintf(&b, "\n%d. %s", f.ID, f.Name)
	}
	return c.Reply(b.String())
}

// ---- admin provisioning ----

func (r *Router) cmdAddAdmin(c tele.Context) error {
	if !r.isSuperuser(c) {
		return nil
	}
	args := c.Args()
	if len(args) < 2 {
		return c.Reply("Usage: /addadmin <user id> <faculty|-> [super]")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("User id must be numeric.")
	}
	super := len(args) > 2 && strings.EqualFold(args[len(args)-1], "super")

	ctx, cancel := storeCtx()
	defer cancel()

	var facultyID int64
	facultyArgs := args[1:]
	if super {
		facultyArgs = args[1 : len(args)-1]
	}
	if name := strings.Join(facultyArgs, " "); name != "-" {
		fid, ok, err := r.store.FacultyIDByName(ctx, name)
		if err != nil {
			r.log.Error("faculty lookup failed", logx.Err(err))
			return c.Reply("Something went wrong, try again later.")
		}
		if !ok {
			return c.Reply(fmt.Sprintf("Unknown faculty %q. See /faculties.", name))
		}
		facultyID = fid
	}
	// A scoped admin must belong to a faculty; only superusers may go without.
	if facultyID == 0 && !super {
		return c.Reply("A non-super admin needs a faculty.")
	}

	a := storage.Admin{ID: id, Superuser: super, FacultyID: facultyID}
	if err := r.store.UpsertAdmin(ctx, a); err != nil {
		r.log.Error("admin add failed", logx.Int64("admin", id), logx.Err(err))
		return c.Reply("Something went wrong, try again later.")
	}
	r.log.Info("admin added", logx.Int64("admin", id), logx.Bool("super", super), logx.Int64("faculty", facultyID))
	return c.Reply("Admin added.")
}

func (r *Router) cmdAdmins(c tele.Context) error {
	if !r.isSuperuser(c) {
		return nil
	}
	ctx, cancel := storeCtx()
	defer cancel()
	admins, err := r.store.Admins(ctx)
	if err != nil {
		r.log.Error("admin list failed", logx.Err(err))
		return c.Reply("Something went wrong, try again later.")
	}
	if len(admins) == 0 {
		return c.Reply("No admins yet.")
	}
	var b strings.Builder
	b.WriteString("Admins:")
	for _, a := range admins {
		fmt.Fprintf(&b, "\n%d", a.ID)
		if a.Superuser {
			b.WriteString(" (super)")
		}
		if a.FacultyID != 0 {
			fmt.Fprintf(&b, " faculty %d", a.FacultyID)
		}
		if a.Archived {
			b.WriteString(" [archived]")
		}
	}
	return c.Reply(b.String())
}

func (r *Router) cmdArchiveAdmin(c tele.Context) error {
	return r.setAdminArchived(c, true, "Admin archived.")
}

func (r *Router) cmdRestoreAdmin(c tele.Context) error {
	return r.setAdminArchived(c, false, "Admin restored.")
}

func (r *Router) setAdminArchived(c tele.Context, archived bool, reply string) error {
	if !r.isSuperuser(c) {
		return nil
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("Usage: /archiveadmin <user id> or /restoreadmin <user id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("User id must be numeric.")
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := r.store.SetAdminArchived(ctx, id, archived); err != nil {
		return c.Reply("No such admin.")
	}
	return c.Reply(reply)
}
