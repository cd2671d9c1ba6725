package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"campusbot/internal/transport"
	"campusbot/pkg/logx"
)

// fakeStore implements Directory, Ledger, and AdminStore over in-memory
// maps, with per-call error injection and call counting.
type fakeStore struct {
	mu sync.Mutex

	admins    map[int64]Admin
	groups    []fakeGroup
	faculties map[string]int64
	names     map[int64]string

	lookupErr map[string]error // key "<course>/<faculty>"; "all" for the wildcard

	dirReads int
	deleted  []int64

	messages []fakeMessage
	receipts []fakeReceipt
}

type fakeGroup struct {
	id        int64
	course    int
	facultyID int64
}

type fakeMessage struct {
	text     string
	authorID int64
}

type fakeReceipt struct {
	groupID   int64
	messageID int64
	delivered bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		admins:    map[int64]Admin{},
		faculties: map[string]int64{},
		names:     map[int64]string{},
		lookupErr: map[string]error{},
	}
}

func (f *fakeStore) addFaculty(id int64, name string) {
	f.faculties[name] = id
	f.names[id] = name
}

func (f *fakeStore) AdminByID(_ context.Context, id int64) (Admin, bool, error) {
	a, ok := f.admins[id]
	return a, ok, nil
}

func (f *fakeStore) GroupIDsByCourseFaculty(_ context.Context, course int, facultyID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirReads++
	if err := f.lookupErr[fmt.Sprintf("%d/%d", course, facultyID)]; err != nil {
		return nil, err
	}
	var out []int64
	for _, g := range f.groups {
		if g.course != course {
			continue
		}
		if facultyID != 0 && g.facultyID != facultyID {
			continue
		}
		out = append(out, g.id)
	}
	return out, nil
}

func (f *fakeStore) AllGroupIDs(_ context.Context, excludeAdminCourse bool) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirReads++
	if err := f.lookupErr["all"]; err != nil {
		return nil, err
	}
	var out []int64
	for _, g := range f.groups {
		if excludeAdminCourse && g.course == -1 {
			continue
		}
		out = append(out, g.id)
	}
	return out, nil
}

func (f *fakeStore) FacultyIDByName(_ context.Context, name string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirReads++
	id, ok := f.faculties[name]
	return id, ok, nil
}

func (f *fakeStore) FacultyNameByID(_ context.Context, id int64) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[id]
	return name, ok, nil
}

func (f *fakeStore) DeleteGroup(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	kept := f.groups[:0]
	for _, g := range f.groups {
		if g.id != id {
			kept = append(kept, g)
		}
	}
	f.groups = kept
	return nil
}

func (f *fakeStore) CreateMessage(_ context.Context, text string, _ []string, authorID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, fakeMessage{text: text, authorID: authorID})
	return int64(len(f.messages)), nil
}

func (f *fakeStore) RecordReceipt(_ context.Context, groupID, messageID int64, delivered bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, fakeReceipt{groupID: groupID, messageID: messageID, delivered: delivered})
	return nil
}

// fakeSender fails sends per-chat with the configured error.
type fakeSender struct {
	mu    sync.Mutex
	fail  map[int64]error
	calls []int64
}

func (s *fakeSender) SendText(_ context.Context, to transport.Target, _ string, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, to.ChatID)
	if s.fail == nil {
		return nil
	}
	return s.fail[to.ChatID]
}

func newService(st *fakeStore, snd *fakeSender) *Service {
	return New(Config{RatePerSec: 1000}, st, st, st, snd, logx.Nop())
}

func TestBroadcastFullSuccess(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[1] = Admin{ID: 1, Superuser: true}
	st.addFaculty(7, "Physics")
	st.groups = []fakeGroup{
		{id: 10, course: 2, facultyID: 7},
		{id: 11, course: 2, facultyID: 7},
		{id: 12, course: 3, facultyID: 7},
	}
	snd := &fakeSender{}

	rep, err := newService(st, snd).Broadcast(context.Background(), Request{
		Scope:        Scope{Courses: []Course{2, 3}},
		FacultyNames: []string{"Physics"},
		SenderID:     1,
		Text:         "hello",
	})
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if len(rep.Pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(rep.Pairs))
	}
	if rep.Pairs[0].Course != "2" || rep.Pairs[1].Course != "3" {
		t.Fatalf("pair order = %s,%s, want 2,3", rep.Pairs[0].Course, rep.Pairs[1].Course)
	}
	if rep.Pairs[0].Faculty != "Physics" {
		t.Fatalf("faculty = %q, want Physics", rep.Pairs[0].Faculty)
	}
	if got, want := len(rep.Pairs[0].Delivered), 2; got != want {
		t.Fatalf("pair 0 outcomes = %d, want %d", got, want)
	}
	if rep.Outcome() != FullySent {
		t.Fatalf("outcome = %v, want FullySent", rep.Outcome())
	}
	if len(st.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(st.messages))
	}
	if len(st.receipts) != 3 {
		t.Fatalf("receipts = %d, want 3", len(st.receipts))
	}
	for _, r := range st.receipts {
		if !r.delivered || r.messageID != rep.MessageID {
			t.Fatalf("unexpected receipt %+v", r)
		}
	}
}

func TestScopedAdminTargetsOwnFacultyOnly(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[5] = Admin{ID: 5, FacultyID: 7}
	st.addFaculty(7, "Physics")
	st.addFaculty(9, "History")
	st.groups = []fakeGroup{
		{id: 20, course: 2, facultyID: 7},
		{id: 21, course: 2, facultyID: 9},
		{id: 22, course: 3, facultyID: 7},
	}
	snd := &fakeSender{}

	rep, err := newService(st, snd).Broadcast(context.Background(), Request{
		Scope:        Scope{Courses: []Course{3, 2}},
		FacultyNames: []string{"History"}, // must be ignored for scoped admins
		SenderID:     5,
	})
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if len(rep.Pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(rep.Pairs))
	}
	for i, want := range []string{"2", "3"} {
		if rep.Pairs[i].Course != want || rep.Pairs[i].Faculty != "Physics" {
			t.Fatalf("pair %d = %s/%s, want %s/Physics", i, rep.Pairs[i].Course, rep.Pairs[i].Faculty, want)
		}
	}
	for _, id := range snd.calls {
		if id == 21 {
			t.Fatal("sent to a group outside the admin's faculty")
		}
	}
}

func TestWildcardRequiresSuperuser(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[5] = Admin{ID: 5, FacultyID: 7}
	snd := &fakeSender{}

	_, err := newService(st, snd).Broadcast(context.Background(), Request{
		Scope:    Scope{Everyone: true},
		SenderID: 5,
	})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if st.dirReads != 0 {
		t.Fatalf("directory reads = %d, want 0", st.dirReads)
	}
	if len(snd.calls) != 0 || len(st.messages) != 0 {
		t.Fatal("wildcard rejection must precede any send or ledger write")
	}
}

func TestUnknownOrArchivedSender(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[6] = Admin{ID: 6, Superuser: true, Archived: true}
	snd := &fakeSender{}
	svc := newService(st, snd)

	for _, sender := range []int64{6, 999} {
		_, err := svc.Broadcast(context.Background(), Request{
			Scope:    Scope{Courses: []Course{1}},
			SenderID: sender,
		})
		if !errors.Is(err, ErrNotAuthorized) {
			t.Fatalf("sender %d: err = %v, want ErrNotAuthorized", sender, err)
		}
	}
}

func TestInvalidScope(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[1] = Admin{ID: 1, Superuser: true}
	snd := &fakeSender{}

	_, err := newService(st, snd).Broadcast(context.Background(), Request{
		Scope:    Scope{Courses: []Course{CourseInvalid, CourseInvalid, AdminCourse}},
		SenderID: 1,
	})
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("err = %v, want ErrInvalidScope", err)
	}
	if len(snd.calls) != 0 || len(st.messages) != 0 || len(st.receipts) != 0 {
		t.Fatal("invalid scope must not touch transport or ledger")
	}
}

func TestPermanentRejectionPrunesGroup(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[1] = Admin{ID: 1, Superuser: true}
	st.addFaculty(7, "Physics")
	st.groups = []fakeGroup{
		{id: 30, course: 1, facultyID: 7},
		{id: 31, course: 1, facultyID: 7},
		{id: 32, course: 1, facultyID: 7},
	}
	snd := &fakeSender{fail: map[int64]error{
		31: &transport.PermanentRejection{Code: 403, Description: "bot was blocked"},
	}}

	rep, err := newService(st, snd).Broadcast(context.Background(), Request{
		Scope:        Scope{Courses: []Course{1}},
		FacultyNames: []string{"Physics"},
		SenderID:     1,
	})
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if len(st.deleted) != 1 || st.deleted[0] != 31 {
		t.Fatalf("deleted = %v, want [31]", st.deleted)
	}
	want := []bool{true, false, true}
	got := rep.Pairs[0].Delivered
	if len(got) != len(want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("outcomes = %v, want %v", got, want)
		}
	}
	if rep.Outcome() != PartiallySent {
		t.Fatalf("outcome = %v, want PartiallySent", rep.Outcome())
	}
	// The failed send still has its receipt, marked undelivered.
	var found bool
	for _, r := range st.receipts {
		if r.groupID == 31 {
			found = true
			if r.delivered {
				t.Fatal("receipt for rejected group marked delivered")
			}
		}
	}
	if !found {
		t.Fatal("missing receipt for rejected group")
	}
}

func TestTransientSendErrorDoesNotPrune(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[1] = Admin{ID: 1, Superuser: true}
	st.addFaculty(7, "Physics")
	st.groups = []fakeGroup{{id: 40, course: 1, facultyID: 7}}
	snd := &fakeSender{fail: map[int64]error{40: errors.New("timeout")}}

	rep, err := newService(st, snd).Broadcast(context.Background(), Request{
		Scope:        Scope{Courses: []Course{1}},
		FacultyNames: []string{"Physics"},
		SenderID:     1,
	})
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if len(st.deleted) != 0 {
		t.Fatalf("deleted = %v, want none", st.deleted)
	}
	if rep.Outcome() != NotSent {
		t.Fatalf("outcome = %v, want NotSent", rep.Outcome())
	}
}

func TestPairIsolationOnStoreError(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[1] = Admin{ID: 1, Superuser: true}
	st.addFaculty(7, "Physics")
	st.groups = []fakeGroup{{id: 50, course: 2, facultyID: 7}}
	st.lookupErr["1/7"] = errors.New("db locked")
	snd := &fakeSender{}

	rep, err := newService(st, snd).Broadcast(context.Background(), Request{
		Scope:        Scope{Courses: []Course{1, 2}},
		FacultyNames: []string{"Physics"},
		SenderID:     1,
	})
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if len(rep.Pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(rep.Pairs))
	}
	// Failed pair collapses to a single false; sibling is unaffected.
	if got := rep.Pairs[0].Delivered; len(got) != 1 || got[0] {
		t.Fatalf("failed pair outcomes = %v, want [false]", got)
	}
	if got := rep.Pairs[1].Delivered; len(got) != 1 || !got[0] {
		t.Fatalf("healthy pair outcomes = %v, want [true]", got)
	}
	if rep.Outcome() != PartiallySent {
		t.Fatalf("outcome = %v, want PartiallySent", rep.Outcome())
	}
}

func TestEmptyRecipientListKeepsFacultyName(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[1] = Admin{ID: 1, Superuser: true}
	st.addFaculty(7, "Physics")
	snd := &fakeSender{}

	rep, err := newService(st, snd).Broadcast(context.Background(), Request{
		Scope:        Scope{Courses: []Course{4}},
		FacultyNames: []string{"Physics"},
		SenderID:     1,
	})
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	p := rep.Pairs[0]
	if len(p.Delivered) != 1 || p.Delivered[0] {
		t.Fatalf("outcomes = %v, want [false]", p.Delivered)
	}
	if p.Faculty != "Physics" {
		t.Fatalf("faculty = %q, want the resolved name, not %q", p.Faculty, unknownFaculty)
	}
	if len(snd.calls) != 0 {
		t.Fatal("nothing should be sent for an empty pair")
	}
}

func TestWildcardBroadcastSkipsAdminRooms(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[1] = Admin{ID: 1, Superuser: true}
	st.groups = []fakeGroup{
		{id: 60, course: 1},
		{id: 61, course: -1}, // admin room, excluded from "everyone"
		{id: 62, course: 5},
	}
	snd := &fakeSender{}

	rep, err := newService(st, snd).Broadcast(context.Background(), Request{
		Scope:    Scope{Everyone: true},
		SenderID: 1,
		Text:     "campus-wide",
	})
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if len(rep.Pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(rep.Pairs))
	}
	p := rep.Pairs[0]
	if p.Course != allLabel || p.Faculty != allLabel {
		t.Fatalf("labels = %s/%s, want %s/%s", p.Course, p.Faculty, allLabel, allLabel)
	}
	if len(p.Delivered) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(p.Delivered))
	}
	for _, id := range snd.calls {
		if id == 61 {
			t.Fatal("sent to an admin room via wildcard")
		}
	}
}

func TestUnknownFacultyNamesDropped(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[1] = Admin{ID: 1, Superuser: true}
	st.addFaculty(7, "Physics")
	st.groups = []fakeGroup{{id: 70, course: 1, facultyID: 7}}
	snd := &fakeSender{}
	svc := newService(st, snd)

	rep, err := svc.Broadcast(context.Background(), Request{
		Scope:        Scope{Courses: []Course{1}},
		FacultyNames: []string{"Fizics", "Physics"},
		SenderID:     1,
	})
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if len(rep.Pairs) != 1 || rep.Pairs[0].Faculty != "Physics" {
		t.Fatalf("pairs = %+v, want one Physics pair", rep.Pairs)
	}

	// All names unknown: nothing to target, nothing written.
	rep, err = svc.Broadcast(context.Background(), Request{
		Scope:        Scope{Courses: []Course{1}},
		FacultyNames: []string{"Fizics"},
		SenderID:     1,
	})
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if len(rep.Pairs) != 0 {
		t.Fatalf("pairs = %d, want 0", len(rep.Pairs))
	}
	if len(st.messages) != 1 {
		t.Fatalf("messages = %d, want 1 (no message for the empty expansion)", len(st.messages))
	}
}

func TestRepeatedBroadcastWritesNewReceipts(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.admins[1] = Admin{ID: 1, Superuser: true}
	st.addFaculty(7, "Physics")
	st.groups = []fakeGroup{{id: 80, course: 1, facultyID: 7}}
	snd := &fakeSender{}
	svc := newService(st, snd)

	req := Request{Scope: Scope{Courses: []Course{1}}, FacultyNames: []string{"Physics"}, SenderID: 1, Text: "again"}
	rep1, err := svc.Broadcast(context.Background(), req)
	if err != nil {
		t.Fatalf("first Broadcast error: %v", err)
	}
	rep2, err := svc.Broadcast(context.Background(), req)
	if err != nil {
		t.Fatalf("second Broadcast error: %v", err)
	}
	if rep1.MessageID == rep2.MessageID {
		t.Fatal("each invocation must create a new message")
	}
	if len(st.receipts) != 2 {
		t.Fatalf("receipts = %d, want 2", len(st.receipts))
	}
	if len(rep1.Pairs[0].Delivered) != len(rep2.Pairs[0].Delivered) {
		t.Fatal("identical inputs must produce identical outcome shapes")
	}
}
