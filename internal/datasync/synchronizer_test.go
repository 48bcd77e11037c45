package datasync

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/academe-app/academe/internal/backend"
	"github.com/academe-app/academe/internal/backend/membackend"
	"github.com/academe-app/academe/internal/errs"
	"github.com/academe-app/academe/internal/localcache"
	"github.com/academe-app/academe/internal/model"
)

type fixture struct {
	sync  *Synchronizer
	store *membackend.Store
	cache *localcache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: membackend.NewStore(),
		cache: localcache.New(t.TempDir()),
	}
	f.sync = New(f.store, f.cache, zap.NewNop())
	if err := f.sync.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(f.sync.Close)
	return f
}

func (f *fixture) bindStudent(t *testing.T, uid, branch string) *model.Session {
	t.Helper()
	sess := &model.Session{UID: uid, Name: "A", Branch: branch, Role: model.RoleStudent}
	f.sync.Bind(context.Background(), sess)
	return sess
}

func (f *fixture) bindAdmin(t *testing.T, uid string) *model.Session {
	t.Helper()
	sess := &model.Session{UID: uid, Name: "Root", Branch: "CSE", Role: model.RoleAdmin}
	f.sync.Bind(context.Background(), sess)
	return sess
}

func (f *fixture) seed(t *testing.T, collection, id string, v any) {
	t.Helper()
	fields, err := backend.FieldsOf(v)
	if err != nil {
		t.Fatalf("FieldsOf: %v", err)
	}
	if err := f.store.Set(context.Background(), collection, id, fields, false); err != nil {
		t.Fatalf("seed %s/%s: %v", collection, id, err)
	}
}

func TestGlobalFacultyMirror(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Global scope: visible without any session.
	f.seed(t, backend.CollFaculty, "f1", model.Faculty{Name: "Dr. Rao", Department: "CSE"})
	got := f.sync.Faculty()
	if len(got) != 1 || got[0].Name != "Dr. Rao" || got[0].ID != "f1" {
		t.Fatalf("faculty = %+v", got)
	}

	// Mirrors rebuild on remote deletes too.
	if err := f.store.Delete(context.Background(), backend.CollFaculty, "f1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(f.sync.Faculty()) != 0 {
		t.Fatalf("faculty mirror kept a deleted entry")
	}
}

func TestScopedMirrors_FollowSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, backend.CollCourses, "c1", model.Course{Branch: "CSE", Code: "CS101"})
	f.seed(t, backend.CollCourses, "c2", model.Course{Branch: "ECE", Code: "EC101"})
	f.seed(t, backend.CollGrades, "g1", model.Grade{UID: "u1", Course: "CS101", Grade: "A", Credits: 4})
	f.seed(t, backend.CollGrades, "g2", model.Grade{UID: "u2", Course: "CS101", Grade: "B", Credits: 4})

	// No session: scoped mirrors stay empty.
	if len(f.sync.Courses()) != 0 || len(f.sync.Grades()) != 0 {
		t.Fatalf("scoped mirrors populated without a session")
	}

	f.bindStudent(t, "u1", "CSE")
	if got := f.sync.Courses(); len(got) != 1 || got[0].Code != "CS101" {
		t.Fatalf("courses = %+v", got)
	}
	if got := f.sync.Grades(); len(got) != 1 || got[0].ID != "g1" {
		t.Fatalf("grades = %+v", got)
	}

	// Branch change reopens the course subscription with the new filter.
	f.sync.Bind(ctx, &model.Session{UID: "u1", Branch: "ECE", Role: model.RoleStudent})
	if got := f.sync.Courses(); len(got) != 1 || got[0].Code != "EC101" {
		t.Fatalf("courses after branch change = %+v", got)
	}

	// Identity change swaps the per-user mirrors.
	f.sync.Bind(ctx, &model.Session{UID: "u2", Branch: "ECE", Role: model.RoleStudent})
	if got := f.sync.Grades(); len(got) != 1 || got[0].ID != "g2" {
		t.Fatalf("grades after identity change = %+v", got)
	}

	// Session gone: scoped mirrors reset; the global one survives.
	f.seed(t, backend.CollFaculty, "f1", model.Faculty{Name: "Dr. Rao"})
	f.sync.Bind(ctx, nil)
	if len(f.sync.Courses()) != 0 || len(f.sync.Grades()) != 0 {
		t.Fatalf("scoped mirrors not reset")
	}
	if len(f.sync.Faculty()) != 1 {
		t.Fatalf("global mirror lost on unbind")
	}
}

func TestBind_SameScopeIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.bindStudent(t, "u1", "CSE")
	f.seed(t, backend.CollGrades, "g1", model.Grade{UID: "u1", Course: "CS101", Grade: "A", Credits: 4})

	// Profile churn that keeps uid+branch must not drop mirrored state.
	f.sync.Bind(ctx, &model.Session{UID: "u1", Branch: "CSE", Name: "Renamed", Role: model.RoleStudent})
	if len(f.sync.Grades()) != 1 {
		t.Fatalf("grade mirror lost on same-scope rebind")
	}
}

func TestWriteThrough_RoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.bindStudent(t, "u1", "CSE")

	id, err := f.sync.AddGrade(ctx, model.Grade{Course: "CS101", Grade: "A", Credits: 4})
	if err != nil {
		t.Fatalf("AddGrade: %v", err)
	}
	// Local state arrives via the subscription round-trip, not the mutator.
	g, ok := f.sync.grades.Get(id)
	if !ok || g.UID != "u1" || g.Grade != "A" {
		t.Fatalf("grade not mirrored: %+v ok=%v", g, ok)
	}

	if err := f.sync.UpdateGrade(ctx, model.Grade{ID: id, Course: "CS101", Grade: "O", Credits: 4}); err != nil {
		t.Fatalf("UpdateGrade: %v", err)
	}
	if g, _ := f.sync.grades.Get(id); g.Grade != "O" {
		t.Fatalf("update not mirrored: %+v", g)
	}

	if err := f.sync.RemoveGrade(ctx, id); err != nil {
		t.Fatalf("RemoveGrade: %v", err)
	}
	if _, ok := f.sync.grades.Get(id); ok {
		t.Fatalf("removed grade still mirrored")
	}
}

func TestAttendanceMutators(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.bindStudent(t, "u1", "CSE")

	id, err := f.sync.AddAttendanceEntry(ctx, model.AttendanceEntry{Course: "CS101", Attended: 10, Total: 12})
	if err != nil {
		t.Fatalf("AddAttendanceEntry: %v", err)
	}
	if err := f.sync.UpdateAttendance(ctx, id, 11, 13); err != nil {
		t.Fatalf("UpdateAttendance: %v", err)
	}
	e, ok := f.sync.attendance.Get(id)
	if !ok || e.Attended != 11 || e.Total != 13 {
		t.Fatalf("attendance = %+v ok=%v", e, ok)
	}
}

func TestMutators_RequireSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sync.AddGrade(ctx, model.Grade{}); !errors.Is(err, errs.ErrNoSession) {
		t.Fatalf("AddGrade without session: %v", err)
	}
	if err := f.sync.UpdateAttendance(ctx, "x", 1, 2); !errors.Is(err, errs.ErrNoSession) {
		t.Fatalf("UpdateAttendance without session: %v", err)
	}
	if err := f.sync.MarkNotificationsSeen(); !errors.Is(err, errs.ErrNoSession) {
		t.Fatalf("MarkNotificationsSeen without session: %v", err)
	}
}

func TestAdminMutators_RequireAdmin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.bindStudent(t, "u1", "CSE")

	if _, err := f.sync.SaveFaculty(ctx, model.Faculty{Name: "X"}); !errors.Is(err, errs.ErrNotAdmin) {
		t.Fatalf("SaveFaculty as student: %v", err)
	}
	if _, err := f.sync.PushNotification(ctx, "u2", "t", "b"); !errors.Is(err, errs.ErrNotAdmin) {
		t.Fatalf("PushNotification as student: %v", err)
	}

	f.bindAdmin(t, "u1")
	id, err := f.sync.SaveFaculty(ctx, model.Faculty{Name: "Dr. Rao", Department: "CSE"})
	if err != nil {
		t.Fatalf("SaveFaculty as admin: %v", err)
	}
	if _, ok := f.sync.faculty.Get(id); !ok {
		t.Fatalf("faculty not mirrored")
	}
	if err := f.sync.DeleteFaculty(ctx, id); err != nil {
		t.Fatalf("DeleteFaculty: %v", err)
	}
}

func TestReviews_AndReplies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.bindStudent(t, "u1", "CSE")

	id, err := f.sync.AddReview(ctx, "f1", 4, "great lectures")
	if err != nil {
		t.Fatalf("AddReview: %v", err)
	}
	got := f.sync.Reviews("f1")
	if len(got) != 1 || got[0].Rating != 4 || got[0].Name != "A" {
		t.Fatalf("reviews = %+v", got)
	}
	if len(f.sync.Reviews("f2")) != 0 {
		t.Fatalf("review leaked across faculty")
	}

	if err := f.sync.AddReviewReply(ctx, id, "agreed"); err != nil {
		t.Fatalf("AddReviewReply: %v", err)
	}
	got = f.sync.Reviews("f1")
	if len(got[0].Replies) != 1 || got[0].Replies[0].Text != "agreed" {
		t.Fatalf("replies = %+v", got[0].Replies)
	}

	if err := f.sync.DeleteReview(ctx, id); !errors.Is(err, errs.ErrNotAdmin) {
		t.Fatalf("student deleted a review: %v", err)
	}
	f.bindAdmin(t, "u1")
	if err := f.sync.DeleteReview(ctx, id); err != nil {
		t.Fatalf("DeleteReview: %v", err)
	}
	if len(f.sync.Reviews("f1")) != 0 {
		t.Fatalf("deleted review still mirrored")
	}
}

func TestNotifications_OrderNewestFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.bindStudent(t, "u1", "CSE")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.seed(t, backend.CollNotifications, "n1", model.Notification{UID: "u1", Title: "old", CreatedAt: base})
	f.seed(t, backend.CollNotifications, "n2", model.Notification{UID: "u1", Title: "new", CreatedAt: base.Add(time.Hour)})
	// Missing timestamp sorts as epoch, i.e. last.
	f.seed(t, backend.CollNotifications, "n3", model.Notification{UID: "u1", Title: "undated"})

	got := f.sync.Notifications()
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Title != "new" || got[1].Title != "old" || got[2].Title != "undated" {
		t.Fatalf("order = %q %q %q", got[0].Title, got[1].Title, got[2].Title)
	}
}

func TestUnreadCounter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.bindStudent(t, "u1", "CSE")

	if f.sync.UnreadCount() != 0 {
		t.Fatalf("empty feed unread = %d", f.sync.UnreadCount())
	}
	for i, id := range []string{"n1", "n2", "n3"} {
		f.seed(t, backend.CollNotifications, id, model.Notification{
			UID: "u1", Title: id, CreatedAt: time.Date(2026, 3, 1, 10, i, 0, 0, time.UTC),
		})
	}
	if f.sync.UnreadCount() != 3 {
		t.Fatalf("unread = %d, want 3", f.sync.UnreadCount())
	}

	// Opening the panel marks everything seen immediately.
	if err := f.sync.MarkNotificationsSeen(); err != nil {
		t.Fatalf("MarkNotificationsSeen: %v", err)
	}
	if f.sync.UnreadCount() != 0 {
		t.Fatalf("unread after seen = %d", f.sync.UnreadCount())
	}

	f.seed(t, backend.CollNotifications, "n4", model.Notification{UID: "u1", Title: "n4", CreatedAt: time.Now()})
	if f.sync.UnreadCount() != 1 {
		t.Fatalf("unread after new item = %d", f.sync.UnreadCount())
	}

	// Server-side deletions can drop the total below the stored mark; the
	// computed count clamps at zero.
	ctx := context.Background()
	for _, id := range []string{"n1", "n2", "n3", "n4"} {
		if err := f.store.Delete(ctx, backend.CollNotifications, id); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}
	if f.sync.UnreadCount() != 0 {
		t.Fatalf("unread went negative: %d", f.sync.UnreadCount())
	}

	// The mark is per identity.
	if f.cache.SeenCount("u2") != 0 {
		t.Fatalf("seen count leaked across identities")
	}
}

func TestUpdates_NewestFirstByDate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.bindAdmin(t, "u1")
	ctx := context.Background()

	if _, err := f.sync.SaveUpdate(ctx, model.Update{Title: "old", Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatalf("SaveUpdate: %v", err)
	}
	if _, err := f.sync.SaveUpdate(ctx, model.Update{Title: "new", Date: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatalf("SaveUpdate: %v", err)
	}
	got := f.sync.Updates()
	if len(got) != 2 || got[0].Title != "new" {
		t.Fatalf("updates order = %+v", got)
	}
}

func TestResources_AdminCRUD(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.bindAdmin(t, "u1")
	ctx := context.Background()

	id, err := f.sync.SaveResource(ctx, model.Resource{Title: "Syllabus", URL: "https://x", Kind: "pdf"})
	if err != nil {
		t.Fatalf("SaveResource: %v", err)
	}
	if got := f.sync.Resources(); len(got) != 1 || got[0].Title != "Syllabus" {
		t.Fatalf("resources = %+v", got)
	}
	if err := f.sync.DeleteResource(ctx, id); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	if len(f.sync.Resources()) != 0 {
		t.Fatalf("deleted resource still mirrored")
	}
}
