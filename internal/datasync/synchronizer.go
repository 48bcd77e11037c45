// Package datasync maintains the in-memory mirrors of remote collections,
// scoped to the current session, and exposes write-through mutators. Local
// state is never patched optimistically: every write relies on the live
// subscription round-trip to land.
package datasync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/academe-app/academe/internal/backend"
	"github.com/academe-app/academe/internal/errs"
	"github.com/academe-app/academe/internal/localcache"
	"github.com/academe-app/academe/internal/model"
)

func decodeInto[T any](d backend.Document, setID func(*T, string)) (T, error) {
	var v T
	if err := backend.ScanDoc(d, &v); err != nil {
		return v, err
	}
	setID(&v, d.ID)
	return v, nil
}

// Synchronizer owns every SyncedCollection of the portal. Global mirrors
// (faculty, resources, updates, reviews) live for the whole process;
// session-scoped mirrors (courses by branch; grades, attendance and
// notifications by identity) follow Bind.
type Synchronizer struct {
	store backend.DocumentStore
	cache *localcache.Cache
	log   *zap.Logger

	faculty       *Collection[model.Faculty]
	resources     *Collection[model.Resource]
	updates       *Collection[model.Update]
	reviews       *Collection[model.Review]
	courses       *Collection[model.Course]
	grades        *Collection[model.Grade]
	attendance    *Collection[model.AttendanceEntry]
	notifications *Collection[model.Notification]

	mu           sync.Mutex
	sess         *model.Session
	globalUnsubs []backend.Unsubscribe
	scopedUnsubs []backend.Unsubscribe
}

// New constructs a Synchronizer. Call Start, then Bind on session changes.
func New(store backend.DocumentStore, cache *localcache.Cache, log *zap.Logger) *Synchronizer {
	return &Synchronizer{
		store: store,
		cache: cache,
		log:   log,
		faculty: newCollection(func(d backend.Document) (model.Faculty, error) {
			return decodeInto(d, func(v *model.Faculty, id string) { v.ID = id })
		}),
		resources: newCollection(func(d backend.Document) (model.Resource, error) {
			return decodeInto(d, func(v *model.Resource, id string) { v.ID = id })
		}),
		updates: newCollection(func(d backend.Document) (model.Update, error) {
			return decodeInto(d, func(v *model.Update, id string) { v.ID = id })
		}),
		reviews: newCollection(func(d backend.Document) (model.Review, error) {
			return decodeInto(d, func(v *model.Review, id string) { v.ID = id })
		}),
		courses: newCollection(func(d backend.Document) (model.Course, error) {
			return decodeInto(d, func(v *model.Course, id string) { v.ID = id })
		}),
		grades: newCollection(func(d backend.Document) (model.Grade, error) {
			return decodeInto(d, func(v *model.Grade, id string) { v.ID = id })
		}),
		attendance: newCollection(func(d backend.Document) (model.AttendanceEntry, error) {
			return decodeInto(d, func(v *model.AttendanceEntry, id string) { v.ID = id })
		}),
		notifications: newCollection(func(d backend.Document) (model.Notification, error) {
			return decodeInto(d, func(v *model.Notification, id string) { v.ID = id })
		}),
	}
}

func (s *Synchronizer) watchInto(ctx context.Context, q backend.Query, apply func([]backend.Document) error) (backend.Unsubscribe, error) {
	return s.store.WatchQuery(ctx, q, func(docs []backend.Document) {
		if err := apply(docs); err != nil {
			s.log.Warn("snapshot decode failed", zap.String("collection", q.Collection), zap.Error(err))
		}
	})
}

// Start opens the global subscriptions; they are torn down only by Close.
func (s *Synchronizer) Start(ctx context.Context) error {
	global := []struct {
		q     backend.Query
		apply func([]backend.Document) error
	}{
		{backend.Query{Collection: backend.CollFaculty}, s.faculty.replace},
		{backend.Query{Collection: backend.CollResources}, s.resources.replace},
		{backend.Query{Collection: backend.CollUpdates}, s.updates.replace},
		{backend.Query{Collection: backend.CollReviews}, s.reviews.replace},
	}
	for _, g := range global {
		unsub, err := s.watchInto(ctx, g.q, g.apply)
		if err != nil {
			s.Close()
			return fmt.Errorf("subscribe %s: %w", g.q.Collection, err)
		}
		s.mu.Lock()
		s.globalUnsubs = append(s.globalUnsubs, unsub)
		s.mu.Unlock()
	}
	return nil
}

// Bind switches the session-scoped subscriptions to sess. Passing the same
// identity and branch is a no-op; nil tears everything down and resets the
// scoped mirrors to empty.
func (s *Synchronizer) Bind(ctx context.Context, sess *model.Session) {
	s.mu.Lock()
	prev := s.sess
	if sess != nil && prev != nil && sess.UID == prev.UID && sess.Branch == prev.Branch {
		// Same scope; profile-field churn does not reopen subscriptions.
		cpy := *sess
		s.sess = &cpy
		s.mu.Unlock()
		return
	}
	unsubs := s.scopedUnsubs
	s.scopedUnsubs = nil
	if sess == nil {
		s.sess = nil
	} else {
		cpy := *sess
		s.sess = &cpy
	}
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}

	if sess == nil {
		s.courses.reset()
		s.grades.reset()
		s.attendance.reset()
		s.notifications.reset()
		return
	}

	scoped := []struct {
		q     backend.Query
		apply func([]backend.Document) error
	}{
		{backend.Query{Collection: backend.CollCourses, Field: "branch", Equals: sess.Branch}, s.courses.replace},
		{backend.Query{Collection: backend.CollGrades, Field: "uid", Equals: sess.UID}, s.grades.replace},
		{backend.Query{Collection: backend.CollAttendance, Field: "uid", Equals: sess.UID}, s.attendance.replace},
		{backend.Query{Collection: backend.CollNotifications, Field: "uid", Equals: sess.UID}, s.notifications.replace},
	}
	for _, sc := range scoped {
		unsub, err := s.watchInto(ctx, sc.q, sc.apply)
		if err != nil {
			s.log.Error("scoped subscription failed", zap.String("collection", sc.q.Collection), zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.scopedUnsubs = append(s.scopedUnsubs, unsub)
		s.mu.Unlock()
	}
}

// Close tears down all subscriptions.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	unsubs := append(s.scopedUnsubs, s.globalUnsubs...)
	s.scopedUnsubs, s.globalUnsubs = nil, nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// --- read access ---

// Faculty returns the global faculty directory.
func (s *Synchronizer) Faculty() []model.Faculty { return s.faculty.All() }

// Resources returns the shared resource links.
func (s *Synchronizer) Resources() []model.Resource { return s.resources.All() }

// Courses returns the courses of the bound session's branch.
func (s *Synchronizer) Courses() []model.Course { return s.courses.All() }

// Grades returns the bound student's grades.
func (s *Synchronizer) Grades() []model.Grade { return s.grades.All() }

// Attendance returns the bound student's attendance entries.
func (s *Synchronizer) Attendance() []model.AttendanceEntry { return s.attendance.All() }

// Reviews returns the reviews for one faculty member.
func (s *Synchronizer) Reviews(facultyID string) []model.Review {
	all := s.reviews.All()
	out := all[:0:0]
	for _, r := range all {
		if r.FacultyID == facultyID {
			out = append(out, r)
		}
	}
	return out
}

// Updates returns the announcements, newest first by date.
func (s *Synchronizer) Updates() []model.Update {
	out := s.updates.All()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// Notifications returns the bound user's feed, newest first. Entries with no
// timestamp sort as epoch, i.e. oldest.
func (s *Synchronizer) Notifications() []model.Notification {
	out := s.notifications.All()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// --- unread counter ---

// UnreadCount derives the unread notification count from the persisted
// last-seen total: max(0, total - lastSeen). Deletions can push the total
// below the stored mark; the count clamps at zero instead of going negative.
func (s *Synchronizer) UnreadCount() int {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return 0
	}
	unread := s.notifications.Len() - s.cache.SeenCount(sess.UID)
	if unread < 0 {
		return 0
	}
	return unread
}

// MarkNotificationsSeen records the current total as seen; the displayed
// unread count drops to zero immediately, ahead of any remote round-trip.
// Opening the panel marks all current items, never a subset.
func (s *Synchronizer) MarkNotificationsSeen() error {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return errs.ErrNoSession
	}
	return s.cache.SetSeenCount(sess.UID, s.notifications.Len())
}

// --- write-through mutators ---

func (s *Synchronizer) boundSession() (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, errs.ErrNoSession
	}
	cpy := *s.sess
	return &cpy, nil
}

func (s *Synchronizer) adminSession() (*model.Session, error) {
	sess, err := s.boundSession()
	if err != nil {
		return nil, err
	}
	if !sess.IsAdmin() {
		return nil, errs.ErrNotAdmin
	}
	return sess, nil
}

func newID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// writeThrough performs the single remote write of a mutator and logs
// failures before returning them.
func (s *Synchronizer) writeThrough(what string, err error) error {
	if err != nil {
		s.log.Warn("write-through failed", zap.String("op", what), zap.Error(err))
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// AddGrade stores a new grade for the bound student.
func (s *Synchronizer) AddGrade(ctx context.Context, g model.Grade) (string, error) {
	sess, err := s.boundSession()
	if err != nil {
		return "", err
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	g.ID = ""
	g.UID = sess.UID
	fields, err := backend.FieldsOf(g)
	if err != nil {
		return "", err
	}
	return id, s.writeThrough("add grade", s.store.Set(ctx, backend.CollGrades, id, fields, false))
}

// UpdateGrade merges changed fields of an existing grade.
func (s *Synchronizer) UpdateGrade(ctx context.Context, g model.Grade) error {
	sess, err := s.boundSession()
	if err != nil {
		return err
	}
	if g.ID == "" {
		return errs.ErrNotFound
	}
	id := g.ID
	g.ID = ""
	g.UID = sess.UID
	fields, err := backend.FieldsOf(g)
	if err != nil {
		return err
	}
	return s.writeThrough("update grade", s.store.Set(ctx, backend.CollGrades, id, fields, true))
}

// RemoveGrade deletes a grade.
func (s *Synchronizer) RemoveGrade(ctx context.Context, id string) error {
	if _, err := s.boundSession(); err != nil {
		return err
	}
	return s.writeThrough("remove grade", s.store.Delete(ctx, backend.CollGrades, id))
}

// AddAttendanceEntry stores a new attendance record for the bound student.
func (s *Synchronizer) AddAttendanceEntry(ctx context.Context, e model.AttendanceEntry) (string, error) {
	sess, err := s.boundSession()
	if err != nil {
		return "", err
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	e.ID = ""
	e.UID = sess.UID
	fields, err := backend.FieldsOf(e)
	if err != nil {
		return "", err
	}
	return id, s.writeThrough("add attendance", s.store.Set(ctx, backend.CollAttendance, id, fields, false))
}

// UpdateAttendance merges new attended/total counters into an entry.
func (s *Synchronizer) UpdateAttendance(ctx context.Context, id string, attended, total int) error {
	if _, err := s.boundSession(); err != nil {
		return err
	}
	return s.writeThrough("update attendance", s.store.Set(ctx, backend.CollAttendance, id, map[string]any{
		"attended": attended,
		"total":    total,
	}, true))
}

// AddReview stores a faculty review authored by the bound student.
func (s *Synchronizer) AddReview(ctx context.Context, facultyID string, rating int, text string) (string, error) {
	sess, err := s.boundSession()
	if err != nil {
		return "", err
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	r := model.Review{
		FacultyID: facultyID,
		UID:       sess.UID,
		Name:      sess.Name,
		Rating:    rating,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	fields, err := backend.FieldsOf(r)
	if err != nil {
		return "", err
	}
	return id, s.writeThrough("add review", s.store.Set(ctx, backend.CollReviews, id, fields, false))
}

// AddReviewReply appends one reply to a review's thread.
func (s *Synchronizer) AddReviewReply(ctx context.Context, reviewID, text string) error {
	sess, err := s.boundSession()
	if err != nil {
		return err
	}
	reply, err := backend.FieldsOf(model.ReviewReply{
		UID:       sess.UID,
		Name:      sess.Name,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.writeThrough("reply to review", s.store.AppendToArray(ctx, backend.CollReviews, reviewID, "replies", reply))
}

// DeleteReview removes a review; admin moderation only.
func (s *Synchronizer) DeleteReview(ctx context.Context, id string) error {
	if _, err := s.adminSession(); err != nil {
		return err
	}
	return s.writeThrough("delete review", s.store.Delete(ctx, backend.CollReviews, id))
}

// SaveFaculty creates or updates a faculty directory entry; admin only.
func (s *Synchronizer) SaveFaculty(ctx context.Context, f model.Faculty) (string, error) {
	if _, err := s.adminSession(); err != nil {
		return "", err
	}
	id := f.ID
	if id == "" {
		var err error
		if id, err = newID(); err != nil {
			return "", err
		}
	}
	f.ID = ""
	fields, err := backend.FieldsOf(f)
	if err != nil {
		return "", err
	}
	return id, s.writeThrough("save faculty", s.store.Set(ctx, backend.CollFaculty, id, fields, false))
}

// DeleteFaculty removes a faculty directory entry; admin only.
func (s *Synchronizer) DeleteFaculty(ctx context.Context, id string) error {
	if _, err := s.adminSession(); err != nil {
		return err
	}
	return s.writeThrough("delete faculty", s.store.Delete(ctx, backend.CollFaculty, id))
}

// SaveCourse creates or updates a course; admin only.
func (s *Synchronizer) SaveCourse(ctx context.Context, c model.Course) (string, error) {
	if _, err := s.adminSession(); err != nil {
		return "", err
	}
	id := c.ID
	if id == "" {
		var err error
		if id, err = newID(); err != nil {
			return "", err
		}
	}
	c.ID = ""
	fields, err := backend.FieldsOf(c)
	if err != nil {
		return "", err
	}
	return id, s.writeThrough("save course", s.store.Set(ctx, backend.CollCourses, id, fields, false))
}

// DeleteCourse removes a course; admin only.
func (s *Synchronizer) DeleteCourse(ctx context.Context, id string) error {
	if _, err := s.adminSession(); err != nil {
		return err
	}
	return s.writeThrough("delete course", s.store.Delete(ctx, backend.CollCourses, id))
}

// SaveResource creates or updates a resource link; admin only.
func (s *Synchronizer) SaveResource(ctx context.Context, r model.Resource) (string, error) {
	if _, err := s.adminSession(); err != nil {
		return "", err
	}
	id := r.ID
	if id == "" {
		var err error
		if id, err = newID(); err != nil {
			return "", err
		}
	}
	r.ID = ""
	fields, err := backend.FieldsOf(r)
	if err != nil {
		return "", err
	}
	return id, s.writeThrough("save resource", s.store.Set(ctx, backend.CollResources, id, fields, false))
}

// DeleteResource removes a resource link; admin only.
func (s *Synchronizer) DeleteResource(ctx context.Context, id string) error {
	if _, err := s.adminSession(); err != nil {
		return err
	}
	return s.writeThrough("delete resource", s.store.Delete(ctx, backend.CollResources, id))
}

// SaveUpdate creates or updates an announcement; admin only.
func (s *Synchronizer) SaveUpdate(ctx context.Context, u model.Update) (string, error) {
	if _, err := s.adminSession(); err != nil {
		return "", err
	}
	id := u.ID
	if id == "" {
		var err error
		if id, err = newID(); err != nil {
			return "", err
		}
	}
	if u.Date.IsZero() {
		u.Date = time.Now().UTC()
	}
	u.ID = ""
	fields, err := backend.FieldsOf(u)
	if err != nil {
		return "", err
	}
	return id, s.writeThrough("save update", s.store.Set(ctx, backend.CollUpdates, id, fields, false))
}

// DeleteUpdate removes an announcement; admin only.
func (s *Synchronizer) DeleteUpdate(ctx context.Context, id string) error {
	if _, err := s.adminSession(); err != nil {
		return err
	}
	return s.writeThrough("delete update", s.store.Delete(ctx, backend.CollUpdates, id))
}

// PushNotification adds a feed entry for one user; admin only.
func (s *Synchronizer) PushNotification(ctx context.Context, uid, title, body string) (string, error) {
	if _, err := s.adminSession(); err != nil {
		return "", err
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	n := model.Notification{
		UID:       uid,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	fields, err := backend.FieldsOf(n)
	if err != nil {
		return "", err
	}
	return id, s.writeThrough("push notification", s.store.Set(ctx, backend.CollNotifications, id, fields, false))
}

// DeleteNotification removes a feed entry; admin only.
func (s *Synchronizer) DeleteNotification(ctx context.Context, id string) error {
	if _, err := s.adminSession(); err != nil {
		return err
	}
	return s.writeThrough("delete notification", s.store.Delete(ctx, backend.CollNotifications, id))
}
