// Package model defines domain entities shared by the session and sync layers.
package model

import "time"

// Role distinguishes the two authorization levels the portal knows about.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// BranchUnset is the placeholder branch written for federated first-time
// sign-ins; a profile is considered incomplete until it is replaced.
const BranchUnset = ""

// Session is the in-memory representation of the currently authenticated
// user with identity and profile fields merged (profile wins on conflict).
type Session struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Branch   string `json:"branch"`
	Year     string `json:"year"`
	RegNo    string `json:"regNo"`
	PhotoURL string `json:"photoURL"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the session carries admin authorization.
func (s *Session) IsAdmin() bool { return s != nil && s.Role == RoleAdmin }

// ProfileComplete reports whether the profile has a real branch value,
// i.e. a federated sign-in has finished the profile-completion step.
func (s *Session) ProfileComplete() bool { return s != nil && s.Branch != BranchUnset }

// Profile is the remote user-profile document backing a Session.
type Profile struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Branch    string    `json:"branch"`
	Year      string    `json:"year"`
	RegNo     string    `json:"regNo"`
	PhotoURL  string    `json:"photoURL"`
	Role      Role      `json:"role"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"createdAt"`
}

// Grade is one course result owned by a single student.
type Grade struct {
	ID       string  `json:"id"`
	UID      string  `json:"uid"`
	Course   string  `json:"course"`
	Credits  float64 `json:"credits"`
	Grade    string  `json:"grade"`
	Semester string  `json:"semester"`
}

// AttendanceEntry tracks attended/total classes for one course of one student.
type AttendanceEntry struct {
	ID       string `json:"id"`
	UID      string `json:"uid"`
	Course   string `json:"course"`
	Attended int    `json:"attended"`
	Total    int    `json:"total"`
}

// Faculty is one directory entry; the faculty collection is global.
type Faculty struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Cabin      string `json:"cabin"`
	Email      string `json:"email"`
	PhotoURL   string `json:"photoURL"`
}

// Course belongs to an academic branch; students see their branch only.
type Course struct {
	ID       string  `json:"id"`
	Branch   string  `json:"branch"`
	Code     string  `json:"code"`
	Title    string  `json:"title"`
	Credits  float64 `json:"credits"`
	Semester string  `json:"semester"`
}

// Notification is a per-user feed entry, newest first.
type Notification struct {
	ID        string    `json:"id"`
	UID       string    `json:"uid"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReviewReply is one threaded reply appended to a review.
type ReviewReply struct {
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Review is a student-authored faculty review with an appendable reply thread.
type Review struct {
	ID        string        `json:"id"`
	FacultyID string        `json:"facultyId"`
	UID       string        `json:"uid"`
	Name      string        `json:"name"`
	Rating    int           `json:"rating"`
	Text      string        `json:"text"`
	Replies   []ReviewReply `json:"replies"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Resource is a shared external link (notes, papers, tools).
type Resource struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Kind  string `json:"kind"`
}

// Update is a portal-wide announcement, newest first by date.
type Update struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
	Date  time.Time `json:"date"`
}
