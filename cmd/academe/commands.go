package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/academe-app/academe/internal/academics"
	"github.com/academe-app/academe/internal/model"
	"github.com/academe-app/academe/internal/session"
)

func cmdSignup(a *app, args []string) {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	name := fs.String("name", "", "full name")
	branch := fs.String("branch", "", "academic branch")
	year := fs.String("year", "", "year of study")
	regno := fs.String("regno", "", "registration number")
	_ = fs.Parse(args)

	sess, err := a.mgr.Signup(a.ctx, session.SignupDraft{
		Email:    *email,
		Password: *password,
		Name:     *name,
		Branch:   *branch,
		Year:     *year,
		RegNo:    *regno,
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("welcome, %s (%s)\n", sess.Name, sess.Email)
}

func cmdLogin(a *app, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	_ = fs.Parse(args)

	sess, err := a.mgr.Login(a.ctx, *email, *password)
	if err != nil {
		fail(err)
	}
	fmt.Printf("signed in as %s\n", sess.Email)
}

func cmdLoginSSO(a *app) {
	sess, complete, err := a.mgr.FederatedLogin(a.ctx)
	if err != nil {
		fail(err)
	}
	fmt.Printf("signed in as %s\n", sess.Email)
	if !complete {
		fmt.Println("profile incomplete: set your branch and year with the web portal, or ask an admin")
	}
}

func cmdWhoami(a *app) {
	sess := a.mgr.Current()
	if sess == nil {
		fmt.Println("not signed in")
		return
	}
	fmt.Printf("%s <%s>\n", sess.Name, sess.Email)
	fmt.Printf("  uid:    %s\n", sess.UID)
	fmt.Printf("  branch: %s  year: %s  regno: %s\n", sess.Branch, sess.Year, sess.RegNo)
	fmt.Printf("  role:   %s\n", sess.Role)
}

func cmdPasswd(a *app, args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	newPass := fs.String("new", "", "new password")
	_ = fs.Parse(args)

	if err := a.mgr.ChangePassword(a.ctx, *newPass); err != nil {
		fail(err)
	}
	fmt.Println("password changed")
}

func cmdVerifyAdmin(a *app, args []string) {
	fs := flag.NewFlagSet("verify-admin", flag.ExitOnError)
	pin := fs.String("pin", "", "admin PIN")
	_ = fs.Parse(args)

	if err := a.mgr.VerifyAdmin(*pin); err != nil {
		fail(err)
	}
	fmt.Println("admin verified")
}

func cmdCGPA(a *app) {
	grades := a.sync.Grades()
	if len(grades) == 0 {
		fmt.Println("no grades recorded")
		return
	}
	fmt.Printf("CGPA: %.2f (%d courses)\n", academics.CGPA(grades), len(grades))
}

func cmdGrades(a *app, args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		for _, g := range a.sync.Grades() {
			fmt.Printf("%s  %-24s %4.1f cr  %-3s sem %s\n", g.ID, g.Course, g.Credits, g.Grade, g.Semester)
		}
	case "add":
		fs := flag.NewFlagSet("grades add", flag.ExitOnError)
		course := fs.String("course", "", "course name")
		credits := fs.Float64("credits", 0, "credit weight")
		grade := fs.String("grade", "", "letter grade")
		sem := fs.String("semester", "", "semester")
		_ = fs.Parse(args[1:])
		id, err := a.sync.AddGrade(a.ctx, model.Grade{
			Course: *course, Credits: *credits, Grade: *grade, Semester: *sem,
		})
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	case "update":
		fs := flag.NewFlagSet("grades update", flag.ExitOnError)
		id := fs.String("id", "", "grade id")
		course := fs.String("course", "", "course name")
		credits := fs.Float64("credits", 0, "credit weight")
		grade := fs.String("grade", "", "letter grade")
		sem := fs.String("semester", "", "semester")
		_ = fs.Parse(args[1:])
		err := a.sync.UpdateGrade(a.ctx, model.Grade{
			ID: *id, Course: *course, Credits: *credits, Grade: *grade, Semester: *sem,
		})
		if err != nil {
			fail(err)
		}
	case "rm":
		fs := flag.NewFlagSet("grades rm", flag.ExitOnError)
		id := fs.String("id", "", "grade id")
		_ = fs.Parse(args[1:])
		if err := a.sync.RemoveGrade(a.ctx, *id); err != nil {
			fail(err)
		}
	default:
		usage()
	}
}

func cmdAttendance(a *app, args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("attendance list", flag.ExitOnError)
		target := fs.Float64("target", 75, "target attendance percent")
		_ = fs.Parse(args[1:])
		entries := a.sync.Attendance()
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-24s %3d/%3d  %5.1f%%", e.ID, e.Course, e.Attended, e.Total, academics.Percentage(e))
			if need := academics.ClassesNeeded(e, *target); need > 0 {
				line += fmt.Sprintf("  attend next %d", need)
			} else if bunk := academics.ClassesBunkable(e, *target); bunk > 0 {
				line += fmt.Sprintf("  can skip %d", bunk)
			}
			fmt.Println(line)
		}
		if len(entries) > 0 {
			fmt.Printf("overall: %.1f%%\n", academics.Overall(entries))
		}
	case "add":
		fs := flag.NewFlagSet("attendance add", flag.ExitOnError)
		course := fs.String("course", "", "course name")
		attended := fs.Int("attended", 0, "classes attended")
		total := fs.Int("total", 0, "classes held")
		_ = fs.Parse(args[1:])
		id, err := a.sync.AddAttendanceEntry(a.ctx, model.AttendanceEntry{
			Course: *course, Attended: *attended, Total: *total,
		})
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	case "mark":
		fs := flag.NewFlagSet("attendance mark", flag.ExitOnError)
		id := fs.String("id", "", "entry id")
		attended := fs.Int("attended", 0, "classes attended")
		total := fs.Int("total", 0, "classes held")
		_ = fs.Parse(args[1:])
		if err := a.sync.UpdateAttendance(a.ctx, *id, *attended, *total); err != nil {
			fail(err)
		}
	default:
		usage()
	}
}

func cmdCourses(a *app) {
	for _, c := range a.sync.Courses() {
		fmt.Printf("%s  %-10s %-32s %4.1f cr  sem %s\n", c.ID, c.Code, c.Title, c.Credits, c.Semester)
	}
}

func cmdFaculty(a *app, args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		for _, f := range a.sync.Faculty() {
			fmt.Printf("%s  %-24s %-16s cabin %s  %s\n", f.ID, f.Name, f.Department, f.Cabin, f.Email)
		}
	case "add":
		fs := flag.NewFlagSet("faculty add", flag.ExitOnError)
		name := fs.String("name", "", "faculty name")
		dept := fs.String("dept", "", "department")
		cabin := fs.String("cabin", "", "cabin")
		email := fs.String("email", "", "email")
		photo := fs.String("photo", "", "photo URL")
		_ = fs.Parse(args[1:])
		id, err := a.sync.SaveFaculty(a.ctx, model.Faculty{
			Name: *name, Department: *dept, Cabin: *cabin, Email: *email, PhotoURL: *photo,
		})
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	case "rm":
		fs := flag.NewFlagSet("faculty rm", flag.ExitOnError)
		id := fs.String("id", "", "faculty id")
		_ = fs.Parse(args[1:])
		if err := a.sync.DeleteFaculty(a.ctx, *id); err != nil {
			fail(err)
		}
	default:
		usage()
	}
}

func cmdReviews(a *app, args []string) {
	if len(args) == 0 {
		usage()
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("reviews list", flag.ExitOnError)
		facultyID := fs.String("faculty", "", "faculty id")
		_ = fs.Parse(args[1:])
		for _, r := range a.sync.Reviews(*facultyID) {
			fmt.Printf("%s  %d/5 by %s: %s\n", r.ID, r.Rating, r.Name, r.Text)
			for _, rep := range r.Replies {
				fmt.Printf("    ↳ %s: %s\n", rep.Name, rep.Text)
			}
		}
	case "add":
		fs := flag.NewFlagSet("reviews add", flag.ExitOnError)
		facultyID := fs.String("faculty", "", "faculty id")
		rating := fs.Int("rating", 0, "rating 1-5")
		text := fs.String("text", "", "review text")
		_ = fs.Parse(args[1:])
		id, err := a.sync.AddReview(a.ctx, *facultyID, *rating, *text)
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	case "reply":
		fs := flag.NewFlagSet("reviews reply", flag.ExitOnError)
		id := fs.String("id", "", "review id")
		text := fs.String("text", "", "reply text")
		_ = fs.Parse(args[1:])
		if err := a.sync.AddReviewReply(a.ctx, *id, *text); err != nil {
			fail(err)
		}
	case "rm":
		fs := flag.NewFlagSet("reviews rm", flag.ExitOnError)
		id := fs.String("id", "", "review id")
		_ = fs.Parse(args[1:])
		if err := a.sync.DeleteReview(a.ctx, *id); err != nil {
			fail(err)
		}
	default:
		usage()
	}
}

func cmdResources(a *app, args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		for _, r := range a.sync.Resources() {
			fmt.Printf("%s  [%s] %s  %s\n", r.ID, r.Kind, r.Title, r.URL)
		}
	case "add":
		fs := flag.NewFlagSet("resources add", flag.ExitOnError)
		title := fs.String("title", "", "title")
		url := fs.String("url", "", "link")
		kind := fs.String("kind", "notes", "resource kind")
		_ = fs.Parse(args[1:])
		id, err := a.sync.SaveResource(a.ctx, model.Resource{Title: *title, URL: *url, Kind: *kind})
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	case "rm":
		fs := flag.NewFlagSet("resources rm", flag.ExitOnError)
		id := fs.String("id", "", "resource id")
		_ = fs.Parse(args[1:])
		if err := a.sync.DeleteResource(a.ctx, *id); err != nil {
			fail(err)
		}
	default:
		usage()
	}
}

func cmdUpdates(a *app, args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		for _, u := range a.sync.Updates() {
			date := ""
			if !u.Date.IsZero() {
				date = u.Date.Format("2006-01-02")
			}
			fmt.Printf("%s  %-10s %s\n    %s\n", u.ID, date, u.Title, u.Body)
		}
	case "add":
		fs := flag.NewFlagSet("updates add", flag.ExitOnError)
		title := fs.String("title", "", "title")
		body := fs.String("body", "", "body")
		_ = fs.Parse(args[1:])
		id, err := a.sync.SaveUpdate(a.ctx, model.Update{Title: *title, Body: *body, Date: time.Now().UTC()})
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	case "rm":
		fs := flag.NewFlagSet("updates rm", flag.ExitOnError)
		id := fs.String("id", "", "update id")
		_ = fs.Parse(args[1:])
		if err := a.sync.DeleteUpdate(a.ctx, *id); err != nil {
			fail(err)
		}
	default:
		usage()
	}
}

func cmdNotices(a *app, args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("notices list", flag.ExitOnError)
		markSeen := fs.Bool("seen", false, "mark all as seen after listing")
		_ = fs.Parse(args[1:])
		if unread := a.sync.UnreadCount(); unread > 0 {
			fmt.Printf("%d unread\n", unread)
		}
		for _, n := range a.sync.Notifications() {
			when := ""
			if !n.CreatedAt.IsZero() {
				when = n.CreatedAt.Local().Format("Jan 2 15:04")
			}
			fmt.Printf("%s  %-14s %s\n    %s\n", n.ID, when, n.Title, n.Body)
		}
		if *markSeen {
			if err := a.sync.MarkNotificationsSeen(); err != nil {
				fail(err)
			}
		}
	case "push":
		fs := flag.NewFlagSet("notices push", flag.ExitOnError)
		uid := fs.String("uid", "", "recipient uid")
		title := fs.String("title", "", "title")
		body := fs.String("body", "", "body")
		_ = fs.Parse(args[1:])
		id, err := a.sync.PushNotification(a.ctx, *uid, *title, *body)
		if err != nil {
			fail(err)
		}
		fmt.Println(id)
	case "rm":
		fs := flag.NewFlagSet("notices rm", flag.ExitOnError)
		id := fs.String("id", "", "notification id")
		_ = fs.Parse(args[1:])
		if err := a.sync.DeleteNotification(a.ctx, *id); err != nil {
			fail(err)
		}
	default:
		usage()
	}
}
