// Command seed loads a starter dataset (faculty directory, course
// catalogue, resources, announcements) into the portal database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/academe-app/academe/internal/backend"
	"github.com/academe-app/academe/internal/backend/mongostore"
	"github.com/academe-app/academe/internal/model"
)

func main() {
	envFile := flag.String("env", ".env", "environment file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, stop, err := mongostore.Connect(ctx,
		os.Getenv("ACADEME_MONGO_URI"), os.Getenv("ACADEME_DB_NAME"), logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer stop()

	writes := append(facultyWrites(), courseWrites()...)
	writes = append(writes, resourceWrites()...)
	writes = append(writes, updateWrites()...)

	if err := store.BatchWrite(ctx, writes); err != nil {
		logger.Fatal("seed", zap.Error(err))
	}
	logger.Info("seeded", zap.Int("documents", len(writes)))
}

func newID() string {
	id, _ := uuid.NewV4()
	return id.String()
}

func write(collection string, v any) backend.Write {
	fields, _ := backend.FieldsOf(v)
	return backend.Write{Collection: collection, ID: newID(), Fields: fields}
}

func facultyWrites() []backend.Write {
	entries := []model.Faculty{
		{Name: "Dr. Asha Pillai", Department: "CSE", Cabin: "B-214", Email: "asha.pillai@campus.edu"},
		{Name: "Prof. R. Venkatesh", Department: "ECE", Cabin: "C-103", Email: "r.venkatesh@campus.edu"},
		{Name: "Dr. Meera Nair", Department: "CSE", Cabin: "B-220", Email: "meera.nair@campus.edu"},
		{Name: "Prof. Sanjay Gupta", Department: "MECH", Cabin: "A-017", Email: "sanjay.gupta@campus.edu"},
	}
	out := make([]backend.Write, 0, len(entries))
	for _, f := range entries {
		out = append(out, write(backend.CollFaculty, f))
	}
	return out
}

func courseWrites() []backend.Write {
	entries := []model.Course{
		{Branch: "CSE", Code: "CS301", Title: "Operating Systems", Credits: 4, Semester: "5"},
		{Branch: "CSE", Code: "CS302", Title: "Database Systems", Credits: 4, Semester: "5"},
		{Branch: "CSE", Code: "CS303", Title: "Computer Networks", Credits: 3, Semester: "5"},
		{Branch: "ECE", Code: "EC301", Title: "Digital Signal Processing", Credits: 4, Semester: "5"},
		{Branch: "ECE", Code: "EC302", Title: "Embedded Systems", Credits: 3, Semester: "5"},
		{Branch: "MECH", Code: "ME301", Title: "Thermodynamics II", Credits: 4, Semester: "5"},
	}
	out := make([]backend.Write, 0, len(entries))
	for _, c := range entries {
		out = append(out, write(backend.CollCourses, c))
	}
	return out
}

func resourceWrites() []backend.Write {
	entries := []model.Resource{
		{Title: "Previous year question papers", URL: "https://drive.campus.edu/pyq", Kind: "papers"},
		{Title: "OS lecture notes", URL: "https://drive.campus.edu/os-notes", Kind: "notes"},
		{Title: "GPA calculator sheet", URL: "https://drive.campus.edu/gpa-sheet", Kind: "tools"},
	}
	out := make([]backend.Write, 0, len(entries))
	for _, r := range entries {
		out = append(out, write(backend.CollResources, r))
	}
	return out
}

func updateWrites() []backend.Write {
	now := time.Now().UTC()
	entries := []model.Update{
		{Title: "Semester registration open", Body: "Register for the odd semester before the 15th.", Date: now},
		{Title: "Library timings extended", Body: "The central library stays open until 23:00 during exams.", Date: now.Add(-48 * time.Hour)},
	}
	out := make([]backend.Write, 0, len(entries))
	for _, u := range entries {
		out = append(out, write(backend.CollUpdates, u))
	}
	return out
}
