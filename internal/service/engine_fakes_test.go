package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/curriculum"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/internal/repository"
	"github.com/noah-isme/tutorhub-api/pkg/database"
	"github.com/noah-isme/tutorhub-api/pkg/mailer"
)

// memWorld is an in-memory database shared by the store fakes below. memTx snapshots it
// before each unit of work and restores the snapshot when the work fails.
type memWorld struct {
	mu            sync.Mutex
	sessions      map[string]models.Session
	enrollments   map[string]models.Enrollment
	transactions  []models.CreditTransaction
	programs      map[string]models.Program
	progress      map[string]models.CurriculumProgress
	requests      map[string]models.CancellationRequest
	contacts      map[string]models.StudentContact
	experience    map[string]int
	assignments   []models.Assignment
	templates     map[string]models.MessageTemplate
	announcements []models.Announcement
	slots         []models.AvailabilitySlot
	blocked       map[string]bool
	failOn        map[string]error
}

func newMemWorld() *memWorld {
	return &memWorld{
		sessions:    map[string]models.Session{},
		enrollments: map[string]models.Enrollment{},
		programs:    map[string]models.Program{},
		progress:    map[string]models.CurriculumProgress{},
		requests:    map[string]models.CancellationRequest{},
		contacts:    map[string]models.StudentContact{},
		experience:  map[string]int{},
		templates:   map[string]models.MessageTemplate{},
		blocked:     map[string]bool{},
		failOn:      map[string]error{},
	}
}

func (w *memWorld) fail(op string) error {
	return w.failOn[op]
}

func (w *memWorld) snapshot() *memWorld {
	snap := newMemWorld()
	for k, v := range w.sessions {
		snap.sessions[k] = v
	}
	for k, v := range w.enrollments {
		snap.enrollments[k] = v
	}
	snap.transactions = append([]models.CreditTransaction(nil), w.transactions...)
	for k, v := range w.programs {
		snap.programs[k] = v
	}
	for k, v := range w.progress {
		v.Tree = *v.Tree.Clone()
		snap.progress[k] = v
	}
	for k, v := range w.requests {
		snap.requests[k] = v
	}
	for k, v := range w.contacts {
		snap.contacts[k] = v
	}
	for k, v := range w.experience {
		snap.experience[k] = v
	}
	snap.assignments = append([]models.Assignment(nil), w.assignments...)
	for k, v := range w.templates {
		snap.templates[k] = v
	}
	snap.announcements = append([]models.Announcement(nil), w.announcements...)
	snap.slots = append([]models.AvailabilitySlot(nil), w.slots...)
	for k, v := range w.blocked {
		snap.blocked[k] = v
	}
	snap.failOn = w.failOn
	return snap
}

func (w *memWorld) restore(snap *memWorld) {
	w.sessions = snap.sessions
	w.enrollments = snap.enrollments
	w.transactions = snap.transactions
	w.programs = snap.programs
	w.progress = snap.progress
	w.requests = snap.requests
	w.contacts = snap.contacts
	w.experience = snap.experience
	w.assignments = snap.assignments
	w.templates = snap.templates
	w.announcements = snap.announcements
	w.slots = snap.slots
	w.blocked = snap.blocked
}

func (w *memWorld) ledgerOf(enrollmentID string) []models.CreditTransaction {
	var entries []models.CreditTransaction
	for _, entry := range w.transactions {
		if entry.EnrollmentID == enrollmentID {
			entries = append(entries, entry)
		}
	}
	return entries
}

type memTx struct {
	world *memWorld
	calls int
}

func (m *memTx) InTx(ctx context.Context, fn database.TxFunc) error {
	m.world.mu.Lock()
	defer m.world.mu.Unlock()
	m.calls++
	snap := m.world.snapshot()
	if err := fn(ctx, nil); err != nil {
		m.world.restore(snap)
		return err
	}
	return nil
}

func noLock(context.Context, sqlx.ExecerContext, ...string) error { return nil }

type memSessions struct{ w *memWorld }

func (s memSessions) Create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error {
	if err := s.w.fail("sessions.create"); err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}
	s.w.sessions[session.ID] = *session
	return nil
}

func (s memSessions) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Session, error) {
	session, ok := s.w.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &session, nil
}

func (s memSessions) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Session, error) {
	return s.GetByID(ctx, exec, id)
}

func (s memSessions) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	var out []models.Session
	for _, session := range s.w.sessions {
		if filter.TeacherID != "" && session.TeacherID != filter.TeacherID {
			continue
		}
		if filter.StudentID != "" && session.StudentIDValue() != filter.StudentID {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, len(out), nil
}

func (s memSessions) overlap(q repository.OverlapQuery, owner func(models.Session) string, id string) bool {
	for _, session := range s.w.sessions {
		if session.ID == q.ExcludeID || session.Status == models.SessionStatusCancelled || owner(session) != id {
			continue
		}
		if session.Overlaps(q.Start, q.End) {
			return true
		}
	}
	return false
}

func (s memSessions) TeacherHasOverlap(ctx context.Context, exec sqlx.ExtContext, q repository.OverlapQuery) (bool, error) {
	return s.overlap(q, func(m models.Session) string { return m.TeacherID }, q.TeacherID), nil
}

func (s memSessions) StudentHasOverlap(ctx context.Context, exec sqlx.ExtContext, q repository.OverlapQuery) (bool, error) {
	if q.StudentID == "" {
		return false, nil
	}
	return s.overlap(q, models.Session.StudentIDValue, q.StudentID), nil
}

func (s memSessions) ListSeriesFrom(ctx context.Context, exec sqlx.ExtContext, recurringID string, from time.Time, excludeID string) ([]models.Session, error) {
	var out []models.Session
	for _, session := range s.w.sessions {
		if session.RecurringID == nil || *session.RecurringID != recurringID || session.ID == excludeID {
			continue
		}
		if session.Status != models.SessionStatusScheduled || session.StartTime.Before(from) {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s memSessions) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.SessionStatus) error {
	session, ok := s.w.sessions[id]
	if !ok || session.Status != from {
		return database.ErrVersionConflict
	}
	session.Status = to
	s.w.sessions[id] = session
	return nil
}

func (s memSessions) Update(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error {
	if _, ok := s.w.sessions[session.ID]; !ok {
		return sql.ErrNoRows
	}
	s.w.sessions[session.ID] = *session
	return nil
}

type memEnrollments struct{ w *memWorld }

func (s memEnrollments) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	enrollment.Version = 1
	s.w.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (s memEnrollments) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	enrollment, ok := s.w.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &enrollment, nil
}

func (s memEnrollments) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	return s.GetByID(ctx, exec, id)
}

func (s memEnrollments) FindActive(ctx context.Context, exec sqlx.ExtContext, studentID, programID string) (*models.Enrollment, error) {
	for _, enrollment := range s.w.enrollments {
		if enrollment.StudentID == studentID && enrollment.ProgramID == programID && enrollment.Status == models.EnrollmentStatusActive {
			return &enrollment, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s memEnrollments) Resolve(ctx context.Context, exec sqlx.ExtContext, studentID, programID string) (*models.Enrollment, error) {
	if active, err := s.FindActive(ctx, exec, studentID, programID); err == nil {
		return active, nil
	}
	var latest *models.Enrollment
	for _, enrollment := range s.w.enrollments {
		if enrollment.StudentID != studentID || enrollment.ProgramID != programID {
			continue
		}
		if latest == nil || enrollment.DateEnrolled.After(latest.DateEnrolled) {
			candidate := enrollment
			latest = &candidate
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	return latest, nil
}

func (s memEnrollments) UpdateBalance(ctx context.Context, exec sqlx.ExtContext, id string, balance int, version int64) error {
	enrollment, ok := s.w.enrollments[id]
	if !ok || enrollment.Version != version {
		return database.ErrVersionConflict
	}
	enrollment.CreditsRemaining = balance
	enrollment.Version++
	s.w.enrollments[id] = enrollment
	return nil
}

func (s memEnrollments) MarkCompleted(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) (bool, error) {
	enrollment, ok := s.w.enrollments[id]
	if !ok || enrollment.Status != models.EnrollmentStatusActive {
		return false, nil
	}
	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CompletedAt = &at
	enrollment.Version++
	s.w.enrollments[id] = enrollment
	return true, nil
}

func (s memEnrollments) ListIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.w.enrollments))
	for id := range s.w.enrollments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type memTransactions struct{ w *memWorld }

func (s memTransactions) Append(ctx context.Context, exec sqlx.ExtContext, entry *models.CreditTransaction) error {
	entry.Seq = int64(len(s.w.transactions) + 1)
	s.w.transactions = append(s.w.transactions, *entry)
	return nil
}

func (s memTransactions) Last(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.CreditTransaction, error) {
	entries := s.w.ledgerOf(enrollmentID)
	if len(entries) == 0 {
		return nil, sql.ErrNoRows
	}
	last := entries[len(entries)-1]
	return &last, nil
}

func (s memTransactions) ListAll(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) ([]models.CreditTransaction, error) {
	return s.w.ledgerOf(enrollmentID), nil
}

func (s memTransactions) List(ctx context.Context, filter models.CreditTransactionFilter) ([]models.CreditTransaction, int, error) {
	entries := s.w.ledgerOf(filter.EnrollmentID)
	return entries, len(entries), nil
}

type memPrograms struct{ w *memWorld }

func (s memPrograms) Create(ctx context.Context, exec sqlx.ExtContext, program *models.Program) error {
	if program.ID == "" {
		program.ID = uuid.NewString()
	}
	s.w.programs[program.ID] = *program
	return nil
}

func (s memPrograms) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Program, error) {
	program, ok := s.w.programs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &program, nil
}

type memProgress struct{ w *memWorld }

func (s memProgress) Create(ctx context.Context, exec sqlx.ExtContext, progress *models.CurriculumProgress) error {
	progress.Version = 1
	stored := *progress
	stored.Tree = *progress.Tree.Clone()
	s.w.progress[progress.EnrollmentID] = stored
	return nil
}

func (s memProgress) Get(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.CurriculumProgress, error) {
	progress, ok := s.w.progress[enrollmentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	progress.Tree = *progress.Tree.Clone()
	return &progress, nil
}

func (s memProgress) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.CurriculumProgress, error) {
	return s.Get(ctx, exec, enrollmentID)
}

func (s memProgress) Save(ctx context.Context, exec sqlx.ExtContext, progress *models.CurriculumProgress) error {
	current, ok := s.w.progress[progress.EnrollmentID]
	if !ok || current.Version != progress.Version {
		return database.ErrVersionConflict
	}
	progress.Version++
	stored := *progress
	stored.Tree = *progress.Tree.Clone()
	s.w.progress[progress.EnrollmentID] = stored
	return nil
}

type memRequests struct{ w *memWorld }

func (s memRequests) Create(ctx context.Context, exec sqlx.ExtContext, request *models.CancellationRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	s.w.requests[request.ID] = *request
	return nil
}

func (s memRequests) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.CancellationRequest, error) {
	request, ok := s.w.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &request, nil
}

func (s memRequests) HasPending(ctx context.Context, exec sqlx.ExtContext, sessionID string) (bool, error) {
	for _, request := range s.w.requests {
		if request.SessionID == sessionID && request.Status == models.CancellationStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (s memRequests) List(ctx context.Context, filter models.CancellationFilter) ([]models.CancellationRequest, int, error) {
	var out []models.CancellationRequest
	for _, request := range s.w.requests {
		if filter.StudentID != "" && request.StudentID != filter.StudentID {
			continue
		}
		if filter.SessionID != "" && request.SessionID != filter.SessionID {
			continue
		}
		out = append(out, request)
	}
	return out, len(out), nil
}

func (s memRequests) Review(ctx context.Context, exec sqlx.ExtContext, id string, status models.CancellationStatus, reviewer string, at time.Time) error {
	request, ok := s.w.requests[id]
	if !ok || request.Status != models.CancellationStatusPending {
		return database.ErrVersionConflict
	}
	request.Status = status
	request.ReviewedBy = &reviewer
	request.ReviewedAt = &at
	s.w.requests[id] = request
	return nil
}

type memStudents struct{ w *memWorld }

func (s memStudents) GetContact(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.StudentContact, error) {
	contact, ok := s.w.contacts[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &contact, nil
}

func (s memStudents) AddExperience(ctx context.Context, exec sqlx.ExtContext, studentID string, amount int) error {
	if err := s.w.fail("students.experience"); err != nil {
		return err
	}
	if _, ok := s.w.contacts[studentID]; !ok {
		return sql.ErrNoRows
	}
	s.w.experience[studentID] += amount
	return nil
}

type memAssignments struct{ w *memWorld }

func (s memAssignments) Create(ctx context.Context, exec sqlx.ExtContext, assignment *models.Assignment) error {
	s.w.assignments = append(s.w.assignments, *assignment)
	return nil
}

type memAnnouncements struct{ w *memWorld }

func (s memAnnouncements) GetTemplate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.MessageTemplate, error) {
	tpl, ok := s.w.templates[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &tpl, nil
}

func (s memAnnouncements) Create(ctx context.Context, exec sqlx.ExtContext, announcement *models.Announcement) error {
	s.w.announcements = append(s.w.announcements, *announcement)
	return nil
}

type memAvailability struct{ w *memWorld }

func (s memAvailability) ListSlots(ctx context.Context, exec sqlx.ExtContext, teacherID string) ([]models.AvailabilitySlot, error) {
	var out []models.AvailabilitySlot
	for _, slot := range s.w.slots {
		if slot.TeacherID == teacherID {
			out = append(out, slot)
		}
	}
	return out, nil
}

func (s memAvailability) SlotsForDay(ctx context.Context, exec sqlx.ExtContext, teacherID string, day time.Weekday) ([]models.AvailabilitySlot, error) {
	var out []models.AvailabilitySlot
	for _, slot := range s.w.slots {
		if slot.TeacherID == teacherID && slot.DayOfWeek == int(day) {
			out = append(out, slot)
		}
	}
	return out, nil
}

func (s memAvailability) ReplaceSlots(ctx context.Context, exec sqlx.ExtContext, teacherID string, slots []models.AvailabilitySlot) error {
	kept := s.w.slots[:0:0]
	for _, slot := range s.w.slots {
		if slot.TeacherID != teacherID {
			kept = append(kept, slot)
		}
	}
	for _, slot := range slots {
		slot.ID = uuid.NewString()
		slot.TeacherID = teacherID
		kept = append(kept, slot)
	}
	s.w.slots = kept
	return nil
}

func (s memAvailability) IsBlocked(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time) (bool, error) {
	return s.w.blocked[teacherID+"|"+date.Format(models.DateLayout)], nil
}

func (s memAvailability) AddUnavailability(ctx context.Context, exec sqlx.ExtContext, entry *models.Unavailability) error {
	entry.ID = uuid.NewString()
	s.w.blocked[entry.TeacherID+"|"+entry.Date.Format(models.DateLayout)] = true
	return nil
}

func (s memAvailability) ListUnavailability(ctx context.Context, exec sqlx.ExtContext, teacherID string, from time.Time) ([]models.Unavailability, error) {
	return nil, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (r *recordingSender) Send(ctx context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPublisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

func (r *recordingPublisher) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt == eventType {
			n++
		}
	}
	return n
}

const (
	testTeacher = "teacher-1"
	testStudent = "student-1"
	testParent  = "parent-1"
	testProgram = "program-1"
	testActor   = "admin-1"
)

// engine wires the real services over memWorld.
type engine struct {
	world         *memWorld
	tx            *memTx
	sender        *recordingSender
	publisher     *recordingPublisher
	metrics       *MetricsService
	notifications *NotificationService
	ledger        *LedgerService
	curriculum    *CurriculumService
	availability  *AvailabilityService
	generator     *SessionGeneratorService
	sessions      *SessionService
	lifecycle     *SessionLifecycleService
	cancellations *CancellationService
	enrollments   *EnrollmentService
	programs      *ProgramService
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	world := newMemWorld()
	tx := &memTx{world: world}
	logger := zap.NewNop()
	sender := &recordingSender{}
	publisher := &recordingPublisher{}
	metrics := NewMetricsService()

	notifications := NewNotificationService(memAnnouncements{world}, sender, publisher, nil, metrics, logger)
	ledger := NewLedgerService(tx, memEnrollments{world}, memTransactions{world}, nil, notifications, nil, logger, 5, time.Minute)
	curriculumSvc := NewCurriculumService(tx, memProgress{world}, memEnrollments{world}, nil, notifications, nil, logger, time.Minute)
	availability := NewAvailabilityService(memAvailability{world}, tx, nil, logger)
	generator := NewSessionGeneratorService(tx, memSessions{world}, memEnrollments{world}, memPrograms{world}, availability, notifications, nil, logger, 52)
	generator.lock = noLock
	sessions := NewSessionService(tx, memSessions{world}, generator, nil, notifications, nil, logger, JoinWindow{Before: 10 * time.Minute, After: 15 * time.Minute}, time.Minute)
	collaborators := NewProgressionCollaborators(memStudents{world}, memAssignments{world})
	lifecycle := NewSessionLifecycleService(tx, memSessions{world}, memEnrollments{world}, memPrograms{world}, ledger, curriculumSvc, collaborators, notifications, notifications, nil, logger, LifecycleConfig{
		LowCreditThreshold:   5,
		ExperiencePerSession: 50,
		AssignmentDueDays:    7,
		LowCreditTemplateID:  "low-credit",
		CompanyName:          "TutorHub",
	})
	cancellations := NewCancellationService(tx, memRequests{world}, memSessions{world}, memStudents{world}, lifecycle, notifications, nil, logger)
	enrollments := NewEnrollmentService(tx, memEnrollments{world}, memPrograms{world}, curriculumSvc, ledger, notifications, nil, logger)
	programs := NewProgramService(tx, memPrograms{world}, notifications, nil, logger)

	return &engine{
		world:         world,
		tx:            tx,
		sender:        sender,
		publisher:     publisher,
		metrics:       metrics,
		notifications: notifications,
		ledger:        ledger,
		curriculum:    curriculumSvc,
		availability:  availability,
		generator:     generator,
		sessions:      sessions,
		lifecycle:     lifecycle,
		cancellations: cancellations,
		enrollments:   enrollments,
		programs:      programs,
	}
}

// sampleCurriculum is a chapter with two topics; the second topic carries an assignment template.
func sampleCurriculum() []curriculum.Item {
	return []curriculum.Item{{
		ID: "ch1", Title: "Foundations", Type: curriculum.TypeChapter,
		Children: []curriculum.Item{
			{ID: "t1", Title: "Variables", Type: curriculum.TypeTopic},
			{ID: "t2", Title: "Loops", Type: curriculum.TypeTopic, Assignments: []curriculum.AssignmentTemplate{
				{Title: "Loop drills", Description: "Ten exercises"},
				{Title: "FizzBuzz"},
			}},
		},
	}}
}

// seed adds a program, a student with a parent, a Monday 09:00-17:00 slot and a low-credit template.
func (e *engine) seed(t *testing.T) {
	t.Helper()
	tree, err := curriculum.New(sampleCurriculum())
	if err != nil {
		t.Fatalf("build curriculum: %v", err)
	}
	e.world.programs[testProgram] = models.Program{ID: testProgram, Name: "Python Basics", Curriculum: *tree}
	parentID, parentName, parentEmail := testParent, "Pat Parent", "pat@example.com"
	e.world.contacts[testStudent] = models.StudentContact{
		StudentID:   testStudent,
		StudentName: "Sam Student",
		ParentID:    &parentID,
		ParentName:  &parentName,
		ParentEmail: &parentEmail,
	}
	e.world.slots = append(e.world.slots, models.AvailabilitySlot{ID: "slot-1", TeacherID: testTeacher, DayOfWeek: int(time.Monday), StartTime: "09:00", EndTime: "17:00"})
	e.world.templates["low-credit"] = models.MessageTemplate{
		ID:      "low-credit",
		Subject: "{{student_name}} is running low on credits",
		Body:    "Hi {{parent_name}},\n\n**{{student_name}}** has {{remaining_credits}} credits left in {{program_name}}.\n\n{{company_name}}",
	}
}

// enroll creates an active enrollment holding credits, through the real ledger.
func (e *engine) enroll(t *testing.T, credits int) *models.Enrollment {
	t.Helper()
	enrollment := &models.Enrollment{StudentID: testStudent, ProgramID: testProgram, TeacherID: testTeacher, DateEnrolled: time.Now().UTC()}
	if err := (memEnrollments{e.world}).Create(context.Background(), nil, enrollment); err != nil {
		t.Fatalf("create enrollment: %v", err)
	}
	program := e.world.programs[testProgram]
	if _, err := e.curriculum.Instantiate(context.Background(), nil, enrollment, &program); err != nil {
		t.Fatalf("instantiate curriculum: %v", err)
	}
	if credits > 0 {
		err := runInTx(context.Background(), "ledger.opening", e.tx, nil, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
			_, err := e.ledger.ApplyChange(ctx, exec, fx, enrollment.ID, credits, models.CreditReasonOpening, testActor)
			return err
		})
		if err != nil {
			t.Fatalf("open ledger: %v", err)
		}
	}
	stored := e.world.enrollments[enrollment.ID]
	return &stored
}

// nextMonday returns the first Monday at hour:00 strictly after now, as a naive timestamp.
func nextMonday(hour int) time.Time {
	now := naive(time.Now())
	day := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	for {
		day = day.AddDate(0, 0, 1)
		if day.Weekday() == time.Monday {
			return day
		}
	}
}

// addSession stores a scheduled session directly.
func (e *engine) addSession(t *testing.T, start time.Time, sessionType models.SessionType, itemID string, recurringID *string) models.Session {
	t.Helper()
	student := testStudent
	session := models.Session{
		Title:       "Tutoring",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		StudentID:   &student,
		TeacherID:   testTeacher,
		ProgramID:   testProgram,
		Status:      models.SessionStatusScheduled,
		SessionType: sessionType,
		RecurringID: recurringID,
	}
	if itemID != "" {
		session.CurriculumItemID = &itemID
	}
	if err := (memSessions{e.world}).Create(context.Background(), nil, &session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (e *engine) balance(enrollmentID string) int {
	return e.world.enrollments[enrollmentID].CreditsRemaining
}

func ledgerSum(entries []models.CreditTransaction) int {
	sum := 0
	for _, entry := range entries {
		sum += entry.Change
	}
	return sum
}

var errInjected = errors.New("injected failure")
