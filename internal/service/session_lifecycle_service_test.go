package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutorhub-api/internal/curriculum"
	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
	"github.com/noah-isme/tutorhub-api/pkg/events"
)

func setStatus(t *testing.T, e *engine, id string, status models.SessionStatus) (*models.StatusChangeResult, error) {
	t.Helper()
	return e.lifecycle.SetSessionStatus(context.Background(), id, dto.SetSessionStatusRequest{Status: string(status)}, testActor)
}

func TestSetSessionStatusDeductsOneCredit(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 10)
	session := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "", nil)

	result, err := setStatus(t, e, session.ID, models.SessionStatusAbsent)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	require.NotNil(t, result.CreditsRemaining)
	assert.Equal(t, 9, *result.CreditsRemaining)
	assert.Equal(t, 9, e.balance(enrollment.ID))
	assert.Zero(t, result.ExperienceAwarded, "absence earns no experience")

	entries := e.world.ledgerOf(enrollment.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, -1, entries[1].Change)
	assert.Equal(t, "Session marked as Absent", entries[1].Reason)
	assert.Equal(t, e.balance(enrollment.ID), ledgerSum(entries))
	assert.Equal(t, models.SessionStatusAbsent, e.world.sessions[session.ID].Status)
	assert.Equal(t, 1, e.publisher.count(events.TypeSessionStatusChanged))
}

func TestSetSessionStatusIsIdempotent(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 10)
	session := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "", nil)

	_, err := setStatus(t, e, session.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	again, err := setStatus(t, e, session.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	assert.False(t, again.Changed)

	assert.Equal(t, 9, e.balance(enrollment.ID))
	assert.Len(t, e.world.ledgerOf(enrollment.ID), 2)
	assert.Equal(t, 50, e.world.experience[testStudent])
}

func TestSetSessionStatusRejectsMovesOutOfFinalStates(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	e.enroll(t, 10)
	session := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "", nil)

	_, err := setStatus(t, e, session.ID, models.SessionStatusCompleted)
	require.NoError(t, err)

	for _, target := range []models.SessionStatus{models.SessionStatusAbsent, models.SessionStatusScheduled, models.SessionStatusCancelled} {
		_, err = setStatus(t, e, session.ID, target)
		require.Error(t, err, target)
		assert.Equal(t, appErrors.ErrPreconditionFailed.Code, errCode(err))
	}
}

func TestSetSessionStatusUnknownSession(t *testing.T) {
	e := newEngine(t)
	_, err := setStatus(t, e, "missing", models.SessionStatusCompleted)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
}

func TestSetSessionStatusZeroBalanceSkipsDeduction(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 0)
	session := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "", nil)

	result, err := setStatus(t, e, session.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, result.CreditsRemaining)
	assert.Equal(t, 0, *result.CreditsRemaining)
	assert.Contains(t, result.Notices, "no credits remaining; deduction skipped")
	assert.Empty(t, e.world.ledgerOf(enrollment.ID))
	assert.Equal(t, models.SessionStatusCompleted, e.world.sessions[session.ID].Status)
}

func TestSetSessionStatusExemptTypesKeepCredits(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 10)
	demo := e.addSession(t, nextMonday(10), models.SessionTypeDemo, "", nil)
	meeting := e.addSession(t, nextMonday(12), models.SessionTypeParentTeacher, "", nil)

	_, err := setStatus(t, e, demo.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	_, err = setStatus(t, e, meeting.ID, models.SessionStatusAbsent)
	require.NoError(t, err)

	assert.Equal(t, 10, e.balance(enrollment.ID))
	assert.Len(t, e.world.ledgerOf(enrollment.ID), 1)
}

func TestCompletedDemoWithItemAdvancesCurriculum(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 10)
	demo := e.addSession(t, nextMonday(10), models.SessionTypeDemo, "t1", nil)

	_, err := setStatus(t, e, demo.ID, models.SessionStatusCompleted)
	require.NoError(t, err)

	progress := e.world.progress[enrollment.ID]
	status, ok := progress.Tree.Status("t1")
	require.True(t, ok)
	assert.Equal(t, curriculum.StatusCompleted, status)
	assert.Equal(t, 10, e.balance(enrollment.ID), "demo sessions keep their credit")
}

func TestLowCreditAlertFiresOnceWhenCrossingThreshold(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 6)
	first := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "", nil)
	second := e.addSession(t, nextMonday(12), models.SessionTypeCurriculum, "", nil)

	result, err := setStatus(t, e, first.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	assert.True(t, result.LowCreditAlert)
	assert.Equal(t, 5, e.balance(enrollment.ID))

	result, err = setStatus(t, e, second.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	assert.False(t, result.LowCreditAlert)
	assert.Equal(t, 4, e.balance(enrollment.ID))

	require.Len(t, e.world.announcements, 1)
	announcement := e.world.announcements[0]
	assert.Equal(t, testParent, announcement.RecipientID)
	assert.Equal(t, "Sam Student is running low on credits", announcement.Subject)
	assert.Contains(t, announcement.Body, "<strong>Sam Student</strong> has 5 credits left in Python Basics.")
	assert.Contains(t, announcement.Body, "Pat Parent")
	assert.Contains(t, announcement.Body, "TutorHub")

	require.Len(t, e.sender.sent, 1)
	assert.Equal(t, []string{"pat@example.com"}, e.sender.sent[0].To)
}

func TestLowCreditAlertMissingTemplateRollsBackTransition(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	delete(e.world.templates, "low-credit")
	enrollment := e.enroll(t, 6)
	session := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "", nil)

	_, err := setStatus(t, e, session.ID, models.SessionStatusCompleted)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
	assert.Equal(t, 6, e.balance(enrollment.ID))
	assert.Equal(t, models.SessionStatusScheduled, e.world.sessions[session.ID].Status)
}

func TestCompletedSessionCreatesAssignmentsForNextItem(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 10)
	session := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "t1", nil)

	before := time.Now().UTC()
	result, err := setStatus(t, e, session.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 2, result.AssignmentsCreated)
	assert.Equal(t, 50, result.ExperienceAwarded)
	assert.False(t, result.EnrollmentCompleted)

	require.Len(t, e.world.assignments, 2)
	for _, assignment := range e.world.assignments {
		assert.Equal(t, "t2", assignment.CurriculumItemID)
		assert.Equal(t, testStudent, assignment.StudentID)
		require.NotNil(t, assignment.EnrollmentID)
		assert.Equal(t, enrollment.ID, *assignment.EnrollmentID)
		assert.WithinDuration(t, before.AddDate(0, 0, 7), assignment.DueDate, time.Minute)
	}

	progress := e.world.progress[enrollment.ID]
	status, ok := progress.Tree.Status("t1")
	require.True(t, ok)
	assert.Equal(t, curriculum.StatusCompleted, status)
	parent, _ := progress.Tree.Status("ch1")
	assert.Equal(t, curriculum.StatusInProgress, parent)
}

func TestProgramAutoCompletesExactlyOnce(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 10)
	first := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "t1", nil)
	second := e.addSession(t, nextMonday(12), models.SessionTypeCurriculum, "t2", nil)

	result, err := setStatus(t, e, first.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	assert.False(t, result.EnrollmentCompleted)

	result, err = setStatus(t, e, second.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	assert.True(t, result.EnrollmentCompleted)
	assert.Equal(t, models.EnrollmentStatusCompleted, e.world.enrollments[enrollment.ID].Status)

	view, err := e.curriculum.SetCurriculumItemStatus(context.Background(), enrollment.ID, "t2", dto.SetCurriculumItemRequest{Status: "COMPLETED"})
	require.NoError(t, err)
	assert.Equal(t, float64(100), view.Percent)
	assert.Equal(t, 1, e.publisher.count(events.TypeEnrollmentCompleted))
}

func TestFailedTransitionRollsBackEverything(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 10)
	session := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "t1", nil)
	e.world.failOn["students.experience"] = errInjected
	published := len(e.publisher.events)

	_, err := setStatus(t, e, session.ID, models.SessionStatusCompleted)
	require.Error(t, err)

	assert.Equal(t, models.SessionStatusScheduled, e.world.sessions[session.ID].Status)
	assert.Equal(t, 10, e.balance(enrollment.ID))
	assert.Len(t, e.world.ledgerOf(enrollment.ID), 1)
	assert.Empty(t, e.world.assignments)
	progress := e.world.progress[enrollment.ID]
	status, _ := progress.Tree.Status("t1")
	assert.Equal(t, curriculum.StatusLocked, status)
	assert.Len(t, e.publisher.events, published, "no effects leave a rolled back transition")
}

func TestSetStatusCancelledRefundsSingleOccurrence(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 10)
	session := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "", nil)

	result, err := setStatus(t, e, session.ID, models.SessionStatusCancelled)
	require.NoError(t, err)
	require.NotNil(t, result.Cancellation)
	assert.Equal(t, 1, result.Cancellation.Cancelled)
	assert.Equal(t, 1, result.Cancellation.Refunded)
	assert.Equal(t, 11, e.balance(enrollment.ID))
}

func TestCancelSeriesRefundsLaterOccurrences(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 10)

	generated, err := e.generator.GenerateRecurring(context.Background(), recurringRequest(nextMonday(10), 4))
	require.NoError(t, err)
	require.Len(t, generated.Created, 4)

	result, err := e.lifecycle.CancelSession(context.Background(), generated.Created[1].ID, dto.CancelSessionRequest{Scope: "series"}, testActor)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Cancelled)
	assert.Equal(t, 3, result.Refunded)
	assert.Equal(t, 13, e.balance(enrollment.ID))

	assert.Equal(t, models.SessionStatusScheduled, e.world.sessions[generated.Created[0].ID].Status)
	for _, session := range generated.Created[1:] {
		assert.Equal(t, models.SessionStatusCancelled, e.world.sessions[session.ID].Status)
	}

	entries := e.world.ledgerOf(enrollment.ID)
	assert.Equal(t, e.balance(enrollment.ID), ledgerSum(entries))
	for _, entry := range entries[1:] {
		assert.Equal(t, models.CreditReasonRefund, entry.Reason)
	}
}

func TestCancelSeriesSkipsSessionsThatAlreadyHappened(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	e.enroll(t, 10)

	generated, err := e.generator.GenerateRecurring(context.Background(), recurringRequest(nextMonday(10), 3))
	require.NoError(t, err)
	_, err = setStatus(t, e, generated.Created[2].ID, models.SessionStatusCompleted)
	require.NoError(t, err)

	result, err := e.lifecycle.CancelSession(context.Background(), generated.Created[0].ID, dto.CancelSessionRequest{Scope: "series"}, testActor)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Cancelled)
	assert.Equal(t, models.SessionStatusCompleted, e.world.sessions[generated.Created[2].ID].Status)
}

func TestCancelRefundsAfterEnrollmentCompleted(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	enrollment := e.enroll(t, 10)
	session := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "", nil)
	completed := e.world.enrollments[enrollment.ID]
	completed.Status = models.EnrollmentStatusCompleted
	e.world.enrollments[enrollment.ID] = completed

	result, err := e.lifecycle.CancelSession(context.Background(), session.ID, dto.CancelSessionRequest{}, testActor)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Refunded)
	assert.Equal(t, 11, e.balance(enrollment.ID))
}

func TestCancelWithoutEnrollmentStillCancels(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	session := e.addSession(t, nextMonday(10), models.SessionTypeCurriculum, "", nil)

	result, err := e.lifecycle.CancelSession(context.Background(), session.ID, dto.CancelSessionRequest{Scope: "single"}, testActor)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cancelled)
	assert.Zero(t, result.Refunded)
}
