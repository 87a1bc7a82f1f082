package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
)

func withMeeting(e *engine, id string) {
	session := e.world.sessions[id]
	link := "https://meet.example.com/abc"
	session.MeetingURL = &link
	e.world.sessions[id] = session
}

func TestJoinSessionHonoursWindow(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	start := nextMonday(10)
	session := e.addSession(t, start, models.SessionTypeCurriculum, "", nil)
	withMeeting(e, session.ID)

	e.sessions.now = func() time.Time { return start.Add(-5 * time.Minute) }
	info, err := e.sessions.JoinSession(context.Background(), session.ID, studentClaims)
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com/abc", info.MeetingURL)
	assert.Equal(t, start.Add(-10*time.Minute), info.OpensAt)
	assert.Equal(t, start.Add(75*time.Minute), info.ClosesAt)

	e.sessions.now = func() time.Time { return start.Add(-20 * time.Minute) }
	_, err = e.sessions.JoinSession(context.Background(), session.ID, studentClaims)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, errCode(err))

	e.sessions.now = func() time.Time { return start.Add(80 * time.Minute) }
	_, err = e.sessions.JoinSession(context.Background(), session.ID, studentClaims)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, errCode(err))
}

func TestJoinSessionChecksParticipants(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	start := nextMonday(10)
	session := e.addSession(t, start, models.SessionTypeCurriculum, "", nil)
	e.sessions.now = func() time.Time { return start }

	_, err := e.sessions.JoinSession(context.Background(), session.ID, studentClaims)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, errCode(err), "no meeting link yet")

	withMeeting(e, session.ID)
	_, err = e.sessions.JoinSession(context.Background(), session.ID, &models.JWTClaims{UserID: "student-2", Role: models.RoleStudent})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(err))

	_, err = e.sessions.JoinSession(context.Background(), session.ID, &models.JWTClaims{UserID: testTeacher, Role: models.RoleTeacher})
	require.NoError(t, err)
	_, err = e.sessions.JoinSession(context.Background(), session.ID, &models.JWTClaims{UserID: testActor, Role: models.RoleAdmin})
	require.NoError(t, err)

	_, err = e.sessions.JoinSession(context.Background(), "missing", studentClaims)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(err))
}

func TestUpdateSessionReschedulesAroundItself(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	start := nextMonday(10)
	session := e.addSession(t, start, models.SessionTypeCurriculum, "", nil)

	newStart, newEnd := start.Add(30*time.Minute), start.Add(90*time.Minute)
	title := "Moved"
	updated, err := e.sessions.UpdateSession(context.Background(), session.ID, dto.UpdateSessionRequest{Title: &title, StartTime: &newStart, EndTime: &newEnd})
	require.NoError(t, err)
	assert.Equal(t, newStart, updated.StartTime)
	assert.Equal(t, "Moved", e.world.sessions[session.ID].Title)
}

func TestUpdateSessionRejectsConflictsAndFinalSessions(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	e.enroll(t, 5)
	start := nextMonday(10)
	first := e.addSession(t, start, models.SessionTypeCurriculum, "", nil)
	second := e.addSession(t, start.Add(2*time.Hour), models.SessionTypeCurriculum, "", nil)

	clashStart, clashEnd := start.Add(30*time.Minute), start.Add(90*time.Minute)
	_, err := e.sessions.UpdateSession(context.Background(), second.ID, dto.UpdateSessionRequest{StartTime: &clashStart, EndTime: &clashEnd})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(err))
	assert.Equal(t, start.Add(2*time.Hour), e.world.sessions[second.ID].StartTime)

	late := start.Add(8 * time.Hour)
	lateEnd := late.Add(time.Hour)
	_, err = e.sessions.UpdateSession(context.Background(), second.ID, dto.UpdateSessionRequest{StartTime: &late, EndTime: &lateEnd})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(err), "outside the weekly slot")

	backwards := start.Add(-time.Hour)
	_, err = e.sessions.UpdateSession(context.Background(), second.ID, dto.UpdateSessionRequest{EndTime: &backwards})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	_, err = setStatus(t, e, first.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	title := "Too late"
	_, err = e.sessions.UpdateSession(context.Background(), first.ID, dto.UpdateSessionRequest{Title: &title})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, errCode(err))
}

func TestListSessionsDefaultsPaging(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	start := nextMonday(10)
	e.addSession(t, start.Add(time.Hour), models.SessionTypeCurriculum, "", nil)
	e.addSession(t, start, models.SessionTypeCurriculum, "", nil)

	sessions, page, err := e.sessions.List(context.Background(), models.SessionFilter{TeacherID: testTeacher})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].StartTime.Before(sessions[1].StartTime))
	assert.Equal(t, models.Pagination{Page: 1, PageSize: 20, TotalCount: 2}, *page)
}
