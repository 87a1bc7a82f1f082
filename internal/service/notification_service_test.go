package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/jobs"
	"github.com/noah-isme/tutorhub-api/pkg/mailer"
)

func TestRenderFillsPlaceholdersAndSanitises(t *testing.T) {
	svc := NewNotificationService(nil, nil, nil, nil, nil, zap.NewNop())
	tpl := &models.MessageTemplate{
		ID:      "tpl",
		Subject: "Hello {{name}}",
		Body:    "**{{name}}** has {{credits}} credits left.\n\n<script>alert(1)</script>",
	}

	subject, body, err := svc.Render(tpl, map[string]string{"name": "<b>Sam</b>", "credits": "3"})
	require.NoError(t, err)
	assert.Equal(t, "Hello <b>Sam</b>", subject)
	assert.Contains(t, body, "<strong>Sam</strong>")
	assert.Contains(t, body, "3 credits left")
	assert.NotContains(t, body, "<script>")
	assert.NotContains(t, body, "<b>")
}

func TestRenderKeepsSubjectPlainText(t *testing.T) {
	svc := NewNotificationService(nil, nil, nil, nil, nil, zap.NewNop())
	tpl := &models.MessageTemplate{ID: "tpl", Subject: "{{student_name}} is low on credits", Body: "Dear {{parent_name}}"}

	subject, body, err := svc.Render(tpl, map[string]string{"student_name": "Sam O'Brien & Co", "parent_name": "Pat <Parent>"})
	require.NoError(t, err)
	assert.Equal(t, "Sam O'Brien & Co is low on credits", subject)
	assert.NotContains(t, subject, "&amp;")
	assert.NotContains(t, subject, "&#39;")
	assert.NotContains(t, body, "<Parent>")
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	svc := NewNotificationService(nil, nil, nil, nil, nil, zap.NewNop())
	subject, _, err := svc.Render(&models.MessageTemplate{ID: "tpl", Subject: "{{missing}} update", Body: "body"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "{{missing}} update", subject)
}

func TestDispatchRoutesEffectsThroughQueue(t *testing.T) {
	sender := &recordingSender{}
	publisher := &recordingPublisher{}
	metrics := NewMetricsService()
	svc := NewNotificationService(nil, sender, publisher, nil, metrics, zap.NewNop())

	queue := jobs.NewQueue("notifications", svc.HandleJob, jobs.QueueConfig{Workers: 2, RetryDelay: time.Millisecond, DeadLetter: svc.DeadLetter})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Stop()
	svc.UseQueue(queue)

	fx := &Effects{}
	fx.email(mailer.Message{To: []string{"pat@example.com"}, Subject: "hi", HTML: "<p>hi</p>"})
	fx.event("sessions.cancelled", map[string]interface{}{"refunded": 1})
	fx.observe(func(m *MetricsService) { m.RecordCreditChange(creditKindRefund, 1) })
	svc.Dispatch(ctx, fx)

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1 && publisher.count("sessions.cancelled") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), metrics.Snapshot().CreditsRefunded)
}

func TestHandleJobRejectsUnknownPayload(t *testing.T) {
	svc := NewNotificationService(nil, nil, nil, nil, nil, zap.NewNop())
	err := svc.HandleJob(context.Background(), jobs.Job{Type: "unknown", Payload: 42})
	require.Error(t, err)
}

func TestSendTemplatedAnnouncementSkipsEmailWithoutAddress(t *testing.T) {
	e := newEngine(t)
	e.seed(t)

	err := runInTx(context.Background(), "test.apply", e.tx, e.notifications, func(ctx context.Context, exec sqlx.ExtContext, fx *Effects) error {
		_, err := e.notifications.SendTemplatedAnnouncement(ctx, exec, fx, models.AnnouncementTarget{UserID: testParent}, "low-credit", map[string]string{"student_name": "Sam"})
		return err
	})
	require.NoError(t, err)
	require.Len(t, e.world.announcements, 1)
	assert.Equal(t, "Sam is running low on credits", e.world.announcements[0].Subject)
	assert.Empty(t, e.sender.sent)
}

func TestCommittedWorkRecordsMetrics(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	e.enroll(t, 10)

	generated, err := e.generator.GenerateRecurring(context.Background(), recurringRequest(nextMonday(10), 3))
	require.NoError(t, err)
	_, err = setStatus(t, e, generated.Created[0].ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	_, err = e.lifecycle.CancelSession(context.Background(), generated.Created[1].ID, dto.CancelSessionRequest{}, testActor)
	require.NoError(t, err)

	snapshot := e.metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CreditsDeducted)
	assert.Equal(t, uint64(1), snapshot.CreditsRefunded)
	assert.Equal(t, uint64(2), snapshot.SessionTransitions)
}
