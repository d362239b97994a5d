package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"streamguard/internal/moderation"
	"streamguard/internal/models"
	"streamguard/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRepo struct {
	messages  map[uint]*models.Message
	reports   []*models.Report
	nextID    uint
	createErr error
	deleteErr error
	deleted   []uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{messages: map[uint]*models.Message{}}
}

func (r *fakeRepo) Create(_ context.Context, msg *models.Message) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	msg.ID = r.nextID
	msg.CreatedAt = time.Now()
	msg.Author = models.User{ID: msg.AuthorID, Username: "tester"}
	r.messages[msg.ID] = msg
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id uint) (*models.Message, error) {
	msg, ok := r.messages[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return msg, nil
}

func (r *fakeRepo) ListByStream(_ context.Context, streamID uint, limit int) ([]*models.Message, error) {
	var out []*models.Message
	for _, msg := range r.messages {
		if msg.StreamID == streamID && !msg.IsDeleted && !msg.IsFlagged {
			out = append(out, msg)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) SoftDelete(_ context.Context, id uint) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deleted = append(r.deleted, id)
	r.messages[id].IsDeleted = true
	return nil
}

func (r *fakeRepo) CreateReport(_ context.Context, report *models.Report) error {
	r.reports = append(r.reports, report)
	return nil
}

func (r *fakeRepo) Stats(_ context.Context) (*models.ChatStats, error) {
	stats := &models.ChatStats{TotalReports: int64(len(r.reports))}
	for _, msg := range r.messages {
		stats.TotalMessages++
		if msg.IsFlagged {
			stats.FlaggedMessages++
		}
	}
	return stats, nil
}

type fakeAnalyzer struct {
	decision moderation.Decision
}

func (a *fakeAnalyzer) Analyze(context.Context, string) moderation.Decision {
	return a.decision
}

type broadcastCall struct {
	streamID uint
	payload  []byte
}

type fakeBroadcaster struct {
	calls []broadcastCall
}

func (b *fakeBroadcaster) Broadcast(streamID uint, payload []byte) {
	b.calls = append(b.calls, broadcastCall{streamID: streamID, payload: payload})
}

func (b *fakeBroadcaster) lastFrame(t *testing.T) websocket.Frame {
	t.Helper()
	if len(b.calls) == 0 {
		t.Fatal("expected at least one broadcast")
	}
	var frame websocket.Frame
	require.NoError(t, json.Unmarshal(b.calls[len(b.calls)-1].payload, &frame))
	return frame
}

type auditCall struct {
	messageID uint
	reason    string
}

type fakeAudit struct {
	calls []auditCall
	err   error
}

func (a *fakeAudit) PublishFlagged(_ context.Context, msg *models.ChatMessage, reason string) error {
	a.calls = append(a.calls, auditCall{messageID: msg.ID, reason: reason})
	return a.err
}

func newTestService(decision moderation.Decision) (*ChatService, *fakeRepo, *fakeBroadcaster, *fakeAudit) {
	repo := newFakeRepo()
	broadcaster := &fakeBroadcaster{}
	audit := &fakeAudit{}
	svc := NewChatService(repo, &fakeAnalyzer{decision: decision}, broadcaster, audit)
	return svc, repo, broadcaster, audit
}

func TestSendMessageCleanBroadcasts(t *testing.T) {
	svc, repo, broadcaster, audit := newTestService(moderation.Decision{})

	stored, decision, err := svc.SendMessage(context.Background(), 7, 42, "hello")
	require.NoError(t, err)

	assert.False(t, decision.IsToxic)
	assert.False(t, stored.IsFlagged)
	assert.Equal(t, "tester", stored.Author.Username, "broadcast carries the resolved author")
	assert.False(t, repo.messages[stored.ID].IsFlagged)

	require.Len(t, broadcaster.calls, 1)
	assert.Equal(t, uint(42), broadcaster.calls[0].streamID)

	frame := broadcaster.lastFrame(t)
	assert.Equal(t, websocket.FrameNewMessage, frame.Type)

	var payload models.ChatMessage
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "hello", payload.Content)
	assert.Equal(t, stored.ID, payload.ID)

	assert.Empty(t, audit.calls)
}

func TestSendMessageToxicIsStoredNotBroadcast(t *testing.T) {
	svc, repo, broadcaster, audit := newTestService(moderation.Decision{IsToxic: true, Reason: moderation.ReasonFlagged})

	stored, decision, err := svc.SendMessage(context.Background(), 7, 42, "nasty")
	require.NoError(t, err)

	assert.True(t, decision.IsToxic)
	assert.True(t, stored.IsFlagged)
	assert.True(t, repo.messages[stored.ID].IsFlagged, "flagged copy stays in the store for audit")
	assert.Empty(t, broadcaster.calls, "toxic messages never reach viewers")

	require.Len(t, audit.calls, 1)
	assert.Equal(t, auditCall{messageID: stored.ID, reason: moderation.ReasonFlagged}, audit.calls[0])
}

func TestSendMessagePersistFailure(t *testing.T) {
	svc, repo, broadcaster, _ := newTestService(moderation.Decision{})
	repo.createErr = errors.New("db down")

	_, _, err := svc.SendMessage(context.Background(), 7, 42, "hello")

	assert.Error(t, err)
	assert.Empty(t, broadcaster.calls, "an unpersisted message must not be delivered")
}

func TestSendMessageAuditFailureIsNotFatal(t *testing.T) {
	svc, _, _, audit := newTestService(moderation.Decision{IsToxic: true, Reason: moderation.ReasonFlagged})
	audit.err = errors.New("kafka down")

	stored, _, err := svc.SendMessage(context.Background(), 7, 42, "nasty")

	require.NoError(t, err, "audit delivery is best effort")
	assert.True(t, stored.IsFlagged)
}

func TestSendMessageWithoutAuditProducer(t *testing.T) {
	repo := newFakeRepo()
	svc := NewChatService(repo, &fakeAnalyzer{decision: moderation.Decision{IsToxic: true}}, &fakeBroadcaster{}, nil)

	_, _, err := svc.SendMessage(context.Background(), 7, 42, "nasty")
	assert.NoError(t, err)
}

func seedMessage(repo *fakeRepo, authorID, streamOwnerID uint) *models.Message {
	msg := &models.Message{Content: "hi", AuthorID: authorID, StreamID: 42}
	_ = repo.Create(context.Background(), msg)
	msg.Stream = models.Stream{ID: 42, UserID: streamOwnerID}
	return msg
}

func TestDeleteMessageByAuthor(t *testing.T) {
	svc, repo, broadcaster, _ := newTestService(moderation.Decision{})
	msg := seedMessage(repo, 7, 9)

	require.NoError(t, svc.DeleteMessage(context.Background(), msg.ID, 7))

	assert.Equal(t, []uint{msg.ID}, repo.deleted)

	frame := broadcaster.lastFrame(t)
	assert.Equal(t, websocket.FrameDeleteMessage, frame.Type)

	var payload websocket.DeleteMessagePayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, msg.ID, payload.MessageID)
}

func TestDeleteMessageByStreamOwner(t *testing.T) {
	svc, repo, _, _ := newTestService(moderation.Decision{})
	msg := seedMessage(repo, 7, 9)

	assert.NoError(t, svc.DeleteMessage(context.Background(), msg.ID, 9))
}

func TestDeleteMessageByStrangerRejected(t *testing.T) {
	svc, repo, broadcaster, _ := newTestService(moderation.Decision{})
	msg := seedMessage(repo, 7, 9)

	err := svc.DeleteMessage(context.Background(), msg.ID, 13)

	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.Empty(t, repo.deleted)
	assert.Empty(t, broadcaster.calls)
}

func TestDeleteMessageNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(moderation.Decision{})

	err := svc.DeleteMessage(context.Background(), 999, 7)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestReportMessage(t *testing.T) {
	svc, repo, _, _ := newTestService(moderation.Decision{})
	msg := seedMessage(repo, 7, 9)

	require.NoError(t, svc.ReportMessage(context.Background(), msg.ID, 13, "spam"))

	require.Len(t, repo.reports, 1)
	assert.Equal(t, "spam", repo.reports[0].Reason)
	assert.Equal(t, uint(13), repo.reports[0].ReporterID)
	assert.Equal(t, msg.ID, repo.reports[0].MessageID)
}

func TestReportMessageNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(moderation.Decision{})

	err := svc.ReportMessage(context.Background(), 999, 13, "spam")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestListMessagesMapsToDTO(t *testing.T) {
	svc, repo, _, _ := newTestService(moderation.Decision{})
	msg := seedMessage(repo, 7, 9)

	out, err := svc.ListMessages(context.Background(), 42)
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, msg.ID, out[0].ID)
	assert.Equal(t, "hi", out[0].Content)
	assert.Equal(t, "tester", out[0].Author.Username)
}

func TestStats(t *testing.T) {
	svc, repo, _, _ := newTestService(moderation.Decision{})
	msg := seedMessage(repo, 7, 9)
	flagged := &models.Message{Content: "bad", AuthorID: 7, StreamID: 42, IsFlagged: true}
	require.NoError(t, repo.Create(context.Background(), flagged))
	require.NoError(t, svc.ReportMessage(context.Background(), msg.ID, 13, "spam"))

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.TotalMessages)
	assert.Equal(t, int64(1), stats.FlaggedMessages)
	assert.Equal(t, int64(1), stats.TotalReports)
}
