package store

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

func init() {
	utils.SetLogOutput(io.Discard)
}

// fakeAPI keeps a server-side truth the store can be compared against
type fakeAPI struct {
	mu         sync.Mutex
	items      []models.Notification
	count      int
	totalPages int

	listErr   error
	countErr  error
	ackErr    error
	deleteErr error

	listCalls  int
	countCalls int
	ackCalls   int
	lastParams models.ListParams
}

func (f *fakeAPI) ListNotifications(_ context.Context, params models.ListParams) (*models.NotificationsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.lastParams = params
	if f.listErr != nil {
		return nil, f.listErr
	}
	items := make([]models.Notification, len(f.items))
	copy(items, f.items)
	return &models.NotificationsResponse{
		Success:       true,
		Notifications: items,
		CurrentPage:   params.Page,
		TotalPages:    f.totalPages,
		TotalCount:    len(items),
	}, nil
}

func (f *fakeAPI) GetUnacknowledgedCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.count, nil
}

func (f *fakeAPI) AcknowledgeNotification(_ context.Context, id string) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ackCalls++
	if f.ackErr != nil {
		return nil, f.ackErr
	}
	for i := range f.items {
		if f.items[i].ID == id {
			if !f.items[i].Acknowledged {
				f.count--
			}
			at := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
			f.items[i].MarkAcknowledged(&models.Acknowledger{FirstName: "Sam", LastName: "Reed"}, &at)
			n := f.items[i]
			return &n, nil
		}
	}
	return nil, nil
}

func (f *fakeAPI) DeleteNotification(_ context.Context, id string) (*models.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	for i := range f.items {
		if f.items[i].ID == id {
			if !f.items[i].Acknowledged {
				f.count--
			}
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	return &models.DeleteResponse{Success: true, Message: "deleted"}, nil
}

func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type recordingFeedback struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (r *recordingFeedback) Success(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, message)
}

func (r *recordingFeedback) Error(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func notification(id, equipment string, status models.Status, acknowledged bool) models.Notification {
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return models.Notification{
		ID:            id,
		Tag:           "TAG-" + id,
		EquipmentName: equipment,
		Status:        status,
		Severity:      models.SeverityCritical,
		Message:       equipment + " changed state",
		Timestamp:     ts,
		Acknowledged:  acknowledged,
		CreatedAt:     ts,
	}
}

func newTestStore(api *fakeAPI, dedupe bool) (*Store, *recordingFeedback) {
	feedback := &recordingFeedback{}
	return New(api, feedback, Options{PageSize: 50, DedupePush: dedupe}, nil), feedback
}

func seededAPI() *fakeAPI {
	return &fakeAPI{
		items: []models.Notification{
			notification("a", "Conveyor 1", models.StatusDown, false),
			notification("b", "Pump 2", models.StatusUp, true),
			notification("c", "Drill 4", models.StatusDown, false),
		},
		count:      2,
		totalPages: 1,
	}
}

func ids(snap Snapshot) []string {
	out := make([]string, len(snap.Notifications))
	for i, n := range snap.Notifications {
		out[i] = n.ID
	}
	return out
}

func TestFetchNotificationsAppliesDefaultsAndPagination(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)

	require.NoError(t, s.FetchNotifications(context.Background(), models.ListParams{}))

	assert.Equal(t, 1, api.lastParams.Page)
	assert.Equal(t, 50, api.lastParams.Limit)

	snap := s.Snapshot()
	assert.Equal(t, []string{"a", "b", "c"}, ids(snap))
	assert.Equal(t, 1, snap.CurrentPage)
	assert.Equal(t, 1, snap.TotalPages)
	assert.Equal(t, 3, snap.TotalCount)
	assert.False(t, snap.Loading)
	assert.Equal(t, 0, snap.UnacknowledgedCount, "fetch does not touch the counter")
}

func TestFetchNotificationsKeepsExplicitParams(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)
	acknowledged := false

	params := models.ListParams{Page: 2, Limit: 10, Status: models.StatusDown, Acknowledged: &acknowledged}
	require.NoError(t, s.FetchNotifications(context.Background(), params))

	assert.Equal(t, params, api.lastParams)
	assert.Equal(t, params, s.Snapshot().LastParams)
}

func TestFetchNotificationsFailureShowsFeedback(t *testing.T) {
	api := seededAPI()
	s, feedback := newTestStore(api, true)
	require.NoError(t, s.FetchNotifications(context.Background(), models.ListParams{}))

	api.set(func(f *fakeAPI) {
		f.listErr = utils.NewAppError(utils.ErrCodeServer, "Server error: boom")
	})
	err := s.FetchNotifications(context.Background(), models.ListParams{})
	require.Error(t, err)

	assert.Equal(t, []string{MsgLoadFailed}, feedback.errors)
	snap := s.Snapshot()
	assert.Equal(t, "Server error: boom", snap.LastError)
	assert.Equal(t, []string{"a", "b", "c"}, ids(snap), "failed fetch keeps the previous page")
	assert.False(t, snap.Loading)
}

func TestFetchNotificationsCanceledIsQuiet(t *testing.T) {
	api := seededAPI()
	api.listErr = context.Canceled
	s, feedback := newTestStore(api, true)

	err := s.FetchNotifications(context.Background(), models.ListParams{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, feedback.errors)
}

func TestRefreshUnacknowledgedCount(t *testing.T) {
	api := seededAPI()
	s, feedback := newTestStore(api, true)

	require.NoError(t, s.RefreshUnacknowledgedCount(context.Background()))
	assert.Equal(t, 2, s.UnacknowledgedCount())

	api.set(func(f *fakeAPI) { f.countErr = utils.NewAppError(utils.ErrCodeNetwork, "down") })
	assert.Error(t, s.RefreshUnacknowledgedCount(context.Background()))
	assert.Equal(t, 2, s.UnacknowledgedCount())
	assert.Empty(t, feedback.errors, "count refresh failures are logged only")
}

func TestUnacknowledgedCounterNeverNegative(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))

	// counter is still 0 because the count refresh never ran
	require.NoError(t, s.AcknowledgeNotification(ctx, "a"))
	assert.Equal(t, 0, s.UnacknowledgedCount())

	require.NoError(t, s.DeleteNotification(ctx, "c"))
	assert.Equal(t, 0, s.UnacknowledgedCount())

	s.ApplyAlert(ctx, notification("d", "Crusher 3", models.StatusDown, false))
	assert.Equal(t, 1, s.UnacknowledgedCount())

	s.ApplyAcknowledgement(ctx, models.NotificationAcknowledged{ID: "d"})
	s.ApplyAcknowledgement(ctx, models.NotificationAcknowledged{ID: "d"})
	assert.Equal(t, 0, s.UnacknowledgedCount())

	s.ApplyAlert(ctx, notification("e", "Fan 1", models.StatusUp, true))
	require.NoError(t, s.DeleteNotification(ctx, "e"))
	assert.Equal(t, 0, s.UnacknowledgedCount())
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	api := seededAPI()
	s, feedback := newTestStore(api, true)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))
	require.NoError(t, s.RefreshUnacknowledgedCount(ctx))
	require.Equal(t, 2, s.UnacknowledgedCount())

	require.NoError(t, s.AcknowledgeNotification(ctx, "a"))
	assert.Equal(t, 1, s.UnacknowledgedCount())

	require.NoError(t, s.AcknowledgeNotification(ctx, "a"))
	assert.Equal(t, 1, s.UnacknowledgedCount())
	assert.Equal(t, 1, api.ackCalls, "second acknowledge sends no request")

	// server echo of our own acknowledgement
	assert.False(t, s.ApplyAcknowledgement(ctx, models.NotificationAcknowledged{ID: "a"}))
	assert.Equal(t, 1, s.UnacknowledgedCount())

	assert.Equal(t, []string{MsgAcknowledged}, feedback.successes)

	n, ok := s.Get("a")
	require.True(t, ok)
	require.NotNil(t, n.AcknowledgedBy)
	assert.Equal(t, "Sam Reed", n.AcknowledgedBy.DisplayName())
}

func TestAcknowledgeUnloadedRefreshesCount(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)
	ctx := context.Background()

	api.set(func(f *fakeAPI) { f.count = 7 })
	require.NoError(t, s.AcknowledgeNotification(ctx, "elsewhere"))

	assert.Equal(t, 1, api.ackCalls)
	assert.Equal(t, 1, api.countCalls)
	assert.Equal(t, 7, s.UnacknowledgedCount())
}

func TestAcknowledgeRequiresID(t *testing.T) {
	s, _ := newTestStore(seededAPI(), true)
	err := s.AcknowledgeNotification(context.Background(), "")
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeValidation))
	err = s.DeleteNotification(context.Background(), "")
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeValidation))
}

func TestAcknowledgeFailureConvergesToServer(t *testing.T) {
	api := seededAPI()
	s, feedback := newTestStore(api, true)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))
	require.NoError(t, s.RefreshUnacknowledgedCount(ctx))

	// another operator acknowledged "a" and no push arrived; our PATCH for "c" is rejected
	api.set(func(f *fakeAPI) {
		f.items[0].Acknowledged = true
		f.count = 1
		f.ackErr = utils.NewAppError(utils.ErrCodeServer, "Server error: write failed")
	})

	err := s.AcknowledgeNotification(ctx, "c")
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeServer))

	snap := s.Snapshot()
	byID := map[string]bool{}
	for _, n := range snap.Notifications {
		byID[n.ID] = n.Acknowledged
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": false}, byID)
	assert.Equal(t, 1, snap.UnacknowledgedCount)
	assert.Equal(t, []string{MsgAcknowledgeFailed}, feedback.errors)
	assert.Equal(t, 2, api.listCalls)
	assert.Equal(t, 2, api.countCalls)
}

func TestRollbackUsesLastParamsAndSurvivesCanceledContext(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)
	require.NoError(t, s.FetchNotifications(context.Background(), models.ListParams{Page: 2, Limit: 5}))

	ctx, cancel := context.WithCancel(context.Background())
	api.set(func(f *fakeAPI) {
		f.ackErr = context.Canceled
		f.lastParams = models.ListParams{}
	})
	cancel()

	require.Error(t, s.AcknowledgeNotification(ctx, "a"))
	assert.Equal(t, models.ListParams{Page: 2, Limit: 5}, api.lastParams)
	assert.Equal(t, 2, api.listCalls)
}

func TestDeleteRemovesAndDecrementsOnlyUnacknowledged(t *testing.T) {
	api := seededAPI()
	s, feedback := newTestStore(api, true)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))
	require.NoError(t, s.RefreshUnacknowledgedCount(ctx))

	require.Equal(t, 3, s.Snapshot().TotalCount)

	require.NoError(t, s.DeleteNotification(ctx, "b"))
	assert.Equal(t, []string{"a", "c"}, ids(s.Snapshot()))
	assert.Equal(t, 2, s.UnacknowledgedCount())
	assert.Equal(t, 2, s.Snapshot().TotalCount)

	require.NoError(t, s.DeleteNotification(ctx, "a"))
	assert.Equal(t, []string{"c"}, ids(s.Snapshot()))
	assert.Equal(t, 1, s.UnacknowledgedCount())
	assert.Equal(t, 1, s.Snapshot().TotalCount)

	assert.Equal(t, []string{MsgDeleted, MsgDeleted}, feedback.successes)
}

func TestDeleteFailureRestoresFromServer(t *testing.T) {
	api := seededAPI()
	s, feedback := newTestStore(api, true)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))
	require.NoError(t, s.RefreshUnacknowledgedCount(ctx))

	api.set(func(f *fakeAPI) {
		f.deleteErr = utils.NewAppError(utils.ErrCodeForbidden, "Admin access required")
	})
	err := s.DeleteNotification(ctx, "a")
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Equal(t, []string{"a", "b", "c"}, ids(snap))
	assert.Equal(t, 2, snap.UnacknowledgedCount)
	assert.Equal(t, 3, snap.TotalCount)
	assert.Equal(t, []string{MsgDeleteFailed}, feedback.errors)
}

func TestApplyAlertPrependsAndCounts(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))

	assert.True(t, s.ApplyAlert(ctx, notification("d", "Crusher 3", models.StatusDown, false)))
	assert.True(t, s.ApplyAlert(ctx, notification("e", "Pump 2", models.StatusUp, true)))

	snap := s.Snapshot()
	assert.Equal(t, []string{"e", "d", "a", "b", "c"}, ids(snap))
	assert.Equal(t, 1, snap.UnacknowledgedCount)
}

func TestApplyAlertDeduplicatesByID(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))

	dup := notification("b", "Pump 2", models.StatusUp, false)
	dup.Message = "repeated"
	assert.False(t, s.ApplyAlert(ctx, dup))

	snap := s.Snapshot()
	assert.Equal(t, []string{"a", "b", "c"}, ids(snap))
	assert.Equal(t, 0, snap.UnacknowledgedCount)
	assert.True(t, snap.Notifications[1].Acknowledged, "acknowledged entry is never reset")
	assert.Equal(t, "repeated", snap.Notifications[1].Message)
}

func TestApplyAlertWithoutDedupeDuplicates(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, false)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))

	assert.True(t, s.ApplyAlert(ctx, notification("a", "Conveyor 1", models.StatusDown, false)))
	assert.Equal(t, []string{"a", "a", "b", "c"}, ids(s.Snapshot()))
	assert.Equal(t, 1, s.UnacknowledgedCount())
}

func TestPushedAlertAndLaterFetch(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))

	pushed := notification("x", "Crusher 3", models.StatusDown, false)
	s.ApplyAlert(ctx, pushed)

	// the backend already has x, so page 1 keeps it exactly once
	api.set(func(f *fakeAPI) { f.items = append([]models.Notification{pushed}, f.items...) })
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))
	assert.Equal(t, []string{"x", "a", "b", "c"}, ids(s.Snapshot()))

	// a stale page that predates x replaces the list wholesale and x drops out of view
	api.set(func(f *fakeAPI) { f.items = f.items[1:] })
	s.ApplyAlert(ctx, pushed)
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))
	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Snapshot()))
}

func TestApplyAcknowledgementIgnoresUnloaded(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{}))
	require.NoError(t, s.RefreshUnacknowledgedCount(ctx))

	assert.False(t, s.ApplyAcknowledgement(ctx, models.NotificationAcknowledged{ID: "zzz"}))
	assert.Equal(t, 2, s.UnacknowledgedCount())

	at := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	by := &models.Acknowledger{FirstName: "Ada", LastName: "Obi"}
	assert.True(t, s.ApplyAcknowledgement(ctx, models.NotificationAcknowledged{ID: "c", AcknowledgedBy: by, AcknowledgedAt: &at}))
	assert.Equal(t, 1, s.UnacknowledgedCount())

	n, ok := s.Get("c")
	require.True(t, ok)
	assert.True(t, n.Acknowledged)
	require.NotNil(t, n.AcknowledgedAt)
	assert.True(t, at.Equal(*n.AcknowledgedAt))
	assert.Equal(t, "Ada Obi", n.AcknowledgedBy.DisplayName())
}

func TestSupervisorScenario(t *testing.T) {
	api := seededAPI()
	s, feedback := newTestStore(api, true)
	ctx := context.Background()

	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{Page: 1, Limit: 50}))
	require.NoError(t, s.RefreshUnacknowledgedCount(ctx))
	assert.Equal(t, 2, s.UnacknowledgedCount())

	crusher := notification("n-crusher", "Crusher 3", models.StatusDown, false)
	s.ApplyAlert(ctx, crusher)
	api.set(func(f *fakeAPI) {
		f.items = append([]models.Notification{crusher}, f.items...)
		f.count = 3
	})

	snap := s.Snapshot()
	require.Len(t, snap.Notifications, 4)
	assert.Equal(t, "Crusher 3", snap.Notifications[0].EquipmentName)
	assert.Equal(t, 3, snap.UnacknowledgedCount)

	require.NoError(t, s.AcknowledgeNotification(ctx, "n-crusher"))

	snap = s.Snapshot()
	require.Len(t, snap.Notifications, 4)
	assert.True(t, snap.Notifications[0].Acknowledged)
	assert.Equal(t, 2, snap.UnacknowledgedCount)
	assert.Equal(t, 1, api.listCalls, "successful acknowledge does not refetch")
	assert.Equal(t, []string{MsgAcknowledged}, feedback.successes)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)

	var mu sync.Mutex
	var loading []bool
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		loading = append(loading, snap.Loading)
		mu.Unlock()
	})

	require.NoError(t, s.FetchNotifications(context.Background(), models.ListParams{}))
	unsubscribe()
	s.ApplyAlert(context.Background(), notification("d", "Crusher 3", models.StatusDown, false))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, loading)
}

func TestSnapshotDoesNotAliasState(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)
	require.NoError(t, s.FetchNotifications(context.Background(), models.ListParams{}))

	snap := s.Snapshot()
	snap.Notifications[0].Acknowledged = true
	n, _ := s.Get("a")
	assert.False(t, n.Acknowledged)
}

func TestReset(t *testing.T) {
	api := seededAPI()
	s, _ := newTestStore(api, true)
	ctx := context.Background()
	require.NoError(t, s.FetchNotifications(ctx, models.ListParams{Page: 3}))
	require.NoError(t, s.RefreshUnacknowledgedCount(ctx))

	s.Reset()
	snap := s.Snapshot()
	assert.Empty(t, snap.Notifications)
	assert.Equal(t, 0, snap.UnacknowledgedCount)
	assert.Equal(t, 1, snap.LastParams.Page)
}
