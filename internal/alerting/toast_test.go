package alerting

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/mine-alert-notifier/internal/config"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

func init() {
	utils.SetLogOutput(io.Discard)
}

func alertFor(id string, status models.Status) models.Notification {
	return models.Notification{
		ID:            id,
		Tag:           "CR-03",
		EquipmentName: "Crusher 3",
		Status:        status,
		Severity:      models.SeverityCritical,
		Message:       "Crusher 3 changed state",
		Timestamp:     time.Now(),
	}
}

func TestDownToastIsSticky(t *testing.T) {
	board := NewToastBoard(ToastOptions{UpDuration: 20 * time.Millisecond, FeedbackDuration: 20 * time.Millisecond}, nil)
	defer board.Close()

	toast := board.ShowAlert(alertFor("n1", models.StatusDown))
	assert.Equal(t, ToastEquipmentDown, toast.Kind)
	assert.True(t, toast.Sticky)
	assert.Nil(t, toast.ExpiresAt)
	assert.Len(t, toast.ID, 36)

	time.Sleep(60 * time.Millisecond)
	active := board.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "n1", active[0].NotificationID)

	assert.True(t, board.Dismiss(toast.ID))
	assert.False(t, board.Dismiss(toast.ID))
	assert.Empty(t, board.Active())
}

func TestUpAndFeedbackToastsExpire(t *testing.T) {
	board := NewToastBoard(ToastOptions{UpDuration: 20 * time.Millisecond, FeedbackDuration: 20 * time.Millisecond}, nil)
	defer board.Close()

	toast := board.ShowAlert(alertFor("n2", models.StatusUp))
	assert.Equal(t, ToastEquipmentUp, toast.Kind)
	assert.False(t, toast.Sticky)
	require.NotNil(t, toast.ExpiresAt)

	board.Success("Notification acknowledged")
	board.Error("Failed to delete notification")
	assert.Len(t, board.Active(), 3)

	assert.Eventually(t, func() bool { return len(board.Active()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDefaultToastDurations(t *testing.T) {
	board := NewToastBoard(ToastOptions{}, nil)
	defer board.Close()

	toast := board.ShowAlert(alertFor("n3", models.StatusUp))
	require.NotNil(t, toast.ExpiresAt)
	assert.Equal(t, 5*time.Second, toast.ExpiresAt.Sub(toast.CreatedAt))
}

func TestToastListeners(t *testing.T) {
	board := NewToastBoard(ToastOptions{}, nil)
	defer board.Close()

	var mu sync.Mutex
	var events []string
	off := board.OnEvent(func(e ToastEvent) {
		mu.Lock()
		events = append(events, e.Type+":"+string(e.Toast.Kind))
		mu.Unlock()
	})

	toast := board.ShowAlert(alertFor("n1", models.StatusDown))
	board.Dismiss(toast.ID)
	off()
	board.Success("ignored")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"shown:equipment_down", "dismissed:equipment_down"}, events)
}

func TestActiveIsOldestFirst(t *testing.T) {
	board := NewToastBoard(ToastOptions{}, nil)
	defer board.Close()

	first := board.ShowAlert(alertFor("n1", models.StatusDown))
	time.Sleep(2 * time.Millisecond)
	second := board.ShowAlert(alertFor("n2", models.StatusDown))

	active := board.Active()
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, second.ID, active[1].ID)
}

func TestClosedBoardShowsNothing(t *testing.T) {
	board := NewToastBoard(ToastOptions{}, nil)
	board.Close()
	board.Error("late")
	assert.Empty(t, board.Active())
}

func TestSounders(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&BellSounder{Out: &buf}).Play(context.Background()))
	assert.Equal(t, "\a", buf.String())

	assert.NoError(t, NopSounder{}.Play(context.Background()))

	err := (&CommandSounder{Command: "   "}).Play(context.Background())
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeConfiguration))

	err = (&CommandSounder{Command: "definitely-not-a-player-binary --quiet"}).Play(context.Background())
	assert.Error(t, err)
}

func TestNewSounder(t *testing.T) {
	assert.IsType(t, NopSounder{}, NewSounder(&config.NotificationConfig{SoundEnabled: false}))
	assert.IsType(t, &BellSounder{}, NewSounder(&config.NotificationConfig{SoundEnabled: true}))
	assert.IsType(t, &CommandSounder{}, NewSounder(&config.NotificationConfig{SoundEnabled: true, SoundCommand: "paplay alert.oga"}))
}
