package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seatsmith/seatsmith/internal/models"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()

	alice1 := hub.Subscribe("alice")
	alice2 := hub.Subscribe("alice")
	bob := hub.Subscribe("bob")
	defer bob.Close()

	require.Equal(t, 2, hub.SubscriberCount("alice"))
	require.Equal(t, 1, hub.SubscriberCount("bob"))

	notification := &models.Notification{Kind: models.NotificationKindLink}
	hub.Broadcast("alice", notification)

	for _, sub := range []*Subscriber{alice1, alice2} {
		select {
		case event := <-sub.Events():
			require.Equal(t, "notification", event.Type)
			require.Same(t, notification, event.Notification)
		case <-time.After(time.Second):
			t.Fatal("expected event was not delivered")
		}
	}

	select {
	case <-bob.Events():
		t.Fatal("event leaked to another user")
	default:
	}

	alice1.Close()
	alice2.Close()
	require.Zero(t, hub.SubscriberCount("alice"))
}

func TestSubscriberClose(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("alice")

	sub.Close()
	sub.Close() // safe to call twice

	_, open := <-sub.Events()
	require.False(t, open)

	// Broadcasting after close must not panic or block.
	hub.Broadcast("alice", &models.Notification{Kind: models.NotificationKindLink})
}

func TestBroadcastSkipsSlowSubscribers(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("alice")
	defer sub.Close()

	notification := &models.Notification{Kind: models.NotificationKindLink}
	// Overfill the buffer; extra events are dropped, not blocked on.
	for i := 0; i < sendBufferSize+5; i++ {
		hub.Broadcast("alice", notification)
	}

	delivered := 0
	for {
		select {
		case <-sub.Events():
			delivered++
			continue
		default:
		}
		break
	}
	require.Equal(t, sendBufferSize, delivered)
}
