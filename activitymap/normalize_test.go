package activitymap_test

import (
	"context"
	"testing"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/activitymap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := accounts.ActivityEvent{
		EventType: accounts.ActivityEventUserActivated,
		Actor:     accounts.ActorRef{ID: "user-100", Type: "user"},
		UserID:    "user-100",
		Metadata: map[string]any{
			"email": "jane@example.com",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	assert.Equal(t, "user-100", out.ActorID)
	assert.Equal(t, string(accounts.ActivityEventUserActivated), out.Verb)
	assert.Equal(t, "user", out.ObjectType)
	assert.Equal(t, "user-100", out.ObjectID)
	assert.Equal(t, "accounts", out.Channel)
	assert.True(t, out.OccurredAt.Equal(ts))
	assert.Equal(t, "jane@example.com", out.Metadata["email"])
	assert.Equal(t, "user", out.Metadata[activitymap.MetadataKeyActorType])
}

func TestNormalizeDoesNotMutateEventMetadata(t *testing.T) {
	t.Parallel()

	meta := map[string]any{"ip": "127.0.0.1"}
	event := accounts.ActivityEvent{
		EventType: accounts.ActivityEventLoginSuccess,
		Actor:     accounts.ActorRef{ID: "u1", Type: "user"},
		Metadata:  meta,
	}

	out := activitymap.Normalize(event)
	out.Metadata["ip"] = "changed"

	assert.Equal(t, "127.0.0.1", meta["ip"])
	_, leaked := meta[activitymap.MetadataKeyActorType]
	assert.False(t, leaked)
}

func TestNormalizeFallbacks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	out := activitymap.Normalize(accounts.ActivityEvent{
		EventType: accounts.ActivityEventLoginFailure,
	},
		activitymap.WithActorFallback("system"),
		activitymap.WithChannel("web"),
		activitymap.WithObjectType("account"),
		activitymap.WithClock(func() time.Time { return now }),
	)

	assert.Equal(t, "system", out.ActorID)
	assert.Equal(t, "web", out.Channel)
	assert.Equal(t, "account", out.ObjectType)
	assert.Empty(t, out.ObjectID)
	assert.Nil(t, out.Metadata)
	assert.True(t, out.OccurredAt.Equal(now))
}

func TestNormalizeUsesUserWhenActorMissing(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(accounts.ActivityEvent{
		EventType: accounts.ActivityEventPasswordResetRequested,
		UserID:    "user-7",
	})

	assert.Equal(t, "user-7", out.ActorID)
	assert.Equal(t, "anonymous", activitymap.Normalize(accounts.ActivityEvent{}).ActorID)
}

func TestNewSink(t *testing.T) {
	t.Parallel()

	var got []activitymap.Record
	sink := activitymap.NewSink(func(_ context.Context, record activitymap.Record) error {
		got = append(got, record)
		return nil
	}, activitymap.WithChannel("audit"))

	err := sink.Record(context.Background(), accounts.ActivityEvent{
		EventType: accounts.ActivityEventLogout,
		UserID:    "u2",
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "auth.logout", got[0].Verb)
	assert.Equal(t, "audit", got[0].Channel)

	require.NoError(t, activitymap.NewSink(nil).Record(context.Background(), accounts.ActivityEvent{}))
}
