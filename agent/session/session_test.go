package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"n3n.dev/core/agent/session"
	"n3n.dev/core/agent/session/inmem"
	flowerrors "n3n.dev/core/flow/errors"
)

func TestCreateAndValidateAccess(t *testing.T) {
	iso, err := session.New(session.Options{Store: inmem.New()})
	require.NoError(t, err)

	ctx := context.Background()
	s, err := iso.CreateSession(ctx, "user-1", "conv-1", "sess-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", s.UserID)

	got, err := iso.ValidateAccess(ctx, "user-1", "sess-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", got.ID)
}

func TestValidateAccessDeniedForOtherUser(t *testing.T) {
	iso, err := session.New(session.Options{Store: inmem.New()})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = iso.CreateSession(ctx, "user-1", "conv-1", "sess-1")
	require.NoError(t, err)

	_, err = iso.ValidateAccess(ctx, "user-2", "sess-1")
	require.Error(t, err)
	require.True(t, flowerrors.Is(err, flowerrors.KindPermissionDenied))
}

func TestCreateSessionEvictsOldestAtCapacity(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	iso, err := session.New(session.Options{
		Store:      inmem.New(),
		MaxPerUser: 2,
		Now: func() time.Time {
			tick++
			return start.Add(time.Duration(tick) * time.Minute)
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = iso.CreateSession(ctx, "user-1", "conv-1", "sess-1")
	require.NoError(t, err)
	_, err = iso.CreateSession(ctx, "user-1", "conv-2", "sess-2")
	require.NoError(t, err)
	_, err = iso.CreateSession(ctx, "user-1", "conv-3", "sess-3")
	require.NoError(t, err)

	_, err = iso.ValidateAccess(ctx, "user-1", "sess-1")
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	_, err = iso.ValidateAccess(ctx, "user-1", "sess-3")
	require.NoError(t, err)
}

func TestTerminateAllSessions(t *testing.T) {
	iso, err := session.New(session.Options{Store: inmem.New()})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = iso.CreateSession(ctx, "user-1", "conv-1", "sess-1")
	require.NoError(t, err)
	_, err = iso.CreateSession(ctx, "user-1", "conv-2", "sess-2")
	require.NoError(t, err)

	require.NoError(t, iso.TerminateAllSessions(ctx, "user-1"))

	_, err = iso.ValidateAccess(ctx, "user-1", "sess-1")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = iso.ValidateAccess(ctx, "user-1", "sess-2")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}
