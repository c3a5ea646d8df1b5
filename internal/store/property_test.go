package store

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// Randomized interleavings of append, delta updates, and finalize must
// never produce an ordinal gap or a second pending message.
func TestRandomizedAppendFinalize_Invariants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	sess, err := s.CreateSession(ctx, "prop", "m")
	require.NoError(t, err)

	var pendingOrdinal int64 // 0 while none
	terminal := []Status{StatusComplete, StatusFailed, StatusInterrupted}

	for i := 0; i < 400; i++ {
		switch rng.Intn(4) {
		case 0: // append complete
			_, err := s.Append(ctx, sess.ID, RoleUser, "u", StatusComplete)
			require.NoError(t, err)
		case 1: // append pending
			m, err := s.Append(ctx, sess.ID, RoleAssistant, "", StatusPending)
			if pendingOrdinal != 0 {
				require.ErrorIs(t, err, ErrPendingExists)
			} else {
				require.NoError(t, err)
				pendingOrdinal = m.Ordinal
			}
		case 2: // stream a delta into the pending message
			if pendingOrdinal != 0 {
				require.NoError(t, s.UpdateContent(ctx, sess.ID, pendingOrdinal, "partial"))
			}
		case 3: // finalize the pending message
			if pendingOrdinal != 0 {
				st := terminal[rng.Intn(len(terminal))]
				err := s.Finalize(ctx, sess.ID, pendingOrdinal, st)
				if !errors.Is(err, ErrFinalized) {
					require.NoError(t, err)
				}
				pendingOrdinal = 0
			}
		}

		msgs, err := s.History(ctx, sess.ID)
		require.NoError(t, err)
		pending := 0
		for j, m := range msgs {
			require.Equal(t, int64(j+1), m.Ordinal, "ordinal gap at step %d", i)
			if m.Status == StatusPending {
				pending++
			}
		}
		require.LessOrEqual(t, pending, 1, "pending count at step %d", i)
	}
}
