package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

type fullStore interface {
	ports.ConversationLedger
	ports.EvidenceStore
	ports.ProfileStore
}

func stores(t *testing.T) map[string]fullStore {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "workmind.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]fullStore{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func userTurn(content string) entities.ConversationTurn {
	return entities.ConversationTurn{Role: entities.RoleUser, Kind: entities.TurnMessage, Content: content, Timestamp: time.Now()}
}

func replyTurn(content string) entities.ConversationTurn {
	return entities.ConversationTurn{Role: entities.RoleAssistant, Kind: entities.TurnMessage, Content: content, Timestamp: time.Now()}
}

func TestLedger_AppendAndRecent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := entities.ThreadKey{Department: "Sales", Thread: "t1"}

			empty, err := s.Recent(ctx, key, 5)
			require.NoError(t, err)
			assert.Empty(t, empty)

			var ids []string
			for i := 0; i < 5; i++ {
				id, err := s.Append(ctx, key, userTurn(fmt.Sprintf("m%d", i)))
				require.NoError(t, err)
				ids = append(ids, id)
			}
			assert.Len(t, uniq(ids), 5)

			recent, err := s.Recent(ctx, key, 3)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			assert.Equal(t, []string{"m2", "m3", "m4"}, contents(recent))
			assert.Equal(t, []int64{3, 4, 5}, seqs(recent))
			assert.Equal(t, ids[2:], turnIDs(recent))

			all, err := s.Recent(ctx, key, 0)
			require.NoError(t, err)
			assert.Len(t, all, 5)
		})
	}
}

func TestLedger_ExchangeKeepsVerdict(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := entities.ThreadKey{Department: "Sales", Thread: "t1"}
			reply := replyTurn("approval required")
			reply.Escalation = &entities.EscalationVerdict{Required: true, Reason: "approval required", Approver: "Jane Doe"}

			userID, replyID, err := s.AppendExchange(ctx, key, userTurn("discount?"), reply)
			require.NoError(t, err)
			assert.NotEqual(t, userID, replyID)

			turns, err := s.Recent(ctx, key, 10)
			require.NoError(t, err)
			require.Len(t, turns, 2)
			assert.Equal(t, entities.RoleUser, turns[0].Role)
			assert.Nil(t, turns[0].Escalation)
			require.NotNil(t, turns[1].Escalation)
			assert.Equal(t, *reply.Escalation, *turns[1].Escalation)
			assert.WithinDuration(t, reply.Timestamp, turns[1].Timestamp, time.Second)
		})
	}
}

func TestLedger_ConcurrentExchangesSameThread(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := entities.ThreadKey{Department: "Ops", Thread: "busy"}

			const n = 25
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					body := strings.Repeat(fmt.Sprintf("%02d", i), 200)
					_, _, err := s.AppendExchange(ctx, key, userTurn("q"+body), replyTurn("a"+body))
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			turns, err := s.Recent(ctx, key, 0)
			require.NoError(t, err)
			require.Len(t, turns, 2*n)
			for i, turn := range turns {
				assert.Equal(t, int64(i+1), turn.Seq)
			}
			for i := 0; i < len(turns); i += 2 {
				q, a := turns[i], turns[i+1]
				require.Equal(t, entities.RoleUser, q.Role)
				require.Equal(t, entities.RoleAssistant, a.Role)
				assert.Equal(t, q.Content[1:], a.Content[1:], "exchange split at %d", i)
			}
		})
	}
}

func TestLedger_KeysAreIndependent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := entities.ThreadKey{Department: "Sales", Thread: "a"}
			b := entities.ThreadKey{Department: "Sales", Thread: "b"}
			c := entities.ThreadKey{Department: "Finance", Thread: "a"}

			for _, k := range []entities.ThreadKey{a, b, c, a} {
				_, err := s.Append(ctx, k, userTurn(k.String()))
				require.NoError(t, err)
			}

			ta, _ := s.Recent(ctx, a, 0)
			tc, _ := s.Recent(ctx, c, 0)
			assert.Len(t, ta, 2)
			assert.Equal(t, []int64{1, 2}, seqs(ta))
			assert.Len(t, tc, 1)

			threads, err := s.Threads(ctx, "Sales")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, threads)
		})
	}
}

func TestEvidence_AddOnlyAndScoped(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
			text := entities.EvidenceDocument{ID: "d1", Department: "Sales", Name: "a.md", MimeType: "text/markdown", MimeCategory: entities.MimeText, Content: "hello", UploadedAt: now}
			img := entities.EvidenceDocument{ID: "d2", Department: "Sales", Name: "b.png", MimeType: "image/png", MimeCategory: entities.MimeImage, Data: []byte{1, 2}, Pinned: true, UploadedAt: now.Add(time.Minute)}
			other := entities.EvidenceDocument{ID: "d3", Department: "Finance", Name: "c.csv", MimeType: "text/csv", MimeCategory: entities.MimeText, Content: "x", UploadedAt: now}

			for _, d := range []entities.EvidenceDocument{text, img, other} {
				require.NoError(t, s.AddEvidence(ctx, d))
			}
			require.Error(t, s.AddEvidence(ctx, text))

			docs, err := s.LoadEvidence(ctx, "sales")
			require.NoError(t, err)
			require.Len(t, docs, 2)
			byID := map[string]entities.EvidenceDocument{}
			for _, d := range docs {
				byID[d.ID] = d
			}
			assert.Equal(t, "hello", byID["d1"].Content)
			assert.Equal(t, entities.MimeImage, byID["d2"].MimeCategory)
			assert.Equal(t, []byte{1, 2}, byID["d2"].Data)
			assert.True(t, byID["d2"].Pinned)
			assert.True(t, byID["d1"].UploadedAt.Equal(now))
		})
	}
}

func TestProfiles_SaveLoadAndAddDepartment(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.LoadProfile(ctx, "ws1")
			assert.True(t, errors.Is(err, ports.ErrNotFound))
			assert.True(t, errors.Is(s.AddDepartment(ctx, "ws1", entities.DepartmentConfig{Department: "Sales"}), ports.ErrNotFound))

			p := &entities.BusinessProfile{WorkspaceID: "ws1", BusinessName: "Acme", Competitors: []string{"Globex"}}
			p.AddDepartment(entities.DepartmentConfig{Department: "Sales", Priority: "High"})
			require.NoError(t, s.SaveProfile(ctx, p))

			require.NoError(t, s.AddDepartment(ctx, "ws1", entities.DepartmentConfig{Department: "Finance", Priority: "Low"}))

			// A later save without Sales must not remove it.
			require.NoError(t, s.SaveProfile(ctx, &entities.BusinessProfile{WorkspaceID: "ws1", BusinessName: "Acme Corp"}))

			got, err := s.LoadProfile(ctx, "ws1")
			require.NoError(t, err)
			assert.Equal(t, "Acme Corp", got.BusinessName)
			sales, ok := got.Department("Sales")
			require.True(t, ok)
			assert.Equal(t, "High", sales.Priority)
			_, ok = got.Department("finance")
			assert.True(t, ok)
			assert.ElementsMatch(t, []string{"Sales", "Finance"}, got.SelectedDepartments)

			require.Error(t, s.SaveProfile(ctx, &entities.BusinessProfile{}))
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	key := entities.ThreadKey{Department: "Sales", Thread: "t1"}
	ctx := context.Background()

	s, err := NewSQLiteStore(path, nil)
	require.NoError(t, err)
	_, _, err = s.AppendExchange(ctx, key, userTurn("one"), replyTurn("two"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Append(ctx, key, userTurn("three"))
	require.NoError(t, err)

	turns, err := s.Recent(ctx, key, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, contents(turns))
	assert.Equal(t, []int64{1, 2, 3}, seqs(turns))
}

func TestKeyLocks_ReleaseEntries(t *testing.T) {
	k := newKeyLocks()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("same")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size())
}

func contents(turns []entities.ConversationTurn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}

func seqs(turns []entities.ConversationTurn) []int64 {
	out := make([]int64, len(turns))
	for i, t := range turns {
		out[i] = t.Seq
	}
	return out
}

func turnIDs(turns []entities.ConversationTurn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.ID
	}
	return out
}

func uniq(in []string) map[string]bool {
	out := map[string]bool{}
	for _, s := range in {
		out[s] = true
	}
	return out
}
