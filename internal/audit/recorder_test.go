package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"verdict/internal/platform/logger"
)

type failingStore struct{}

func (failingStore) Append(ctx context.Context, entry Entry) error {
	return errors.New("insert failed")
}

func (failingStore) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	return nil, errors.New("query failed")
}

type RecorderSuite struct {
	suite.Suite
	ctx      context.Context
	store    *MemoryStore
	recorder *Recorder
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore()
	s.recorder = NewRecorder(s.store, logger.New())
}

func (s *RecorderSuite) TestRecord() {
	s.Run("stamps id and timestamp", func() {
		s.recorder.Record(s.ctx, Entry{
			Actor:  "alice",
			Action: ActionPolicyCreated,
		})

		entries := s.store.Entries()
		s.Require().Len(entries, 1)
		s.NotEqual(uuid.Nil, entries[0].ID)
		s.False(entries[0].Timestamp.IsZero())
		s.Equal("alice", entries[0].Actor)
	})

	s.Run("append failure is swallowed", func() {
		broken := NewRecorder(failingStore{}, logger.New())
		s.NotPanics(func() {
			broken.Record(s.ctx, Entry{Actor: "alice", Action: ActionPolicyCreated})
		})
	})
}

func (s *RecorderSuite) TestSnapshot() {
	s.Run("marshals the value", func() {
		raw := Snapshot(map[string]int{"version": 3})
		s.JSONEq(`{"version":3}`, string(raw))
	})

	s.Run("unmarshalable value degrades to null", func() {
		s.Equal("null", string(Snapshot(func() {})))
	})
}

func (s *RecorderSuite) TestListRecent() {
	for range 3 {
		s.recorder.Record(s.ctx, Entry{Actor: "alice", Action: ActionPolicyUpdated})
	}

	entries, err := s.store.ListRecent(s.ctx, 2)
	s.Require().NoError(err)
	s.Len(entries, 2)
}
