package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"mediaguard/pkg/platform/sentinel"
)

type store interface {
	Put(ctx context.Context, key string, blob []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Lookup(ctx context.Context, key string) (string, error)
}

type BlobStoreSuite struct {
	suite.Suite
	newStore func() store
	ctx      context.Context
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &BlobStoreSuite{newStore: func() store { return NewMemory() }})
}

func TestLevelDBStore(t *testing.T) {
	suite.Run(t, &BlobStoreSuite{newStore: func() store {
		s, err := OpenLevelDBMemory()
		if err != nil {
			t.Fatalf("open leveldb: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}})
}

func (s *BlobStoreSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *BlobStoreSuite) TestPutGet() {
	st := s.newStore()

	s.Run("round trips a blob", func() {
		ref, err := st.Put(s.ctx, "content/a/metadata", []byte(`{"title":"clip"}`))
		s.Require().NoError(err)
		s.Equal(RefFor([]byte(`{"title":"clip"}`)), ref)

		blob, err := st.Get(s.ctx, ref)
		s.Require().NoError(err)
		s.Equal(`{"title":"clip"}`, string(blob))
	})

	s.Run("same bytes give the same ref", func() {
		r1, err := st.Put(s.ctx, "k1", []byte("same"))
		s.Require().NoError(err)
		r2, err := st.Put(s.ctx, "k2", []byte("same"))
		s.Require().NoError(err)
		s.Equal(r1, r2)
	})

	s.Run("unknown ref is not found", func() {
		_, err := st.Get(s.ctx, RefFor([]byte("never stored")))
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = st.Get(s.ctx, "not-a-ref")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("key alias resolves to the latest ref", func() {
		_, err := st.Put(s.ctx, "evidence/x", []byte("v1"))
		s.Require().NoError(err)
		latest, err := st.Put(s.ctx, "evidence/x", []byte("v2"))
		s.Require().NoError(err)

		ref, err := st.Lookup(s.ctx, "evidence/x")
		s.Require().NoError(err)
		s.Equal(latest, ref)

		_, err = st.Lookup(s.ctx, "evidence/missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
