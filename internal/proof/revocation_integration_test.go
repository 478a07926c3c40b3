//go:build integration

package proof_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"mediaguard/internal/fingerprint"
	"mediaguard/internal/proof"
	dErrors "mediaguard/pkg/domain-errors"
	"mediaguard/pkg/testutil/containers"
)

type RedisRevocationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisRevocationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisRevocationSuite))
}

func (s *RedisRevocationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisRevocationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisRevocationSuite) TestRevokedKeyFailsVerification() {
	ctx := context.Background()
	revocations := proof.NewRedisRevocationList(s.redis.Client)
	engine := proof.NewEngine(proof.WithRevocationList(revocations))

	cred, err := proof.NewCredential(bytes.Repeat([]byte{5}, 32))
	s.Require().NoError(err)
	content := fingerprint.Content([]byte("broadcast"))
	p, err := engine.Generate(cred, content)
	s.Require().NoError(err)

	s.Require().NoError(engine.VerifyOwnership(ctx, p, content, cred.Identity()))

	s.Require().NoError(revocations.Revoke(ctx, p.VerificationKeyID))
	err = engine.VerifyOwnership(ctx, p, content, cred.Identity())
	s.True(dErrors.HasCode(err, dErrors.CodeProofInvalid))

	replica := proof.NewEngine(proof.WithRevocationList(proof.NewRedisRevocationList(s.redis.Client)))
	err = replica.VerifyOwnership(ctx, p, content, cred.Identity())
	s.True(dErrors.HasCode(err, dErrors.CodeProofInvalid), "revocation is shared across replicas")
}
