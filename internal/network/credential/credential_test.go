package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "trustnet/pkg/domain-errors"
)

func TestIssueAndVerify(t *testing.T) {
	plain, digest, err := Issue()
	require.NoError(t, err)
	assert.Regexp(t, `^ntk_[0-9a-f]{48}$`, plain)
	assert.NotContains(t, digest, plain)

	require.NoError(t, Verify(plain, digest))

	err = Verify(plain+"0", digest)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	err = Verify("not-a-key", digest)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestHashRejectsEmpty(t *testing.T) {
	_, err := Hash("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
