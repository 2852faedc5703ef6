package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateProducesExactCount(t *testing.T) {
	ops := Generate(3, 9)
	assert.Len(t, ops, 27)
}

func TestGenerateIsDeterministic(t *testing.T) {
	a := Generate(4, 12)
	b := Generate(4, 12)
	assert.Equal(t, a, b)
}

func TestGenerateMixesFeedAndSharedDoc(t *testing.T) {
	ops := Generate(2, 6)

	sawFeed, sawDoc := false, false
	for _, op := range ops {
		if op.Key == DocKey {
			sawDoc = true
		} else {
			sawFeed = true
		}
	}
	assert.True(t, sawFeed, "workload must include per-client feed operations")
	assert.True(t, sawDoc, "workload must include shared-doc operations")
}

func TestGenerateEveryOpHasAClient(t *testing.T) {
	ops := Generate(3, 5)
	for _, op := range ops {
		assert.NotEmpty(t, op.Client)
		assert.NotEmpty(t, op.Key)
	}
}
