package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectionsForIntent_KnownLabels(t *testing.T) {
	assert.Equal(t, []string{"mobile"}, CollectionsForIntent("plan inquiry"))
	assert.Equal(t, []string{"mobile", "penalty"}, CollectionsForIntent("cancel"))
	assert.Equal(t, []string{"mobile", "penalty"}, CollectionsForIntent("cancellation"))
	assert.Equal(t, []string{"membership"}, CollectionsForIntent("membership"))
	assert.Equal(t, []string{"mobile", "penalty"}, CollectionsForIntent("billing"))
}

func TestCollectionsForIntent_UnknownLabelFallsBackToMobile(t *testing.T) {
	assert.Equal(t, []string{"mobile"}, CollectionsForIntent("something_unclassified"))
}
