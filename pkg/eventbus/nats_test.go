package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamNameForTakesFirstSubjectToken(t *testing.T) {
	assert.Equal(t, "VALIDATE", streamNameFor("validate.image.start"))
	assert.Equal(t, "LISTING", streamNameFor("listing.index"))
	assert.Equal(t, "plain", streamNameFor("plain"))
}
