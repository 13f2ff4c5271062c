package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintIncludesAppName(t *testing.T) {
	assert.Contains(t, Print("cvsps"), "cvsps version")
}
