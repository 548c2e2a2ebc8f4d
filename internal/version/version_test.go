package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFull(t *testing.T) {
	assert.Equal(t, Version, Full())

	originalBuildTime, originalGitCommit := BuildTime, GitCommit
	defer func() {
		BuildTime = originalBuildTime
		GitCommit = originalGitCommit
	}()

	BuildTime = "2026-01-01"
	GitCommit = "abcdef"

	full := Full()
	assert.Contains(t, full, "2026-01-01")
	assert.Contains(t, full, "abcdef")
	assert.Equal(t, "Rampart "+full, String())
}
