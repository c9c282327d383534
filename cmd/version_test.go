package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/Friendly-Banana/wobot/wobot"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := wobot.Version
	originalCommitSHA := wobot.CommitSHA
	originalBuildTime := wobot.BuildTime

	t.Cleanup(
		func() {
			wobot.Version = originalVersion
			wobot.CommitSHA = originalCommitSHA
			wobot.BuildTime = originalBuildTime
		},
	)

	wobot.Version = "1.0.0"
	wobot.CommitSHA = "abc123"
	wobot.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		wobot.Version,
		wobot.CommitSHA,
		wobot.BuildTime,
	)
	assert.Equal(t, expected, output)
}
