package main_test

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/duh-rpc/duh-go"
	"github.com/kapetan-io/tackle/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cli "github.com/meridian-io/duplicant/cmd/duplicant"
)

func TestServerCommand(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "duplicant.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(serverConfig), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*clock.Second)
	defer cancel()

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	waitCh := make(chan struct{})
	go func() {
		err := cli.RunServer(ctx, cli.FlagParams{ConfigFile: configPath}, w)
		if err != nil {
			t.Logf("RunServer() returned error: '%v'", err)
		}
		close(waitCh)
	}()

	err := duh.WaitForConnect(ctx, "localhost:2519", nil)
	assert.NoError(t, err)
	cancel()

	<-waitCh
	_ = w.Flush()
	assert.Contains(t, buf.String(), "Loaded config from file")
	assert.Contains(t, buf.String(), "HTTP Listening")
}

const serverConfig = `
logging:
  handler: text

cluster:
  name: cluster-test

listen-address: localhost:2519
`
