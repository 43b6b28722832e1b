package duplicant_test

import (
	"context"
	dup "github.com/meridian-io/duplicant"
	"github.com/meridian-io/duplicant/daemon"
	"github.com/meridian-io/duplicant/transport"
	"github.com/kapetan-io/tackle/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNewClient(t *testing.T) {
	_, err := dup.NewClient(dup.ClientOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opts.Endpoint is empty")

	ctx, cancel := context.WithTimeout(context.Background(), 10*clock.Second)
	defer cancel()

	d, err := daemon.NewDaemon(ctx, daemon.Config{
		ServiceConfig: dup.ServiceConfig{Log: log},
		ListenAddress: "localhost:0",
	})
	require.NoError(t, err)
	defer func() { _ = d.Shutdown(context.Background()) }()
	c := d.MustClient()

	var list transport.AppsListResponse
	require.NoError(t, c.AppsList(ctx, &list))
	assert.Empty(t, list.Apps)
}
