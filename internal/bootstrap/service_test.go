//go:build unit

package bootstrap

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability"
	libLog "github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/server"
)

type stubWorker struct {
	stop     chan struct{}
	ran      atomic.Bool
	shutdown atomic.Bool
}

func newStubWorker() *stubWorker { return &stubWorker{stop: make(chan struct{})} }

func (w *stubWorker) Run(*reliability.Launcher) error {
	w.ran.Store(true)
	<-w.stop

	return nil
}

func (w *stubWorker) Shutdown(context.Context) error {
	if w.shutdown.CompareAndSwap(false, true) {
		close(w.stop)
	}

	return nil
}

func TestServiceRun_StopsWorkersOnShutdown(t *testing.T) {
	worker := newStubWorker()
	shutdown := make(chan struct{})

	var cleaned atomic.Bool

	svc := &Service{
		Logger: libLog.NewNop(),
		Server: server.NewServerManager(libLog.NewNop()).
			WithWorkers(worker).
			WithShutdownChannel(shutdown).
			WithCleanup("flag", func(context.Context) error {
				cleaned.Store(true)
				return nil
			}),
		apps: []namedApp{{name: "Stub Worker", app: worker}},
	}

	assert.Equal(t, []string{"Stub Worker"}, svc.Apps())

	close(shutdown)

	require.NoError(t, svc.Run())
	assert.True(t, worker.shutdown.Load())
	assert.True(t, cleaned.Load())
}

func TestInitServers_NilConfig(t *testing.T) {
	svc, err := InitServers(context.Background(), nil)
	require.ErrorIs(t, err, ErrMissingConfig)
	assert.Nil(t, svc)
}
