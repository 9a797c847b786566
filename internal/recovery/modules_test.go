package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/failsafe/internal/logging"
)

type fakeModule struct {
	name     string
	critical bool
	err      error
	restarts int
}

func (f *fakeModule) Name() string   { return f.name }
func (f *fakeModule) Critical() bool { return f.critical }
func (f *fakeModule) Restart(ctx context.Context) error {
	f.restarts++
	return f.err
}

func TestModules_RestartNonCritical(t *testing.T) {
	core := &fakeModule{name: "core", critical: true}
	web := &fakeModule{name: "web"}
	worker := &fakeModule{name: "worker", err: errors.New("worker stuck")}

	r := NewModules(logging.Discard().System())
	r.Add(core)
	r.Add(web)
	r.Add(worker)

	err := r.RestartNonCritical(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker stuck")
	assert.Equal(t, 0, core.restarts)
	assert.Equal(t, 1, web.restarts)
	assert.Equal(t, 1, worker.restarts, "a failing module does not stop the others")

	worker.err = nil
	require.NoError(t, r.RestartAll(context.Background()))
	assert.Equal(t, 1, core.restarts)
	assert.Equal(t, 2, web.restarts)
}

func TestModules_AddReplaces(t *testing.T) {
	r := NewModules(nil)
	r.Add(&fakeModule{name: "web"})
	r.Add(&fakeModule{name: "web", critical: true})

	list := r.List()
	require.Len(t, list, 1)
	assert.True(t, list[0].Critical())
}

func TestCommandModule(t *testing.T) {
	ok := NewCommandModule("ok", false, []string{"true"}, time.Second)
	assert.NoError(t, ok.Restart(context.Background()))

	bad := NewCommandModule("bad", false, []string{"sh", "-c", "echo nope >&2; exit 3"}, time.Second)
	err := bad.Restart(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	slow := NewCommandModule("slow", false, []string{"sleep", "5"}, 50*time.Millisecond)
	err = slow.Restart(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	noop := NewCommandModule("noop", true, nil, 0)
	assert.NoError(t, noop.Restart(context.Background()))
	assert.True(t, noop.Critical())
	assert.Equal(t, "noop", noop.Name())
}
