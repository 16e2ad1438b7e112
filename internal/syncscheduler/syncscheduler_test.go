package syncscheduler

import (
	"bufio"
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cosi-lab/syncsched/internal/catalogue"
	"github.com/cosi-lab/syncsched/internal/details"
)

type fakeJobStarter struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func newFakeJobStarter() *fakeJobStarter {
	return &fakeJobStarter{fail: make(map[string]bool)}
}

func (f *fakeJobStarter) StartJob(jobName string, argv []string, passwordFile string, cmdIndex int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, jobName)
	return !f.fail[jobName]
}

func (f *fakeJobStarter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.calls...)
	sort.Strings(out)
	return out
}

func buildCatalogue(t *testing.T) catalogue.Catalogue {
	t.Helper()
	records := []details.Record{
		{
			Name: "ubuntu",
			Rsync: &details.RsyncRecord{
				SyncsPerDay: 4,
				Options:     []string{"-a"},
				Host:        "archive.ubuntu.com",
				Src:         "ubuntu",
				Dest:        "/srv/mirror/ubuntu",
			},
		},
		{
			Name:   "cran",
			Script: &details.ScriptRecord{SyncsPerDay: 2, Command: "/bin/true"},
		},
	}
	return catalogue.Build(records)
}

func TestStartSync_FiresOnePerCommand(t *testing.T) {
	cat := buildCatalogue(t)
	jobs := newFakeJobStarter()
	s, err := New(cat, jobs, false)
	require.NoError(t, err)

	require.True(t, s.StartSync("ubuntu"))
	require.Equal(t, []string{"ubuntu"}, jobs.Calls())
}

func TestStartSync_MultipleCommandsSuffixed(t *testing.T) {
	cat := catalogue.Build([]details.Record{{
		Name: "multi",
		Rsync: &details.RsyncRecord{
			SyncsPerDay: 1,
			Options:     []string{"-a", "-b"},
			Host:        "h",
			Src:         "s",
			Dest:        "/d",
		},
	}})
	jobs := newFakeJobStarter()
	s, err := New(cat, jobs, false)
	require.NoError(t, err)

	require.True(t, s.StartSync("multi"))
	require.Equal(t, []string{"multi", "multi_part_1"}, jobs.Calls())
}

func TestStartSync_DryRunNeverCallsStartJob(t *testing.T) {
	cat := buildCatalogue(t)
	jobs := newFakeJobStarter()
	s, err := New(cat, jobs, true)
	require.NoError(t, err)

	require.True(t, s.StartSync("ubuntu"))
	require.Empty(t, jobs.Calls())
}

func TestStartSync_UnknownProjectFails(t *testing.T) {
	cat := buildCatalogue(t)
	jobs := newFakeJobStarter()
	s, err := New(cat, jobs, false)
	require.NoError(t, err)

	require.False(t, s.StartSync("ghost"))
}

func TestNew_EmptyCatalogueIsFatal(t *testing.T) {
	_, err := New(catalogue.Catalogue{}, newFakeJobStarter(), false)
	require.ErrorIs(t, err, ErrEmptyCatalogue)
}

func TestHandleManualSync(t *testing.T) {
	cat := buildCatalogue(t)
	jobs := newFakeJobStarter()
	s, err := New(cat, jobs, false)
	require.NoError(t, err)

	require.Contains(t, s.HandleManualSync("ubuntu"), "SUCCESS")
	require.Contains(t, s.HandleManualSync("ghost"), "FAILURE: Project ghost not found!")

	all := s.HandleManualSync("all_projects")
	require.Contains(t, all, "SUCCESS")
	// "ubuntu" was started once on its own above and once more via
	// all_projects; the fake starter has no duplicate suppression.
	require.ElementsMatch(t, []string{"cran", "ubuntu", "ubuntu"}, jobs.Calls())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) SleepUntil(ctx context.Context, t time.Time) error {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func TestRun_FiresBatchesUntilCancelled(t *testing.T) {
	cat := catalogue.Build([]details.Record{{
		Name:   "fast",
		Script: &details.ScriptRecord{SyncsPerDay: 24, Command: "/bin/true"},
	}})
	jobs := newFakeJobStarter()
	s, err := New(cat, jobs, false)
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err = s.Run(ctx, clock)
	require.ErrorIs(t, err, context.Canceled)
	require.NotEmpty(t, jobs.Calls())
}

func TestServeManualSync_RoundTrip(t *testing.T) {
	cat := buildCatalogue(t)
	jobs := newFakeJobStarter()
	s, err := New(cat, jobs, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	go func() { _ = s.ServeManualSync(ctx, port) }()
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr(port))
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", addr(port))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Write([]byte("ubuntu\n"))
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, reply, "SUCCESS")
}

func addr(port int) string {
	return "127.0.0.1:" + strconv.Itoa(port)
}
