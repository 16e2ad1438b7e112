package jobmanager

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// reaperLoop is the dedicated background worker that keeps active_jobs
// accurate. It wakes on a 1-minute timer or an explicit notify (shutdown),
// reaps children, escalates hung jobs, and on shutdown kills everything
// still tracked.
func (m *Manager) reaperLoop() {
	defer close(m.done)
	ticker := time.NewTicker(ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.wake:
		case <-ticker.C:
		}

		select {
		case <-m.stop:
			m.killAllJobs()
			return
		default:
		}

		m.reapOnce()
	}
}

// reapOnce enumerates this process's direct children, reaps exited ones,
// escalates timed-out ones, and deregisters everything that is done.
func (m *Manager) reapOnce() {
	children := selfChildren()
	if children == nil {
		children = m.trackedPids()
	}

	var toRemove []int
	for _, pid := range children {
		var status syscall.WaitStatus
		wpid, err := syscall.Wait4(pid, &status, syscall.WNOHANG, nil)
		switch {
		case err != nil:
			slog.Warn("reaper: wait failed, deregistering", "pid", pid, "error", err)
			toRemove = append(toRemove, pid)
		case wpid == 0:
			// Still running.
			m.mu.Lock()
			job, tracked := m.activeJobs[pid]
			m.mu.Unlock()
			if !tracked {
				continue
			}
			if time.Since(job.startTime) > JobTimeout {
				slog.Warn("reaper: job exceeded timeout, escalating", "job", job.jobName, "pid", pid, "timeout", JobTimeout)
				m.interruptJob(pid)
				m.history.RecordStop(pid, time.Now(), "timed out")
				toRemove = append(toRemove, pid)
			}
		default:
			// Exited.
			m.mu.Lock()
			job, tracked := m.activeJobs[pid]
			m.mu.Unlock()
			if tracked {
				if status.Exited() && status.ExitStatus() == 0 {
					slog.Info("job completed", "job", job.jobName, "pid", pid, "exit_code", 0)
				} else {
					slog.Warn("job exited non-zero", "job", job.jobName, "pid", pid, "status", status.String())
				}
				m.history.RecordStop(pid, time.Now(), status.String())
			} else {
				slog.Info("reaped untracked child", "pid", pid, "status", status.String())
			}
			toRemove = append(toRemove, pid)
		}
	}

	if len(toRemove) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pid := range toRemove {
		job, ok := m.activeJobs[pid]
		if !ok {
			continue
		}
		closeAll(job.outRead, job.errRead)
		delete(m.activeJobs, pid)
		if m.names[job.jobName] == pid {
			delete(m.names, job.jobName)
		}
	}
}

// killAllJobs is the reaper's last action on shutdown: SIGKILL every
// tracked job and wait for it.
func (m *Manager) killAllJobs() {
	m.mu.Lock()
	pids := make([]int, 0, len(m.activeJobs))
	for pid := range m.activeJobs {
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	for _, pid := range pids {
		m.killJob(pid)
		m.history.RecordStop(pid, time.Now(), "killed")
	}

	m.mu.Lock()
	for _, pid := range pids {
		job, ok := m.activeJobs[pid]
		if !ok {
			continue
		}
		closeAll(job.outRead, job.errRead)
		delete(m.activeJobs, pid)
		if m.names[job.jobName] == pid {
			delete(m.names, job.jobName)
		}
	}
	m.mu.Unlock()
}

// killJob sends SIGKILL and blocks until the process is reaped.
func (m *Manager) killJob(pid int) {
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		slog.Warn("kill_job: SIGKILL failed", "pid", pid, "error", err)
	}
	var status syscall.WaitStatus
	_, err := syscall.Wait4(pid, &status, 0, nil)
	if err != nil && err != syscall.ECHILD {
		slog.Warn("kill_job: wait failed", "pid", pid, "error", err)
		return
	}
	slog.Info("job killed", "pid", pid)
}

// interruptJob implements graceful SIGTERM-then-SIGKILL escalation:
// descendants are interrupted first (post-order), then pid itself is asked
// to terminate gracefully before being killed outright.
func (m *Manager) interruptJob(pid int) {
	for _, child := range processChildren(pid) {
		m.interruptJob(child)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if err != syscall.ESRCH {
			slog.Warn("interrupt_job: SIGTERM failed", "pid", pid, "error", err)
		}
		return
	}

	deadline := time.Now().Add(SigtermTimeout)
	for time.Now().Before(deadline) {
		var status syscall.WaitStatus
		wpid, err := syscall.Wait4(pid, &status, syscall.WNOHANG, nil)
		if err == syscall.ECHILD {
			// A deeper descendant is not ours to wait on; poll its liveness.
			if syscall.Kill(pid, 0) == syscall.ESRCH {
				return
			}
		} else if err != nil || wpid == pid {
			return
		}
		time.Sleep(pollInterval)
	}

	slog.Warn("interrupt_job: SIGTERM timed out, escalating to SIGKILL", "pid", pid)
	m.killJob(pid)
}

// selfChildren returns the direct child PIDs of this process by reading
// /proc/self/task/*/children. On platforms without procfs, readProcChildren
// returns nil and the Manager falls back to waiting only on the PIDs it
// itself registered, via reapOnce's trackedPids call.
func selfChildren() []int {
	return readProcChildren("self")
}

// trackedPids returns the PIDs this Manager currently has registered,
// used as the procfs-less fallback enumeration source.
func (m *Manager) trackedPids() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pids := make([]int, 0, len(m.activeJobs))
	for pid := range m.activeJobs {
		pids = append(pids, pid)
	}
	return pids
}

// processChildren returns the direct child PIDs of an arbitrary pid, used
// for recursive descendant interruption.
func processChildren(pid int) []int {
	return readProcChildren(strconv.Itoa(pid))
}

func readProcChildren(procDir string) []int {
	taskDir := filepath.Join("/proc", procDir, "task")
	tasks, err := os.ReadDir(taskDir)
	if err != nil {
		return nil
	}
	seen := make(map[int]struct{})
	var pids []int
	for _, task := range tasks {
		data, err := os.ReadFile(filepath.Join(taskDir, task.Name(), "children"))
		if err != nil {
			continue
		}
		for _, f := range strings.Fields(string(data)) {
			n, err := strconv.Atoi(f)
			if err != nil {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			pids = append(pids, n)
		}
	}
	return pids
}
