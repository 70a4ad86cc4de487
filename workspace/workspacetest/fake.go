// Package workspacetest provides a scripted Runner for testing.
package workspacetest

import (
	"context"
	"strings"
	"sync"

	"github.com/c360studio/taskpilot/workspace"
)

// FakeRunner is a thread-safe in-memory workspace.Runner. Exec results are
// scripted per command name; unscripted commands succeed with empty output.
type FakeRunner struct {
	mu       sync.Mutex
	results  map[string]*workspace.ExecResult
	execErr  error
	branch   string
	branches []string
	commits  []string
}

// NewFakeRunner creates an empty fake runner on branch "main".
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		results: make(map[string]*workspace.ExecResult),
		branch:  "main",
	}
}

// ScriptExec sets the result returned for a command name.
func (f *FakeRunner) ScriptExec(name string, result *workspace.ExecResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[name] = result
}

// FailExec makes all Exec calls return err.
func (f *FakeRunner) FailExec(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execErr = err
}

// Exec implements workspace.Runner.
func (f *FakeRunner) Exec(_ context.Context, name string, args ...string) (*workspace.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.execErr != nil {
		return nil, f.execErr
	}

	key := name
	if len(args) > 0 {
		key = name + " " + strings.Join(args, " ")
	}
	if result, ok := f.results[key]; ok {
		return result, nil
	}
	if result, ok := f.results[name]; ok {
		return result, nil
	}
	return &workspace.ExecResult{}, nil
}

// CreateBranch implements workspace.Runner.
func (f *FakeRunner) CreateBranch(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branch = name
	f.branches = append(f.branches, name)
	return nil
}

// Commit implements workspace.Runner.
func (f *FakeRunner) Commit(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, message)
	return nil
}

// CurrentBranch implements workspace.Runner.
func (f *FakeRunner) CurrentBranch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branch, nil
}

// Branches returns every branch created so far.
func (f *FakeRunner) Branches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.branches...)
}

// Commits returns every commit message recorded so far.
func (f *FakeRunner) Commits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commits...)
}
