// Package collabtest provides an in-memory Client for testing.
package collabtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360studio/taskpilot/collab"
)

// Thread records a created thread and everything posted to it.
type Thread struct {
	Ref      collab.ThreadRef
	Title    string
	Body     string
	Labels   []string
	Comments []string
}

// PullRequest records a created PR.
type PullRequest struct {
	Repo  string
	Head  string
	Base  string
	Title string
	Body  string
	URL   string
}

// Fake is a thread-safe in-memory collab.Client. Errors can be injected
// per method to exercise failure paths.
type Fake struct {
	mu           sync.Mutex
	nextNumber   int
	nextComment  int64
	threads      map[collab.ThreadRef]*Thread
	pullRequests []PullRequest

	CreateThreadErr error
	PostCommentErr  error
	AddLabelsErr    error
	CreatePRErr     error
}

// NewFake creates an empty fake client.
func NewFake() *Fake {
	return &Fake{
		nextNumber: 100,
		threads:    make(map[collab.ThreadRef]*Thread),
	}
}

// CreateThread implements collab.Client.
func (f *Fake) CreateThread(_ context.Context, repo, title, body string, labels []string) (collab.ThreadRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateThreadErr != nil {
		return collab.ThreadRef{}, f.CreateThreadErr
	}

	f.nextNumber++
	ref := collab.ThreadRef{Repo: repo, Number: f.nextNumber}
	f.threads[ref] = &Thread{Ref: ref, Title: title, Body: body, Labels: append([]string(nil), labels...)}
	return ref, nil
}

// PostComment implements collab.Client.
func (f *Fake) PostComment(_ context.Context, ref collab.ThreadRef, body string) (collab.CommentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PostCommentErr != nil {
		return collab.CommentRef{}, f.PostCommentErr
	}

	thread, ok := f.threads[ref]
	if !ok {
		return collab.CommentRef{}, collab.ErrNotFound
	}

	thread.Comments = append(thread.Comments, body)
	f.nextComment++
	return collab.CommentRef{
		ID:  f.nextComment,
		URL: fmt.Sprintf("https://github.com/%s/issues/%d#issuecomment-%d", ref.Repo, ref.Number, f.nextComment),
	}, nil
}

// AddLabels implements collab.Client.
func (f *Fake) AddLabels(_ context.Context, ref collab.ThreadRef, labels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AddLabelsErr != nil {
		return f.AddLabelsErr
	}

	thread, ok := f.threads[ref]
	if !ok {
		return collab.ErrNotFound
	}

	thread.Labels = append(thread.Labels, labels...)
	return nil
}

// CreatePullRequest implements collab.Client.
func (f *Fake) CreatePullRequest(_ context.Context, repo, head, base, title, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreatePRErr != nil {
		return "", f.CreatePRErr
	}

	url := fmt.Sprintf("https://github.com/%s/pull/%d", repo, len(f.pullRequests)+1)
	f.pullRequests = append(f.pullRequests, PullRequest{
		Repo: repo, Head: head, Base: base, Title: title, Body: body, URL: url,
	})
	return url, nil
}

// Thread returns the recorded thread for ref, or nil.
func (f *Fake) Thread(ref collab.ThreadRef) *Thread {
	f.mu.Lock()
	defer f.mu.Unlock()

	thread, ok := f.threads[ref]
	if !ok {
		return nil
	}
	cp := *thread
	cp.Comments = append([]string(nil), thread.Comments...)
	cp.Labels = append([]string(nil), thread.Labels...)
	return &cp
}

// PullRequests returns all recorded pull requests.
func (f *Fake) PullRequests() []PullRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PullRequest(nil), f.pullRequests...)
}
