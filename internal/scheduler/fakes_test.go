package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/post-scheduler/internal/scheduler/domain"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory PostStore with compare-and-set updates
type memStore struct {
	mu        sync.Mutex
	posts     map[string]*domain.ScheduledPost
	fetchErr  error
	updateErr map[string]error
	committed int
	attempts  int
}

func newMemStore(posts ...domain.ScheduledPost) *memStore {
	s := &memStore{
		posts:     make(map[string]*domain.ScheduledPost),
		updateErr: make(map[string]error),
	}
	for i := range posts {
		p := posts[i]
		if p.Status == "" {
			p.Status = domain.StatusPending
		}
		s.posts[p.ID] = &p
	}
	return s
}

func (s *memStore) FetchDuePending(_ context.Context, now time.Time) ([]domain.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	var due []domain.ScheduledPost
	for _, p := range s.posts {
		if p.Status == domain.StatusPending && !p.ScheduledTime.After(now) {
			due = append(due, *p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (s *memStore) ConditionallyUpdate(_ context.Context, id string, from domain.Status, update domain.PostUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if err := s.updateErr[id]; err != nil {
		return 0, err
	}

	p, ok := s.posts[id]
	if !ok || p.Status != from {
		return 0, nil
	}

	p.Status = update.Status
	if update.PublishedID != "" {
		v := update.PublishedID
		p.PublishedID = &v
	}
	if update.ErrorMessage != "" {
		v := update.ErrorMessage
		p.ErrorMessage = &v
	}
	s.committed++
	return 1, nil
}

func (s *memStore) get(t *testing.T, id string) domain.ScheduledPost {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	require.True(t, ok, "post %s not found", id)
	return *p
}

// fakeResolver serves credentials per owner
type fakeResolver struct {
	mu          sync.Mutex
	credentials map[string]*domain.Credential
	errs        map[string]error
	calls       int
}

func newFakeResolver(owners ...string) *fakeResolver {
	r := &fakeResolver{
		credentials: make(map[string]*domain.Credential),
		errs:        make(map[string]error),
	}
	for _, owner := range owners {
		r.credentials[owner] = &domain.Credential{ID: "cred-" + owner, OwnerID: owner, AccessToken: "token-" + owner}
	}
	return r
}

func (r *fakeResolver) Resolve(_ context.Context, ownerID string) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if err := r.errs[ownerID]; err != nil {
		return nil, err
	}
	if c, ok := r.credentials[ownerID]; ok {
		return c, nil
	}
	return nil, domain.ErrCredentialNotFound
}

type publishCall struct {
	content      string
	credentialID string
}

// fakePublisher returns sequential ids unless a hook overrides the result.
// Hooks are keyed by the first line of content.
type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	seq   int
	hooks map[string]func() (string, error)
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{hooks: make(map[string]func() (string, error))}
}

func (p *fakePublisher) Publish(_ context.Context, content string, credential domain.Credential) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, publishCall{content: content, credentialID: credential.ID})
	p.seq++
	id := fmt.Sprintf("ext-%d", p.seq)
	hook := p.hooks[strings.SplitN(content, "\n", 2)[0]]
	p.mu.Unlock()

	if hook != nil {
		return hook()
	}
	return id, nil
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePublisher) contentFor(t *testing.T, prefix string) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if strings.HasPrefix(c.content, prefix) {
			return c.content
		}
	}
	t.Fatalf("no publish call for %q", prefix)
	return ""
}

type recordedEntry struct {
	ownerID     string
	eventType   string
	description string
	metadata    map[string]any
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []recordedEntry
}

func (r *fakeRecorder) Record(ownerID, eventType, description string, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedEntry{ownerID, eventType, description, metadata})
}

func (r *fakeRecorder) forPost(postID string) []recordedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEntry
	for _, e := range r.entries {
		if e.metadata["post_id"] == postID {
			out = append(out, e)
		}
	}
	return out
}

// harness wires a scheduler to fakes and records batch delays instead of sleeping
type harness struct {
	scheduler *Scheduler
	store     *memStore
	resolver  *fakeResolver
	publisher *fakePublisher
	recorder  *fakeRecorder

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, store *memStore, resolver *fakeResolver) *harness {
	t.Helper()

	h := &harness{
		store:     store,
		resolver:  resolver,
		publisher: newFakePublisher(),
		recorder:  &fakeRecorder{},
	}

	s, err := New(&Config{
		Logger:      discardLogger(),
		Store:       store,
		Credentials: resolver,
		Publisher:   h.publisher,
		Activity:    h.recorder,
		InstanceID:  "test-instance",
		Now:         func() time.Time { return testNow },
	})
	require.NoError(t, err)

	s.dispatcher.runner.sleep = func(_ context.Context, d time.Duration) {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
	}

	h.scheduler = s
	return h
}

func (h *harness) recordedSleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func duePost(id, owner string, overdue time.Duration) domain.ScheduledPost {
	return domain.ScheduledPost{
		ID:            id,
		OwnerID:       owner,
		Content:       "content of " + id,
		ScheduledTime: testNow.Add(-overdue),
		Status:        domain.StatusPending,
	}
}
