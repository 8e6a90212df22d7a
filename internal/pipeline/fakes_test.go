package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jonathan/swing-coach/internal/llm"
	"github.com/jonathan/swing-coach/internal/media"
	"github.com/jonathan/swing-coach/internal/objectstore"
	"github.com/jonathan/swing-coach/internal/queue"
	"github.com/jonathan/swing-coach/internal/types"
)

// memStore mirrors the conditional-write semantics of the real stores.
type memStore struct {
	mu            sync.Mutex
	records       map[string]*types.AnalysisRecord
	turns         map[string][]types.ConversationTurn
	now           func() time.Time
	appendErr     error
	historyErr    error
	completeErr   error
	failErr       error
	claimAttempts int
}

func newMemStore() *memStore {
	return &memStore{
		records: map[string]*types.AnalysisRecord{},
		turns:   map[string][]types.ConversationTurn{},
		now:     time.Now,
	}
}

func (m *memStore) put(rec types.AnalysisRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = m.now()
	}
	m.records[rec.ID] = &rec
}

// age moves the record's last update back by d.
func (m *memStore) age(id string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id].UpdatedAt = m.records[id].UpdatedAt.Add(-d)
}

func (m *memStore) get(id string) types.AnalysisRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.records[id])
}

func clone(r *types.AnalysisRecord) types.AnalysisRecord {
	c := *r
	c.FrameRefs = append([]types.FrameRef(nil), r.FrameRefs...)
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	return c
}

func (m *memStore) CreateAnalysis(_ context.Context, rec *types.AnalysisRecord) (*types.AnalysisRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.ID]; ok {
		c := clone(existing)
		return &c, false, nil
	}
	now := m.now()
	stored := &types.AnalysisRecord{
		ID: rec.ID, OwnerID: rec.OwnerID, Status: types.StatusStarted,
		ProgressMessage: rec.ProgressMessage, Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	m.records[rec.ID] = stored
	c := clone(stored)
	return &c, true, nil
}

func (m *memStore) GetAnalysis(_ context.Context, id string) (*types.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	c := clone(rec)
	return &c, nil
}

func (m *memStore) update(id string, ok func(*types.AnalysisRecord) bool, apply func(*types.AnalysisRecord)) (*types.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, exists := m.records[id]
	if !exists {
		return nil, types.ErrNotFound
	}
	if !ok(rec) {
		return nil, types.ErrConflict
	}
	before := clone(rec)
	apply(rec)
	// every write the stages make must follow a legal edge
	if err := types.CheckTransition(before.Status, rec.Status); err != nil {
		*rec = before
		return nil, err
	}
	rec.Version++
	rec.UpdatedAt = m.now()
	c := clone(rec)
	return &c, nil
}

func (m *memStore) MarkExtracting(_ context.Context, id, msg string) (*types.AnalysisRecord, error) {
	return m.update(id,
		func(r *types.AnalysisRecord) bool { return r.Status == types.StatusStarted },
		func(r *types.AnalysisRecord) { r.Status = types.StatusProcessing; r.ProgressMessage = msg })
}

func (m *memStore) FinalizeFrames(_ context.Context, id string, frames []types.FrameRef, msg string) (*types.AnalysisRecord, error) {
	return m.update(id,
		func(r *types.AnalysisRecord) bool { return r.Status == types.StatusProcessing },
		func(r *types.AnalysisRecord) {
			r.Status = types.StatusCompleted
			r.FrameRefs = append([]types.FrameRef(nil), frames...)
			r.ProgressMessage = msg
		})
}

func (m *memStore) ClaimForInference(_ context.Context, id string, version int64, msg string) (*types.AnalysisRecord, error) {
	m.mu.Lock()
	m.claimAttempts++
	m.mu.Unlock()
	return m.update(id,
		func(r *types.AnalysisRecord) bool {
			return r.Version == version && r.Result == nil &&
				(r.Status == types.StatusCompleted || r.Status == types.StatusAIProcessing)
		},
		func(r *types.AnalysisRecord) { r.Status = types.StatusAIProcessing; r.ProgressMessage = msg })
}

func (m *memStore) CompleteInference(_ context.Context, id string, version int64, result *types.AnalysisResult, msg string) (*types.AnalysisRecord, error) {
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return m.update(id,
		func(r *types.AnalysisRecord) bool {
			return r.Status == types.StatusAIProcessing && r.Version == version && r.Result == nil
		},
		func(r *types.AnalysisRecord) {
			res := *result
			r.Result = &res
			r.Status = types.StatusAICompleted
			r.Completed = true
			r.ProgressMessage = msg
		})
}

func (m *memStore) FailInference(_ context.Context, id string, version int64, msg string) (*types.AnalysisRecord, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	return m.update(id,
		func(r *types.AnalysisRecord) bool {
			return r.Status == types.StatusAIProcessing && r.Version == version && r.Result == nil
		},
		func(r *types.AnalysisRecord) { r.Status = types.StatusFailed; r.ProgressMessage = msg })
}

func (m *memStore) MarkFailed(_ context.Context, id, msg string) (*types.AnalysisRecord, error) {
	return m.update(id,
		func(r *types.AnalysisRecord) bool { return !r.Status.IsTerminal() },
		func(r *types.AnalysisRecord) { r.Status = types.StatusFailed; r.ProgressMessage = msg })
}

func (m *memStore) ListRecentCompleted(_ context.Context, owner, exclude string, limit int) ([]types.AnalysisRecord, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.AnalysisRecord
	for _, r := range m.records {
		if r.OwnerID == owner && r.Completed && r.ID != exclude {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) AppendConversation(_ context.Context, owner string, turns ...types.ConversationTurn) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[owner] = append(m.turns[owner], turns...)
	return nil
}

func (m *memStore) RecentConversation(_ context.Context, owner string, n int) ([]types.ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.turns[owner]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return append([]types.ConversationTurn(nil), all...), nil
}

// memObjects is an in-memory object store with per-key failure injection.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  map[string]bool
	reads   int
	onOpen  func()
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, failOn: map[string]bool{}}
}

func (o *memObjects) Open(_ context.Context, ref objectstore.Ref) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.onOpen != nil {
		o.onOpen()
	}
	o.reads++
	if o.failOn[ref.String()] {
		return nil, errors.New("storage unavailable")
	}
	data, ok := o.objects[ref.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, objectstore.ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *memObjects) Put(_ context.Context, ref objectstore.Ref, data io.Reader, _ string) (objectstore.Ref, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return objectstore.Ref{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[ref.String()] = b
	return ref, nil
}

// fakeModel records vision requests and replies with a canned answer.
type fakeModel struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []llm.VisionRequest
}

func (f *fakeModel) GenerateContent(context.Context, string, llm.ModelTier) (string, error) {
	return f.text, f.err
}

func (f *fakeModel) AnalyzeImages(_ context.Context, req llm.VisionRequest) (*llm.VisionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.VisionResponse{
		Text:  f.text,
		Model: "gemini-test",
		Usage: llm.Usage{PromptTokens: 1000, ResponseTokens: 200, TotalTokens: 1200},
	}, nil
}

func (f *fakeModel) Close() error { return nil }

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// recordingPublisher captures published messages.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.Message) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

// fakeExtractor writes n small frame files into outDir.
type fakeExtractor struct {
	n         int
	err       error
	videoSeen []byte
}

func (f *fakeExtractor) Extract(_ context.Context, videoPath, outDir string) ([]media.Frame, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := os.ReadFile(videoPath)
	if err != nil {
		return nil, err
	}
	f.videoSeen = data
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	frames := make([]media.Frame, 0, f.n)
	for i := 0; i < f.n; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("frame_%03d.jpg", i))
		if err := os.WriteFile(p, []byte(fmt.Sprintf("jpeg-%d", i)), 0o644); err != nil {
			return nil, err
		}
		frames = append(frames, media.Frame{
			Path:      p,
			Phase:     fmt.Sprintf("frame_%03d", i),
			Index:     i,
			Timestamp: float64(i) * 0.25,
		})
	}
	return frames, nil
}
