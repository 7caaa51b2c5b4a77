package parley

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	reply string
	err   error

	// beforeReturn, if set, is called with the prompt while the
	// completion is "in flight" (with the typing loop running)
	beforeReturn func(prompt string)

	mu      sync.Mutex
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.beforeReturn != nil {
		f.beforeReturn(prompt)
	}
	return f.reply, f.err
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeCompleter) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeNotifier struct {
	mu     sync.Mutex
	counts map[int64]int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{counts: map[int64]int{}}
}

func (f *fakeNotifier) SendTyping(chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[chatID]++
}

func (f *fakeNotifier) count(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[chatID]
}

func newTestPipeline(
	t testing.TB,
	limit int,
	completer Completer,
	notifier Notifier,
) (*Pipeline, *QuotaLedger, *SessionModeTracker) {
	t.Helper()
	quota := NewQuotaLedger(limit, nil, nil, nil)
	sessions := NewSessionModeTracker()
	p := NewPipeline(
		quota,
		sessions,
		completer,
		notifier,
		&TranslateConfig{
			Source: DefaultTranslateSource,
			Target: DefaultTranslateTarget,
		},
		10*time.Millisecond,
		nil,
	)
	return p, quota, sessions
}

func TestResolveCacheHit(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{reply: "should not be used"}
	notifier := newFakeNotifier()
	p, quota, _ := newTestPipeline(t, 5, completer, notifier)

	reply := p.Resolve(
		context.Background(), t.Name(), 1, "  Hello  ", time.Now(),
	)

	assert.Equal(t, "Hello! How can I assist you today?", reply)
	assert.Zero(t, completer.calls(), "cache hit should skip the completion call")
	assert.Zero(t, notifier.count(1), "cache hit should not send typing signals")
	assert.Equal(t, 1, quota.Count(t.Name()), "cache hit still consumes quota")
}

func TestResolveForwardsPromptVerbatim(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{reply: "a fine answer"}
	p, quota, _ := newTestPipeline(t, 5, completer, newFakeNotifier())

	reply := p.Resolve(
		context.Background(), t.Name(), 1, "what is the capital of France?", time.Now(),
	)

	assert.Equal(t, "a fine answer", reply)
	assert.Equal(t, "what is the capital of France?", completer.lastPrompt())
	assert.Equal(t, 1, quota.Count(t.Name()))
}

func TestResolveSanitizesModelReply(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{reply: "**Hi** <b>there</b>"}
	p, _, _ := newTestPipeline(t, 5, completer, newFakeNotifier())

	reply := p.Resolve(context.Background(), t.Name(), 1, "hey now", time.Now())
	assert.Equal(t, "Hi there", reply)
}

func TestResolveQuotaRejected(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{reply: "ok"}
	notifier := newFakeNotifier()
	p, quota, sessions := newTestPipeline(t, 1, completer, notifier)

	now := time.Now()
	_ = p.Resolve(context.Background(), t.Name(), 1, "first", now)
	require.Equal(t, 1, quota.Count(t.Name()))

	sessions.EnterTranslationMode(t.Name())
	reply := p.Resolve(context.Background(), t.Name(), 1, "second", now)

	assert.Equal(t, fmt.Sprintf(limitReachedMessage, 1), reply)
	assert.Equal(t, 1, completer.calls(), "rejected message must not reach the model")
	assert.Equal(t, 1, quota.Count(t.Name()), "rejection must not commit")
	assert.True(
		t,
		sessions.IsTranslationTurn(t.Name()),
		"rejection must not consume the translation turn",
	)
}

func TestResolveTranslationTurn(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{reply: "bonjour -> ជរាបសួរ"}
	p, _, sessions := newTestPipeline(t, 5, completer, newFakeNotifier())

	sessions.EnterTranslationMode(t.Name())
	_ = p.Resolve(context.Background(), t.Name(), 1, "bonjour", time.Now())

	assert.Equal(
		t,
		"Translate this text to Khmer and English: bonjour",
		completer.lastPrompt(),
	)
	assert.False(
		t,
		sessions.IsTranslationTurn(t.Name()),
		"translation turn is one-shot",
	)

	// the next message is ordinary chat again
	_ = p.Resolve(context.Background(), t.Name(), 1, "how are you?", time.Now())
	assert.Equal(t, "how are you?", completer.lastPrompt())
}

func TestResolveTranslationTurnSkipsCache(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{reply: "translated"}
	p, _, sessions := newTestPipeline(t, 5, completer, newFakeNotifier())

	sessions.EnterTranslationMode(t.Name())
	reply := p.Resolve(context.Background(), t.Name(), 1, "hi", time.Now())

	assert.Equal(t, "translated", reply)
	assert.Equal(
		t,
		"Translate this text to Khmer and English: hi",
		completer.lastPrompt(),
	)
}

func TestResolveCompleterFailure(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{err: errors.New("provider unavailable")}
	p, quota, sessions := newTestPipeline(t, 5, completer, newFakeNotifier())

	sessions.EnterTranslationMode(t.Name())
	reply := p.Resolve(context.Background(), t.Name(), 1, "translate me", time.Now())

	assert.Equal(t, apologyMessage, reply)
	assert.Equal(
		t, 1, quota.Count(t.Name()),
		"a failed attempt still counts against the daily limit",
	)
	assert.False(
		t,
		sessions.IsTranslationTurn(t.Name()),
		"a failed translation still consumes the turn",
	)
}

func TestTypingStopsWhenCallSettles(t *testing.T) {
	t.Parallel()
	notifier := newFakeNotifier()
	chatID := int64(42)

	completer := &fakeCompleter{
		reply: "done",
		beforeReturn: func(string) {
			// hold the "completion" open until at least two typing
			// signals were seen
			deadline := time.Now().Add(5 * time.Second)
			for notifier.count(chatID) < 2 {
				if time.Now().After(deadline) {
					t.Error("timed out waiting for typing signals")
					return
				}
				time.Sleep(time.Millisecond)
			}
		},
	}
	p, _, _ := newTestPipeline(t, 5, completer, notifier)

	_ = p.Resolve(context.Background(), t.Name(), chatID, "slow question", time.Now())

	settled := notifier.count(chatID)
	require.GreaterOrEqual(t, settled, 2)

	// no signal may be emitted after the call settles
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, notifier.count(chatID))
}

func TestConcurrentSameUserBurst(t *testing.T) {
	t.Parallel()
	limit := 3
	completer := &fakeCompleter{
		reply: "ok",
		beforeReturn: func(string) {
			time.Sleep(5 * time.Millisecond)
		},
	}
	p, quota, _ := newTestPipeline(t, limit, completer, newFakeNotifier())

	var rejected int
	var mu sync.Mutex
	wg := &sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			reply := p.Resolve(
				context.Background(),
				t.Name(),
				1,
				fmt.Sprintf("message %d", n),
				time.Now(),
			)
			if reply == fmt.Sprintf(limitReachedMessage, limit) {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, limit, quota.Count(t.Name()))
	assert.Equal(t, limit, completer.calls())
	assert.Equal(t, 10-limit, rejected)
}

func TestDistinctUsersProceedInParallel(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	completer := &fakeCompleter{
		reply: "ok",
		beforeReturn: func(prompt string) {
			if prompt == "slow" {
				<-release
			}
		},
	}
	p, _, _ := newTestPipeline(t, 5, completer, newFakeNotifier())

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_ = p.Resolve(context.Background(), "user-slow", 1, "slow", time.Now())
	}()

	// wait for the slow call to be in flight
	deadline := time.Now().Add(5 * time.Second)
	for completer.calls() == 0 {
		require.True(t, time.Now().Before(deadline))
		time.Sleep(time.Millisecond)
	}

	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		_ = p.Resolve(context.Background(), "user-fast", 2, "fast", time.Now())
	}()

	select {
	case <-fastDone:
	case <-time.After(5 * time.Second):
		t.Fatal("another user's message was blocked by an in-flight call")
	}

	close(release)
	<-slowDone
}
