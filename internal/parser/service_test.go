package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/payparse/internal/cache"
	"github.com/JakeFAU/payparse/internal/extract"
	"github.com/JakeFAU/payparse/internal/normalize"
	"github.com/JakeFAU/payparse/internal/payment"
	pubmemory "github.com/JakeFAU/payparse/internal/publisher/memory"
	"github.com/JakeFAU/payparse/internal/render"
	"github.com/JakeFAU/payparse/internal/storage/memory"
	"github.com/JakeFAU/payparse/internal/validator"
)

const (
	checkoutURL = "https://checkout.stripe.com/c/pay/cs_live_abc"
	poundsPage  = `<html><body><div class="CurrencyAmount">20,00&nbsp;£</div></body></html>`
	nothingPage = `<html><body><h1>Something went wrong</h1></body></html>`
	badCodePage = `<html><body><div class="CurrencyAmount">XYZ 15.00</div></body></html>`
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%d", s.n.Add(1)), nil
}

type fakeRenderer struct {
	mu    sync.Mutex
	html  string
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeRenderer) Render(ctx context.Context, rawURL string) (render.Snapshot, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return render.Snapshot{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return render.Snapshot{}, f.err
	}
	return render.Snapshot{URL: rawURL, FinalURL: rawURL, HTML: f.html}, nil
}

type fixture struct {
	svc       *Service
	renderer  *fakeRenderer
	cache     *cache.Memory
	snapshots *memory.BlobStore
	history   *memory.ResultStore
	publisher *pubmemory.Publisher
}

func newFixture(t *testing.T, cfg Config, html string) *fixture {
	t.Helper()

	norm, err := normalize.New(normalize.Config{})
	require.NoError(t, err)
	ext, err := extract.New(extract.Config{}, norm.Symbols(), nil)
	require.NoError(t, err)

	clk := fixedClock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	f := &fixture{
		renderer:  &fakeRenderer{html: html},
		cache:     cache.New(cache.Config{}, clk, nil),
		snapshots: memory.NewBlobStore(),
		history:   memory.NewResultStore(),
		publisher: pubmemory.New(),
	}
	if cfg.Topic == "" {
		cfg.Topic = "parse-results"
	}
	f.svc, err = New(cfg, Deps{
		Validator:  validator.New(validator.Config{}),
		Cache:      f.cache,
		Renderer:   f.renderer,
		Extractor:  ext,
		Normalizer: norm,
		Clock:      clk,
		IDs:        &seqIDs{},
		Snapshots:  f.snapshots,
		History:    f.history,
		Publisher:  f.publisher,
	}, nil)
	require.NoError(t, err)
	return f
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.svc.Close(ctx))
}

func TestParseSuccessIsCached(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, poundsPage)
	out, err := f.svc.Parse(context.Background(), checkoutURL)
	require.NoError(t, err)
	require.True(t, out.Result.Success)
	require.Equal(t, "GBP", out.Result.Currency)
	require.Equal(t, "20", out.Result.Amount.String())
	require.Equal(t, extract.TierSelector, out.Tier)
	require.False(t, out.Cached)

	again, err := f.svc.Parse(context.Background(), checkoutURL)
	require.NoError(t, err)
	require.True(t, again.Cached)
	require.Equal(t, out.Result, again.Result)
	require.EqualValues(t, 1, f.renderer.calls.Load())

	f.drain(t)
	records := f.history.Records()
	require.Len(t, records, 1)
	require.Equal(t, ".CurrencyAmount", records[0].Selector)
	require.Equal(t, extract.PatternAmountSymbol, records[0].Strategy)
	require.Empty(t, records[0].SnapshotURI)
	require.Empty(t, f.snapshots.Paths(), "successful parses are not snapshotted")

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	n := msgs[0].Payload.(Notification)
	require.Equal(t, "20.00", n.Amount)
	require.Equal(t, "GBP", n.Currency)
}

func TestParseMissReturnsUnsuccessfulResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CacheFailures: true}, nothingPage)
	out, err := f.svc.Parse(context.Background(), checkoutURL)
	require.NoError(t, err)
	require.False(t, out.Result.Success)
	require.Nil(t, out.Result.Amount)
	require.Empty(t, out.Result.Currency)
	require.Equal(t, payment.ReasonAmountNotFound, out.Result.Error)
	require.Equal(t, extract.TierNone, out.Tier)

	_, ok := f.cache.Get(checkoutURL)
	require.True(t, ok, "misses are cached when CacheFailures is set")

	f.drain(t)
	paths := f.snapshots.Paths()
	require.Len(t, paths, 1)
	body, _ := f.snapshots.Object(paths[0])
	require.Equal(t, nothingPage, string(body))
	require.Equal(t, "memory://"+paths[0], f.history.Records()[0].SnapshotURI)
}

func TestParseFailuresNotCachedByDefault(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, badCodePage)
	out, err := f.svc.Parse(context.Background(), checkoutURL)
	require.NoError(t, err)
	require.Equal(t, payment.ReasonInvalidCurrency, out.Result.Error)

	_, ok := f.cache.Get(checkoutURL)
	require.False(t, ok)
	f.drain(t)
}

func TestParseRejectsBeforeRendering(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, poundsPage)
	for _, u := range []string{
		"http://169.254.169.254/latest/meta-data",
		"ftp://checkout.stripe.com/x",
		"https://localhost/pay",
		"https://checkout.stripe.com/<script>",
	} {
		_, err := f.svc.Parse(context.Background(), u)
		require.True(t, payment.IsValidation(err), u)
	}
	require.Zero(t, f.renderer.calls.Load())
}

func TestParseRenderErrorNotCached(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CacheFailures: true}, poundsPage)
	f.renderer.err = &payment.RenderError{URL: checkoutURL, Stage: render.StageNavigate, Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}

	_, err := f.svc.Parse(context.Background(), checkoutURL)
	require.True(t, payment.IsRender(err))
	_, ok := f.cache.Get(checkoutURL)
	require.False(t, ok)

	f.renderer.mu.Lock()
	f.renderer.err = errors.New("plain failure")
	f.renderer.mu.Unlock()
	_, err = f.svc.Parse(context.Background(), checkoutURL)
	require.True(t, payment.IsRender(err), "untyped renderer errors are wrapped")
	f.drain(t)
}

func TestConcurrentParsesShareOneRender(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, poundsPage)
	f.renderer.gate = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]Outcome, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Parse(context.Background(), checkoutURL)
		}(i)
	}

	require.Eventually(t, func() bool { return f.renderer.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.renderer.gate)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.True(t, results[i].Result.Success)
		require.Equal(t, "GBP", results[i].Result.Currency)
	}
	require.EqualValues(t, 1, f.renderer.calls.Load())
	f.drain(t)
}

func TestCallerCancelDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, poundsPage)
	f.renderer.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.svc.Parse(ctx, checkoutURL)
		first <- err
	}()
	require.Eventually(t, func() bool { return f.renderer.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan Outcome, 1)
	go func() {
		out, _ := f.svc.Parse(context.Background(), checkoutURL)
		second <- out
	}()

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(f.renderer.gate)
	out := <-second
	require.True(t, out.Result.Success)
	f.drain(t)
}

func TestSideOutputFailuresAreBestEffort(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, poundsPage)
	f.publisher.FailWith(errors.New("topic not found"))

	out, err := f.svc.Parse(context.Background(), checkoutURL)
	require.NoError(t, err)
	require.True(t, out.Result.Success)
	f.drain(t)
	require.Len(t, f.history.Records(), 1)
}

func TestNoSideOutputsAfterClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, nothingPage)
	f.drain(t)

	out, err := f.svc.Parse(context.Background(), checkoutURL)
	require.NoError(t, err)
	require.False(t, out.Result.Success)

	f.drain(t)
	require.Empty(t, f.history.Records())
	require.Empty(t, f.snapshots.Paths())
	require.Empty(t, f.publisher.Messages())
}

func TestCloseWaitsForRenderStartedBefore(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, poundsPage)
	f.renderer.gate = make(chan struct{})

	done := make(chan Outcome, 1)
	go func() {
		out, _ := f.svc.Parse(context.Background(), checkoutURL)
		done <- out
	}()
	require.Eventually(t, func() bool { return f.renderer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	f.drain(t)
	close(f.renderer.gate)
	out := <-done
	require.True(t, out.Result.Success)

	f.drain(t)
	require.Empty(t, f.history.Records())
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{}, nil)
	require.Error(t, err)
}
