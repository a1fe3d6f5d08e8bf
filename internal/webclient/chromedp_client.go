package webclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/raysh454/probekit/internal/logging"
)

// ChromedpClient renders pages in a headless browser and returns the
// post-idle DOM. Only GET is supported.
type ChromedpClient struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	idleAfter     time.Duration
	timeout       time.Duration
	logger        logging.Logger
}

// NewChromedpClient launches a browser process. It fails when no Chrome
// binary can be started.
func NewChromedpClient(cfg Config, logger logging.Logger) (*ChromedpClient, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	idleAfter := cfg.IdleAfter
	if idleAfter <= 0 {
		idleAfter = 500 * time.Millisecond
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &ChromedpClient{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		idleAfter:     idleAfter,
		timeout:       cfg.timeout(),
		logger:        logger.With(logging.Field{Key: "backend", Value: "chromedp"}),
	}, nil
}

// WaitNetworkIdle returns a channel that receives once no network request has
// been in flight for idleAfter. The timer is armed immediately so actions
// that trigger no traffic still settle.
func WaitNetworkIdle(ctx context.Context, idleAfter time.Duration) <-chan struct{} {
	idleChan := make(chan struct{}, 1)
	var activeReqs int32
	var timer *time.Timer
	var timerMutex sync.Mutex
	var once sync.Once

	startTimer := func() {
		timerMutex.Lock()
		defer timerMutex.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(idleAfter, func() {
			if atomic.LoadInt32(&activeReqs) <= 0 {
				once.Do(func() {
					idleChan <- struct{}{}
				})
			}
		})
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			atomic.AddInt32(&activeReqs, 1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if atomic.AddInt32(&activeReqs, -1) <= 0 {
				startTimer()
			}
		case *page.EventLoadEventFired:
			if atomic.LoadInt32(&activeReqs) <= 0 {
				startTimer()
			}
		}
	})
	startTimer()

	return idleChan
}

// Do renders req.URL and returns the serialized DOM once the network is idle.
func (cdc *ChromedpClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if m := strings.ToUpper(req.Method); m != "" && m != http.MethodGet {
		return nil, fmt.Errorf("method %s not supported by chromedp backend", m)
	}

	tabCtx, cancelTab := chromedp.NewContext(cdc.browserCtx)
	defer cancelTab()
	runCtx, cancel := context.WithTimeout(tabCtx, cdc.timeout)
	defer cancel()
	// stop the tab when the caller gives up
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, network.Enable()); err != nil {
		return nil, fmt.Errorf("enable network: %w", err)
	}
	idle := WaitNetworkIdle(runCtx, cdc.idleAfter)

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(req.URL))
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", req.URL, err)
	}

	select {
	case <-idle:
	case <-runCtx.Done():
		return nil, fmt.Errorf("wait for idle %s: %w", req.URL, runCtx.Err())
	}

	var html, location string
	if err := chromedp.Run(runCtx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&location),
	); err != nil {
		return nil, fmt.Errorf("read dom %s: %w", req.URL, err)
	}

	out := &Response{
		Request:   req,
		Headers:   http.Header{},
		Body:      []byte(html),
		FinalURL:  location,
		FetchedAt: time.Now(),
	}
	if resp != nil {
		out.StatusCode = int(resp.Status)
		for k, v := range resp.Headers {
			out.Headers.Set(k, fmt.Sprint(v))
		}
	}
	return out, nil
}

func (cdc *ChromedpClient) Get(ctx context.Context, url string) (*Response, error) {
	return cdc.Do(ctx, &Request{Method: http.MethodGet, URL: url})
}

// Close terminates the browser process.
func (cdc *ChromedpClient) Close() error {
	cdc.browserCancel()
	cdc.allocCancel()
	cdc.logger.Debug("closed chromedp webclient")
	return nil
}
