package webclient

import (
	"net/http"
	"time"
)

type Client string

const (
	ClientNetHTTP  Client = "nethttp"
	ClientChromedp Client = "chromedp"
)

// Config is the minimal set of options required for constructing a WebClient.
type Config struct {
	Client Client

	// Timeout bounds a whole request. Zero means 10s.
	Timeout time.Duration

	// Jar, when set, is attached to the nethttp client so cookies persist
	// across requests. Sessions own their jar; anonymous probes pass nil.
	Jar http.CookieJar

	// FollowRedirects makes the nethttp client follow 3xx responses. Probes
	// leave it off so redirects are observable.
	FollowRedirects bool

	// Transport replaces http.DefaultTransport for the nethttp client.
	// Sessions pass their own so closing one drops only its connections.
	Transport http.RoundTripper

	// Headless and IdleAfter only apply to the chromedp backend.
	Headless  bool
	IdleAfter time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}
