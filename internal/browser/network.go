package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/autosupper/autosupper/internal/sensor"
)

// pendingExchange collects the pieces of one request as the browser reports
// them.
type pendingExchange struct {
	url         string
	headers     http.Header
	status      int
	contentType string
}

// Tap watches requests whose URL contains endpoint and passes a copy of each
// finished response to fn. The page's traffic is only observed: requests are
// never paused, replayed or altered.
func (b *Browser) Tap(ctx context.Context, endpoint string, fn func(sensor.Exchange)) (stop func() error, err error) {
	ctx, cancel := context.WithCancel(ctx)
	page := b.activePage(ctx).Context(ctx)
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to enable network events: %w", err)
	}

	var (
		mu      sync.Mutex
		pending = map[proto.NetworkRequestID]*pendingExchange{}
	)
	take := func(id proto.NetworkRequestID) *pendingExchange {
		mu.Lock()
		defer mu.Unlock()
		p := pending[id]
		delete(pending, id)
		return p
	}

	wait := page.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Request == nil || !strings.Contains(e.Request.URL, endpoint) {
				return
			}
			mu.Lock()
			pending[e.RequestID] = &pendingExchange{url: e.Request.URL, headers: toHeader(e.Request.Headers)}
			mu.Unlock()
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			p, ok := pending[e.RequestID]
			if !ok {
				return
			}
			p.status = e.Response.Status
			p.contentType = toHeader(e.Response.Headers).Get("Content-Type")
			if p.contentType == "" {
				p.contentType = e.Response.MIMEType
			}
			if len(e.Response.RequestHeaders) > 0 {
				p.headers = toHeader(e.Response.RequestHeaders)
			}
		},
		func(e *proto.NetworkLoadingFailed) {
			take(e.RequestID)
		},
		func(e *proto.NetworkLoadingFinished) {
			p := take(e.RequestID)
			if p == nil {
				return
			}
			// the body is fetched off the event loop so other events keep flowing
			go func() {
				body, err := responseBody(page, e.RequestID)
				if err != nil {
					b.logger.Debug("could not read tapped response", slog.String("url", p.url), slog.Any("error", err))
					return
				}
				fn(sensor.Exchange{
					URL:            p.url,
					RequestHeaders: p.headers,
					Status:         p.status,
					ContentType:    p.contentType,
					Body:           body,
				})
			}()
		},
	)
	go wait()

	return func() error {
		cancel()
		return nil
	}, nil
}

func responseBody(page proto.Client, id proto.NetworkRequestID) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(page)
	if err != nil {
		return nil, err
	}
	if res.Base64Encoded {
		return base64.StdEncoding.DecodeString(res.Body)
	}
	return []byte(res.Body), nil
}

func toHeader(h proto.NetworkHeaders) http.Header {
	out := http.Header{}
	for k, v := range h {
		out.Set(k, v.Str())
	}
	return out
}
