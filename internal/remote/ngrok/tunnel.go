// Package ngrok exposes the status UI through an ngrok HTTP endpoint.
package ngrok

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	ngrok "golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"
)

type Options struct {
	// LocalAddr is the status server, e.g. http://127.0.0.1:8087.
	LocalAddr     string
	Authtoken     string
	Region        string
	Domain        string
	BasicAuthUser string
	BasicAuthPass string
}

type Tunnel struct {
	forwarder ngrok.Forwarder
}

func (o Options) endpoint() (*url.URL, config.Tunnel, []ngrok.ConnectOption, error) {
	if o.LocalAddr == "" {
		return nil, nil, nil, errors.New("ngrok local address is required")
	}
	backend, err := url.Parse(o.LocalAddr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parsing local address: %w", err)
	}
	if (o.BasicAuthUser == "") != (o.BasicAuthPass == "") {
		return nil, nil, nil, errors.New("ngrok basic auth needs both user and password")
	}

	var httpOpts []config.HTTPEndpointOption
	if o.Domain != "" {
		httpOpts = append(httpOpts, config.WithDomain(o.Domain))
	}
	if o.BasicAuthUser != "" {
		httpOpts = append(httpOpts, config.WithBasicAuth(o.BasicAuthUser, o.BasicAuthPass))
	}

	// without a token ngrok falls back to NGROK_AUTHTOKEN
	connectOpts := []ngrok.ConnectOption{ngrok.WithAuthtokenFromEnv()}
	if o.Authtoken != "" {
		connectOpts = []ngrok.ConnectOption{ngrok.WithAuthtoken(o.Authtoken)}
	}
	if o.Region != "" {
		connectOpts = append(connectOpts, ngrok.WithRegion(o.Region))
	}
	return backend, config.HTTPEndpoint(httpOpts...), connectOpts, nil
}

// Start forwards a public endpoint to opts.LocalAddr until Close.
func Start(ctx context.Context, logger *slog.Logger, opts Options) (*Tunnel, error) {
	backend, endpoint, connectOpts, err := opts.endpoint()
	if err != nil {
		return nil, err
	}

	fwd, err := ngrok.ListenAndForward(ctx, backend, endpoint, connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening ngrok tunnel: %w", err)
	}

	logger.Info("ngrok tunnel open", slog.String("url", fwd.URL()), slog.String("backend", backend.String()))
	return &Tunnel{forwarder: fwd}, nil
}

func (t *Tunnel) URL() string {
	if t == nil || t.forwarder == nil {
		return ""
	}
	return t.forwarder.URL()
}

func (t *Tunnel) Close() error {
	if t == nil || t.forwarder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.forwarder.CloseWithContext(ctx)
}
