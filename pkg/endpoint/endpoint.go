// Package endpoint resolves receiver URLs into request options.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// SchemeHTTP is the plain HTTP scheme.
	SchemeHTTP = "http"

	// SchemeHTTPS is the TLS HTTP scheme.
	SchemeHTTPS = "https"

	defaultHTTPPort  = 80
	defaultHTTPSPort = 443
	fallbackHost     = "localhost"
)

// ErrMalformedURL is returned when a receiver URL cannot be parsed.
var ErrMalformedURL = errors.New("malformed url")

// Options describes where and how a single request is sent.
// Zero values are treated as unset by Resolve.
type Options struct {
	Scheme string
	Host   string
	Port   int
	Path   string
	Method string

	// Pooling enables connection reuse between requests. Requests are
	// sent on a fresh connection when false.
	Pooling bool

	Headers http.Header
}

// Resolve fills the unset fields of partial from rawURL. Fields already
// set on partial are preserved. The returned Options is a new value;
// partial is never modified.
func Resolve(rawURL string, partial *Options) (*Options, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedURL, rawURL, err)
	}

	secure := u.Scheme == SchemeHTTPS
	web := secure || u.Scheme == SchemeHTTP

	if web && u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrMalformedURL, rawURL)
	}

	opts := &Options{}
	if partial != nil {
		*opts = *partial
		opts.Headers = partial.Headers.Clone()
	}

	if opts.Scheme == "" {
		opts.Scheme = SchemeHTTP
		if secure {
			opts.Scheme = SchemeHTTPS
		}
	}

	if opts.Host == "" {
		if web {
			opts.Host = u.Hostname()
		} else {
			opts.Host = fallbackHost
		}
	}

	if opts.Port == 0 {
		opts.Port, err = resolvePort(u, secure)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedURL, rawURL, err)
		}
	}

	if opts.Path == "" {
		opts.Path = u.EscapedPath()
		if opts.Path == "" {
			opts.Path = "/"
		}

		if u.RawQuery != "" {
			opts.Path += "?" + u.RawQuery
		}
	}

	if opts.Method == "" {
		opts.Method = http.MethodGet
	}

	return opts, nil
}

// URL returns the absolute request URL described by the options. The
// port is omitted when it is the scheme default.
func (o *Options) URL() string {
	path := o.Path
	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	host := o.Host
	if !o.isDefaultPort() {
		host = net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	return o.Scheme + "://" + host + path
}

func (o *Options) isDefaultPort() bool {
	return (o.Scheme == SchemeHTTP && o.Port == defaultHTTPPort) ||
		(o.Scheme == SchemeHTTPS && o.Port == defaultHTTPSPort)
}

// resolvePort returns the explicit port of u or the scheme default.
func resolvePort(u *url.URL, secure bool) (int, error) {
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid port %q: %w", p, err)
		}

		return port, nil
	}

	if secure {
		return defaultHTTPSPort, nil
	}

	return defaultHTTPPort, nil
}
