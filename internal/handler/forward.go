package handler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/proxypool/internal/connpool"
	"github.com/angeloszaimis/proxypool/internal/proxy"
)

// Hop-by-hop headers are not forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// forwarder sends r over the pooled connection and streams the backend's
// response to w.
func forwarder(w *statusRecorder, r *http.Request, path string) proxy.ForwardFunc {
	return func(ctx context.Context, conn *connpool.Conn, t proxy.Target) (proxy.Exchange, error) {
		nc := conn.NetConn()
		ws, err := t.Worker.Status()
		if err != nil {
			return proxy.Exchange{}, err
		}

		if ws.Timeout > 0 {
			if err := nc.SetDeadline(time.Now().Add(ws.Timeout)); err != nil {
				return proxy.Exchange{}, err
			}
			defer func() { _ = nc.SetDeadline(time.Time{}) }()
		}
		stop := context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
		defer stop()

		out, err := outbound(r, t, path)
		if err != nil {
			return proxy.Exchange{}, err
		}

		cw := &countingWriter{w: nc}
		if err := out.Write(cw); err != nil {
			return proxy.Exchange{Sent: cw.n}, fmt.Errorf("write request: %w", err)
		}

		cr := &countingReader{r: nc}
		resp, err := http.ReadResponse(bufio.NewReader(cr), out)
		if err != nil {
			return proxy.Exchange{Sent: cw.n, Received: cr.n}, fmt.Errorf("read response: %w", err)
		}
		defer resp.Body.Close()

		header := w.Header()
		for k, vv := range resp.Header {
			header[k] = vv
		}
		removeHopHeaders(header)
		header.Set("X-Backend-Server", t.Worker.Name())
		w.WriteHeader(resp.StatusCode)

		ex := proxy.Exchange{StatusCode: resp.StatusCode, CloseRequested: resp.Close}
		_, err = io.Copy(w, resp.Body)
		ex.Sent, ex.Received = cw.n, cr.n
		if err != nil {
			return ex, fmt.Errorf("copy response body: %w", err)
		}
		return ex, nil
	}
}

// outbound builds the request sent to the backend.
func outbound(r *http.Request, t proxy.Target, path string) (*http.Request, error) {
	u, err := url.ParseRequestURI(path)
	if err != nil {
		return nil, err
	}

	out := r.Clone(r.Context())
	out.URL = u
	out.Host = t.Worker.Address()
	out.RequestURI = ""
	out.Close = false
	removeHopHeaders(out.Header)

	if peer, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			peer = prior + ", " + peer
		}
		out.Header.Set("X-Forwarded-For", peer)
	}
	return out, nil
}

func removeHopHeaders(h http.Header) {
	for _, k := range h.Values("Connection") {
		h.Del(k)
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
