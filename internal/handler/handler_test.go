package handler_test

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/handler"
	"github.com/angeloszaimis/proxypool/internal/lbmethod"
	"github.com/angeloszaimis/proxypool/internal/proxy"
	"github.com/angeloszaimis/proxypool/internal/status"
	"github.com/angeloszaimis/proxypool/internal/worker"
)

type seen struct {
	mu      sync.Mutex
	paths   []string
	remotes []string
	xff     []string
}

func (s *seen) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, r.URL.RequestURI())
	s.remotes = append(s.remotes, r.RemoteAddr)
	s.xff = append(s.xff, r.Header.Get("X-Forwarded-For"))
}

func (s *seen) snapshot() (paths, remotes, xff []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...), append([]string(nil), s.remotes...), append([]string(nil), s.xff...)
}

func backendServer(name string, s *seen, extra func(w http.ResponseWriter)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		if extra != nil {
			extra(w)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(name))
	}))
}

func workerFor(name, rawURL, route string) status.WorkerStatus {
	u, err := url.Parse(rawURL)
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(u.Port())
	Expect(err).NotTo(HaveOccurred())
	return status.WorkerStatus{
		Name:     name,
		Scheme:   "http",
		Hostname: u.Hostname(),
		Port:     port,
		Route:    route,
		LBFactor: 1,
		HMax:     4,
		SMax:     4,
		Retry:    time.Minute,
		Timeout:  5 * time.Second,
	}
}

func closedURL() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	addr := l.Addr().String()
	Expect(l.Close()).To(Succeed())
	return "http://" + addr
}

func get(h http.Handler, target string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "203.0.113.7:4711"
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func body(rec *httptest.ResponseRecorder) string {
	b, err := io.ReadAll(rec.Result().Body)
	Expect(err).NotTo(HaveOccurred())
	return string(b)
}

var _ = Describe("ProxyHandler", func() {
	var (
		store  *status.Store
		ctrl   *proxy.Controller
		logger *slog.Logger
		seenA  *seen
		seenB  *seen
		srvA   *httptest.Server
		srvB   *httptest.Server
	)

	newBalancer := func(cfg balancer.Config, defs ...status.WorkerStatus) *balancer.Balancer {
		m, err := lbmethod.Lookup("byrequests")
		Expect(err).NotTo(HaveOccurred())
		b, err := balancer.New(store, cfg, m, balancer.Options{Logger: logger})
		Expect(err).NotTo(HaveOccurred())
		for _, def := range defs {
			_, err := b.AddWorker(def)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(ctrl.AddBalancer(b)).To(Succeed())
		DeferCleanup(b.Close)
		return b
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(GinkgoWriter, nil))
		seenA, seenB = &seen{}, &seen{}
		srvA = backendServer("a", seenA, nil)
		srvB = backendServer("b", seenB, nil)
		DeferCleanup(srvA.Close)
		DeferCleanup(srvB.Close)

		var err error
		store, err = status.Open(status.Options{Workers: 8, Balancers: 2})
		Expect(err).NotTo(HaveOccurred())
		ctrl = proxy.New(proxy.Options{Logger: logger})
	})

	Describe("ServeHTTP", func() {
		It("proxies through a balancer and rewrites the path", func() {
			newBalancer(balancer.Config{Name: "cluster"}, workerFor("a", srvA.URL, ""))
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/api", Target: "balancer://cluster"}})

			rec := get(h, "/api/users?id=3")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body(rec)).To(Equal("a"))
			Expect(rec.Header().Get("X-Backend-Server")).To(Equal("a"))
			paths, _, xff := seenA.snapshot()
			Expect(paths).To(Equal([]string{"/users?id=3"}))
			Expect(xff).To(Equal([]string{"203.0.113.7"}))
		})

		It("spreads requests across members", func() {
			newBalancer(balancer.Config{Name: "cluster"},
				workerFor("a", srvA.URL, ""), workerFor("b", srvB.URL, ""))
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/", Target: "balancer://cluster"}})

			var bodies []string
			for range 4 {
				rec := get(h, "/x")
				Expect(rec.Code).To(Equal(http.StatusOK))
				bodies = append(bodies, body(rec))
			}
			Expect(bodies).To(Equal([]string{"a", "b", "a", "b"}))
		})

		It("reuses pooled backend connections", func() {
			newBalancer(balancer.Config{Name: "cluster"}, workerFor("a", srvA.URL, ""))
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/", Target: "balancer://cluster"}})

			Expect(get(h, "/one").Code).To(Equal(http.StatusOK))
			Expect(get(h, "/two").Code).To(Equal(http.StatusOK))

			_, remotes, _ := seenA.snapshot()
			Expect(remotes).To(HaveLen(2))
			Expect(remotes[1]).To(Equal(remotes[0]))
		})

		It("opens a fresh connection after the backend asks to close", func() {
			closing := &seen{}
			srv := backendServer("c", closing, func(w http.ResponseWriter) {
				w.Header().Set("Connection", "close")
			})
			DeferCleanup(srv.Close)
			newBalancer(balancer.Config{Name: "cluster"}, workerFor("c", srv.URL, ""))
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/", Target: "balancer://cluster"}})

			Expect(get(h, "/one").Code).To(Equal(http.StatusOK))
			Expect(get(h, "/two").Code).To(Equal(http.StatusOK))

			_, remotes, _ := closing.snapshot()
			Expect(remotes).To(HaveLen(2))
			Expect(remotes[1]).NotTo(Equal(remotes[0]))
		})

		It("follows the sticky route in the session cookie", func() {
			newBalancer(balancer.Config{Name: "cluster", Sticky: "JSESSIONID"},
				workerFor("a", srvA.URL, "ra"), workerFor("b", srvB.URL, "rb"))
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/", Target: "balancer://cluster"}})

			for range 3 {
				rec := get(h, "/x", func(r *http.Request) {
					r.AddCookie(&http.Cookie{Name: "JSESSIONID", Value: "abc123.rb"})
				})
				Expect(body(rec)).To(Equal("b"))
			}
		})

		It("fails over when a member refuses connections", func() {
			newBalancer(balancer.Config{Name: "cluster"},
				workerFor("down", closedURL(), ""), workerFor("b", srvB.URL, ""))
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/", Target: "balancer://cluster"}})

			rec := get(h, "/x")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body(rec)).To(Equal("b"))
			down, ok := ctrl.Balancers()[0].Worker("down")
			Expect(ok).To(BeTrue())
			Expect(down.State().Has(status.InError)).To(BeTrue())
		})

		It("returns 503 when no member can serve", func() {
			newBalancer(balancer.Config{Name: "cluster"},
				workerFor("d1", closedURL(), ""), workerFor("d2", closedURL(), ""))
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/", Target: "balancer://cluster"}})

			Expect(get(h, "/x").Code).To(Equal(http.StatusServiceUnavailable))
			Expect(get(h, "/x").Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("returns 502 when a standalone worker is unreachable", func() {
			def := workerFor("solo", closedURL(), "")
			w, err := worker.New(store, def, 0, worker.Options{Logger: logger})
			Expect(err).NotTo(HaveOccurred())
			Expect(ctrl.AddWorker(w)).To(Succeed())
			target := "http://" + w.Address()
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/solo", Target: target}})

			Expect(get(h, "/solo/x").Code).To(Equal(http.StatusBadGateway))
		})

		It("proxies to a standalone worker", func() {
			def := workerFor("a", srvA.URL, "")
			w, err := worker.New(store, def, 0, worker.Options{Logger: logger})
			Expect(err).NotTo(HaveOccurred())
			Expect(ctrl.AddWorker(w)).To(Succeed())
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/solo", Target: srvA.URL + "/base"}})

			rec := get(h, "/solo/x")

			Expect(rec.Code).To(Equal(http.StatusOK))
			paths, _, _ := seenA.snapshot()
			Expect(paths).To(Equal([]string{"/base/x"}))
		})

		It("appends to an existing X-Forwarded-For chain", func() {
			newBalancer(balancer.Config{Name: "cluster"}, workerFor("a", srvA.URL, ""))
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/", Target: "balancer://cluster"}})

			get(h, "/x", func(r *http.Request) { r.Header.Set("X-Forwarded-For", "198.51.100.1") })

			_, _, xff := seenA.snapshot()
			Expect(xff).To(Equal([]string{"198.51.100.1, 203.0.113.7"}))
		})

		It("returns 404 for unrouted paths", func() {
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{{Prefix: "/api", Target: "balancer://cluster"}})

			Expect(get(h, "/other").Code).To(Equal(http.StatusNotFound))
			Expect(get(h, "/apix").Code).To(Equal(http.StatusNotFound))
		})

		It("prefers the longest matching prefix", func() {
			newBalancer(balancer.Config{Name: "cluster"}, workerFor("a", srvA.URL, ""))
			def := workerFor("b", srvB.URL, "")
			w, err := worker.New(store, def, 0, worker.Options{Logger: logger})
			Expect(err).NotTo(HaveOccurred())
			Expect(ctrl.AddWorker(w)).To(Succeed())
			h := handler.NewProxyHandler(logger, ctrl, []handler.Route{
				{Prefix: "/", Target: "balancer://cluster"},
				{Prefix: "/static", Target: srvB.URL},
			})

			Expect(body(get(h, "/static/app.js"))).To(Equal("b"))
			Expect(body(get(h, "/index.html"))).To(Equal("a"))
		})
	})
})
