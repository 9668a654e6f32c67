package admin_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/internal/admin"
	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/lbmethod"
	"github.com/angeloszaimis/proxypool/internal/proxy"
	"github.com/angeloszaimis/proxypool/internal/status"
)

func member(name string, port int) status.WorkerStatus {
	return status.WorkerStatus{
		Name:     name,
		Scheme:   "http",
		Hostname: "10.0.0.1",
		Port:     port,
		LBFactor: 1,
		HMax:     4,
		Retry:    time.Minute,
	}
}

type view struct {
	Balancers []struct {
		Name        string `json:"name"`
		Method      string `json:"method"`
		Nonce       string `json:"nonce"`
		StickyForce bool   `json:"sticky_force"`
		Inactive    bool   `json:"inactive"`
		MaxAttempts *int   `json:"max_attempts"`
		Members     []struct {
			Name     string `json:"name"`
			URL      string `json:"url"`
			Route    string `json:"route"`
			Status   string `json:"status"`
			Usable   bool   `json:"usable"`
			LBFactor int    `json:"lbfactor"`
			LBSet    int    `json:"lbset"`
		} `json:"members"`
	} `json:"balancers"`
}

var _ = Describe("Manager", func() {
	var (
		store *status.Store
		ctrl  *proxy.Controller
		b     *balancer.Balancer
		mux   *http.ServeMux
	)

	post := func(path string, form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, admin.Prefix+path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(GinkgoWriter, nil))

		var err error
		store, err = status.Open(status.Options{Workers: 4, Balancers: 1})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)

		ctrl = proxy.New(proxy.Options{Logger: logger})
		m, err := lbmethod.Lookup("byrequests")
		Expect(err).NotTo(HaveOccurred())
		b, err = balancer.New(store, balancer.Config{Name: "cluster1", Growth: 1}, m, balancer.Options{Logger: logger})
		Expect(err).NotTo(HaveOccurred())
		for i, name := range []string{"w1", "w2"} {
			_, err := b.AddWorker(member(name, 8001+i))
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(b.Freeze()).To(Succeed())
		Expect(ctrl.AddBalancer(b)).To(Succeed())

		mux = http.NewServeMux()
		admin.NewManager(logger, ctrl, lbmethod.Lookup, status.WorkerStatus{
			LBFactor: 1,
			HMax:     4,
			Retry:    time.Minute,
		}).Register(mux)
	})

	Describe("GET /balancer-manager", func() {
		It("should list balancers with their nonce and members", func() {
			req := httptest.NewRequest(http.MethodGet, admin.Prefix, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var v view
			Expect(json.Unmarshal(rec.Body.Bytes(), &v)).To(Succeed())
			Expect(v.Balancers).To(HaveLen(1))
			Expect(v.Balancers[0].Name).To(Equal("cluster1"))
			Expect(v.Balancers[0].Method).To(Equal("byrequests"))
			Expect(v.Balancers[0].Nonce).To(Equal(b.Nonce()))
			Expect(v.Balancers[0].Members).To(HaveLen(2))
			Expect(v.Balancers[0].Members[0].URL).To(Equal("http://10.0.0.1:8001"))
			Expect(v.Balancers[0].Members[0].Status).To(Equal("O"))
			Expect(v.Balancers[0].Members[0].Usable).To(BeTrue())
		})
	})

	Describe("POST /balancer-manager/worker", func() {
		It("should reject a bad nonce", func() {
			rec := post("/worker", url.Values{"b": {"cluster1"}, "w": {"w1"}, "nonce": {"nope"}, "status": {"+D"}})

			Expect(rec.Code).To(Equal(http.StatusForbidden))
			w1, _ := b.Worker("w1")
			Expect(w1.State().Has(status.Disabled)).To(BeFalse())
		})

		It("should reject a missing nonce", func() {
			rec := post("/worker", url.Values{"b": {"cluster1"}, "w": {"w1"}, "status": {"+D"}})
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("should report unknown balancers and workers", func() {
			rec := post("/worker", url.Values{"b": {"other"}, "w": {"w1"}, "nonce": {b.Nonce()}})
			Expect(rec.Code).To(Equal(http.StatusNotFound))

			rec = post("/worker", url.Values{"b": {"cluster1"}, "w": {"w9"}, "nonce": {b.Nonce()}})
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		DescribeTable("should reject invalid values",
			func(key, value string) {
				form := url.Values{"b": {"cluster1"}, "w": {"w1"}, "nonce": {b.Nonce()}}
				form.Set(key, value)
				Expect(post("/worker", form).Code).To(Equal(http.StatusBadRequest))
			},
			Entry("non-numeric lbfactor", "lbfactor", "abc"),
			Entry("lbfactor out of range", "lbfactor", "500"),
			Entry("negative lbset", "lbset", "-1"),
			Entry("malformed status", "status", "+"),
			Entry("unknown status letter", "status", "+Q"),
		)

		It("should disable and re-enable a worker", func() {
			rec := post("/worker", url.Values{"b": {"cluster1"}, "w": {"w1"}, "nonce": {b.Nonce()}, "status": {"+D"}})
			Expect(rec.Code).To(Equal(http.StatusOK))

			w1, _ := b.Worker("w1")
			Expect(w1.State().Has(status.Disabled)).To(BeTrue())
			Expect(w1.Usable()).To(BeFalse())

			var v struct {
				Members []struct {
					Name   string `json:"name"`
					Status string `json:"status"`
				} `json:"members"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &v)).To(Succeed())
			Expect(v.Members[0].Status).To(ContainSubstring("D"))

			rec = post("/worker", url.Values{"b": {"cluster1"}, "w": {"w1"}, "nonce": {b.Nonce()}, "status": {"-D"}})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(w1.Usable()).To(BeTrue())
		})

		It("should change weights, sets and routes", func() {
			rec := post("/worker", url.Values{
				"b": {"cluster1"}, "w": {"w2"}, "nonce": {b.Nonce()},
				"lbfactor": {"3"}, "lbset": {"1"}, "route": {"r2"}, "redirect": {"r1"},
			})
			Expect(rec.Code).To(Equal(http.StatusOK))

			w2, _ := b.Worker("w2")
			ws, err := w2.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.LBFactor).To(Equal(3))
			Expect(ws.LBSet).To(Equal(1))
			Expect(ws.Route).To(Equal("r2"))
			Expect(ws.Redirect).To(Equal("r1"))
		})

		It("should move a worker to its new identity when the route changes", func() {
			w1, _ := b.Worker("w1")
			rec := post("/worker", url.Values{"b": {"cluster1"}, "w": {"w1"}, "nonce": {b.Nonce()}, "route": {"r9"}})
			Expect(rec.Code).To(Equal(http.StatusOK))

			idx, err := store.LookupWorker("http", "10.0.0.1", 8001, "r9")
			Expect(err).NotTo(HaveOccurred())
			Expect(idx).To(Equal(w1.Slot()))

			moved := member("w1", 8001)
			moved.Route = "r9"
			again, existing, err := store.AllocateWorker(moved, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(existing).To(BeTrue())
			Expect(again).To(Equal(w1.Slot()))
		})

		It("should refuse a route that collides with another worker", func() {
			taken := member("other", 8001)
			taken.Route = "r9"
			_, _, err := store.AllocateWorker(taken, 0)
			Expect(err).NotTo(HaveOccurred())

			rec := post("/worker", url.Values{"b": {"cluster1"}, "w": {"w1"}, "nonce": {b.Nonce()}, "route": {"r9"}, "lbfactor": {"4"}})
			Expect(rec.Code).To(Equal(http.StatusConflict))

			w1, _ := b.Worker("w1")
			ws, err := w1.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.Route).To(BeEmpty())
			Expect(ws.LBFactor).To(Equal(1))
		})

		It("should leave fields that are not posted alone", func() {
			w2, _ := b.Worker("w2")
			Expect(w2.Update(func(ws *status.WorkerStatus) { ws.Route = "keep" })).To(Succeed())

			rec := post("/worker", url.Values{"b": {"cluster1"}, "w": {"w2"}, "nonce": {b.Nonce()}, "lbfactor": {"2"}})
			Expect(rec.Code).To(Equal(http.StatusOK))

			ws, err := w2.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.Route).To(Equal("keep"))
			Expect(ws.LBFactor).To(Equal(2))
		})
	})

	Describe("POST /balancer-manager/balancer", func() {
		It("should update balancer settings", func() {
			rec := post("/balancer", url.Values{
				"b": {"cluster1"}, "nonce": {b.Nonce()},
				"sticky_force": {"on"}, "inactive": {"1"}, "max_attempts": {"3"},
			})
			Expect(rec.Code).To(Equal(http.StatusOK))

			bs, err := b.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(bs.StickyForce).To(BeTrue())
			Expect(bs.Inactive).To(BeTrue())
			Expect(bs.MaxAttemptsSet).To(BeTrue())
			Expect(b.MaxAttempts()).To(Equal(3))
		})

		It("should switch the method and schedule a reset", func() {
			rec := post("/balancer", url.Values{"b": {"cluster1"}, "nonce": {b.Nonce()}, "method": {"bytraffic"}})
			Expect(rec.Code).To(Equal(http.StatusOK))

			Expect(b.Method().Name()).To(Equal("bytraffic"))
			bs, err := b.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(bs.Method).To(Equal("bytraffic"))
			Expect(bs.NeedReset).To(BeTrue())
		})

		It("should reject unknown methods", func() {
			rec := post("/balancer", url.Values{"b": {"cluster1"}, "nonce": {b.Nonce()}, "method": {"byluck"}})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(b.Method().Name()).To(Equal("byrequests"))
		})

		It("should reject malformed flags", func() {
			rec := post("/balancer", url.Values{"b": {"cluster1"}, "nonce": {b.Nonce()}, "inactive": {"maybe"}})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /balancer-manager/member", func() {
		It("should add a member up to the growth limit", func() {
			rec := post("/member", url.Values{
				"b": {"cluster1"}, "nonce": {b.Nonce()},
				"name": {"w3"}, "url": {"http://10.0.0.2:9000"}, "route": {"r3"}, "lbfactor": {"2"},
			})
			Expect(rec.Code).To(Equal(http.StatusCreated))

			w3, ok := b.Worker("w3")
			Expect(ok).To(BeTrue())
			ws, err := w3.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(ws.Hostname).To(Equal("10.0.0.2"))
			Expect(ws.Port).To(Equal(9000))
			Expect(ws.Route).To(Equal("r3"))
			Expect(ws.LBFactor).To(Equal(2))
			Expect(ws.HMax).To(Equal(4))

			rec = post("/member", url.Values{
				"b": {"cluster1"}, "nonce": {b.Nonce()},
				"name": {"w4"}, "url": {"http://10.0.0.3:9000"},
			})
			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(b.Workers()).To(HaveLen(3))
		})

		It("should refuse duplicate names", func() {
			rec := post("/member", url.Values{
				"b": {"cluster1"}, "nonce": {b.Nonce()},
				"name": {"w1"}, "url": {"http://10.0.0.9:80"},
			})
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("should reject malformed urls", func() {
			rec := post("/member", url.Values{
				"b": {"cluster1"}, "nonce": {b.Nonce()},
				"name": {"w5"}, "url": {"not a url"},
			})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should use the scheme's default port", func() {
			rec := post("/member", url.Values{
				"b": {"cluster1"}, "nonce": {b.Nonce()},
				"name": {"w5"}, "url": {"https://10.0.0.5"},
			})
			Expect(rec.Code).To(Equal(http.StatusCreated))

			w5, _ := b.Worker("w5")
			Expect(w5.Address()).To(Equal("10.0.0.5:443"))
		})
	})
})
