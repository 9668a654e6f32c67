package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/config"
	"github.com/angeloszaimis/proxypool/internal/status"
)

const validConfig = `
server:
  address: ":8080"
  admin_address: "127.0.0.1:9090"
  environment: "dev"

logging:
  level: "debug"

store:
  dir: "/var/run/proxypool"
  growth: 2
  bgrowth: 1

maintenance:
  interval: "10s"

workers:
  - name: "static"
    url: "http://static.internal:8000"
    hmax: 10
    ttl: "30s"

balancers:
  - name: "cluster1"
    method: "bytraffic"
    sticky: "JSESSIONID"
    max_attempts: 0
    error_statuses: [500, 503]
    growth: 3
    members:
      - name: "w1"
        url: "http://10.0.0.1:8080"
        route: "r1"
        lbfactor: 3
        retry: "0s"
      - name: "w2"
        url: "http://10.0.0.2:8080"
        route: "r2"
        status: "+H"
        smax: 5
        keepalive: true

routes:
  - prefix: "/app"
    target: "balancer://cluster1"
  - prefix: "/static"
    target: "http://static.internal:8000"
`

var _ = Describe("Config", func() {
	var tempDir string

	write := func(content string) string {
		path := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	Describe("LoadFile", func() {
		Context("with a valid config file", func() {
			var cfg *config.Config

			BeforeEach(func() {
				var err error
				cfg, err = config.LoadFile(write(validConfig))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should parse the server and store sections", func() {
				Expect(cfg.Server.AdminAddress).To(Equal("127.0.0.1:9090"))
				Expect(cfg.Server.ShutdownTimeout).To(Equal(5 * time.Second))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Store.Dir).To(Equal("/var/run/proxypool"))
				Expect(cfg.Maintenance.Interval).To(Equal(10 * time.Second))
			})

			It("should size the status store", func() {
				Expect(cfg.WorkerSlots()).To(Equal(1 + 2 + 3))
				Expect(cfg.BalancerSlots()).To(Equal(2))
			})

			It("should keep an explicit zero max_attempts", func() {
				b := cfg.Balancers[0].Definition(cfg.BalancerGrowth(cfg.Balancers[0]))
				Expect(b.MaxAttemptsSet).To(BeTrue())
				Expect(b.MaxAttempts).To(BeZero())
				Expect(b.Growth).To(Equal(3))
				Expect(b.ErrorStatuses).To(Equal([]int{500, 503}))
				Expect(cfg.Balancers[0].MethodName()).To(Equal("bytraffic"))
			})

			It("should convert members into worker records", func() {
				w1, err := cfg.Balancers[0].Members[0].Definition()
				Expect(err).NotTo(HaveOccurred())
				Expect(w1.Scheme).To(Equal("http"))
				Expect(w1.Hostname).To(Equal("10.0.0.1"))
				Expect(w1.Port).To(Equal(8080))
				Expect(w1.LBFactor).To(Equal(3))
				Expect(w1.Retry).To(BeZero())
				Expect(w1.HMax).To(Equal(config.DefaultHMax))
				Expect(w1.SMax).To(Equal(config.DefaultHMax))

				w2, err := cfg.Balancers[0].Members[1].Definition()
				Expect(err).NotTo(HaveOccurred())
				Expect(w2.LBFactor).To(Equal(config.DefaultLBFactor))
				Expect(w2.Retry).To(Equal(config.DefaultRetry))
				Expect(w2.SMax).To(Equal(5))
				Expect(w2.KeepAlive).To(BeTrue())
				Expect(w2.Status.Has(status.HotStandby)).To(BeTrue())
			})

			It("should parse standalone workers", func() {
				w, err := cfg.Workers[0].Definition()
				Expect(err).NotTo(HaveOccurred())
				Expect(w.HMax).To(Equal(10))
				Expect(w.TTL).To(Equal(30 * time.Second))
			})
		})

		DescribeTable("should reject invalid configurations",
			func(content string) {
				_, err := config.LoadFile(write(content))
				Expect(err).To(MatchError(config.ErrConfig))
			},
			Entry("unknown environment", `
server:
  environment: "moon"
`),
			Entry("bad log level", `
logging:
  level: "loud"
`),
			Entry("bad address", `
server:
  address: "nope"
`),
			Entry("unknown method", `
balancers:
  - name: "b"
    method: "byluck"
`),
			Entry("worker without url", `
workers:
  - name: "w"
`),
			Entry("balancer url as worker", `
workers:
  - name: "w"
    url: "balancer://b"
`),
			Entry("unknown status flag", `
workers:
  - name: "w"
    url: "http://h:80"
    status: "+Q"
`),
			Entry("smax above hmax", `
workers:
  - name: "w"
    url: "http://h:80"
    hmax: 2
    smax: 3
`),
			Entry("duplicate member endpoint", `
balancers:
  - name: "b"
    members:
      - name: "w1"
        url: "http://h:80"
      - name: "w2"
        url: "http://h:80"
`),
			Entry("duplicate balancer", `
balancers:
  - name: "b"
  - name: "b"
`),
			Entry("route to unknown balancer", `
routes:
  - prefix: "/"
    target: "balancer://missing"
`),
			Entry("route to undefined worker", `
routes:
  - prefix: "/"
    target: "http://h:80"
`),
			Entry("relative route prefix", `
balancers:
  - name: "b"
routes:
  - prefix: "app"
    target: "balancer://b"
`),
			Entry("out of range error status", `
balancers:
  - name: "b"
    error_statuses: [42]
`),
			Entry("name too long", `
balancers:
  - name: "`+strings.Repeat("a", 100)+`"
`),
		)

		It("should fail for a missing file", func() {
			_, err := config.LoadFile(filepath.Join(tempDir, "absent.yaml"))
			Expect(err).To(MatchError(config.ErrConfig))
		})
	})

	Describe("Load", func() {
		BeforeEach(func() {
			wd, err := os.Getwd()
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.Chdir, wd)
			Expect(os.Chdir(tempDir)).To(Succeed())
		})

		It("should use defaults when the config file is missing", func() {
			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.Address).To(Equal(":8080"))
			Expect(cfg.Server.Environment).To(Equal(config.EnvDev))
			Expect(cfg.Store.Growth).To(Equal(4))
			Expect(cfg.Store.BGrowth).To(Equal(5))
			Expect(cfg.Maintenance.Interval).To(Equal(5 * time.Second))
		})

		It("should find config.yaml in the config directory", func() {
			Expect(os.Mkdir(filepath.Join(tempDir, "config"), 0o755)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(tempDir, "config", "config.yaml"), []byte(validConfig), 0o644)).To(Succeed())

			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Balancers).To(HaveLen(1))
		})

		It("should let the environment override the file", func() {
			write(validConfig)
			GinkgoT().Setenv("LOGGING_LEVEL", "warn")
			GinkgoT().Setenv("SERVER_ADDRESS", ":9999")

			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Logging.Level).To(Equal("warn"))
			Expect(cfg.Server.Address).To(Equal(":9999"))
		})
	})
})
