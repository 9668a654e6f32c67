package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/proxypool/pkg/logger"
)

var _ = Describe("Logger", func() {
	ctx := context.Background()

	Describe("New", func() {
		It("should log to stdout without a writer", func() {
			log := logger.New("info", false, "dev", nil)
			Expect(log).NotTo(BeNil())
		})

		DescribeTable("should respect the level",
			func(level string, enabled, disabled slog.Level) {
				log := logger.New(level, false, "dev", &bytes.Buffer{})

				Expect(log.Enabled(ctx, enabled)).To(BeTrue())
				if disabled != enabled {
					Expect(log.Enabled(ctx, disabled)).To(BeFalse())
				}
			},
			Entry("debug", "debug", slog.LevelDebug, slog.LevelDebug),
			Entry("info", "info", slog.LevelInfo, slog.LevelDebug),
			Entry("warn", "warn", slog.LevelWarn, slog.LevelInfo),
			Entry("error", "error", slog.LevelError, slog.LevelWarn),
			Entry("mixed case", "WARN", slog.LevelWarn, slog.LevelInfo),
			Entry("invalid falls back to info", "invalid", slog.LevelInfo, slog.LevelDebug),
		)

		It("should write JSON with the environment in prod", func() {
			var buf bytes.Buffer
			log := logger.New("info", false, "prod", &buf)

			log.Info("hello", slog.String("worker", "w1"))

			var entry map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
			Expect(entry).To(HaveKeyWithValue("msg", "hello"))
			Expect(entry).To(HaveKeyWithValue("environment", "prod"))
			Expect(entry).To(HaveKeyWithValue("worker", "w1"))
		})

		It("should write text outside prod", func() {
			var buf bytes.Buffer
			log := logger.New("info", false, "dev", &buf)

			log.Info("hello")

			Expect(buf.String()).To(ContainSubstring("msg=hello"))
			Expect(buf.String()).To(ContainSubstring("environment=dev"))
		})

		It("should support the addSource option", func() {
			var buf bytes.Buffer
			log := logger.New("info", true, "dev", &buf)

			log.Info("hello")

			Expect(buf.String()).To(ContainSubstring("source="))
		})
	})
})
