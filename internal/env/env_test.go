package env_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sethvargo/go-envconfig"
	"github.com/tidwall/gjson"

	"github.com/luma/pubsub/internal/env"
)

var _ = Describe("env", func() {
	Describe("LoadConfigWith()", func() {
		It("applies defaults", func() {
			config, err := env.LoadConfigWith(context.Background(), envconfig.MapLookuper(map[string]string{}))
			Expect(err).To(Succeed())

			Expect(config.Host).To(Equal("localhost"))
			Expect(config.Port).To(Equal(6379))
			Expect(config.LogLevel).To(Equal("info"))
			Expect(config.VerifyPeerName).To(BeFalse())
		})

		It("reads PUBSUB_ variables", func() {
			config, err := env.LoadConfigWith(context.Background(), envconfig.MapLookuper(map[string]string{
				"PUBSUB_HOST":             "cache.internal",
				"PUBSUB_PORT":             "6380",
				"PUBSUB_CA_FILE":          "/etc/ssl/ca.crt",
				"PUBSUB_VERIFY_PEER_NAME": "true",
				"PUBSUB_USERNAME":         "reporter",
				"PUBSUB_PASSWORD":         "hunter2",
				"PUBSUB_LOG_FILE":         "/var/log/pubsub.log",
			}))
			Expect(err).To(Succeed())

			Expect(config.Host).To(Equal("cache.internal"))
			Expect(config.Port).To(Equal(6380))
			Expect(config.CAFile).To(Equal("/etc/ssl/ca.crt"))
			Expect(config.VerifyPeerName).To(BeTrue())
			Expect(config.Username).To(Equal("reporter"))
			Expect(config.Password).To(Equal("hunter2"))
			Expect(config.Log()).To(Equal(env.LogConfig{Level: "info", File: "/var/log/pubsub.log"}))
		})

		It("fails on a malformed port", func() {
			_, err := env.LoadConfigWith(context.Background(), envconfig.MapLookuper(map[string]string{
				"PUBSUB_PORT": "many",
			}))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("MakeLogger()", func() {
		It("refuses an unknown level", func() {
			_, err := env.MakeLogger(env.LogConfig{Level: "chatty"})
			Expect(err).To(HaveOccurred())
		})

		It("builds a stderr logger by default", func() {
			log, err := env.MakeLogger(env.LogConfig{})
			Expect(err).To(Succeed())
			Expect(log).NotTo(BeNil())
		})

		It("writes JSON lines to the log file", func() {
			dir, err := os.MkdirTemp("", "pubsub-log")
			Expect(err).To(Succeed())
			defer os.RemoveAll(dir)

			file := filepath.Join(dir, "pubsub.log")

			log, err := env.MakeLogger(env.LogConfig{Level: "warn", File: file})
			Expect(err).To(Succeed())

			log.Info("quiet")
			log.Warn("loud")
			Expect(log.Sync()).To(Succeed())

			data, err := os.ReadFile(file)
			Expect(err).To(Succeed())

			Expect(gjson.GetBytes(data, "msg").String()).To(Equal("loud"))
			Expect(string(data)).NotTo(ContainSubstring("quiet"))
		})
	})
})
