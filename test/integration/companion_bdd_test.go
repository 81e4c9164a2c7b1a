//go:build integration

package integration

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dev_guard/internal/config"
	"github.com/eliteGoblin/focusd/dev_guard/internal/daemon"
	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
	"github.com/eliteGoblin/focusd/dev_guard/internal/infra"
	"github.com/eliteGoblin/focusd/dev_guard/test/fixtures"
)

const (
	game  = "com.example.game"
	other = "com.example.other"
)

// Fake pids well above anything a test host hands out.
const (
	gamePID  = 3900001
	otherPID = 3900002
)

var _ = Describe("Companion daemon", func() {
	var (
		device    *fixtures.FakeDevice
		socketDir string
		cfg       daemon.CompanionConfig
		registry  domain.DaemonRegistry
		cancel    context.CancelFunc
		runResult chan error
	)

	send := func(write func(io.Writer) error) {
		conn, err := net.Dial("unix", cfg.SocketPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(write(conn)).To(Succeed())
		Expect(conn.Close()).To(Succeed())
	}

	notify := func(pkg string, pid int) {
		send(func(w io.Writer) error { return daemon.WriteAppStarted(w, pkg, pid) })
	}

	BeforeEach(func() {
		root, err := os.MkdirTemp("", "devguard-integration-*")
		Expect(err).NotTo(HaveOccurred())
		device = fixtures.NewFakeDevice(root)
		Expect(device.Create()).To(Succeed())
		Expect(device.WriteConfig([]string{game, other}, map[string]string{
			config.KeyCleanDelay: "1",
		})).To(Succeed())

		// Unix socket paths are length limited; keep this one short.
		socketDir, err = os.MkdirTemp("", "dgi")
		Expect(err).NotTo(HaveOccurred())

		cfg = daemon.DefaultCompanionConfig()
		cfg.SocketPath = filepath.Join(socketDir, "s.sock")
		cfg.ConfigPath = device.ConfigPath()
		cfg.GatePath = device.GatePath()
		cfg.EnableFlagPath = filepath.Join(root, "deviceguard_enabled")
		cfg.ReloadFlagPath = filepath.Join(root, "deviceguard_reload")
		cfg.RegistryPath = filepath.Join(root, "daemon.json")
		cfg.ProcRoot = device.ProcRoot()
		cfg.EventIdle = 10 * time.Millisecond
		cfg.ConfigDebounce = 50 * time.Millisecond

		logger := zap.NewNop()
		pm := infra.NewProcessManager()
		registry = infra.NewFileRegistry(cfg.RegistryPath, pm)

		companion := daemon.NewCompanion(
			cfg,
			config.NewFileStore(cfg.ConfigPath, logger),
			pm,
			infra.NewFileSystemManager(),
			infra.NewChmodGate(cfg.GatePath),
			infra.NewSentinelFlags(cfg.EnableFlagPath, cfg.ReloadFlagPath),
			registry,
			logger,
		)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		runResult = make(chan error, 1)
		go func() { runResult <- companion.Run(ctx) }()

		Eventually(func() (*domain.DaemonRecord, error) {
			return registry.Get()
		}, 2*time.Second, 10*time.Millisecond).ShouldNot(BeNil())
	})

	AfterEach(func() {
		cancel()
		Eventually(runResult, 2*time.Second).Should(Receive(BeNil()))
		device.Cleanup()
		os.RemoveAll(socketDir)
	})

	Describe("startup", func() {
		It("should open the gate when nothing is running", func() {
			Eventually(device.GateMode, time.Second).Should(Equal("771"))
		})

		It("should record itself in the registry", func() {
			rec, err := registry.Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.PID).To(Equal(os.Getpid()))
			Expect(rec.SocketPath).To(Equal(cfg.SocketPath))
		})
	})

	Describe("app lifecycle", func() {
		Context("when a single watched app starts and exits", func() {
			It("should close the gate, reopen it and purge the cache", func() {
				Expect(device.Spawn(gamePID)).To(Succeed())
				Expect(device.CreateCache(game)).To(Succeed())

				notify(game, gamePID)
				Eventually(device.GateMode, 2*time.Second).Should(Equal("000"))
				Expect(device.CacheExists(game)).To(BeTrue())

				Expect(device.Exit(gamePID)).To(Succeed())
				Eventually(device.GateMode, 2*time.Second).Should(Equal("771"))

				// Purge runs after the one second cooldown.
				Expect(device.CacheExists(game)).To(BeTrue())
				Eventually(func() bool { return device.CacheExists(game) }, 3*time.Second, 50*time.Millisecond).
					Should(BeFalse())
			})
		})

		Context("when two watched apps overlap", func() {
			It("should keep the gate closed until the last one exits", func() {
				Expect(device.Spawn(gamePID)).To(Succeed())
				Expect(device.Spawn(otherPID)).To(Succeed())

				notify(game, gamePID)
				notify(other, otherPID)
				Eventually(device.GateMode, 2*time.Second).Should(Equal("000"))

				Expect(device.Exit(gamePID)).To(Succeed())
				Consistently(device.GateMode, 300*time.Millisecond, 20*time.Millisecond).Should(Equal("000"))

				Expect(device.Exit(otherPID)).To(Succeed())
				Eventually(device.GateMode, 2*time.Second).Should(Equal("771"))
			})
		})

		Context("when an unwatched app starts", func() {
			It("should leave the gate open", func() {
				notify("com.example.unwatched", 3900009)
				Consistently(device.GateMode, 300*time.Millisecond, 20*time.Millisecond).Should(Equal("771"))
			})
		})
	})

	Describe("command socket", func() {
		Context("when a connection sends a truncated payload", func() {
			It("should still serve the next connection", func() {
				send(func(w io.Writer) error {
					frame := []byte{byte(daemon.CmdAppStarted)}
					frame = binary.LittleEndian.AppendUint32(frame, 40)
					frame = append(frame, "com.exa"...)
					_, err := w.Write(frame)
					return err
				})

				Expect(device.Spawn(gamePID)).To(Succeed())
				notify(game, gamePID)
				Eventually(device.GateMode, 2*time.Second).Should(Equal("000"))
			})
		})
	})

	Describe("config reload", func() {
		Context("when the config file is rewritten", func() {
			It("should apply the new running mode", func() {
				Expect(device.Spawn(gamePID)).To(Succeed())
				notify(game, gamePID)
				Eventually(device.GateMode, 2*time.Second).Should(Equal("000"))

				Expect(device.WriteConfig([]string{game}, map[string]string{
					config.KeyRunningPerm: "700",
				})).To(Succeed())
				Eventually(device.GateMode, 3*time.Second).Should(Equal("700"))
			})
		})

		Context("when ConfigChanged arrives with the reload sentinel", func() {
			It("should consume the sentinel and reload", func() {
				Expect(device.WriteConfig([]string{game}, map[string]string{
					config.KeyStoppedPerm: "775",
				})).To(Succeed())
				Expect(os.WriteFile(cfg.ReloadFlagPath, nil, 0600)).To(Succeed())

				send(daemon.WriteConfigChanged)

				Eventually(device.GateMode, 3*time.Second).Should(Equal("775"))
				Eventually(func() bool {
					_, err := os.Stat(cfg.ReloadFlagPath)
					return os.IsNotExist(err)
				}, time.Second).Should(BeTrue())
			})
		})
	})
})
