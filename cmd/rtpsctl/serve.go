// =============================================================================
// 文件: cmd/rtpsctl/serve.go
// 描述: serve 子命令 - 运行本地环回写者/读者对，便于互操作冒烟测试
// =============================================================================
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbusmesh/rtps-core/internal/config"
	"github.com/nimbusmesh/rtps-core/internal/metrics"
	"github.com/nimbusmesh/rtps-core/internal/reliability"
	"github.com/nimbusmesh/rtps-core/internal/rtps"
	"github.com/nimbusmesh/rtps-core/internal/udpio"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a loopback reliable writer/reader pair from a YAML config",
	Long: `serve starts one DataLink bound to the configured listen address, adds
a local writer and a local reader, associates them with each other, and
submits a sample three times per heartbeat period so the pair exercises DATA,
HEARTBEAT and ACKNACK traffic end to end. Useful for interop smoke-testing
against another RTPS participant, or standalone to confirm the binary
runs against a given config.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to YAML config (defaults built in if omitted)")
	rootCmd.AddCommand(serveCmd)
}

// loggingCallbacks is the minimal reliability.ApplicationCallbacks
// implementation serve uses: it just logs every lifecycle event rather
// than driving a real application-side sample queue.
type loggingCallbacks struct{}

func (loggingCallbacks) WriterExists(writer, reader rtps.Guid) {
	log.Printf("writer %s now visible to reader %s", writer, reader)
}
func (loggingCallbacks) WriterDoesNotExist(writer, reader rtps.Guid) {
	log.Printf("writer %s timed out for reader %s", writer, reader)
}
func (loggingCallbacks) ReaderExists(reader, writer rtps.Guid) {
	log.Printf("reader %s now visible to writer %s", reader, writer)
}
func (loggingCallbacks) ReaderDoesNotExist(reader, writer rtps.Guid) {
	log.Printf("reader %s timed out for writer %s", reader, writer)
}
func (loggingCallbacks) OnStart(local, remote rtps.Guid, ok bool) {
	log.Printf("association %s <-> %s started, ok=%v", local, remote, ok)
}
func (loggingCallbacks) DataDelivered(elem reliability.QueueElement) {
	log.Printf("delivered seq=%d bytes=%d", elem.Seq, len(elem.Body))
}
func (loggingCallbacks) DataDropped(elem reliability.QueueElement, byTransport bool) {
	log.Printf("dropped seq=%d byTransport=%v", elem.Seq, byTransport)
}
func (loggingCallbacks) WithholdDataFrom(reader rtps.Guid) {
	log.Printf("withholding from %s", reader)
}
func (loggingCallbacks) DoNotWithholdDataFrom(reader rtps.Guid) {
	log.Printf("no longer withholding from %s", reader)
}

// sockAddr resolves a "host:port" or ":port" listen spec to a loopback
// *net.UDPAddr suitable for the self-referential locator a loopback
// writer/reader pair needs.
func sockAddr(listen string) (*net.UDPAddr, error) {
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return nil, fmt.Errorf("parse listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse listen port %q: %w", portStr, err)
	}
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if serveConfigPath != "" {
		loaded, err := config.Load(serveConfigPath)
		if err != nil {
			return fmt.Errorf("rtpsctl serve: %w", err)
		}
		cfg = loaded
	}

	var localPrefix rtps.GuidPrefix
	if _, err := rand.Read(localPrefix[:]); err != nil {
		return fmt.Errorf("rtpsctl serve: generate guid prefix: %w", err)
	}

	relayAddr, err := cfg.RelayUDPAddr()
	if err != nil {
		return fmt.Errorf("rtpsctl serve: %w", err)
	}
	nakDepth, nakResponseDelay, heartbeatResponseDelay, heartbeatPeriod, durableDataTimeout,
		passiveConnectDuration, maxBundleSize, heldDepth, doesNotExistThreshold := cfg.ToReliabilityConfig()

	dlCfg := reliability.Config{
		NakDepth:               nakDepth,
		NakResponseDelay:       nakResponseDelay,
		HeartbeatResponseDelay: heartbeatResponseDelay,
		HeartbeatPeriod:        heartbeatPeriod,
		DurableDataTimeout:     durableDataTimeout,
		MaxBundleSize:          maxBundleSize,
		RelayAddress:           relayAddr,
		PassiveConnectDuration: passiveConnectDuration,
		HeldDeliveryQueueDepth: heldDepth,
		DoesNotExistThreshold:  doesNotExistThreshold,
	}

	sock := udpio.NewSocket(cfg.Listen)
	strategy := udpio.New(sock, localPrefix)
	sock.SetHandler(strategy)

	counters := metrics.NewReliabilityCounters()
	link := reliability.NewDataLink(localPrefix, dlCfg, strategy, strategy.Reassembler(), loggingCallbacks{}, reliability.WithMetrics(counters))
	strategy.SetDataLink(link)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sock.Start(ctx); err != nil {
		return fmt.Errorf("rtpsctl serve: %w", err)
	}
	defer sock.Stop()
	defer link.Close()

	selfAddr, err := sockAddr(cfg.Listen)
	if err != nil {
		return fmt.Errorf("rtpsctl serve: %w", err)
	}

	writerGuid := rtps.Guid{Prefix: localPrefix, Entity: rtps.NewEntityId([3]byte{0, 0, 1}, rtps.EntityKindUserWriter)}
	readerGuid := rtps.Guid{Prefix: localPrefix, Entity: rtps.NewEntityId([3]byte{0, 0, 2}, rtps.EntityKindUserReader)}

	link.SetLocator(writerGuid, rtps.RemoteLocator{Addr: selfAddr})
	link.SetLocator(readerGuid, rtps.RemoteLocator{Addr: selfAddr})

	w := link.AddWriter(writerGuid, false)
	r := link.AddReader(readerGuid, false)
	w.AddReader(readerGuid, false)
	r.AddWriter(writerGuid)

	if cfg.Metrics.Enabled {
		ms := metrics.NewMetricsServer(cfg.Metrics.Listen, cfg.Metrics.Path, cfg.Metrics.HealthPath, false)
		ms.MustRegisterCollector(metrics.NewReliabilityCollector(counters))
		ms.MustRegisterCollector(metrics.NewDedupCollector(strategy.DedupFilter()))
		ms.MustRegisterCollector(metrics.NewGaugeCollector(link))
		ms.SetSnapshotProvider(link.Snapshot)
		if err := ms.Start(ctx); err != nil {
			return fmt.Errorf("rtpsctl serve: start metrics server: %w", err)
		}
		defer ms.Stop()
		log.Printf("metrics listening on %s%s", cfg.Metrics.Listen, cfg.Metrics.Path)
	}

	log.Printf("rtps-core serving on %s, local prefix %x", cfg.Listen, localPrefix)

	sampleTicker := time.NewTicker(heartbeatPeriod / 3)
	defer sampleTicker.Stop()
	var seq rtps.SequenceNumber

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			log.Println("shutting down")
			return nil
		case <-sampleTicker.C:
			seq++
			elem := reliability.QueueElement{
				Kind:           reliability.ElementData,
				PublicationID:  writerGuid,
				SubscriptionID: rtps.GuidUnknown,
				Seq:            seq,
				Body:           []byte(fmt.Sprintf("sample %d @ %s", seq, time.Now().Format(time.RFC3339))),
				SubmittedAt:    time.Now(),
			}
			if err := link.CustomizeQueueElement(writerGuid, elem); err != nil {
				log.Printf("submit sample %d: %v", seq, err)
			}
		}
	}
}
