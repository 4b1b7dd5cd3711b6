// Command checkup-sensor reads noisy instrument signals, decides when each has
// settled, and publishes the transitions to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/checkup-sensor/internal/config"
	"github.com/sweeney/checkup-sensor/internal/discovery"
	"github.com/sweeney/checkup-sensor/internal/display"
	"github.com/sweeney/checkup-sensor/internal/logic"
	"github.com/sweeney/checkup-sensor/internal/mqtt"
	"github.com/sweeney/checkup-sensor/internal/sensor"
	"github.com/sweeney/checkup-sensor/internal/status"
	"github.com/sweeney/checkup-sensor/internal/web"
)

func main() {
	configPath := flag.String("config", "/etc/checkup-sensor.yaml", "YAML config file (missing file = built-in profile)")
	profile := flag.String("profile", config.ProfileHeight, `Built-in profile when no config file exists ("height" or "oximeter")`)
	poll := flag.Duration("poll", 100*time.Millisecond, "Sensor polling interval")
	broker := flag.String("broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	report := flag.Duration("report", 0, "Console status line interval (0 to disable)")
	payload := flag.String("payload", config.PayloadJSON, `MQTT payload encoding ("json" or "cbor")`)
	httpAddr := flag.String("http", ":80", "HTTP status address (empty to disable)")
	mdns := flag.Bool("mdns", true, "Advertise the status page via mDNS")
	wsBroker := flag.String("ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	printState := flag.Bool("print-state", false, "Print one set of readings and exit")
	writeConfig := flag.String("write-config", "", "Write the effective config to this file and exit")

	flag.Parse()

	base, err := config.Profile(*profile)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	cfg, err := config.Load(*configPath, base)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	// Flags given explicitly on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll":
			cfg.Poll = *poll
		case "broker":
			cfg.Broker = *broker
		case "heartbeat":
			cfg.Heartbeat = *heartbeat
		case "report":
			cfg.ReportPeriod = *report
		case "payload":
			cfg.Payload = *payload
		case "http":
			cfg.HTTP = *httpAddr
		case "mdns":
			cfg.MDNS = *mdns
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: invalid config: %v", err)
	}

	if *writeConfig != "" {
		if err := cfg.Save(*writeConfig); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}

	ws := resolveWSBroker(*wsBroker, cfg.Broker)
	if ws != "" && cfg.Payload != config.PayloadJSON {
		log.Printf("ws-broker: live UI needs JSON payloads, disabled for %s", cfg.Payload)
		ws = ""
	}
	if err := run(cfg, *printState, ws); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, printState bool, wsBroker string) error {
	// Initialize sensors
	reader, err := openReader(cfg.Sources)
	if err != nil {
		return fmt.Errorf("init sensors: %w", err)
	}
	defer reader.Close()

	// Print state mode
	if printState {
		readings, err := reader.Read()
		if err != nil {
			return fmt.Errorf("read sensors: %w", err)
		}
		for _, r := range readings {
			fmt.Printf("%s: %s\n", r.Signal, display.FormatValue(r.Value, 2))
		}
		return nil
	}

	channels, err := cfg.Channels()
	if err != nil {
		return fmt.Errorf("build filters: %w", err)
	}
	startTime := time.Now()
	monitor, err := logic.NewMonitor(startTime, channels...)
	if err != nil {
		return err
	}

	encoding, err := mqtt.ParseEncoding(cfg.Payload)
	if err != nil {
		return err
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{Broker: cfg.Broker, Encoding: encoding})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	sessionID := uuid.NewString()[:8]
	tracker := status.NewTracker(startTime, statusConfig(cfg, wsBroker), sessionID)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.SetMQTTConnected(publisher.IsConnected())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp: snap.Now,
		Event:     "STARTUP",
		Retained:  true,
		Body:      status.BuildEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP)

		if cfg.MDNS {
			if adv := advertise(cfg, sessionID); adv != nil {
				defer adv.Stop()
			}
		}
	}

	log.Printf("started: session=%s signals=%v poll=%v broker=%s payload=%s heartbeat=%v",
		sessionID, cfg.SignalNames(), cfg.Poll, cfg.Broker, cfg.Payload, cfg.Heartbeat)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopConfig{
		reader:     reader,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		monitor:    monitor,
		specs:      cfg.DisplaySpecs(),
		panel:      cfg.Panel,
		heartbeat:  cfg.Heartbeat,
		report:     cfg.ReportPeriod,
		now:        time.Now,
	}, ticker.C, sigCh)
}

// loopConfig carries runLoop's collaborators. tracker and mqttStatus may be nil.
type loopConfig struct {
	reader     sensor.Reader
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	monitor    *logic.Monitor
	specs      map[string]display.Spec
	panel      string
	heartbeat  time.Duration
	report     time.Duration
	now        func() time.Time
}

func runLoop(lc loopConfig, tick <-chan time.Time, sig <-chan os.Signal) error {
	unknown := make(map[string]bool)
	var lastReport time.Time

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: lc.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if lc.tracker != nil {
				if lc.mqttStatus != nil {
					lc.tracker.SetMQTTConnected(lc.mqttStatus.IsConnected())
				}
				snap := lc.tracker.Snapshot()
				event.Body = status.BuildEvent(snap, "SHUTDOWN", signalName)
			}
			if err := lc.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := lc.now()
			readings, err := lc.reader.Read()
			faulted := isFault(err)
			if faulted {
				log.Printf("sensor read error: %v", err)
			}

			for _, r := range readings {
				events, err := lc.monitor.Process(logic.Input{Signal: r.Signal, Value: r.Value, Time: t})
				if err != nil {
					if !unknown[r.Signal] {
						log.Printf("ignoring reading: %v", err)
						unknown[r.Signal] = true
					}
					continue
				}
				handleEvents(lc, events)
			}

			// Nothing came back from a failing sensor: its signals are lost.
			if faulted && len(readings) == 0 {
				handleEvents(lc, lc.monitor.ResetAll(t))
			}

			views := lc.monitor.Views(t)

			// Update status tracker for HTTP consumers
			if lc.tracker != nil {
				lc.tracker.Update(views, display.Panel(lc.panel, views, lc.specs), lc.monitor.EventCountsSnapshot())
				if lc.mqttStatus != nil {
					lc.tracker.SetMQTTConnected(lc.mqttStatus.IsConnected())
				}
			}

			if lc.report > 0 && t.Sub(lastReport) >= lc.report {
				log.Printf("%s", display.LogLine(views, lc.specs))
				lastReport = t
			}

			// Check for heartbeat
			if hbData := lc.monitor.CheckHeartbeat(t, lc.heartbeat); hbData != nil {
				total := 0
				for _, c := range hbData.Counts {
					total += c.Total()
				}
				log.Printf("heartbeat: uptime=%v events=%d all_stable=%v", hbData.Uptime, total, lc.monitor.AllStable())

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if lc.tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						lc.tracker.SetNetwork(net)
					}
					snap := lc.tracker.Snapshot()
					hbEvent.Body = status.BuildEvent(snap, "HEARTBEAT", "")
				}
				if err := lc.publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
		}
	}
}

// isFault reports whether err is a sensor failure rather than "no data yet".
// A joined error from sensor.Multi is a failure if any part is.
func isFault(err error) bool {
	if err == nil {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if isFault(e) {
				return true
			}
		}
		return false
	}
	return !errors.Is(err, sensor.ErrNoData)
}

// handleEvents logs and publishes transition events, recording trusted values.
func handleEvents(lc loopConfig, events []logic.Event) {
	for _, event := range events {
		if event.HasValue {
			log.Printf("event: %s %s=%v (%s)", event.Type, event.Signal, event.Value, event.Phase)
		} else {
			log.Printf("event: %s %s (%s)", event.Type, event.Signal, event.Phase)
		}
		if event.Type == logic.EventStable && lc.tracker != nil {
			lc.tracker.RecordStable(event.Signal, event.Value)
		}
		if err := lc.publisher.Publish(event); err != nil {
			log.Printf("publish error: %v", err)
			// Don't crash on publish failure
		}
	}
}

// openReader opens every configured source. A single source is returned as
// is; several are combined.
func openReader(sources []config.SourceConfig) (sensor.Reader, error) {
	var readers sensor.Multi
	for _, src := range sources {
		r, err := openSource(src)
		if err != nil {
			readers.Close()
			return nil, err
		}
		readers = append(readers, r)
	}
	if len(readers) == 1 {
		return readers[0], nil
	}
	return readers, nil
}

func openSource(src config.SourceConfig) (sensor.Reader, error) {
	switch src.Kind {
	case config.SourceSonar:
		return sensor.NewSonar(sensor.SonarConfig{
			Chip:          src.Chip,
			TriggerPin:    src.TriggerPin,
			EchoPin:       src.EchoPin,
			MaxDistanceCm: src.MaxDistanceCm,
			Signal:        src.Signal,
		})
	case config.SourceSerial:
		return sensor.OpenSerial(sensor.SerialConfig{
			Port:     src.Port,
			BaudRate: src.Baud,
			Aliases:  src.Aliases,
		})
	case config.SourceFake:
		return sensor.NewFakeSignal(src.Signal, src.Values...), nil
	}
	return nil, fmt.Errorf("unknown source kind %q", src.Kind)
}

func statusConfig(cfg *config.Config, wsBroker string) status.Config {
	sc := status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		HTTPPort:    cfg.HTTP,
		Encoding:    cfg.Payload,
		Panel:       cfg.Panel,
		WSBroker:    wsBroker,
	}
	for _, s := range cfg.Signals {
		ss := status.SignalSettings{
			Name:        s.Name,
			Label:       s.Label,
			Unit:        s.Unit,
			Decimals:    s.Decimals,
			Type:        s.Type,
			Tolerance:   s.Tolerance,
			StabilityMs: s.StabilityDuration.Milliseconds(),
			IntervalMs:  s.SampleInterval.Milliseconds(),
		}
		if s.ValidRange != nil {
			lo, hi := s.ValidRange.Min, s.ValidRange.Max
			ss.Min, ss.Max = &lo, &hi
		}
		sc.Signals = append(sc.Signals, ss)
	}
	return sc
}

// advertise registers the status page via mDNS. Failures are logged, not fatal.
func advertise(cfg *config.Config, sessionID string) *discovery.Advertiser {
	port, err := discovery.PortFromAddr(cfg.HTTP)
	if err != nil {
		log.Printf("mdns: %v", err)
		return nil
	}
	host, _ := os.Hostname()
	info := discovery.Info{
		Instance:  discovery.InstanceName(host),
		Port:      port,
		Signals:   cfg.SignalNames(),
		SessionID: sessionID,
		Panel:     cfg.Panel,
	}
	adv := discovery.NewAdvertiser("")
	if err := adv.Start(info); err != nil {
		log.Printf("mdns: %v", err)
		return nil
	}
	log.Printf("mdns: advertising %s on port %d", info.Instance, port)
	return adv
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse --broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
