package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"isrlink/host/config"
	"isrlink/host/mqtt"
	"isrlink/host/serial"
	"isrlink/transport"
)

var (
	configPath = flag.String("config", "", "TOML configuration file")
	device     = flag.String("device", config.DefaultDevice, "Serial device path")
	baud       = flag.Int("baud", 115200, "Baud rate")
	mode       = flag.String("mode", "blocking", "Write mode: blocking or nonblocking")
	delimiter  = flag.String("delim", `\n`, "Line delimiter")
	timeout    = flag.Duration("timeout", config.DefaultTimeout, "Timeout for blocking calls (0 waits forever)")
	broker     = flag.String("broker", "", "MQTT broker URL; runs the line bridge instead of the shell")
	topic      = flag.String("topic", config.DefaultTopic, "MQTT topic prefix")
	rawTTY     = flag.Bool("raw", false, "Open the device as a raw Linux tty instead of through tarm/serial")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, flag.Args()); err != nil {
		glog.Errorf("%v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the optional file and lets explicitly set flags win
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}

	var err error
	flag.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "device":
			cfg.Serial.Device = *device
		case "baud":
			cfg.Serial.Baud = *baud
		case "mode":
			cfg.Channel.Mode, err = config.ParseMode(*mode)
		case "delim":
			cfg.Channel.Delimiter, err = config.ParseDelimiter(*delimiter)
		case "timeout":
			cfg.Timeout = *timeout
		case "broker":
			cfg.MQTT.Broker = *broker
		case "topic":
			cfg.MQTT.Topic = *topic
		}
	})
	return cfg, err
}

func openPort(cfg *serial.Config) (serial.Port, error) {
	if *rawTTY {
		return openRaw(cfg)
	}
	return serial.Open(cfg)
}

func run(cfg config.Config, args []string) error {
	port, err := openPort(&cfg.Serial)
	if err != nil {
		return err
	}
	glog.Infof("opened %s at %d baud", cfg.Serial.Device, cfg.Serial.Baud)

	pump := serial.NewPump(port, 0)
	ch := pump.Attach(cfg.Channel)
	// NewChannel maps a zero delimiter to the default; NUL is set explicitly
	ch.SetDelimiter(cfg.Channel.Delimiter)
	if cfg.Timeout > 0 {
		ch.SetDeadline(transport.DeadlineAfter(cfg.Timeout))
	}
	ch.SetIdle(func() { time.Sleep(50 * time.Microsecond) })
	ch.Start()
	defer ch.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pumpErr := make(chan error, 1)
	go func() { pumpErr <- pump.Run(ctx) }()

	if cfg.MQTT.Broker != "" {
		err = runBridge(ctx, cfg, ch)
	} else {
		err = runShell(ch, args)
	}
	stop()
	if perr := <-pumpErr; err == nil {
		err = perr
	}
	return err
}

func runBridge(ctx context.Context, cfg config.Config, ch *transport.Channel) error {
	bridge := mqtt.NewBridge(ch, cfg.MQTT.Topic)
	if err := bridge.Connect(cfg.MQTT); err != nil {
		return err
	}
	defer bridge.Close()

	glog.Infof("bridging %s <-> %s, %s", cfg.Serial.Device, bridge.RxTopic(), bridge.TxTopic())
	err := bridge.Run(ctx)
	lines, writes, overflows, dropped := bridge.Stats()
	glog.Infof("bridge stopped: %d lines, %d writes, %d overflows, %d dropped", lines, writes, overflows, dropped)
	return err
}

func runShell(ch *transport.Channel, args []string) error {
	sh := ishell.New()
	sh.SetPrompt("isrlink> ")
	con := &console{ch: ch}
	con.install(sh)

	if len(args) > 0 {
		return sh.Process(args...)
	}
	sh.Println("isrlink host console, type 'help' for commands")
	sh.Run()
	return nil
}
