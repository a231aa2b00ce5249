package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"busylight/internal/calendar"
	"busylight/internal/config"
	"busylight/internal/gauth"
	"busylight/internal/gpio"
	"busylight/internal/ics"
	appLog "busylight/internal/log"
	"busylight/internal/model"
	"busylight/internal/poller"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	once       bool
	noHardware bool
	list       bool
}

// lister is implemented by both calendar backends.
type lister interface {
	List(ctx context.Context, calendarID string, from time.Time, limit int64) ([]*model.Event, error)
}

type calendarClient interface {
	calendar.Client
	lister
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("busylight starting", "version", version)
	appLog.Info("effective config",
		"source", conf.Source,
		"calendar_id", conf.CalendarID,
		"interval", conf.Interval(),
		"timezone", conf.Location().String(),
		"pins", fmt.Sprintf("%s/%s/%s", conf.Pins.Red, conf.Pins.Green, conf.Pins.Blue),
		"once", flags.once,
		"no_hardware", flags.noHardware,
		"list", flags.list,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := newCalendarClient(ctx, conf)
	if err != nil {
		appLog.Error("failed to set up calendar client", err, "source", conf.Source)
		os.Exit(1)
	}

	if flags.list {
		if err := listUpcoming(ctx, client, conf); err != nil {
			appLog.Error("failed to list events", err, "calendar_id", conf.CalendarID)
			os.Exit(1)
		}
		return
	}

	driver := openDriver(conf, flags.noHardware)

	p, err := poller.New(poller.Options{
		Client:     client,
		Driver:     driver,
		CalendarID: conf.CalendarID,
		Interval:   conf.Interval(),
		Location:   conf.Location(),
	})
	if err != nil {
		appLog.Error("failed to create poller", err)
		os.Exit(1)
	}

	// In -once mode the pins are left showing the derived state.
	if flags.once {
		state, err := p.Tick(ctx)
		if err != nil {
			appLog.Error("single tick failed", err, "state", state)
			os.Exit(1)
		}
		appLog.Info("single tick done", "state", state)
		return
	}

	defer func() {
		if err := driver.Close(); err != nil {
			appLog.Error("failed to switch light off", err)
		}
	}()

	if err := p.Run(ctx); err != nil {
		appLog.Error("poller stopped with error", err)
	}
	appLog.Info("busylight exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "config.yaml", "Path to config file (YAML or JSON)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+derive+write cycle and exit")
	flag.BoolVar(&cfg.noHardware, "no-hardware", false, "Log light states instead of driving GPIO pins")
	flag.BoolVar(&cfg.list, "list", false, "Print the next 10 upcoming events and exit")

	flag.Parse()

	return cfg
}

// newCalendarClient builds the client for the configured source. For Google
// this runs the blocking authorization step, which may prompt on stdin.
func newCalendarClient(ctx context.Context, conf *config.Config) (calendarClient, error) {
	if conf.Source == config.SourceICS {
		return ics.NewClient(conf.ICSURL, nil, conf.Location(), conf.HorizonDays)
	}

	oc, err := gauth.LoadCredentials(conf.CredentialsPath, gauth.Scopes...)
	if err != nil {
		return nil, err
	}
	store := gauth.TokenStore{Path: conf.TokenPath}
	tok, err := gauth.Authorize(ctx, oc, store, os.Stdin, os.Stdout)
	if err != nil {
		return nil, err
	}
	return calendar.NewGoogle(ctx, gauth.Client(ctx, oc, tok, store), conf.Location())
}

// openDriver falls back to the log driver when no GPIO is available so the
// daemon can still be run on a workstation.
func openDriver(conf *config.Config, noHardware bool) gpio.Driver {
	if noHardware {
		return gpio.NewLogDriver()
	}
	d, err := gpio.Open(gpio.PinConfig{
		Red:   conf.Pins.Red,
		Green: conf.Pins.Green,
		Blue:  conf.Pins.Blue,
	})
	if err != nil {
		appLog.Error("failed to open GPIO pins, falling back to log driver", err,
			"red", conf.Pins.Red, "green", conf.Pins.Green, "blue", conf.Pins.Blue)
		return gpio.NewLogDriver()
	}
	return d
}

func listUpcoming(ctx context.Context, l lister, conf *config.Config) error {
	events, err := l.List(ctx, conf.CalendarID, time.Now().In(conf.Location()), 10)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No upcoming events found.")
		return nil
	}
	fmt.Println("Upcoming events:")
	for _, ev := range events {
		start := ev.Start.Format(time.RFC3339)
		if ev.AllDay {
			start = ev.Start.Format(time.DateOnly)
		}
		fmt.Printf("%s - %s\n", start, ev.Summary)
	}
	return nil
}
