package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/patient-queue/internal/config"
	"qms/patient-queue/internal/logging"
	"qms/patient-queue/internal/models"
	"qms/patient-queue/internal/syncclient"

	"github.com/docopt/docopt-go"
)

const QueueCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime)
}

func main() {
	usage := `Queue control.

The server url defaults to QUEUE_URL, then http://localhost:8080.

Usage:
    queuectl create [--url=<url>] <name> --doctor=<doctor> --service=<service>
        [--other=<detail>] [--urgent]
    queuectl call [--url=<url>] <id> [--by=<doctor>] [--room=<room>]
    queuectl recall [--url=<url>] <id> [--by=<doctor>] [--room=<room>]
    queuectl finish [--url=<url>] <id>
    queuectl remove [--url=<url>] <id>
    queuectl clear [--url=<url>]
    queuectl list [--url=<url>]
    queuectl history [--url=<url>] [--viewer=<viewer>] [--doctor=<doctor>] [--hide]
    queuectl doctors [--url=<url>]
    queuectl watch [--url=<url>] [--doctor=<doctor>] [--mode=<mode>]
        [--transport=<transport>] [--poll]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --url=<url>                Queue server base url.
    --doctor=<doctor>          Doctor name.
    --service=<service>        Service label. "Outro" takes --other as detail.
    --other=<detail>           Free-text service detail.
    --urgent                   Put the patient ahead of normal entries.
    --by=<doctor>              Doctor placing the call.
    --room=<room>              Room announced with the call.
    --viewer=<viewer>          Viewer whose hidden calls are filtered.
    --hide                     Hide the listed calls for --viewer.
    --mode=<mode>              called or waiting [default: called].
    --transport=<transport>    websocket, sse or polling.
    --poll                     Never open a push connection.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], QueueCtlVersion)
	if err != nil {
		panic(err)
	}

	cfg := config.LoadClient()
	if url, _ := opts.String("--url"); url != "" {
		cfg.BaseURL = url
	}
	ctl := &queueCtl{
		api:  syncclient.NewAPI(cfg.BaseURL, 0),
		cfg:  cfg,
		opts: opts,
	}

	commands := []struct {
		name string
		run  func(context.Context) error
	}{
		{"create", ctl.create},
		{"call", ctl.call},
		{"recall", ctl.recall},
		{"finish", ctl.finish},
		{"remove", ctl.remove},
		{"clear", ctl.clear},
		{"list", ctl.list},
		{"history", ctl.history},
		{"doctors", ctl.doctors},
		{"watch", ctl.watch},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, command := range commands {
		if selected, _ := opts.Bool(command.name); selected {
			if err := command.run(ctx); err != nil {
				Err.Printf("%s: %v", command.name, err)
				os.Exit(1)
			}
			return
		}
	}
}

type queueCtl struct {
	api  *syncclient.API
	cfg  config.ClientConfig
	opts docopt.Opts
}

func (c *queueCtl) str(key string) string {
	value, _ := c.opts.String(key)
	return value
}

func (c *queueCtl) flag(key string) bool {
	value, _ := c.opts.Bool(key)
	return value
}

func (c *queueCtl) create(ctx context.Context) error {
	patient, err := c.api.CreatePatient(ctx, syncclient.CreatePatientRequest{
		Name:         c.str("<name>"),
		Doctor:       c.str("--doctor"),
		Service:      c.str("--service"),
		OtherService: c.str("--other"),
		Urgency:      c.flag("--urgent"),
	})
	if err != nil {
		return err
	}
	Out.Println(formatPatient(patient))
	return nil
}

func (c *queueCtl) callRequest() syncclient.CallRequest {
	return syncclient.CallRequest{By: c.str("--by"), Room: c.str("--room")}
}

func (c *queueCtl) call(ctx context.Context) error {
	patient, err := c.api.Call(ctx, c.str("<id>"), c.callRequest())
	if err != nil {
		return err
	}
	Out.Println(formatPatient(patient))
	return nil
}

func (c *queueCtl) recall(ctx context.Context) error {
	patient, err := c.api.Recall(ctx, c.str("<id>"), c.callRequest())
	if err != nil {
		return err
	}
	Out.Println(formatPatient(patient))
	return nil
}

func (c *queueCtl) finish(ctx context.Context) error {
	patient, err := c.api.Finish(ctx, c.str("<id>"))
	if err != nil {
		return err
	}
	Out.Println(formatPatient(patient))
	return nil
}

func (c *queueCtl) remove(ctx context.Context) error {
	id := c.str("<id>")
	if err := c.api.Remove(ctx, id); err != nil {
		return err
	}
	Out.Printf("removed %s", id)
	return nil
}

func (c *queueCtl) clear(ctx context.Context) error {
	removed, err := c.api.Clear(ctx)
	if err != nil {
		return err
	}
	Out.Printf("removed %d patients", removed)
	return nil
}

func (c *queueCtl) list(ctx context.Context) error {
	snapshot, err := c.api.Queue(ctx)
	if err != nil {
		return err
	}
	Out.Printf("seq %d", snapshot.Seq)
	for _, patient := range syncclient.OrderWaiting(filterStatus(snapshot.Patients, models.StatusWaiting)) {
		Out.Println(formatPatient(patient))
	}
	for _, patient := range syncclient.OrderCalled(filterStatus(snapshot.Patients, models.StatusCalled)) {
		Out.Println(formatPatient(patient))
	}
	return nil
}

func (c *queueCtl) history(ctx context.Context) error {
	viewer := c.str("--viewer")
	if viewer == "" {
		viewer = c.cfg.Viewer
	}
	doctor := c.str("--doctor")
	if c.flag("--hide") {
		hidden, err := c.api.HideHistory(ctx, viewer, doctor)
		if err != nil {
			return err
		}
		Out.Printf("hid %d calls for %s", hidden, viewer)
		return nil
	}
	calls, err := c.api.History(ctx, viewer, doctor)
	if err != nil {
		return err
	}
	for _, call := range calls {
		Out.Println(formatCall(call))
	}
	return nil
}

func (c *queueCtl) doctors(ctx context.Context) error {
	doctors, err := c.api.Doctors(ctx)
	if err != nil {
		return err
	}
	for _, doctor := range doctors {
		room := doctor.Room
		if room == "" {
			room = "-"
		}
		Out.Printf("%-24s room %s", doctor.Name, room)
	}
	return nil
}

// watch follows the queue until interrupted, printing every view change.
func (c *queueCtl) watch(ctx context.Context) error {
	transport := c.str("--transport")
	if transport == "" {
		transport = c.cfg.Transport
	}
	logger, err := logging.New("warn", "console", "queuectl")
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := syncclient.New(syncclient.Options{
		BaseURL:           c.cfg.BaseURL,
		Transport:         transport,
		PollInterval:      c.cfg.PollInterval,
		PushRetryInterval: c.cfg.PushRetryInterval,
		MaxFailures:       c.cfg.MaxFailures,
		PushDisabled:      c.cfg.PushDisabled || c.flag("--poll"),
		Scope: syncclient.Scope{
			Doctor: c.str("--doctor"),
			Mode:   syncclient.Mode(c.str("--mode")),
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	unsubscribe := client.Adapter.Subscribe(func(view syncclient.View) {
		Out.Println(formatView(view, time.Now()))
	})
	defer unsubscribe()

	client.Start(ctx)
	<-ctx.Done()
	client.Stop()
	return nil
}
