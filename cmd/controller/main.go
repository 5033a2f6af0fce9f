package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/estuary/flow-controller/internal/activate"
	activatefake "github.com/estuary/flow-controller/internal/activate/fake"
	"github.com/estuary/flow-controller/internal/alerts"
	"github.com/estuary/flow-controller/internal/authz"
	"github.com/estuary/flow-controller/internal/discover"
	discoverfake "github.com/estuary/flow-controller/internal/discover/fake"
	"github.com/estuary/flow-controller/internal/executors"
	"github.com/estuary/flow-controller/internal/ids"
	"github.com/estuary/flow-controller/internal/publish"
	"github.com/estuary/flow-controller/internal/runloop"
	"github.com/estuary/flow-controller/internal/scheduler"
	"github.com/estuary/flow-controller/internal/store"
	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"
)

// serveConfig is the "serve controller" command: run the scheduler's
// worker pool against a SQLite-backed store until signaled to exit
// (§5), mirroring go/sql-driver's task.Group bootstrap.
type serveConfig struct {
	DBPath      string                `long:"db-path" env:"CONTROLLER_DB" default:"controller.db" description:"Path to the controller's SQLite database"`
	Workers     int                   `long:"workers" env:"CONTROLLER_WORKERS" default:"4" description:"Number of concurrent scheduler worker goroutines"`
	ShardID     uint64                `long:"shard-id" env:"CONTROLLER_SHARD_ID" default:"0" description:"Unique id of this controller process, for ID generation (0-1023)"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd serveConfig) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	db, err := store.Open(cmd.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	var clock = ids.SystemClock{}
	var idGen = ids.NewGenerator(clock, cmd.ShardID)

	var live = store.NewLiveSpecStore(db)
	var drafts = store.NewDraftStore(db, live)
	var jobs = store.NewControllerJobStore(db, clock)
	var pubs = store.NewPublicationStore(db)
	var alertStore = store.NewAlertStore(db, clock)
	var shardFailures = store.NewShardFailureStore(db, clock)

	oracle, err := authz.NewRoleOracle(authz.NewSQLGrantSource(db))
	if err != nil {
		return fmt.Errorf("constructing role oracle: %w", err)
	}

	var pipeline = &publish.Pipeline{
		Live:         live,
		Drafts:       drafts,
		Jobs:         jobs,
		Publications: pubs,
		Oracle:       oracle,
		IDs:          idGen,
		Clock:        clock,
	}

	// Connector invocation and data-plane activation are out-of-scope
	// RPC transports (§1, §6); the in-process fakes stand in until a
	// real transport is wired, matching discover/fake and activate/fake's
	// role in the test suite.
	var connector discover.Connector = discoverfake.New()
	var dataPlane activate.DataPlane = activatefake.New()

	var deps = executors.Deps{
		Live:          live,
		Drafts:        drafts,
		Publish:       pipeline,
		Publications:  pubs,
		Discover:      discover.New(connector),
		Activate:      activate.New(dataPlane),
		ShardFailures: shardFailures,
		Alerts:        &alerts.Rules{Alerts: alertStore},
		Clock:         clock,
	}

	var dispatcher = &scheduler.Dispatcher{
		Jobs:      jobs,
		Clock:     clock,
		Executors: executors.Registry(deps),
	}

	var tasks = task.NewGroup(context.Background())
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})

	runloop.Run(tasks, dispatcher, cmd.Workers)
	tasks.GoRun()

	mbp.Must(tasks.Wait(), "controller task failed")
	log.Info("goodbye")
	return nil
}

const iniFilename = "controller.ini"

func main() {
	var parser = flags.NewParser(nil, flags.Default)

	_, err := parser.AddCommand("serve", "Serve the controller engine", `
Serve the catalog controller engine: claim and reconcile due controller
jobs until signaled to exit (SIGTERM/SIGINT), mirroring the gazette
task.Group shutdown convention.
`, &serveConfig{})
	mbp.Must(err, "failed to add serve command")

	mbp.AddPrintConfigCmd(parser, iniFilename)

	if _, err = parser.Parse(); err == nil {
		// Success.
	} else if _, ok := err.(*flags.Error); ok {
		// go-flags already printed a usage notification.
	} else {
		log.Fatal(err)
	}
}
