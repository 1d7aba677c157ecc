// Package mapservercli is the command line of the map server daemon.
package mapservercli

import (
	"fmt"
	"io"
	"os"
	"time"

	json "github.com/nikkolasg/hexjson"
	"github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/fzmap/mapserver/common"
	"github.com/fzmap/mapserver/common/log"
	"github.com/fzmap/mapserver/internal/config"
	"github.com/fzmap/mapserver/internal/mapserver"
	"github.com/fzmap/mapserver/internal/mapstore/boltdb"
)

// default output of the operational commands, the daemon logs through its
// own logger.
var output io.Writer = os.Stdout

func banner() {
	fmt.Fprintf(output, "mapserver %s (date %s, commit %s)\n",
		common.GetAppVersion(), common.BUILDDATE, common.COMMIT)
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "TOML configuration file. Flags override its values.",
	EnvVars: []string{"MAPSERVER_CONFIG"},
}

var folderFlag = &cli.StringFlag{
	Name:    "folder",
	Usage:   "Folder keeping the map database.",
	EnvVars: []string{"MAPSERVER_FOLDER"},
}

var modeFlag = &cli.StringFlag{
	Name:    "mode",
	Usage:   "Protocol mode, secure or bypass. Bypass enables plaintext access and is meant for evaluation only.",
	EnvVars: []string{"MAPSERVER_MODE"},
}

var precisionFlag = &cli.Int64Flag{
	Name:    "precision",
	Usage:   "Bound of the random offsets masking stored values.",
	EnvVars: []string{"MAPSERVER_PRECISION", "FZ_PRECISION"},
}

var listenFlag = &cli.StringFlag{
	Name:    "listen",
	Usage:   "host:port the producer API binds to.",
	EnvVars: []string{"MAPSERVER_LISTEN"},
}

var metricsFlag = &cli.StringFlag{
	Name:    "metrics",
	Usage:   "Launch a metrics server at the specified (host:)port.",
	EnvVars: []string{"MAPSERVER_METRICS"},
}

var tlsCertFlag = &cli.StringFlag{
	Name:    "tls-cert",
	Usage:   "TLS certificate chain (PEM) of the producer API.",
	EnvVars: []string{"MAPSERVER_TLS_CERT"},
}

var tlsKeyFlag = &cli.StringFlag{
	Name:    "tls-key",
	Usage:   "TLS private key (PEM) of the producer API.",
	EnvVars: []string{"MAPSERVER_TLS_KEY"},
}

var selfSignedFlag = &cli.BoolFlag{
	Name:    "tls-self-signed",
	Usage:   "Generate a self signed certificate at --tls-cert and --tls-key when none exists.",
	EnvVars: []string{"MAPSERVER_TLS_SELF_SIGNED"},
}

var producerHeaderFlag = &cli.StringFlag{
	Name:    "producer-header",
	Usage:   "Header set by the authenticating proxy to the producer identity.",
	EnvVars: []string{"MAPSERVER_PRODUCER_HEADER"},
}

var accessLogFlag = &cli.StringFlag{
	Name:    "access-log",
	Usage:   "File to log http accesses to, stdout by default.",
	EnvVars: []string{"MAPSERVER_ACCESS_LOG"},
}

var jsonFlag = &cli.BoolFlag{
	Name:    "json",
	Usage:   "Log in JSON.",
	EnvVars: []string{"MAPSERVER_JSON_LOGS"},
}

var verboseFlag = &cli.BoolFlag{
	Name:    "verbose",
	Usage:   "If set, verbosity is at the debug level",
	EnvVars: []string{"MAPSERVER_VERBOSE"},
}

var clientFlag = &cli.StringFlag{
	Name:  "client",
	Usage: "Only list the records billed to this producer.",
}

// CLI returns the command line application.
func CLI() *cli.App {
	app := cli.NewApp()
	app.Name = "mapserver"
	app.Usage = "privacy preserving exchange of machining process maps"
	app.Version = common.GetAppVersion().String()
	app.Writer = output
	cli.VersionPrinter = func(c *cli.Context) {
		banner()
	}

	daemonFlags := toArray(configFlag, folderFlag, modeFlag, precisionFlag, listenFlag, metricsFlag,
		tlsCertFlag, tlsKeyFlag, selfSignedFlag, producerHeaderFlag, accessLogFlag, jsonFlag, verboseFlag)

	app.Commands = []*cli.Command{
		{
			Name:  "start",
			Usage: "Start the map server daemon.",
			Flags: daemonFlags,
			Action: func(c *cli.Context) error {
				banner()
				return startCmd(c)
			},
		},
		{
			Name:  "check-config",
			Usage: "Validate the configuration and print it with defaults filled in.",
			Flags: daemonFlags,
			Action: func(c *cli.Context) error {
				conf, err := contextToConfig(c)
				if err != nil {
					return err
				}
				return conf.Write(output)
			},
		},
		{
			Name:  "audit",
			Usage: "List the billing records of the map database, one JSON object per line.",
			Flags: toArray(configFlag, folderFlag, clientFlag),
			Action: func(c *cli.Context) error {
				return auditCmd(c)
			},
		},
		{
			Name:  "version",
			Usage: "Print the version.",
			Action: func(c *cli.Context) error {
				banner()
				return nil
			},
		},
	}
	return app
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

// contextToConfig reads the configuration file, when given, and applies the
// flags set on top of it.
func contextToConfig(c *cli.Context) (*config.Config, error) {
	conf := config.Default()
	if c.IsSet(configFlag.Name) {
		var err error
		if conf, err = config.Load(c.String(configFlag.Name)); err != nil {
			return nil, err
		}
	}

	if c.IsSet(folderFlag.Name) {
		conf.Folder = c.String(folderFlag.Name)
	}
	if c.IsSet(modeFlag.Name) {
		conf.Mode = c.String(modeFlag.Name)
	}
	if c.IsSet(precisionFlag.Name) {
		conf.Precision = c.Int64(precisionFlag.Name)
	}
	if c.IsSet(listenFlag.Name) {
		conf.Listen = c.String(listenFlag.Name)
	}
	if c.IsSet(metricsFlag.Name) {
		conf.Metrics = c.String(metricsFlag.Name)
	}
	if c.IsSet(tlsCertFlag.Name) {
		conf.TLSCert = c.String(tlsCertFlag.Name)
	}
	if c.IsSet(tlsKeyFlag.Name) {
		conf.TLSKey = c.String(tlsKeyFlag.Name)
	}
	if c.IsSet(selfSignedFlag.Name) {
		conf.SelfSigned = c.Bool(selfSignedFlag.Name)
	}
	if c.IsSet(producerHeaderFlag.Name) {
		conf.ProducerHeader = c.String(producerHeaderFlag.Name)
	}
	if c.IsSet(accessLogFlag.Name) {
		conf.AccessLog = c.String(accessLogFlag.Name)
	}
	if c.IsSet(jsonFlag.Name) {
		conf.JSONLogs = c.Bool(jsonFlag.Name)
	}
	if c.IsSet(verboseFlag.Name) {
		conf.Verbose = c.Bool(verboseFlag.Name)
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}

func startCmd(c *cli.Context) error {
	conf, err := contextToConfig(c)
	if err != nil {
		return err
	}
	log.ConfigureDefaultLogger(nil, conf.LogLevel(), conf.JSONLogs)
	return runDaemon(c.Context, conf, log.DefaultLogger(), nil)
}

// auditCmd prints the billing records. The database is locked while a
// daemon runs on it, so the command gives up after a short wait.
func auditCmd(c *cli.Context) error {
	folder := config.Default().Folder
	if c.IsSet(configFlag.Name) {
		conf, err := config.Load(c.String(configFlag.Name))
		if err != nil {
			return err
		}
		folder = conf.Folder
	}
	if c.IsSet(folderFlag.Name) {
		folder = c.String(folderFlag.Name)
	}

	l := log.New(nil, log.WarnLevel, false)
	store, err := boltdb.NewStore(c.Context, l, folder, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("opening map database in %s: %w", folder, err)
	}
	defer store.Close()

	srv, err := mapserver.New(store, mapserver.WithLogger(l))
	if err != nil {
		return err
	}
	bills, err := srv.Billings(c.Context, c.String(clientFlag.Name))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(output)
	for _, b := range bills {
		if err := enc.Encode(b); err != nil {
			return err
		}
	}
	return nil
}
