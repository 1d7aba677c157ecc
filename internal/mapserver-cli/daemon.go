package mapservercli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	gohttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/hashicorp/go-multierror"
	"github.com/kabukky/httpscerts"

	"github.com/fzmap/mapserver/common/log"
	"github.com/fzmap/mapserver/internal/config"
	"github.com/fzmap/mapserver/internal/fs"
	"github.com/fzmap/mapserver/internal/http"
	"github.com/fzmap/mapserver/internal/mapserver"
	"github.com/fzmap/mapserver/internal/mapstore/boltdb"
	"github.com/fzmap/mapserver/internal/metrics"
	"github.com/fzmap/mapserver/internal/metrics/pprof"
)

const shutdownTimeout = 10 * time.Second

// recoveryLogger reports handler panics through the daemon logger.
type recoveryLogger struct {
	log log.Logger
}

func (r recoveryLogger) Println(v ...interface{}) {
	r.log.Errorw("handler panicked", "panic", fmt.Sprint(v...))
}

// runDaemon serves the producer API until ctx is done or the process is
// interrupted. ready, when set, is called with the bound address once
// requests are accepted.
//
//nolint:funlen
func runDaemon(ctx context.Context, conf *config.Config, l log.Logger, ready func(net.Addr)) (err error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	folder, err := fs.CreateSecureFolder(conf.Folder)
	if err != nil {
		return err
	}
	store, err := boltdb.NewStore(ctx, l, folder, nil)
	if err != nil {
		return fmt.Errorf("opening map database: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()
	metrics.StorageBackend.Set(1)

	opts, err := conf.ServerOptions(l)
	if err != nil {
		return err
	}
	core, err := mapserver.New(store, opts...)
	if err != nil {
		return err
	}
	l.Infow("map server configured", "mode", core.Mode(), "precision", conf.Precision, "folder", folder)

	if conf.Metrics != "" {
		if ml := metrics.Start(l, conf.Metrics, pprof.WithProfile()); ml != nil {
			defer ml.Close()
		}
	}

	api := http.New(core, l, http.WithProducerHeader(conf.ProducerHeader))
	var access io.Writer = os.Stdout
	if conf.AccessLog != "" {
		f, err := fs.OpenSecureFile(conf.AccessLog)
		if err != nil {
			return fmt.Errorf("failed to open access log: %w", err)
		}
		defer f.Close()
		access = f
	}
	handler := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{l.AddCallerSkip(1)}))(
		handlers.CombinedLoggingHandler(access, api.Handler()))

	if conf.SelfSigned && httpscerts.Check(conf.TLSCert, conf.TLSKey) != nil {
		host, _, err := net.SplitHostPort(conf.Listen)
		if err != nil {
			return err
		}
		if host == "" {
			host = "localhost"
		}
		l.Warnw("generating self signed certificate", "cert", conf.TLSCert, "host", host)
		if err := httpscerts.Generate(conf.TLSCert, conf.TLSKey, host); err != nil {
			return fmt.Errorf("generating certificate: %w", err)
		}
	}

	listener, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		return err
	}
	srv := &gohttp.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	served := make(chan error, 1)
	go func() {
		if conf.TLS() {
			served <- srv.ServeTLS(listener, conf.TLSCert, conf.TLSKey)
		} else {
			served <- srv.Serve(listener)
		}
	}()
	api.SetReady(true)
	l.Infow("producer API listening", "addr", listener.Addr(), "tls", conf.TLS())
	if ready != nil {
		ready(listener.Addr())
	}

	select {
	case <-ctx.Done():
		l.Infow("shutting down", "reason", ctx.Err())
	case err := <-served:
		return fmt.Errorf("producer API stopped: %w", err)
	}

	api.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-served; err != nil && !errors.Is(err, gohttp.ErrServerClosed) {
		return err
	}
	return nil
}
