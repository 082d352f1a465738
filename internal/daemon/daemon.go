// Package daemon hosts the message dispatcher behind a Unix socket and an inbox directory.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/herald/internal/events"
	"github.com/msageha/herald/internal/lock"
	"github.com/msageha/herald/internal/loop"
	"github.com/msageha/herald/internal/messages"
	"github.com/msageha/herald/internal/model"
	"github.com/msageha/herald/internal/uds"
)

// Daemon is the herald daemon process.
type Daemon struct {
	rootDir   string
	config    model.Config
	logLevel  model.LogLevel
	logger    *log.Logger
	logFile   io.Closer
	startedAt time.Time

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	loop       *loop.Loop
	dispatcher *messages.Dispatcher
	delegate   messages.Delegate
	bus        *events.Bus
	audit      *events.AuditLogger
	metrics    *metricsCollector
	inbox      *inboxProcessor

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a new Daemon instance logging to <rootDir>/logs/daemon.log.
func New(rootDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(rootDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(rootDir, cfg, logFile, logFile)
}

// newDaemon takes the log sink so tests can capture it.
func newDaemon(rootDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	socketPath := filepath.Join(rootDir, uds.DefaultSocketName)
	logger := log.New(w, "", 0)
	level := model.ParseLogLevel(cfg.Logging.Level)

	d := &Daemon{
		rootDir:  rootDir,
		config:   cfg,
		logLevel: level,
		logger:   logger,
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(rootDir, "locks", "daemon.lock")),
		ticker:   time.NewTicker(time.Duration(cfg.Daemon.FlushIntervalSec) * time.Second),
		loop:     loop.New(logger),
		bus:      events.NewBus(cfg.Daemon.EventBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	d.server = uds.NewServer(socketPath, uds.WithErrorLog(func(format string, args ...any) {
		d.log(model.LogLevelWarn, "uds: "+format, args...)
	}))
	d.metrics = newMetricsCollector()
	d.inbox = newInboxProcessor(d)
	return d, nil
}

// SetDelegate overrides the delegate built from config. Must be called before Run().
func (d *Daemon) SetDelegate(del messages.Delegate) {
	d.delegate = del
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// start brings every component up without waiting for signals.
func (d *Daemon) start() error {
	// Step 1: Single instance per directory
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.startedAt = time.Now().UTC()
	d.log(model.LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	// Step 2: Wire the message system onto the main loop
	if d.delegate == nil {
		del, err := buildDelegate(d.config.Delegate, os.Stdout, d.logger)
		if err != nil {
			d.fileLock.Unlock()
			return err
		}
		d.delegate = del
	}
	d.dispatcher = messages.NewDispatcher(d.delegate, d.loop, d.config.Messages,
		d.logger, model.ParseLogLevel(d.config.Logging.Level))
	d.dispatcher.SetEventBus(d.bus)
	d.metrics.attach(d.bus)
	if d.config.Audit.Enabled {
		if err := d.openAudit(); err != nil {
			d.fileLock.Unlock()
			return err
		}
	}
	d.loop.Start()

	// Step 3: Restore the previous queue
	if d.config.Daemon.RestoreOnStart {
		if err := d.restoreSnapshot(); err != nil {
			d.log(model.LogLevelWarn, "restore snapshot: %v", err)
		}
	}

	// Step 4: Watch the inbox
	inboxDir := filepath.Join(d.rootDir, "inbox")
	if d.config.Inbox.Enabled {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			d.cleanup()
			return fmt.Errorf("create fsnotify watcher: %w", err)
		}
		d.watcher = watcher
		if err := os.MkdirAll(inboxDir, 0755); err != nil {
			d.cleanup()
			return fmt.Errorf("ensure dir %s: %w", inboxDir, err)
		}
		if err := watcher.Add(inboxDir); err != nil {
			d.cleanup()
			return fmt.Errorf("watch %s: %w", inboxDir, err)
		}
	}

	// Step 5: Register UDS handlers and start the server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(model.LogLevelInfo, "UDS server listening on %s", filepath.Join(d.rootDir, uds.DefaultSocketName))

	// Step 6: Watcher and flush goroutines
	if d.watcher != nil {
		d.wg.Add(1)
		go d.fsnotifyLoop()
	}
	d.wg.Add(1)
	go d.tickerLoop()

	// Step 7: Pick up files dropped while the daemon was down
	if d.config.Inbox.Enabled {
		d.inbox.Scan()
	}
	d.log(model.LogLevelInfo, "daemon ready")
	return nil
}

func (d *Daemon) openAudit() error {
	path := filepath.Join(d.rootDir, "logs", "audit"+events.LogFileExtension)
	audit, err := events.OpenAuditLog(path,
		events.WithMaxSize(d.config.Audit.MaxSizeBytes),
		events.WithChecksums(d.config.Audit.EnableChecksum),
	)
	if err != nil {
		return err
	}
	audit.Attach(d.bus, func(err error) {
		d.log(model.LogLevelWarn, "audit write: %v", err)
	})
	d.audit = audit
	return nil
}

// onLoop runs fn on the main loop and waits for it.
func (d *Daemon) onLoop(ctx context.Context, fn func()) error {
	return d.loop.Do(ctx, fn)
}

// fsnotifyLoop processes inbox change events.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.log(model.LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				d.inbox.HandleFileEvent(event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(model.LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// tickerLoop flushes state files at the configured interval.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.log(model.LogLevelDebug, "periodic flush triggered")
			if err := d.flushState(d.ctx); err != nil {
				d.log(model.LogLevelWarn, "flush state: %v", err)
			}
		}
	}
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log(model.LogLevelInfo, "signal=%s, shutting down", sig)
	case <-d.ctx.Done():
		// shutdown requested over the socket
	}

	// a second signal skips the graceful path
	go func() {
		<-sigCh
		d.log(model.LogLevelWarn, "second signal, exiting now")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown stops the daemon. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(model.LogLevelInfo, "shutdown begin")

		// 1. Cancel the daemon context
		d.cancel()

		// 2. Stop producers
		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		d.inbox.Stop()
		if d.server != nil {
			d.server.Stop()
		}

		timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// 3. Persist the queue for restore_on_start, then tear every message down
		if d.dispatcher != nil {
			if err := d.flushState(ctx); err != nil {
				d.log(model.LogLevelWarn, "final flush: %v", err)
			}
			err := d.onLoop(ctx, func() {
				d.dispatcher.DismissAllMessages(model.DismissWindowDestroyed)
				d.dispatcher.Close()
			})
			if err != nil {
				d.log(model.LogLevelWarn, "dismiss all on shutdown: %v", err)
			}
		}
		d.loop.Close()

		// 4. Wait for watcher and ticker goroutines
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(model.LogLevelInfo, "background loops stopped")
		case <-ctx.Done():
			d.log(model.LogLevelWarn, "background loops still running after %s", timeout)
		}

		// 5. Cleanup
		d.cleanup()
		d.log(model.LogLevelInfo, "daemon stopped")
	})
}

// cleanup is shared by Shutdown and failed starts.
func (d *Daemon) cleanup() {
	socketPath := filepath.Join(d.rootDir, uds.DefaultSocketName)
	os.Remove(socketPath)
	d.loop.Close()
	d.bus.Close()
	if d.audit != nil {
		d.audit.Close()
	}
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level model.LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), level, msg)
}
