// Package orchestrator drives the per-target backup lifecycle: a cron-driven
// one-shot timer, a finite-state pipeline executor with single-flight
// enforcement, and the staleness decision that skips redundant backups.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pgward/internal/catalog"
	"pgward/internal/codec"
	"pgward/internal/config"
	"pgward/internal/event"
	"pgward/internal/schedule"
	"pgward/internal/source"
)

// Codec compresses and decompresses dump files between pipeline stages.
type Codec interface {
	Compress(src, dest string, onProgress codec.Progress) error
	Decompress(src, dest string, onProgress codec.Progress) error
}

// Options configures optional orchestrator collaborators.
type Options struct {
	// Codec defaults to gzip at the default level.
	Codec Codec
	// ScratchDir defaults to the OS temp directory.
	ScratchDir string
	// Logger defaults to a disabled logger.
	Logger zerolog.Logger
}

// Orchestrator owns one target's schedule, state machine, and pipelines. It
// is created once at process start and lives for the process lifetime.
//
// At most one pipeline runs per target at any instant; a backup or restore
// invocation while one is in flight is a silent no-op. Pipelines run on their
// own goroutine, swallow every failure at their boundary, and always rearm
// the timer on exit.
type Orchestrator struct {
	cfg        config.TargetConfig
	sched      schedule.Schedule
	src        source.Source
	cat        *catalog.Catalog
	codec      Codec
	scratchDir string
	logger     zerolog.Logger

	// busy is the single-flight guard: the winner of the CAS owns the
	// pipeline until it releases the flag on exit.
	busy atomic.Bool

	timerMu sync.Mutex
	timer   *time.Timer

	msgMu   sync.Mutex
	lastMsg string

	state    *event.Value[State]
	progress *event.Value[float64]
	nextRun  *event.Value[time.Time]
	info     *event.Feed[string]
}

// New creates the orchestrator for one configured target. A malformed cron
// descriptor is a configuration error and fails construction.
func New(cfg config.TargetConfig, src source.Source, cat *catalog.Catalog, opts Options) (*Orchestrator, error) {
	sched, err := schedule.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: target %q: %w", cfg.Key, err)
	}

	c := opts.Codec
	if c == nil {
		c = codec.Gzip{}
	}
	scratch := opts.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}

	o := &Orchestrator{
		cfg:        cfg,
		sched:      sched,
		src:        src,
		cat:        cat,
		codec:      c,
		scratchDir: scratch,
		logger:     opts.Logger.With().Str("target", cfg.Key).Logger(),
		state:      event.NewValue[State](),
		progress:   event.NewValue[float64](),
		nextRun:    event.NewValue[time.Time](),
		info:       event.NewFeed[string](),
	}
	o.state.Publish(Scheduled)
	o.progress.Publish(0)
	return o, nil
}

// Start arms the timer for the first scheduled run.
func (o *Orchestrator) Start() {
	o.scheduleNext()
}

// Stop disarms the pending timer. An in-flight pipeline is never canceled;
// it will rearm the timer on exit, so Stop is only effective at shutdown.
func (o *Orchestrator) Stop() {
	o.disarmTimer()
}

// Key returns the target's stable key.
func (o *Orchestrator) Key() string {
	return o.cfg.Key
}

// Name returns the target's display name.
func (o *Orchestrator) Name() string {
	return o.cfg.TargetName()
}

// Catalog returns the target's backup catalog.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.cat
}

// State returns the current pipeline state.
func (o *Orchestrator) State() State {
	s, _ := o.state.Get()
	return s
}

// Progress returns the current stage progress in [0,100].
func (o *Orchestrator) Progress() float64 {
	p, _ := o.progress.Get()
	return p
}

// NextRun returns the next scheduled run instant, or the zero time before
// Start.
func (o *Orchestrator) NextRun() time.Time {
	t, _ := o.nextRun.Get()
	return t
}

// LastMessage returns the most recent info message. It is cleared at the
// start of every run and overwritten by the next skip or failure.
func (o *Orchestrator) LastMessage() string {
	o.msgMu.Lock()
	defer o.msgMu.Unlock()
	return o.lastMsg
}

// SubscribeState registers for state transitions; the current state is
// replayed on subscribe.
func (o *Orchestrator) SubscribeState() (<-chan State, func()) {
	return o.state.Subscribe()
}

// SubscribeProgress registers for progress updates; the current value is
// replayed on subscribe.
func (o *Orchestrator) SubscribeProgress() (<-chan float64, func()) {
	return o.progress.Subscribe()
}

// SubscribeNextRun registers for next-run updates; the current value is
// replayed on subscribe.
func (o *Orchestrator) SubscribeNextRun() (<-chan time.Time, func()) {
	return o.nextRun.Subscribe()
}

// SubscribeInfo registers for future info messages only.
func (o *Orchestrator) SubscribeInfo() (<-chan string, func()) {
	return o.info.Subscribe()
}

// ForceBackup starts a backup that bypasses the staleness check. It is a
// silent no-op while another pipeline is in flight.
func (o *Orchestrator) ForceBackup() {
	if !o.beginRun() {
		return
	}
	go o.runBackup(true)
}

// ForceRestore starts a restore of the cataloged backup with the given
// storage key. An unknown key is an error; a pipeline already in flight is a
// silent no-op.
func (o *Orchestrator) ForceRestore(storageKey string) error {
	rec, ok := o.cat.Get(storageKey)
	if !ok {
		return fmt.Errorf("orchestrator: target %q has no backup %q", o.cfg.Key, storageKey)
	}
	if !o.beginRun() {
		return nil
	}
	go o.runRestore(rec)
	return nil
}

// BackupNow runs one backup synchronously and returns its error. It serves
// one-shot invocations; unlike ForceBackup, a pipeline already in flight is
// reported as an error so the caller is never left guessing. When forced the
// staleness check is bypassed.
func (o *Orchestrator) BackupNow(ctx context.Context, forced bool) error {
	if !o.beginRun() {
		return fmt.Errorf("orchestrator: target %q already has a pipeline in flight", o.cfg.Key)
	}
	defer o.finishRun()
	return o.backup(ctx, forced)
}

// RestoreNow runs one restore synchronously and returns its error.
func (o *Orchestrator) RestoreNow(ctx context.Context, storageKey string) error {
	rec, ok := o.cat.Get(storageKey)
	if !ok {
		return fmt.Errorf("orchestrator: target %q has no backup %q", o.cfg.Key, storageKey)
	}
	if !o.beginRun() {
		return fmt.Errorf("orchestrator: target %q already has a pipeline in flight", o.cfg.Key)
	}
	defer o.finishRun()
	return o.restore(ctx, rec)
}

// beginRun is the atomic single-flight guard. The winner disarms the pending
// timer and clears the last info message; the loser backs off without side
// effects.
func (o *Orchestrator) beginRun() bool {
	if !o.busy.CompareAndSwap(false, true) {
		return false
	}
	o.disarmTimer()
	o.msgMu.Lock()
	o.lastMsg = ""
	o.msgMu.Unlock()
	return true
}

// onTimer is the timer callback; losing the race against a forced run is a
// no-op, the in-flight pipeline rearms on exit.
func (o *Orchestrator) onTimer() {
	if !o.beginRun() {
		return
	}
	o.runBackup(false)
}

// scheduleNext computes the next occurrence, rearms the one-shot timer, and
// publishes the new next-run instant immediately so displayed countdowns
// update before the timer fires. It is called after every pipeline
// completion, success, skip, or failure.
func (o *Orchestrator) scheduleNext() {
	now := time.Now()
	next := o.sched.Next(now)
	if next.IsZero() {
		// A valid descriptor always yields a next occurrence; not having
		// one is a fatal scheduling error, never a silent no-op.
		o.logger.Fatal().Str("schedule", o.sched.String()).Msg("cron descriptor yields no next occurrence")
	}

	o.timerMu.Lock()
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(next.Sub(now), o.onTimer)
	o.timerMu.Unlock()

	o.nextRun.Publish(next)
	o.logger.Debug().Time("next_run", next).Msg("next backup scheduled")
}

func (o *Orchestrator) disarmTimer() {
	o.timerMu.Lock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.timerMu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.state.Publish(s)
}

func (o *Orchestrator) setProgress(p float64) {
	o.progress.Publish(p)
}

func (o *Orchestrator) publishInfo(msg string) {
	o.msgMu.Lock()
	o.lastMsg = msg
	o.msgMu.Unlock()
	o.info.Publish(msg)
}

// runBackup executes one backup pipeline. Failures never escape: they are
// logged, published on the info stream, and the target returns to Scheduled
// with the timer rearmed.
func (o *Orchestrator) runBackup(forced bool) {
	defer o.finishRun()
	if err := o.backup(context.Background(), forced); err != nil {
		o.logger.Error().Err(err).Msg("backup failed")
		o.publishInfo(fmt.Sprintf("backup failed: %v", err))
	}
}

// runRestore executes one restore pipeline with the same failure policy as
// runBackup.
func (o *Orchestrator) runRestore(rec catalog.Record) {
	defer o.finishRun()
	if err := o.restore(context.Background(), rec); err != nil {
		o.logger.Error().Err(err).Str("object", rec.StorageKey).Msg("restore failed")
		o.publishInfo(fmt.Sprintf("restore failed: %v", err))
	}
}

// finishRun runs on every pipeline exit path: back to Scheduled, rearm the
// timer, release the single-flight guard. The timer is rearmed before the
// guard drops so the next winner always finds it armed and disarms it in
// beginRun.
func (o *Orchestrator) finishRun() {
	o.setState(Scheduled)
	o.scheduleNext()
	o.busy.Store(false)
}

func (o *Orchestrator) backup(ctx context.Context, forced bool) error {
	tNow, err := o.src.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("query source clock: %w", err)
	}

	if o.cfg.CheckForUpdate && !forced {
		tMod, err := o.src.LastModified(ctx)
		if err != nil {
			return fmt.Errorf("query last modification: %w", err)
		}
		// Both instants come from the source's own clock, so the comparison
		// is immune to drift between the source and this host.
		if o.cat.HasMoreRecentThan(tMod) {
			o.logger.Info().Time("last_modified", tMod).Msg("backup skipped, catalog is current")
			o.publishInfo("no changes since last backup")
			return nil
		}
	}

	runDir, err := o.newScratchDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(runDir)

	dumpPath := filepath.Join(runDir, "dump.sql")
	o.setState(BackingUp)
	o.setProgress(0)
	err = o.src.Dump(ctx, dumpPath, func(current, total int64) {
		o.setProgress(percentOf(current, total))
	})
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	o.setProgress(100)

	gzPath := dumpPath + ".gz"
	o.setState(Compressing)
	o.setProgress(0)
	err = o.codec.Compress(dumpPath, gzPath, func(processed, total int64) {
		o.setProgress(percentOf(processed, total))
	})
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	o.setProgress(100)

	o.setState(UploadingToStorage)
	rec, err := o.cat.Add(ctx, gzPath, tNow)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	o.setProgress(100)

	o.logger.Info().
		Str("object", rec.StorageKey).
		Int64("size_bytes", rec.SizeBytes).
		Time("source_time", rec.Timestamp).
		Msg("backup complete")
	return nil
}

func (o *Orchestrator) restore(ctx context.Context, rec catalog.Record) error {
	runDir, err := o.newScratchDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(runDir)

	gzPath := filepath.Join(runDir, "backup.sql.gz")
	o.setState(DownloadingFromStorage)
	o.setProgress(0)
	if err := o.cat.Retrieve(ctx, rec, gzPath); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	o.setProgress(100)

	sqlPath := filepath.Join(runDir, "restore.sql")
	o.setState(Decompressing)
	o.setProgress(0)
	err = o.codec.Decompress(gzPath, sqlPath, func(processed, total int64) {
		o.setProgress(percentOf(processed, total))
	})
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	o.setProgress(100)

	o.setState(Restoring)
	o.setProgress(0)
	err = o.src.Restore(ctx, sqlPath, func(percent float64) {
		// The source reports percent-complete natively; no rescaling.
		o.setProgress(min(max(percent, 0), 100))
	})
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	o.setProgress(100)

	o.logger.Info().Str("object", rec.StorageKey).Msg("restore complete")
	return nil
}

// newScratchDir creates a per-run scratch directory; the caller removes it on
// every exit path.
func (o *Orchestrator) newScratchDir() (string, error) {
	dir := filepath.Join(o.scratchDir, "pgward-"+o.cfg.Key+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// percentOf scales current/total to [0,100]. A zero or unknown total reports
// zero rather than dividing by it; a total that turns out to be an
// underestimate caps at 100.
func percentOf(current, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := 100 * float64(current) / float64(total)
	if p > 100 {
		return 100
	}
	return p
}
