// Command schedulerd is a demo harness for the scheduler core: it
// bootstraps a Scheduler, runs a small fleet of processes through
// create/resume/exit/reap and orphan-reaping flows, serves the
// introspection API, and drains the dispose queue at idle. It exists to
// exercise internal/sched end to end the way a real kernel's idle thread
// and init process would.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/notYuriy/cpl1-procsched/internal/auditlog"
	"github.com/notYuriy/cpl1-procsched/internal/debugserver"
	"github.com/notYuriy/cpl1-procsched/internal/env"
	"github.com/notYuriy/cpl1-procsched/internal/sched"
	"github.com/notYuriy/cpl1-procsched/pkg/fmtt"
)

func main() {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	log := zap.Must(logConfig.Build())
	defer log.Sync()
	log = log.Named("main")

	s := sched.NewDefaultScheduler(sched.NewZapKernelLog(log))

	if addr := env.RedisAddr(); addr != "" {
		pub := auditlog.NewPublisher(addr, 0, log)
		defer pub.Close()
		s.SetExitHook(func(p *sched.Process) {
			pub.PublishExit(context.Background(), uint64(p.Handle().Slot), uint64(p.ParentHandle().Slot), p.Handle().Generation, p.ReturnCode(), p.TerminatedNormally())
		})
	}

	if err := s.Init(); err != nil {
		fmtt.PrintErrChainDebug(err)
		log.Fatal("scheduler bootstrap failed", zap.Error(err))
	}
	log.Info("scheduler initialized", zap.Any("kernel_pid", s.KernelHandle()))

	dbg := debugserver.NewServer(s, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dbg.Run(env.DebugAddr())
	})

	g.Go(func() error {
		runDemoFleet(s, log)
		return nil
	})

	g.Go(func() error {
		return drainDisposeQueue(gctx, s, log)
	})

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = dbg.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil {
		log.Error("schedulerd exited with error", zap.Error(err))
	}
}

// drainDisposeQueue is the idle-time sweep that tears down fully-dead
// processes: it polls PollDisposeQueue until empty, then sleeps, forever,
// until ctx is cancelled.
func drainDisposeQueue(ctx context.Context, s *sched.Scheduler, log *zap.Logger) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for s.PollDisposeQueue() {
				log.Debug("disposed a process")
			}
		}
	}
}

// runDemoFleet exercises MakeNewProcess/Resume/Exit/WaitForChildTermination
// through a create-resume-yield-reap flow and an orphan-reaping flow,
// logging along the way.
func runDemoFleet(s *sched.Scheduler, log *zap.Logger) {
	kernel := s.KernelHandle()

	child, err := s.MakeNewProcess(kernel, func(self sched.ProcessHandle) {
		log.Info("child running", zap.Any("pid", self))
		s.Yield()
		s.Exit(42)
	})
	if err != nil {
		log.Error("failed to create demo child", zap.Error(err))
		return
	}
	s.Resume(child)

	zombie, err := s.WaitForChildTermination(false)
	if err != nil {
		log.Error("wait for child termination failed", zap.Error(err))
		return
	}
	if zombie != nil {
		log.Info("reaped child",
			zap.Any("pid", zombie.Handle()),
			zap.Int32("return_code", zombie.ReturnCode()),
		)
		s.Dispose(zombie)
	}

	runOrphanDemo(s, log)
}

// runOrphanDemo spawns a parent with one child, exits the parent first,
// and lets the child become unreapable: the child's exit must route
// straight to the dispose queue since its parent's pid is already
// unresolvable by then.
func runOrphanDemo(s *sched.Scheduler, log *zap.Logger) {
	kernel := s.KernelHandle()

	parent, err := s.MakeNewProcess(kernel, func(parentSelf sched.ProcessHandle) {
		child, err := s.MakeNewProcess(parentSelf, func(childSelf sched.ProcessHandle) {
			log.Info("grandchild running after parent exited", zap.Any("pid", childSelf))
			s.Exit(7)
		})
		if err != nil {
			log.Error("failed to create orphan demo grandchild", zap.Error(err))
			s.Exit(1)
			return
		}
		s.Resume(child)
		s.Exit(0)
	})
	if err != nil {
		log.Error("failed to create orphan demo parent", zap.Error(err))
		return
	}
	s.Resume(parent)

	reaped, err := s.WaitForChildTermination(false)
	if err != nil {
		log.Error("wait for orphan demo parent failed", zap.Error(err))
		return
	}
	if reaped != nil {
		log.Info("reaped orphan-demo parent", zap.Any("pid", reaped.Handle()))
		s.Dispose(reaped)
	}

	// The grandchild is still Running in the ring, parented to a pid
	// that's already unresolvable; one more yield lets it run to
	// completion, at which point its exit must route straight to the
	// dispose queue.
	s.Yield()
}
