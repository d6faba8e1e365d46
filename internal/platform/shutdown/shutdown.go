package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
)

// NotifyContext is canceled on the first SIGINT or SIGTERM so in-flight synthesis calls can drain.
// A second signal exits immediately.
func NotifyContext(parent context.Context, log *logger.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			if log != nil {
				log.Info("shutdown requested", "signal", sig.String())
			}
			cancel()
		case <-ctx.Done():
			signal.Stop(sigs)
			return
		}
		select {
		case sig := <-sigs:
			if log != nil {
				log.Warn("second signal; exiting without drain", "signal", sig.String())
			}
			os.Exit(1)
		case <-parent.Done():
		}
		signal.Stop(sigs)
	}()

	return ctx, func() {
		cancel()
		signal.Stop(sigs)
	}
}
