package run

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/ipcam/streamworker/internal/lifecycle"
	"github.com/ipcam/streamworker/internal/logger"
)

const restartTimeout = 15 * time.Second

// supervise maps process signals onto the lifecycle word: SIGINT and
// SIGTERM stop capturing and shut the controller down, SIGHUP restarts it.
func supervise(ctx context.Context, sig *lifecycle.Signal, signals <-chan os.Signal, log logger.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-signals:
			switch s {
			case syscall.SIGHUP:
				log.Info("restart requested", logger.String("signal", s.String()))
				rctx, cancel := context.WithTimeout(ctx, restartTimeout)
				err := lifecycle.Restart(rctx, sig)
				cancel()
				if err != nil {
					log.Warn("restart did not complete", logger.Error(err))
				}
			default:
				log.Info("shutdown requested", logger.String("signal", s.String()))
				lifecycle.RequestStop(sig)
				lifecycle.RequestShutdown(sig)
				return nil
			}
		}
	}
}
