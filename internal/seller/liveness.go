// ==================================
// File: internal/seller/liveness.go
// ==================================
package seller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// livenessServer answers platform health probes with a bare 200 while the
// poll loop is running.
type livenessServer struct {
	server *http.Server
	logger *zap.Logger
}

func newLivenessServer(port int, logger *zap.Logger) *livenessServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &livenessServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.Named("liveness"),
	}
}

// Serve blocks until the context is cancelled or the listener fails.
func (s *livenessServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Liveness endpoint up", zap.String("addr", s.server.Addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Liveness shutdown error", zap.Error(err))
		}
		return nil
	}
}
