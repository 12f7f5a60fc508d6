package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lerndmina/Heimdall-sub000/internal/plugins"
)

// pluginService loads every plugin on Start and unloads them in reverse
// order on Shutdown.
type pluginService struct {
	runtime *plugins.Runtime
}

func (s *pluginService) Start(ctx context.Context) error {
	return s.runtime.LoadAll(ctx)
}

func (s *pluginService) Shutdown(ctx context.Context) error {
	s.runtime.UnloadAll(ctx)
	return nil
}

const readHeaderTimeout = 10 * time.Second

// httpService serves the API router. Serve failures after startup surface
// on Errors.
type httpService struct {
	addr    string
	handler http.Handler
	logger  *log.Logger

	mu     sync.Mutex
	server *http.Server
	bound  string
	errs   chan error
}

func newHTTPService(addr string, handler http.Handler, logger *log.Logger) *httpService {
	return &httpService{
		addr:    addr,
		handler: handler,
		logger:  logger,
		errs:    make(chan error, 1),
	}
}

func (s *httpService) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          s.logger,
	}

	s.mu.Lock()
	s.server = srv
	s.bound = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errs <- err:
			default:
			}
		}
	}()
	return nil
}

func (s *httpService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *httpService) Errors() <-chan error {
	return s.errs
}

// Addr returns the bound address, or the configured one before Start.
func (s *httpService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.addr
}
