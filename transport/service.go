package transport

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/fuse/utils"
)

// NewServiceNotFoundError is returned when calling a service nobody advertises.
func NewServiceNotFoundError(name string) error {
	return &serviceNotFound{name: name}
}

// IsServiceNotFoundError reports whether err came from calling a missing service.
func IsServiceNotFoundError(err error) bool {
	var target *serviceNotFound
	return errors.As(err, &target)
}

type serviceNotFound struct {
	name string
}

func (e *serviceNotFound) Error() string {
	return fmt.Sprintf("service %q is not advertised", e.name)
}

// A Service is an advertised request handler.
type Service struct {
	bus     *Bus
	name    string
	handler func(ctx context.Context, req interface{}) (interface{}, error)
}

// Name returns the advertised name.
func (s *Service) Name() string {
	return s.name
}

// Unadvertise removes the service from the bus. Calls already in progress finish normally.
func (s *Service) Unadvertise() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.bus.services[s.name] == s {
		delete(s.bus.services, s.name)
	}
}

// Advertise registers handler under name. Only one service may be advertised per name.
func Advertise[Req, Resp any](bus *Bus, name string, handler func(ctx context.Context, req Req) (Resp, error)) (*Service, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	svc := &Service{
		bus:  bus,
		name: name,
		handler: func(ctx context.Context, req interface{}) (interface{}, error) {
			typed, ok := req.(Req)
			if !ok {
				return nil, errors.Wrapf(utils.NewUnexpectedTypeError(typed, req), "service %q", name)
			}
			return handler(ctx, typed)
		},
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if _, ok := bus.services[name]; ok {
		return nil, errors.Errorf("service %q is already advertised", name)
	}
	bus.services[name] = svc
	return svc, nil
}

// Call invokes the service on the calling goroutine and returns its response.
func Call[Req, Resp any](ctx context.Context, bus *Bus, name string, req Req) (Resp, error) {
	var zero Resp
	if name == "" {
		return zero, ErrEmptyName
	}
	bus.mu.RLock()
	svc, ok := bus.services[name]
	bus.mu.RUnlock()
	if !ok {
		return zero, NewServiceNotFoundError(name)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	resp, err := svc.handler(ctx, req)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(Resp)
	if !ok {
		return zero, errors.Wrapf(utils.NewUnexpectedTypeError(zero, resp), "service %q response", name)
	}
	return typed, nil
}
