package module

import (
	"context"

	"github.com/alexisbeaulieu97/zenify/internal/scope"
)

// Module is a declarative unit of registrations bound to a scope. A module's
// dependencies are registered and initialized strictly before it.
//
// Register must be synchronous and only touch the scope it is given. OnInit
// runs after every module of the installation registered, in dependency
// order; OnDispose runs in reverse order when the scope goes away.
type Module interface {
	Name() string
	Dependencies() []Module
	Register(s *scope.Scope) error
	OnInit(ctx context.Context, s *scope.Scope) error
	OnDispose(ctx context.Context, s *scope.Scope) error
}

// Func builds a Module from plain functions. Nil hooks are skipped.
type Func struct {
	ModuleName string
	DependsOn  []Module
	RegisterFn func(s *scope.Scope) error
	InitFn     func(ctx context.Context, s *scope.Scope) error
	DisposeFn  func(ctx context.Context, s *scope.Scope) error
}

func (m *Func) Name() string { return m.ModuleName }

func (m *Func) Dependencies() []Module { return m.DependsOn }

func (m *Func) Register(s *scope.Scope) error {
	if m.RegisterFn == nil {
		return nil
	}
	return m.RegisterFn(s)
}

func (m *Func) OnInit(ctx context.Context, s *scope.Scope) error {
	if m.InitFn == nil {
		return nil
	}
	return m.InitFn(ctx, s)
}

func (m *Func) OnDispose(ctx context.Context, s *scope.Scope) error {
	if m.DisposeFn == nil {
		return nil
	}
	return m.DisposeFn(ctx, s)
}

var _ Module = (*Func)(nil)
