// Package middleware provides HTTP middleware and request-scoped resolution
// helpers for the cvdd command endpoint.
package middleware

import (
	"context"

	"github.com/cvdhost/cvdd/lib/instancedb"
	"github.com/cvdhost/cvdd/lib/logger"
	"github.com/cvdhost/cvdd/lib/selector"
)

// resolvedGroupKey and resolvedInstanceKey store the group/instance a command
// handler resolved from its envelope fields, the way the REST-routed
// predecessor of this package stashed a path-resolved resource in context.
// Every cvdd command multiplexes through one endpoint rather than one route
// per resource, so resolution happens once per handler invocation instead of
// in chi middleware ahead of routing.
type resolvedGroupKey struct{}
type resolvedInstanceKey struct{}

// WithResolvedGroup returns a context carrying the resolved group.
func WithResolvedGroup(ctx context.Context, g instancedb.Group) context.Context {
	return context.WithValue(ctx, resolvedGroupKey{}, g)
}

// ResolvedGroupFromContext retrieves a group stashed by WithResolvedGroup.
func ResolvedGroupFromContext(ctx context.Context) (instancedb.Group, bool) {
	g, ok := ctx.Value(resolvedGroupKey{}).(instancedb.Group)
	return g, ok
}

// WithResolvedInstance returns a context carrying the resolved instance.
func WithResolvedInstance(ctx context.Context, inst instancedb.Instance) context.Context {
	return context.WithValue(ctx, resolvedInstanceKey{}, inst)
}

// ResolvedInstanceFromContext retrieves an instance stashed by WithResolvedInstance.
func ResolvedInstanceFromContext(ctx context.Context) (instancedb.Instance, bool) {
	inst, ok := ctx.Value(resolvedInstanceKey{}).(instancedb.Instance)
	return inst, ok
}

// ResolveGroup runs group selection, stashes the result in the returned
// context, and enriches the context logger with the group name so every
// subsequent log line for this request is attributable to a group.
func ResolveGroup(ctx context.Context, sel *selector.Selector, opts selector.Options) (context.Context, instancedb.Group, error) {
	group, err := sel.SelectGroup(opts)
	if err != nil {
		return ctx, instancedb.Group{}, err
	}
	ctx = WithResolvedGroup(ctx, group)
	ctx = logger.AddToContext(ctx, logger.FromContext(ctx).With("group", group.Name))
	return ctx, group, nil
}

// ResolveInstance runs instance selection, stashes both the instance and its
// owning group in the returned context, and enriches the context logger.
func ResolveInstance(ctx context.Context, sel *selector.Selector, opts selector.Options) (context.Context, instancedb.Instance, instancedb.Group, error) {
	inst, group, err := sel.SelectInstance(opts)
	if err != nil {
		return ctx, instancedb.Instance{}, instancedb.Group{}, err
	}
	ctx = WithResolvedGroup(ctx, group)
	ctx = WithResolvedInstance(ctx, inst)
	ctx = logger.AddToContext(ctx, logger.FromContext(ctx).With("group", group.Name, "instance", inst.Name))
	return ctx, inst, group, nil
}
