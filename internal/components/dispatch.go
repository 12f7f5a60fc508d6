package components

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/lerndmina/Heimdall-sub000/internal/platform"
)

// Dispatch routes a component interaction to its handler. It reports false
// when the id is unknown or expired, after sending the expired reply.
// Handler failures are answered and logged here and do not surface as errors.
func (r *Registry) Dispatch(ctx context.Context, in *platform.Interaction) (bool, error) {
	if in == nil || in.CustomID == "" {
		return false, nil
	}
	id := in.CustomID

	if b, ok := r.liveEphemeral(ctx, id); ok {
		r.invoke(ctx, in, b)
		return true, nil
	}

	rec, found, err := r.lookupPersistent(ctx, id)
	if err != nil {
		return false, err
	}
	if found {
		if b, ok := r.resolveHandler(rec.HandlerID); ok {
			in.ComponentMetadata = rec.Metadata
			r.invoke(ctx, in, b)
			return true, nil
		}
		r.logger.Printf("[Components] component %s refers to unknown handler %q", id, rec.HandlerID)
	} else if b, ok := r.resolveHandler(id); ok {
		r.invoke(ctx, in, b)
		return true, nil
	}

	r.replyExpired(ctx, in)
	return false, nil
}

// liveEphemeral requires both the in-memory entry and the expiry marker.
func (r *Registry) liveEphemeral(ctx context.Context, id string) (binding, bool) {
	r.mu.RLock()
	entry, ok := r.ephemeral[id]
	r.mu.RUnlock()
	if !ok {
		return binding{}, false
	}
	if r.kv != nil {
		live, err := r.kv.Exists(ctx, markerKey(id))
		if err != nil {
			r.logger.Printf("[Components] check expiry marker for %s: %v", id, err)
			return binding{}, false
		}
		if !live {
			r.expire(id)
			return binding{}, false
		}
	}
	return entry.binding, true
}

func (r *Registry) lookupPersistent(ctx context.Context, id string) (Record, bool, error) {
	r.mu.RLock()
	rec, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return rec, true, nil
	}
	if r.store == nil {
		return Record{}, false, nil
	}

	rec, ok, err := r.store.GetComponent(ctx, id)
	if err != nil {
		return Record{}, false, fmt.Errorf("components: lookup %s: %w", id, err)
	}
	if !ok {
		return Record{}, false, nil
	}
	r.mu.Lock()
	r.cache[id] = rec
	r.mu.Unlock()
	return rec, true, nil
}

// resolveHandler finds name among registered handlers, falling back to the
// un-suffixed name wrapped to understand the deselect sentinel.
func (r *Registry) resolveHandler(name string) (binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if b, ok := r.handlers[name]; ok {
		return b, true
	}
	base, ok := strings.CutSuffix(name, ClearableSuffix)
	if !ok || base == "" {
		return binding{}, false
	}
	b, ok := r.handlers[base]
	if !ok {
		return binding{}, false
	}
	inner := b.handler
	b.name = name
	b.handler = HandlerFunc(func(ctx context.Context, in *platform.Interaction) error {
		in.Values = stripDeselect(in.Values)
		return inner.HandleComponent(ctx, in)
	})
	return b, true
}

// stripDeselect removes the sentinel; a selection consisting only of the
// sentinel becomes an empty selection.
func stripDeselect(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != DeselectValue {
			out = append(out, v)
		}
	}
	return out
}

func (r *Registry) invoke(ctx context.Context, in *platform.Interaction, b binding) {
	if b.permission != "" && !r.permitted(ctx, in, b.permission) {
		if err := in.Reply(ctx, platform.Response{Content: ForbiddenMessage, Ephemeral: true}); err != nil {
			r.logger.Printf("[Components] reply forbidden for %s: %v", in.CustomID, err)
		}
		return
	}

	if err := r.call(ctx, in, b); err != nil {
		r.logger.Printf("[Components] handler %s failed for %s: %v", b.name, in.CustomID, err)
		if rerr := in.Reply(ctx, platform.Response{Content: FailureMessage, Ephemeral: true}); rerr != nil {
			r.logger.Printf("[Components] reply failure for %s: %v", in.CustomID, rerr)
		}
	}
}

func (r *Registry) call(ctx context.Context, in *platform.Interaction, b binding) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return b.handler.HandleComponent(ctx, in)
}

func (r *Registry) permitted(ctx context.Context, in *platform.Interaction, key string) bool {
	if r.checker == nil || in.Member == nil {
		return false
	}
	ok, err := r.checker.Can(ctx, *in.Member, key)
	if err != nil {
		r.logger.Printf("[Components] permission check %s for %s: %v", key, in.User.ID, err)
		return false
	}
	return ok
}

// replyExpired never touches the original message inside guilds; in direct
// messages it replaces the message and removes its components.
func (r *Registry) replyExpired(ctx context.Context, in *platform.Interaction) {
	var err error
	if in.InGuild() {
		err = in.Reply(ctx, platform.Response{Content: ExpiredMessage, Ephemeral: true})
	} else {
		err = in.Update(ctx, platform.Response{Content: ExpiredMessage, ClearComponents: true})
	}
	if err != nil {
		r.logger.Printf("[Components] reply expired for %s: %v", in.CustomID, err)
	}
}
