// Package authoritytest provides an in-memory authority and event feeds for
// tests.
package authoritytest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
)

// Call records one authority command.
type Call struct {
	Op    string
	Scene string
	Args  []string
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s)", c.Op, strings.Join(append([]string{c.Scene}, c.Args...), ","))
}

// Authority is an in-memory authority.Authority. Services are stored per
// viewed scene exactly as SceneServices returns them.
type Authority struct {
	mu       sync.Mutex
	services map[string][]authority.Service
	calls    []Call
	failures map[string]error
	hooks    map[string]func()
}

// New creates an empty in-memory authority.
func New() *Authority {
	return &Authority{
		services: make(map[string][]authority.Service),
		failures: make(map[string]error),
		hooks:    make(map[string]func()),
	}
}

// Svc builds a service owned by owner that depends on deps with the default
// condition.
func Svc(id, owner string, deps ...string) authority.Service {
	s := authority.Service{ID: id, OwnerScene: owner, DependsOn: map[string]authority.Dependency{}}
	for _, d := range deps {
		s.DependsOn[d] = authority.Dependency{Condition: authority.DefaultCondition}
	}
	return s
}

// SetServices replaces the services returned for scene.
func (a *Authority) SetServices(scene string, services ...authority.Service) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.services[scene] = append([]authority.Service(nil), services...)
}

// FailOn makes the command op fail with err. With args, only the call with
// exactly those arguments fails.
func (a *Authority) FailOn(op string, err error, args ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[failureKey(op, args)] = err
}

// OnCall runs fn while the command op is in flight, before it returns.
func (a *Authority) OnCall(op string, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks[op] = fn
}

// Calls returns every recorded command in order.
func (a *Authority) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// CallsFor returns the recorded commands named op.
func (a *Authority) CallsFor(op string) []Call {
	var out []Call
	for _, c := range a.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Services returns the current services of scene.
func (a *Authority) Services(scene string) []authority.Service {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneServices(a.services[scene])
}

func failureKey(op string, args []string) string {
	return op + "|" + strings.Join(args, "|")
}

func (a *Authority) record(op, scene string, args ...string) error {
	a.mu.Lock()
	a.calls = append(a.calls, Call{Op: op, Scene: scene, Args: args})
	hook := a.hooks[op]
	err, ok := a.failures[failureKey(op, args)]
	if !ok {
		err = a.failures[failureKey(op, nil)]
	}
	a.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func cloneServices(in []authority.Service) []authority.Service {
	out := make([]authority.Service, 0, len(in))
	for _, s := range in {
		cp := s
		cp.DependsOn = make(map[string]authority.Dependency, len(s.DependsOn))
		for k, v := range s.DependsOn {
			cp.DependsOn[k] = v
		}
		out = append(out, cp)
	}
	return out
}

func (a *Authority) mutate(scene, id string, fn func(*authority.Service) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.services[scene] {
		if a.services[scene][i].ID == id {
			if a.services[scene][i].DependsOn == nil {
				a.services[scene][i].DependsOn = map[string]authority.Dependency{}
			}
			return fn(&a.services[scene][i])
		}
	}
	return fmt.Errorf("cannot find service %s", id)
}

func (a *Authority) SceneServices(_ context.Context, scene string) ([]authority.Service, error) {
	if err := a.record("get_scene_services", scene); err != nil {
		return nil, err
	}
	return a.Services(scene), nil
}

func (a *Authority) CreateDependency(_ context.Context, scene, source, target string) error {
	if err := a.record("create_dependency", scene, source, target); err != nil {
		return err
	}
	return a.mutate(scene, target, func(s *authority.Service) error {
		if _, ok := s.DependsOn[source]; ok {
			return fmt.Errorf("service %s already depends on %s", target, source)
		}
		s.DependsOn[source] = authority.Dependency{Condition: authority.DefaultCondition}
		return nil
	})
}

func (a *Authority) DeleteDependency(_ context.Context, scene, source, target string) error {
	if err := a.record("delete_dependency", scene, source, target); err != nil {
		return err
	}
	return a.mutate(scene, target, func(s *authority.Service) error {
		delete(s.DependsOn, source)
		return nil
	})
}

func (a *Authority) SetDependencyCondition(_ context.Context, scene, source, target string, condition authority.Condition) error {
	if err := a.record("set_dependency_condition", scene, source, target, string(condition)); err != nil {
		return err
	}
	return a.mutate(scene, target, func(s *authority.Service) error {
		if _, ok := s.DependsOn[source]; !ok {
			return errors.New("dependency not found")
		}
		s.DependsOn[source] = authority.Dependency{Condition: condition}
		return nil
	})
}

func (a *Authority) DeleteService(_ context.Context, scene, serviceID string) error {
	if err := a.record("delete_service", scene, serviceID); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.services[scene][:0]
	for _, s := range a.services[scene] {
		if s.ID != serviceID {
			kept = append(kept, s)
		}
	}
	a.services[scene] = kept
	return nil
}

func (a *Authority) StartScene(_ context.Context, scene string) error {
	return a.record("run_scene", scene)
}

func (a *Authority) StopScene(_ context.Context, scene string) error {
	return a.record("stop_scene", scene)
}

func (a *Authority) StartService(_ context.Context, scene, serviceID string) error {
	return a.record("run_service", scene, serviceID)
}

func (a *Authority) StopService(_ context.Context, scene, serviceID string) error {
	return a.record("stop_service", scene, serviceID)
}

func (a *Authority) StartStatusEmission(_ context.Context, scene string) error {
	return a.record("start_emitting_scene_status", scene)
}

func (a *Authority) StopStatusEmission(_ context.Context, scene string) error {
	return a.record("stop_emitting_scene_status", scene)
}

func (a *Authority) StartLogEmission(_ context.Context, scene, serviceID string) error {
	return a.record("start_emitting_service_logs", scene, serviceID)
}

func (a *Authority) StopLogEmission(_ context.Context, scene, serviceID string) error {
	return a.record("stop_emitting_service_logs", scene, serviceID)
}

// Feed is an in-memory StatusFeed and LogFeed. Publish calls handlers
// synchronously on the caller's goroutine.
type Feed struct {
	mu        sync.Mutex
	nextID    int
	status    map[authority.Key]map[int]func(authority.StatusEvent)
	logs      map[authority.Key]map[int]func(authority.LogEvent)
	failures  map[authority.Key]error
	subscribe []authority.Key
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		status:   make(map[authority.Key]map[int]func(authority.StatusEvent)),
		logs:     make(map[authority.Key]map[int]func(authority.LogEvent)),
		failures: make(map[authority.Key]error),
	}
}

// FailSubscribe makes subscriptions for key fail with err.
func (f *Feed) FailSubscribe(key authority.Key, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = err
}

type subscription struct {
	once sync.Once
	fn   func()
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(s.fn)
	return nil
}

func (f *Feed) SubscribeStatus(key authority.Key, handler func(authority.StatusEvent)) (authority.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[key]; err != nil {
		return nil, err
	}
	f.subscribe = append(f.subscribe, key)
	f.nextID++
	id := f.nextID
	if f.status[key] == nil {
		f.status[key] = make(map[int]func(authority.StatusEvent))
	}
	f.status[key][id] = handler
	return &subscription{fn: func() {
		f.mu.Lock()
		delete(f.status[key], id)
		f.mu.Unlock()
	}}, nil
}

func (f *Feed) SubscribeLogs(key authority.Key, handler func(authority.LogEvent)) (authority.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[key]; err != nil {
		return nil, err
	}
	f.nextID++
	id := f.nextID
	if f.logs[key] == nil {
		f.logs[key] = make(map[int]func(authority.LogEvent))
	}
	f.logs[key][id] = handler
	return &subscription{fn: func() {
		f.mu.Lock()
		delete(f.logs[key], id)
		f.mu.Unlock()
	}}, nil
}

// PublishStatus delivers ev to every live status subscriber of key.
func (f *Feed) PublishStatus(key authority.Key, ev authority.StatusEvent) {
	f.mu.Lock()
	handlers := make([]func(authority.StatusEvent), 0, len(f.status[key]))
	for _, id := range sortedIDs(f.status[key]) {
		handlers = append(handlers, f.status[key][id])
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// PublishLog delivers ev to every live log subscriber of key.
func (f *Feed) PublishLog(key authority.Key, ev authority.LogEvent) {
	f.mu.Lock()
	handlers := make([]func(authority.LogEvent), 0, len(f.logs[key]))
	for _, h := range f.logs[key] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// StatusSubscribers returns how many live status subscriptions key has.
func (f *Feed) StatusSubscribers(key authority.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.status[key])
}

// LogSubscribers returns how many live log subscriptions key has.
func (f *Feed) LogSubscribers(key authority.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs[key])
}

// SubscribeCount returns how many status subscriptions were ever opened for key.
func (f *Feed) SubscribeCount(key authority.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.subscribe {
		if k == key {
			n++
		}
	}
	return n
}

func sortedIDs[T any](m map[int]T) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
