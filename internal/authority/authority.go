package authority

import "context"

// Definitions is the part of the authority that owns service definitions
// and the persisted dependency topology.
type Definitions interface {
	SceneServices(ctx context.Context, scene string) ([]Service, error)
	CreateDependency(ctx context.Context, scene, source, target string) error
	DeleteDependency(ctx context.Context, scene, source, target string) error
	SetDependencyCondition(ctx context.Context, scene, source, target string, condition Condition) error
	DeleteService(ctx context.Context, scene, serviceID string) error
}

// Runtime is the part of the authority that owns process lifecycle and
// event emission.
type Runtime interface {
	StartScene(ctx context.Context, scene string) error
	StopScene(ctx context.Context, scene string) error
	StartService(ctx context.Context, scene, serviceID string) error
	StopService(ctx context.Context, scene, serviceID string) error
	StartStatusEmission(ctx context.Context, scene string) error
	StopStatusEmission(ctx context.Context, scene string) error
	StartLogEmission(ctx context.Context, scene, serviceID string) error
	StopLogEmission(ctx context.Context, scene, serviceID string) error
}

// Authority is the full command surface used by a scene session.
type Authority interface {
	Definitions
	Runtime
}

// Catalog covers scene and service CRUD used by the scene list and the
// service editors.
type Catalog interface {
	Scenes(ctx context.Context) ([]Scene, error)
	CreateScene(ctx context.Context, scene string) error
	DeleteScene(ctx context.Context, scene string) error
	IncludedScenes(ctx context.Context, scene string) ([]Scene, error)
	ImportScene(ctx context.Context, scene, imported string) error
	DetachScene(ctx context.Context, scene, detached string) error
	Service(ctx context.Context, scene, serviceID string) (string, error)
	CreateService(ctx context.Context, scene, serviceID, payload string) error
	UpdateService(ctx context.Context, scene, previousID, serviceID, payload string) error
}

// Subscription is a live event subscription.
type Subscription interface {
	Unsubscribe() error
}

// StatusFeed delivers status events for one (scene, service).
type StatusFeed interface {
	SubscribeStatus(key Key, handler func(StatusEvent)) (Subscription, error)
}

// LogFeed delivers log events for one (scene, service).
type LogFeed interface {
	SubscribeLogs(key Key, handler func(LogEvent)) (Subscription, error)
}

// Composite joins a Definitions and a Runtime into one Authority.
type Composite struct {
	Definitions
	Runtime
}

// NewComposite returns an Authority backed by d for definitions and r for
// process lifecycle.
func NewComposite(d Definitions, r Runtime) *Composite {
	return &Composite{Definitions: d, Runtime: r}
}
