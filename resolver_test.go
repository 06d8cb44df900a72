package kiban

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type (
	testLogger  struct{ name string }
	testConfig  struct{ dsn string }
	userService struct {
		cfg *testConfig
		log *testLogger
	}
)

func newTestLogger() *testLogger { return &testLogger{name: "test"} }
func newTestConfig() *testConfig { return &testConfig{dsn: "postgres://localhost"} }
func newUserService(cfg *testConfig, log *testLogger) *userService {
	return &userService{cfg: cfg, log: log}
}

func TestResolve_SingletonIdempotence(t *testing.T) {
	t.Parallel()

	k := New()
	if err := k.Provide(Service(newTestLogger)); err != nil {
		t.Fatalf("Provide() error = %v", err)
	}

	first, err := Resolve[*testLogger](k)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := Resolve[*testLogger](k)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if first != second {
		t.Errorf("Resolve() returned %p then %p, want the same instance", first, second)
	}
}

func TestResolve_UserServiceScenario(t *testing.T) {
	t.Parallel()

	k := New()
	err := k.Provide(
		Service(newTestLogger),
		Service(newTestConfig),
		Service(newUserService),
	)
	if err != nil {
		t.Fatalf("Provide() error = %v", err)
	}

	svc1 := MustResolve[*userService](k)
	svc2 := MustResolve[*userService](k)
	if svc1 != svc2 {
		t.Error("UserService resolved twice returned different instances")
	}

	cfg := MustResolve[*testConfig](k)
	if svc1.cfg != cfg {
		t.Error("UserService.cfg is not the resolved Config singleton")
	}
	if svc1.log != MustResolve[*testLogger](k) {
		t.Error("UserService.log is not the resolved Logger singleton")
	}
}

func TestResolve_Unregistered(t *testing.T) {
	t.Parallel()

	type missing struct{}
	type holder struct{}

	tests := []struct {
		setup   func(k *Kernel)
		name    string
		want    Identity
		resolve Identity
	}{
		{
			name:    "direct",
			setup:   func(*Kernel) {},
			resolve: TypeOf[*missing](),
			want:    TypeOf[*missing](),
		},
		{
			name: "dependency",
			setup: func(k *Kernel) {
				_ = k.Provide(Service(func(*missing) *holder { return &holder{} }))
			},
			resolve: TypeOf[*holder](),
			want:    TypeOf[*missing](),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			k := New()
			tt.setup(k)

			got, err := k.Resolve(tt.resolve)
			if got != nil {
				t.Errorf("Resolve() = %v, want nil", got)
			}
			if !errors.Is(err, ErrUnregisteredDependency) {
				t.Fatalf("Resolve() error = %v, want ErrUnregisteredDependency", err)
			}

			var unregistered *UnregisteredDependencyError
			if !errors.As(err, &unregistered) {
				t.Fatalf("Resolve() error = %T, want *UnregisteredDependencyError", err)
			}
			if unregistered.Identity != tt.want {
				t.Errorf("missing identity = %s, want %s", unregistered.Identity, tt.want)
			}
		})
	}
}

type (
	cycleA struct{ b Ref[*cycleB] }
	cycleB struct{ a Ref[*cycleA] }
)

func TestResolve_TwoPartyCycle(t *testing.T) {
	t.Parallel()

	k := New()
	err := k.Provide(
		Service(func(b Ref[*cycleB]) *cycleA { return &cycleA{b: b} }),
		Service(func(a Ref[*cycleA]) *cycleB { return &cycleB{a: a} }),
	)
	if err != nil {
		t.Fatalf("Provide() error = %v", err)
	}

	a, err := Resolve[*cycleA](k)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if a.b.Materialized() {
		t.Error("dependency on B was materialized before first use")
	}

	b, err := a.b.Get()
	if err != nil {
		t.Fatalf("a.b.Get() error = %v", err)
	}
	if b != MustResolve[*cycleB](k) {
		t.Error("a.b is not the B singleton")
	}

	back, err := b.a.Get()
	if err != nil {
		t.Fatalf("b.a.Get() error = %v", err)
	}
	if back != a {
		t.Error("b.a is not the A instance that holds b")
	}
}

type (
	eagerA struct{ b *eagerB }
	eagerB struct{ a Ref[*eagerA] }
)

func TestResolve_TwoPartyCycleUsedDuringConstruction(t *testing.T) {
	t.Parallel()

	k := New()
	err := k.Provide(
		Service(func(b Ref[*eagerB]) (*eagerA, error) {
			dep, err := b.Get()
			if err != nil {
				return nil, err
			}
			return &eagerA{b: dep}, nil
		}),
		Service(func(a Ref[*eagerA]) *eagerB { return &eagerB{a: a} }),
	)
	if err != nil {
		t.Fatalf("Provide() error = %v", err)
	}

	a, err := Resolve[*eagerA](k)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if a.b != MustResolve[*eagerB](k) {
		t.Error("a.b is not the B singleton")
	}
	if got := a.b.a.MustGet(); got != a {
		t.Error("b.a is not the A singleton")
	}
}

type (
	plainA struct{ b *plainB }
	plainB struct{ a *plainA }
)

func TestResolve_CycleIntoPlainParameter(t *testing.T) {
	t.Parallel()

	k := New()
	_ = k.Provide(
		Service(func(b *plainB) *plainA { return &plainA{b: b} }),
		Service(func(a *plainA) *plainB { return &plainB{a: a} }),
	)

	_, err := Resolve[*plainA](k)
	if !errors.Is(err, ErrDeferredSlot) {
		t.Fatalf("Resolve() error = %v, want ErrDeferredSlot", err)
	}
	if !errors.Is(err, ErrConstruction) {
		t.Errorf("Resolve() error = %v, want ErrConstruction", err)
	}
}

type (
	earlyService struct{ later Ref[*laterService] }
	laterService struct{ id int }
)

func TestResolve_ForwardRefBeforeRegistration(t *testing.T) {
	t.Parallel()

	var thunkCalls atomic.Int32
	k := New()
	err := k.Provide(Service(
		func(l Ref[*laterService]) *earlyService { return &earlyService{later: l} },
		Inject(0, ForwardRef(func() Identity {
			thunkCalls.Add(1)
			return TypeOf[*laterService]()
		})),
	))
	if err != nil {
		t.Fatalf("Provide() error = %v", err)
	}

	early, err := Resolve[*earlyService](k)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if n := thunkCalls.Load(); n != 0 {
		t.Errorf("thunk called %d times during resolution, want 0", n)
	}

	if _, err := early.later.Get(); !errors.Is(err, ErrUnregisteredDependency) {
		t.Fatalf("Get() before registration error = %v, want ErrUnregisteredDependency", err)
	} else if !errors.Is(err, ErrLazyFactory) {
		t.Errorf("Get() before registration error = %v, want ErrLazyFactory", err)
	}

	if err := k.Provide(Service(func() *laterService { return &laterService{id: 7} })); err != nil {
		t.Fatalf("Provide() error = %v", err)
	}

	later, err := early.later.Get()
	if err != nil {
		t.Fatalf("Get() after registration error = %v", err)
	}
	if later != MustResolve[*laterService](k) {
		t.Error("forward reference did not materialize the singleton")
	}
	if n := thunkCalls.Load(); n != 2 {
		t.Errorf("thunk called %d times, want 2 (one failed and one successful access)", n)
	}
}

type (
	deepA struct{ b *deepB }
	deepB struct{ c *deepC }
	deepC struct{ a *deepA }
)

func TestResolve_DeepCycleFails(t *testing.T) {
	t.Parallel()

	k := New()
	_ = k.Provide(
		Service(func(b *deepB) *deepA { return &deepA{b: b} }),
		Service(func(c *deepC) *deepB { return &deepB{c: c} }),
		Service(func(a *deepA) *deepC { return &deepC{a: a} }),
	)

	for attempt := range 2 {
		_, err := Resolve[*deepA](k)
		if !errors.Is(err, ErrCircularDependency) {
			t.Fatalf("attempt %d: Resolve() error = %v, want ErrCircularDependency", attempt, err)
		}

		var cycle *CircularDependencyError
		if !errors.As(err, &cycle) {
			t.Fatalf("attempt %d: Resolve() error = %T, want *CircularDependencyError", attempt, err)
		}

		want := []Identity{TypeOf[*deepA](), TypeOf[*deepB](), TypeOf[*deepC](), TypeOf[*deepA]()}
		if !slices.Equal(cycle.Path, want) {
			t.Errorf("attempt %d: cycle path = %v, want %v", attempt, cycle.Path, want)
		}
	}
}

type (
	racingA struct{ b *racingB }
	racingB struct{ c *racingC }
	racingC struct{ a *racingA }
)

func TestResolve_ConcurrentDeepCycle(t *testing.T) {
	t.Parallel()

	type (
		leafA struct{ n int }
		leafB struct{ n int }
		leafC struct{ n int }
	)
	slow := func() { time.Sleep(20 * time.Millisecond) }

	k := New()
	_ = k.Provide(
		Service(func() *leafA { slow(); return &leafA{} }),
		Service(func() *leafB { slow(); return &leafB{} }),
		Service(func() *leafC { slow(); return &leafC{} }),
		Service(func(_ *leafA, b *racingB) *racingA { return &racingA{b: b} }),
		Service(func(_ *leafB, c *racingC) *racingB { return &racingB{c: c} }),
		Service(func(_ *leafC, a *racingA) *racingC { return &racingC{a: a} }),
	)

	ids := []Identity{TypeOf[*racingA](), TypeOf[*racingB](), TypeOf[*racingC]()}
	errs := make([]error, len(ids))

	done := make(chan struct{})
	go func() {
		defer close(done)

		var wg sync.WaitGroup
		for i, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = k.Resolve(id)
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent Resolve of a deep cycle did not return")
	}

	for i, err := range errs {
		if !errors.Is(err, ErrCircularDependency) {
			t.Errorf("Resolve(%s) error = %v, want ErrCircularDependency", ids[i], err)
		}
	}

	// nothing is left in flight: a later call reports the cycle again
	k.mu.Lock()
	building := len(k.building)
	k.mu.Unlock()
	if building != 0 {
		t.Errorf("%d singletons still marked as in flight", building)
	}

	_, err := Resolve[*racingA](k)
	var cycle *CircularDependencyError
	if !errors.As(err, &cycle) {
		t.Fatalf("Resolve() error = %v, want *CircularDependencyError", err)
	}
	want := []Identity{TypeOf[*racingA](), TypeOf[*racingB](), TypeOf[*racingC](), TypeOf[*racingA]()}
	if !slices.Equal(cycle.Path, want) {
		t.Errorf("cycle path = %v, want %v", cycle.Path, want)
	}
}

type (
	spawnA struct{ b Ref[*spawnB] }
	spawnB struct{ a Ref[*spawnA] }
	spawnX struct {
		a *spawnA
		y *spawnY
	}
	spawnY struct{}
)

func TestResolve_RefTouchedByConstructorGoroutine(t *testing.T) {
	t.Parallel()

	type touched struct {
		b   *spawnB
		err error
	}
	results := make(chan touched, 1)

	k := New()
	_ = k.Provide(
		Service(func(a *spawnA, y *spawnY) *spawnX { return &spawnX{a: a, y: y} }),
		Service(func(b Ref[*spawnB]) *spawnA {
			go func() {
				v, err := b.Get()
				results <- touched{b: v, err: err}
			}()
			return &spawnA{b: b}
		}),
		Service(func(a Ref[*spawnA]) *spawnB { return &spawnB{a: a} }),
		Service(func() *spawnY {
			time.Sleep(20 * time.Millisecond)
			return &spawnY{}
		}),
	)

	x, err := Resolve[*spawnX](k)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	var got touched
	select {
	case got = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("background Get did not return")
	}

	if got.err != nil {
		t.Fatalf("background Get() error = %v", got.err)
	}
	if got.b != MustResolve[*spawnB](k) {
		t.Error("background Get returned a different B")
	}
	if a := got.b.a.MustGet(); a != x.a {
		t.Error("b.a is not the A singleton")
	}
}

func TestResolve_RefTouchedByLaterConstructor(t *testing.T) {
	t.Parallel()

	type consumer struct{ b *cycleB }

	k := New()
	_ = k.Provide(
		Service(func(b Ref[*cycleB]) *cycleA { return &cycleA{b: b} }),
		Service(func(a Ref[*cycleA]) *cycleB { return &cycleB{a: a} }),
	)
	a := MustResolve[*cycleA](k)

	_ = k.Provide(Service(func() (*consumer, error) {
		b, err := a.b.Get()
		return &consumer{b: b}, err
	}))

	done := make(chan error, 1)
	go func() {
		_, err := Resolve[*consumer](k)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not return")
	}
}

type (
	fwdA struct{ b *fwdB }
	fwdB struct{ c *fwdC }
	fwdC struct{ a Ref[*fwdA] }
)

func TestResolve_DeepCycleBrokenByForwardRef(t *testing.T) {
	t.Parallel()

	k := New()
	err := k.Provide(
		Service(func(b *fwdB) *fwdA { return &fwdA{b: b} }),
		Service(func(c *fwdC) *fwdB { return &fwdB{c: c} }),
		Service(
			func(a Ref[*fwdA]) *fwdC { return &fwdC{a: a} },
			Inject(0, ForwardRef(func() Identity { return TypeOf[*fwdA]() })),
		),
	)
	if err != nil {
		t.Fatalf("Provide() error = %v", err)
	}

	a, err := Resolve[*fwdA](k)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := a.b.c.a.MustGet(); got != a {
		t.Error("c.a is not the A singleton")
	}
}

func TestResolve_TransientScope(t *testing.T) {
	t.Parallel()

	type request struct{ n int32 }

	var built atomic.Int32
	k := New()
	_ = k.Provide(Service(func() *request {
		return &request{n: built.Add(1)}
	}, WithScope(ScopeTransient)))

	first := MustResolve[*request](k)
	second := MustResolve[*request](k)

	if first == second {
		t.Error("transient registration returned the same instance twice")
	}
	if n := built.Load(); n != 2 {
		t.Errorf("constructor called %d times, want 2", n)
	}
}

func TestResolve_ConstructorError(t *testing.T) {
	t.Parallel()

	type broken struct{}
	errBoom := errors.New("boom")

	k := New()
	_ = k.Provide(Service(func() (*broken, error) { return nil, errBoom }))

	_, err := Resolve[*broken](k)
	if !errors.Is(err, errBoom) {
		t.Errorf("Resolve() error = %v, want %v", err, errBoom)
	}

	var construction *ConstructionError
	if !errors.As(err, &construction) {
		t.Fatalf("Resolve() error = %T, want *ConstructionError", err)
	}
	if construction.Identity != TypeOf[*broken]() {
		t.Errorf("ConstructionError.Identity = %s", construction.Identity)
	}
}

func TestResolve_ConcurrentFirstAccess(t *testing.T) {
	t.Parallel()

	type slow struct{}

	var built atomic.Int32
	k := New()
	_ = k.Provide(Service(func() *slow {
		built.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &slow{}
	}))

	const workers = 32
	results := make([]*slow, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = MustResolve[*slow](k)
		}()
	}
	wg.Wait()

	if n := built.Load(); n != 1 {
		t.Errorf("constructor called %d times, want 1", n)
	}
	for i, got := range results {
		if got != results[0] {
			t.Errorf("worker %d got a different instance", i)
		}
	}
}

type (
	greeter interface{ Greet() string }
	english struct{}
	welcome struct{ g greeter }
)

func (english) Greet() string { return "hello" }

func TestResolve_Bind(t *testing.T) {
	t.Parallel()

	k := New()
	err := k.Provide(
		Service(func() *english { return &english{} }),
		Bind[greeter, *english](),
		Service(func(g greeter) *welcome { return &welcome{g: g} }),
	)
	if err != nil {
		t.Fatalf("Provide() error = %v", err)
	}

	w := MustResolve[*welcome](k)
	if w.g.Greet() != "hello" {
		t.Errorf("Greet() = %q", w.g.Greet())
	}
	if w.g != greeter(MustResolve[*english](k)) {
		t.Error("bound interface is not the implementation singleton")
	}
}

func TestResolve_NameCollision(t *testing.T) {
	t.Parallel()

	first := func() Provider {
		type widget struct{ from string }
		return Value(&widget{from: "first"})
	}()
	second := func() Provider {
		type widget struct{ from string }
		return Value(&widget{from: "second"})
	}()

	if first.Identity() == second.Identity() {
		t.Fatal("types with the same name share an identity")
	}

	k := New()
	_ = k.Provide(first, second)
	if n := len(k.All()); n != 2 {
		t.Fatalf("All() has %d identities, want 2", n)
	}

	a, _ := k.Resolve(first.Identity())
	b, _ := k.Resolve(second.Identity())
	if a == b {
		t.Error("distinct identities resolved to the same instance")
	}
}

type recordingObserver struct {
	NopObserver
	mu           sync.Mutex
	deferred     []int
	constructed  []Identity
	materialized []Identity
}

func (o *recordingObserver) Deferred(_ Identity, slot int, _ bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deferred = append(o.deferred, slot)
}

func (o *recordingObserver) Constructed(id Identity, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.constructed = append(o.constructed, id)
}

func (o *recordingObserver) Materialized(id Identity, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.materialized = append(o.materialized, id)
}

func TestResolve_Observer(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	k := New(WithObserver(obs))
	_ = k.Provide(
		Service(func(b Ref[*cycleB]) *cycleA { return &cycleA{b: b} }),
		Service(func(a Ref[*cycleA]) *cycleB { return &cycleB{a: a} }),
	)

	a := MustResolve[*cycleA](k)
	a.b.MustGet()

	wantConstructed := []Identity{TypeOf[*cycleA](), TypeOf[*cycleB]()}
	if !slices.Equal(obs.constructed, wantConstructed) {
		t.Errorf("constructed = %v, want %v", obs.constructed, wantConstructed)
	}
	if len(obs.deferred) != 2 {
		t.Errorf("deferred %d slots, want 2", len(obs.deferred))
	}
	if !slices.Equal(obs.materialized, []Identity{TypeOf[*cycleB]()}) {
		t.Errorf("materialized = %v", obs.materialized)
	}
}

func TestKernel_ResolveAll(t *testing.T) {
	t.Parallel()

	k := New()
	_ = k.Provide(
		Service(newTestLogger),
		Service(newTestConfig),
		Handler(newUserService, WithPath("/users")),
	)

	if err := k.ResolveAll(); err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}

	handlers := k.AllOfKind(KindRequestHandler)
	if !slices.Equal(handlers, []Identity{TypeOf[*userService]()}) {
		t.Errorf("AllOfKind(RequestHandler) = %v", handlers)
	}

	type orphan struct{}
	_ = k.Provide(Service(func(*deepA) *orphan { return &orphan{} }))
	if err := k.ResolveAll(); !errors.Is(err, ErrUnregisteredDependency) {
		t.Errorf("ResolveAll() error = %v, want ErrUnregisteredDependency", err)
	}
}

func TestKernel_Graph(t *testing.T) {
	t.Parallel()

	k := New()
	_ = k.Provide(
		Service(newUserService),
		Service(
			func(l Ref[*laterService]) *earlyService { return &earlyService{later: l} },
			Inject(0, ForwardRef(func() Identity { return TypeOf[*laterService]() })),
		),
	)

	want := []Edge{
		{From: TypeOf[*userService](), To: TypeOf[*testConfig](), Slot: 0},
		{From: TypeOf[*userService](), To: TypeOf[*testLogger](), Slot: 1},
		{From: TypeOf[*earlyService](), Slot: 0, Forward: true},
	}
	if got := k.Graph(); !slices.Equal(got, want) {
		t.Errorf("Graph() = %v, want %v", got, want)
	}
}
