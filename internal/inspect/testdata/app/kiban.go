package app

import "github.com/mazrean/kiban"

type (
	Config  struct{ DSN string }
	Logger  struct{ cfg *Config }
	Users   struct{ log *Logger }
	Orders  struct{ billing kiban.Ref[*Billing] }
	Billing struct{ orders kiban.Ref[*Orders] }
	Audit   struct{ users kiban.Ref[*Users] }
	English struct{}
)

type Greeter interface {
	Greet() string
}

func (English) Greet() string { return "hello" }

func NewLogger(cfg *Config) *Logger { return &Logger{cfg: cfg} }

func NewUsers(_ *Config, log *Logger) (*Users, error) { return &Users{log: log}, nil }

func NewOrders(b kiban.Ref[*Billing]) *Orders { return &Orders{billing: b} }

func NewBilling(o kiban.Ref[*Orders]) *Billing { return &Billing{orders: o} }

func NewAudit(u kiban.Ref[*Users]) *Audit { return &Audit{users: u} }

func Providers() []kiban.Provider {
	return []kiban.Provider{
		kiban.Value(&Config{DSN: "postgres://localhost/app"}),
		kiban.Service(NewLogger),
		kiban.Handler(NewUsers, kiban.WithPath("/users"), kiban.WithMethod("GET")),
		kiban.Service(NewOrders),
		kiban.Service(NewBilling),
		kiban.Bind[Greeter, English](),
		kiban.Component(func() English { return English{} }),
		kiban.Service(NewAudit, kiban.Inject(0, kiban.ForwardRef(func() kiban.Identity {
			return kiban.TypeOf[*Users]()
		}))),
	}
}
