package cyclic

import "github.com/mazrean/kiban"

type (
	A       struct{ b *B }
	B       struct{ c *C }
	C       struct{ a *A }
	D       struct{ e *E }
	E       struct{ d *D }
	Orphan  struct{}
	Reports struct{ o *Orphan }
)

func NewA(b *B) *A { return &A{b: b} }

func NewB(c *C) *B { return &B{c: c} }

func NewC(a *A) *C { return &C{a: a} }

func NewD(e *E) *D { return &D{e: e} }

func NewE(d *D) *E { return &E{d: d} }

func NewReports(o *Orphan) *Reports { return &Reports{o: o} }

func Register(k *kiban.Kernel) error {
	return k.Provide(
		kiban.Service(NewA),
		kiban.Service(NewB),
		kiban.Service(NewC),
		kiban.Service(NewD),
		kiban.Service(NewE),
		kiban.Service(NewReports),
	)
}
