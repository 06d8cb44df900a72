package inspect

import (
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"log/slog"

	"golang.org/x/tools/go/packages"
)

// Parser finds kiban provider declarations in Go packages.
type Parser struct {
	fset *token.FileSet
	dir  string
}

// NewParser creates a parser that resolves package patterns relative to dir.
func NewParser(dir string) *Parser {
	return &Parser{
		fset: token.NewFileSet(),
		dir:  dir,
	}
}

// Parse loads the packages matching patterns and returns every provider
// declaration they contain, in source order.
func (p *Parser) Parse(patterns ...string) ([]*Declaration, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedTypes | packages.NeedTypesSizes |
			packages.NeedSyntax | packages.NeedTypesInfo,
		Dir:  p.dir,
		Fset: p.fset,
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	if errorCount := packages.PrintErrors(pkgs); errorCount > 0 && len(pkgs) == 0 {
		return nil, errors.New("package loading errors occurred and no packages loaded")
	}

	var decls []*Declaration
	for _, pkg := range pkgs {
		if _, ok := pkg.Imports[kibanPkgPath]; !ok && pkg.PkgPath != kibanPkgPath {
			slog.Debug("kiban package is not imported", "package", pkg.PkgPath)
			continue
		}
		if pkg.TypesInfo == nil {
			slog.Warn("package has no type information", "package", pkg.PkgPath)
			continue
		}

		for _, file := range pkg.Syntax {
			decls = append(decls, p.findDeclarations(file, pkg.TypesInfo)...)
		}
	}

	slog.Debug("parsed declarations", "patterns", patterns, "count", len(decls))

	return decls, nil
}

// findDeclarations finds all kiban provider declarations in the AST.
func (p *Parser) findDeclarations(file *ast.File, info *types.Info) []*Declaration {
	var decls []*Declaration

	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}

		name, ok := kibanFunc(info, call.Fun)
		if !ok {
			return true
		}
		kind, ok := declarationKinds[name]
		if !ok {
			return true
		}

		decl, err := p.parseDeclaration(info, name, call)
		if err != nil {
			slog.Warn("skip declaration", "position", p.fset.Position(call.Pos()), "error", err)
			return true
		}
		if decl.Kind == "" {
			decl.Kind = kind
		}

		decls = append(decls, decl)
		return false
	})

	return decls
}

// parseDeclaration parses one kiban.Service, kiban.Provide, kiban.Value or
// kiban.Bind call.
func (p *Parser) parseDeclaration(info *types.Info, name string, call *ast.CallExpr) (*Declaration, error) {
	decl := &Declaration{Pos: p.fset.Position(call.Pos())}

	switch name {
	case "Value":
		args := typeArgs(info, call.Fun)
		switch {
		case len(args) > 0:
			decl.Provides = args[0]
		case len(call.Args) > 0:
			decl.Provides = info.TypeOf(call.Args[0])
		}
		if decl.Provides == nil {
			return nil, errors.New("kiban.Value: cannot determine value type")
		}
		p.parseOptions(info, decl, call.Args[1:])
		return decl, nil
	case "Bind":
		args := typeArgs(info, call.Fun)
		if len(args) != 2 {
			return nil, errors.New("kiban.Bind requires 2 type arguments")
		}
		decl.Provides = args[0]
		decl.Slots = []*Slot{{Type: args[1]}}
		p.parseOptions(info, decl, call.Args)
		return decl, nil
	}

	if len(call.Args) == 0 {
		return nil, fmt.Errorf("kiban.%s requires a constructor", name)
	}

	fnType := info.TypeOf(call.Args[0])
	if fnType == nil {
		return nil, errors.New("get type of constructor")
	}
	sig, ok := fnType.Underlying().(*types.Signature)
	if !ok {
		return nil, fmt.Errorf("constructor is %s, not a function", fnType)
	}
	if sig.Results().Len() == 0 {
		return nil, errors.New("constructor has no results")
	}

	decl.Provides = sig.Results().At(0).Type()
	decl.Slots = make([]*Slot, 0, sig.Params().Len())
	for i := 0; i < sig.Params().Len(); i++ {
		param := sig.Params().At(i).Type()
		if target, ok := refTarget(param); ok {
			decl.Slots = append(decl.Slots, &Slot{Type: target, Ref: true})
			continue
		}
		decl.Slots = append(decl.Slots, &Slot{Type: param})
	}

	p.parseOptions(info, decl, call.Args[1:])

	return decl, nil
}

// parseOptions applies the statically known ProvideOptions in args to decl.
func (p *Parser) parseOptions(info *types.Info, decl *Declaration, args []ast.Expr) {
	for _, arg := range args {
		call, ok := arg.(*ast.CallExpr)
		if !ok {
			continue
		}
		name, ok := kibanFunc(info, call.Fun)
		if !ok {
			continue
		}

		switch name {
		case "Inject":
			if len(call.Args) != 2 {
				continue
			}
			slot := p.slotAt(info, decl, call.Args[0])
			if slot == nil {
				continue
			}
			dep, ok := call.Args[1].(*ast.CallExpr)
			if !ok {
				slot.Type = nil
				continue
			}
			switch depName, _ := kibanFunc(info, dep.Fun); depName {
			case "ForwardRef":
				slot.Forward = true
			case "Token", "Depends":
				slot.Type = tokenType(info, dep)
			default:
				slot.Type = nil
			}
		case "InjectType":
			if len(call.Args) != 1 {
				continue
			}
			if slot := p.slotAt(info, decl, call.Args[0]); slot != nil {
				if args := typeArgs(info, call.Fun); len(args) == 1 {
					slot.Type = args[0]
				}
			}
		case "AsKind":
			if len(call.Args) == 1 {
				if sel, ok := call.Args[0].(*ast.SelectorExpr); ok {
					decl.Kind = kindConstants[sel.Sel.Name]
				}
			}
		case "WithPath":
			decl.Path = stringArg(info, call)
		case "WithMethod":
			decl.Method = stringArg(info, call)
		case "WithNamespace":
			decl.Namespace = stringArg(info, call)
		}
	}
}

func (p *Parser) slotAt(info *types.Info, decl *Declaration, expr ast.Expr) *Slot {
	tv, ok := info.Types[expr]
	if !ok || tv.Value == nil || tv.Value.Kind() != constant.Int {
		slog.Debug("dynamic slot index", "position", p.fset.Position(expr.Pos()))
		return nil
	}

	index, ok := constant.Int64Val(tv.Value)
	if !ok || index < 0 || int(index) >= len(decl.Slots) {
		slog.Warn("slot index out of range", "position", p.fset.Position(expr.Pos()), "index", tv.Value)
		return nil
	}
	return decl.Slots[index]
}

// kibanFunc returns the name of the kiban package function called by fun.
func kibanFunc(info *types.Info, fun ast.Expr) (string, bool) {
	switch f := fun.(type) {
	case *ast.IndexExpr:
		fun = f.X
	case *ast.IndexListExpr:
		fun = f.X
	}

	sel, ok := fun.(*ast.SelectorExpr)
	if !ok {
		return "", false
	}

	obj, ok := info.Uses[sel.Sel].(*types.Func)
	if !ok || obj.Pkg() == nil || obj.Pkg().Path() != kibanPkgPath {
		return "", false
	}
	if sig, ok := obj.Type().(*types.Signature); ok && sig.Recv() != nil {
		return "", false
	}

	return obj.Name(), true
}

// typeArgs returns the type arguments a generic kiban call was instantiated with.
func typeArgs(info *types.Info, fun ast.Expr) []types.Type {
	var ident *ast.Ident
	switch f := fun.(type) {
	case *ast.IndexExpr:
		if sel, ok := f.X.(*ast.SelectorExpr); ok {
			ident = sel.Sel
		}
	case *ast.IndexListExpr:
		if sel, ok := f.X.(*ast.SelectorExpr); ok {
			ident = sel.Sel
		}
	case *ast.SelectorExpr:
		ident = f.Sel
	}
	if ident == nil {
		return nil
	}

	inst, ok := info.Instances[ident]
	if !ok || inst.TypeArgs == nil {
		return nil
	}

	args := make([]types.Type, 0, inst.TypeArgs.Len())
	for i := 0; i < inst.TypeArgs.Len(); i++ {
		args = append(args, inst.TypeArgs.At(i))
	}
	return args
}

// tokenType returns T for kiban.Token(kiban.TypeOf[T]()).
func tokenType(info *types.Info, call *ast.CallExpr) types.Type {
	if len(call.Args) != 1 {
		return nil
	}
	inner, ok := call.Args[0].(*ast.CallExpr)
	if !ok {
		return nil
	}
	if name, _ := kibanFunc(info, inner.Fun); name != "TypeOf" {
		return nil
	}
	if args := typeArgs(info, inner.Fun); len(args) == 1 {
		return args[0]
	}
	return nil
}

// refTarget returns T when t is kiban.Ref[T].
func refTarget(t types.Type) (types.Type, bool) {
	named, ok := types.Unalias(t).(*types.Named)
	if !ok {
		return nil, false
	}

	obj := named.Obj()
	if obj.Pkg() == nil || obj.Pkg().Path() != kibanPkgPath || obj.Name() != "Ref" {
		return nil, false
	}
	if named.TypeArgs() == nil || named.TypeArgs().Len() != 1 {
		return nil, false
	}
	return named.TypeArgs().At(0), true
}

func stringArg(info *types.Info, call *ast.CallExpr) string {
	if len(call.Args) != 1 {
		return ""
	}
	tv, ok := info.Types[call.Args[0]]
	if !ok || tv.Value == nil || tv.Value.Kind() != constant.String {
		return ""
	}
	return constant.StringVal(tv.Value)
}
